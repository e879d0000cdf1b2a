package record

import (
	"slices"
	"strings"
	"time"
)

// TaskStatus はタスク一覧の完了状態フィルタ。
type TaskStatus string

// 完了状態フィルタ
const (
	StatusAll       TaskStatus = "all"
	StatusCompleted TaskStatus = "completed"
	StatusPending   TaskStatus = "pending"
)

// filterAll は絞り込みなしを表す。
const filterAll = "all"

// TaskFilter はタスク一覧の絞り込み条件。
type TaskFilter struct {
	Search   string
	Status   TaskStatus
	Priority string
}

// NewTaskFilter はクエリ文字列の値から絞り込み条件を作る。
// 不明な値は絞り込みなしとして扱う。
func NewTaskFilter(search, status, priority string) TaskFilter {
	f := TaskFilter{Search: strings.TrimSpace(search), Status: StatusAll, Priority: filterAll}
	switch TaskStatus(status) {
	case StatusCompleted, StatusPending:
		f.Status = TaskStatus(status)
	}
	if Priority(priority).Valid() {
		f.Priority = priority
	}
	return f
}

// Apply は条件に一致するタスクを元の順序のまま返す。
func (f TaskFilter) Apply(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Search != "" && !containsFold(t.Title, f.Search) && !containsFold(t.Description, f.Search) {
			continue
		}
		switch f.Status {
		case StatusCompleted:
			if !t.Completed {
				continue
			}
		case StatusPending:
			if t.Completed {
				continue
			}
		}
		if f.Priority != "" && f.Priority != filterAll && string(t.Priority) != f.Priority {
			continue
		}
		out = append(out, t)
	}
	return out
}

// EntryFilter は日記一覧の絞り込み条件。
type EntryFilter struct {
	Search string
	Mood   string
}

// NewEntryFilter はクエリ文字列の値から絞り込み条件を作る。
func NewEntryFilter(search, mood string) EntryFilter {
	f := EntryFilter{Search: strings.TrimSpace(search), Mood: filterAll}
	if mood != "" && mood != filterAll {
		f.Mood = mood
	}
	return f
}

// Apply は条件に一致するエントリを元の順序のまま返す。
func (f EntryFilter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Search != "" && !containsFold(e.Title, f.Search) && !containsFold(e.Content, f.Search) {
			continue
		}
		if f.Mood != "" && f.Mood != filterAll && string(e.Mood) != f.Mood {
			continue
		}
		out = append(out, e)
	}
	return out
}

// UpcomingTasks は未完了かつ期限が今日からwithin以内のタスクを期限の早い順にlimit件まで返す。
// 期限が今日より前のタスクは含めない。
func UpcomingTasks(tasks []Task, now time.Time, within time.Duration, limit int) []Task {
	from := now.UTC().Truncate(24 * time.Hour)
	until := now.Add(within)
	out := make([]Task, 0, limit)
	for _, t := range tasks {
		if t.Completed || t.DueDate == nil {
			continue
		}
		if t.DueDate.Before(from) || t.DueDate.After(until) {
			continue
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, byDueDate)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
