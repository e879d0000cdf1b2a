package record

import (
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/timestamp"
)

// Priority はタスクの優先度。
type Priority string

// 優先度
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid は定義済みの優先度かどうかを返す。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task はユーザーのタスク。
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UserID      string     `json:"userId"`
	Tags        []string   `json:"tags"`
}

// ParseTask はドキュメントをTaskに変換する。
// 欠けたフィールドには既定値を入れ、変換は失敗しない。
// 作成日時が未確定(書き込み直後など)の場合はnow、壊れている場合はエポックになる。
func ParseTask(doc docstore.Document, now time.Time) Task {
	data := doc.Data
	if data == nil {
		data = map[string]any{}
	}

	priority := Priority(stringField(data, "priority"))
	if !priority.Valid() {
		priority = PriorityMedium
	}

	return Task{
		ID:          doc.ID,
		Title:       stringField(data, "title"),
		Description: stringField(data, "description"),
		Completed:   truthy(data["completed"]),
		Priority:    priority,
		DueDate:     timestamp.Optional(data["dueDate"]),
		CreatedAt:   createdAt(data, now),
		UserID:      stringField(data, OwnerField),
		Tags:        tagsField(data, "tags"),
	}
}

func createdAt(data map[string]any, now time.Time) time.Time {
	v := timestamp.Classify(data["createdAt"])
	if v.Kind() == timestamp.KindMissing {
		return now
	}
	if t, ok := v.Time(); ok {
		return t
	}
	return epoch
}

// ParseTasks はドキュメント列をTaskに変換し、作成日時の降順に並べる。
func ParseTasks(docs []docstore.Document, now time.Time) []Task {
	tasks := make([]Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, ParseTask(doc, now))
	}
	SortTasks(tasks)
	return tasks
}

// SortTasks は作成日時の降順に安定ソートする。
func SortTasks(tasks []Task) {
	sortNewestFirst(tasks, func(t Task) time.Time { return t.CreatedAt })
}

// TaskInput はタスク作成の入力。
type TaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	DueDate     string   `json:"dueDate"`
	Completed   bool     `json:"completed"`
	Tags        []string `json:"tags"`
}

// Normalize は入力を整形して検証する。優先度の未指定はmediumになる。
func (in *TaskInput) Normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.DueDate = strings.TrimSpace(in.DueDate)
	in.Tags = NormalizeTags(in.Tags)

	if in.Title == "" {
		return model.NewRequiredFieldError("Title")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return model.NewInvalidPriorityError(string(in.Priority))
	}
	if in.DueDate != "" {
		if _, ok := timestamp.Classify(in.DueDate).Time(); !ok {
			return model.NewInvalidDateError("Due date")
		}
	}
	return nil
}

// Fields は保存するフィールドを返す。
// 所有者と作成日時は書き込み側で付与する。
func (in TaskInput) Fields() map[string]any {
	fields := map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"priority":    string(in.Priority),
		"completed":   in.Completed,
		"tags":        nonNilTags(in.Tags),
	}
	if t, ok := timestamp.Classify(in.DueDate).Time(); ok {
		fields["dueDate"] = timestamp.ISO(t)
	}
	return fields
}

// TaskPatch はタスク更新の入力。nilのフィールドは変更しない。
// DueDateに空文字を指定すると期限を解除する。
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Normalize は入力を整形して検証する。
func (p *TaskPatch) Normalize() error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return model.NewRequiredFieldError("Title")
		}
		p.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		p.Description = &desc
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return model.NewInvalidPriorityError(string(*p.Priority))
	}
	if p.DueDate != nil {
		due := strings.TrimSpace(*p.DueDate)
		if due != "" {
			if _, ok := timestamp.Classify(due).Time(); !ok {
				return model.NewInvalidDateError("Due date")
			}
		}
		p.DueDate = &due
	}
	if p.Tags != nil {
		p.Tags = NormalizeTags(p.Tags)
	}
	return nil
}

// Fields は更新するフィールドを返す。
func (p TaskPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Completed != nil {
		fields["completed"] = *p.Completed
	}
	if p.Priority != nil {
		fields["priority"] = string(*p.Priority)
	}
	if p.DueDate != nil {
		if t, ok := timestamp.Classify(*p.DueDate).Time(); ok {
			fields["dueDate"] = timestamp.ISO(t)
		} else {
			fields["dueDate"] = nil
		}
	}
	if p.Tags != nil {
		fields["tags"] = p.Tags
	}
	return fields
}

// Empty は変更するフィールドがないかどうかを返す。
func (p TaskPatch) Empty() bool {
	return len(p.Fields()) == 0
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
