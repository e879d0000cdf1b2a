// Package dashboard はホーム画面に表示するユーザーごとの概要を組み立てる。
package dashboard

import (
	"time"

	"github.com/hitoshi/eplan/internal/admin"
	"github.com/hitoshi/eplan/internal/record"
)

const (
	upcomingWindow = 3 * 24 * time.Hour
	upcomingLimit  = 3
	recentLimit    = 3
)

// Summary はダッシュボードの表示内容。
type Summary struct {
	TotalTasks     int            `json:"totalTasks"`
	CompletedTasks int            `json:"completedTasks"`
	PendingTasks   int            `json:"pendingTasks"`
	EntryCount     int            `json:"entryCount"`
	CompletionRate int            `json:"completionRate"`
	UpcomingTasks  []record.Task  `json:"upcomingTasks"`
	RecentEntries  []record.Entry `json:"recentEntries"`
}

// Build は作成日時の降順に並んだタスクと日記エントリから概要を作る。
func Build(tasks []record.Task, entries []record.Entry, now time.Time) Summary {
	completed := 0
	for _, t := range tasks {
		if t.Completed {
			completed++
		}
	}

	recent := entries
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}

	return Summary{
		TotalTasks:     len(tasks),
		CompletedTasks: completed,
		PendingTasks:   len(tasks) - completed,
		EntryCount:     len(entries),
		CompletionRate: admin.Rate(completed, len(tasks)),
		UpcomingTasks:  record.UpcomingTasks(tasks, now, upcomingWindow, upcomingLimit),
		RecentEntries:  append([]record.Entry{}, recent...),
	}
}
