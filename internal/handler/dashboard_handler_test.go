package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/eplan/internal/dashboard"
	"github.com/hitoshi/eplan/internal/record"
)

func TestDashboardHandler_GetDashboard(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(24 * time.Hour)
	tasks := []record.Task{
		{ID: "t2", Title: "Soon", DueDate: &due, CreatedAt: now},
		{ID: "t1", Title: "Done", Completed: true, CreatedAt: now.Add(-time.Hour)},
	}
	h := NewDashboardHandler(loaderWith(tasks, sampleEntries()))
	h.now = func() time.Time { return now }

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), testUser)
	rec := httptest.NewRecorder()
	h.GetDashboard(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got dashboard.Summary
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.TotalTasks != 2 || got.CompletedTasks != 1 || got.PendingTasks != 1 {
		t.Errorf("unexpected counts: %+v", got)
	}
	if got.CompletionRate != 50 {
		t.Errorf("completion rate = %d, want 50", got.CompletionRate)
	}
	if got.EntryCount != 2 {
		t.Errorf("entry count = %d, want 2", got.EntryCount)
	}
	if len(got.UpcomingTasks) != 1 || got.UpcomingTasks[0].ID != "t2" {
		t.Errorf("upcoming = %+v, want [t2]", got.UpcomingTasks)
	}
}

func TestDashboardHandler_Unauthenticated(t *testing.T) {
	h := NewDashboardHandler(&mockLoader{})

	rec := httptest.NewRecorder()
	h.GetDashboard(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
