package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/eplan/internal/admin"
	"github.com/hitoshi/eplan/internal/model"
)

func sampleStats() []model.UserStats {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []model.UserStats{
		{ID: "u1", Email: "alice@example.com", DisplayName: "Alice", TaskCount: 2, CompletedCount: 1, LastActive: base.Add(-48 * time.Hour)},
		{ID: "u2", Email: "bob@example.com", DisplayName: "Bob", TaskCount: 5, CompletedCount: 5, LastActive: base},
		{ID: "u3", Email: "", DisplayName: "", TaskCount: 0, CompletedCount: 0, LastActive: base.Add(-time.Hour)},
	}
}

func TestAdminHandler_ListUsers(t *testing.T) {
	var gotAdmin string
	stats := &mockStats{
		loadFn: func(ctx context.Context, adminID string) ([]model.UserStats, error) {
			gotAdmin = adminID
			return sampleStats(), nil
		},
	}
	h := NewAdminHandler(stats, nil, "")

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"default sorts by last active", "", []string{"u2", "u3", "u1"}},
		{"sort by task count", "?sort=todoCount", []string{"u2", "u1", "u3"}},
		{"search by name", "?search=ALI", []string{"u1"}},
		{"search by email", "?search=bob@", []string{"u2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/admin/users"+tt.query, nil), testAdmin)
			rec := httptest.NewRecorder()
			h.ListUsers(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var resp adminUsersResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			var ids []string
			for _, u := range resp.Users {
				ids = append(ids, u.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	if gotAdmin != testAdmin.ID {
		t.Errorf("admin id = %q, want %q", gotAdmin, testAdmin.ID)
	}
}

func TestAdminHandler_ListUsers_PermissionDenied(t *testing.T) {
	stats := &mockStats{
		loadFn: func(ctx context.Context, adminID string) ([]model.UserStats, error) {
			return nil, model.NewPermissionDeniedError()
		},
	}
	h := NewAdminHandler(stats, nil, "")

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), testAdmin)
	rec := httptest.NewRecorder()
	h.ListUsers(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestAdminHandler_Summary(t *testing.T) {
	h := NewAdminHandler(statsWith(sampleStats()), nil, "")

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/admin/summary", nil), testAdmin)
	rec := httptest.NewRecorder()
	h.Summary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got admin.Totals
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := admin.Totals{Users: 3, Tasks: 7, CompletedTasks: 6, CompletionRate: 86}
	if got != want {
		t.Errorf("totals = %+v, want %+v", got, want)
	}
}

func TestAdminHandler_ExportCSV(t *testing.T) {
	h := NewAdminHandler(statsWith(sampleStats()), nil, "")

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/admin/users.csv?sort=todoCount", nil), testAdmin)
	rec := httptest.NewRecorder()
	h.ExportCSV(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="user_stats.csv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[0][0] != "User ID" || rows[0][6] != "Last Active" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "u2" || rows[1][5] != "100%" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if rows[3][0] != "u3" || rows[3][1] != "N/A" || rows[3][2] != "N/A" || rows[3][5] != "0%" {
		t.Errorf("unexpected last row: %v", rows[3])
	}
}

func TestAdminHandler_CreateInvite_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		invites InviteIssuer
	}{
		{"no issuer", nil},
		{"issuer without secret", &mockInvites{enabled: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAdminHandler(&mockStats{}, tt.invites, "")

			req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/admin/invites", nil), testAdmin)
			rec := httptest.NewRecorder()
			h.CreateInvite(rec, req)

			if rec.Code != http.StatusNotImplemented {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
			}
			if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInvitesDisabled {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvitesDisabled)
			}
		})
	}
}

func TestAdminHandler_CreateInvite_Success(t *testing.T) {
	expires := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	invites := &mockInvites{
		enabled: true,
		issueFn: func(adminID string) (string, time.Time, error) {
			if adminID != testAdmin.ID {
				t.Errorf("admin id = %q, want %q", adminID, testAdmin.ID)
			}
			return "tok.en", expires, nil
		},
	}
	h := NewAdminHandler(&mockStats{}, invites, "https://eplan.example.com/")

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/admin/invites", nil), testAdmin)
	rec := httptest.NewRecorder()
	h.CreateInvite(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var resp inviteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != "tok.en" || !resp.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected invite: %+v", resp)
	}
	if resp.RegisterURL != "https://eplan.example.com/register?code=tok.en" {
		t.Errorf("registerUrl = %q", resp.RegisterURL)
	}
}

func TestAdminHandler_CreateInvite_IssueFailure(t *testing.T) {
	invites := &mockInvites{
		enabled: true,
		issueFn: func(adminID string) (string, time.Time, error) {
			return "", time.Time{}, errors.New("signing failed")
		},
	}
	h := NewAdminHandler(&mockStats{}, invites, "")

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/admin/invites", nil), testAdmin)
	rec := httptest.NewRecorder()
	h.CreateInvite(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
