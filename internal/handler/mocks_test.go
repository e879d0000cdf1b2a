package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eplan/internal/identity"
	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

// --- モック定義 ---

type mockIdentity struct {
	signUpFn    func(ctx context.Context, in identity.SignUpInput) (*identity.AuthResult, error)
	loginFn     func(ctx context.Context, email, password string) (*identity.AuthResult, error)
	logoutFn    func(ctx context.Context, sessionID string) error
	provisionFn func(ctx context.Context, userID, code string) error
	isAdminFn   func(ctx context.Context, userID string) bool
}

func (m *mockIdentity) SignUp(ctx context.Context, in identity.SignUpInput) (*identity.AuthResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentity) Login(ctx context.Context, email, password string) (*identity.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentity) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockIdentity) ProvisionAdmin(ctx context.Context, userID, code string) error {
	if m.provisionFn != nil {
		return m.provisionFn(ctx, userID, code)
	}
	return nil
}

func (m *mockIdentity) IsAdmin(ctx context.Context, userID string) bool {
	if m.isAdminFn != nil {
		return m.isAdminFn(ctx, userID)
	}
	return false
}

type mockLoader struct {
	loadFn func(ctx context.Context, p *model.Principal) (*livesync.Snapshot, error)
}

func (m *mockLoader) Load(ctx context.Context, p *model.Principal) (*livesync.Snapshot, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, p)
	}
	return &livesync.Snapshot{}, nil
}

func loaderWith(tasks []record.Task, entries []record.Entry) *mockLoader {
	return &mockLoader{
		loadFn: func(ctx context.Context, p *model.Principal) (*livesync.Snapshot, error) {
			return &livesync.Snapshot{Tasks: tasks, Entries: entries}, nil
		},
	}
}

type mockWriter struct {
	addTaskFn     func(ctx context.Context, p *model.Principal, in record.TaskInput) (string, error)
	updateTaskFn  func(ctx context.Context, p *model.Principal, id string, patch record.TaskPatch) error
	deleteTaskFn  func(ctx context.Context, p *model.Principal, id string) error
	addEntryFn    func(ctx context.Context, p *model.Principal, in record.EntryInput) (string, error)
	updateEntryFn func(ctx context.Context, p *model.Principal, id string, patch record.EntryPatch) error
	deleteEntryFn func(ctx context.Context, p *model.Principal, id string) error
}

func (m *mockWriter) AddTask(ctx context.Context, p *model.Principal, in record.TaskInput) (string, error) {
	if m.addTaskFn != nil {
		return m.addTaskFn(ctx, p, in)
	}
	return "", errors.New("not implemented")
}

func (m *mockWriter) UpdateTask(ctx context.Context, p *model.Principal, id string, patch record.TaskPatch) error {
	if m.updateTaskFn != nil {
		return m.updateTaskFn(ctx, p, id, patch)
	}
	return errors.New("not implemented")
}

func (m *mockWriter) DeleteTask(ctx context.Context, p *model.Principal, id string) error {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, p, id)
	}
	return errors.New("not implemented")
}

func (m *mockWriter) AddEntry(ctx context.Context, p *model.Principal, in record.EntryInput) (string, error) {
	if m.addEntryFn != nil {
		return m.addEntryFn(ctx, p, in)
	}
	return "", errors.New("not implemented")
}

func (m *mockWriter) UpdateEntry(ctx context.Context, p *model.Principal, id string, patch record.EntryPatch) error {
	if m.updateEntryFn != nil {
		return m.updateEntryFn(ctx, p, id, patch)
	}
	return errors.New("not implemented")
}

func (m *mockWriter) DeleteEntry(ctx context.Context, p *model.Principal, id string) error {
	if m.deleteEntryFn != nil {
		return m.deleteEntryFn(ctx, p, id)
	}
	return errors.New("not implemented")
}

type mockStats struct {
	loadFn func(ctx context.Context, adminID string) ([]model.UserStats, error)
}

func (m *mockStats) Load(ctx context.Context, adminID string) ([]model.UserStats, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, adminID)
	}
	return nil, nil
}

func statsWith(stats []model.UserStats) *mockStats {
	return &mockStats{
		loadFn: func(ctx context.Context, adminID string) ([]model.UserStats, error) {
			return stats, nil
		},
	}
}

type mockInvites struct {
	enabled bool
	issueFn func(adminID string) (string, time.Time, error)
}

func (m *mockInvites) Enabled() bool { return m.enabled }

func (m *mockInvites) Issue(adminID string) (string, time.Time, error) {
	if m.issueFn != nil {
		return m.issueFn(adminID)
	}
	return "", time.Time{}, errors.New("not implemented")
}

type mockFeeds struct {
	writeFn func(ctx context.Context, w io.Writer, userID string) error
}

func (m *mockFeeds) Write(ctx context.Context, w io.Writer, userID string) error {
	if m.writeFn != nil {
		return m.writeFn(ctx, w, userID)
	}
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

// --- テストヘルパー ---

var (
	testUser  = &model.Principal{ID: "user-1", Email: "user@example.com", DisplayName: "User"}
	testAdmin = &model.Principal{ID: "admin-1", Email: "admin@example.com", DisplayName: "Admin", IsAdmin: true}
)

// withPrincipal はリクエストコンテキストに認証済みユーザーを注入する。
func withPrincipal(r *http.Request, p *model.Principal) *http.Request {
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), p))
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorBody はエラーレスポンスのボディを読み込む。
func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
