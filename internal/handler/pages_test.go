package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/eplan/internal/identity"
	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

type stubSanitizer struct{}

func (stubSanitizer) HTML(raw string) string {
	return strings.ReplaceAll(raw, "<script>alert(1)</script>", "")
}

func newTestPages(t *testing.T, deps PageDeps) *PageHandler {
	t.Helper()
	if deps.Identity == nil {
		deps.Identity = &mockIdentity{}
	}
	if deps.Loader == nil {
		deps.Loader = &mockLoader{}
	}
	if deps.Writer == nil {
		deps.Writer = &mockWriter{}
	}
	if deps.Stats == nil {
		deps.Stats = &mockStats{}
	}
	h, err := NewPageHandler(deps)
	if err != nil {
		t.Fatalf("NewPageHandler() error = %v", err)
	}
	return h
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewPageHandler_ParsesAllTemplates(t *testing.T) {
	h := newTestPages(t, PageDeps{})
	for _, name := range pageNames {
		if h.templates[name] == nil {
			t.Errorf("template %q was not loaded", name)
		}
	}
}

func TestPages_LoginPage_EmbedsCSRFToken(t *testing.T) {
	h := newTestPages(t, PageDeps{})

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req = req.WithContext(middleware.ContextWithCSRFToken(req.Context(), "tok123"))
	rec := httptest.NewRecorder()
	h.LoginPage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `name="csrf_token" value="tok123"`) {
		t.Error("login form does not carry the csrf token")
	}
}

func TestPages_LoginSubmit_FailureKeepsEmail(t *testing.T) {
	identitySvc := &mockIdentity{
		loginFn: func(ctx context.Context, email, password string) (*identity.AuthResult, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := newTestPages(t, PageDeps{Identity: identitySvc})

	rec := httptest.NewRecorder()
	h.LoginSubmit(rec, formRequest("/login", url.Values{"email": {"someone@example.com"}, "password": {"wrong"}}))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `value="someone@example.com"`) {
		t.Error("email was not kept in the form")
	}
	if !strings.Contains(body, `class="error"`) {
		t.Error("error banner was not rendered")
	}
	if strings.Contains(body, `value="wrong"`) {
		t.Error("password must not be echoed back")
	}
}

func TestPages_LoginSubmit_SuccessRedirectsHome(t *testing.T) {
	identitySvc := &mockIdentity{
		loginFn: func(ctx context.Context, email, password string) (*identity.AuthResult, error) {
			return &identity.AuthResult{
				Session:   &model.Session{ID: "sess-9"},
				Principal: testUser,
			}, nil
		},
	}
	h := newTestPages(t, PageDeps{Identity: identitySvc})

	rec := httptest.NewRecorder()
	h.LoginSubmit(rec, formRequest("/login", url.Values{"email": {"user@example.com"}, "password": {"secret1"}}))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if c := sessionCookie(t, rec); c == nil || c.Value != "sess-9" {
		t.Errorf("unexpected session cookie: %+v", c)
	}
}

func TestPages_RegisterPage_PrefillsInviteCode(t *testing.T) {
	h := newTestPages(t, PageDeps{PasswordMinLength: 8})

	rec := httptest.NewRecorder()
	h.RegisterPage(rec, httptest.NewRequest(http.MethodGet, "/register?code=invite-token", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `name="adminCode" value="invite-token"`) {
		t.Error("invite code was not prefilled")
	}
	if !strings.Contains(body, `minlength="8"`) {
		t.Error("password minimum length was not rendered")
	}
}

func TestPages_RegisterSubmit_FailureKeepsInput(t *testing.T) {
	identitySvc := &mockIdentity{
		signUpFn: func(ctx context.Context, in identity.SignUpInput) (*identity.AuthResult, error) {
			return nil, model.NewEmailInUseError()
		},
	}
	h := newTestPages(t, PageDeps{Identity: identitySvc})

	form := url.Values{"email": {"taken@example.com"}, "password": {"secret1"}, "displayName": {"Taken"}}
	rec := httptest.NewRecorder()
	h.RegisterSubmit(rec, formRequest("/register", form))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `value="taken@example.com"`) || !strings.Contains(body, `value="Taken"`) {
		t.Error("form input was not kept")
	}
}

func TestPages_LogoutSubmit(t *testing.T) {
	var loggedOut string
	identitySvc := &mockIdentity{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := newTestPages(t, PageDeps{Identity: identitySvc})

	req := formRequest("/logout", url.Values{})
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-1"})
	rec := httptest.NewRecorder()
	h.LogoutSubmit(rec, req)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("got %d %q, want 303 /login", rec.Code, rec.Header().Get("Location"))
	}
	if loggedOut != "sess-1" {
		t.Errorf("logged out session = %q, want sess-1", loggedOut)
	}
}

func TestPages_Dashboard(t *testing.T) {
	h := newTestPages(t, PageDeps{Loader: loaderWith(sampleTasks(), sampleEntries())})

	rec := httptest.NewRecorder()
	h.Dashboard(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), testUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, testUser.DisplayName) {
		t.Error("navigation does not show the signed in user")
	}
	if !strings.Contains(body, "Beach day") {
		t.Error("recent entries were not rendered")
	}
}

func TestPages_Dashboard_LoadFailureShowsError(t *testing.T) {
	loader := &mockLoader{
		loadFn: func(ctx context.Context, p *model.Principal) (*livesync.Snapshot, error) {
			return nil, &livesync.FeedError{Feed: "tasks", Message: "Failed to load tasks.", Err: errors.New("timeout")}
		},
	}
	h := newTestPages(t, PageDeps{Loader: loader})

	rec := httptest.NewRecorder()
	h.Dashboard(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), testUser))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "Failed to load tasks.") {
		t.Error("load error was not shown")
	}
	if !strings.Contains(rec.Body.String(), `<a href="/">Retry</a>`) {
		t.Error("load error has no retry link")
	}
}

func TestPages_TodosPage_LoadFailureRetriesSameView(t *testing.T) {
	loader := &mockLoader{
		loadFn: func(ctx context.Context, p *model.Principal) (*livesync.Snapshot, error) {
			return nil, &livesync.FeedError{Feed: "tasks", Message: "Failed to connect to the tasks database.", Err: errors.New("timeout")}
		},
	}
	h := newTestPages(t, PageDeps{Loader: loader})

	rec := httptest.NewRecorder()
	h.TodosPage(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/todos?status=pending", nil), testUser))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	// クエリ文字列はhref属性内でエスケープされる
	if !strings.Contains(rec.Body.String(), `<a href="/todos?status=pending">Retry</a>`) {
		t.Errorf("retry link does not point back to the filtered list: %s", rec.Body.String())
	}
}

func TestPages_TodosPage_AppliesFilter(t *testing.T) {
	h := newTestPages(t, PageDeps{Loader: loaderWith(sampleTasks(), nil)})

	rec := httptest.NewRecorder()
	h.TodosPage(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/todos?status=completed", nil), testUser))

	body := rec.Body.String()
	if !strings.Contains(body, "Buy milk") {
		t.Error("completed task is missing")
	}
	if strings.Contains(body, "Write report") {
		t.Error("pending task should be filtered out")
	}
	if !strings.Contains(body, `<option value="completed" selected>`) {
		t.Error("status filter was not kept")
	}
}

func TestPages_TodoCreate(t *testing.T) {
	t.Run("success redirects", func(t *testing.T) {
		var got record.TaskInput
		writer := &mockWriter{
			addTaskFn: func(ctx context.Context, p *model.Principal, in record.TaskInput) (string, error) {
				got = in
				return "t9", nil
			},
		}
		h := newTestPages(t, PageDeps{Writer: writer})

		form := url.Values{"title": {"Plan trip"}, "priority": {"high"}, "tags": {" travel , Work,travel"}}
		rec := httptest.NewRecorder()
		h.TodoCreate(rec, withPrincipal(formRequest("/todos", form), testUser))

		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/todos" {
			t.Fatalf("got %d %q, want 303 /todos", rec.Code, rec.Header().Get("Location"))
		}
		if got.Title != "Plan trip" || got.Priority != record.PriorityHigh {
			t.Errorf("unexpected input: %+v", got)
		}
		if len(got.Tags) == 0 {
			t.Error("tags were not parsed")
		}
	})

	t.Run("failure keeps input", func(t *testing.T) {
		writer := &mockWriter{
			addTaskFn: func(ctx context.Context, p *model.Principal, in record.TaskInput) (string, error) {
				return "", model.NewInvalidDateError("dueDate")
			},
		}
		h := newTestPages(t, PageDeps{Writer: writer})

		form := url.Values{"title": {"Plan trip"}, "description": {"Book hotel"}, "priority": {"low"}, "dueDate": {"not-a-date"}}
		rec := httptest.NewRecorder()
		h.TodoCreate(rec, withPrincipal(formRequest("/todos", form), testUser))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		body := rec.Body.String()
		for _, want := range []string{`value="Plan trip"`, "Book hotel", `value="not-a-date"`, `<option value="low" selected>`} {
			if !strings.Contains(body, want) {
				t.Errorf("body does not contain %q", want)
			}
		}
	})
}

func TestPages_TodoToggle_SendsTargetState(t *testing.T) {
	var gotID string
	var gotCompleted *bool
	writer := &mockWriter{
		updateTaskFn: func(ctx context.Context, p *model.Principal, id string, patch record.TaskPatch) error {
			gotID, gotCompleted = id, patch.Completed
			return nil
		},
	}
	h := newTestPages(t, PageDeps{Writer: writer})

	req := withURLParam(withPrincipal(formRequest("/todos/t1/toggle", url.Values{"completed": {"true"}}), testUser), "id", "t1")
	rec := httptest.NewRecorder()
	h.TodoToggle(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if gotID != "t1" || gotCompleted == nil || !*gotCompleted {
		t.Errorf("update = %q %v, want t1 true", gotID, gotCompleted)
	}
}

func TestPages_TodoDelete_NotFoundRendersList(t *testing.T) {
	writer := &mockWriter{
		deleteTaskFn: func(ctx context.Context, p *model.Principal, id string) error {
			return model.NewTaskNotFoundError(id)
		},
	}
	h := newTestPages(t, PageDeps{Loader: loaderWith(sampleTasks(), nil), Writer: writer})

	req := withURLParam(withPrincipal(formRequest("/todos/gone/delete", url.Values{}), testUser), "id", "gone")
	rec := httptest.NewRecorder()
	h.TodoDelete(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "Write report") {
		t.Error("task list was not rendered with the error")
	}
}

func TestPages_AgendaPage_SanitizesContent(t *testing.T) {
	entries := []record.Entry{{
		ID:        "e1",
		Title:     "Notes",
		Content:   "<b>bold</b><script>alert(1)</script>",
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Mood:      record.MoodHappy,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}}

	t.Run("with sanitizer", func(t *testing.T) {
		h := newTestPages(t, PageDeps{Loader: loaderWith(nil, entries), Sanitizer: stubSanitizer{}})

		rec := httptest.NewRecorder()
		h.AgendaPage(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/agenda", nil), testUser))

		body := rec.Body.String()
		if !strings.Contains(body, "<b>bold</b>") {
			t.Error("allowed markup was not rendered")
		}
		if strings.Contains(body, "<script>") {
			t.Error("script was not removed")
		}
	})

	t.Run("without sanitizer", func(t *testing.T) {
		h := newTestPages(t, PageDeps{Loader: loaderWith(nil, entries)})

		rec := httptest.NewRecorder()
		h.AgendaPage(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/agenda", nil), testUser))

		body := rec.Body.String()
		if strings.Contains(body, "<b>bold</b>") || strings.Contains(body, "<script>") {
			t.Error("content must be escaped when no sanitizer is configured")
		}
	})
}

func TestPages_AgendaCreate_FailureKeepsInput(t *testing.T) {
	writer := &mockWriter{
		addEntryFn: func(ctx context.Context, p *model.Principal, in record.EntryInput) (string, error) {
			if !in.IsPrivate {
				t.Error("isPrivate checkbox was not read")
			}
			return "", model.NewInvalidAttachmentError("unreachable")
		},
	}
	h := newTestPages(t, PageDeps{Writer: writer})

	form := url.Values{"title": {"Voice memo"}, "content": {"hello"}, "mood": {"sad"}, "isPrivate": {"true"}, "audioUrl": {"https://example.com/a.mp3"}}
	rec := httptest.NewRecorder()
	h.AgendaCreate(rec, withPrincipal(formRequest("/agenda", form), testUser))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	body := rec.Body.String()
	for _, want := range []string{`value="Voice memo"`, `value="https://example.com/a.mp3"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
}

func TestPages_AdminPage(t *testing.T) {
	h := newTestPages(t, PageDeps{Stats: statsWith(sampleStats()), Invites: &mockInvites{enabled: true}})

	rec := httptest.NewRecorder()
	h.AdminPage(rec, withPrincipal(httptest.NewRequest(http.MethodGet, "/admin?search=bob", nil), testAdmin))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "bob@example.com") {
		t.Error("matching user is missing")
	}
	if strings.Contains(body, "alice@example.com") {
		t.Error("non-matching user should be filtered out")
	}
	// 合計値は検索条件に関係なく全ユーザー分
	if !strings.Contains(body, "<strong>3</strong><br>Users") {
		t.Error("totals should cover all users")
	}
	if !strings.Contains(body, `action="/admin/invites"`) {
		t.Error("invite form is missing")
	}
}

func TestPages_AdminInvite(t *testing.T) {
	invites := &mockInvites{
		enabled: true,
		issueFn: func(adminID string) (string, time.Time, error) {
			return "abc", time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), nil
		},
	}
	h := newTestPages(t, PageDeps{Stats: statsWith(nil), Invites: invites, BaseURL: "https://eplan.example.com/"})

	rec := httptest.NewRecorder()
	h.AdminInvite(rec, withPrincipal(formRequest("/admin/invites", url.Values{}), testAdmin))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "https://eplan.example.com/register?code=abc") {
		t.Error("invite link was not shown")
	}
	if !strings.Contains(body, "2024-05-02 10:00 UTC") {
		t.Error("expiry notice was not shown")
	}
}

func TestPages_AdminInvite_Disabled(t *testing.T) {
	h := newTestPages(t, PageDeps{Stats: statsWith(nil)})

	rec := httptest.NewRecorder()
	h.AdminInvite(rec, withPrincipal(formRequest("/admin/invites", url.Values{}), testAdmin))

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestPages_NotFound(t *testing.T) {
	h := newTestPages(t, PageDeps{})

	t.Run("api request gets json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
		if body := decodeErrorBody(t, rec); body.Code != "NOT_FOUND" {
			t.Errorf("code = %q, want NOT_FOUND", body.Code)
		}
	})

	t.Run("page request gets html", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
		if !strings.Contains(rec.Body.String(), "Page not found") {
			t.Error("not found page was not rendered")
		}
	})
}

func TestPages_Placeholder_Refreshes(t *testing.T) {
	h := newTestPages(t, PageDeps{})

	rec := httptest.NewRecorder()
	h.Placeholder().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/todos", nil))

	if !strings.Contains(rec.Body.String(), `http-equiv="refresh"`) {
		t.Error("placeholder page does not refresh itself")
	}
}
