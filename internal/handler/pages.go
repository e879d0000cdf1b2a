package handler

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eplan/internal/admin"
	"github.com/hitoshi/eplan/internal/dashboard"
	"github.com/hitoshi/eplan/internal/identity"
	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名。templates/<name>.html に対応する。
const (
	pageLogin       = "login"
	pageRegister    = "register"
	pageDashboard   = "dashboard"
	pageTodos       = "todos"
	pageAgenda      = "agenda"
	pageAdmin       = "admin"
	pageNotFound    = "not_found"
	pagePlaceholder = "placeholder"
	pageFailure     = "failure"
)

var pageNames = []string{
	pageLogin, pageRegister, pageDashboard, pageTodos, pageAgenda,
	pageAdmin, pageNotFound, pagePlaceholder, pageFailure,
}

// HTMLSanitizer は日記本文を表示用に無害化する。
type HTMLSanitizer interface {
	HTML(raw string) string
}

// PageDeps はPageHandlerに必要な依存関係をまとめた構造体。
type PageDeps struct {
	Identity          IdentityService
	Loader            SnapshotLoader
	Writer            RecordWriter
	Stats             StatsLoader
	Invites           InviteIssuer
	Sanitizer         HTMLSanitizer
	Auth              AuthHandlerConfig
	PasswordMinLength int
	BaseURL           string
	Logger            *slog.Logger
}

// PageHandler はサーバー側で描画するページのHTTPハンドラー。
// フォーム送信に失敗した場合は入力値を保持したまま同じページを再描画する。
type PageHandler struct {
	deps      PageDeps
	templates map[string]*template.Template
	logger    *slog.Logger
	now       func() time.Time
}

// NewPageHandler はテンプレートを読み込んでPageHandlerを生成する。
func NewPageHandler(deps PageDeps) (*PageHandler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PasswordMinLength <= 0 {
		deps.PasswordMinLength = 6
	}
	deps.BaseURL = strings.TrimRight(deps.BaseURL, "/")

	h := &PageHandler{
		deps:      deps,
		templates: make(map[string]*template.Template, len(pageNames)),
		logger:    deps.Logger,
		now:       time.Now,
	}

	funcs := template.FuncMap{
		"date":     func(t time.Time) string { return t.Format("2006-01-02") },
		"datetime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
		"dateptr": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"join":     func(tags []string) string { return strings.Join(tags, ", ") },
		"rate":     admin.Rate,
		"richtext": h.richText,
	}

	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		h.templates[name] = t
	}
	return h, nil
}

// richText はサニタイズ済みの日記本文をHTMLとして埋め込む。
// サニタイザーがない場合はエスケープして表示する。
func (h *PageHandler) richText(content string) template.HTML {
	if h.deps.Sanitizer == nil {
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(h.deps.Sanitizer.HTML(content))
}

// pageData はレイアウトに渡す共通データ。
type pageData struct {
	Title     string
	Principal *model.Principal
	CSRFToken string
	Error     string
	// RetryURL は読み込み失敗時に同じページを再読み込みするリンク先
	RetryURL string
	Notice   string
	View     any
}

type loginView struct {
	Email string
}

type registerView struct {
	Email             string
	DisplayName       string
	AdminCode         string
	MinPasswordLength int
}

type dashboardView struct {
	Summary dashboard.Summary
}

type todosView struct {
	Tasks      []record.Task
	Filter     record.TaskFilter
	Form       record.TaskInput
	Statuses   []record.TaskStatus
	Priorities []record.Priority
}

type agendaView struct {
	Entries []record.Entry
	Filter  record.EntryFilter
	Form    record.EntryInput
	Moods   []record.Mood
}

type adminView struct {
	Users          []model.UserStats
	Totals         admin.Totals
	Search         string
	Sort           string
	InvitesEnabled bool
	InviteURL      string
}

// render はページを描画する。描画に失敗した場合は途中の出力を捨てて500を返す。
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, view any, errMsg, notice string) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	data := pageData{
		Title:     title,
		Principal: principal,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Error:     errMsg,
		Notice:    notice,
		View:      view,
	}
	if errMsg != "" && r.Method == http.MethodGet && status >= http.StatusInternalServerError {
		data.RetryURL = r.URL.RequestURI()
	}

	var buf bytes.Buffer
	if err := h.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// describeError はエラーをステータスコードとユーザー向けの文言に変換する。
func (h *PageHandler) describeError(err error) (int, string) {
	var feedErr *livesync.FeedError
	if errors.As(err, &feedErr) {
		status, apiErr := feedErrorResponse(feedErr)
		return status, apiErr.Message
	}
	if apiErr, ok := model.AsAPIError(err); ok {
		return mapAPIErrorToHTTPStatus(apiErr), apiErr.Message
	}
	h.logger.Error("page request failed", slog.String("error", err.Error()))
	return http.StatusInternalServerError, middleware.NewInternalError().Message
}

// --- 認証ページ ---

// LoginPage はログインフォームを表示する。
// GET /login
func (h *PageHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pageLogin, "Sign in", loginView{}, "", "")
}

// LoginSubmit はログインフォームを処理する。
// POST /login
func (h *PageHandler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	result, err := h.deps.Identity.Login(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		status, msg := h.describeError(err)
		h.render(w, r, status, pageLogin, "Sign in", loginView{Email: email}, msg, "")
		return
	}

	setSessionCookie(w, h.deps.Auth, result.Session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RegisterPage は新規登録フォームを表示する。招待リンクのcodeを管理者コード欄に入れる。
// GET /register
func (h *PageHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	view := registerView{
		AdminCode:         r.URL.Query().Get("code"),
		MinPasswordLength: h.deps.PasswordMinLength,
	}
	h.render(w, r, http.StatusOK, pageRegister, "Create an account", view, "", "")
}

// RegisterSubmit は新規登録フォームを処理する。
// POST /register
func (h *PageHandler) RegisterSubmit(w http.ResponseWriter, r *http.Request) {
	in := identity.SignUpInput{
		Email:       r.PostFormValue("email"),
		Password:    r.PostFormValue("password"),
		DisplayName: r.PostFormValue("displayName"),
		AdminCode:   r.PostFormValue("adminCode"),
	}

	result, err := h.deps.Identity.SignUp(r.Context(), in)
	if err != nil {
		status, msg := h.describeError(err)
		view := registerView{
			Email:             in.Email,
			DisplayName:       in.DisplayName,
			AdminCode:         in.AdminCode,
			MinPasswordLength: h.deps.PasswordMinLength,
		}
		h.render(w, r, status, pageRegister, "Create an account", view, msg, "")
		return
	}

	setSessionCookie(w, h.deps.Auth, result.Session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutSubmit はセッションを破棄してログイン画面へ戻す。
// POST /logout
func (h *PageHandler) LogoutSubmit(w http.ResponseWriter, r *http.Request) {
	endSession(r, h.deps.Identity)
	clearSessionCookie(w, h.deps.Auth)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// --- ダッシュボード ---

// Dashboard はホーム画面を表示する。
// GET /
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	view := dashboardView{Summary: dashboard.Build(nil, nil, h.now())}
	snapshot, err := h.deps.Loader.Load(r.Context(), p)
	if err != nil {
		status, msg := h.describeError(err)
		h.render(w, r, status, pageDashboard, "Dashboard", view, msg, "")
		return
	}

	view.Summary = dashboard.Build(snapshot.Tasks, snapshot.Entries, h.now())
	h.render(w, r, http.StatusOK, pageDashboard, "Dashboard", view, "", "")
}

// --- タスク ---

func taskInputFromForm(r *http.Request) record.TaskInput {
	return record.TaskInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Priority:    record.Priority(r.PostFormValue("priority")),
		DueDate:     r.PostFormValue("dueDate"),
		Tags:        splitTags(r.PostFormValue("tags")),
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return record.NormalizeTags(strings.Split(raw, ","))
}

// renderTodos はタスク一覧を描画する。writeErrが非nilの場合は送信内容を保持して表示する。
func (h *PageHandler) renderTodos(w http.ResponseWriter, r *http.Request, form record.TaskInput, writeErr error) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	q := r.URL.Query()

	if form.Priority == "" {
		form.Priority = record.PriorityMedium
	}
	view := todosView{
		Filter:     record.NewTaskFilter(q.Get("search"), q.Get("status"), q.Get("priority")),
		Form:       form,
		Statuses:   []record.TaskStatus{record.StatusAll, record.StatusCompleted, record.StatusPending},
		Priorities: []record.Priority{record.PriorityLow, record.PriorityMedium, record.PriorityHigh},
	}

	status, errMsg := http.StatusOK, ""
	if writeErr != nil {
		status, errMsg = h.describeError(writeErr)
	}

	snapshot, err := h.deps.Loader.Load(r.Context(), p)
	if err != nil {
		status, errMsg = h.describeError(err)
	} else {
		view.Tasks = view.Filter.Apply(snapshot.Tasks)
	}
	h.render(w, r, status, pageTodos, "Tasks", view, errMsg, "")
}

// TodosPage はタスク一覧を表示する。
// GET /todos?search=xxx&status=xxx&priority=xxx
func (h *PageHandler) TodosPage(w http.ResponseWriter, r *http.Request) {
	h.renderTodos(w, r, record.TaskInput{}, nil)
}

// TodoCreate はタスク追加フォームを処理する。
// POST /todos
func (h *PageHandler) TodoCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	in := taskInputFromForm(r)

	if _, err := h.deps.Writer.AddTask(r.Context(), p, in); err != nil {
		h.renderTodos(w, r, in, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

// TodoToggle はタスクの完了状態を切り替える。completedは切り替え後の値。
// POST /todos/{id}/toggle
func (h *PageHandler) TodoToggle(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	completed := r.PostFormValue("completed") == "true"

	err := h.deps.Writer.UpdateTask(r.Context(), p, chi.URLParam(r, "id"), record.TaskPatch{Completed: &completed})
	if err != nil {
		h.renderTodos(w, r, record.TaskInput{}, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

// TodoDelete はタスクを削除する。
// POST /todos/{id}/delete
func (h *PageHandler) TodoDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	if err := h.deps.Writer.DeleteTask(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.renderTodos(w, r, record.TaskInput{}, err)
		return
	}
	http.Redirect(w, r, "/todos", http.StatusSeeOther)
}

// --- 日記 ---

func entryInputFromForm(r *http.Request) record.EntryInput {
	return record.EntryInput{
		Title:     r.PostFormValue("title"),
		Content:   r.PostFormValue("content"),
		Date:      r.PostFormValue("date"),
		Mood:      record.Mood(r.PostFormValue("mood")),
		IsPrivate: r.PostFormValue("isPrivate") == "true",
		AudioURL:  r.PostFormValue("audioUrl"),
		Tags:      splitTags(r.PostFormValue("tags")),
	}
}

func (h *PageHandler) renderAgenda(w http.ResponseWriter, r *http.Request, form record.EntryInput, writeErr error) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	q := r.URL.Query()

	if form.Mood == "" {
		form.Mood = record.MoodNeutral
	}
	view := agendaView{
		Filter: record.NewEntryFilter(q.Get("search"), q.Get("mood")),
		Form:   form,
		Moods:  record.Moods,
	}

	status, errMsg := http.StatusOK, ""
	if writeErr != nil {
		status, errMsg = h.describeError(writeErr)
	}

	snapshot, err := h.deps.Loader.Load(r.Context(), p)
	if err != nil {
		status, errMsg = h.describeError(err)
	} else {
		view.Entries = view.Filter.Apply(snapshot.Entries)
	}
	h.render(w, r, status, pageAgenda, "Agenda", view, errMsg, "")
}

// AgendaPage は日記エントリ一覧を表示する。
// GET /agenda?search=xxx&mood=xxx
func (h *PageHandler) AgendaPage(w http.ResponseWriter, r *http.Request) {
	h.renderAgenda(w, r, record.EntryInput{}, nil)
}

// AgendaCreate は日記エントリ追加フォームを処理する。
// POST /agenda
func (h *PageHandler) AgendaCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	in := entryInputFromForm(r)

	if _, err := h.deps.Writer.AddEntry(r.Context(), p, in); err != nil {
		h.renderAgenda(w, r, in, err)
		return
	}
	http.Redirect(w, r, "/agenda", http.StatusSeeOther)
}

// AgendaDelete は日記エントリを削除する。
// POST /agenda/{id}/delete
func (h *PageHandler) AgendaDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	if err := h.deps.Writer.DeleteEntry(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.renderAgenda(w, r, record.EntryInput{}, err)
		return
	}
	http.Redirect(w, r, "/agenda", http.StatusSeeOther)
}

// --- 管理画面 ---

func (h *PageHandler) renderAdmin(w http.ResponseWriter, r *http.Request, inviteURL, notice string, actionErr error) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	q := r.URL.Query()
	sortKey := admin.ParseSortKey(q.Get("sort"))

	view := adminView{
		Search:         q.Get("search"),
		Sort:           string(sortKey),
		InvitesEnabled: h.deps.Invites != nil && h.deps.Invites.Enabled(),
		InviteURL:      inviteURL,
	}

	status, errMsg := http.StatusOK, ""
	if actionErr != nil {
		status, errMsg = h.describeError(actionErr)
	}

	stats, err := h.deps.Stats.Load(r.Context(), p.ID)
	if err != nil {
		status, errMsg = h.describeError(err)
	} else {
		view.Totals = admin.ComputeTotals(stats)
		view.Users = admin.Filter(stats, view.Search)
		admin.Sort(view.Users, sortKey)
	}
	h.render(w, r, status, pageAdmin, "Admin", view, errMsg, notice)
}

// AdminPage は管理画面を表示する。
// GET /admin?search=xxx&sort=lastActive|todoCount
func (h *PageHandler) AdminPage(w http.ResponseWriter, r *http.Request) {
	h.renderAdmin(w, r, "", "", nil)
}

// AdminInvite は管理者招待リンクを発行して管理画面に表示する。
// POST /admin/invites
func (h *PageHandler) AdminInvite(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	if h.deps.Invites == nil || !h.deps.Invites.Enabled() {
		h.renderAdmin(w, r, "", "", model.NewInvitesDisabledError())
		return
	}

	token, expiresAt, err := h.deps.Invites.Issue(p.ID)
	if err != nil {
		h.renderAdmin(w, r, "", "", fmt.Errorf("failed to issue invite: %w", err))
		return
	}

	inviteURL := h.deps.BaseURL + "/register?" + url.Values{"code": {token}}.Encode()
	notice := fmt.Sprintf("Invite link created. It expires at %s.", expiresAt.UTC().Format("2006-01-02 15:04 MST"))
	h.renderAdmin(w, r, inviteURL, notice, nil)
}

// --- 補助ページ ---

// NotFound はAPIリクエストにはJSONの404を、それ以外には404ページを返す。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	if middleware.IsAPIRequest(r) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "The requested resource was not found.",
			Category: "system",
			Action:   "Check the URL.",
		})
		return
	}
	h.render(w, r, http.StatusNotFound, pageNotFound, "Not found", nil, "", "")
}

// Placeholder は認証状態の確定待ちに表示するページを返す。自動で再読み込みする。
func (h *PageHandler) Placeholder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, http.StatusOK, pagePlaceholder, "Loading", nil, "", "")
	})
}

// Failure はpanic発生時に表示する汎用の障害ページを返す。
func (h *PageHandler) Failure() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, http.StatusInternalServerError, pageFailure, "Error", nil, "", "")
	})
}
