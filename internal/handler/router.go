package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/eplan/internal/metrics"
	"github.com/hitoshi/eplan/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Resolver          middleware.PrincipalResolver
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	Metrics           metrics.Recorder
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない
	HealthChecker     HealthChecker

	// 認証
	Identity          IdentityService
	AuthConfig        AuthHandlerConfig
	PasswordMinLength int

	// タスク・日記
	Loader       SnapshotLoader
	Writer       RecordWriter
	LiveSessions LiveSessionFactory
	LiveOrigins  []string
	Sanitizer    HTMLSanitizer
	JournalFeeds JournalFeedWriter

	// 管理画面
	Stats   StatsLoader
	Invites InviteIssuer

	BaseURL string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → Logging → Metrics
//	  → CORS → Session → CSRF → RateLimit(General)
//
// /health と /metrics はセッション以降のミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	pages, err := NewPageHandler(PageDeps{
		Identity:          deps.Identity,
		Loader:            deps.Loader,
		Writer:            deps.Writer,
		Stats:             deps.Stats,
		Invites:           deps.Invites,
		Sanitizer:         deps.Sanitizer,
		Auth:              deps.AuthConfig,
		PasswordMinLength: deps.PasswordMinLength,
		BaseURL:           deps.BaseURL,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}

	authHandler := NewAuthHandler(deps.Identity, deps.AuthConfig)
	todoHandler := NewTodoHandler(deps.Loader, deps.Writer)
	agendaHandler := NewAgendaHandler(deps.Loader, deps.Writer)
	dashboardHandler := NewDashboardHandler(deps.Loader)
	adminHandler := NewAdminHandler(deps.Stats, deps.Invites, deps.BaseURL)
	journalHandler := NewJournalHandler(deps.JournalFeeds)
	liveHandler := NewLiveHandler(deps.LiveSessions, deps.LiveOrigins, logger)

	placeholder := pages.Placeholder()
	authLimit := deps.RateLimiter.AuthMiddleware()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger, pages.Failure()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(recorder))

	r.NotFound(pages.NotFound)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewSessionMiddleware(deps.Resolver))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

		// 公開日記フィード（認証不要）
		r.Get("/feeds/{userID}/journal.atom", journalHandler.GetFeed)

		// --- JSON API: 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit).Post("/register", authHandler.Register)
			r.With(authLimit).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.RequireAuth).Get("/me", authHandler.Me)
			r.With(middleware.RequireAuth).Post("/admin-code", authHandler.AdminCode)
		})

		// --- JSON API: 認証が必要なルート ---
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Route("/todos", func(r chi.Router) {
				r.Get("/", todoHandler.ListTodos)
				r.Post("/", todoHandler.CreateTodo)
				r.Patch("/{id}", todoHandler.UpdateTodo)
				r.Delete("/{id}", todoHandler.DeleteTodo)
			})

			r.Route("/agenda", func(r chi.Router) {
				r.Get("/", agendaHandler.ListEntries)
				r.Post("/", agendaHandler.CreateEntry)
				r.Patch("/{id}", agendaHandler.UpdateEntry)
				r.Delete("/{id}", agendaHandler.DeleteEntry)
			})

			r.Get("/dashboard", dashboardHandler.GetDashboard)
			r.Get("/live", liveHandler.Serve)

			// 管理者のみ
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/users", adminHandler.ListUsers)
				r.Get("/summary", adminHandler.Summary)
				r.Get("/users.csv", adminHandler.ExportCSV)
				r.Post("/invites", adminHandler.CreateInvite)
			})
		})

		// --- ページ: 未ログインのみ ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewGuestGuard(placeholder))
			r.Get("/login", pages.LoginPage)
			r.With(authLimit).Post("/login", pages.LoginSubmit)
			r.Get("/register", pages.RegisterPage)
			r.With(authLimit).Post("/register", pages.RegisterSubmit)
		})

		r.Post("/logout", pages.LogoutSubmit)

		// --- ページ: ログイン必須 ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewPageGuard(false, placeholder))
			r.Get("/", pages.Dashboard)
			r.Get("/todos", pages.TodosPage)
			r.Post("/todos", pages.TodoCreate)
			r.Post("/todos/{id}/toggle", pages.TodoToggle)
			r.Post("/todos/{id}/delete", pages.TodoDelete)
			r.Get("/agenda", pages.AgendaPage)
			r.Post("/agenda", pages.AgendaCreate)
			r.Post("/agenda/{id}/delete", pages.AgendaDelete)
		})

		// --- ページ: 管理者のみ ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewPageGuard(true, placeholder))
			r.Get("/admin", pages.AdminPage)
			r.Post("/admin/invites", pages.AdminInvite)
			r.Get("/admin/export.csv", adminHandler.ExportCSV)
		})
	})

	return r, nil
}
