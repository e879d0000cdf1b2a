package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/eplan/internal/admin"
	"github.com/hitoshi/eplan/internal/attachment"
	"github.com/hitoshi/eplan/internal/config"
	"github.com/hitoshi/eplan/internal/database"
	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/handler"
	"github.com/hitoshi/eplan/internal/identity"
	"github.com/hitoshi/eplan/internal/invite"
	"github.com/hitoshi/eplan/internal/journalfeed"
	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/logger"
	"github.com/hitoshi/eplan/internal/metrics"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/record"
	"github.com/hitoshi/eplan/internal/repository"
	"github.com/hitoshi/eplan/internal/security"
	"github.com/hitoshi/eplan/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("falling back to info log level", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openStore はDB接続を開き、疎通を確認する。
func openStore(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.StoreDriver, cfg.StoreDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newDocStore はドライバに応じたドキュメントストアを生成する。
func newDocStore(cfg *config.Config, db *sql.DB) *docstore.SQLStore {
	opts := []docstore.Option{docstore.WithLogger(slog.Default())}
	if cfg.StoreDriver == config.StoreDriverSQLite {
		return docstore.NewSQLite(db, opts...)
	}
	return docstore.NewPostgres(db, opts...)
}

// services はserveモードで組み立てる依存関係。
type services struct {
	store      *docstore.SQLStore
	ruled      docstore.Store
	sessions   *repository.DocSessionRepo
	identity   *identity.Service
	invites    *invite.Manager
	writer     *livesync.Writer
	loader     *livesync.Loader
	admin      *admin.Service
	journal    *journalfeed.Service
	sanitizer  *security.Sanitizer
	recorder   metrics.Recorder
	registry   *prometheus.Registry
	liveSource func() handler.LiveSession
}

// buildServices はストアの上にリポジトリとドメインサービスを組み立てる。
// タスク・日記エントリへのアクセスは所有者ルールを適用したストアを通す。
func buildServices(cfg *config.Config, db *sql.DB) *services {
	store := newDocStore(cfg, db)
	ruled := docstore.WithOwnerRules(store, record.OwnerField, record.TasksCollection, record.EntriesCollection)

	// 1. リポジトリの初期化
	userRepo := repository.NewDocUserRepo(store)
	credRepo := repository.NewDocCredentialRepo(store)
	sessionRepo := repository.NewDocSessionRepo(store)
	adminRepo := repository.NewDocAdminRepo(store)

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	sanitizer := security.NewSanitizer()
	var attachments livesync.AttachmentVerifier
	if cfg.AttachmentVerify {
		attachments = attachment.NewVerifier(security.NewURLGuard(), cfg.AttachmentTimeout, slog.Default())
	}

	// 4. ドメインサービスの初期化
	invites := invite.NewManager(cfg.InviteSecret, cfg.InviteTTL, store)
	identityService := identity.NewService(
		userRepo, credRepo, sessionRepo, adminRepo, invites,
		identity.ServiceConfig{
			SessionMaxAge:          cfg.SessionMaxAge,
			PasswordMinLength:      cfg.PasswordMinLength,
			PasswordHashCost:       cfg.PasswordHashCost,
			AdminCode:              cfg.AdminCode,
			LoginAttemptsPerMinute: cfg.LoginAttemptsPerMinute,
		},
		recorder, slog.Default(),
	)

	writer := livesync.NewWriter(ruled, sanitizer, attachments, recorder, slog.Default())

	return &services{
		store:     store,
		ruled:     ruled,
		sessions:  sessionRepo,
		identity:  identityService,
		invites:   invites,
		writer:    writer,
		loader:    livesync.NewLoader(ruled),
		admin:     admin.NewService(ruled, userRepo),
		journal:   journalfeed.NewService(ruled, userRepo, cfg.BaseURL),
		sanitizer: sanitizer,
		recorder:  recorder,
		registry:  registry,
		liveSource: func() handler.LiveSession {
			return livesync.NewAdapter(ruled, writer, recorder, slog.Default())
		},
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// SQLiteは単一プロセスで使うため、起動時にスキーマを揃える
	if cfg.StoreDriver == config.StoreDriverSQLite {
		if err := database.Migrate(cfg.StoreDriver, cfg.StoreDSN(), db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 2. サービスの組み立て
	svc := buildServices(cfg, db)

	// 他プロセスの書き込みをライブ購読に反映する
	if cfg.StoreDriver == config.StoreDriverPostgres {
		go func() {
			if err := docstore.RunChangeListener(ctx, cfg.DatabaseURL, svc.store, slog.Default()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("change listener stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Resolver:          svc.identity,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Metrics:        svc.recorder,
		MetricsHandler: metrics.Handler(svc.registry),
		HealthChecker:  db,

		Identity:          svc.identity,
		AuthConfig:        authConfig,
		PasswordMinLength: cfg.PasswordMinLength,

		Loader:       svc.loader,
		Writer:       svc.writer,
		LiveSessions: svc.liveSource,
		LiveOrigins:  []string{cfg.BaseURL, cfg.CORSAllowedOrigin},
		Sanitizer:    svc.sanitizer,
		JournalFeeds: svc.journal,

		Stats:   svc.admin,
		Invites: svc.invites,

		BaseURL: cfg.BaseURL,
	}

	router, err := handler.NewRouter(deps)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// 4. HTTPサーバーの起動
	// WriteTimeoutはWebSocketの長時間接続に影響しない（Hijack後は接続側のデッドラインを使う）
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// SQLiteはworkerを別プロセスで動かさないため、セッション掃除をサーバー内で行う
	if cfg.StoreDriver == config.StoreDriverSQLite {
		go cleanup.NewCleanupJob(svc.sessions, slog.Default()).Start(ctx, cfg.SessionCleanupInterval)
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewDocSessionRepo(newDocStore(cfg, db))

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// 3. クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanup.NewCleanupJob(sessionRepo, slog.Default()).Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("dsn", maskDatabaseURL(cfg.StoreDSN())),
	)

	db, err := database.Open(cfg.StoreDriver, cfg.StoreDSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(cfg.StoreDriver, cfg.StoreDSN(), db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
