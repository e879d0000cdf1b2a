package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 対応するストアドライバ
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Identity
	PasswordMinLength      int
	PasswordHashCost       int
	LoginAttemptsPerMinute int
	AdminCode              string
	InviteSecret           string
	InviteTTL              time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Attachment
	AttachmentVerify  bool
	AttachmentTimeout time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は不足分をまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverPostgres))
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverSQLite:
		cfg.SQLitePath = getEnvString("SQLITE_PATH", "eplan.db")
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", 6)
	cfg.PasswordHashCost = getEnvInt("PASSWORD_HASH_COST", 10)
	cfg.LoginAttemptsPerMinute = getEnvInt("LOGIN_ATTEMPTS_PER_MINUTE", 5)
	cfg.AdminCode = os.Getenv("ADMIN_CODE")
	cfg.InviteSecret = os.Getenv("INVITE_SECRET")
	cfg.InviteTTL = getEnvDuration("INVITE_TTL", 72*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.AttachmentVerify = getEnvBool("ATTACHMENT_VERIFY", true)
	cfg.AttachmentTimeout = getEnvDuration("ATTACHMENT_TIMEOUT", 5*time.Second)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// StoreDSN はストアドライバに応じた接続文字列を返す。
func (c *Config) StoreDSN() string {
	if c.StoreDriver == StoreDriverSQLite {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
