// Package identity はメールアドレスとパスワードによる認証、セッション管理、管理者判定を提供する。
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/eplan/internal/invite"
	"github.com/hitoshi/eplan/internal/metrics"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/repository"
)

// lastActiveInterval はセッション解決時に最終アクティブ日時を更新する最小間隔。
const lastActiveInterval = 5 * time.Minute

// InviteRedeemer は管理者招待トークンの引き換えインターフェース。
type InviteRedeemer interface {
	Enabled() bool
	Redeem(ctx context.Context, token, userID string) (*invite.Claims, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge          int    // セッション有効期間（秒）
	PasswordMinLength      int    // パスワードの最小文字数
	PasswordHashCost       int    // bcryptのコスト
	AdminCode              string // 管理者登録用の共有コード。空の場合は無効
	LoginAttemptsPerMinute int    // メールアドレスごとのログイン試行上限
}

// DefaultServiceConfig はデフォルトの設定を返す。
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SessionMaxAge:          86400,
		PasswordMinLength:      6,
		PasswordHashCost:       bcrypt.DefaultCost,
		LoginAttemptsPerMinute: 5,
	}
}

// SignUpInput は新規登録の入力。
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	AdminCode   string
}

// AuthResult はログイン・新規登録の結果。
type AuthResult struct {
	Session   *model.Session
	Principal *model.Principal
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	creds    repository.CredentialRepository
	sessions repository.SessionRepository
	admins   repository.AdminRepository
	invites  InviteRedeemer
	config   ServiceConfig
	attempts *attemptLimiter
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceを生成する。invitesはnilでもよい。
func NewService(
	users repository.UserRepository,
	creds repository.CredentialRepository,
	sessions repository.SessionRepository,
	admins repository.AdminRepository,
	invites InviteRedeemer,
	config ServiceConfig,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Service {
	if config.PasswordMinLength <= 0 {
		config.PasswordMinLength = 6
	}
	if config.PasswordHashCost == 0 {
		config.PasswordHashCost = bcrypt.DefaultCost
	}
	if config.LoginAttemptsPerMinute <= 0 {
		config.LoginAttemptsPerMinute = 5
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		creds:    creds,
		sessions: sessions,
		admins:   admins,
		invites:  invites,
		config:   config,
		attempts: newAttemptLimiter(config.LoginAttemptsPerMinute),
		metrics:  recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SignUp はユーザーを新規登録し、セッションを発行する。
// AdminCodeが指定された場合は管理者登録を試みるが、その失敗は登録自体を失敗させない。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	email := strings.TrimSpace(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)

	if err := s.validateSignUp(email, in.Password, displayName); err != nil {
		s.metrics.RecordAuthEvent("signup", "invalid")
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.PasswordHashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	userID := uuid.New().String()

	// 1. 認証情報を先に作成し、メールアドレスの一意性をここで確定させる
	err = s.creds.Create(ctx, &model.Credential{
		Email:        email,
		UserID:       userID,
		PasswordHash: string(hash),
		CreatedAt:    now,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		s.metrics.RecordAuthEvent("signup", "email_in_use")
		return nil, model.NewEmailInUseError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	// 2. プロフィールを作成
	user := &model.User{
		ID:          userID,
		Email:       email,
		DisplayName: displayName,
		LastActive:  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 認証情報だけが残るとそのメールアドレスで再登録できなくなるため戻す
		if delErr := s.creds.DeleteByEmail(ctx, email); delErr != nil {
			s.logger.Error("failed to roll back credential",
				slog.String("user_id", userID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to create user profile: %w", err)
	}

	// 3. 管理者コード
	if in.AdminCode != "" {
		if err := s.ProvisionAdmin(ctx, userID, in.AdminCode); err != nil {
			s.logger.Warn("admin provisioning failed during sign-up",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthEvent("signup", "success")
	s.logger.Info("user signed up", slog.String("user_id", userID))

	return &AuthResult{
		Session:   session,
		Principal: s.principalFor(ctx, user),
	}, nil
}

func (s *Service) validateSignUp(email, password, displayName string) error {
	if email == "" {
		return model.NewRequiredFieldError("Email")
	}
	if displayName == "" {
		return model.NewRequiredFieldError("Name")
	}
	if !validEmail(email) {
		return model.NewInvalidEmailError()
	}
	if len([]rune(password)) < s.config.PasswordMinLength {
		return model.NewWeakPasswordError(s.config.PasswordMinLength)
	}
	return nil
}

// validEmail は表示名なしの単一アドレスかどうかを判定する。
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(addr.Address, "@")
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
// 未登録メールアドレスとパスワード誤りは同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, model.NewRequiredFieldError("Email")
	}
	if password == "" {
		return nil, model.NewRequiredFieldError("Password")
	}

	key := repository.NormalizeEmail(email)
	if !s.attempts.allow(key) {
		s.metrics.RecordAuthEvent("login", "throttled")
		return nil, model.NewTooManyRequestsError()
	}

	cred, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		s.metrics.RecordAuthEvent("login", "failure")
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		s.metrics.RecordAuthEvent("login", "failure")
		return nil, model.NewInvalidCredentialsError()
	}
	s.attempts.reset(key)

	user, err := s.users.FindByID(ctx, cred.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.touch(ctx, user)

	s.metrics.RecordAuthEvent("login", "success")
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &AuthResult{
		Session:   session,
		Principal: s.principalFor(ctx, user),
	}, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.metrics.RecordAuthEvent("logout", "success")
	s.logger.Info("user logged out")
	return nil
}

// Resolve はセッションから認証済みユーザーを解決する。
// 管理者フラグは呼び出しごとに管理者レジストリから再計算する。
// セッションが無効な場合はUNAUTHENTICATEDのAPIErrorを返し、
// ストアの障害はそれ以外のエラーとして返す。
func (s *Service) Resolve(ctx context.Context, sessionID string) (*model.Principal, error) {
	if sessionID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}

	if s.now().Sub(user.LastActive) >= lastActiveInterval {
		s.touch(ctx, user)
	}

	return s.principalFor(ctx, user), nil
}

// IsAdmin は管理者レジストリを参照する。
// 参照に失敗した場合は管理者ではないものとして扱う。
func (s *Service) IsAdmin(ctx context.Context, userID string) bool {
	isAdmin, err := s.admins.IsAdmin(ctx, userID)
	if err != nil {
		s.logger.Warn("admin lookup failed; treating as non-admin",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return isAdmin
}

// ProvisionAdmin はコードを検証し、一致すれば管理者として登録する。
// コードは共有の管理者コードまたは招待トークンのいずれか。
func (s *Service) ProvisionAdmin(ctx context.Context, userID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("admin code is empty")
	}

	switch {
	case s.matchesAdminCode(code):
	case s.invites != nil && s.invites.Enabled():
		claims, err := s.invites.Redeem(ctx, code, userID)
		if err != nil {
			s.metrics.RecordAuthEvent("admin_grant", "rejected")
			return fmt.Errorf("admin code rejected: %w", err)
		}
		s.logger.Info("admin invite redeemed",
			slog.String("user_id", userID),
			slog.String("issued_by", claims.IssuedBy),
		)
	default:
		s.metrics.RecordAuthEvent("admin_grant", "rejected")
		return fmt.Errorf("admin code rejected")
	}

	if err := s.admins.Grant(ctx, userID); err != nil {
		s.metrics.RecordAuthEvent("admin_grant", "error")
		return fmt.Errorf("failed to grant admin: %w", err)
	}

	s.metrics.RecordAuthEvent("admin_grant", "success")
	s.logger.Info("admin granted", slog.String("user_id", userID))
	return nil
}

func (s *Service) matchesAdminCode(code string) bool {
	if s.config.AdminCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.config.AdminCode)) == 1
}

func (s *Service) principalFor(ctx context.Context, user *model.User) *model.Principal {
	return &model.Principal{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsAdmin:     s.IsAdmin(ctx, user.ID),
	}
}

// touch は最終アクティブ日時を更新する。失敗はログに残すだけにする。
func (s *Service) touch(ctx context.Context, user *model.User) {
	now := s.now()
	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last active",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.LastActive = now
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
