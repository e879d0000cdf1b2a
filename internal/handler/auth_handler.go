package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eplan/internal/identity"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
)

// IdentityService は認証ハンドラーが必要とするサービスインターフェース。
type IdentityService interface {
	SignUp(ctx context.Context, in identity.SignUpInput) (*identity.AuthResult, error)
	Login(ctx context.Context, email, password string) (*identity.AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	ProvisionAdmin(ctx context.Context, userID, code string) error
	IsAdmin(ctx context.Context, userID string) bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はメールアドレスとパスワードによる認証のHTTPハンドラー。
type AuthHandler struct {
	service IdentityService
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service IdentityService, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	AdminCode   string `json:"adminCode"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminCodeRequest struct {
	Code string `json:"code"`
}

type authResponse struct {
	User *model.Principal `json:"user"`
}

// Register はユーザーを新規登録し、セッションCookieを発行する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.SignUp(r.Context(), identity.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		AdminCode:   req.AdminCode,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setSessionCookie(w, h.config, result.Session)
	writeJSON(w, http.StatusCreated, authResponse{User: result.Principal})
}

// Login はメールアドレスとパスワードで認証し、セッションCookieを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setSessionCookie(w, h.config, result.Session)
	writeJSON(w, http.StatusOK, authResponse{User: result.Principal})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	endSession(r, h.service)
	clearSessionCookie(w, h.config)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: p})
}

// AdminCode はログイン中のユーザーに管理者コードを適用する。
// コードの不一致は記録するだけでエラーにはせず、結果の管理者フラグを返す。
// POST /auth/admin-code
func (h *AuthHandler) AdminCode(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req adminCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ProvisionAdmin(r.Context(), p.ID, req.Code); err != nil {
		slog.Warn("admin provisioning failed",
			slog.String("user_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	updated := *p
	updated.IsAdmin = h.service.IsAdmin(r.Context(), p.ID)
	writeJSON(w, http.StatusOK, authResponse{User: &updated})
}

// endSession はCookieのセッションを破棄する。失敗してもCookieはクリアするためログのみ。
func endSession(r *http.Request, service IdentityService) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return
	}
	if err := service.Logout(r.Context(), cookie.Value); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func setSessionCookie(w http.ResponseWriter, config AuthHandlerConfig, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.SessionMaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieをクリアする。
func clearSessionCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
