// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eplan/internal/guard"
	"github.com/hitoshi/eplan/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey = contextKey("principal")
	authStateContextKey = contextKey("auth_state")
)

// PrincipalResolver はセッションIDから認証済みユーザーを解決するインターフェース。
// 無効なセッションにはUNAUTHENTICATEDのAPIErrorを、基盤の障害にはそれ以外のエラーを返す。
type PrincipalResolver interface {
	Resolve(ctx context.Context, sessionID string) (*model.Principal, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みユーザーと認証状態をリクエストコンテキストに注入するミドルウェアを返す。
// 未認証でもリクエストは通し、拒否はRequireAuthやページガードが行う。
// 認証基盤に到達できない場合は認証状態をloadingとする。
func NewSessionMiddleware(resolver PrincipalResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := guard.AuthState{Status: guard.StatusUnauthenticated}
			ctx := r.Context()

			cookie, err := r.Cookie(SessionCookieName)
			if err == nil && cookie.Value != "" {
				principal, resolveErr := resolver.Resolve(ctx, cookie.Value)
				switch {
				case resolveErr == nil && principal != nil:
					state = guard.AuthState{Status: guard.StatusAuthenticated, Admin: principal.IsAdmin}
					ctx = ContextWithPrincipal(ctx, principal)
					setRequestUser(ctx, principal.ID)
				case resolveErr != nil && !isUnauthenticated(resolveErr):
					slog.Error("failed to resolve session",
						slog.String("path", r.URL.Path),
						slog.String("error", resolveErr.Error()),
					)
					state = guard.AuthState{Status: guard.StatusLoading}
				}
			}

			ctx = context.WithValue(ctx, authStateContextKey, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isUnauthenticated(err error) bool {
	apiErr, ok := model.AsAPIError(err)
	return ok && apiErr.Code == model.ErrCodeUnauthenticated
}

// RequireAuth は認証済みでないAPIリクエストを401で拒否する。
// 認証基盤の障害でloadingの場合は503を返す。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			writeAuthFailure(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin は管理者でないAPIリクエストを拒否する。
// RequireAuthの後に配置する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeAuthFailure(w, r)
			return
		}
		if !principal.IsAdmin {
			slog.Warn("admin access denied",
				slog.String("user_id", principal.ID),
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthFailure(w http.ResponseWriter, r *http.Request) {
	if AuthStateFromContext(r.Context()).Status == guard.StatusLoading {
		WriteErrorResponse(w, http.StatusServiceUnavailable, NewUnavailableError())
		return
	}
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}

// PrincipalFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// AuthStateFromContext はページガード用の認証状態を返す。
// セッションミドルウェアを通過していない場合は認証済みユーザーの有無から求める。
func AuthStateFromContext(ctx context.Context) guard.AuthState {
	if state, ok := ctx.Value(authStateContextKey).(guard.AuthState); ok {
		return state
	}
	if p, ok := PrincipalFromContext(ctx); ok {
		return guard.AuthState{Status: guard.StatusAuthenticated, Admin: p.IsAdmin}
	}
	return guard.AuthState{Status: guard.StatusUnauthenticated}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証済みのリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.ID, nil
}
