package middleware

import (
	"net/http"

	"github.com/hitoshi/eplan/internal/guard"
)

// NewPageGuard はページ表示の可否を認証状態から判定するミドルウェアを返す。
// 判定はリクエストごとに行う。loadingの間はplaceholderを表示する。
func NewPageGuard(requireAdmin bool, placeholder http.Handler) func(next http.Handler) http.Handler {
	return pageGuard(func(state guard.AuthState) guard.Decision {
		return guard.Evaluate(state, requireAdmin)
	}, placeholder)
}

// NewGuestGuard はログイン・新規登録ページ用のミドルウェアを返す。
// ログイン済みの場合はホームへ遷移させる。
func NewGuestGuard(placeholder http.Handler) func(next http.Handler) http.Handler {
	return pageGuard(guard.EvaluateGuest, placeholder)
}

func pageGuard(evaluate func(guard.AuthState) guard.Decision, placeholder http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := evaluate(AuthStateFromContext(r.Context()))
			switch decision.Action {
			case guard.ActionRender:
				next.ServeHTTP(w, r)
			case guard.ActionRedirect:
				http.Redirect(w, r, decision.Location, http.StatusSeeOther)
			default:
				w.Header().Set("Cache-Control", "no-store")
				placeholder.ServeHTTP(w, r)
			}
		})
	}
}
