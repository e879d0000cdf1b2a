package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぐ最上位のエラー境界を返す。
// APIリクエストには統一フォーマットの500を、ページには汎用の障害画面を返す。
// failurePageがnilの場合はテキストの500を返す。
func NewRecoveryMiddleware(logger *slog.Logger, failurePage http.Handler) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				switch {
				case IsAPIRequest(r):
					WriteInternalServerError(w)
				case failurePage != nil:
					failurePage.ServeHTTP(w, r)
				default:
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// IsAPIRequest はJSONを返すべきリクエストかどうかを判定する。
func IsAPIRequest(r *http.Request) bool {
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
