// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
)

// ErrCodeFeedUnavailable はタスク・日記エントリの読み込みに失敗した場合のエラーコード。
const ErrCodeFeedUnavailable = "FEED_UNAVAILABLE"

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 失敗した場合は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}
	return true
}

func newInvalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	}
}

// principalOrUnauthorized はコンテキストから認証済みユーザーを取り出す。
// RequireAuthの内側でのみ呼ぶ。
func principalOrUnauthorized(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	return p, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var feedErr *livesync.FeedError
	if errors.As(err, &feedErr) {
		status, apiErr := feedErrorResponse(feedErr)
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	if apiErr, ok := model.AsAPIError(err); ok {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// feedErrorResponse は読み込み失敗をステータスコードとユーザー向けのエラーに変換する。
func feedErrorResponse(feedErr *livesync.FeedError) (int, *model.APIError) {
	if errors.Is(feedErr.Err, docstore.ErrPermissionDenied) {
		apiErr := model.NewPermissionDeniedError()
		apiErr.Message = feedErr.Message
		return http.StatusForbidden, apiErr
	}

	slog.Error("feed load failed",
		slog.String("feed", feedErr.Feed),
		slog.String("error", feedErr.Error()),
	)
	return http.StatusServiceUnavailable, &model.APIError{
		Code:     ErrCodeFeedUnavailable,
		Message:  feedErr.Message,
		Category: "data",
		Action:   "Please wait a moment and retry.",
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeEmailInUse:
		return http.StatusConflict
	case model.ErrCodeInvalidEmail, model.ErrCodeWeakPassword, model.ErrCodeRequiredField,
		model.ErrCodeInvalidPriority, model.ErrCodeInvalidMood, model.ErrCodeInvalidDate,
		model.ErrCodeInvalidAttachment:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case model.ErrCodeForbidden, model.ErrCodePermissionDenied:
		return http.StatusForbidden
	case model.ErrCodeTaskNotFound, model.ErrCodeEntryNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvitesDisabled:
		return http.StatusNotImplemented
	case model.ErrCodeWriteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
