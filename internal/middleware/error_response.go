package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/eplan/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, NewInternalError())
}

// NewInternalError は内部エラーのAPIErrorを生成する。
func NewInternalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewUnavailableError は認証基盤に到達できない場合のAPIErrorを生成する。
func NewUnavailableError() *model.APIError {
	return &model.APIError{
		Code:     "SERVICE_UNAVAILABLE",
		Message:  "The service is temporarily unavailable.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
