// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, data, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// AsAPIError はerrチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// 定義済みエラーコード
const (
	ErrCodeEmailInUse         = "EMAIL_IN_USE"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeRequiredField      = "REQUIRED_FIELD"
	ErrCodeInvalidPriority    = "INVALID_PRIORITY"
	ErrCodeInvalidMood        = "INVALID_MOOD"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeInvalidAttachment  = "INVALID_ATTACHMENT"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeEntryNotFound      = "ENTRY_NOT_FOUND"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvitesDisabled    = "INVITES_DISABLED"
	ErrCodeWriteFailed        = "WRITE_FAILED"
)

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "This email is already registered.",
		Category: "auth",
		Action:   "Sign in instead, or use a different email address.",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "Please enter a valid email address.",
		Category: "validation",
		Action:   "Check the email address for typos.",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("Password should be at least %d characters.", minLength),
		Category: "validation",
		Action:   "Choose a longer password.",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// 未登録メールアドレスとパスワード誤りは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewTooManyRequestsError は試行回数超過エラーを生成する。
func NewTooManyRequestsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyRequests,
		Message:  "Too many failed login attempts. Please try again later.",
		Category: "auth",
		Action:   "Wait a minute before trying again.",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "User not authenticated",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewForbiddenError は管理者権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Administrator access is required.",
		Category: "auth",
		Action:   "Ask an administrator for an invite.",
	}
}

// NewRequiredFieldError は必須項目未入力エラーを生成する。
func NewRequiredFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeRequiredField,
		Message:  fmt.Sprintf("%s is required.", field),
		Category: "validation",
		Action:   "Fill in all required fields.",
	}
}

// NewInvalidPriorityError は無効な優先度エラーを生成する。
func NewInvalidPriorityError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("Invalid priority: %s", value),
		Category: "validation",
		Action:   "Priority must be one of low, medium or high.",
	}
}

// NewInvalidMoodError は無効な気分エラーを生成する。
func NewInvalidMoodError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMood,
		Message:  fmt.Sprintf("Invalid mood: %s", value),
		Category: "validation",
		Action:   "Mood must be one of happy, neutral or sad.",
	}
}

// NewInvalidDateError は日付形式エラーを生成する。
func NewInvalidDateError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("%s is not a valid date.", field),
		Category: "validation",
		Action:   "Use the YYYY-MM-DD format.",
	}
}

// NewInvalidAttachmentError は音声添付URLの検証エラーを生成する。
func NewInvalidAttachmentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAttachment,
		Message:  fmt.Sprintf("The audio attachment could not be verified: %s", reason),
		Category: "validation",
		Action:   "Attach a publicly reachable audio file.",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("Task not found: %s", taskID),
		Category: "data",
		Action:   "Reload the page to see the latest tasks.",
	}
}

// NewEntryNotFoundError は日記エントリ未検出エラーを生成する。
func NewEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("Agenda entry not found: %s", entryID),
		Category: "data",
		Action:   "Reload the page to see the latest entries.",
	}
}

// NewPermissionDeniedError はアクセスルール違反エラーを生成する。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "You do not have permission to access this data.",
		Category: "data",
		Action:   "Sign in with the account that owns this data.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewInvitesDisabledError は招待機能が無効な場合のエラーを生成する。
func NewInvitesDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitesDisabled,
		Message:  "Admin invites are not enabled on this server.",
		Category: "system",
		Action:   "Set INVITE_SECRET to enable invites.",
	}
}

// NewWriteFailedError は書き込み失敗エラーを生成する。
// messageはUIにそのまま表示する文言。
func NewWriteFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeWriteFailed,
		Message:  message,
		Category: "data",
		Action:   "Please try again.",
	}
}
