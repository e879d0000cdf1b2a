// Package model はドメインモデルを定義する。
package model

import "time"

// User はusersコレクションに保存されるユーザープロフィールを表す。
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	LastActive  time.Time
}

// Credential はメールアドレスとパスワードハッシュの紐付けを表す。
// メールアドレスは小文字化したものをキーとする。
type Credential struct {
	Email        string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal は認証済みユーザーを表す。
// IsAdmin はセッション解決のたびに管理者レジストリから再計算される。
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin"`
}

// UserStats は管理画面向けにユーザーとタスク集計を結合した行を表す。
type UserStats struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	TaskCount      int       `json:"todoCount"`
	CompletedCount int       `json:"completedCount"`
	RegisteredAt   time.Time `json:"registrationDate"`
	LastActive     time.Time `json:"lastActive"`
}
