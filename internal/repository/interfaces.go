// Package repository はデータ永続化のインターフェースを定義する。
// 実装はdocstoreのコレクションを使う。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/eplan/internal/model"
)

// コレクション名
const (
	UsersCollection       = "users"
	CredentialsCollection = "credentials"
	SessionsCollection    = "sessions"
	AdminsCollection      = "admins"
)

// ErrDuplicate は一意であるべきレコードが既に存在することを表す。
var ErrDuplicate = errors.New("repository: duplicate record")

// UserRepository はユーザープロフィールの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// Create はユーザープロフィールを作成する。作成日時はストアの時刻になる。
	Create(ctx context.Context, user *model.User) error
	// TouchLastActive は最終アクティブ日時を更新する。
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	// ListNewestFirst は全ユーザーを登録日時の降順で返す。
	ListNewestFirst(ctx context.Context) ([]*model.User, error)
	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// CredentialRepository はメールアドレスとパスワードハッシュの永続化インターフェース。
type CredentialRepository interface {
	// Create は認証情報を作成する。メールアドレスが登録済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, cred *model.Credential) error
	// FindByEmail はメールアドレスで認証情報を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)
	// DeleteByEmail は認証情報を削除する。
	DeleteByEmail(ctx context.Context, email string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AdminRepository は管理者レジストリの永続化インターフェース。
type AdminRepository interface {
	// Grant は指定ユーザーを管理者として登録する。登録済みの場合は上書きする。
	Grant(ctx context.Context, userID string) error
	// Revoke は指定ユーザーの管理者登録を削除する。
	Revoke(ctx context.Context, userID string) error
	// IsAdmin は指定ユーザーが管理者として登録されているかを返す。
	IsAdmin(ctx context.Context, userID string) (bool, error)
}
