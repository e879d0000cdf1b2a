package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/timestamp"
)

// DocCredentialRepo はcredentialsコレクションを使用した認証情報リポジトリ。
// ドキュメントIDは小文字化したメールアドレスで、作成の一意性をIDで保証する。
type DocCredentialRepo struct {
	store docstore.Store
}

// NewDocCredentialRepo はDocCredentialRepoを生成する。
func NewDocCredentialRepo(store docstore.Store) *DocCredentialRepo {
	return &DocCredentialRepo{store: store}
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create は認証情報を作成する。
func (r *DocCredentialRepo) Create(ctx context.Context, cred *model.Credential) error {
	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := r.store.Create(ctx, CredentialsCollection, NormalizeEmail(cred.Email), map[string]any{
		"userId":       cred.UserID,
		"passwordHash": cred.PasswordHash,
		"createdAt":    timestamp.ISO(createdAt),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスで認証情報を検索する。見つからない場合はnilを返す。
func (r *DocCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	key := NormalizeEmail(email)
	doc, err := r.store.Get(ctx, CredentialsCollection, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	userID, _ := doc.Data["userId"].(string)
	hash, _ := doc.Data["passwordHash"].(string)
	return &model.Credential{
		Email:        key,
		UserID:       userID,
		PasswordHash: hash,
		CreatedAt:    timestamp.Normalize(doc.Data["createdAt"], time.Time{}),
	}, nil
}

// DeleteByEmail は認証情報を削除する。
func (r *DocCredentialRepo) DeleteByEmail(ctx context.Context, email string) error {
	err := r.store.Delete(ctx, CredentialsCollection, NormalizeEmail(email))
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*DocCredentialRepo)(nil)
