package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/timestamp"
)

// DocAdminRepo はadminsコレクションを使用した管理者レジストリ。
// ドキュメントIDはユーザーIDで、中身は {userId, isAdmin, createdAt}。
type DocAdminRepo struct {
	store docstore.Store
	now   func() time.Time
}

// NewDocAdminRepo はDocAdminRepoを生成する。
func NewDocAdminRepo(store docstore.Store) *DocAdminRepo {
	return &DocAdminRepo{store: store, now: time.Now}
}

// Grant は指定ユーザーを管理者として登録する。
func (r *DocAdminRepo) Grant(ctx context.Context, userID string) error {
	err := r.store.Set(ctx, AdminsCollection, userID, map[string]any{
		"userId":    userID,
		"isAdmin":   true,
		"createdAt": timestamp.ISO(r.now()),
	})
	if err != nil {
		return fmt.Errorf("failed to grant admin: %w", err)
	}
	return nil
}

// Revoke は指定ユーザーの管理者登録を削除する。
func (r *DocAdminRepo) Revoke(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, AdminsCollection, userID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to revoke admin: %w", err)
	}
	return nil
}

// IsAdmin はuserIdが一致する登録が1件でもあれば管理者とみなす。
func (r *DocAdminRepo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	docs, err := r.store.Find(ctx, docstore.Query{
		Collection: AdminsCollection,
		Filters:    []docstore.Filter{docstore.Where("userId", userID)},
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up admin registry: %w", err)
	}
	return len(docs) > 0, nil
}

// compile-time interface check
var _ AdminRepository = (*DocAdminRepo)(nil)
