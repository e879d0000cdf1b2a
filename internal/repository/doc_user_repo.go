package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/timestamp"
)

// DocUserRepo はusersコレクションを使用したユーザーリポジトリ。
type DocUserRepo struct {
	store docstore.Store
}

// NewDocUserRepo はDocUserRepoを生成する。
func NewDocUserRepo(store docstore.Store) *DocUserRepo {
	return &DocUserRepo{store: store}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *DocUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	doc, err := r.store.Get(ctx, UsersCollection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	return parseUser(*doc), nil
}

// Create はユーザープロフィールを作成する。
// 最終アクティブ日時が未設定の場合は作成時点の値が入らないため、呼び出し側で設定すること。
func (r *DocUserRepo) Create(ctx context.Context, user *model.User) error {
	data := map[string]any{
		"email":       user.Email,
		"displayName": user.DisplayName,
		"createdAt":   docstore.ServerTimestamp,
	}
	if !user.LastActive.IsZero() {
		data["lastActive"] = timestamp.EpochMillis(user.LastActive)
	}

	if err := r.store.Create(ctx, UsersCollection, user.ID, data); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// TouchLastActive は最終アクティブ日時を更新する。
func (r *DocUserRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	err := r.store.Update(ctx, UsersCollection, id, map[string]any{
		"lastActive": timestamp.EpochMillis(at),
	})
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}

// ListNewestFirst は全ユーザーを登録日時の降順で返す。
func (r *DocUserRepo) ListNewestFirst(ctx context.Context) ([]*model.User, error) {
	docs, err := r.store.Find(ctx, docstore.Query{Collection: UsersCollection, NewestFirst: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*model.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, parseUser(doc))
	}
	return users, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *DocUserRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, UsersCollection, id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// parseUser はドキュメントをUserに変換する。日時が欠けている場合はゼロ値のまま。
func parseUser(doc docstore.Document) *model.User {
	email, _ := doc.Data["email"].(string)
	name, _ := doc.Data["displayName"].(string)
	return &model.User{
		ID:          doc.ID,
		Email:       email,
		DisplayName: name,
		CreatedAt:   timestamp.Normalize(doc.Data["createdAt"], time.Time{}),
		LastActive:  timestamp.Normalize(doc.Data["lastActive"], time.Time{}),
	}
}

// compile-time interface check
var _ UserRepository = (*DocUserRepo)(nil)
