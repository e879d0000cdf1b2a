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

// DocSessionRepo はsessionsコレクションを使用したセッションリポジトリ。
type DocSessionRepo struct {
	store docstore.Store
	now   func() time.Time
}

// NewDocSessionRepo はDocSessionRepoを生成する。
func NewDocSessionRepo(store docstore.Store) *DocSessionRepo {
	return &DocSessionRepo{store: store, now: time.Now}
}

// Create はセッションを作成する。
func (r *DocSessionRepo) Create(ctx context.Context, session *model.Session) error {
	err := r.store.Create(ctx, SessionsCollection, session.ID, map[string]any{
		"userId":    session.UserID,
		"expiresAt": timestamp.ISO(session.ExpiresAt),
		"createdAt": timestamp.ISO(session.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *DocSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	doc, err := r.store.Get(ctx, SessionsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	session := parseSession(*doc)
	if !session.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *DocSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, SessionsCollection, id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *DocSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	docs, err := r.store.Find(ctx, docstore.Query{
		Collection: SessionsCollection,
		Filters:    []docstore.Filter{docstore.Where("userId", userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}
	for _, doc := range docs {
		if err := r.DeleteByID(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete user sessions: %w", err)
		}
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
func (r *DocSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	docs, err := r.store.Find(ctx, docstore.Query{Collection: SessionsCollection})
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	deleted := 0
	for _, doc := range docs {
		if parseSession(doc).ExpiresAt.After(now) {
			continue
		}
		if err := r.DeleteByID(ctx, doc.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// parseSession はドキュメントをSessionに変換する。
// 有効期限が読めないセッションは期限切れとして扱われるようゼロ値になる。
func parseSession(doc docstore.Document) *model.Session {
	userID, _ := doc.Data["userId"].(string)
	return &model.Session{
		ID:        doc.ID,
		UserID:    userID,
		ExpiresAt: timestamp.Normalize(doc.Data["expiresAt"], time.Time{}),
		CreatedAt: timestamp.Normalize(doc.Data["createdAt"], time.Time{}),
	}
}

// compile-time interface check
var _ SessionRepository = (*DocSessionRepo)(nil)
