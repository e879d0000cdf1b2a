package docstore

import (
	"context"
	"fmt"
)

// RulesStore は所有者フィールドを持つコレクションにアクセスルールを適用するStore。
//
// 対象コレクションでは次を強制する:
//   - コンテキストに呼び出し元(Caller)が設定されていること
//   - 追加・書き込みするドキュメントの所有者が呼び出し元自身であること
//   - 取得・更新・削除は自分のドキュメントに限られ、所有者は変更できないこと
//   - 検索・購読は所有者フィルタ付きであること(管理者を除く)
//
// 対象外のコレクションはそのまま内側のStoreに委譲する。
type RulesStore struct {
	inner      Store
	ownerField string
	owned      map[string]bool
}

// WithOwnerRules はinnerにアクセスルールを重ねたStoreを返す。
func WithOwnerRules(inner Store, ownerField string, collections ...string) *RulesStore {
	owned := make(map[string]bool, len(collections))
	for _, c := range collections {
		owned[c] = true
	}
	return &RulesStore{inner: inner, ownerField: ownerField, owned: owned}
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

func (r *RulesStore) caller(ctx context.Context) (Caller, error) {
	c, ok := CallerFrom(ctx)
	if !ok {
		return Caller{}, denied("no caller in context")
	}
	return c, nil
}

func (r *RulesStore) checkWrite(ctx context.Context, collection string, data map[string]any) error {
	if !r.owned[collection] {
		return nil
	}
	c, err := r.caller(ctx)
	if err != nil {
		return err
	}
	if owner, _ := data[r.ownerField].(string); owner != c.UserID {
		return denied("%s must be the caller", r.ownerField)
	}
	return nil
}

// checkExisting は既存ドキュメントの所有者を確認する。
func (r *RulesStore) checkExisting(ctx context.Context, collection, id string) error {
	c, err := r.caller(ctx)
	if err != nil {
		return err
	}
	doc, err := r.inner.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if owner, _ := doc.Data[r.ownerField].(string); owner != c.UserID && !c.Admin {
		return denied("%s/%s is not owned by the caller", collection, id)
	}
	return nil
}

func (r *RulesStore) checkQuery(ctx context.Context, q Query) error {
	if !r.owned[q.Collection] {
		return nil
	}
	c, err := r.caller(ctx)
	if err != nil {
		return err
	}
	if c.Admin {
		return nil
	}
	for _, f := range q.Filters {
		if f.Field == r.ownerField && f.Value == c.UserID {
			return nil
		}
	}
	return denied("query on %s must be scoped to the caller", q.Collection)
}

// Add はルールを確認してからドキュメントを追加する。
func (r *RulesStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := r.checkWrite(ctx, collection, data); err != nil {
		return "", err
	}
	return r.inner.Add(ctx, collection, data)
}

// Create はルールを確認してからドキュメントを作成する。
func (r *RulesStore) Create(ctx context.Context, collection, id string, data map[string]any) error {
	if err := r.checkWrite(ctx, collection, data); err != nil {
		return err
	}
	return r.inner.Create(ctx, collection, id, data)
}

// Set はルールを確認してからドキュメントを書き込む。
// 既存ドキュメントがある場合はその所有者も確認する。
func (r *RulesStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := r.checkWrite(ctx, collection, data); err != nil {
		return err
	}
	if r.owned[collection] {
		if err := r.checkExisting(ctx, collection, id); err != nil && err != ErrNotFound {
			return err
		}
	}
	return r.inner.Set(ctx, collection, id, data)
}

// Get は自分のドキュメントであることを確認して返す。
func (r *RulesStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if !r.owned[collection] {
		return r.inner.Get(ctx, collection, id)
	}
	c, err := r.caller(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := r.inner.Get(ctx, collection, id)
	if err != nil || doc == nil {
		return doc, err
	}
	if owner, _ := doc.Data[r.ownerField].(string); owner != c.UserID && !c.Admin {
		return nil, denied("%s/%s is not owned by the caller", collection, id)
	}
	return doc, nil
}

// Update は所有者を確認し、所有者フィールドの変更を拒否する。
func (r *RulesStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if r.owned[collection] {
		if _, ok := patch[r.ownerField]; ok {
			return denied("%s cannot be changed", r.ownerField)
		}
		if err := r.checkExisting(ctx, collection, id); err != nil {
			return err
		}
	}
	return r.inner.Update(ctx, collection, id, patch)
}

// Delete は所有者を確認してから削除する。
func (r *RulesStore) Delete(ctx context.Context, collection, id string) error {
	if r.owned[collection] {
		if err := r.checkExisting(ctx, collection, id); err != nil {
			return err
		}
	}
	return r.inner.Delete(ctx, collection, id)
}

// Find は検索範囲を確認してから検索する。
func (r *RulesStore) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := r.checkQuery(ctx, q); err != nil {
		return nil, err
	}
	return r.inner.Find(ctx, q)
}

// Watch は検索範囲を確認してから購読を開始する。
func (r *RulesStore) Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (Unsubscribe, error) {
	if err := r.checkQuery(ctx, q); err != nil {
		return nil, err
	}
	return r.inner.Watch(ctx, q, onSnapshot, onError)
}

var _ Store = (*RulesStore)(nil)
