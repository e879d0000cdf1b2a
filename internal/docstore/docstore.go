// Package docstore はコレクション単位のドキュメントデータベースを提供する。
//
// ドキュメントはJSONオブジェクトとして保存され、トップレベルの文字列フィールドに対する
// 等価フィルタでの検索と、変更のたびにスナップショット全体を再配信するライブクエリ(Watch)を持つ。
// バックエンドはPostgreSQL(JSONB)とSQLiteの2種類で、SQLの実装は共通化している。
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// 定義済みエラー
var (
	ErrNotFound         = errors.New("docstore: document not found")
	ErrAlreadyExists    = errors.New("docstore: document already exists")
	ErrPermissionDenied = errors.New("docstore: permission denied")
	ErrInvalidField     = errors.New("docstore: invalid field name")
)

// Document はコレクション内の1件のドキュメントを表す。
type Document struct {
	ID   string
	Data map[string]any
}

// Filter はトップレベルの文字列フィールドに対する等価条件を表す。
type Filter struct {
	Field string
	Value string
}

// Where はFilterを生成する。
func Where(field, value string) Filter {
	return Filter{Field: field, Value: value}
}

// Query は検索条件を表す。
// NewestFirst を指定すると挿入日時の降順で返す。指定しない場合は挿入日時の昇順。
type Query struct {
	Collection  string
	Filters     []Filter
	NewestFirst bool
}

// Unsubscribe はWatchの購読を解除する。複数回呼び出しても安全。
type Unsubscribe func() error

// Store はドキュメントデータベースの操作を定義するインターフェース。
type Store interface {
	// Add はIDを採番してドキュメントを追加し、そのIDを返す。
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	// Create は指定IDでドキュメントを作成する。既に存在する場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, collection, id string, data map[string]any) error
	// Set は指定IDのドキュメントを丸ごと書き込む。
	Set(ctx context.Context, collection, id string, data map[string]any) error
	// Get はドキュメントを取得する。存在しない場合はnil, nilを返す。
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Update はpatchのトップレベルフィールドを既存ドキュメントにマージする。
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	// Delete はドキュメントを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, collection, id string) error
	// Find は条件に一致するドキュメントを返す。
	Find(ctx context.Context, q Query) ([]Document, error)
	// Watch はライブクエリを開始する。
	// 直後に1回、以降はコレクションが変更されるたびに結果全体をonSnapshotへ渡す。
	// 検索に失敗した場合はonErrorが呼ばれ、購読は継続する。
	// コールバックは購読ごとに1つのゴルーチンから順番に呼ばれる。
	// Unsubscribeは配信ゴルーチンの終了を待つため、コールバックの中から同期的に呼ぶと
	// 待ち合わせが成立せずErrUnsubscribeTimeoutになる。コールバック内で解除する場合は
	// 別のゴルーチンから呼ぶこと。
	Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (Unsubscribe, error)
}

// serverTimestamp は書き込み時にストアの時刻へ置き換えられる番兵値の型。
type serverTimestamp struct{}

// ServerTimestamp は書き込み時にストアの時刻で {seconds, nanoseconds} へ置き換えられる。
var ServerTimestamp = serverTimestamp{}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

func (q Query) validate() error {
	if q.Collection == "" {
		return errors.New("docstore: collection is required")
	}
	for _, f := range q.Filters {
		if err := validateField(f.Field); err != nil {
			return err
		}
	}
	return nil
}

// Caller はアクセスルールを評価する呼び出し元を表す。
type Caller struct {
	UserID string
	Admin  bool
}

type callerKey struct{}

// WithCaller はコンテキストに呼び出し元を設定する。
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom はコンテキストから呼び出し元を取得する。
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.UserID == "" {
		return Caller{}, false
	}
	return c, true
}
