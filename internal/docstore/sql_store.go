package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SQLStore はdocumentsテーブルを使うStoreの実装。
// PostgreSQLとSQLiteの差分はdialectで吸収する。
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	hub     *hub
	now     func() time.Time
	logger  *slog.Logger
}

// Option はSQLStoreの設定を変更する。
type Option func(*SQLStore)

// WithClock はServerTimestampと作成日時に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) { s.now = now }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLStore) { s.logger = logger }
}

// NewPostgres はPostgreSQLバックエンドのSQLStoreを生成する。
// 他プロセスの変更を購読に反映するには RunChangeListener を併用する。
func NewPostgres(db *sql.DB, opts ...Option) *SQLStore {
	return newSQLStore(db, postgresDialect, opts)
}

// NewSQLite はSQLiteバックエンドのSQLStoreを生成する。
// 変更通知はプロセス内のみで完結する。
func NewSQLite(db *sql.DB, opts ...Option) *SQLStore {
	return newSQLStore(db, sqliteDialect, opts)
}

func newSQLStore(db *sql.DB, d dialect, opts []Option) *SQLStore {
	s := &SQLStore{
		db:      db,
		dialect: d,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	return s
}

// Backend はバックエンド名("postgres" または "sqlite")を返す。
func (s *SQLStore) Backend() string {
	return s.dialect.name
}

// Add はIDを採番してドキュメントを追加する。
func (s *SQLStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.New().String()
	now := s.now()
	body, err := s.encode(data, now)
	if err != nil {
		return "", err
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.insertSQL(),
		collection, id, body, s.dialect.encodeTime(now), s.dialect.encodeTime(now),
	); err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w", collection, err)
	}

	s.hub.notify(collection)
	return id, nil
}

// Create は指定IDでドキュメントを作成する。
func (s *SQLStore) Create(ctx context.Context, collection, id string, data map[string]any) error {
	now := s.now()
	body, err := s.encode(data, now)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.dialect.createSQL(),
		collection, id, body, s.dialect.encodeTime(now), s.dialect.encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create document %s/%s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}

	s.hub.notify(collection)
	return nil
}

// Set は指定IDのドキュメントを丸ごと書き込む。
func (s *SQLStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	now := s.now()
	body, err := s.encode(data, now)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.upsertSQL(),
		collection, id, body, s.dialect.encodeTime(now), s.dialect.encodeTime(now),
	); err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w", collection, id, err)
	}

	s.hub.notify(collection)
	return nil
}

// Get はドキュメントを取得する。存在しない場合はnil, nilを返す。
func (s *SQLStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.dialect.getSQL(false), collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}

	data, err := decode(body)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: data}, nil
}

// Update はpatchを既存ドキュメントにマージする。
// 読み出しとマージと書き戻しを1トランザクションで行う。
func (s *SQLStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body []byte
	err = tx.QueryRowContext(ctx, s.dialect.getSQL(true), collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load document %s/%s: %w", collection, id, err)
	}

	current, err := decode(body)
	if err != nil {
		return err
	}
	for k, v := range patch {
		current[k] = v
	}

	now := s.now()
	merged, err := s.encode(current, now)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.updateSQL(),
		merged, s.dialect.encodeTime(now), collection, id,
	); err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}

	s.hub.notify(collection)
	return nil
}

// Delete はドキュメントを削除する。
func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, s.dialect.deleteSQL(), collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.hub.notify(collection)
	return nil
}

// Find は条件に一致するドキュメントを返す。
func (s *SQLStore) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	query, args := s.dialect.findSQL(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decode(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Watch はライブクエリを開始する。
func (s *SQLStore) Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (Unsubscribe, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, errors.New("docstore: onSnapshot is required")
	}
	return s.hub.watch(ctx, q, s.Find, onSnapshot, onError), nil
}

// Notify は指定コレクションの購読に再検索を促す。
func (s *SQLStore) Notify(collection string) {
	s.hub.notify(collection)
}

// NotifyAll はすべての購読に再検索を促す。
// 変更通知を取りこぼした可能性がある場合(再接続時など)に使う。
func (s *SQLStore) NotifyAll() {
	s.hub.notifyAll()
}

// Close はすべての購読を停止する。データベース接続は閉じない。
func (s *SQLStore) Close() error {
	return s.hub.close()
}

// encode はServerTimestampを解決してJSON文字列にする。
func (s *SQLStore) encode(data map[string]any, now time.Time) (string, error) {
	resolved := resolveSentinels(data, now)
	body, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(body), nil
}

func decode(body []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(body) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return data, nil
}

// resolveSentinels はServerTimestampを {seconds, nanoseconds} に置き換えたコピーを返す。
func resolveSentinels(data map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = map[string]any{
				"seconds":     now.Unix(),
				"nanoseconds": int64(now.Nanosecond()),
			}
		case map[string]any:
			out[k] = resolveSentinels(val, now)
		default:
			out[k] = v
		}
	}
	return out
}

var _ Store = (*SQLStore)(nil)
