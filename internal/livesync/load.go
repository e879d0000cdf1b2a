package livesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

// フィード名
const (
	feedTasks   = "tasks"
	feedEntries = "entries"
)

// Snapshot はあるユーザーのタスクと日記エントリの一覧。
type Snapshot struct {
	Tasks   []record.Task
	Entries []record.Entry
}

// FeedError はフィードの読み込み失敗を表す。
// Messageはユーザー向けの文言、Errは原因。
type FeedError struct {
	Feed    string
	Message string
	Err     error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s feed: %s: %v", e.Feed, e.Message, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// feedError はフィードの失敗をユーザー向けの文言に対応付ける。
func feedError(feed string, err error) *FeedError {
	var message string
	switch {
	case errors.Is(err, docstore.ErrPermissionDenied) && feed == feedTasks:
		message = "You do not have permission to view these tasks."
	case errors.Is(err, docstore.ErrPermissionDenied):
		message = "You do not have permission to view these agenda entries."
	case feed == feedTasks:
		message = "Failed to connect to the tasks database."
	default:
		message = "Failed to connect to the agenda database."
	}
	return &FeedError{Feed: feed, Message: message, Err: err}
}

func tasksQuery(userID string) docstore.Query {
	return docstore.Query{
		Collection: record.TasksCollection,
		Filters:    []docstore.Filter{docstore.Where(record.OwnerField, userID)},
	}
}

func entriesQuery(userID string) docstore.Query {
	return docstore.Query{
		Collection: record.EntriesCollection,
		Filters:    []docstore.Filter{docstore.Where(record.OwnerField, userID)},
	}
}

// Load はユーザーのタスクと日記エントリを1回だけ読み込む。
// ライブ購読を持たないページ描画で使う。失敗時は*FeedErrorを返す。
func Load(ctx context.Context, store docstore.Store, p *model.Principal, now time.Time) (*Snapshot, error) {
	if p == nil {
		return nil, model.NewUnauthenticatedError()
	}
	ctx = asCaller(ctx, p)

	taskDocs, err := store.Find(ctx, tasksQuery(p.ID))
	if err != nil {
		return nil, feedError(feedTasks, err)
	}
	entryDocs, err := store.Find(ctx, entriesQuery(p.ID))
	if err != nil {
		return nil, feedError(feedEntries, err)
	}

	return &Snapshot{
		Tasks:   record.ParseTasks(taskDocs, now),
		Entries: record.ParseEntries(entryDocs, now),
	}, nil
}

// Loader はストアに束縛したLoad。
type Loader struct {
	store docstore.Store
	now   func() time.Time
}

// NewLoader はLoaderを生成する。
func NewLoader(store docstore.Store) *Loader {
	return &Loader{store: store, now: time.Now}
}

// Load はpのタスクと日記エントリを1回だけ読み込む。
func (l *Loader) Load(ctx context.Context, p *model.Principal) (*Snapshot, error) {
	return Load(ctx, l.store, p, l.now())
}
