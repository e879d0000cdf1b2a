// Package livesync はログイン中ユーザーのタスクと日記エントリをライブ購読し、
// 型付きのレコードとして保持する状態コンテナと、その書き込み操作を提供する。
package livesync

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/metrics"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

// State はAdapterが保持する状態のコピー。
type State struct {
	Principal *model.Principal `json:"principal"`
	Tasks     []record.Task    `json:"tasks"`
	Entries   []record.Entry   `json:"entries"`
	Loading   bool             `json:"isLoading"`
	Error     string           `json:"error,omitempty"`
}

// Adapter はユーザーごとの2つのライブ購読(タスク、日記エントリ)を管理する。
//
// SetPrincipalで購読を張り替え、Closeで停止する。
// 購読の失敗と書き込みの失敗はユーザー向けの文言としてStateのErrorに入る。
// 以前のユーザーの購読から遅れて届いたスナップショットは世代番号で捨てる。
type Adapter struct {
	store   docstore.Store
	writer  *Writer
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	principal    *model.Principal
	tasks        []record.Task
	entries      []record.Entry
	tasksReady   bool
	entriesReady bool
	errMsg       string
	unsubs       []docstore.Unsubscribe
	generation   uint64
	closed       bool
	listeners    map[uint64]func()
	nextListener uint64
}

// NewAdapter はAdapterを生成する。購読はSetPrincipalを呼ぶまで開始しない。
func NewAdapter(store docstore.Store, writer *Writer, recorder metrics.Recorder, logger *slog.Logger) *Adapter {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		store:     store,
		writer:    writer,
		metrics:   recorder,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[uint64]func()),
	}
}

// SetPrincipal は購読対象のユーザーを切り替える。
// 既存の購読を解除し、pがnilでなければタスクと日記エントリの購読を開始する。
// 同じユーザーが再設定された場合は購読を張り替えず、管理者フラグだけを更新する。
func (a *Adapter) SetPrincipal(p *model.Principal) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if a.principal != nil && p != nil && a.principal.ID == p.ID {
		a.principal = p
		a.mu.Unlock()
		a.changed()
		return
	}

	a.generation++
	gen := a.generation
	old := a.unsubs
	a.unsubs = nil
	a.principal = p
	a.tasks = nil
	a.entries = nil
	a.tasksReady = false
	a.entriesReady = false
	a.errMsg = ""
	a.mu.Unlock()

	a.detach(old)
	if p != nil {
		a.subscribe(gen, p)
	}
	a.changed()
}

// Retry は現在のユーザーの購読を張り直す。読み込み済みのデータは保持する。
func (a *Adapter) Retry() {
	a.mu.Lock()
	if a.closed || a.principal == nil {
		a.mu.Unlock()
		return
	}
	a.generation++
	gen := a.generation
	old := a.unsubs
	a.unsubs = nil
	p := a.principal
	a.errMsg = ""
	a.mu.Unlock()

	a.detach(old)
	a.subscribe(gen, p)
	a.changed()
}

// Close はすべての購読を停止する。以降の状態変更は無視される。
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.generation++
	old := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()

	a.detach(old)
	a.cancel()
}

// State は現在の状態のコピーを返す。
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	var principal *model.Principal
	if a.principal != nil {
		p := *a.principal
		principal = &p
	}
	return State{
		Principal: principal,
		Tasks:     slices.Clone(a.tasks),
		Entries:   slices.Clone(a.entries),
		Loading:   a.principal != nil && (!a.tasksReady || !a.entriesReady),
		Error:     a.errMsg,
	}
}

// OnChange は状態が変わるたびに呼ばれる関数を登録し、登録解除の関数を返す。
// fnは購読のゴルーチンから呼ばれるため、ブロックしてはならない。
func (a *Adapter) OnChange(fn func()) func() {
	a.mu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// AddTask はタスクを追加する。
func (a *Adapter) AddTask(ctx context.Context, in record.TaskInput) (string, error) {
	id, err := a.writer.AddTask(ctx, a.currentPrincipal(), in)
	a.afterWrite(err, msgAddTask, false)
	return id, err
}

// UpdateTask はタスクを更新する。
func (a *Adapter) UpdateTask(ctx context.Context, id string, patch record.TaskPatch) error {
	err := a.writer.UpdateTask(ctx, a.currentPrincipal(), id, patch)
	a.afterWrite(err, msgUpdateTask, true)
	return err
}

// DeleteTask はタスクを削除する。
func (a *Adapter) DeleteTask(ctx context.Context, id string) error {
	err := a.writer.DeleteTask(ctx, a.currentPrincipal(), id)
	a.afterWrite(err, msgDeleteTask, true)
	return err
}

// AddEntry は日記エントリを追加する。
func (a *Adapter) AddEntry(ctx context.Context, in record.EntryInput) (string, error) {
	id, err := a.writer.AddEntry(ctx, a.currentPrincipal(), in)
	a.afterWrite(err, msgAddEntry, false)
	return id, err
}

// UpdateEntry は日記エントリを更新する。
func (a *Adapter) UpdateEntry(ctx context.Context, id string, patch record.EntryPatch) error {
	err := a.writer.UpdateEntry(ctx, a.currentPrincipal(), id, patch)
	a.afterWrite(err, msgUpdateEntry, true)
	return err
}

// DeleteEntry は日記エントリを削除する。
func (a *Adapter) DeleteEntry(ctx context.Context, id string) error {
	err := a.writer.DeleteEntry(ctx, a.currentPrincipal(), id)
	a.afterWrite(err, msgDeleteEntry, true)
	return err
}

func (a *Adapter) currentPrincipal() *model.Principal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.principal
}

// afterWrite は書き込みの結果をエラー状態に反映する。
// 入力検証と未認証のエラーはフォーム側で扱うため状態に残さない。
func (a *Adapter) afterWrite(err error, message string, clearOnSuccess bool) {
	if err == nil {
		if !clearOnSuccess {
			return
		}
		a.mu.Lock()
		cleared := a.errMsg != ""
		a.errMsg = ""
		a.mu.Unlock()
		if cleared {
			a.changed()
		}
		return
	}

	if apiErr, ok := model.AsAPIError(err); ok {
		if apiErr.Category == "validation" || apiErr.Code == model.ErrCodeUnauthenticated {
			return
		}
	}

	a.mu.Lock()
	a.errMsg = message
	a.mu.Unlock()
	a.changed()
}

func (a *Adapter) subscribe(gen uint64, p *model.Principal) {
	ctx := asCaller(a.ctx, p)
	var unsubs []docstore.Unsubscribe

	unsubTasks, err := a.store.Watch(ctx, tasksQuery(p.ID),
		func(docs []docstore.Document) { a.applyTasks(gen, docs) },
		func(err error) { a.fail(gen, feedTasks, err) },
	)
	if err != nil {
		a.fail(gen, feedTasks, err)
	} else {
		unsubs = append(unsubs, unsubTasks)
		a.metrics.LiveSubscriptionOpened()
	}

	unsubEntries, err := a.store.Watch(ctx, entriesQuery(p.ID),
		func(docs []docstore.Document) { a.applyEntries(gen, docs) },
		func(err error) { a.fail(gen, feedEntries, err) },
	)
	if err != nil {
		a.fail(gen, feedEntries, err)
	} else {
		unsubs = append(unsubs, unsubEntries)
		a.metrics.LiveSubscriptionOpened()
	}

	a.mu.Lock()
	if gen == a.generation && !a.closed {
		a.unsubs = append(a.unsubs, unsubs...)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	// 購読中にユーザーが切り替わった
	a.detach(unsubs)
}

// detach は購読を解除する。解除の失敗はログに残すだけにする。
func (a *Adapter) detach(unsubs []docstore.Unsubscribe) {
	for _, unsub := range unsubs {
		if err := unsub(); err != nil {
			a.logger.Warn("failed to unsubscribe live query",
				slog.String("error", err.Error()),
			)
		}
		a.metrics.LiveSubscriptionClosed()
	}
}

func (a *Adapter) applyTasks(gen uint64, docs []docstore.Document) {
	tasks := record.ParseTasks(docs, a.now())

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	a.tasks = tasks
	a.tasksReady = true
	a.errMsg = ""
	a.mu.Unlock()

	a.metrics.RecordSnapshot(feedTasks)
	a.changed()
}

func (a *Adapter) applyEntries(gen uint64, docs []docstore.Document) {
	entries := record.ParseEntries(docs, a.now())

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	a.entries = entries
	a.entriesReady = true
	a.errMsg = ""
	a.mu.Unlock()

	a.metrics.RecordSnapshot(feedEntries)
	a.changed()
}

// fail は購読の失敗をエラー状態に反映する。読み込み済みのデータは消さない。
func (a *Adapter) fail(gen uint64, feed string, err error) {
	fe := feedError(feed, err)

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	a.errMsg = fe.Message
	if feed == feedTasks {
		a.tasksReady = true
	} else {
		a.entriesReady = true
	}
	a.mu.Unlock()

	a.metrics.RecordSyncError(feed, "watch")
	a.logger.Warn("live query failed",
		slog.String("feed", feed),
		slog.String("error", err.Error()),
	)
	a.changed()
}

func (a *Adapter) changed() {
	a.mu.Lock()
	fns := make([]func(), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
