package docstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// unsubscribeTimeout は購読解除時に配信ゴルーチンの終了を待つ上限。
const unsubscribeTimeout = 5 * time.Second

// ErrUnsubscribeTimeout は配信ゴルーチンが時間内に停止しなかったことを表す。
var ErrUnsubscribeTimeout = errors.New("docstore: watcher did not stop in time")

type finder func(ctx context.Context, q Query) ([]Document, error)

// hub はプロセス内の購読を管理し、変更通知を該当する購読へ振り分ける。
type hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
	logger   *slog.Logger
}

// watcher は1件の購読を表す。
// kickはバッファ1で、配信中に届いた複数の通知は1回の再検索にまとめられる。
type watcher struct {
	query Query
	kick  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		watchers: make(map[*watcher]struct{}),
		logger:   logger,
	}
}

func (h *hub) watch(ctx context.Context, q Query, find finder, onSnapshot func([]Document), onError func(error)) Unsubscribe {
	w := &watcher{
		query: q,
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	// 初回スナップショット
	w.kick <- struct{}{}

	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()

	go h.run(ctx, w, find, onSnapshot, onError)

	return func() error {
		return h.unwatch(w)
	}
}

func (h *hub) run(ctx context.Context, w *watcher, find finder, onSnapshot func([]Document), onError func(error)) {
	defer close(w.done)
	defer h.remove(w)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.kick:
		}

		docs, err := find(ctx, w.query)

		// 検索中に解除された場合は配信しない
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		if err != nil {
			h.logger.Warn("watch query failed",
				slog.String("collection", w.query.Collection),
				slog.String("error", err.Error()),
			)
			if onError != nil {
				onError(err)
			}
			continue
		}
		onSnapshot(docs)
	}
}

func (h *hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
}

// unwatch は配信ゴルーチンの終了を待つ。
// 配信ゴルーチン自身(コールバック内)から呼ばれるとdoneは閉じられないため、タイムアウトする。
func (h *hub) unwatch(w *watcher) error {
	w.once.Do(func() { close(w.stop) })
	h.remove(w)

	select {
	case <-w.done:
		return nil
	case <-time.After(unsubscribeTimeout):
		return ErrUnsubscribeTimeout
	}
}

func (h *hub) notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		if w.query.Collection == collection {
			w.poke()
		}
	}
}

func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		w.poke()
	}
}

func (h *hub) close() error {
	h.mu.Lock()
	watchers := make([]*watcher, 0, len(h.watchers))
	for w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		if err := h.unwatch(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *watcher) poke() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}
