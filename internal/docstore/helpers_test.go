package docstore

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hitoshi/eplan/internal/database"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stepClock は呼ばれるたびに1秒進む時計。
// 作成日時の順序を決定的にするために使う。
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// newTestStore はマイグレーション済みのインメモリSQLiteでSQLStoreを生成する。
func newTestStore(t *testing.T) (*SQLStore, *stepClock) {
	t.Helper()

	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := database.MigrateSQLite(db); err != nil {
		db.Close()
		t.Fatalf("MigrateSQLite: %v", err)
	}

	clock := newStepClock()
	store := NewSQLite(db, WithClock(clock.Now))
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store, clock
}

// snapshotRecorder はWatchのコールバックをチャネルに流す。
type snapshotRecorder struct {
	snapshots chan []Document
	errs      chan error
}

func newSnapshotRecorder() *snapshotRecorder {
	return &snapshotRecorder{
		snapshots: make(chan []Document, 16),
		errs:      make(chan error, 16),
	}
}

func (r *snapshotRecorder) onSnapshot(docs []Document) { r.snapshots <- docs }
func (r *snapshotRecorder) onError(err error)          { r.errs <- err }

func (r *snapshotRecorder) next(t *testing.T) []Document {
	t.Helper()
	select {
	case docs := <-r.snapshots:
		return docs
	case err := <-r.errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

// waitFor は条件を満たすスナップショットが届くまで待つ。
// 通知はまとめられることがあるため、途中のスナップショットは読み捨てる。
func (r *snapshotRecorder) waitFor(t *testing.T, cond func([]Document) bool) []Document {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-r.snapshots:
			if cond(docs) {
				return docs
			}
		case err := <-r.errs:
			t.Fatalf("unexpected watch error: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
