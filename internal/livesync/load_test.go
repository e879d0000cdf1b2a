package livesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

func TestLoad_ReturnsOwnRecordsNewestFirst(t *testing.T) {
	store := newSQLiteStore(t)
	w := NewWriter(store, nil, nil, nil, discardLogger())
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		if _, err := w.AddTask(ctx, u1, record.TaskInput{Title: title}); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}
	if _, err := w.AddEntry(ctx, u1, record.EntryInput{Title: "entry"}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if _, err := w.AddTask(ctx, &model.Principal{ID: "other"}, record.TaskInput{Title: "not mine"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	snap, err := Load(ctx, store, u1, time.Now())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Tasks) != 2 || snap.Tasks[0].Title != "second" {
		t.Errorf("unexpected tasks: %+v", snap.Tasks)
	}
	if len(snap.Entries) != 1 {
		t.Errorf("unexpected entries: %+v", snap.Entries)
	}
}

func TestLoad_RequiresPrincipal(t *testing.T) {
	_, err := Load(context.Background(), failingStore(t), nil, time.Now())
	if apiErr, ok := model.AsAPIError(err); !ok || apiErr.Code != model.ErrCodeUnauthenticated {
		t.Errorf("expected UNAUTHENTICATED, got %v", err)
	}
}

func TestLoad_FeedErrorCarriesMessage(t *testing.T) {
	store := &mockStore{
		findFn: func(_ context.Context, q docstore.Query) ([]docstore.Document, error) {
			if q.Collection == record.EntriesCollection {
				return nil, docstore.ErrPermissionDenied
			}
			return nil, nil
		},
	}

	_, err := Load(context.Background(), store, u1, time.Now())
	var fe *FeedError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FeedError, got %v", err)
	}
	if fe.Feed != "entries" || fe.Message != "You do not have permission to view these agenda entries." {
		t.Errorf("unexpected feed error: %+v", fe)
	}
	if !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Error("expected cause to be preserved")
	}
}

func TestLoader_UsesBoundStore(t *testing.T) {
	store := newSQLiteStore(t)
	w := NewWriter(store, nil, nil, nil, discardLogger())
	if _, err := w.AddTask(context.Background(), u1, record.TaskInput{Title: "bound"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	snap, err := NewLoader(store).Load(context.Background(), u1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Title != "bound" {
		t.Errorf("tasks = %+v", snap.Tasks)
	}
}
