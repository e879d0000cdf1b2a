package docstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestSQLStore_AddAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "todos", map[string]any{
		"title":  "牛乳を買う",
		"userId": "u1",
		"tags":   []string{"home"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("Add returned empty id")
	}

	doc, err := store.Get(ctx, "todos", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc == nil {
		t.Fatal("Get returned nil")
	}
	if doc.ID != id {
		t.Errorf("ID = %q, want %q", doc.ID, id)
	}
	if doc.Data["title"] != "牛乳を買う" {
		t.Errorf("title = %v", doc.Data["title"])
	}
	tags, ok := doc.Data["tags"].([]any)
	if !ok || len(tags) != 1 || tags[0] != "home" {
		t.Errorf("tags = %#v", doc.Data["tags"])
	}
}

func TestSQLStore_Get_NotFoundReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	doc, err := store.Get(context.Background(), "todos", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc != nil {
		t.Errorf("Get = %+v, want nil", doc)
	}
}

func TestSQLStore_ServerTimestampResolvedFromClock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "todos", map[string]any{"createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	doc, err := store.Get(ctx, "todos", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ts, ok := doc.Data["createdAt"].(map[string]any)
	if !ok {
		t.Fatalf("createdAt = %#v, want map", doc.Data["createdAt"])
	}
	// stepClockの1回目の呼び出しは 2024-01-01T00:00:01Z
	want := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC).Unix()
	if ts["seconds"] != float64(want) {
		t.Errorf("seconds = %v, want %d", ts["seconds"], want)
	}
	if ts["nanoseconds"] != float64(0) {
		t.Errorf("nanoseconds = %v, want 0", ts["nanoseconds"])
	}
}

func TestSQLStore_Create_DuplicateFails(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "credentials", "a@example.com", map[string]any{"userId": "u1"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := store.Create(ctx, "credentials", "a@example.com", map[string]any{"userId": "u2"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Create error = %v, want ErrAlreadyExists", err)
	}

	doc, _ := store.Get(ctx, "credentials", "a@example.com")
	if doc.Data["userId"] != "u1" {
		t.Errorf("userId = %v, want u1 (first write wins)", doc.Data["userId"])
	}
}

func TestSQLStore_Set_Overwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "admins", "u1", map[string]any{"userId": "u1", "isAdmin": false}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "admins", "u1", map[string]any{"userId": "u1", "isAdmin": true}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	doc, _ := store.Get(ctx, "admins", "u1")
	if doc.Data["isAdmin"] != true {
		t.Errorf("isAdmin = %v, want true", doc.Data["isAdmin"])
	}
}

func TestSQLStore_Update_MergesTopLevelFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := store.Add(ctx, "todos", map[string]any{
		"title":     "before",
		"completed": false,
		"priority":  "high",
	})

	if err := store.Update(ctx, "todos", id, map[string]any{"completed": true, "title": "after"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, _ := store.Get(ctx, "todos", id)
	if doc.Data["title"] != "after" || doc.Data["completed"] != true {
		t.Errorf("patched fields not applied: %#v", doc.Data)
	}
	if doc.Data["priority"] != "high" {
		t.Errorf("untouched field changed: priority = %v", doc.Data["priority"])
	}
}

func TestSQLStore_Update_NotFound(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Update(context.Background(), "todos", "missing", map[string]any{"title": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := store.Add(ctx, "todos", map[string]any{"title": "x"})
	if err := store.Delete(ctx, "todos", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if doc, _ := store.Get(ctx, "todos", id); doc != nil {
		t.Error("document still exists after Delete")
	}
	if err := store.Delete(ctx, "todos", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_Find_FiltersAndOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, _ := store.Add(ctx, "todos", map[string]any{"title": "1", "userId": "u1"})
	_, _ = store.Add(ctx, "todos", map[string]any{"title": "other", "userId": "u2"})
	third, _ := store.Add(ctx, "todos", map[string]any{"title": "3", "userId": "u1"})
	_, _ = store.Add(ctx, "agendaItems", map[string]any{"title": "entry", "userId": "u1"})

	docs, err := store.Find(ctx, Query{Collection: "todos", Filters: []Filter{Where("userId", "u1")}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}
	if docs[0].ID != first || docs[1].ID != third {
		t.Errorf("ascending order = [%s %s], want [%s %s]", docs[0].ID, docs[1].ID, first, third)
	}

	newest, err := store.Find(ctx, Query{Collection: "todos", Filters: []Filter{Where("userId", "u1")}, NewestFirst: true})
	if err != nil {
		t.Fatalf("Find newest: %v", err)
	}
	if newest[0].ID != third {
		t.Errorf("newest first = %s, want %s", newest[0].ID, third)
	}

	all, _ := store.Find(ctx, Query{Collection: "todos"})
	if len(all) != 3 {
		t.Errorf("unfiltered len = %d, want 3", len(all))
	}
}

func TestSQLStore_Find_RejectsInvalidField(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Find(context.Background(), Query{
		Collection: "todos",
		Filters:    []Filter{Where("userId') OR 1=1 --", "x")},
	})
	if !errors.Is(err, ErrInvalidField) {
		t.Fatalf("Find error = %v, want ErrInvalidField", err)
	}
}

func TestResolveSentinels_Nested(t *testing.T) {
	now := time.Unix(1700000000, 42).UTC()
	got := resolveSentinels(map[string]any{
		"meta": map[string]any{"at": ServerTimestamp},
		"n":    1,
	}, now)

	meta := got["meta"].(map[string]any)
	at := meta["at"].(map[string]any)
	if at["seconds"] != int64(1700000000) || at["nanoseconds"] != int64(42) {
		t.Errorf("nested sentinel = %#v", at)
	}
	if got["n"] != 1 {
		t.Errorf("n = %v", got["n"])
	}
}

func TestDialect_Rebind(t *testing.T) {
	got := postgresDialect.rebind("a = ? AND b = ?")
	if got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	if got := sqliteDialect.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestDialect_FindSQL_Postgres(t *testing.T) {
	query, args := postgresDialect.findSQL(Query{
		Collection:  "todos",
		Filters:     []Filter{Where("userId", "u1")},
		NewestFirst: true,
	})
	// 式インデックス (data->>'userId') が使われるよう、フィールド名は式に埋め込む
	want := "SELECT id, data FROM documents WHERE collection = $1 AND data->>'userId' = $2 ORDER BY created_at DESC, id DESC"
	if query != want {
		t.Errorf("query = %q\nwant   %q", query, want)
	}
	if len(args) != 2 || args[0] != "todos" || args[1] != "u1" {
		t.Errorf("args = %#v", args)
	}
}

func TestDialect_FindSQL_SQLite(t *testing.T) {
	query, args := sqliteDialect.findSQL(Query{
		Collection: "agendaItems",
		Filters:    []Filter{Where("userId", "u1"), Where("mood", "happy")},
	})
	want := "SELECT id, data FROM documents WHERE collection = ? AND json_extract(data, '$.userId') = ? " +
		"AND json_extract(data, '$.mood') = ? ORDER BY created_at ASC, id ASC"
	if query != want {
		t.Errorf("query = %q\nwant   %q", query, want)
	}
	if len(args) != 3 || args[1] != "u1" || args[2] != "happy" {
		t.Errorf("args = %#v", args)
	}
}

// TestDialect_FindSQL_MatchesUserIDIndex はuserIdの検索式がマイグレーションの式インデックスと一致することを検証する。
func TestDialect_FindSQL_MatchesUserIDIndex(t *testing.T) {
	tests := []struct {
		name      string
		d         dialect
		migration string
	}{
		{"postgres", postgresDialect, "../database/migrations/postgres/000001_create_documents.up.sql"},
		{"sqlite", sqliteDialect, "../database/migrations/sqlite/000001_create_documents.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := os.ReadFile(tt.migration)
			if err != nil {
				t.Fatalf("failed to read migration: %v", err)
			}
			if expr := tt.d.fieldExpr("userId"); !strings.Contains(string(data), "(collection, ("+expr+"))") &&
				!strings.Contains(string(data), "(collection, "+expr+")") {
				t.Errorf("migration has no index on %s", expr)
			}
		})
	}
}
