package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
)

func TestParseEntry_Defaults(t *testing.T) {
	e := ParseEntry(docstore.Document{ID: "e1", Data: map[string]any{}}, testNow)

	if e.Mood != MoodNeutral {
		t.Errorf("Mood = %q, want neutral", e.Mood)
	}
	if !e.Date.Equal(testNow) {
		t.Errorf("Date = %v, want now", e.Date)
	}
	if e.IsPrivate {
		t.Error("IsPrivate should default to false")
	}
	if e.AudioURL != "" {
		t.Errorf("AudioURL = %q", e.AudioURL)
	}
	if e.UpdatedAt != nil {
		t.Errorf("UpdatedAt = %v, want nil", e.UpdatedAt)
	}
	if len(e.Tags) != 0 || e.Tags == nil {
		t.Errorf("Tags = %#v", e.Tags)
	}
}

func TestParseEntry_KeepsUnknownStoredMood(t *testing.T) {
	e := ParseEntry(docstore.Document{Data: map[string]any{"mood": "excited"}}, testNow)
	if e.Mood != "excited" {
		t.Errorf("Mood = %q, want stored value", e.Mood)
	}
}

func TestParseEntry_Fields(t *testing.T) {
	doc := docstore.Document{ID: "e1", Data: map[string]any{
		"title":     "Day one",
		"content":   "Went hiking",
		"date":      "2024-05-30T08:00:00Z",
		"mood":      "happy",
		"isPrivate": true,
		"createdAt": map[string]any{"_seconds": float64(1717000000), "_nanoseconds": float64(0)},
		"updatedAt": float64(1717000500000),
		"userId":    "u1",
		"audioUrl":  "https://cdn.example.com/a.webm",
		"tags":      []any{"outdoors"},
	}}

	e := ParseEntry(doc, testNow)

	if e.Title != "Day one" || e.Content != "Went hiking" || e.Mood != MoodHappy || !e.IsPrivate {
		t.Errorf("fields = %+v", e)
	}
	if !e.Date.Equal(time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", e.Date)
	}
	if !e.CreatedAt.Equal(time.Unix(1717000000, 0)) {
		t.Errorf("CreatedAt = %v", e.CreatedAt)
	}
	if e.UpdatedAt == nil || !e.UpdatedAt.Equal(time.UnixMilli(1717000500000)) {
		t.Errorf("UpdatedAt = %v", e.UpdatedAt)
	}
	if e.AudioURL != "https://cdn.example.com/a.webm" {
		t.Errorf("AudioURL = %q", e.AudioURL)
	}
}

func TestParseEntries_SortedNewestFirst(t *testing.T) {
	docs := []docstore.Document{
		{ID: "a", Data: map[string]any{"createdAt": "2024-01-01T00:00:00Z"}},
		{ID: "b", Data: map[string]any{"createdAt": "2024-03-01T00:00:00Z"}},
		{ID: "c", Data: map[string]any{"createdAt": "2024-02-01T00:00:00Z"}},
	}
	entries := ParseEntries(docs, testNow)
	if entries[0].ID != "b" || entries[1].ID != "c" || entries[2].ID != "a" {
		t.Errorf("order = %s %s %s", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestEntryInput_NormalizeAndFields(t *testing.T) {
	in := EntryInput{Title: " Morning ", Content: " coffee "}
	if err := in.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if in.Mood != MoodNeutral {
		t.Errorf("Mood = %q, want neutral default", in.Mood)
	}

	fields := in.Fields(testNow)
	if fields["date"] != "2024-06-01T12:00:00Z" {
		t.Errorf("date = %v, want now when not provided", fields["date"])
	}
	if fields["title"] != "Morning" || fields["content"] != "coffee" {
		t.Errorf("fields = %#v", fields)
	}
	if fields["isPrivate"] != false {
		t.Errorf("isPrivate = %v", fields["isPrivate"])
	}
}

func TestEntryInput_RejectsUnknownMood(t *testing.T) {
	in := EntryInput{Title: "x", Mood: "furious"}
	if err := in.Normalize(); err == nil {
		t.Fatal("expected error for unknown mood")
	}
}

func TestEntryPatch_Fields(t *testing.T) {
	private := true
	mood := MoodSad
	p := EntryPatch{IsPrivate: &private, Mood: &mood}
	if err := p.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	fields := p.Fields()
	if fields["isPrivate"] != true || fields["mood"] != "sad" || len(fields) != 2 {
		t.Errorf("fields = %#v", fields)
	}
}

func TestEntryPatch_RejectsBadDate(t *testing.T) {
	bad := "someday"
	p := EntryPatch{Date: &bad}
	if err := p.Normalize(); err == nil {
		t.Fatal("expected error for invalid date")
	}
}

func TestParseEntry_OutOfRangeDatesFallBack(t *testing.T) {
	e := ParseEntry(docstore.Document{ID: "e1", Data: map[string]any{
		"date":      float64(1e20),
		"createdAt": map[string]any{"seconds": float64(1e12)},
		"updatedAt": float64(-1e17),
	}}, testNow)

	if !e.Date.Equal(testNow) {
		t.Errorf("Date = %v, want now", e.Date)
	}
	if !e.CreatedAt.Equal(time.Unix(0, 0)) {
		t.Errorf("CreatedAt = %v, want epoch", e.CreatedAt)
	}
	if e.UpdatedAt != nil {
		t.Errorf("UpdatedAt = %v, want nil", e.UpdatedAt)
	}
	if _, err := json.Marshal(e); err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
}
