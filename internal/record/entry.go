package record

import (
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/timestamp"
)

// Mood は日記エントリの気分。
// 保存済みの値は語彙外でもそのまま保持し、入力時のみ語彙で検証する。
type Mood string

// 気分
const (
	MoodHappy   Mood = "happy"
	MoodNeutral Mood = "neutral"
	MoodSad     Mood = "sad"
)

// Moods は入力として受け付ける気分の一覧。
var Moods = []Mood{MoodHappy, MoodNeutral, MoodSad}

// Valid は入力として受け付ける気分かどうかを返す。
func (m Mood) Valid() bool {
	for _, known := range Moods {
		if m == known {
			return true
		}
	}
	return false
}

// Entry はユーザーの日記エントリ。
type Entry struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Date      time.Time  `json:"date"`
	Mood      Mood       `json:"mood"`
	IsPrivate bool       `json:"isPrivate"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	UserID    string     `json:"userId"`
	AudioURL  string     `json:"audioUrl"`
	Tags      []string   `json:"tags"`
}

// ParseEntry はドキュメントをEntryに変換する。
// 日付が欠けている・壊れている場合はnowになる。
func ParseEntry(doc docstore.Document, now time.Time) Entry {
	data := doc.Data
	if data == nil {
		data = map[string]any{}
	}

	mood := Mood(stringField(data, "mood"))
	if mood == "" {
		mood = MoodNeutral
	}

	return Entry{
		ID:        doc.ID,
		Title:     stringField(data, "title"),
		Content:   stringField(data, "content"),
		Date:      timestamp.Normalize(data["date"], now),
		Mood:      mood,
		IsPrivate: truthy(data["isPrivate"]),
		CreatedAt: createdAt(data, now),
		UpdatedAt: timestamp.Optional(data["updatedAt"]),
		UserID:    stringField(data, OwnerField),
		AudioURL:  stringField(data, "audioUrl"),
		Tags:      tagsField(data, "tags"),
	}
}

// ParseEntries はドキュメント列をEntryに変換し、作成日時の降順に並べる。
func ParseEntries(docs []docstore.Document, now time.Time) []Entry {
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, ParseEntry(doc, now))
	}
	SortEntries(entries)
	return entries
}

// SortEntries は作成日時の降順に安定ソートする。
func SortEntries(entries []Entry) {
	sortNewestFirst(entries, func(e Entry) time.Time { return e.CreatedAt })
}

// EntryInput は日記エントリ作成の入力。
// Dateが空の場合は書き込み時刻が使われる。
type EntryInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Date      string   `json:"date"`
	Mood      Mood     `json:"mood"`
	IsPrivate bool     `json:"isPrivate"`
	AudioURL  string   `json:"audioUrl"`
	Tags      []string `json:"tags"`
}

// Normalize は入力を整形して検証する。気分の未指定はneutralになる。
func (in *EntryInput) Normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.Date = strings.TrimSpace(in.Date)
	in.AudioURL = strings.TrimSpace(in.AudioURL)
	in.Tags = NormalizeTags(in.Tags)

	if in.Title == "" {
		return model.NewRequiredFieldError("Title")
	}
	if in.Mood == "" {
		in.Mood = MoodNeutral
	}
	if !in.Mood.Valid() {
		return model.NewInvalidMoodError(string(in.Mood))
	}
	if in.Date != "" {
		if _, ok := timestamp.Classify(in.Date).Time(); !ok {
			return model.NewInvalidDateError("Date")
		}
	}
	return nil
}

// Fields は保存するフィールドを返す。
func (in EntryInput) Fields(now time.Time) map[string]any {
	date := now
	if t, ok := timestamp.Classify(in.Date).Time(); ok {
		date = t
	}
	return map[string]any{
		"title":     in.Title,
		"content":   in.Content,
		"date":      timestamp.ISO(date),
		"mood":      string(in.Mood),
		"isPrivate": in.IsPrivate,
		"audioUrl":  in.AudioURL,
		"tags":      nonNilTags(in.Tags),
	}
}

// EntryPatch は日記エントリ更新の入力。nilのフィールドは変更しない。
type EntryPatch struct {
	Title     *string  `json:"title,omitempty"`
	Content   *string  `json:"content,omitempty"`
	Date      *string  `json:"date,omitempty"`
	Mood      *Mood    `json:"mood,omitempty"`
	IsPrivate *bool    `json:"isPrivate,omitempty"`
	AudioURL  *string  `json:"audioUrl,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Normalize は入力を整形して検証する。
func (p *EntryPatch) Normalize() error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return model.NewRequiredFieldError("Title")
		}
		p.Title = &title
	}
	if p.Content != nil {
		content := strings.TrimSpace(*p.Content)
		p.Content = &content
	}
	if p.Date != nil {
		date := strings.TrimSpace(*p.Date)
		if _, ok := timestamp.Classify(date).Time(); !ok {
			return model.NewInvalidDateError("Date")
		}
		p.Date = &date
	}
	if p.Mood != nil && !p.Mood.Valid() {
		return model.NewInvalidMoodError(string(*p.Mood))
	}
	if p.AudioURL != nil {
		audio := strings.TrimSpace(*p.AudioURL)
		p.AudioURL = &audio
	}
	if p.Tags != nil {
		p.Tags = NormalizeTags(p.Tags)
	}
	return nil
}

// Fields は更新するフィールドを返す。
func (p EntryPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Content != nil {
		fields["content"] = *p.Content
	}
	if p.Date != nil {
		if t, ok := timestamp.Classify(*p.Date).Time(); ok {
			fields["date"] = timestamp.ISO(t)
		}
	}
	if p.Mood != nil {
		fields["mood"] = string(*p.Mood)
	}
	if p.IsPrivate != nil {
		fields["isPrivate"] = *p.IsPrivate
	}
	if p.AudioURL != nil {
		fields["audioUrl"] = *p.AudioURL
	}
	if p.Tags != nil {
		fields["tags"] = p.Tags
	}
	return fields
}

// Empty は変更するフィールドがないかどうかを返す。
func (p EntryPatch) Empty() bool {
	return len(p.Fields()) == 0
}
