// Package journalfeed はユーザーの公開日記エントリをAtomフィードとして出力する。
package journalfeed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
	"github.com/hitoshi/eplan/internal/repository"
)

// ContentType はフィードのContent-Type。
const ContentType = "application/atom+xml; charset=utf-8"

// maxEntries はフィードに含めるエントリの上限。
const maxEntries = 50

// ErrUserNotFound はフィードの対象ユーザーが存在しないことを表す。
var ErrUserNotFound = errors.New("journalfeed: user not found")

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Title   string      `xml:"title"`
	ID      string      `xml:"id"`
	Updated string      `xml:"updated"`
	Author  atomPerson  `xml:"author"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomPerson struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr,omitempty"`
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr,omitempty"`
}

type atomText struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomEntry struct {
	Title      string         `xml:"title"`
	ID         string         `xml:"id"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Links      []atomLink     `xml:"link"`
	Summary    atomText       `xml:"summary"`
	Content    atomText       `xml:"content"`
	Categories []atomCategory `xml:"category"`
}

// Service はフィードを生成する。
type Service struct {
	store   docstore.Store
	users   repository.UserRepository
	baseURL string
	now     func() time.Time
}

// NewService はServiceを生成する。baseURLはフィード内のリンクの基点。
func NewService(store docstore.Store, users repository.UserRepository, baseURL string) *Service {
	return &Service{
		store:   store,
		users:   users,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Write は指定ユーザーの公開エントリを新しい順にAtom形式で書き出す。
// 非公開のエントリは含めない。ユーザーが存在しない場合はErrUserNotFoundを返す。
func (s *Service) Write(ctx context.Context, w io.Writer, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	// 読み取りは所有者として行い、公開エントリだけを出力する
	ctx = docstore.WithCaller(ctx, docstore.Caller{UserID: userID})
	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: record.EntriesCollection,
		Filters:    []docstore.Filter{docstore.Where(record.OwnerField, userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}

	now := s.now()
	entries := record.ParseEntries(docs, now)
	feed := s.build(user, entries, now)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return fmt.Errorf("failed to encode feed: %w", err)
	}
	return nil
}

func (s *Service) build(user *model.User, entries []record.Entry, now time.Time) atomFeed {
	name := user.DisplayName
	if name == "" {
		name = "E-Plan user"
	}
	selfURL := fmt.Sprintf("%s/feeds/%s/journal.atom", s.baseURL, user.ID)

	feed := atomFeed{
		Title:  name + "'s journal",
		ID:     selfURL,
		Author: atomPerson{Name: name},
		Links: []atomLink{
			{Rel: "self", Href: selfURL, Type: "application/atom+xml"},
			{Rel: "alternate", Href: s.baseURL + "/"},
		},
	}

	var latest time.Time
	for _, e := range entries {
		if e.IsPrivate {
			continue
		}
		if len(feed.Entries) == maxEntries {
			break
		}
		updated := e.CreatedAt
		if e.UpdatedAt != nil && e.UpdatedAt.After(updated) {
			updated = *e.UpdatedAt
		}
		if updated.After(latest) {
			latest = updated
		}

		entry := atomEntry{
			Title:     e.Title,
			ID:        fmt.Sprintf("%s#%s", selfURL, e.ID),
			Published: formatTime(e.CreatedAt),
			Updated:   formatTime(updated),
			Summary:   atomText{Type: "text", Body: Excerpt(e.Content, ExcerptLength)},
			Content:   atomText{Type: "html", Body: e.Content},
		}
		if e.AudioURL != "" {
			entry.Links = append(entry.Links, atomLink{Rel: "enclosure", Href: e.AudioURL})
		}
		entry.Categories = append(entry.Categories, atomCategory{Term: string(e.Mood)})
		for _, tag := range e.Tags {
			entry.Categories = append(entry.Categories, atomCategory{Term: tag})
		}
		feed.Entries = append(feed.Entries, entry)
	}

	if latest.IsZero() {
		latest = now
	}
	feed.Updated = formatTime(latest)
	return feed
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
