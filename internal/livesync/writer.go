package livesync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/metrics"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

// 操作ごとのユーザー向け失敗メッセージ
const (
	msgAddTask     = "Failed to add task."
	msgUpdateTask  = "Failed to update task."
	msgDeleteTask  = "Failed to delete task."
	msgAddEntry    = "Failed to add agenda entry."
	msgUpdateEntry = "Failed to update agenda entry."
	msgDeleteEntry = "Failed to delete agenda entry."
)

// AttachmentVerifier は日記エントリの音声添付URLを検証する。
type AttachmentVerifier interface {
	Verify(ctx context.Context, rawURL string) error
}

// Sanitizer はユーザー入力からHTMLを取り除く。
type Sanitizer interface {
	Text(raw string) string
	HTML(raw string) string
}

// Writer はログイン中ユーザーとしてタスクと日記エントリを書き込む。
// 状態を持たないため、HTTPハンドラとAdapterの両方から使われる。
type Writer struct {
	store       docstore.Store
	sanitizer   Sanitizer
	attachments AttachmentVerifier
	metrics     metrics.Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewWriter はWriterを生成する。
// sanitizerがnilの場合は入力をそのまま保存し、attachmentsがnilの場合は添付URLを検証しない。
func NewWriter(store docstore.Store, sanitizer Sanitizer, attachments AttachmentVerifier, recorder metrics.Recorder, logger *slog.Logger) *Writer {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:       store,
		sanitizer:   sanitizer,
		attachments: attachments,
		metrics:     recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// AddTask はタスクを追加し、そのIDを返す。
// 所有者にはpのID、作成日時にはストアの時刻が入る。
func (w *Writer) AddTask(ctx context.Context, p *model.Principal, in record.TaskInput) (string, error) {
	if p == nil {
		return "", model.NewUnauthenticatedError()
	}
	w.sanitizeTask(&in)
	if err := in.Normalize(); err != nil {
		return "", err
	}

	fields := in.Fields()
	fields[record.OwnerField] = p.ID
	fields["createdAt"] = docstore.ServerTimestamp

	id, err := w.store.Add(asCaller(ctx, p), record.TasksCollection, fields)
	if err != nil {
		return "", w.fail(feedTasks, "add", "", msgAddTask, err)
	}
	return id, nil
}

// UpdateTask はタスクに指定フィールドをマージする。
// 所有者の確認はストアのアクセスルールに任せる。
func (w *Writer) UpdateTask(ctx context.Context, p *model.Principal, id string, patch record.TaskPatch) error {
	if p == nil {
		return model.NewUnauthenticatedError()
	}
	w.sanitizeTaskPatch(&patch)
	if err := patch.Normalize(); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	if err := w.store.Update(asCaller(ctx, p), record.TasksCollection, id, patch.Fields()); err != nil {
		return w.fail(feedTasks, "update", id, msgUpdateTask, err)
	}
	return nil
}

// DeleteTask はタスクを削除する。
func (w *Writer) DeleteTask(ctx context.Context, p *model.Principal, id string) error {
	if p == nil {
		return model.NewUnauthenticatedError()
	}
	if err := w.store.Delete(asCaller(ctx, p), record.TasksCollection, id); err != nil {
		return w.fail(feedTasks, "delete", id, msgDeleteTask, err)
	}
	return nil
}

// AddEntry は日記エントリを追加し、そのIDを返す。
func (w *Writer) AddEntry(ctx context.Context, p *model.Principal, in record.EntryInput) (string, error) {
	if p == nil {
		return "", model.NewUnauthenticatedError()
	}
	w.sanitizeEntry(&in)
	if err := in.Normalize(); err != nil {
		return "", err
	}
	if err := w.verifyAttachment(ctx, in.AudioURL); err != nil {
		return "", err
	}

	fields := in.Fields(w.now())
	fields[record.OwnerField] = p.ID
	fields["createdAt"] = docstore.ServerTimestamp

	id, err := w.store.Add(asCaller(ctx, p), record.EntriesCollection, fields)
	if err != nil {
		return "", w.fail(feedEntries, "add", "", msgAddEntry, err)
	}
	return id, nil
}

// UpdateEntry は日記エントリに指定フィールドをマージし、更新日時を記録する。
func (w *Writer) UpdateEntry(ctx context.Context, p *model.Principal, id string, patch record.EntryPatch) error {
	if p == nil {
		return model.NewUnauthenticatedError()
	}
	w.sanitizeEntryPatch(&patch)
	if err := patch.Normalize(); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	if patch.AudioURL != nil {
		if err := w.verifyAttachment(ctx, *patch.AudioURL); err != nil {
			return err
		}
	}

	fields := patch.Fields()
	fields["updatedAt"] = docstore.ServerTimestamp

	if err := w.store.Update(asCaller(ctx, p), record.EntriesCollection, id, fields); err != nil {
		return w.fail(feedEntries, "update", id, msgUpdateEntry, err)
	}
	return nil
}

// DeleteEntry は日記エントリを削除する。
func (w *Writer) DeleteEntry(ctx context.Context, p *model.Principal, id string) error {
	if p == nil {
		return model.NewUnauthenticatedError()
	}
	if err := w.store.Delete(asCaller(ctx, p), record.EntriesCollection, id); err != nil {
		return w.fail(feedEntries, "delete", id, msgDeleteEntry, err)
	}
	return nil
}

func (w *Writer) sanitizeTask(in *record.TaskInput) {
	if w.sanitizer == nil {
		return
	}
	in.Title = w.sanitizer.Text(in.Title)
	in.Description = w.sanitizer.Text(in.Description)
	in.Tags = w.sanitizeTags(in.Tags)
}

func (w *Writer) sanitizeTaskPatch(p *record.TaskPatch) {
	if w.sanitizer == nil {
		return
	}
	p.Title = w.sanitizeOptional(p.Title, w.sanitizer.Text)
	p.Description = w.sanitizeOptional(p.Description, w.sanitizer.Text)
	p.Tags = w.sanitizeTags(p.Tags)
}

func (w *Writer) sanitizeEntry(in *record.EntryInput) {
	if w.sanitizer == nil {
		return
	}
	in.Title = w.sanitizer.Text(in.Title)
	in.Content = w.sanitizer.HTML(in.Content)
	in.Tags = w.sanitizeTags(in.Tags)
}

func (w *Writer) sanitizeEntryPatch(p *record.EntryPatch) {
	if w.sanitizer == nil {
		return
	}
	p.Title = w.sanitizeOptional(p.Title, w.sanitizer.Text)
	p.Content = w.sanitizeOptional(p.Content, w.sanitizer.HTML)
	p.Tags = w.sanitizeTags(p.Tags)
}

func (w *Writer) sanitizeOptional(v *string, clean func(string) string) *string {
	if v == nil {
		return nil
	}
	s := clean(*v)
	return &s
}

func (w *Writer) sanitizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, w.sanitizer.Text(tag))
	}
	return out
}

func (w *Writer) verifyAttachment(ctx context.Context, rawURL string) error {
	if rawURL == "" || w.attachments == nil {
		return nil
	}
	return w.attachments.Verify(ctx, rawURL)
}

// fail はストアのエラーをログに残し、ユーザー向けのエラーに変換する。
func (w *Writer) fail(feed, op, id, message string, err error) error {
	w.metrics.RecordSyncError(feed, op)
	w.logger.Error("write failed",
		slog.String("feed", feed),
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, docstore.ErrNotFound):
		if feed == feedTasks {
			return model.NewTaskNotFoundError(id)
		}
		return model.NewEntryNotFoundError(id)
	case errors.Is(err, docstore.ErrPermissionDenied):
		return model.NewPermissionDeniedError()
	default:
		return model.NewWriteFailedError(message)
	}
}

func asCaller(ctx context.Context, p *model.Principal) context.Context {
	return docstore.WithCaller(ctx, docstore.Caller{UserID: p.ID})
}
