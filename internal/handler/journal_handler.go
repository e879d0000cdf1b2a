package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eplan/internal/journalfeed"
)

// JournalFeedWriter は公開日記フィードを書き出すインターフェース。
type JournalFeedWriter interface {
	Write(ctx context.Context, w io.Writer, userID string) error
}

// JournalHandler は公開日記フィードのHTTPハンドラー。認証は不要。
type JournalHandler struct {
	feeds JournalFeedWriter
}

// NewJournalHandler はJournalHandlerを生成する。
func NewJournalHandler(feeds JournalFeedWriter) *JournalHandler {
	return &JournalHandler{feeds: feeds}
}

// GetFeed はユーザーの公開日記エントリをAtomフィードで返す。
// GET /feeds/{userID}/journal.atom
func (h *JournalHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var buf bytes.Buffer
	err := h.feeds.Write(r.Context(), &buf, userID)
	if errors.Is(err, journalfeed.ErrUserNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to build journal feed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", journalfeed.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
