package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eplan/internal/record"
)

// AgendaHandler は日記エントリのHTTPハンドラー。
type AgendaHandler struct {
	loader SnapshotLoader
	writer RecordWriter
}

// NewAgendaHandler はAgendaHandlerを生成する。
func NewAgendaHandler(loader SnapshotLoader, writer RecordWriter) *AgendaHandler {
	return &AgendaHandler{loader: loader, writer: writer}
}

type agendaListResponse struct {
	Entries []record.Entry `json:"entries"`
}

// ListEntries は日記エントリ一覧を作成日時の降順で返す。
// GET /api/agenda?search=xxx&mood=happy|neutral|sad
func (h *AgendaHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	snapshot, err := h.loader.Load(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	q := r.URL.Query()
	filter := record.NewEntryFilter(q.Get("search"), q.Get("mood"))
	writeJSON(w, http.StatusOK, agendaListResponse{Entries: filter.Apply(snapshot.Entries)})
}

// CreateEntry は日記エントリを追加する。
// POST /api/agenda
func (h *AgendaHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var in record.EntryInput
	if !decodeJSON(w, r, &in) {
		return
	}

	id, err := h.writer.AddEntry(r.Context(), p, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// UpdateEntry は日記エントリを部分更新する。
// PATCH /api/agenda/{id}
func (h *AgendaHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var patch record.EntryPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	if err := h.writer.UpdateEntry(r.Context(), p, chi.URLParam(r, "id"), patch); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEntry は日記エントリを削除する。
// DELETE /api/agenda/{id}
func (h *AgendaHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.writer.DeleteEntry(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
