package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eplan/internal/livesync"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
)

// RecordWriter はタスクと日記エントリの書き込みインターフェース。
// 呼び出し元のユーザーとして書き込み、所有者の確認はストアのアクセスルールが行う。
type RecordWriter interface {
	AddTask(ctx context.Context, p *model.Principal, in record.TaskInput) (string, error)
	UpdateTask(ctx context.Context, p *model.Principal, id string, patch record.TaskPatch) error
	DeleteTask(ctx context.Context, p *model.Principal, id string) error
	AddEntry(ctx context.Context, p *model.Principal, in record.EntryInput) (string, error)
	UpdateEntry(ctx context.Context, p *model.Principal, id string, patch record.EntryPatch) error
	DeleteEntry(ctx context.Context, p *model.Principal, id string) error
}

// SnapshotLoader はユーザーのタスクと日記エントリを1回だけ読み込むインターフェース。
type SnapshotLoader interface {
	Load(ctx context.Context, p *model.Principal) (*livesync.Snapshot, error)
}

// TodoHandler はタスク管理のHTTPハンドラー。
type TodoHandler struct {
	loader SnapshotLoader
	writer RecordWriter
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(loader SnapshotLoader, writer RecordWriter) *TodoHandler {
	return &TodoHandler{loader: loader, writer: writer}
}

type todoListResponse struct {
	Todos []record.Task `json:"todos"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// ListTodos はタスク一覧を作成日時の降順で返す。
// GET /api/todos?search=xxx&status=all|completed|pending&priority=low|medium|high
func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
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
	filter := record.NewTaskFilter(q.Get("search"), q.Get("status"), q.Get("priority"))
	writeJSON(w, http.StatusOK, todoListResponse{Todos: filter.Apply(snapshot.Tasks)})
}

// CreateTodo はタスクを追加する。
// POST /api/todos
func (h *TodoHandler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var in record.TaskInput
	if !decodeJSON(w, r, &in) {
		return
	}

	id, err := h.writer.AddTask(r.Context(), p, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// UpdateTodo はタスクを部分更新する。
// PATCH /api/todos/{id}
func (h *TodoHandler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var patch record.TaskPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	if err := h.writer.UpdateTask(r.Context(), p, chi.URLParam(r, "id"), patch); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTodo はタスクを削除する。
// DELETE /api/todos/{id}
func (h *TodoHandler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.writer.DeleteTask(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
