package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/eplan/internal/dashboard"
)

// DashboardHandler はホーム画面の概要を返すHTTPハンドラー。
type DashboardHandler struct {
	loader SnapshotLoader
	now    func() time.Time
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(loader SnapshotLoader) *DashboardHandler {
	return &DashboardHandler{loader: loader, now: time.Now}
}

// GetDashboard はタスクと日記エントリの集計を返す。
// GET /api/dashboard
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	snapshot, err := h.loader.Load(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard.Build(snapshot.Tasks, snapshot.Entries, h.now()))
}
