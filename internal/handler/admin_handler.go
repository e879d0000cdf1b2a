package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/admin"
	"github.com/hitoshi/eplan/internal/invite"
	"github.com/hitoshi/eplan/internal/middleware"
	"github.com/hitoshi/eplan/internal/model"
)

// StatsLoader は管理画面向けの集計を読み込むインターフェース。
type StatsLoader interface {
	Load(ctx context.Context, adminID string) ([]model.UserStats, error)
}

// InviteIssuer は管理者招待トークンを発行するインターフェース。
type InviteIssuer interface {
	Enabled() bool
	Issue(adminID string) (string, time.Time, error)
}

// AdminHandler は管理画面向けのHTTPハンドラー。
// ルーティングでRequireAdminの内側に配置する。
type AdminHandler struct {
	stats   StatsLoader
	invites InviteIssuer
	baseURL string
}

// NewAdminHandler はAdminHandlerを生成する。invitesはnilでもよい。
func NewAdminHandler(stats StatsLoader, invites InviteIssuer, baseURL string) *AdminHandler {
	return &AdminHandler{
		stats:   stats,
		invites: invites,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type adminUsersResponse struct {
	Users []model.UserStats `json:"users"`
}

type inviteResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RegisterURL string    `json:"registerUrl"`
}

// ListUsers はユーザーごとのタスク集計を返す。
// GET /api/admin/users?search=xxx&sort=lastActive|todoCount
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.Load(r.Context(), p.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := admin.Filter(stats, q.Get("search"))
	admin.Sort(filtered, admin.ParseSortKey(q.Get("sort")))
	writeJSON(w, http.StatusOK, adminUsersResponse{Users: filtered})
}

// Summary は全ユーザーの合計値を返す。
// GET /api/admin/summary
func (h *AdminHandler) Summary(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.Load(r.Context(), p.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admin.ComputeTotals(stats))
}

// ExportCSV はユーザーごとの集計をCSVで返す。
// 一覧と同じsearch・sortの条件を適用する。
// GET /api/admin/users.csv
func (h *AdminHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.Load(r.Context(), p.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	q := r.URL.Query()
	filtered := admin.Filter(stats, q.Get("search"))
	admin.Sort(filtered, admin.ParseSortKey(q.Get("sort")))

	// 書き込み途中の失敗で壊れたCSVを返さないよう、バッファしてから送る
	var buf bytes.Buffer
	if err := admin.WriteCSV(&buf, filtered); err != nil {
		slog.Error("failed to write csv", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", admin.CSVFilename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// CreateInvite は管理者招待トークンを発行する。
// POST /api/admin/invites
func (h *AdminHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	if h.invites == nil || !h.invites.Enabled() {
		handleServiceError(w, model.NewInvitesDisabledError())
		return
	}

	token, expiresAt, err := h.invites.Issue(p.ID)
	if errors.Is(err, invite.ErrDisabled) {
		handleServiceError(w, model.NewInvitesDisabledError())
		return
	}
	if err != nil {
		handleServiceError(w, fmt.Errorf("failed to issue invite: %w", err))
		return
	}

	slog.Info("admin invite issued",
		slog.String("issued_by", p.ID),
		slog.Time("expires_at", expiresAt),
	)
	writeJSON(w, http.StatusCreated, inviteResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		RegisterURL: h.baseURL + "/register?" + url.Values{"code": {token}}.Encode(),
	})
}
