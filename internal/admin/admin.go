// Package admin は管理画面向けにユーザーとタスクの集計を提供する。
// 集計は表示のたびに全件を読み直す。キャッシュや差分更新はしない。
package admin

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/docstore"
	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/record"
	"github.com/hitoshi/eplan/internal/repository"
)

// SortKey は一覧の並び順。
type SortKey string

// 並び順
const (
	SortByLastActive SortKey = "lastActive"
	SortByTaskCount  SortKey = "todoCount"
)

// ParseSortKey はクエリ文字列の値を並び順に変換する。不明な値は最終アクティブ順。
func ParseSortKey(s string) SortKey {
	if SortKey(s) == SortByTaskCount {
		return SortByTaskCount
	}
	return SortByLastActive
}

// Totals は全ユーザーの合計値。
type Totals struct {
	Users          int `json:"totalUsers"`
	Tasks          int `json:"totalTasks"`
	CompletedTasks int `json:"completedTasks"`
	CompletionRate int `json:"completionRate"`
}

// Service は集計を行う。
type Service struct {
	store docstore.Store
	users repository.UserRepository
	now   func() time.Time
}

// NewService はServiceを生成する。
func NewService(store docstore.Store, users repository.UserRepository) *Service {
	return &Service{store: store, users: users, now: time.Now}
}

type taskCounts struct {
	total     int
	completed int
}

// Load は全タスクを所有者ごとに数え、登録日時の降順のユーザー一覧と結合する。
// タスクのないユーザーは0件として扱う。adminIDは読み取りを行う管理者のID。
func (s *Service) Load(ctx context.Context, adminID string) ([]model.UserStats, error) {
	ctx = docstore.WithCaller(ctx, docstore.Caller{UserID: adminID, Admin: true})

	docs, err := s.store.Find(ctx, docstore.Query{Collection: record.TasksCollection})
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	counts := make(map[string]*taskCounts)
	for _, doc := range docs {
		owner, _ := doc.Data[record.OwnerField].(string)
		if owner == "" {
			continue
		}
		c, ok := counts[owner]
		if !ok {
			c = &taskCounts{}
			counts[owner] = c
		}
		c.total++
		if record.ParseTask(doc, time.Time{}).Completed {
			c.completed++
		}
	}

	users, err := s.users.ListNewestFirst(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	now := s.now()
	stats := make([]model.UserStats, 0, len(users))
	for _, u := range users {
		row := model.UserStats{
			ID:           u.ID,
			Email:        u.Email,
			DisplayName:  u.DisplayName,
			RegisteredAt: u.CreatedAt,
			LastActive:   lastActive(u, now),
		}
		if c, ok := counts[u.ID]; ok {
			row.TaskCount = c.total
			row.CompletedCount = c.completed
		}
		stats = append(stats, row)
	}
	return stats, nil
}

// lastActive は最終アクティブ日時を返す。未記録なら登録日時、それもなければnow。
func lastActive(u *model.User, now time.Time) time.Time {
	switch {
	case !u.LastActive.IsZero():
		return u.LastActive
	case !u.CreatedAt.IsZero():
		return u.CreatedAt
	default:
		return now
	}
}

// Filter はメールアドレスまたは表示名に検索語を含む行を返す。大文字小文字は区別しない。
func Filter(stats []model.UserStats, search string) []model.UserStats {
	query := strings.ToLower(strings.TrimSpace(search))
	if query == "" {
		return slices.Clone(stats)
	}

	out := make([]model.UserStats, 0, len(stats))
	for _, s := range stats {
		if strings.Contains(strings.ToLower(s.Email), query) ||
			strings.Contains(strings.ToLower(s.DisplayName), query) {
			out = append(out, s)
		}
	}
	return out
}

// Sort は指定キーの降順に安定ソートする。
func Sort(stats []model.UserStats, key SortKey) {
	slices.SortStableFunc(stats, func(a, b model.UserStats) int {
		if key == SortByTaskCount {
			return b.TaskCount - a.TaskCount
		}
		return b.LastActive.Compare(a.LastActive)
	})
}

// ComputeTotals は合計値と全体の完了率を計算する。
func ComputeTotals(stats []model.UserStats) Totals {
	var t Totals
	for _, s := range stats {
		t.Users++
		t.Tasks += s.TaskCount
		t.CompletedTasks += s.CompletedCount
	}
	t.CompletionRate = Rate(t.CompletedTasks, t.Tasks)
	return t
}

// Rate は完了率を四捨五入した百分率で返す。totalが0の場合は0。
func Rate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(completed)/float64(total)*100 + 0.5))
}
