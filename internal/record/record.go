// Package record はタスクと日記エントリの型、ドキュメントからの変換、並び替え、絞り込みを提供する。
package record

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// コレクション名と所有者フィールド
const (
	TasksCollection   = "todos"
	EntriesCollection = "agendaItems"
	OwnerField        = "userId"
)

// epoch は作成日時が壊れているレコードの並び替えキー。
var epoch = time.Unix(0, 0).UTC()

// sortKey はゼロ値をエポックとして扱う。
func sortKey(t time.Time) time.Time {
	if t.IsZero() {
		return epoch
	}
	return t
}

// sortNewestFirst は作成日時の降順に安定ソートする。
func sortNewestFirst[T any](items []T, createdAt func(T) time.Time) {
	slices.SortStableFunc(items, func(a, b T) int {
		return sortKey(createdAt(b)).Compare(sortKey(createdAt(a)))
	})
}

// stringField は文字列フィールドを取り出す。文字列以外は空文字。
func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// truthy はJSON値の真偽を判定する。
// 空文字・0・null・falseを偽、それ以外を真とする。
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return true
	}
}

// tagsField は文字列配列を取り出す。文字列以外の要素は読み捨てる。
func tagsField(data map[string]any, key string) []string {
	tags := []string{}
	switch raw := data[key].(type) {
	case []any:
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	case []string:
		tags = append(tags, raw...)
	}
	return tags
}

// NormalizeTags は前後の空白を除き、空要素と重複を取り除く。順序は保持する。
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// containsFold は大文字小文字を区別しない部分一致を判定する。
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// byDueDate は期限の昇順で比較する。
func byDueDate(a, b Task) int {
	return cmp.Compare(a.DueDate.UnixNano(), b.DueDate.UnixNano())
}
