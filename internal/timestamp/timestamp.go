// Package timestamp はドキュメントに保存された日時表現を正規化する。
//
// ドキュメントの日時フィールドは書き込み経路によって表現が異なる。
// サーバー側で解決された {seconds, nanoseconds} マップ、フォームから保存された
// ISO 8601文字列、クライアント時刻のエポックミリ秒などが混在するため、
// 読み出し時にはまず Classify で表現を判別し、表現ごとの変換を適用する。
package timestamp

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Kind は保存されている日時表現の種類を表す。
type Kind uint8

const (
	// KindMissing はフィールドが存在しないかnullであることを表す。
	KindMissing Kind = iota
	// KindNative はtime.Time値そのものを表す。
	KindNative
	// KindSecondsNanos は {seconds, nanoseconds} 形式のマップを表す。
	KindSecondsNanos
	// KindISOString はISO 8601形式の文字列を表す。
	KindISOString
	// KindEpochMillis はエポックからのミリ秒数を表す。
	KindEpochMillis
	// KindMalformed はいずれの形式にも当てはまらない値を表す。
	KindMalformed
)

// String はKindの名前を返す。
func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNative:
		return "native"
	case KindSecondsNanos:
		return "seconds_nanos"
	case KindISOString:
		return "iso_string"
	case KindEpochMillis:
		return "epoch_millis"
	default:
		return "malformed"
	}
}

// Value は判別済みの日時表現。
// kindに応じて対応するフィールドだけが意味を持つ。
type Value struct {
	kind    Kind
	native  time.Time
	seconds int64
	nanos   int64
	text    string
	millis  float64
}

// Kind は判別結果を返す。
func (v Value) Kind() Kind {
	return v.kind
}

// maxMillis はエポックから表現できる最大のミリ秒数（±1億日）。
// これを超える数値は日付として扱わない。
const maxMillis = 8.64e15

// isoLayouts はISO文字列として受け付けるレイアウト。
// 日付のみ・分単位の形式はフォーム入力から保存されたもの。
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Classify は任意の値を日時表現として判別する。
// 判別はパニックせず、不明な値はKindMalformedになる。
func Classify(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Value{kind: KindMissing}
	case time.Time:
		return Value{kind: KindNative, native: v}
	case *time.Time:
		if v == nil {
			return Value{kind: KindMissing}
		}
		return Value{kind: KindNative, native: *v}
	case map[string]any:
		return classifyMap(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return Value{kind: KindMalformed}
		}
		return Value{kind: KindISOString, text: v}
	case float64:
		return classifyMillis(v)
	case float32:
		return classifyMillis(float64(v))
	case int:
		return classifyMillis(float64(v))
	case int64:
		return classifyMillis(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{kind: KindMalformed}
		}
		return classifyMillis(f)
	default:
		return Value{kind: KindMalformed}
	}
}

func classifyMillis(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxMillis {
		return Value{kind: KindMalformed}
	}
	return Value{kind: KindEpochMillis, millis: f}
}

// classifyMap は {seconds, nanoseconds} 形式を判別する。
// エクスポートされたデータに見られる {_seconds, _nanoseconds} も受け付ける。
func classifyMap(m map[string]any) Value {
	sec, ok := numberField(m, "seconds", "_seconds")
	if !ok {
		return Value{kind: KindMalformed}
	}
	if math.Abs(sec) > maxMillis/1000 {
		return Value{kind: KindMalformed}
	}
	nsec, ok := numberField(m, "nanoseconds", "_nanoseconds")
	if !ok || math.Abs(nsec) > 1e12 {
		nsec = 0
	}
	return Value{kind: KindSecondsNanos, seconds: int64(sec), nanos: int64(nsec)}
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, exists := m[key]
		if !exists {
			continue
		}
		switch n := raw.(type) {
		case float64:
			return n, !math.IsNaN(n) && !math.IsInf(n, 0)
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		}
	}
	return 0, false
}

// Time は判別済みの値をtime.Timeに変換する。
// 変換できない場合、または西暦0年から9999年の範囲外の場合はfalseを返す。
// 範囲外の時刻はJSONにエンコードできない。
func (v Value) Time() (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)
	switch v.kind {
	case KindNative:
		t, ok = fromNative(v.native)
	case KindSecondsNanos:
		t, ok = fromSecondsNanos(v.seconds, v.nanos)
	case KindISOString:
		t, ok = fromISO(v.text)
	case KindEpochMillis:
		t, ok = fromEpochMillis(v.millis)
	}
	if !ok || t.Year() < 0 || t.Year() > 9999 {
		return time.Time{}, false
	}
	return t, true
}

func fromNative(t time.Time) (time.Time, bool) {
	if t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// fromSecondsNanos は秒とナノ秒からUTC時刻を組み立てる。
func fromSecondsNanos(sec, nsec int64) (time.Time, bool) {
	return time.Unix(sec, nsec).UTC(), true
}

func fromISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpochMillis(ms float64) (time.Time, bool) {
	return time.UnixMilli(int64(ms)).UTC(), true
}

// Normalize は値をtime.Timeに変換する。
// 欠損・変換不能な値にはfallbackを返す。
func Normalize(raw any, fallback time.Time) time.Time {
	if t, ok := Classify(raw).Time(); ok {
		return t
	}
	return fallback
}

// Optional は値をtime.Timeに変換し、欠損・変換不能な場合はnilを返す。
func Optional(raw any) *time.Time {
	t, ok := Classify(raw).Time()
	if !ok {
		return nil
	}
	return &t
}

// Encode はtime.Timeを {seconds, nanoseconds} 形式のマップに変換する。
func Encode(t time.Time) map[string]any {
	return map[string]any{
		"seconds":     t.Unix(),
		"nanoseconds": int64(t.Nanosecond()),
	}
}

// ISO はtime.TimeをUTCのRFC3339Nano文字列に変換する。
func ISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// EpochMillis はtime.Timeをエポックミリ秒に変換する。
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
