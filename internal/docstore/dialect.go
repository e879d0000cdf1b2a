package docstore

import (
	"strconv"
	"strings"
	"time"
)

// dialect はバックエンドごとのSQLの差分を表す。
type dialect struct {
	name string
	// jsonParam はJSONを受け取るプレースホルダ
	jsonParam string
	// fieldExpr はdataのトップレベルフィールドを文字列として取り出す式を返す。
	// 式はマイグレーションの式インデックスと一致させる。
	fieldExpr func(field string) string
	// lockSuffix は更新前の行ロック句
	lockSuffix string
	// numbered がtrueなら ? を $1, $2... に置き換える
	numbered bool
	// encodeTime はcreated_at/updated_at列に書き込む値を返す
	encodeTime func(time.Time) any
}

var postgresDialect = dialect{
	name:       "postgres",
	jsonParam:  "?::jsonb",
	fieldExpr:  func(field string) string { return "data->>'" + field + "'" },
	lockSuffix: " FOR UPDATE",
	numbered:   true,
	encodeTime: func(t time.Time) any { return t },
}

var sqliteDialect = dialect{
	name:       "sqlite",
	jsonParam:  "?",
	fieldExpr:  func(field string) string { return "json_extract(data, '$." + field + "')" },
	lockSuffix: "",
	numbered:   false,
	encodeTime: func(t time.Time) any { return t.UnixNano() },
}

// rebind は ? プレースホルダをバックエンドの形式に変換する。
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) insertSQL() string {
	return d.rebind("INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, " + d.jsonParam + ", ?, ?)")
}

func (d dialect) createSQL() string {
	return d.rebind("INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, " + d.jsonParam + ", ?, ?) ON CONFLICT (collection, id) DO NOTHING")
}

func (d dialect) upsertSQL() string {
	return d.rebind("INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, " + d.jsonParam + ", ?, ?) " +
		"ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at")
}

func (d dialect) getSQL(lock bool) string {
	q := "SELECT data FROM documents WHERE collection = ? AND id = ?"
	if lock {
		q += d.lockSuffix
	}
	return d.rebind(q)
}

func (d dialect) updateSQL() string {
	return d.rebind("UPDATE documents SET data = " + d.jsonParam + ", updated_at = ? WHERE collection = ? AND id = ?")
}

func (d dialect) deleteSQL() string {
	return d.rebind("DELETE FROM documents WHERE collection = ? AND id = ?")
}

// findSQL は検索SQLと引数を組み立てる。
// フィールド名はfieldPatternで検証済みのものだけをSQLに埋め込み、値はプレースホルダで渡す。
func (d dialect) findSQL(q Query) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, 1+len(q.Filters))

	b.WriteString("SELECT id, data FROM documents WHERE collection = ?")
	args = append(args, q.Collection)
	for _, f := range q.Filters {
		b.WriteString(" AND ")
		b.WriteString(d.fieldExpr(f.Field))
		b.WriteString(" = ?")
		args = append(args, f.Value)
	}
	if q.NewestFirst {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	}
	return d.rebind(b.String()), args
}
