package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はユーザー入力からHTMLを取り除く。
//
// Textはタスクのタイトルなどプレーンテキストのフィールド用で、すべてのタグを除去する。
// HTMLは日記エントリの本文用で、段落や強調などの限られたタグだけを残す。
type Sanitizer struct {
	text *bluemonday.Policy
	rich *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
func NewSanitizer() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	// リンクは絶対URLのみ。別タブで開き、リファラを送らない
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	rich.AllowAttrs("alt").OnElements("img")
	rich.AllowAttrs("src").OnElements("img")
	rich.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })

	return &Sanitizer{
		text: bluemonday.StrictPolicy(),
		rich: rich,
	}
}

// Text はタグを除去したプレーンテキストを返す。
// エンティティは元の文字に戻すため、表示時のエスケープは呼び出し側で行う。
func (s *Sanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.text.Sanitize(raw)))
}

// HTML は許可したタグだけを残したHTMLを返す。
func (s *Sanitizer) HTML(raw string) string {
	if raw == "" {
		return ""
	}
	return s.rich.Sanitize(raw)
}
