package journalfeed

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExcerptLength は要約の最大文字数(rune数)。
const ExcerptLength = 280

// Excerpt はHTML本文からテキストだけを取り出し、空白をまとめてmaxRunes以内に切り詰める。
// 切り詰めた場合は末尾に省略記号を付ける。
func Excerpt(content string, maxRunes int) string {
	text := extractText(content)
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	cut := strings.TrimRight(string(runes[:maxRunes-1]), " ")
	return cut + "…"
}

func extractText(content string) string {
	nodes, err := html.ParseFragment(strings.NewReader(content), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return strings.Join(strings.Fields(content), " ")
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			// ブロック要素と改行の境界で単語が連結しないようにする
			if n.Data == "br" || n.Data == "p" || n.Data == "li" || n.Data == "blockquote" || n.Data == "pre" {
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
