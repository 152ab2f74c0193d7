package ai

import (
	"strings"

	"golang.org/x/net/html"

	"imovel-scraper/utils"
)

// DefaultHTMLBudget is the character budget of cleaned HTML.
const DefaultHTMLBudget = 8000

// keptTags are the content-bearing tags left in cleaned HTML.
var keptTags = map[string]bool{
	"table": true, "tr": true, "td": true, "div": true, "span": true,
	"p": true, "a": true, "strong": true, "b": true,
}

// droppedTags are removed together with their content. head is not among
// them: its end tag is optional and title text is worth keeping.
var droppedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

// CleanHTML reduces page to its content-bearing markup. Scripts, styles and
// comments go away. Other text, the title included, stays as plain text and
// only whitelisted tags are kept (without attributes, or with href on
// links). Whitespace is collapsed and the result is cut at budget
// characters.
func CleanHTML(page string, budget int) string {
	if budget <= 0 {
		budget = DefaultHTMLBudget
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(page))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or a tokenizer error; keep what was read
			break
		}

		tok := z.Token()
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if tok.Data == "body" {
				// an unterminated dropped element never swallows the body
				skip = 0
			}
			if droppedTags[tok.Data] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if skip == 0 && keptTags[tok.Data] {
				sb.WriteString(openTag(tok))
			}
		case html.EndTagToken:
			if droppedTags[tok.Data] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 && keptTags[tok.Data] {
				sb.WriteString("</" + tok.Data + ">")
			}
		case html.TextToken:
			if skip == 0 {
				sb.WriteString(tok.Data)
			}
		}
	}

	out := utils.CollapseSpace(sb.String())
	return truncateRunes(out, budget)
}

func openTag(tok html.Token) string {
	if tok.Data == "a" {
		for _, a := range tok.Attr {
			if a.Key == "href" {
				return `<a href="` + html.EscapeString(a.Val) + `">`
			}
		}
	}
	return "<" + tok.Data + ">"
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
