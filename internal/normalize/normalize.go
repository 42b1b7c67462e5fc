// Package normalize turns raw note-field HTML into the pair of
// plain-text renditions the renderer consumes. The transformation is
// pure and idempotent: text that is already plain passes through
// unchanged.
package normalize

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/conorfennell/cardbrick/internal/domain"
)

// Tags whose presence is expected in deck content. Anything else is
// stripped with its text retained and counted as a warning.
var allowedTags = map[string]bool{
	"p": true, "br": true, "div": true, "ul": true, "li": true,
	"img": true, "span": true,
	"ruby": true, "rb": true, "rt": true, "rp": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "ul": true, "li": true,
}

// rendition accumulates one plain-text output stream.
type rendition struct {
	b strings.Builder
}

func (r *rendition) text(s string) {
	r.b.WriteString(s)
}

// newline appends a line break unless the output is empty or already
// ends with one.
func (r *rendition) newline() {
	s := r.b.String()
	if s == "" || strings.HasSuffix(s, "\n") {
		return
	}
	r.b.WriteByte('\n')
}

func (r *rendition) result() string {
	return strings.TrimRight(r.b.String(), "\n")
}

// Normalize parses raw HTML into a DerivedText pair and returns the
// number of non-fatal content-loss warnings (stripped unknown tags).
// Malformed markup degrades to plain text; Normalize never fails.
func Normalize(raw string) (domain.DerivedText, int) {
	if !strings.ContainsAny(raw, "<&") {
		// Already plain text.
		return domain.DerivedText{Kanji: raw, Furigana: raw}, 0
	}

	var kanji, furigana rendition
	warnings := 0

	// Ruby accumulation state. Nested <ruby> is flattened into the
	// outermost annotation.
	rubyDepth := 0
	rtDepth := 0
	rpDepth := 0
	var rubyBase, rubyReading strings.Builder

	flushRuby := func() {
		base := rubyBase.String()
		reading := rubyReading.String()
		if base != "" {
			kanji.text(base)
			if reading == "" {
				furigana.text(base)
			} else {
				furigana.text(base + "(" + reading + ")")
			}
		} else if reading != "" {
			// Reading with no base degrades to the reading alone.
			kanji.text(reading)
			furigana.text(reading)
		}
		rubyBase.Reset()
		rubyReading.Reset()
	}

	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		switch tt {
		case html.TextToken:
			switch {
			case rubyDepth > 0 && rpDepth > 0:
				// <rp> fallback parentheses are presentation only.
			case rubyDepth > 0 && rtDepth > 0:
				rubyReading.WriteString(tok.Data)
			case rubyDepth > 0:
				rubyBase.WriteString(tok.Data)
			default:
				kanji.text(tok.Data)
				furigana.text(tok.Data)
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name := tok.Data
			switch name {
			case "ruby":
				if rubyDepth == 0 {
					rubyBase.Reset()
					rubyReading.Reset()
				}
				rubyDepth++
			case "rt":
				if rubyDepth > 0 {
					rtDepth++
				} else {
					warnings++
				}
			case "rp":
				if rubyDepth > 0 {
					rpDepth++
				} else {
					warnings++
				}
			case "rb":
				// Base wrapper; its text is collected as base.
			case "br":
				kanji.newline()
				furigana.newline()
			case "img", "span":
				// Allowed; contributes no text. Images are rendered
				// from the media map, span styling is inline only.
			default:
				if blockTags[name] {
					break
				}
				if !allowedTags[name] {
					warnings++
				}
			}

		case html.EndTagToken:
			switch tok.Data {
			case "ruby":
				if rubyDepth > 0 {
					rubyDepth--
					if rubyDepth == 0 {
						flushRuby()
					}
				}
			case "rt":
				if rtDepth > 0 {
					rtDepth--
				}
			case "rp":
				if rpDepth > 0 {
					rpDepth--
				}
			default:
				if blockTags[tok.Data] {
					kanji.newline()
					furigana.newline()
				}
			}
		}
	}

	// Unclosed <ruby> at EOF still yields its collected content.
	if rubyDepth > 0 {
		flushRuby()
	}

	return domain.DerivedText{
		Kanji:    kanji.result(),
		Furigana: furigana.result(),
	}, warnings
}

// Fields normalizes every field of a note in order and returns the
// renditions plus the summed warning count.
func Fields(fields []string) ([]domain.DerivedText, int) {
	out := make([]domain.DerivedText, len(fields))
	total := 0
	for i, f := range fields {
		dt, w := Normalize(f)
		out[i] = dt
		total += w
	}
	return out, total
}
