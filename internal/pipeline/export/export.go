// Package export packages a manuscript into distributable EPUB and PDF
// files. The writers are deliberately minimal: a valid container with the
// full text flowed into chapters, not a typesetting engine.
package export

import (
	"regexp"
	"strconv"
	"strings"
)

// Meta is the front-matter for an export package.
type Meta struct {
	Title       string
	Author      string
	Genre       string
	Description string // optional back-page text
	Language    string // BCP 47, defaults to "en"
}

// Chapter is one spine entry.
type Chapter struct {
	Title      string
	Paragraphs []string
}

const fallbackChapterWords = 2800

var headingPattern = regexp.MustCompile(`(?i)^(chapter|part|prologue|epilogue|interlude)\b[^\n]{0,50}$`)

/*
Chapters splits manuscript text into spine entries. Paragraphs that look like
chapter headings (a single short "Chapter ..." style line) start a new chapter
titled by that line. Manuscripts without headings fall back to fixed-size
sections so no chapter grows unreadably long.
*/
func Chapters(text string) []Chapter {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var out []Chapter
	var cur *Chapter
	sawHeading := false
	for _, p := range paras {
		if isHeading(p) {
			sawHeading = true
			out = append(out, Chapter{Title: p})
			cur = &out[len(out)-1]
			continue
		}
		if cur == nil {
			out = append(out, Chapter{})
			cur = &out[len(out)-1]
		}
		cur.Paragraphs = append(cur.Paragraphs, p)
	}
	if sawHeading {
		named := out[:0]
		for _, ch := range out {
			if ch.Title == "" && len(ch.Paragraphs) == 0 {
				continue
			}
			named = append(named, ch)
		}
		return named
	}
	return sizedChapters(paras)
}

func sizedChapters(paras []string) []Chapter {
	var out []Chapter
	var cur []string
	words := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, Chapter{
			Title:      "Section " + strconv.Itoa(len(out)+1),
			Paragraphs: cur,
		})
		cur = nil
		words = 0
	}
	for _, p := range paras {
		cur = append(cur, p)
		words += len(strings.Fields(p))
		if words >= fallbackChapterWords {
			flush()
		}
	}
	flush()
	return out
}

func isHeading(p string) bool {
	return !strings.Contains(p, "\n") && headingPattern.MatchString(strings.TrimSpace(p))
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m Meta) language() string {
	if strings.TrimSpace(m.Language) == "" {
		return "en"
	}
	return m.Language
}

func (m Meta) title() string {
	if strings.TrimSpace(m.Title) == "" {
		return "Untitled"
	}
	return m.Title
}
