package pipeline

import (
	"strings"
	"unicode"
)

// Section is one chunk of manuscript text fed to a single analysis call.
// Index is 1-based and appears verbatim in section records.
type Section struct {
	Index int
	Text  string
	Words int
}

// SplitSections packs whole paragraphs into sections of roughly targetWords
// each. A paragraph never straddles two sections unless it alone is more than
// twice the target, in which case it is split on word boundaries.
func SplitSections(text string, targetWords int) []Section {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if targetWords < 100 {
		targetWords = 100
	}

	var out []Section
	var cur []string
	curWords := 0

	flush := func() {
		if curWords == 0 {
			return
		}
		out = append(out, Section{Index: len(out) + 1, Text: strings.Join(cur, "\n\n"), Words: curWords})
		cur = nil
		curWords = 0
	}

	for _, para := range splitParagraphs(text) {
		w := CountWords(para)
		if w > targetWords*2 {
			flush()
			for _, piece := range splitByWords(para, targetWords) {
				out = append(out, Section{Index: len(out) + 1, Text: piece, Words: CountWords(piece)})
			}
			continue
		}
		if curWords > 0 && curWords+w > targetWords+targetWords/2 {
			flush()
		}
		cur = append(cur, para)
		curWords += w
		if curWords >= targetWords {
			flush()
		}
	}
	flush()
	return out
}

// CountWords counts whitespace-separated runs without materializing them.
func CountWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			n++
		}
	}
	return n
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

func splitByWords(text string, targetWords int) []string {
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); start += targetWords {
		end := start + targetWords
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}
