package export

import (
	"fmt"
	"strings"
)

const (
	pdfPageWidth  = 612 // US Letter, points
	pdfPageHeight = 792
	pdfMargin     = 72
	pdfFontSize   = 11
	pdfLeading    = 14
	pdfMaxLines   = 46
	pdfMaxChars   = 85
)

// PDF writes a single-column Letter document with each chapter starting on
// a fresh page, set in the built-in Helvetica face.
func PDF(meta Meta, chapters []Chapter) ([]byte, error) {
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no chapters to typeset")
	}
	pages := layoutPages(meta, chapters)

	// Objects 1-3 are catalog, page tree and font. Each page then takes two
	// objects: the page dict at 4+2i and its content stream at 5+2i.
	kids := make([]string, 0, len(pages))
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	for i, lines := range pages {
		stream := pageStream(lines)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
				pdfPageWidth, pdfPageHeight, 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String()), nil
}

// layoutPages flows the title page and chapters into per-page line slices.
func layoutPages(meta Meta, chapters []Chapter) [][]string {
	var pages [][]string
	var cur []string

	flush := func() {
		if len(cur) > 0 {
			pages = append(pages, cur)
			cur = nil
		}
	}
	emit := func(line string) {
		if line == "" && len(cur) == 0 {
			return
		}
		if len(cur) >= pdfMaxLines {
			flush()
		}
		cur = append(cur, line)
	}

	emit(meta.title())
	if meta.Author != "" {
		emit("")
		emit(meta.Author)
	}
	flush()

	for _, ch := range chapters {
		if ch.Title != "" {
			emit(ch.Title)
			emit("")
		}
		for pi, para := range ch.Paragraphs {
			if pi > 0 {
				emit("")
			}
			for _, line := range wrapText(para, pdfMaxChars) {
				emit(line)
			}
		}
		flush()
	}
	return pages
}

func pageStream(lines []string) string {
	var s strings.Builder
	fmt.Fprintf(&s, "BT\n/F1 %d Tf\n%d TL\n%d %d Td\n", pdfFontSize, pdfLeading, pdfMargin, pdfPageHeight-pdfMargin)
	for i, line := range lines {
		if i > 0 {
			s.WriteString("T*\n")
		}
		fmt.Fprintf(&s, "(%s) Tj\n", escapeText(line))
	}
	s.WriteString("ET")
	return s.String()
}

func wrapText(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len(cur)+1+len(w) > width {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur += " " + w
	}
	return append(lines, cur)
}

// escapeText maps a line onto the single-byte WinAnsi code space used by the
// page streams. Characters outside it degrade to '?'.
func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\' || r == '(' || r == ')':
			b.WriteByte('\\')
			b.WriteByte(byte(r))
		case r > 255:
			b.WriteByte('?')
		case r < 32:
			b.WriteByte(' ')
		default:
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
