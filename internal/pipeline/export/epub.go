package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
)

/*
EPUB writes an EPUB 3 container: the stored mimetype entry first, then
META-INF/container.xml, the package document, a nav landmark, a title page
and one XHTML file per chapter.
*/
func EPUB(meta Meta, chapters []Chapter) ([]byte, error) {
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no chapters to package")
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	// The mimetype entry must be first and uncompressed.
	mt, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return nil, fmt.Errorf("create mimetype entry: %w", err)
	}
	if _, err := mt.Write([]byte("application/epub+zip")); err != nil {
		return nil, fmt.Errorf("write mimetype entry: %w", err)
	}

	files := []struct {
		name string
		body string
	}{
		{"META-INF/container.xml", containerXML},
		{"OEBPS/content.opf", packageDoc(meta, chapters)},
		{"OEBPS/nav.xhtml", navDoc(meta, chapters)},
		{"OEBPS/title.xhtml", titleDoc(meta)},
	}
	for i, ch := range chapters {
		files = append(files, struct {
			name string
			body string
		}{chapterPath(i), chapterDoc(meta, ch, i)})
	}

	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := fw.Write([]byte(f.body)); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize epub: %w", err)
	}
	return buf.Bytes(), nil
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

func chapterPath(i int) string {
	return fmt.Sprintf("OEBPS/chapter-%03d.xhtml", i+1)
}

func packageDoc(meta Meta, chapters []Chapter) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&b, "    <dc:identifier id=\"pub-id\">urn:uuid:%s</dc:identifier>\n", uuid.NewString())
	fmt.Fprintf(&b, "    <dc:title>%s</dc:title>\n", html.EscapeString(meta.title()))
	if meta.Author != "" {
		fmt.Fprintf(&b, "    <dc:creator>%s</dc:creator>\n", html.EscapeString(meta.Author))
	}
	fmt.Fprintf(&b, "    <dc:language>%s</dc:language>\n", html.EscapeString(meta.language()))
	fmt.Fprintf(&b, "    <meta property=\"dcterms:modified\">%s</meta>\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteString(`  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="title" href="title.xhtml" media-type="application/xhtml+xml"/>
`)
	for i := range chapters {
		fmt.Fprintf(&b, "    <item id=\"c%03d\" href=\"chapter-%03d.xhtml\" media-type=\"application/xhtml+xml\"/>\n", i+1, i+1)
	}
	b.WriteString(`  </manifest>
  <spine>
    <itemref idref="title"/>
`)
	for i := range chapters {
		fmt.Fprintf(&b, "    <itemref idref=\"c%03d\"/>\n", i+1)
	}
	b.WriteString(`  </spine>
</package>
`)
	return b.String()
}

func navDoc(meta Meta, chapters []Chapter) string {
	var b strings.Builder
	b.WriteString(xhtmlHead(meta.title()))
	b.WriteString(`  <nav epub:type="toc" id="toc">
    <h1>Contents</h1>
    <ol>
`)
	for i, ch := range chapters {
		title := ch.Title
		if title == "" {
			title = fmt.Sprintf("Section %d", i+1)
		}
		fmt.Fprintf(&b, "      <li><a href=\"chapter-%03d.xhtml\">%s</a></li>\n", i+1, html.EscapeString(title))
	}
	b.WriteString(`    </ol>
  </nav>
</body>
</html>
`)
	return b.String()
}

func titleDoc(meta Meta) string {
	var b strings.Builder
	b.WriteString(xhtmlHead(meta.title()))
	fmt.Fprintf(&b, "  <h1>%s</h1>\n", html.EscapeString(meta.title()))
	if meta.Author != "" {
		fmt.Fprintf(&b, "  <p class=\"author\">%s</p>\n", html.EscapeString(meta.Author))
	}
	if meta.Description != "" {
		fmt.Fprintf(&b, "  <p class=\"description\">%s</p>\n", html.EscapeString(meta.Description))
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func chapterDoc(meta Meta, ch Chapter, i int) string {
	title := ch.Title
	if title == "" {
		title = fmt.Sprintf("Section %d", i+1)
	}
	var b strings.Builder
	b.WriteString(xhtmlHead(title))
	fmt.Fprintf(&b, "  <h2>%s</h2>\n", html.EscapeString(title))
	for _, p := range ch.Paragraphs {
		fmt.Fprintf(&b, "  <p>%s</p>\n", html.EscapeString(p))
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func xhtmlHead(title string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>%s</title>
</head>
<body>
`, html.EscapeString(title))
}
