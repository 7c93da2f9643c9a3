package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/yungbote/inkpress-backend/internal/provider"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

const (
	minCoverVariations     = 1
	maxCoverVariations     = 5
	defaultCoverVariations = 3

	coverWidth  = 1024
	coverHeight = 1536
)

// runCover renders cover variations from the S4 brief. Every failure in here
// is logged and swallowed; the run completes without covers if it must.
func (p *Pipeline) runCover(ctx context.Context, run *runContext, brief map[string]any) {
	n := clampCoverCount(intFromAny(brief["variations"], defaultCoverVariations))
	palette, _ := brief["palette"].(string)

	variations := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		png, source, prompt := p.renderVariation(ctx, run, brief, i)
		if png == nil {
			continue
		}
		key := storage.CoverVariationKey(run.job.Prefix, i)
		if err := p.store.Put(ctx, key, png, "image/png", nil); err != nil {
			p.log.Warn("Cover variation not stored",
				"report_id", run.job.ReportID, "variation", i, "error", err)
			continue
		}
		entry := map[string]any{
			"index":  i,
			"key":    key,
			"source": source,
		}
		if prompt != "" {
			entry["prompt"] = prompt
		}
		if p.vision != nil {
			if review, err := p.vision.ReviewCover(ctx, png); err != nil {
				p.log.Warn("Cover review failed",
					"report_id", run.job.ReportID, "variation", i, "error", err)
			} else {
				entry["review"] = review
			}
		}
		variations = append(variations, entry)
	}

	doc := map[string]any{
		"reportId":    run.job.ReportID,
		"generatedAt": p.now().UTC().Format(time.RFC3339),
		"requested":   n,
		"count":       len(variations),
		"palette":     palette,
		"variations":  variations,
	}
	if err := p.putJSON(ctx, storage.ArtifactKey(run.job.Prefix, storage.KindCoverImages), doc); err != nil {
		p.log.Warn("Cover metadata not stored", "report_id", run.job.ReportID, "error", err)
	}
}

// renderVariation tries the image provider first and falls back to the
// typographic renderer. Returns nil bytes only when both paths failed.
func (p *Pipeline) renderVariation(ctx context.Context, run *runContext, brief map[string]any, i int) ([]byte, string, string) {
	prompt := coverPrompt(run, brief, i)
	if p.images != nil {
		attr := provider.Attribution{
			UserID:       &run.job.UserID,
			ManuscriptID: &run.job.ManuscriptID,
			Feature:      "cover_generation",
			Operation:    fmt.Sprintf("cover_variation_%d", i),
		}
		img, err := p.images.GenerateImage(ctx, prompt, attr)
		if err == nil && len(img.Bytes) > 0 {
			return img.Bytes, "openai", prompt
		}
		p.log.Warn("Cover image generation failed, using typographic fallback",
			"report_id", run.job.ReportID, "variation", i, "error", err)
	}

	palette, _ := brief["palette"].(string)
	png, err := p.covers.Render(run.job.Title, run.job.Author, palette, i)
	if err != nil {
		p.log.Warn("Typographic cover render failed",
			"report_id", run.job.ReportID, "variation", i, "error", err)
		return nil, "", ""
	}
	return png, "typographic", ""
}

func coverPrompt(run *runContext, brief map[string]any, i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Book cover art for %q", run.job.Title)
	if run.job.Genre != "" {
		fmt.Fprintf(&b, ", a %s novel", run.job.Genre)
	}
	b.WriteString(". ")
	if concept, _ := brief["concept"].(string); concept != "" {
		b.WriteString(concept)
		b.WriteString(". ")
	}
	if mood, _ := brief["mood"].(string); mood != "" {
		fmt.Fprintf(&b, "Mood: %s. ", mood)
	}
	if palette, _ := brief["palette"].(string); palette != "" {
		fmt.Fprintf(&b, "Palette: %s. ", palette)
	}
	if imagery, ok := brief["imagery"].([]any); ok && len(imagery) > 0 {
		idx := (i - 1) % len(imagery)
		fmt.Fprintf(&b, "Central imagery: %v. ", imagery[idx])
	}
	if avoid, ok := brief["avoid"].([]any); ok && len(avoid) > 0 {
		fmt.Fprintf(&b, "Avoid: %s. ", joinAny(avoid, ", "))
	}
	b.WriteString("No text or lettering in the image. Portrait 2:3.")
	return b.String()
}

func clampCoverCount(n int) int {
	if n < minCoverVariations {
		return minCoverVariations
	}
	if n > maxCoverVariations {
		return maxCoverVariations
	}
	return n
}

func intFromAny(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return def
	}
}

func joinAny(vals []any, sep string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, sep)
}

/*
coverRenderer draws the typographic fallback cover: a flat background from a
small curated palette, a darkened title band and centered type. It exists so
a dead image provider still leaves the author with something usable.
*/
type coverRenderer struct {
	titleFace  font.Face
	authorFace font.Face
}

var coverColors = []color.NRGBA{
	{R: 0x1B, G: 0x26, B: 0x3B, A: 0xFF}, // midnight
	{R: 0x5C, G: 0x1A, B: 0x1B, A: 0xFF}, // oxblood
	{R: 0x14, G: 0x3D, B: 0x2E, A: 0xFF}, // forest
	{R: 0x3E, G: 0x2A, B: 0x47, A: 0xFF}, // plum
	{R: 0x6E, G: 0x4A, B: 0x1E, A: 0xFF}, // amber
	{R: 0x23, G: 0x3A, B: 0x4A, A: 0xFF}, // slate
}

func newCoverRenderer() (*coverRenderer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse cover font: %w", err)
	}
	return &coverRenderer{
		titleFace:  truetype.NewFace(f, &truetype.Options{Size: 88, DPI: 72, Hinting: font.HintingNone}),
		authorFace: truetype.NewFace(f, &truetype.Options{Size: 40, DPI: 72, Hinting: font.HintingNone}),
	}, nil
}

func (r *coverRenderer) Render(title, author, palette string, seed int) ([]byte, error) {
	dc := gg.NewContext(coverWidth, coverHeight)

	base := pickCoverColor(palette, seed)
	dc.SetColor(base)
	dc.Clear()

	// Title band, slightly darker than the base.
	dc.SetColor(shade(base, 0.72))
	dc.DrawRectangle(0, coverHeight*0.30, coverWidth, coverHeight*0.34)
	dc.Fill()

	if title == "" {
		title = "Untitled"
	}
	dc.SetFontFace(r.titleFace)
	dc.SetColor(color.White)
	dc.DrawStringWrapped(strings.ToUpper(title),
		coverWidth/2, coverHeight*0.47, 0.5, 0.5, coverWidth-160, 1.25, gg.AlignCenter)

	if author != "" {
		dc.SetFontFace(r.authorFace)
		dc.SetColor(color.NRGBA{R: 0xE8, G: 0xE3, B: 0xD8, A: 0xFF})
		dc.DrawStringAnchored(author, coverWidth/2, coverHeight-140, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode cover png: %w", err)
	}
	return buf.Bytes(), nil
}

func pickCoverColor(palette string, seed int) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(palette))))
	idx := (int(h.Sum32()) + seed) % len(coverColors)
	if idx < 0 {
		idx += len(coverColors)
	}
	return coverColors[idx]
}

func shade(c color.NRGBA, factor float64) color.NRGBA {
	scale := func(v uint8) uint8 { return uint8(float64(v) * factor) }
	return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}
