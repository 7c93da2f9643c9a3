package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/inkpress-backend/internal/provider"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

const (
	assetsFeature    = "asset_generation"
	requiredKeywords = 7
)

// subAgent is one of the seven parallel generators in the asset stage. Its
// name is the field it populates in the assets bundle.
type subAgent struct {
	name      string
	operation string
	system    string
	maxTokens int
	prompt    func(run *runContext) string
	// extract pulls the bundle value out of the parsed response and may
	// return a rule violation that marks the bundle partial while keeping
	// the value.
	extract func(parsed map[string]any) (any, string)
}

func wholeObject(parsed map[string]any) (any, string) { return parsed, "" }

var subAgents = []subAgent{
	{
		name:      "description",
		operation: "assets_description",
		system:    systemFor("You write book marketing descriptions."),
		maxTokens: 1024,
		prompt: func(run *runContext) string {
			return assetHeader(run) + `
Write retail descriptions for this book. Return JSON:
{"shortDescription": string, "longDescription": string, "hook": string}

Rules:
- shortDescription: at most 60 words, no spoilers.
- longDescription: 3-5 paragraphs of retail copy.
- hook: one sentence a reader would repeat to a friend.

Opening excerpt:
` + excerpt(run.text, 1200)
		},
		extract: wholeObject,
	},
	{
		name:      "keywords",
		operation: "assets_keywords",
		system:    systemFor("You choose search keywords for book retail platforms."),
		maxTokens: 512,
		prompt: func(run *runContext) string {
			return assetHeader(run) + fmt.Sprintf(`
Choose exactly %d search keyword phrases readers of this book would type. Return JSON:
{"keywords": [string]}

Rules:
- exactly %d entries, each 1-4 words, lowercase.
- no duplicates, no generic terms like "book" or "novel".

Opening excerpt:
`, requiredKeywords, requiredKeywords) + excerpt(run.text, 800)
		},
		extract: func(parsed map[string]any) (any, string) {
			arr, ok := parsed["keywords"].([]any)
			if !ok {
				return nil, "keywords missing from response"
			}
			if len(arr) != requiredKeywords {
				return arr, fmt.Sprintf("expected %d keywords, got %d", requiredKeywords, len(arr))
			}
			return arr, ""
		},
	},
	{
		name:      "categories",
		operation: "assets_categories",
		system:    systemFor("You assign retail categories to books."),
		maxTokens: 1024,
		prompt: func(run *runContext) string {
			return assetHeader(run) + `
Assign retail categories. Return JSON:
{"categories": [{"bisac": string, "name": string, "rationale": string}]}

Rules:
- 3-5 entries ordered by fit, bisac is the standard subject code.

Opening excerpt:
` + excerpt(run.text, 800)
		},
		extract: func(parsed map[string]any) (any, string) {
			if arr, ok := parsed["categories"].([]any); ok {
				return arr, ""
			}
			return nil, "categories missing from response"
		},
	},
	{
		name:      "backMatter",
		operation: "assets_back_matter",
		system:    systemFor("You write book back matter."),
		maxTokens: 1024,
		prompt: func(run *runContext) string {
			return assetHeader(run) + `
Draft back matter for the book. Return JSON:
{"aboutAuthor": string, "alsoByHint": string, "reviewAsk": string}

Rules:
- aboutAuthor: third person, 2-3 sentences, built from the pen name only.
- reviewAsk: one warm sentence inviting a reader review.

Opening excerpt:
` + excerpt(run.text, 600)
		},
		extract: wholeObject,
	},
	{
		name:      "tagline",
		operation: "assets_tagline",
		system:    systemFor("You write book taglines."),
		maxTokens: 512,
		prompt: func(run *runContext) string {
			return assetHeader(run) + `
Write the cover tagline. Return JSON:
{"tagline": string, "alternatives": [string]}

Rules:
- tagline: at most 12 words.
- alternatives: 2-4 runner-ups.

Opening excerpt:
` + excerpt(run.text, 600)
		},
		extract: wholeObject,
	},
	{
		name:      "audience",
		operation: "assets_audience",
		system:    systemFor("You profile target readerships for books."),
		maxTokens: 1024,
		prompt: func(run *runContext) string {
			return assetHeader(run) + `
Profile the target readership. Return JSON:
{"primary": string, "secondary": string, "ageRange": string, "comparableReaders": [string]}

Rules:
- comparableReaders: "readers of <title/author>" phrases, 2-4 entries.

Opening excerpt:
` + excerpt(run.text, 800)
		},
		extract: wholeObject,
	},
	{
		name:      "coverBrief",
		operation: "assets_cover_brief",
		system:    systemFor("You brief cover designers."),
		maxTokens: 1024,
		prompt: func(run *runContext) string {
			return assetHeader(run) + `
Brief a cover designer for this book. Return JSON:
{"concept": string, "mood": string, "palette": string, "typography": string,
 "imagery": [string], "avoid": [string], "variations": integer}

Rules:
- palette: 2-4 color words.
- variations: how many distinct cover directions are worth rendering, 1-5.

Opening excerpt:
` + excerpt(run.text, 800)
		},
		extract: wholeObject,
	},
}

func assetHeader(run *runContext) string {
	h := fmt.Sprintf("Book: %s\nAuthor: %s\n", run.job.Title, run.job.Author)
	if run.job.Genre != "" {
		h += fmt.Sprintf("Genre: %s\n", run.job.Genre)
	}
	return h
}

type subResult struct {
	value     any
	err       string
	violation string
}

// runAssets fans the seven sub-agents out concurrently and assembles the
// assets bundle. Sub-agent failures null their field and downgrade the bundle
// to partial; only writing the artifact can fail the stage. The cover brief,
// when produced, is also written to its own artifact for the cover stage.
func (p *Pipeline) runAssets(ctx context.Context, run *runContext) (map[string]any, error) {
	results := make([]subResult, len(subAgents))

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range subAgents {
		g.Go(func() error {
			results[i] = p.runSubAgent(gctx, run, agent)
			return nil
		})
	}
	_ = g.Wait()

	bundle := map[string]any{
		"reportId":     run.job.ReportID,
		"manuscriptId": run.job.ManuscriptID.String(),
		"generatedAt":  p.now().UTC().Format(time.RFC3339),
		"genre":        run.job.Genre,
	}
	var errs []map[string]any
	for i, agent := range subAgents {
		r := results[i]
		if r.err != "" {
			bundle[agent.name] = nil
			errs = append(errs, map[string]any{"subAgent": agent.name, "error": r.err})
			p.log.Warn("Asset sub-agent failed",
				"report_id", run.job.ReportID, "sub_agent", agent.name, "error", r.err)
			continue
		}
		bundle[agent.name] = r.value
		if r.violation != "" {
			errs = append(errs, map[string]any{"subAgent": agent.name, "error": r.violation})
		}
	}
	if len(errs) > 0 {
		bundle["partialSuccess"] = true
		bundle["errors"] = errs
	}

	if err := p.putJSON(ctx, storage.ArtifactKey(run.job.Prefix, storage.KindAssets), bundle); err != nil {
		return nil, err
	}
	if brief, ok := bundle["coverBrief"].(map[string]any); ok && brief != nil {
		if err := p.putJSON(ctx, storage.ArtifactKey(run.job.Prefix, storage.KindCoverBrief), brief); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

func (p *Pipeline) runSubAgent(ctx context.Context, run *runContext, agent subAgent) subResult {
	attr := provider.Attribution{
		UserID:       &run.job.UserID,
		ManuscriptID: &run.job.ManuscriptID,
		Feature:      assetsFeature,
		Operation:    agent.operation,
	}
	params := provider.Params{System: agent.system, Temperature: 0.7, MaxTokens: agent.maxTokens}

	res, err := p.chat.CallJSON(ctx, agent.prompt(run), params, attr)
	if err != nil {
		return subResult{err: err.Error()}
	}
	if res.ParseFailed {
		return subResult{err: "response was not parseable JSON"}
	}
	value, violation := agent.extract(res.Parsed)
	if value == nil && violation != "" {
		return subResult{err: violation}
	}
	return subResult{value: value, violation: violation}
}

// bundlePartial reports whether the assets bundle was downgraded.
func bundlePartial(bundle map[string]any) bool {
	v, _ := bundle["partialSuccess"].(bool)
	return v
}
