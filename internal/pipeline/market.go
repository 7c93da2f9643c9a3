package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/inkpress-backend/internal/provider"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

// marketHardInputs are the S4 fields the market stage cannot run without.
// Keywords and the rest degrade the prompt but do not block it.
var marketHardInputs = []string{"description", "categories"}

// runMarket builds the market strategy from the asset bundle. Returns the
// parsed analysis for the social stage.
func (p *Pipeline) runMarket(ctx context.Context, run *runContext, bundle map[string]any) (map[string]any, error) {
	for _, field := range marketHardInputs {
		if bundle[field] == nil {
			return nil, fmt.Errorf("asset bundle is missing %s", field)
		}
	}

	attr := provider.Attribution{
		UserID:       &run.job.UserID,
		ManuscriptID: &run.job.ManuscriptID,
		Feature:      "market_analysis",
		Operation:    "market_analysis",
	}
	params := provider.Params{
		System:      systemFor("You are a book marketing strategist."),
		Temperature: 0.6,
		MaxTokens:   2048,
	}

	prompt := assetHeader(run) + `
Assets generated so far:
` + compactJSON(bundleSubset(bundle, "description", "categories", "keywords", "audience")) + `

Build the market strategy. Return JSON:
{"positioning": string,
 "comparableTitles": [{"title": string, "author": string, "why": string}],
 "pricing": {"ebookUSD": number, "paperbackUSD": number, "rationale": string},
 "launchPlan": [{"week": integer, "action": string}],
 "risks": [string]}

Rules:
- comparableTitles: 3-5 real, recent titles in the same category.
- launchPlan: weeks 1-8.`

	res, err := p.chat.CallJSON(ctx, prompt, params, attr)
	if err != nil {
		return nil, err
	}
	analysis := res.Parsed
	if res.ParseFailed {
		analysis = provider.ParseFailedRecord()
		p.log.Warn("Market analysis unparseable", "report_id", run.job.ReportID)
	}

	doc := map[string]any{
		"reportId":     run.job.ReportID,
		"manuscriptId": run.job.ManuscriptID.String(),
		"generatedAt":  p.now().UTC().Format(time.RFC3339),
		"model":        res.Usage.Model,
		"analysis":     analysis,
	}
	if err := p.putJSON(ctx, storage.ArtifactKey(run.job.Prefix, storage.KindMarketAnalysis), doc); err != nil {
		return nil, err
	}
	return analysis, nil
}

// runSocial builds the social campaign from the market analysis.
func (p *Pipeline) runSocial(ctx context.Context, run *runContext, bundle, market map[string]any) error {
	attr := provider.Attribution{
		UserID:       &run.job.UserID,
		ManuscriptID: &run.job.ManuscriptID,
		Feature:      "social_campaign",
		Operation:    "social_campaign",
	}
	params := provider.Params{
		System:      systemFor("You plan book launch social media campaigns."),
		Temperature: 0.8,
		MaxTokens:   2048,
	}

	prompt := assetHeader(run) + `
Positioning and assets:
` + compactJSON(map[string]any{
		"positioning": market["positioning"],
		"description": bundle["description"],
		"tagline":     bundle["tagline"],
		"audience":    bundle["audience"],
	}) + `

Plan the launch campaign. Return JSON:
{"platforms": {"instagram": [string], "tiktok": [string], "x": [string]},
 "hashtags": [string],
 "calendar": [{"day": integer, "platform": string, "post": string}]}

Rules:
- platforms: 3-5 ready-to-post texts each, within platform length norms.
- calendar: days 1-14 around launch.`

	res, err := p.chat.CallJSON(ctx, prompt, params, attr)
	if err != nil {
		return err
	}
	campaign := res.Parsed
	if res.ParseFailed {
		campaign = provider.ParseFailedRecord()
		p.log.Warn("Social campaign unparseable", "report_id", run.job.ReportID)
	}

	doc := map[string]any{
		"reportId":     run.job.ReportID,
		"manuscriptId": run.job.ManuscriptID.String(),
		"generatedAt":  p.now().UTC().Format(time.RFC3339),
		"model":        res.Usage.Model,
		"campaign":     campaign,
	}
	return p.putJSON(ctx, storage.ArtifactKey(run.job.Prefix, storage.KindSocialMedia), doc)
}

func bundleSubset(bundle map[string]any, fields ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := bundle[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
