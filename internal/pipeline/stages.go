package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/inkpress-backend/internal/provider"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

const analysisFeature = "manuscript_analysis"

// sectionStageSpec describes one of the three sectioned analysis stages.
type sectionStageSpec struct {
	kind      storage.Kind
	step      string
	operation string
	words     int
	system    string
	prompt    func(job *AnalysisJob, sec Section, total int) string
}

var (
	developmentalStage = sectionStageSpec{
		kind:      storage.KindAnalysis,
		step:      stepDevelopmental,
		operation: "developmental",
		words:     1000,
		system:    systemFor("You are a developmental editor for book manuscripts."),
		prompt:    developmentalPrompt,
	}
	lineEditingStage = sectionStageSpec{
		kind:      storage.KindLineAnalysis,
		step:      stepLineEditing,
		operation: "line_editing",
		words:     800,
		system:    systemFor("You are a line editor improving prose at sentence level."),
		prompt:    lineEditingPrompt,
	}
	copyEditingStage = sectionStageSpec{
		kind:      storage.KindCopyAnalysis,
		step:      stepCopyEditing,
		operation: "copy_editing",
		words:     1000,
		system:    systemFor("You are a copy editor enforcing a style guide."),
		prompt:    copyEditingPrompt,
	}
)

// runSectionStage chunks the manuscript, analyzes sections one at a time with
// the inter-section pause, and writes the stage artifact. A section whose
// JSON never parsed is recorded as a sentinel and excluded from totalIssues;
// only provider or storage errors fail the stage.
func (p *Pipeline) runSectionStage(ctx context.Context, run *runContext, spec sectionStageSpec) error {
	secs := SplitSections(run.text, spec.words)
	if len(secs) == 0 {
		return fmt.Errorf("manuscript has no analyzable text")
	}

	attr := provider.Attribution{
		UserID:       &run.job.UserID,
		ManuscriptID: &run.job.ManuscriptID,
		Feature:      analysisFeature,
		Operation:    spec.operation,
	}
	params := provider.Params{System: spec.system, Temperature: 0.4, MaxTokens: 2048}

	records := make([]map[string]any, 0, len(secs))
	totalIssues := 0
	failedSections := 0
	model := ""

	for i, sec := range secs {
		if i > 0 {
			if err := sleepCtx(ctx, p.pause); err != nil {
				return err
			}
		}
		res, err := p.chat.CallJSON(ctx, spec.prompt(run.job, sec, len(secs)), params, attr)
		if err != nil {
			return fmt.Errorf("section %d/%d: %w", sec.Index, len(secs), err)
		}

		rec := res.Parsed
		if res.ParseFailed {
			rec = provider.ParseFailedRecord()
			rec["issues"] = []any{}
			failedSections++
			p.log.Warn("Section analysis unparseable",
				"report_id", run.job.ReportID, "step", spec.step, "section", sec.Index)
		} else {
			totalIssues += len(issueList(rec))
		}
		rec["section"] = sec.Index
		rec["words"] = sec.Words
		records = append(records, rec)
		if res.Usage.Model != "" {
			model = res.Usage.Model
		}
	}

	doc := map[string]any{
		"reportId":       run.job.ReportID,
		"manuscriptId":   run.job.ManuscriptID.String(),
		"generatedAt":    p.now().UTC().Format(time.RFC3339),
		"genre":          run.job.Genre,
		"styleGuide":     run.job.StyleGuide,
		"wordCount":      run.words,
		"sectionCount":   len(secs),
		"failedSections": failedSections,
		"totalIssues":    totalIssues,
		"model":          model,
		"sections":       records,
	}
	return p.putJSON(ctx, storage.ArtifactKey(run.job.Prefix, spec.kind), doc)
}

func issueList(rec map[string]any) []any {
	if rec == nil {
		return nil
	}
	arr, _ := rec["issues"].([]any)
	return arr
}

func (p *Pipeline) putJSON(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := p.store.Put(ctx, key, raw, "application/json", nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
