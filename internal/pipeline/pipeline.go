// Package pipeline runs the eight-stage manuscript analysis: three sectioned
// editorial passes, the marketing asset fan-out, market and social strategy,
// cover variations and the export packages. Stages publish coarse progress at
// fixed boundaries and a background ticker fills the gaps between them.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/inkpress-backend/internal/clients/gcp"
	manuscriptrepo "github.com/yungbote/inkpress-backend/internal/data/repos/manuscripts"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/notify"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/pipeline/export"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/envutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/provider"
	"github.com/yungbote/inkpress-backend/internal/reportid"
	"github.com/yungbote/inkpress-backend/internal/services"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

const (
	defaultWallCap      = 30 * time.Minute
	defaultSectionPause = time.Second
	defaultTick         = 3 * time.Second
)

type Pipeline struct {
	log         *logger.Logger
	store       storage.ArtifactStore
	ids         reportid.Service
	chat        provider.Chat
	images      provider.ImageGen
	vision      gcp.Vision
	manuscripts manuscriptrepo.ManuscriptRepo
	extractor   services.ExtractionService
	notifier    notify.Notifier
	covers      *coverRenderer

	wallCap time.Duration
	pause   time.Duration
	tick    time.Duration
	now     func() time.Time
}

// NewPipeline wires the orchestrator. images, vision and notifier may be nil:
// covers then fall back to the typographic renderer unreviewed, and completion
// mail is skipped.
func NewPipeline(
	baseLog *logger.Logger,
	store storage.ArtifactStore,
	ids reportid.Service,
	chat provider.Chat,
	images provider.ImageGen,
	vision gcp.Vision,
	manuscripts manuscriptrepo.ManuscriptRepo,
	extractor services.ExtractionService,
	notifier notify.Notifier,
) (*Pipeline, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if ids == nil {
		return nil, fmt.Errorf("ids is nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	if manuscripts == nil {
		return nil, fmt.Errorf("manuscripts is nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is nil")
	}
	covers, err := newCoverRenderer()
	if err != nil {
		return nil, fmt.Errorf("cover renderer: %w", err)
	}
	return &Pipeline{
		log:         baseLog.With("service", "Pipeline"),
		store:       store,
		ids:         ids,
		chat:        chat,
		images:      images,
		vision:      vision,
		manuscripts: manuscripts,
		extractor:   extractor,
		notifier:    notifier,
		covers:      covers,
		wallCap:     envutil.Duration("JOB_WALL_CLOCK_CAP", defaultWallCap),
		pause:       defaultSectionPause,
		tick:        defaultTick,
		now:         time.Now,
	}, nil
}

// runContext carries one job's loaded state between stages.
type runContext struct {
	job   *AnalysisJob
	m     *types.Manuscript
	text  string
	words int
}

// sectionedStage binds one editorial pass to its slice of the progress ladder.
type sectionedStage struct {
	spec     sectionStageSpec
	start    int
	boundary int
	msg      string
}

var sectionedStages = []sectionedStage{
	{developmentalStage, 5, 30, "Developmental analysis"},
	{lineEditingStage, 35, 65, "Line-by-line editing"},
	{copyEditingStage, 70, 95, "Copy editing"},
}

/*
Run executes the full pipeline for one dequeued job under the wall-clock cap.

A nil return means the job is finished with, one way or the other: success,
or a cancellation honored at a stage boundary. A non-nil return is a fatal
stage error; the status record and manuscript are already marked and the
caller decides whether the job retries.
*/
func (p *Pipeline) Run(ctx context.Context, job *AnalysisJob) error {
	if job == nil || job.ReportID == "" || job.Prefix == "" {
		return fmt.Errorf("malformed analysis job")
	}
	ctx, cancel := context.WithTimeout(ctx, p.wallCap)
	defer cancel()

	log := p.log.With("report_id", job.ReportID, "manuscript_id", job.ManuscriptID.String())
	pr := newProgressTracker(log, p.ids, job.ReportID, p.tick)
	log.Info("Analysis run starting", "title", job.Title)

	m, err := p.manuscripts.GetByID(dbctx.Context{Ctx: ctx}, job.ManuscriptID)
	if err != nil {
		return p.fatal(ctx, pr, job, stepInit, fmt.Errorf("load manuscript: %w", err))
	}
	run := &runContext{job: job, m: m}

	p.setManuscriptStatus(ctx, log, job.ManuscriptID, types.ManuscriptAnalyzing)
	pr.set(ctx, 0, stepInit, "Preparing manuscript")

	text, err := p.extractor.Extract(ctx, m)
	if err != nil {
		return p.fatal(ctx, pr, job, stepInit, fmt.Errorf("extract text: %w", err))
	}
	run.text = text
	run.words = CountWords(text)

	// S1-S3: the sectioned editorial passes, in order, each with its own
	// background ticker.
	for _, st := range sectionedStages {
		if p.cancelRequested(ctx, job) {
			return p.cancelled(ctx, pr, log, run)
		}
		pr.set(ctx, st.start, st.spec.step, st.msg+" starting")
		stopTick := pr.tickToward(ctx, st.boundary, st.spec.step, st.msg+" in progress")
		stageStart := time.Now()
		err := p.runSectionStage(ctx, run, st.spec)
		stopTick()
		observeStage(st.spec.step, stageStart, err)
		if err != nil {
			return p.fatal(ctx, pr, job, st.spec.step, err)
		}
		pr.set(ctx, st.boundary, st.spec.step, st.msg+" complete")
	}

	// S4: marketing asset fan-out. Sub-agent failures downgrade the bundle;
	// only an artifact write failure is fatal here.
	if p.cancelRequested(ctx, job) {
		return p.cancelled(ctx, pr, log, run)
	}
	pr.set(ctx, 95, stepAssets, "Generating marketing assets")
	assetsStart := time.Now()
	bundle, err := p.runAssets(ctx, run)
	observeStage(stepAssets, assetsStart, err)
	if err != nil {
		return p.fatal(ctx, pr, job, stepAssets, err)
	}

	// S5-S6: market strategy feeds the social campaign.
	if p.cancelRequested(ctx, job) {
		return p.cancelled(ctx, pr, log, run)
	}
	pr.set(ctx, 95, stepMarket, "Building market strategy")
	marketStart := time.Now()
	market, err := p.runMarket(ctx, run, bundle)
	observeStage(stepMarket, marketStart, err)
	if err != nil {
		return p.fatal(ctx, pr, job, stepMarket, err)
	}
	pr.set(ctx, 95, stepSocial, "Drafting social campaign")
	socialStart := time.Now()
	err = p.runSocial(ctx, run, bundle, market)
	observeStage(stepSocial, socialStart, err)
	if err != nil {
		return p.fatal(ctx, pr, job, stepSocial, err)
	}
	p.setManuscriptStatus(ctx, log, job.ManuscriptID, types.ManuscriptAnalyzed)

	// S7: covers, only when S4 produced a brief. Never fatal.
	if p.cancelRequested(ctx, job) {
		return p.cancelled(ctx, pr, log, run)
	}
	if brief, ok := bundle["coverBrief"].(map[string]any); ok && brief != nil {
		pr.set(ctx, 95, stepCover, "Designing cover variations")
		p.runCover(ctx, run, brief)
	} else {
		log.Warn("Cover stage skipped, no brief in assets bundle")
	}

	// S8: export packages.
	if p.cancelRequested(ctx, job) {
		return p.cancelled(ctx, pr, log, run)
	}
	pr.set(ctx, 95, stepExport, "Packaging EPUB and PDF")
	exportStart := time.Now()
	err = p.runExport(ctx, run, bundle)
	observeStage(stepExport, exportStart, err)
	if err != nil {
		return p.fatal(ctx, pr, job, stepExport, err)
	}
	p.setManuscriptStatus(ctx, log, job.ManuscriptID, types.ManuscriptExported)

	msg := "Analysis complete"
	if bundlePartial(bundle) {
		msg = "Analysis complete; some marketing assets could not be generated"
	}
	p.writeRunSummary(ctx, log, run, bundle)
	pr.complete(ctx, msg)
	if p.notifier != nil {
		p.notifier.RunCompleted(ctx, job.UserID, job.ReportID, job.Title)
	}
	if err := p.ids.ClearCancel(ctx, job.ReportID); err != nil {
		log.Warn("Cancel flag cleanup failed", "error", err)
	}
	log.Info("Analysis run complete", "words", run.words, "partial", bundlePartial(bundle))
	return nil
}

// runExport packages the manuscript text into the EPUB and PDF artifacts.
func (p *Pipeline) runExport(ctx context.Context, run *runContext, bundle map[string]any) error {
	meta := export.Meta{
		Title:       run.job.Title,
		Author:      run.job.Author,
		Genre:       run.job.Genre,
		Description: bundleDescription(bundle),
	}
	chapters := export.Chapters(run.text)

	epub, err := export.EPUB(meta, chapters)
	if err != nil {
		return fmt.Errorf("package epub: %w", err)
	}
	key := storage.ExportKey(run.job.Prefix, "epub")
	if err := p.store.Put(ctx, key, epub, "application/epub+zip", nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	pdf, err := export.PDF(meta, chapters)
	if err != nil {
		return fmt.Errorf("package pdf: %w", err)
	}
	key = storage.ExportKey(run.job.Prefix, "pdf")
	if err := p.store.Put(ctx, key, pdf, "application/pdf", nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// bundleDescription pulls the long description out of the S4 bundle for the
// export back page, falling back to the short one.
func bundleDescription(bundle map[string]any) string {
	desc, _ := bundle["description"].(map[string]any)
	if desc == nil {
		return ""
	}
	if s, _ := desc["longDescription"].(string); s != "" {
		return s
	}
	s, _ := desc["shortDescription"].(string)
	return s
}

// cancelRequested fails open: a flag-store error never stops a run.
func (p *Pipeline) cancelRequested(ctx context.Context, job *AnalysisJob) bool {
	flagged, err := p.ids.CancelRequested(ctx, job.ReportID)
	if err != nil {
		p.log.Warn("Cancel check failed", "report_id", job.ReportID, "error", err)
		return false
	}
	return flagged
}

// cancelled finishes a run that was stopped at a stage boundary. The status
// record goes to error with the cancelled reason, the manuscript returns to
// uploaded so the author can re-run, and the job itself completes.
func (p *Pipeline) cancelled(ctx context.Context, pr *progressTracker, log *logger.Logger, run *runContext) error {
	ctx = context.WithoutCancel(ctx)
	pr.errorState(ctx, "", "cancelled")
	p.setManuscriptStatus(ctx, log, run.job.ManuscriptID, types.ManuscriptUploaded)
	if err := p.ids.ClearCancel(ctx, run.job.ReportID); err != nil {
		log.Warn("Cancel flag cleanup failed", "error", err)
	}
	log.Info("Analysis run cancelled")
	return nil
}

// fatal marks the status record and manuscript before handing the error back
// to the worker, which decides on retry. Writes run on a detached context so
// they still land when the wall cap killed the run.
func (p *Pipeline) fatal(ctx context.Context, pr *progressTracker, job *AnalysisJob, step string, err error) error {
	ctx = context.WithoutCancel(ctx)
	log := p.log.With("report_id", job.ReportID, "step", step)
	log.Error("Analysis stage failed", "error", err)
	pr.errorState(ctx, step, err.Error())
	p.setManuscriptStatus(ctx, log, job.ManuscriptID, types.ManuscriptFailed)
	return fmt.Errorf("%s: %w", step, err)
}

// setManuscriptStatus is best-effort; runs outlive row updates that miss.
func (p *Pipeline) setManuscriptStatus(ctx context.Context, log *logger.Logger, id uuid.UUID, status string) {
	if err := p.manuscripts.UpdateStatus(dbctx.Context{Ctx: ctx}, id, status); err != nil {
		log.Warn("Manuscript status update failed", "status", status, "error", err)
	}
}

// writeRunSummary denormalizes the run outcome onto the manuscript row so
// list views answer without touching the artifact store. Best-effort.
func (p *Pipeline) writeRunSummary(ctx context.Context, log *logger.Logger, run *runContext, bundle map[string]any) {
	summary, err := json.Marshal(map[string]any{
		"reportId":      run.job.ReportID,
		"completedAt":   p.now().UTC().Format(time.RFC3339),
		"wordCount":     run.words,
		"partialAssets": bundlePartial(bundle),
		"exports":       []string{"epub", "pdf"},
	})
	if err != nil {
		log.Warn("Run summary marshal failed", "error", err)
		return
	}
	if err := p.manuscripts.SetAnalysisSummary(dbctx.Context{Ctx: ctx}, run.job.ManuscriptID, datatypes.JSON(summary)); err != nil {
		log.Warn("Run summary update failed", "error", err)
	}
}

func observeStage(step string, start time.Time, err error) {
	m := observability.Current()
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ObserveStage(step, status, time.Since(start))
}
