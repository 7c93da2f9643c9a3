// Package worker drives the analysis queue: a fixed pool of slots claims
// jobs with a blocking pop, runs the pipeline with panic containment, and
// settles each job back into the queue's complete/retry/dead flow.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	manuscriptrepo "github.com/yungbote/inkpress-backend/internal/data/repos/manuscripts"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/notify"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/pipeline"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/queue"
	"github.com/yungbote/inkpress-backend/internal/reportid"
)

const defaultBlock = 5 * time.Second

// Runner executes one decoded analysis job. The pipeline satisfies this; a
// non-nil error asks the queue to retry.
type Runner interface {
	Run(ctx context.Context, job *pipeline.AnalysisJob) error
}

type Worker struct {
	log         *logger.Logger
	queue       queue.Queue
	runner      Runner
	ids         reportid.Service
	manuscripts manuscriptrepo.ManuscriptRepo
	notifier    notify.Notifier

	slots int
	block time.Duration
	wg    sync.WaitGroup
}

// NewWorker wires the pool. notifier may be nil; slots below 1 are raised
// to 1.
func NewWorker(
	baseLog *logger.Logger,
	q queue.Queue,
	runner Runner,
	ids reportid.Service,
	manuscripts manuscriptrepo.ManuscriptRepo,
	notifier notify.Notifier,
	slots int,
) (*Worker, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue is nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is nil")
	}
	if ids == nil {
		return nil, fmt.Errorf("ids is nil")
	}
	if manuscripts == nil {
		return nil, fmt.Errorf("manuscripts is nil")
	}
	if slots < 1 {
		slots = 1
	}
	return &Worker{
		log:         baseLog.With("component", "AnalysisWorker"),
		queue:       q,
		runner:      runner,
		ids:         ids,
		manuscripts: manuscripts,
		notifier:    notifier,
		slots:       slots,
		block:       defaultBlock,
	}, nil
}

// Start launches the slot goroutines. They exit when ctx is cancelled; Wait
// blocks until the in-flight jobs have settled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Worker pool starting", "slots", w.slots)
	for i := 0; i < w.slots; i++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) loop(ctx context.Context, slot int) {
	log := w.log.With("slot", slot)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := w.queue.Next(ctx, pipeline.QueueAnalysis, w.block)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("Queue claim failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, log, job)
	}
}

func (w *Worker) process(ctx context.Context, log *logger.Logger, job *queue.Job) {
	var aj pipeline.AnalysisJob
	if err := json.Unmarshal(job.Payload, &aj); err != nil {
		log.Error("Job payload undecodable", "job_id", job.ID, "error", err)
		w.settle(ctx, log, job, nil, fmt.Errorf("decode payload: %w", err))
		return
	}

	log = log.With("job_id", job.ID, "report_id", aj.ReportID, "attempt", job.Attempts)
	log.Info("Job claimed")

	start := time.Now()
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "panic", r)
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = w.runner.Run(ctx, &aj)
	}()

	w.settle(ctx, log, job, &aj, runErr)
	if m := observability.Current(); m != nil {
		m.ObserveJob(jobOutcome(job, runErr), time.Since(start))
	}
}

// settle records the run outcome with the queue. Runs on a detached context
// so a cancelled worker still hands its job back.
func (w *Worker) settle(ctx context.Context, log *logger.Logger, job *queue.Job, aj *pipeline.AnalysisJob, runErr error) {
	ctx = context.WithoutCancel(ctx)
	if runErr == nil {
		if err := w.queue.Complete(ctx, job, nil); err != nil {
			log.Error("Job completion not recorded", "error", err)
		}
		return
	}
	if err := w.queue.Fail(ctx, job, runErr); err != nil {
		log.Error("Job failure not recorded", "error", err)
		return
	}
	if job.Status == queue.StatusDead && aj != nil {
		w.onDead(ctx, log, aj, runErr)
	}
}

// onDead backstops the terminal records once retries are exhausted and sends
// the failure mail exactly once, here and nowhere else.
func (w *Worker) onDead(ctx context.Context, log *logger.Logger, aj *pipeline.AnalysisJob, cause error) {
	st, err := w.ids.ReadStatus(ctx, aj.ReportID)
	if err != nil {
		log.Warn("Status read failed on dead job", "error", err)
	}
	if st == nil || st.Status != reportid.StateError {
		progress := 0
		if st != nil {
			progress = st.Progress
		}
		werr := w.ids.WriteStatus(ctx, aj.ReportID, reportid.Status{
			Status:   reportid.StateError,
			Progress: progress,
			Message:  "analysis failed permanently: " + cause.Error(),
		})
		if werr != nil {
			log.Warn("Status backstop write failed", "error", werr)
		}
	}
	if err := w.manuscripts.UpdateStatus(dbctx.Context{Ctx: ctx}, aj.ManuscriptID, types.ManuscriptFailed); err != nil {
		log.Warn("Manuscript status update failed on dead job", "error", err)
	}
	if w.notifier != nil {
		w.notifier.RunFailed(ctx, aj.UserID, aj.ReportID, aj.Title, cause.Error())
	}
	log.Error("Job dead after retries", "error", cause)
}

func jobOutcome(job *queue.Job, runErr error) string {
	switch {
	case runErr == nil:
		return "completed"
	case job.Status == queue.StatusDead:
		return "dead"
	default:
		return "retrying"
	}
}
