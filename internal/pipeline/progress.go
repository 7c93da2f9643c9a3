package pipeline

import (
	"context"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/reportid"
)

// currentStep values published in the status record.
const (
	stepInit          = "initialization"
	stepDevelopmental = "developmental"
	stepLineEditing   = "line-editing"
	stepCopyEditing   = "copy-editing"
	stepAssets        = "asset-generation"
	stepMarket        = "market-analysis"
	stepSocial        = "social-campaign"
	stepCover         = "cover-design"
	stepExport        = "export"
)

// tickerMargin keeps the intra-stage ticker below the next boundary.
const tickerMargin = 5

// progressTracker owns every status write for one report so updates stay
// totally ordered even while a stage ticker runs in the background.
type progressTracker struct {
	log      *logger.Logger
	ids      reportid.Service
	reportID string
	tick     time.Duration

	mu      sync.Mutex
	rnd     *mrand.Rand
	current int
}

func newProgressTracker(log *logger.Logger, ids reportid.Service, reportID string, tick time.Duration) *progressTracker {
	return &progressTracker{
		log:      log,
		ids:      ids,
		reportID: reportID,
		tick:     tick,
		rnd:      mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

// set publishes a stage-boundary progress value.
func (t *progressTracker) set(ctx context.Context, pct int, step, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct > t.current {
		t.current = pct
	}
	t.write(ctx, reportid.StateProcessing, t.current, step, msg)
}

// complete publishes the terminal success record at 100.
func (t *progressTracker) complete(ctx context.Context, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = 100
	t.write(ctx, reportid.StateComplete, 100, "", msg)
}

// errorState publishes the terminal error record, keeping the last progress.
func (t *progressTracker) errorState(ctx context.Context, step, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.write(ctx, reportid.StateError, t.current, step, msg)
}

// tickToward starts the background ticker for one stage: every tick it
// advances progress by 1-3% toward boundary but never past boundary minus
// tickerMargin. The returned func stops the ticker and waits for it to exit.
func (t *progressTracker) tickToward(ctx context.Context, boundary int, step, msg string) func() {
	ceiling := boundary - tickerMargin
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		tk := time.NewTicker(t.tick)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-tk.C:
				t.mu.Lock()
				if t.current < ceiling {
					next := t.current + 1 + t.rnd.Intn(3)
					if next > ceiling {
						next = ceiling
					}
					t.current = next
					t.write(ctx, reportid.StateProcessing, next, step, msg)
				}
				t.mu.Unlock()
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (t *progressTracker) write(ctx context.Context, state string, pct int, step, msg string) {
	st := reportid.Status{
		Status:      state,
		Progress:    pct,
		Message:     msg,
		CurrentStep: step,
	}
	if err := t.ids.WriteStatus(ctx, t.reportID, st); err != nil {
		t.log.Warn("Status write failed", "report_id", t.reportID, "step", step, "error", err)
	}
}
