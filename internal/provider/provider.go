package provider

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// Params tune a single completion call.
type Params struct {
	System      string
	Temperature float64
	MaxTokens   int
	Model       string // optional per-call override
}

// Attribution ties a provider call to the ledger row it produces.
type Attribution struct {
	UserID       *uuid.UUID
	ManuscriptID *uuid.UUID
	Feature      string
	Operation    string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Model        string
}

// Result of one logical call, retries included. When every attempt produced
// unparseable JSON, Parsed holds the parse-failed sentinel and ParseFailed is
// set; the call itself still counts as successful.
type Result struct {
	Parsed      map[string]any
	Text        string
	Usage       Usage
	Attempts    int
	ParseFailed bool
}

// Chat is a JSON-constrained text completion provider.
type Chat interface {
	CallJSON(ctx context.Context, prompt string, p Params, attr Attribution) (*Result, error)
	CallText(ctx context.Context, prompt string, p Params, attr Attribution) (*Result, error)
}

type Image struct {
	Bytes         []byte
	MimeType      string
	RevisedPrompt string
	Usage         Usage
	Attempts      int
}

// ImageGen renders cover art.
type ImageGen interface {
	GenerateImage(ctx context.Context, prompt string, attr Attribution) (*Image, error)
}

// Recorder persists one cost entry per successful provider call. Recording
// failures are logged and swallowed; they never fail the call.
type Recorder interface {
	Record(ctx context.Context, e *types.CostEntry) error
}

const (
	defaultMaxAttempts = 5
	baseBackoff        = 1 * time.Second
	maxBackoff         = 30 * time.Second
)

// ParseFailedRecord is the sentinel stored in place of a stage section whose
// JSON never parsed. Stages layer their own empty fields over it.
func ParseFailedRecord() map[string]any {
	return map[string]any{"parseError": true}
}

// backoffFor returns the wait after the given 1-based attempt: 2^attempt
// seconds, capped.
func backoffFor(attempt int, base time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func recordCost(ctx context.Context, log *logger.Logger, rec Recorder, center string, attr Attribution, u Usage, withTokens bool) {
	if m := observability.Current(); m != nil {
		m.AddProviderCost(u.Model, attr.Feature, u.CostUSD)
	}
	if rec == nil {
		return
	}
	e := &types.CostEntry{
		UserID:       attr.UserID,
		ManuscriptID: attr.ManuscriptID,
		CostCenter:   center,
		FeatureName:  attr.Feature,
		Operation:    attr.Operation,
		CostUSD:      u.CostUSD,
		Model:        u.Model,
	}
	if withTokens {
		in, out := u.InputTokens, u.OutputTokens
		e.InputTokens, e.OutputTokens = &in, &out
	}
	if err := rec.Record(ctx, e); err != nil {
		log.Warn("Cost entry not recorded",
			"cost_center", center, "feature", attr.Feature, "operation", attr.Operation, "error", err)
	}
}
