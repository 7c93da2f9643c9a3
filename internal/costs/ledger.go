package costs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	costsrepo "github.com/yungbote/inkpress-backend/internal/data/repos/costs"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// refreshEvery bounds how stale the cached month-to-date total may get before
// CheckBudget re-reads it from the ledger. Record bumps the cache in between,
// so the cap trips within one refresh window even without a DB read.
const refreshEvery = 5 * time.Minute

// Summary is the admin-facing monthly aggregate.
type Summary struct {
	Month    string                  `json:"month"`
	TotalUSD float64                 `json:"total_usd"`
	CapUSD   float64                 `json:"cap_usd,omitempty"`
	Centers  []costsrepo.CenterTotal `json:"centers"`
}

// Ledger records provider spend and enforces the monthly cap.
//
// The ledger is written on the provider-call path but never read there:
// CheckBudget gates new analysis enqueues only, off a cached total, and jobs
// already in flight run to completion regardless of the cap.
type Ledger interface {
	// Record appends one entry. Callers treat failures as non-fatal.
	Record(ctx context.Context, entry *types.CostEntry) error

	// CheckBudget returns a BudgetExhausted error when the configured
	// monthly cap is set and the current month's spend has reached it.
	CheckBudget(ctx context.Context) error

	// MonthToDate reads the current month's spend from the ledger and
	// refreshes the cached total.
	MonthToDate(ctx context.Context) (float64, error)

	Summary(ctx context.Context, month time.Time) (*Summary, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.CostEntry, error)
}

type ledger struct {
	log    *logger.Logger
	repo   costsrepo.CostEntryRepo
	capUSD float64

	mu          sync.Mutex
	cachedTotal float64
	cachedMonth time.Time // first instant of the cached month, UTC
	fetchedAt   time.Time

	now func() time.Time
}

// NewLedger builds the cost ledger service. capUSD <= 0 disables the cap.
func NewLedger(baseLog *logger.Logger, repo costsrepo.CostEntryRepo, capUSD float64) (Ledger, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("repo is nil")
	}
	return &ledger{
		log:    baseLog.With("service", "CostLedger"),
		repo:   repo,
		capUSD: capUSD,
		now:    time.Now,
	}, nil
}

func (l *ledger) Record(ctx context.Context, entry *types.CostEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is nil")
	}
	if _, err := l.repo.Create(dbctx.Context{Ctx: ctx}, []*types.CostEntry{entry}); err != nil {
		return fmt.Errorf("append cost entry: %w", err)
	}
	l.bump(entry.CostUSD)
	return nil
}

func (l *ledger) CheckBudget(ctx context.Context) error {
	if l.capUSD <= 0 {
		return nil
	}
	total, err := l.cachedOrRefresh(ctx)
	if err != nil {
		// A ledger read hiccup should not block uploads; the cache
		// catches up on the next refresh.
		l.log.Warn("Budget refresh failed, allowing enqueue", "error", err)
		return nil
	}
	if total >= l.capUSD {
		return apierr.BudgetExhausted(fmt.Errorf("monthly spend $%.2f has reached the $%.2f cap", total, l.capUSD))
	}
	return nil
}

func (l *ledger) MonthToDate(ctx context.Context) (float64, error) {
	from, to := monthWindow(l.now())
	total, err := l.repo.TotalBetween(dbctx.Context{Ctx: ctx}, from, to)
	if err != nil {
		return 0, fmt.Errorf("sum month to date: %w", err)
	}
	l.mu.Lock()
	l.cachedTotal = total
	l.cachedMonth = from
	l.fetchedAt = l.now()
	l.mu.Unlock()
	return total, nil
}

func (l *ledger) Summary(ctx context.Context, month time.Time) (*Summary, error) {
	if month.IsZero() {
		month = l.now()
	}
	from, to := monthWindow(month)
	centers, err := l.repo.TotalsByCenter(dbctx.Context{Ctx: ctx}, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate cost centers: %w", err)
	}
	out := &Summary{
		Month:   from.Format("2006-01"),
		CapUSD:  l.capUSD,
		Centers: centers,
	}
	for _, c := range centers {
		out.TotalUSD += c.CostUSD
	}
	return out, nil
}

func (l *ledger) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.CostEntry, error) {
	entries, err := l.repo.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cost entries: %w", err)
	}
	return entries, nil
}

// bump adds freshly recorded spend to the cached total so the cap can trip
// between refreshes.
func (l *ledger) bump(costUSD float64) {
	from, _ := monthWindow(l.now())
	l.mu.Lock()
	if l.cachedMonth.Equal(from) {
		l.cachedTotal += costUSD
	}
	l.mu.Unlock()
}

func (l *ledger) cachedOrRefresh(ctx context.Context) (float64, error) {
	from, _ := monthWindow(l.now())
	l.mu.Lock()
	fresh := l.cachedMonth.Equal(from) && l.now().Sub(l.fetchedAt) < refreshEvery
	total := l.cachedTotal
	l.mu.Unlock()
	if fresh {
		return total, nil
	}
	return l.MonthToDate(ctx)
}

// monthWindow returns the half-open UTC interval covering t's calendar month.
func monthWindow(t time.Time) (from, to time.Time) {
	t = t.UTC()
	from = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	to = from.AddDate(0, 1, 0)
	return from, to
}
