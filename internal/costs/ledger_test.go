package costs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	costsrepo "github.com/yungbote/inkpress-backend/internal/data/repos/costs"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type fakeRepo struct {
	entries    []*types.CostEntry
	total      float64
	totalErr   error
	totalCalls int
	centers    []costsrepo.CenterTotal
}

func (f *fakeRepo) Create(dbc dbctx.Context, entries []*types.CostEntry) ([]*types.CostEntry, error) {
	f.entries = append(f.entries, entries...)
	for _, e := range entries {
		f.total += e.CostUSD
	}
	return entries, nil
}

func (f *fakeRepo) TotalBetween(dbc dbctx.Context, from, to time.Time) (float64, error) {
	f.totalCalls++
	if f.totalErr != nil {
		return 0, f.totalErr
	}
	return f.total, nil
}

func (f *fakeRepo) TotalsByCenter(dbc dbctx.Context, from, to time.Time) ([]costsrepo.CenterTotal, error) {
	return f.centers, nil
}

func (f *fakeRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.CostEntry, error) {
	var out []*types.CostEntry
	for _, e := range f.entries {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestLedger(t *testing.T, repo *fakeRepo, capUSD float64) *ledger {
	t.Helper()
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	l, err := NewLedger(logg, repo, capUSD)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l.(*ledger)
}

func TestCheckBudgetDisabledWithoutCap(t *testing.T) {
	repo := &fakeRepo{total: 1e9}
	l := newTestLedger(t, repo, 0)

	if err := l.CheckBudget(context.Background()); err != nil {
		t.Fatalf("CheckBudget with no cap: %v", err)
	}
	if repo.totalCalls != 0 {
		t.Fatalf("repo consulted %d times with cap disabled", repo.totalCalls)
	}
}

func TestCheckBudgetTripsAtCap(t *testing.T) {
	repo := &fakeRepo{total: 40}
	l := newTestLedger(t, repo, 100)
	base := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	if err := l.CheckBudget(context.Background()); err != nil {
		t.Fatalf("CheckBudget under cap: %v", err)
	}
	if repo.totalCalls != 1 {
		t.Fatalf("totalCalls = %d, want 1", repo.totalCalls)
	}

	// Spend moves past the cap but the cache is still fresh, so the next
	// check must not see it yet.
	repo.total = 150
	if err := l.CheckBudget(context.Background()); err != nil {
		t.Fatalf("CheckBudget with fresh cache: %v", err)
	}
	if repo.totalCalls != 1 {
		t.Fatalf("totalCalls = %d after fresh-cache check, want 1", repo.totalCalls)
	}

	now = base.Add(refreshEvery + time.Second)
	err := l.CheckBudget(context.Background())
	if err == nil {
		t.Fatal("CheckBudget over cap returned nil")
	}
	if !apierr.HasCode(err, apierr.CodeBudgetExhausted) {
		t.Fatalf("CheckBudget error = %v, want budget_exhausted", err)
	}
	if repo.totalCalls != 2 {
		t.Fatalf("totalCalls = %d after stale cache, want 2", repo.totalCalls)
	}
}

func TestRecordBumpsCacheBetweenRefreshes(t *testing.T) {
	repo := &fakeRepo{total: 90}
	l := newTestLedger(t, repo, 100)
	now := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if err := l.CheckBudget(context.Background()); err != nil {
		t.Fatalf("CheckBudget under cap: %v", err)
	}

	entry := &types.CostEntry{CostCenter: types.CostCenterClaude, FeatureName: "analysis", Operation: "call", CostUSD: 15}
	if err := l.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("repo has %d entries, want 1", len(repo.entries))
	}

	// Cache is fresh, so the trip comes from the recorded bump, not a
	// second ledger read.
	err := l.CheckBudget(context.Background())
	if !apierr.HasCode(err, apierr.CodeBudgetExhausted) {
		t.Fatalf("CheckBudget after bump = %v, want budget_exhausted", err)
	}
	if repo.totalCalls != 1 {
		t.Fatalf("totalCalls = %d, want 1", repo.totalCalls)
	}
}

func TestCheckBudgetAllowsOnLedgerError(t *testing.T) {
	repo := &fakeRepo{totalErr: errors.New("connection refused")}
	l := newTestLedger(t, repo, 100)

	if err := l.CheckBudget(context.Background()); err != nil {
		t.Fatalf("CheckBudget with failing ledger: %v", err)
	}
}

func TestCacheResetsOnMonthRollover(t *testing.T) {
	repo := &fakeRepo{total: 500}
	l := newTestLedger(t, repo, 100)
	now := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if err := l.CheckBudget(context.Background()); !apierr.HasCode(err, apierr.CodeBudgetExhausted) {
		t.Fatalf("CheckBudget in spent month = %v, want budget_exhausted", err)
	}

	// New month, fresh ledger: the August cache must not carry over even
	// though it was fetched less than refreshEvery ago.
	repo.total = 0
	now = time.Date(2026, 9, 1, 0, 1, 0, 0, time.UTC)
	if err := l.CheckBudget(context.Background()); err != nil {
		t.Fatalf("CheckBudget in new month: %v", err)
	}
	if repo.totalCalls != 2 {
		t.Fatalf("totalCalls = %d, want 2", repo.totalCalls)
	}
}

func TestSummaryAggregatesCenters(t *testing.T) {
	repo := &fakeRepo{centers: []costsrepo.CenterTotal{
		{CostCenter: types.CostCenterClaude, CostUSD: 12.5, Calls: 40},
		{CostCenter: types.CostCenterOpenAI, CostUSD: 3.2, Calls: 8},
	}}
	l := newTestLedger(t, repo, 200)

	sum, err := l.Summary(context.Background(), time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Month != "2026-07" {
		t.Fatalf("Month = %q, want 2026-07", sum.Month)
	}
	if diff := sum.TotalUSD - 15.7; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("TotalUSD = %v, want 15.7", sum.TotalUSD)
	}
	if sum.CapUSD != 200 {
		t.Fatalf("CapUSD = %v, want 200", sum.CapUSD)
	}
	if len(sum.Centers) != 2 {
		t.Fatalf("Centers = %d, want 2", len(sum.Centers))
	}
}

func TestMonthWindow(t *testing.T) {
	from, to := monthWindow(time.Date(2026, 12, 15, 8, 30, 0, 0, time.UTC))
	if !from.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", from)
	}
	if !to.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("to = %v", to)
	}
}
