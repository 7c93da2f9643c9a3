package costs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type CenterTotal struct {
	CostCenter string  `json:"cost_center"`
	CostUSD    float64 `json:"cost_usd"`
	Calls      int64   `json:"calls"`
}

// CostEntryRepo is append-only: entries are created and aggregated, never
// updated or deleted.
type CostEntryRepo interface {
	Create(dbc dbctx.Context, entries []*types.CostEntry) ([]*types.CostEntry, error)
	TotalBetween(dbc dbctx.Context, from, to time.Time) (float64, error)
	TotalsByCenter(dbc dbctx.Context, from, to time.Time) ([]CenterTotal, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.CostEntry, error)
}

type costEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCostEntryRepo(db *gorm.DB, baseLog *logger.Logger) CostEntryRepo {
	return &costEntryRepo{
		db:  db,
		log: baseLog.With("repo", "CostEntryRepo"),
	}
}

func (r *costEntryRepo) Create(dbc dbctx.Context, entries []*types.CostEntry) ([]*types.CostEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return []*types.CostEntry{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *costEntryRepo) TotalBetween(dbc dbctx.Context, from, to time.Time) (float64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total float64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.CostEntry{}).
		Select("COALESCE(SUM(cost_usd), 0)").
		Where("created_at >= ? AND created_at < ?", from, to).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *costEntryRepo) TotalsByCenter(dbc dbctx.Context, from, to time.Time) ([]CenterTotal, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []CenterTotal
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.CostEntry{}).
		Select("cost_center, COALESCE(SUM(cost_usd), 0) AS cost_usd, COUNT(*) AS calls").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("cost_center").
		Order("cost_center ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *costEntryRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.CostEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CostEntry
	if userID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
