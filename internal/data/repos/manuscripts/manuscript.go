package manuscripts

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type ManuscriptRepo interface {
	Create(dbc dbctx.Context, manuscripts []*types.Manuscript) ([]*types.Manuscript, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Manuscript, error)
	GetByReportID(dbc dbctx.Context, reportID string) (*types.Manuscript, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Manuscript, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	UpdateStatusUnless(dbc dbctx.Context, id uuid.UUID, disallowed []string, status string) (bool, error)
	SetReportID(dbc dbctx.Context, id uuid.UUID, reportID string) error
	SetWordCount(dbc dbctx.Context, id uuid.UUID, words int) error
	SetAnalysisSummary(dbc dbctx.Context, id uuid.UUID, summary datatypes.JSON) error
}

type manuscriptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewManuscriptRepo(db *gorm.DB, baseLog *logger.Logger) ManuscriptRepo {
	return &manuscriptRepo{
		db:  db,
		log: baseLog.With("repo", "ManuscriptRepo"),
	}
}

func (r *manuscriptRepo) Create(dbc dbctx.Context, manuscripts []*types.Manuscript) ([]*types.Manuscript, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(manuscripts) == 0 {
		return []*types.Manuscript{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&manuscripts).Error; err != nil {
		return nil, err
	}
	return manuscripts, nil
}

func (r *manuscriptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Manuscript, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var m types.Manuscript
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *manuscriptRepo) GetByReportID(dbc dbctx.Context, reportID string) (*types.Manuscript, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if reportID == "" {
		return nil, nil
	}
	var m types.Manuscript
	err := transaction.WithContext(dbc.Ctx).
		Where("report_id = ?", reportID).
		Order("updated_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *manuscriptRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Manuscript, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Manuscript
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

func (r *manuscriptRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Manuscript{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// UpdateStatusUnless skips the write when the row is already in one of the
// disallowed states, e.g. never move "exported" back to "analyzing".
func (r *manuscriptRepo) UpdateStatusUnless(dbc dbctx.Context, id uuid.UUID, disallowed []string, status string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Manuscript{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *manuscriptRepo) SetReportID(dbc dbctx.Context, id uuid.UUID, reportID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Manuscript{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"report_id":  reportID,
			"updated_at": time.Now(),
		}).Error
}

func (r *manuscriptRepo) SetWordCount(dbc dbctx.Context, id uuid.UUID, words int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Manuscript{}).
		Where("id = ?", id).
		Update("word_count", words).Error
}

func (r *manuscriptRepo) SetAnalysisSummary(dbc dbctx.Context, id uuid.UUID, summary datatypes.JSON) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Manuscript{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"analysis_summary": summary,
			"updated_at":       time.Now(),
		}).Error
}
