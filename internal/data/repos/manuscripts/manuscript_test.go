package manuscripts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/inkpress-backend/internal/data/repos/testutil"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
)

func seedUser(t *testing.T, dbc dbctx.Context) *types.User {
	t.Helper()
	u := &types.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Password: "pw", Tier: types.TierFree}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestManuscriptRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	repo := NewManuscriptRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	owner := seedUser(t, dbc)

	m := &types.Manuscript{
		ID:           uuid.New(),
		UserID:       owner.ID,
		Title:        "The Long Night",
		OriginalName: "book.txt",
		Genre:        "thriller",
		StorageKey:   owner.ID.String() + "/m1/book.txt",
		Status:       types.ManuscriptUploaded,
	}
	created, err := repo.Create(dbc, []*types.Manuscript{m})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("Create: expected 1 manuscript, got %d", len(created))
	}

	got, err := repo.GetByID(dbc, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.StorageKey != m.StorageKey {
		t.Fatalf("GetByID: unexpected result: %+v", got)
	}

	if err := repo.SetReportID(dbc, m.ID, "a1b2c3d4"); err != nil {
		t.Fatalf("SetReportID: %v", err)
	}
	byReport, err := repo.GetByReportID(dbc, "a1b2c3d4")
	if err != nil {
		t.Fatalf("GetByReportID: %v", err)
	}
	if byReport == nil || byReport.ID != m.ID {
		t.Fatalf("GetByReportID: unexpected result: %+v", byReport)
	}

	if err := repo.UpdateStatus(dbc, m.ID, types.ManuscriptAnalyzing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	changed, err := repo.UpdateStatusUnless(dbc, m.ID, []string{types.ManuscriptAnalyzing}, types.ManuscriptQueued)
	if err != nil {
		t.Fatalf("UpdateStatusUnless: %v", err)
	}
	if changed {
		t.Fatalf("UpdateStatusUnless: expected guard to block the write")
	}

	changed, err = repo.UpdateStatusUnless(dbc, m.ID, []string{types.ManuscriptExported}, types.ManuscriptAnalyzed)
	if err != nil {
		t.Fatalf("UpdateStatusUnless (allowed): %v", err)
	}
	if !changed {
		t.Fatalf("UpdateStatusUnless (allowed): expected the write to land")
	}

	summary := datatypes.JSON(`{"reportId":"a1b2c3d4","partialAssets":false}`)
	if err := repo.SetAnalysisSummary(dbc, m.ID, summary); err != nil {
		t.Fatalf("SetAnalysisSummary: %v", err)
	}
	withSummary, err := repo.GetByID(dbc, m.ID)
	if err != nil {
		t.Fatalf("GetByID (summary): %v", err)
	}
	if withSummary == nil || len(withSummary.AnalysisSummary) == 0 {
		t.Fatalf("GetByID (summary): summary not persisted: %+v", withSummary)
	}

	listed, err := repo.ListByUser(dbc, owner.ID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("ListByUser: expected 1, got %d", len(listed))
	}

	missing, err := repo.GetByReportID(dbc, "ffffffff")
	if err != nil {
		t.Fatalf("GetByReportID (missing): %v", err)
	}
	if missing != nil {
		t.Fatalf("GetByReportID (missing): expected nil, got %+v", missing)
	}
}
