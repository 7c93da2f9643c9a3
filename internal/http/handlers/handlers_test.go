package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/inkpress-backend/internal/costs"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/queue"
	"github.com/yungbote/inkpress-backend/internal/reportid"
	"github.com/yungbote/inkpress-backend/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// fakeAuth resolves every presented credential to one fixed user so handler
// tests can mount the real auth middleware.
type fakeAuth struct {
	user      *types.User
	loginRes  *services.LoginResult
	loginErr  error
	regRes    *types.User
	regErr    error
	logoutErr error

	logouts []string
}

func (f *fakeAuth) Register(ctx context.Context, email, password, penName string) (*types.User, error) {
	if f.regErr != nil {
		return nil, f.regErr
	}
	if f.regRes != nil {
		return f.regRes, nil
	}
	return &types.User{ID: uuid.New(), Email: email, PenName: penName, Tier: types.TierFree}, nil
}

func (f *fakeAuth) Login(ctx context.Context, email, password string, rememberMe bool) (*services.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.loginRes, nil
}

func (f *fakeAuth) Logout(ctx context.Context, signedCookie string) error {
	f.logouts = append(f.logouts, signedCookie)
	return f.logoutErr
}

func (f *fakeAuth) ResolveSession(ctx context.Context, signedCookie string) (*types.User, error) {
	if f.user == nil {
		return nil, fmt.Errorf("no session")
	}
	return f.user, nil
}

func (f *fakeAuth) ResolveAccessToken(ctx context.Context, tokenString string) (*types.User, error) {
	if f.user == nil {
		return nil, fmt.Errorf("no user")
	}
	return f.user, nil
}

// fakeManuscripts serves canned manuscripts with the same owner-or-admin
// semantics as the real service.
type fakeManuscripts struct {
	byID       map[uuid.UUID]*types.Manuscript
	byReportID map[string]*types.Manuscript

	uploads   []services.UploadInput
	uploadErr error
	listRes   []*types.Manuscript
	lastLimit int
}

func (f *fakeManuscripts) Upload(ctx context.Context, userID uuid.UUID, in services.UploadInput) (*types.Manuscript, error) {
	f.uploads = append(f.uploads, in)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &types.Manuscript{
		ID:           uuid.New(),
		UserID:       userID,
		Title:        in.Title,
		OriginalName: in.Filename,
		SizeBytes:    int64(len(in.Data)),
		Status:       types.ManuscriptUploaded,
	}, nil
}

func (f *fakeManuscripts) Get(ctx context.Context, actor *types.User, id uuid.UUID) (*types.Manuscript, error) {
	m := f.byID[id]
	if m == nil {
		return nil, apierr.NotFound(fmt.Errorf("manuscript not found"))
	}
	if actor == nil || (m.UserID != actor.ID && !actor.IsAdmin()) {
		return nil, apierr.Forbidden(fmt.Errorf("not your manuscript"))
	}
	return m, nil
}

func (f *fakeManuscripts) GetByReportID(ctx context.Context, actor *types.User, reportID string) (*types.Manuscript, error) {
	m := f.byReportID[reportID]
	if m == nil {
		return nil, apierr.NotFound(fmt.Errorf("report not found"))
	}
	if actor == nil || (m.UserID != actor.ID && !actor.IsAdmin()) {
		return nil, apierr.Forbidden(fmt.Errorf("not your report"))
	}
	return m, nil
}

func (f *fakeManuscripts) List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Manuscript, error) {
	f.lastLimit = limit
	return f.listRes, nil
}

// fakeIDs is an in-memory reportid.Service.
type fakeIDs struct {
	mu       sync.Mutex
	next     string
	mintErr  error
	prefixes map[string]string
	statuses map[string]reportid.Status
	cancels  map[string]bool
}

func newFakeIDs() *fakeIDs {
	return &fakeIDs{
		next:     "ab12cd34",
		prefixes: map[string]string{},
		statuses: map[string]reportid.Status{},
		cancels:  map[string]bool{},
	}
}

func (f *fakeIDs) Mint(ctx context.Context, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return "", f.mintErr
	}
	f.prefixes[f.next] = prefix
	return f.next, nil
}

func (f *fakeIDs) Prefix(ctx context.Context, reportID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefixes[reportID]
	if !ok {
		return "", fmt.Errorf("unknown report id %s", reportID)
	}
	return p, nil
}

func (f *fakeIDs) WriteStatus(ctx context.Context, reportID string, s reportid.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[reportID] = s
	return nil
}

func (f *fakeIDs) ReadStatus(ctx context.Context, reportID string) (*reportid.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[reportID]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}

func (f *fakeIDs) RequestCancel(ctx context.Context, reportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels[reportID] = true
	return nil
}

func (f *fakeIDs) CancelRequested(ctx context.Context, reportID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels[reportID], nil
}

func (f *fakeIDs) ClearCancel(ctx context.Context, reportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancels, reportID)
	return nil
}

type sentJob struct {
	queue   string
	payload any
}

// fakeJobQueue records sends and serves canned stats.
type fakeJobQueue struct {
	sends    []sentJob
	sendErr  error
	stats    *queue.Stats
	statsErr error
}

func (f *fakeJobQueue) Send(ctx context.Context, q string, payload any, opts *queue.SendOptions) (*queue.Job, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, sentJob{queue: q, payload: payload})
	raw, _ := json.Marshal(payload)
	return &queue.Job{ID: uuid.NewString(), Queue: q, Payload: raw, Status: queue.StatusPending}, nil
}

func (f *fakeJobQueue) Next(ctx context.Context, q string, block time.Duration) (*queue.Job, error) {
	return nil, queue.ErrNoJob
}

func (f *fakeJobQueue) Complete(ctx context.Context, job *queue.Job, result any) error { return nil }

func (f *fakeJobQueue) Fail(ctx context.Context, job *queue.Job, cause error) error { return nil }

func (f *fakeJobQueue) Lookup(ctx context.Context, id string) (*queue.Job, error) {
	return nil, fmt.Errorf("unknown job %s", id)
}

func (f *fakeJobQueue) Stats(ctx context.Context, q string) (*queue.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.stats != nil {
		return f.stats, nil
	}
	return &queue.Stats{}, nil
}

type statusChange struct {
	id     uuid.UUID
	status string
}

// fakeManuscriptRepo records the writes the report handler performs.
type fakeManuscriptRepo struct {
	reportIDs     map[uuid.UUID]string
	statusChanges []statusChange
	setReportErr  error
}

func newFakeManuscriptRepo() *fakeManuscriptRepo {
	return &fakeManuscriptRepo{reportIDs: map[uuid.UUID]string{}}
}

func (f *fakeManuscriptRepo) Create(dbc dbctx.Context, ms []*types.Manuscript) ([]*types.Manuscript, error) {
	return ms, nil
}

func (f *fakeManuscriptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Manuscript, error) {
	return nil, nil
}

func (f *fakeManuscriptRepo) GetByReportID(dbc dbctx.Context, reportID string) (*types.Manuscript, error) {
	return nil, nil
}

func (f *fakeManuscriptRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Manuscript, error) {
	return nil, nil
}

func (f *fakeManuscriptRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	f.statusChanges = append(f.statusChanges, statusChange{id: id, status: status})
	return nil
}

func (f *fakeManuscriptRepo) UpdateStatusUnless(dbc dbctx.Context, id uuid.UUID, disallowed []string, status string) (bool, error) {
	f.statusChanges = append(f.statusChanges, statusChange{id: id, status: status})
	return true, nil
}

func (f *fakeManuscriptRepo) SetReportID(dbc dbctx.Context, id uuid.UUID, reportID string) error {
	if f.setReportErr != nil {
		return f.setReportErr
	}
	f.reportIDs[id] = reportID
	return nil
}

func (f *fakeManuscriptRepo) SetWordCount(dbc dbctx.Context, id uuid.UUID, words int) error {
	return nil
}

func (f *fakeManuscriptRepo) SetAnalysisSummary(dbc dbctx.Context, id uuid.UUID, summary datatypes.JSON) error {
	return nil
}

// fakeLedger gates CheckBudget and serves canned summaries.
type fakeLedger struct {
	budgetErr error
	summary   *costs.Summary
	entries   []*types.CostEntry

	lastMonth time.Time
	lastUser  uuid.UUID
	lastLimit int
}

func (f *fakeLedger) Record(ctx context.Context, entry *types.CostEntry) error { return nil }

func (f *fakeLedger) CheckBudget(ctx context.Context) error { return f.budgetErr }

func (f *fakeLedger) MonthToDate(ctx context.Context) (float64, error) { return 0, nil }

func (f *fakeLedger) Summary(ctx context.Context, month time.Time) (*costs.Summary, error) {
	f.lastMonth = month
	if f.summary != nil {
		return f.summary, nil
	}
	return &costs.Summary{Month: month.UTC().Format("2006-01")}, nil
}

func (f *fakeLedger) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.CostEntry, error) {
	f.lastUser = userID
	f.lastLimit = limit
	return f.entries, nil
}

// decodeErrorCode pulls the code out of the error envelope.
func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	return out.Error.Code
}
