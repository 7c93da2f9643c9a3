package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/inkpress-backend/internal/costs"
	manuscriptrepo "github.com/yungbote/inkpress-backend/internal/data/repos/manuscripts"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/http/middleware"
	"github.com/yungbote/inkpress-backend/internal/http/response"
	"github.com/yungbote/inkpress-backend/internal/pipeline"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/queue"
	"github.com/yungbote/inkpress-backend/internal/reportid"
	"github.com/yungbote/inkpress-backend/internal/services"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

// ReportHandler owns the analysis lifecycle surface: enqueueing runs,
// polling status, and serving the artifacts a finished run leaves behind.
type ReportHandler struct {
	log         *logger.Logger
	ids         reportid.Service
	queue       queue.Queue
	manuscripts services.ManuscriptService
	repo        manuscriptrepo.ManuscriptRepo
	store       storage.ArtifactStore
	ledger      costs.Ledger

	pendingWatermark int64
	enqueueDisabled  bool
}

func NewReportHandler(
	baseLog *logger.Logger,
	ids reportid.Service,
	q queue.Queue,
	manuscripts services.ManuscriptService,
	repo manuscriptrepo.ManuscriptRepo,
	store storage.ArtifactStore,
	ledger costs.Ledger,
	pendingWatermark int64,
	enqueueDisabled bool,
) *ReportHandler {
	if pendingWatermark <= 0 {
		pendingWatermark = 100
	}
	return &ReportHandler{
		log:              baseLog.With("handler", "ReportHandler"),
		ids:              ids,
		queue:            q,
		manuscripts:      manuscripts,
		repo:             repo,
		store:            store,
		ledger:           ledger,
		pendingWatermark: pendingWatermark,
		enqueueDisabled:  enqueueDisabled,
	}
}

/*
Enqueue starts an analysis run for an owned manuscript.

Admission control happens here, ingress-side, so the queue only ever holds
jobs that were worth accepting: the kill switch, a per-manuscript in-flight
check, the monthly budget cap, and the pending-depth watermark, in that
order. Each rejection maps to its own error code.
*/
func (h *ReportHandler) Enqueue(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, nil)
		return
	}
	m, ok := h.ownedManuscriptByID(c, u)
	if !ok {
		return
	}

	var req struct {
		Author     string `json:"author"`
		StyleGuide string `json:"styleGuide"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
			return
		}
	}

	if h.enqueueDisabled {
		response.RespondError(c, http.StatusServiceUnavailable, apierr.CodeQueueBusy,
			fmt.Errorf("new analyses are temporarily disabled"))
		return
	}
	if m.Status == types.ManuscriptQueued || m.Status == types.ManuscriptAnalyzing {
		response.RespondError(c, http.StatusConflict, apierr.CodeConflict,
			fmt.Errorf("analysis already in progress for this manuscript"))
		return
	}
	if err := h.ledger.CheckBudget(c.Request.Context()); err != nil {
		response.RespondFromError(c, err)
		return
	}
	stats, err := h.queue.Stats(c.Request.Context(), pipeline.QueueAnalysis)
	if err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, apierr.CodeQueueUnavailable, err)
		return
	}
	if stats.Pending >= h.pendingWatermark {
		response.RespondError(c, http.StatusServiceUnavailable, apierr.CodeQueueBusy,
			fmt.Errorf("analysis queue is full, try again shortly"))
		return
	}

	reportID, err := h.ids.Mint(c.Request.Context(), m.StorageKey)
	if err != nil {
		response.RespondFromError(c, fmt.Errorf("mint report id: %w", err))
		return
	}
	if err := h.ids.WriteStatus(c.Request.Context(), reportID, reportid.Status{
		Status:      reportid.StateQueued,
		Progress:    0,
		Message:     "Analysis queued",
		CurrentStep: "queued",
	}); err != nil {
		response.RespondFromError(c, fmt.Errorf("write initial status: %w", err))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.repo.SetReportID(dbc, m.ID, reportID); err != nil {
		response.RespondFromError(c, fmt.Errorf("bind report id: %w", err))
		return
	}
	if err := h.repo.UpdateStatus(dbc, m.ID, types.ManuscriptQueued); err != nil {
		h.log.Warn("Manuscript status update failed", "manuscript_id", m.ID.String(), "error", err)
	}

	author := strings.TrimSpace(req.Author)
	if author == "" {
		author = u.PenName
	}
	job := pipeline.AnalysisJob{
		ReportID:     reportID,
		ManuscriptID: m.ID,
		UserID:       u.ID,
		Prefix:       m.StorageKey,
		Title:        m.Title,
		Author:       author,
		Genre:        m.Genre,
		StyleGuide:   strings.TrimSpace(req.StyleGuide),
	}
	if _, err := h.queue.Send(c.Request.Context(), pipeline.QueueAnalysis, job, nil); err != nil {
		if rerr := h.repo.UpdateStatus(dbc, m.ID, types.ManuscriptUploaded); rerr != nil {
			h.log.Warn("Manuscript status rollback failed", "manuscript_id", m.ID.String(), "error", rerr)
		}
		response.RespondError(c, http.StatusServiceUnavailable, apierr.CodeQueueUnavailable, err)
		return
	}

	h.log.Info("Analysis enqueued",
		"report_id", reportID,
		"manuscript_id", m.ID.String(),
		"user_id", u.ID.String(),
	)
	response.RespondAccepted(c, gin.H{
		"report_id":  reportID,
		"status_url": "/api/reports/" + reportID + "/status",
	})
}

// Status serves the polled progress record.
func (h *ReportHandler) Status(c *gin.Context) {
	_, reportID, ok := h.ownedReport(c)
	if !ok {
		return
	}
	st, err := h.ids.ReadStatus(c.Request.Context(), reportID)
	if err != nil {
		response.RespondFromError(c, fmt.Errorf("read status: %w", err))
		return
	}
	if st == nil {
		response.RespondError(c, http.StatusNotFound, apierr.CodeNotFound,
			fmt.Errorf("no status for report %s", reportID))
		return
	}
	response.RespondOK(c, st)
}

// Artifact serves one JSON artifact by kind, raw bytes straight from the
// store so clients see exactly what the pipeline wrote.
func (h *ReportHandler) Artifact(c *gin.Context) {
	m, _, ok := h.ownedReport(c)
	if !ok {
		return
	}
	kind, valid := storage.ParseKind(c.Param("kind"))
	if !valid {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			fmt.Errorf("unknown artifact kind %q", c.Param("kind")))
		return
	}
	h.serveObject(c, storage.ArtifactKey(m.StorageKey, kind), "application/json", "")
}

// CoverImage serves one generated cover variation PNG.
func (h *ReportHandler) CoverImage(c *gin.Context) {
	m, _, ok := h.ownedReport(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 || n > 5 {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			fmt.Errorf("cover variation must be 1 through 5"))
		return
	}
	h.serveObject(c, storage.CoverVariationKey(m.StorageKey, n), "image/png", "")
}

// Export downloads a packaged manuscript as an attachment.
func (h *ReportHandler) Export(c *gin.Context) {
	m, _, ok := h.ownedReport(c)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(c.Param("format")))
	var contentType string
	switch format {
	case "epub":
		contentType = "application/epub+zip"
	case "pdf":
		contentType = "application/pdf"
	default:
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			fmt.Errorf("format must be epub or pdf"))
		return
	}
	h.serveObject(c, storage.ExportKey(m.StorageKey, format), contentType, exportFilename(m.Title, format))
}

// Cancel flags the run; the pipeline honors it at the next stage boundary.
func (h *ReportHandler) Cancel(c *gin.Context) {
	_, reportID, ok := h.ownedReport(c)
	if !ok {
		return
	}
	st, err := h.ids.ReadStatus(c.Request.Context(), reportID)
	if err != nil {
		response.RespondFromError(c, fmt.Errorf("read status: %w", err))
		return
	}
	if st == nil {
		response.RespondError(c, http.StatusNotFound, apierr.CodeNotFound,
			fmt.Errorf("no status for report %s", reportID))
		return
	}
	if st.Status == reportid.StateComplete || st.Status == reportid.StateError {
		response.RespondError(c, http.StatusConflict, apierr.CodeConflict,
			fmt.Errorf("run already settled as %s", st.Status))
		return
	}
	if err := h.ids.RequestCancel(c.Request.Context(), reportID); err != nil {
		response.RespondFromError(c, fmt.Errorf("request cancel: %w", err))
		return
	}
	h.log.Info("Cancellation requested", "report_id", reportID)
	response.RespondAccepted(c, gin.H{"status": "cancelling"})
}

// ownedManuscriptByID loads the :id manuscript and enforces ownership.
func (h *ReportHandler) ownedManuscriptByID(c *gin.Context, u *types.User) (*types.Manuscript, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			fmt.Errorf("malformed manuscript id"))
		return nil, false
	}
	m, err := h.manuscripts.Get(c.Request.Context(), u, id)
	if err != nil {
		response.RespondFromError(c, err)
		return nil, false
	}
	return m, true
}

// ownedReport resolves :reportId to its manuscript and enforces ownership.
func (h *ReportHandler) ownedReport(c *gin.Context) (*types.Manuscript, string, bool) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, nil)
		return nil, "", false
	}
	reportID := strings.TrimSpace(c.Param("reportId"))
	if !reportid.Valid(reportID) {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			fmt.Errorf("malformed report id"))
		return nil, "", false
	}
	m, err := h.manuscripts.GetByReportID(c.Request.Context(), u, reportID)
	if err != nil {
		response.RespondFromError(c, err)
		return nil, "", false
	}
	return m, reportID, true
}

func (h *ReportHandler) serveObject(c *gin.Context, key, contentType, attachmentName string) {
	obj, err := h.store.Get(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, apierr.CodeNotFound,
			fmt.Errorf("artifact not available yet"))
		return
	}
	if err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, apierr.CodeStorageUnavailable, err)
		return
	}
	if obj.ContentType != "" {
		contentType = obj.ContentType
	}
	if attachmentName != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachmentName))
	}
	c.Data(http.StatusOK, contentType, obj.Body)
}

// exportFilename flattens a title into a safe download name.
func exportFilename(title, format string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "manuscript"
	}
	return name + "." + format
}
