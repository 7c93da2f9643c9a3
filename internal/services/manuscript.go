package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	manuscriptrepo "github.com/yungbote/inkpress-backend/internal/data/repos/manuscripts"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

// UploadInput is one multipart upload, already read into memory by the
// handler within the MAX_FILE_SIZE bound.
type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
	Title       string
	Genre       string
}

type ManuscriptService interface {
	Upload(ctx context.Context, userID uuid.UUID, in UploadInput) (*types.Manuscript, error)

	// Get returns the manuscript when the actor owns it or is admin.
	Get(ctx context.Context, actor *types.User, id uuid.UUID) (*types.Manuscript, error)
	GetByReportID(ctx context.Context, actor *types.User, reportID string) (*types.Manuscript, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Manuscript, error)
}

type manuscriptService struct {
	log         *logger.Logger
	repo        manuscriptrepo.ManuscriptRepo
	store       storage.ArtifactStore
	extractor   ExtractionService
	maxFileSize int64
}

func NewManuscriptService(
	baseLog *logger.Logger,
	repo manuscriptrepo.ManuscriptRepo,
	store storage.ArtifactStore,
	extractor ExtractionService,
	maxFileSize int64,
) (ManuscriptService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("repo is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is nil")
	}
	if maxFileSize <= 0 {
		maxFileSize = 50 << 20
	}
	return &manuscriptService{
		log:         baseLog.With("service", "ManuscriptService"),
		repo:        repo,
		store:       store,
		extractor:   extractor,
		maxFileSize: maxFileSize,
	}, nil
}

func (ms *manuscriptService) Upload(ctx context.Context, userID uuid.UUID, in UploadInput) (*types.Manuscript, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("userID is nil")
	}
	filename := sanitizeFilename(in.Filename)
	if filename == "" {
		return nil, apierr.Validation(fmt.Errorf("missing filename"))
	}
	if len(in.Data) == 0 {
		return nil, apierr.Validation(fmt.Errorf("empty upload"))
	}
	if int64(len(in.Data)) > ms.maxFileSize {
		return nil, apierr.Validation(fmt.Errorf("file exceeds the %d byte limit", ms.maxFileSize))
	}
	if !ms.extractor.Supported(filename) {
		return nil, apierr.Validation(fmt.Errorf("unsupported manuscript type %q (accepted: .txt, .md, .pdf)", filepath.Ext(filename)))
	}

	m := &types.Manuscript{
		ID:           uuid.New(),
		UserID:       userID,
		Title:        titleOrStem(in.Title, filename),
		OriginalName: filename,
		Genre:        strings.TrimSpace(in.Genre),
		MimeType:     contentTypeFor(in.ContentType, filename),
		SizeBytes:    int64(len(in.Data)),
		Status:       types.ManuscriptUploaded,
	}
	m.StorageKey = fmt.Sprintf("%s/%s/%s", userID, m.ID, filename)

	if err := ms.store.Put(ctx, m.StorageKey, in.Data, m.MimeType, nil); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}
	if _, err := ms.repo.Create(dbctx.Context{Ctx: ctx}, []*types.Manuscript{m}); err != nil {
		// Roll the blob back so a failed row does not strand an orphan.
		if delErr := ms.store.Delete(ctx, m.StorageKey); delErr != nil {
			ms.log.Warn("Orphan cleanup failed", "key", m.StorageKey, "error", delErr)
		}
		return nil, fmt.Errorf("create manuscript row: %w", err)
	}

	// Plain-text uploads get a word count immediately; PDFs get theirs when
	// the pipeline extracts them.
	if ext := strings.ToLower(filepath.Ext(filename)); ext == ".txt" || ext == ".md" {
		if text, err := ms.extractor.ExtractFromBytes(ctx, filename, in.Data); err == nil {
			words := len(strings.Fields(text))
			m.WordCount = words
			if err := ms.repo.SetWordCount(dbctx.Context{Ctx: ctx}, m.ID, words); err != nil {
				ms.log.Warn("Word count update failed", "manuscript_id", m.ID.String(), "error", err)
			}
		}
	}

	ms.log.Info("Manuscript uploaded",
		"manuscript_id", m.ID.String(),
		"user_id", userID.String(),
		"bytes", m.SizeBytes,
	)
	return m, nil
}

func (ms *manuscriptService) Get(ctx context.Context, actor *types.User, id uuid.UUID) (*types.Manuscript, error) {
	m, err := ms.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, fmt.Errorf("load manuscript: %w", err)
	}
	if m == nil {
		return nil, apierr.NotFound(fmt.Errorf("manuscript not found"))
	}
	if err := authorizeOwner(actor, m.UserID); err != nil {
		return nil, err
	}
	return m, nil
}

func (ms *manuscriptService) GetByReportID(ctx context.Context, actor *types.User, reportID string) (*types.Manuscript, error) {
	m, err := ms.repo.GetByReportID(dbctx.Context{Ctx: ctx}, reportID)
	if err != nil {
		return nil, fmt.Errorf("load manuscript by report: %w", err)
	}
	if m == nil {
		return nil, apierr.NotFound(fmt.Errorf("report not found"))
	}
	if err := authorizeOwner(actor, m.UserID); err != nil {
		return nil, err
	}
	return m, nil
}

func (ms *manuscriptService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Manuscript, error) {
	out, err := ms.repo.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list manuscripts: %w", err)
	}
	return out, nil
}

func authorizeOwner(actor *types.User, ownerID uuid.UUID) error {
	if actor == nil {
		return apierr.Unauthorized(fmt.Errorf("not authenticated"))
	}
	if actor.ID != ownerID && !actor.IsAdmin() {
		return apierr.Forbidden(fmt.Errorf("not your manuscript"))
	}
	return nil
}

// sanitizeFilename strips any path components and characters that do not
// belong in a storage key.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return ""
	}
	return out
}

func titleOrStem(title, filename string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		return title
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.ReplaceAll(stem, "-", " ")
}

func contentTypeFor(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return storage.ContentTypeForKey(filename)
}
