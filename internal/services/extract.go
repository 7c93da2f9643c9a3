package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yungbote/inkpress-backend/internal/clients/gcp"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExtractionService turns an uploaded manuscript into the plain text the
// analysis stages consume. Plain-text formats pass through; PDFs go through
// Document AI.
type ExtractionService interface {
	// Supported reports whether the file type can be extracted with the
	// configured backends. Upload validation uses the same answer.
	Supported(filename string) bool

	ExtractFromBytes(ctx context.Context, filename string, raw []byte) (string, error)

	// Extract loads the stored original by its storage key and converts it.
	Extract(ctx context.Context, m *types.Manuscript) (string, error)
}

type extractionService struct {
	log   *logger.Logger
	store storage.ArtifactStore
	docs  gcp.Document
}

// NewExtractionService wires the extractor. docs may be nil when Document AI
// is not configured; PDF uploads are then rejected at upload time.
func NewExtractionService(baseLog *logger.Logger, store storage.ArtifactStore, docs gcp.Document) (ExtractionService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	return &extractionService{
		log:   baseLog.With("service", "ExtractionService"),
		store: store,
		docs:  docs,
	}, nil
}

func (es *extractionService) Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return true
	case ".pdf":
		return es.docs != nil
	default:
		return false
	}
}

func (es *extractionService) ExtractFromBytes(ctx context.Context, filename string, raw []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !es.Supported(filename) {
		return "", apierr.Validation(fmt.Errorf("unsupported manuscript type %q (accepted: .txt, .md, .pdf)", ext))
	}
	switch ext {
	case ".txt", ".md":
		text := string(bytes.TrimPrefix(raw, utf8BOM))
		return strings.TrimSpace(text), nil
	case ".pdf":
		doc, err := es.docs.ExtractText(ctx, raw, "application/pdf")
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		for _, w := range doc.Warnings {
			es.log.Warn("Document extraction warning", "file", filename, "warning", w)
		}
		return doc.Text, nil
	}
	return "", apierr.Validation(fmt.Errorf("unsupported manuscript type %q", ext))
}

func (es *extractionService) Extract(ctx context.Context, m *types.Manuscript) (string, error) {
	if m == nil {
		return "", fmt.Errorf("manuscript is nil")
	}
	obj, err := es.store.Get(ctx, m.StorageKey)
	if err != nil {
		return "", fmt.Errorf("load original %s: %w", m.StorageKey, err)
	}
	return es.ExtractFromBytes(ctx, m.OriginalName, obj.Body)
}
