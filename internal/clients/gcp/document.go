package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/yungbote/inkpress-backend/internal/platform/ctxutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// Document extracts manuscript text from uploaded PDFs and scans.
type Document interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (*DocumentText, error)
	Close() error
}

type DocumentText struct {
	Text     string   `json:"text"`
	Pages    int      `json:"pages"`
	Warnings []string `json:"warnings,omitempty"`
}

type documentService struct {
	log       *logger.Logger
	client    *documentai.DocumentProcessorClient
	processor string
}

// NewDocument dials Document AI using DOCUMENTAI_PROJECT_ID,
// DOCUMENTAI_LOCATION (default "us"), DOCUMENTAI_PROCESSOR_ID and optional
// DOCUMENTAI_PROCESSOR_VERSION.
func NewDocument(log *logger.Logger) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("client", "gcp.Document")

	project := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if project == "" || processorID == "" {
		return nil, fmt.Errorf("DOCUMENTAI_PROJECT_ID and DOCUMENTAI_PROCESSOR_ID must be set")
	}
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	ctx := context.Background()
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	name := processorName(project, location, processorID, os.Getenv("DOCUMENTAI_PROCESSOR_VERSION"))
	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &documentService{log: slog, client: c, processor: name}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *documentService) ExtractText(ctx context.Context, data []byte, mimeType string) (*DocumentText, error) {
	if len(data) == 0 {
		return &DocumentText{}, nil
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 3*time.Minute)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
		// Manuscripts only need the running text; skip layout payloads.
		FieldMask: &fieldmaskpb.FieldMask{Paths: []string{"text", "pages.page_number"}},
	}

	resp, err := s.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &DocumentText{Warnings: []string{"empty document response"}}, nil
	}

	out := &DocumentText{
		Text:  strings.TrimSpace(resp.Document.Text),
		Pages: len(resp.Document.Pages),
	}
	if out.Text == "" {
		out.Warnings = append(out.Warnings, "no text extracted")
	}
	return out, nil
}

func processorName(project, location, processorID, version string) string {
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if v := strings.TrimSpace(version); v != "" {
		return base + "/processorVersions/" + v
	}
	return base
}
