package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/yungbote/inkpress-backend/internal/platform/ctxutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

const (
	putTimeout  = 2 * time.Minute
	getTimeout  = 2 * time.Minute
	metaTimeout = 30 * time.Second
)

type artifactStore struct {
	log    *logger.Logger
	client *gcs.Client
	bucket string
}

// NewArtifactStore opens the manuscript artifact bucket. Bucket name comes
// from B2_BUCKET_NAME, falling back to GCS_BUCKET_NAME.
func NewArtifactStore(log *logger.Logger) (storage.ArtifactStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	bucket := strings.TrimSpace(os.Getenv("B2_BUCKET_NAME"))
	if bucket == "" {
		bucket = strings.TrimSpace(os.Getenv("GCS_BUCKET_NAME"))
	}
	if bucket == "" {
		return nil, fmt.Errorf("B2_BUCKET_NAME is not set")
	}

	ctx := context.Background()
	client, err := gcs.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	slog := log.With("client", "ArtifactStore")
	slog.Info("Artifact store initialized", "bucket", bucket)

	return &artifactStore{log: slog, client: client, bucket: bucket}, nil
}

func (s *artifactStore) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	if err := storage.ValidateMetadata(metadata); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), putTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	s.prepareWriter(w, key, contentType, metadata)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return s.mapErr("put", key, err)
	}
	if err := w.Close(); err != nil {
		return s.mapErr("put", key, err)
	}
	return nil
}

// PutIfAbsent writes only when the key does not exist. An expired but not yet
// reaped object still wins the precondition; report-id minting treats that as
// a collision and moves on.
func (s *artifactStore) PutIfAbsent(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (bool, error) {
	if err := storage.ValidateMetadata(metadata); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), putTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key).If(gcs.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	s.prepareWriter(w, key, contentType, metadata)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, s.mapErr("putIfAbsent", key, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, s.mapErr("putIfAbsent", key, err)
	}
	return true, nil
}

func (s *artifactStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), getTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, s.mapErr("get", key, err)
	}
	if storage.Expired(attrs.Metadata) {
		return nil, storage.ErrNotFound
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, s.mapErr("get", key, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, s.mapErr("get", key, err)
	}
	return &storage.Object{Body: body, ContentType: attrs.ContentType, Metadata: attrs.Metadata}, nil
}

func (s *artifactStore) Head(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), metaTimeout)
	defer cancel()

	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		return nil, s.mapErr("head", key, err)
	}
	if storage.Expired(attrs.Metadata) {
		return nil, storage.ErrNotFound
	}
	if attrs.Metadata == nil {
		return map[string]string{}, nil
	}
	return attrs.Metadata, nil
}

func (s *artifactStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), metaTimeout)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return s.mapErr("delete", key, err)
	}
	return nil
}

func (s *artifactStore) List(ctx context.Context, prefix, cursor string, limit int) (*storage.ListPage, error) {
	if limit <= 0 {
		limit = 1000
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), metaTimeout)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	pager := iterator.NewPager(it, limit, cursor)

	var attrs []*gcs.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, s.mapErr("list", prefix, err)
	}

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if a == nil || storage.Expired(a.Metadata) {
			continue
		}
		keys = append(keys, a.Name)
	}
	return &storage.ListPage{Keys: keys, NextCursor: next}, nil
}

func (s *artifactStore) prepareWriter(w *gcs.Writer, key, contentType string, metadata map[string]string) {
	if contentType == "" {
		contentType = storage.ContentTypeForKey(key)
	}
	w.ContentType = contentType
	if len(metadata) > 0 {
		w.Metadata = metadata
	}
}

func (s *artifactStore) mapErr(op, key string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return storage.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %q: %v", storage.ErrUnavailable, op, key, err)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		if ge.Code == http.StatusNotFound {
			return storage.ErrNotFound
		}
		if ge.Code == http.StatusTooManyRequests || ge.Code >= 500 {
			return fmt.Errorf("%w: %s %q: %v", storage.ErrUnavailable, op, key, err)
		}
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

func isPreconditionFailed(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == http.StatusPreconditionFailed
}
