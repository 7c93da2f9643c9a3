package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound means the key does not exist (or its expiry metadata has
	// passed; readers treat expired blobs as absent).
	ErrNotFound = errors.New("object not found")
	// ErrUnavailable wraps transient substrate failures. Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// MaxMetadataEntries caps the flat metadata map per object.
const MaxMetadataEntries = 16

// MetaExpiresAt holds an RFC3339 timestamp after which readers treat the
// object as absent. Bucket lifecycle rules reap the bytes out-of-band.
const MetaExpiresAt = "expires-at"

type Object struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

type ListPage struct {
	Keys       []string
	NextCursor string
}

/*
ArtifactStore is the single blob substrate for pipeline artifacts, report-id
mappings and status records. Guarantees:

  - object-level atomicity: Get never observes a partial Put
  - last-writer-wins for concurrent Put of the same key
  - strong read-after-write for Get of a just-written key
  - List is eventually consistent and cursor-paged

PutIfAbsent is the only conditional operation; it backs report-id minting.
*/
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
	PutIfAbsent(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (bool, error)
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error)
}

// ValidateMetadata enforces the per-object metadata entry cap.
func ValidateMetadata(metadata map[string]string) error {
	if len(metadata) > MaxMetadataEntries {
		return fmt.Errorf("metadata has %d entries, max %d", len(metadata), MaxMetadataEntries)
	}
	return nil
}

// Expired reports whether the object's expires-at stamp has passed.
func Expired(metadata map[string]string) bool {
	return metadataExpired(metadata, time.Now())
}

// ExpiryMetadata returns a metadata map carrying an expires-at stamp ttl from
// now, merged over extra.
func ExpiryMetadata(ttl time.Duration, extra map[string]string) map[string]string {
	md := map[string]string{}
	for k, v := range extra {
		md[k] = v
	}
	md[MetaExpiresAt] = time.Now().Add(ttl).UTC().Format(time.RFC3339)
	return md
}

func metadataExpired(metadata map[string]string, now time.Time) bool {
	raw, ok := metadata[MetaExpiresAt]
	if !ok || strings.TrimSpace(raw) == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return now.After(at)
}
