package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// MemoryStore is an in-process ArtifactStore used by tests and single-node
// local runs. It honors the same expiry metadata the bucket store does.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memObject{}}
}

func (s *MemoryStore) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	if err := ValidateMetadata(metadata); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{body: cloneBytes(body), contentType: contentType, metadata: cloneMeta(metadata)}
	return nil
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (bool, error) {
	if err := ValidateMetadata(metadata); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.objects[key]; ok && !metadataExpired(cur.metadata, time.Now()) {
		return false, nil
	}
	s.objects[key] = memObject{body: cloneBytes(body), contentType: contentType, metadata: cloneMeta(metadata)}
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.objects[key]
	if !ok || metadataExpired(cur.metadata, time.Now()) {
		return nil, ErrNotFound
	}
	return &Object{Body: cloneBytes(cur.body), ContentType: cur.contentType, Metadata: cloneMeta(cur.metadata)}, nil
}

func (s *MemoryStore) Head(ctx context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.objects[key]
	if !ok || metadataExpired(cur.metadata, time.Now()) {
		return nil, ErrNotFound
	}
	return cloneMeta(cur.metadata), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = 1000
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	now := time.Now()
	for k, v := range s.objects {
		if !strings.HasPrefix(k, prefix) || metadataExpired(v.metadata, now) {
			continue
		}
		if cursor != "" && k <= cursor {
			continue
		}
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	page := &ListPage{}
	if len(keys) > limit {
		page.Keys = keys[:limit]
		page.NextCursor = keys[limit-1]
	} else {
		page.Keys = keys
	}
	return page, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
