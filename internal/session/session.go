package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// idBytes is the entropy behind a session id. 32 bytes keeps ids opaque and
// far past guessable.
const idBytes = 32

const (
	DefaultTTL    = 30 * time.Minute
	RememberMeTTL = 7 * 24 * time.Hour
)

var ErrNotFound = errors.New("session not found")

// Session is the server-side record behind an opaque id. Sessions are looked
// up by id only; there is no per-user enumeration.
type Session struct {
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store interface {
	// Create mints a fresh id and stores the record with a TTL of the
	// configured duration, or the rememberMe duration when asked.
	Create(ctx context.Context, userID uuid.UUID, rememberMe bool) (string, *Session, error)

	// Get resolves an id to its record, or ErrNotFound for unknown and
	// expired ids.
	Get(ctx context.Context, id string) (*Session, error)

	// Destroy removes the record. Destroying an unknown id is a no-op.
	Destroy(ctx context.Context, id string) error
}

type redisStore struct {
	log         *logger.Logger
	rdb         *goredis.Client
	ttl         time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

func NewRedisStore(baseLog *logger.Logger, rdb *goredis.Client, ttl, rememberTTL time.Duration) (Store, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if rememberTTL <= 0 {
		rememberTTL = RememberMeTTL
	}
	return &redisStore{
		log:         baseLog.With("service", "SessionStore"),
		rdb:         rdb,
		ttl:         ttl,
		rememberTTL: rememberTTL,
		now:         time.Now,
	}, nil
}

func sessionKey(id string) string { return "session:" + id }

func (s *redisStore) Create(ctx context.Context, userID uuid.UUID, rememberMe bool) (string, *Session, error) {
	if userID == uuid.Nil {
		return "", nil, fmt.Errorf("userID is nil")
	}
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate session id: %w", err)
	}
	id := hex.EncodeToString(buf)

	ttl := s.ttl
	if rememberMe {
		ttl = s.rememberTTL
	}
	now := s.now().UTC()
	sess := &Session{
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(id), raw, ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}
	return id, sess, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	// The substrate TTL is authoritative; a stamped expiry that has
	// already passed still reads as gone.
	if s.now().After(sess.ExpiresAt) {
		_ = s.rdb.Del(ctx, sessionKey(id)).Err()
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *redisStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}
