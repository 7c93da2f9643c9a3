package reportid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/storage"
)

// Pipeline run states as exposed through the status record.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateComplete   = "complete"
	StateError      = "error"
)

const (
	idBytes         = 4 // 8 lowercase hex chars
	maxMintAttempts = 8

	statusTTL = 7 * 24 * time.Hour
	cancelTTL = 24 * time.Hour
)

// ErrIDExhausted means 8 consecutive mint candidates collided.
var ErrIDExhausted = errors.New("report id space exhausted")

var idPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// Valid reports whether s is a well-formed public report id.
func Valid(s string) bool { return idPattern.MatchString(s) }

// Status is the polled progress record at status:{reportId}.
type Status struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Message     string `json:"message"`
	CurrentStep string `json:"currentStep"`
	Timestamp   string `json:"timestamp"`
}

/*
Service owns the public report-id namespace: minting ids against the blob
store with put-if-absent, resolving them back to manuscript storage prefixes,
the 7-day status record, and the Redis cancel flag.

Progress writes are monotonic: a non-error write can never lower the stored
progress value.
*/
type Service interface {
	Mint(ctx context.Context, prefix string) (string, error)
	Prefix(ctx context.Context, reportID string) (string, error)
	WriteStatus(ctx context.Context, reportID string, s Status) error
	ReadStatus(ctx context.Context, reportID string) (*Status, error)
	RequestCancel(ctx context.Context, reportID string) error
	CancelRequested(ctx context.Context, reportID string) (bool, error)
	ClearCancel(ctx context.Context, reportID string) error
}

type service struct {
	log      *logger.Logger
	store    storage.ArtifactStore
	rdb      *goredis.Client
	randRead func([]byte) (int, error)
}

func NewService(log *logger.Logger, store storage.ArtifactStore, rdb *goredis.Client) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &service{
		log:      log.With("service", "ReportID"),
		store:    store,
		rdb:      rdb,
		randRead: rand.Read,
	}, nil
}

func (s *service) Mint(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("storage prefix required")
	}
	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		buf := make([]byte, idBytes)
		if _, err := s.randRead(buf); err != nil {
			return "", fmt.Errorf("mint report id: %w", err)
		}
		id := hex.EncodeToString(buf)

		created, err := s.store.PutIfAbsent(ctx, storage.ReportIDKey(id), []byte(prefix), "text/plain; charset=utf-8", nil)
		if err != nil {
			return "", fmt.Errorf("mint report id: %w", err)
		}
		if created {
			return id, nil
		}
		s.log.Warn("Report id collision", "attempt", attempt)
	}
	return "", ErrIDExhausted
}

func (s *service) Prefix(ctx context.Context, reportID string) (string, error) {
	obj, err := s.store.Get(ctx, storage.ReportIDKey(reportID))
	if err != nil {
		return "", err
	}
	return string(obj.Body), nil
}

func (s *service) WriteStatus(ctx context.Context, reportID string, st Status) error {
	if st.Timestamp == "" {
		st.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if st.Status != StateError {
		if cur, err := s.ReadStatus(ctx, reportID); err == nil && cur != nil && cur.Progress > st.Progress {
			st.Progress = cur.Progress
		}
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	md := storage.ExpiryMetadata(statusTTL, nil)
	if err := s.store.Put(ctx, storage.StatusKey(reportID), raw, "application/json", md); err != nil {
		return fmt.Errorf("write status %s: %w", reportID, err)
	}
	return nil
}

func (s *service) ReadStatus(ctx context.Context, reportID string) (*Status, error) {
	obj, err := s.store.Get(ctx, storage.StatusKey(reportID))
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(obj.Body, &st); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", reportID, err)
	}
	return &st, nil
}

func (s *service) RequestCancel(ctx context.Context, reportID string) error {
	if err := s.rdb.Set(ctx, storage.CancelKey(reportID), "1", cancelTTL).Err(); err != nil {
		return fmt.Errorf("set cancel flag %s: %w", reportID, err)
	}
	s.log.Info("Cancellation requested", "report_id", reportID)
	return nil
}

func (s *service) CancelRequested(ctx context.Context, reportID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, storage.CancelKey(reportID)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel flag %s: %w", reportID, err)
	}
	return n > 0, nil
}

func (s *service) ClearCancel(ctx context.Context, reportID string) error {
	if err := s.rdb.Del(ctx, storage.CancelKey(reportID)).Err(); err != nil {
		return fmt.Errorf("clear cancel flag %s: %w", reportID, err)
	}
	return nil
}
