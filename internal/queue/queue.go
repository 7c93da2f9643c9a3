package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// Job statuses. A job is in exactly one of pending, processing, retrying
// (parked in the delayed set), completed (record on a short TTL) or dead.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusRetrying   = "retrying"
	StatusCompleted  = "completed"
	StatusDead       = "dead"
)

const (
	DefaultMaxRetries = 3

	completedTTL = 15 * time.Minute
	deadTTL      = 7 * 24 * time.Hour
	promoteBatch = 128
)

// retryBackoff is indexed by the attempt that just failed; later failures
// reuse the last entry.
var retryBackoff = []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute}

// ErrNoJob means the blocking window elapsed with nothing claimable.
var ErrNoJob = errors.New("no job available")

type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue_name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	ProcessAt  *time.Time      `json:"process_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type SendOptions struct {
	Delay      time.Duration
	MaxRetries int // 0 means DefaultMaxRetries
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

/*
Queue is a durable FIFO over Redis, one logical queue per name:

	queue:{name}:pending     list, LPUSH new / claim from the right
	queue:{name}:processing  list of in-flight ids
	queue:{name}:delayed     zset scored by processAt millis
	queue:{name}:dead        list of permanently failed ids
	job:{id}                 JSON job record

Next first promotes due delayed entries into pending, then atomically moves
the pending head into processing. Only the claiming worker may touch a job
until Complete or Fail.
*/
type Queue interface {
	Send(ctx context.Context, queue string, payload any, opts *SendOptions) (*Job, error)
	Next(ctx context.Context, queue string, block time.Duration) (*Job, error)
	Complete(ctx context.Context, job *Job, result any) error
	Fail(ctx context.Context, job *Job, cause error) error
	Lookup(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context, queue string) (*Stats, error)
}

type redisQueue struct {
	log *logger.Logger
	rdb *goredis.Client
	now func() time.Time
}

func NewRedisQueue(log *logger.Logger, rdb *goredis.Client) (Queue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &redisQueue{
		log: log.With("service", "Queue"),
		rdb: rdb,
		now: time.Now,
	}, nil
}

// promoteScript moves every delayed entry whose processAt has passed into
// pending, preserving processAt order.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(due) do
  redis.call('LPUSH', KEYS[2], id)
  redis.call('ZREM', KEYS[1], id)
end
return #due
`)

func (q *redisQueue) Send(ctx context.Context, queue string, payload any, opts *SendOptions) (*Job, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue name required")
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	now := q.now()
	job := &Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    raw,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if opts != nil && opts.MaxRetries > 0 {
		job.MaxRetries = opts.MaxRetries
	}

	if opts != nil && opts.Delay > 0 {
		at := now.Add(opts.Delay)
		job.ProcessAt = &at
		if err := q.save(ctx, job, 0); err != nil {
			return nil, err
		}
		if err := q.rdb.ZAdd(ctx, delayedKey(queue), goredis.Z{Score: float64(at.UnixMilli()), Member: job.ID}).Err(); err != nil {
			return nil, fmt.Errorf("schedule delayed job: %w", err)
		}
	} else {
		if err := q.save(ctx, job, 0); err != nil {
			return nil, err
		}
		if err := q.rdb.LPush(ctx, pendingKey(queue), job.ID).Err(); err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
	}

	q.log.Debug("Job enqueued", "queue", queue, "job_id", job.ID, "delayed", job.ProcessAt != nil)
	return job, nil
}

func (q *redisQueue) Next(ctx context.Context, queue string, block time.Duration) (*Job, error) {
	keys := []string{delayedKey(queue), pendingKey(queue)}
	if err := promoteScript.Run(ctx, q.rdb, keys, q.now().UnixMilli(), promoteBatch).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("promote delayed: %w", err)
	}

	var (
		id  string
		err error
	)
	if block > 0 {
		id, err = q.rdb.BLMove(ctx, pendingKey(queue), processingKey(queue), "RIGHT", "LEFT", block).Result()
	} else {
		id, err = q.rdb.LMove(ctx, pendingKey(queue), processingKey(queue), "RIGHT", "LEFT").Result()
	}
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Record expired while the id sat in pending. Drop the orphan.
		_ = q.rdb.LRem(ctx, processingKey(queue), 1, id).Err()
		return nil, ErrNoJob
	}

	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = q.now()
	if err := q.save(ctx, job, 0); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *redisQueue) Complete(ctx context.Context, job *Job, result any) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		job.Result = b
	}
	job.Status = StatusCompleted
	job.ProcessAt = nil
	job.UpdatedAt = q.now()

	if err := q.save(ctx, job, completedTTL); err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, processingKey(job.Queue), 1, job.ID).Err(); err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}
	q.log.Debug("Job completed", "queue", job.Queue, "job_id", job.ID, "attempts", job.Attempts)
	return nil
}

func (q *redisQueue) Fail(ctx context.Context, job *Job, cause error) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	now := q.now()
	job.UpdatedAt = now
	if cause != nil {
		job.LastError = cause.Error()
	}

	if err := q.rdb.LRem(ctx, processingKey(job.Queue), 1, job.ID).Err(); err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}

	if job.Attempts <= job.MaxRetries {
		idx := job.Attempts - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(retryBackoff) {
			idx = len(retryBackoff) - 1
		}
		at := now.Add(retryBackoff[idx])
		job.Status = StatusRetrying
		job.ProcessAt = &at

		if err := q.save(ctx, job, 0); err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, delayedKey(job.Queue), goredis.Z{Score: float64(at.UnixMilli()), Member: job.ID}).Err(); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		q.log.Warn("Job retry scheduled",
			"queue", job.Queue, "job_id", job.ID, "attempts", job.Attempts, "delay", retryBackoff[idx].String())
		return nil
	}

	job.Status = StatusDead
	job.ProcessAt = nil
	if err := q.save(ctx, job, deadTTL); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, deadKey(job.Queue), job.ID)
	pipe.Expire(ctx, deadKey(job.Queue), deadTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}
	q.log.Error("Job moved to dead letter",
		"queue", job.Queue, "job_id", job.ID, "attempts", job.Attempts, "error", job.LastError)
	return nil
}

func (q *redisQueue) Lookup(ctx context.Context, id string) (*Job, error) {
	return q.load(ctx, id)
}

func (q *redisQueue) Stats(ctx context.Context, queue string) (*Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.LLen(ctx, pendingKey(queue))
	processing := pipe.LLen(ctx, processingKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	dead := pipe.LLen(ctx, deadKey(queue))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}

func (q *redisQueue) save(ctx context.Context, job *Job, ttl time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.rdb.Set(ctx, jobKey(job.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *redisQueue) load(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func pendingKey(queue string) string    { return "queue:" + queue + ":pending" }
func processingKey(queue string) string { return "queue:" + queue + ":processing" }
func delayedKey(queue string) string    { return "queue:" + queue + ":delayed" }
func deadKey(queue string) string       { return "queue:" + queue + ":dead" }
func jobKey(id string) string           { return "job:" + id }
