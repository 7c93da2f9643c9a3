package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

func newTestQueue(t *testing.T) (*redisQueue, *goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	q, err := NewRedisQueue(logg, rdb)
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	return q.(*redisQueue), rdb, mr
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	var sent []string
	for _, name := range []string{"a", "b", "c"} {
		job, err := q.Send(ctx, "analysis", map[string]string{"name": name}, nil)
		if err != nil {
			t.Fatalf("Send %s: %v", name, err)
		}
		sent = append(sent, job.ID)
	}

	for i, want := range sent {
		job, err := q.Next(ctx, "analysis", 0)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if job.ID != want {
			t.Fatalf("claim %d = %s, want %s (FIFO violated)", i, job.ID, want)
		}
		if job.Attempts != 1 {
			t.Fatalf("attempts = %d, want 1", job.Attempts)
		}
		if job.Status != StatusProcessing {
			t.Fatalf("status = %s, want processing", job.Status)
		}
		if err := q.Complete(ctx, job, nil); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	if _, err := q.Next(ctx, "analysis", 0); !errors.Is(err, ErrNoJob) {
		t.Fatalf("Next on drained queue = %v, want ErrNoJob", err)
	}

	stats, err := q.Stats(ctx, "analysis")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 0 || stats.Processing != 0 || stats.Delayed != 0 || stats.Dead != 0 {
		t.Fatalf("stats after drain = %+v", stats)
	}
}

func TestQueueDelayedPromotion(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	base := time.Now()
	q.now = func() time.Time { return base }

	later, err := q.Send(ctx, "analysis", nil, &SendOptions{Delay: 2 * time.Second})
	if err != nil {
		t.Fatalf("Send later: %v", err)
	}
	sooner, err := q.Send(ctx, "analysis", nil, &SendOptions{Delay: 1 * time.Second})
	if err != nil {
		t.Fatalf("Send sooner: %v", err)
	}

	if _, err := q.Next(ctx, "analysis", 0); !errors.Is(err, ErrNoJob) {
		t.Fatalf("Next before due = %v, want ErrNoJob", err)
	}

	// Both due now. Promotion must honor processAt order, not send order.
	q.now = func() time.Time { return base.Add(3 * time.Second) }

	first, err := q.Next(ctx, "analysis", 0)
	if err != nil {
		t.Fatalf("Next first: %v", err)
	}
	if first.ID != sooner.ID {
		t.Fatalf("first claim = %s, want earlier processAt %s", first.ID, sooner.ID)
	}
	second, err := q.Next(ctx, "analysis", 0)
	if err != nil {
		t.Fatalf("Next second: %v", err)
	}
	if second.ID != later.ID {
		t.Fatalf("second claim = %s, want %s", second.ID, later.ID)
	}
}

func TestQueueRetrySchedule(t *testing.T) {
	ctx := context.Background()
	q, rdb, _ := newTestQueue(t)

	base := time.Now()
	q.now = func() time.Time { return base }

	sent, err := q.Send(ctx, "analysis", nil, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.MaxRetries != DefaultMaxRetries {
		t.Fatalf("maxRetries = %d, want %d", sent.MaxRetries, DefaultMaxRetries)
	}

	wantDelays := []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute}
	for i, delay := range wantDelays {
		job, err := q.Next(ctx, "analysis", 0)
		if err != nil {
			t.Fatalf("Next run %d: %v", i+1, err)
		}
		if job.Attempts != i+1 {
			t.Fatalf("run %d attempts = %d", i+1, job.Attempts)
		}
		if err := q.Fail(ctx, job, errors.New("provider exploded")); err != nil {
			t.Fatalf("Fail run %d: %v", i+1, err)
		}

		got, err := q.Lookup(ctx, sent.ID)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if got.Status != StatusRetrying {
			t.Fatalf("run %d status = %s, want retrying", i+1, got.Status)
		}
		score, err := rdb.ZScore(ctx, delayedKey("analysis"), sent.ID).Result()
		if err != nil {
			t.Fatalf("ZScore: %v", err)
		}
		want := float64(base.Add(delay).UnixMilli())
		if score != want {
			t.Fatalf("run %d retry at %v, want %v (+%s)", i+1, score, want, delay)
		}

		// Let the retry come due.
		base = base.Add(delay + time.Second)
		q.now = func() time.Time { return base }
	}

	// Fourth run exhausts maxRetries and dead-letters the job.
	job, err := q.Next(ctx, "analysis", 0)
	if err != nil {
		t.Fatalf("Next run 4: %v", err)
	}
	if job.Attempts != 4 {
		t.Fatalf("run 4 attempts = %d", job.Attempts)
	}
	if err := q.Fail(ctx, job, errors.New("still broken")); err != nil {
		t.Fatalf("Fail run 4: %v", err)
	}

	if n, _ := rdb.ZCard(ctx, delayedKey("analysis")).Result(); n != 0 {
		t.Fatalf("delayed not empty after exhaustion: %d", n)
	}
	deadIDs, err := rdb.LRange(ctx, deadKey("analysis"), 0, -1).Result()
	if err != nil || len(deadIDs) != 1 || deadIDs[0] != sent.ID {
		t.Fatalf("dead list = %v err = %v", deadIDs, err)
	}
	got, err := q.Lookup(ctx, sent.ID)
	if err != nil || got == nil {
		t.Fatalf("Lookup dead: %v %v", got, err)
	}
	if got.Status != StatusDead || got.LastError != "still broken" {
		t.Fatalf("dead record = %+v", got)
	}
	ttl, err := rdb.TTL(ctx, jobKey(sent.ID)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl < 6*24*time.Hour || ttl > 7*24*time.Hour {
		t.Fatalf("dead record TTL = %s, want about 7 days", ttl)
	}
}

func TestQueuePayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	type analysisPayload struct {
		ReportID      string `json:"report_id"`
		ManuscriptKey string `json:"manuscript_key"`
		Genre         string `json:"genre"`
	}
	in := analysisPayload{ReportID: "a1b2c3d4", ManuscriptKey: "u1/m1/book.txt", Genre: "thriller"}

	if _, err := q.Send(ctx, "analysis", in, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	job, err := q.Next(ctx, "analysis", 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	var out analysisPayload
	if err := json.Unmarshal(job.Payload, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if out != in {
		t.Fatalf("payload round-trip = %+v, want %+v", out, in)
	}
}

func TestQueueCompletedRecordExpires(t *testing.T) {
	ctx := context.Background()
	q, _, mr := newTestQueue(t)

	sent, err := q.Send(ctx, "analysis", nil, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	job, err := q.Next(ctx, "analysis", 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := q.Complete(ctx, job, map[string]string{"report_id": "a1b2c3d4"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := q.Lookup(ctx, sent.ID)
	if err != nil || got == nil {
		t.Fatalf("Lookup completed: %v %v", got, err)
	}
	if got.Status != StatusCompleted || len(got.Result) == 0 {
		t.Fatalf("completed record = %+v", got)
	}

	mr.FastForward(completedTTL + time.Second)

	got, err = q.Lookup(ctx, sent.ID)
	if err != nil {
		t.Fatalf("Lookup after TTL: %v", err)
	}
	if got != nil {
		t.Fatalf("completed record should expire, got %+v", got)
	}
}

func TestQueueBlockingClaimTimesOut(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	start := time.Now()
	_, err := q.Next(ctx, "analysis", 100*time.Millisecond)
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("Next on empty = %v, want ErrNoJob", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("blocking claim returned before the window elapsed")
	}
}
