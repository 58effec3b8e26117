package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/docuiq/internal/core/metrics"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

const (
	envelopeField = "envelope"
	readBlock     = 5 * time.Second
	claimIdle     = 2 * time.Minute
	claimEvery    = 30 * time.Second
)

// envelope is the stream entry body.
type envelope struct {
	Task       Task      `json:"task"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisQueue distributes tasks over a Redis stream read through a consumer
// group, so several worker processes can share the load. Entries are acked
// once handled; entries left pending by a dead consumer are reclaimed.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	handler  Handler
	policies Policies
	metrics  *metrics.Metrics
	log      *logger.Logger

	wg sync.WaitGroup
}

var _ Queue = (*RedisQueue)(nil)

type RedisConfig struct {
	URL    string
	Stream string
	Group  string
}

func NewRedisQueue(ctx context.Context, cfg RedisConfig, handler Handler, policies Policies, m *metrics.Metrics, log *logger.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	host, _ := os.Hostname()
	q := &RedisQueue{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		handler:  handler,
		policies: policies,
		metrics:  m,
		log:      log,
	}
	if err := q.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	if q.stream == "" || q.group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := json.Marshal(envelope{Task: t, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{envelopeField: string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Start runs workers readers plus one reclaimer for stale pending entries.
func (q *RedisQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for w := 1; w <= workers; w++ {
		q.wg.Add(1)
		go func(w int) {
			defer q.wg.Done()
			q.readLoop(ctx, fmt.Sprintf("%s-%d", q.consumer, w))
		}(w)
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.claimLoop(ctx)
	}()
}

func (q *RedisQueue) readLoop(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Warn("xreadgroup failed", "err", err)
			sleep(ctx, time.Second)
			continue
		}
		for _, st := range streams {
			for _, msg := range st.Messages {
				q.handle(ctx, msg)
			}
		}
	}
}

func (q *RedisQueue) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(claimEvery)
	defer ticker.Stop()
	start := "0-0"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer + "-claim",
			MinIdle:  claimIdle,
			Start:    start,
			Count:    16,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.log.Warn("xautoclaim failed", "err", err)
			}
			continue
		}
		start = next
		for _, msg := range msgs {
			q.handle(ctx, msg)
		}
	}
}

// handle runs one entry and acks it. A failed task is republished with
// Attempt+1 after its backoff, so the original entry is always acked.
func (q *RedisQueue) handle(ctx context.Context, msg redis.XMessage) {
	env, err := decodeEnvelope(msg.Values[envelopeField])
	if err != nil {
		q.log.Warn("dropping malformed stream entry", "id", msg.ID, "err", err)
		q.ack(ctx, msg.ID)
		return
	}
	t := env.Task

	err = safeHandle(ctx, q.handler, t)
	if err == nil {
		q.metrics.TaskDone(t.Kind, "ok")
		q.ack(ctx, msg.ID)
		return
	}
	backoff, ok := q.policies.retryable(t)
	if !ok {
		q.metrics.TaskDone(t.Kind, "dropped")
		q.log.Error("task failed, retries exhausted", "kind", t.Kind, "content_id", t.ContentID, "job_id", t.JobID, "attempt", t.Attempt, "err", err)
		q.ack(ctx, msg.ID)
		return
	}
	q.metrics.TaskDone(t.Kind, "retry")
	q.log.Warn("task failed, retrying", "kind", t.Kind, "attempt", t.Attempt, "backoff", backoff, "err", err)
	if !sleep(ctx, backoff) {
		// left pending; the reclaimer picks it up after a restart
		return
	}
	t.Attempt++
	if err := q.Enqueue(ctx, t); err != nil {
		q.log.Error("republish failed", "kind", t.Kind, "err", err)
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.log.Warn("xack failed", "id", id, "err", err)
	}
}

// Close waits for the workers to stop; cancel the Start context first.
func (q *RedisQueue) Close() error {
	q.wg.Wait()
	return q.client.Close()
}

func decodeEnvelope(raw any) (envelope, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return envelope{}, fmt.Errorf("unexpected envelope type %T", raw)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Task.Kind == "" {
		return envelope{}, errors.New("envelope without task kind")
	}
	return env, nil
}

// sleep waits for d or ctx, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
