package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

func TestDecodeEnvelopeStringAndBytes(t *testing.T) {
	raw, err := json.Marshal(envelope{Task: Task{Kind: KindProcessItem, ContentID: "c1", Attempt: 2}})
	require.NoError(t, err)

	for _, v := range []any{string(raw), raw} {
		env, err := decodeEnvelope(v)
		require.NoError(t, err)
		assert.Equal(t, Task{Kind: KindProcessItem, ContentID: "c1", Attempt: 2}, env.Task)
	}

	_, err = decodeEnvelope(42)
	assert.Error(t, err)
	_, err = decodeEnvelope("{not json")
	assert.Error(t, err)
}

// redisURL returns a disposable Redis for integration tests, or skips.
func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	return url
}

func TestRedisQueueRetriesThenAcks(t *testing.T) {
	url := redisURL(t)
	ctx, cancel := context.WithCancel(context.Background())

	rec := newRecorder(map[string]int{"c1": 1})
	q, err := NewRedisQueue(ctx, RedisConfig{
		URL:    url,
		Stream: "docuiq:test:" + uuid.NewString(),
		Group:  "test",
	}, rec.handle, fastPolicies(2), nil, logger.Nop())
	require.NoError(t, err)
	defer func() {
		q.client.Del(context.Background(), q.stream)
		cancel()
		require.NoError(t, q.Close())
	}()

	q.Start(ctx, 2)
	require.NoError(t, q.Enqueue(ctx, Task{Kind: KindProcessItem, ContentID: "c1"}))

	got := waitTasks(t, rec.done, 2)
	assert.Equal(t, 0, got[0].Attempt)
	assert.Equal(t, 1, got[1].Attempt)

	require.Eventually(t, func() bool {
		pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewRedisQueueRejectsBadURL(t *testing.T) {
	_, err := NewRedisQueue(context.Background(), RedisConfig{URL: "not-a-url", Stream: "s", Group: "g"}, nil, nil, nil, logger.Nop())
	assert.Error(t, err)
}
