// Package queue runs ingest tasks on a worker pool with bounded retries.
package queue

import (
	"context"
	"time"
)

const (
	KindProcessItem   = "process_item"
	KindProcessWebJob = "process_web_job"
)

// Task is one unit of background work. Attempt counts prior failed runs.
type Task struct {
	Kind      string `json:"kind"`
	ContentID string `json:"content_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Attempt   int    `json:"attempt"`
}

// Handler executes a task. A returned error schedules a retry while the
// task's retry budget lasts.
type Handler func(ctx context.Context, t Task) error

// Enqueuer is the producer side of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// Queue is a task queue with a consumer pool.
type Queue interface {
	Enqueuer
	// Start launches workers that run until ctx is done.
	Start(ctx context.Context, workers int)
	Close() error
}

type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Policies maps a task kind to its retry policy.
type Policies map[string]RetryPolicy

// DefaultPolicies: three retries 15s apart for item processing, two
// retries 10s apart for web fetches.
func DefaultPolicies() Policies {
	return Policies{
		KindProcessItem:   {MaxRetries: 3, Backoff: 15 * time.Second},
		KindProcessWebJob: {MaxRetries: 2, Backoff: 10 * time.Second},
	}
}

func (p Policies) For(kind string) RetryPolicy {
	if rp, ok := p[kind]; ok {
		return rp
	}
	return RetryPolicy{}
}

// retryable reports whether a failed attempt of t may run again, and when.
func (p Policies) retryable(t Task) (time.Duration, bool) {
	rp := p.For(t.Kind)
	if t.Attempt >= rp.MaxRetries {
		return 0, false
	}
	return rp.Backoff, true
}
