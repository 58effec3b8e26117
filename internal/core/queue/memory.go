package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/markdave123-py/docuiq/internal/core/metrics"
	"github.com/markdave123-py/docuiq/internal/pkg/logger"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

const memoryQueueSize = 64

// MemoryQueue is a process-local queue on a bounded channel. Enqueue blocks
// while the buffer is full.
type MemoryQueue struct {
	handler  Handler
	policies Policies
	metrics  *metrics.Metrics
	log      *logger.Logger

	tasks  chan Task
	done   chan struct{}
	once   sync.Once
	timers sync.WaitGroup
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(handler Handler, policies Policies, m *metrics.Metrics, log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		handler:  handler,
		policies: policies,
		metrics:  m,
		log:      log,
		tasks:    make(chan Task, memoryQueueSize),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.tasks <- t:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs workers goroutines that read from the task channel.
func (q *MemoryQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for w := 1; w <= workers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					q.log.Debug("queue worker shutting down", "worker", w)
					return
				case <-q.done:
					return
				case t := <-q.tasks:
					q.run(ctx, w, t)
				}
			}
		}(w)
	}
}

func (q *MemoryQueue) run(ctx context.Context, worker int, t Task) {
	err := safeHandle(ctx, q.handler, t)
	if err == nil {
		q.metrics.TaskDone(t.Kind, "ok")
		return
	}
	backoff, ok := q.policies.retryable(t)
	if !ok {
		q.metrics.TaskDone(t.Kind, "dropped")
		q.log.Error("task failed, retries exhausted", "kind", t.Kind, "content_id", t.ContentID, "job_id", t.JobID, "attempt", t.Attempt, "err", err)
		return
	}
	q.metrics.TaskDone(t.Kind, "retry")
	q.log.Warn("task failed, retrying", "worker", worker, "kind", t.Kind, "attempt", t.Attempt, "backoff", backoff, "err", err)

	next := t
	next.Attempt++
	q.timers.Add(1)
	go func() {
		defer q.timers.Done()
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := q.Enqueue(ctx, next); err != nil {
				q.log.Warn("retry dropped", "kind", next.Kind, "err", err)
			}
		case <-ctx.Done():
		case <-q.done:
		}
	}()
}

// Close stops accepting tasks and waits for pending retry timers to exit.
// Tasks still buffered are discarded.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	q.timers.Wait()
	return nil
}

// safeHandle turns a handler panic into an error so one bad task cannot kill a worker.
func safeHandle(ctx context.Context, h Handler, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Kind, r)
		}
	}()
	return h(ctx, t)
}
