// Package tasks runs fire-and-forget background work, such as embedding
// write-back, on a bounded goroutine pool.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

// Queue runs submitted tasks asynchronously. Submit never blocks on the task
// itself; Drain waits for everything submitted so far.
type Queue struct {
	pool    chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond // signalled when pending drops to zero
	closed  bool
	pending int
}

// NewQueue creates a queue running at most workers tasks at once, each under
// its own timeout.
func NewQueue(workers int, timeout time.Duration, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pool:    make(chan struct{}, workers),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit schedules fn. Errors and panics are logged and swallowed. It
// reports false when the queue is closed.
func (q *Queue) Submit(name string, fn Func) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("task dropped, queue closed", zap.String("task", name))
		return false
	}
	q.pending++
	q.mu.Unlock()

	go func() {
		defer func() {
			q.mu.Lock()
			q.pending--
			if q.pending == 0 {
				q.idle.Broadcast()
			}
			q.mu.Unlock()
		}()

		select {
		case q.pool <- struct{}{}:
		case <-q.ctx.Done():
			return
		}
		defer func() { <-q.pool }()

		if err := q.run(name, fn); err != nil {
			q.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
	return true
}

func (q *Queue) run(name string, fn Func) (err error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

// Pending reports how many tasks are queued or running.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Drain blocks until no task is queued or running. Tasks submitted while it
// waits are waited for too.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.idle.Wait()
	}
}

// Close stops accepting tasks and waits for running ones until ctx expires,
// after which outstanding tasks are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.Drain()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
