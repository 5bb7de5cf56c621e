// Package queue provides the worker pool that drains a JobQueue into a
// JobRunner, plus queue implementations in subpackages.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stashd/filevault/pkg/filevault"
)

// DefaultConcurrency is the number of jobs a pool executes at once.
const DefaultConcurrency = 5

// Pool consumes job messages and executes them with bounded concurrency.
// Handler errors propagate to the queue, which owns redelivery.
type Pool struct {
	queue       filevault.JobQueue
	runner      filevault.JobRunner
	concurrency int
	logger      *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency bounds how many jobs run at once.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the pool's structured logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool over the given queue and runner.
func NewPool(q filevault.JobQueue, r filevault.JobRunner, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       q,
		runner:      r,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = make(chan struct{}, p.concurrency)
	return p
}

// Start subscribes to the queue. It returns once the subscription is
// established; job execution continues until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pool already started")
	}
	p.started = true
	p.mu.Unlock()

	return p.queue.Subscribe(ctx, func(jobCtx context.Context, msg filevault.JobMessage) error {
		select {
		case p.sem <- struct{}{}:
		case <-jobCtx.Done():
			return jobCtx.Err()
		}
		p.wg.Add(1)
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		start := time.Now()
		err := p.runner.RunJob(jobCtx, msg)
		if err != nil {
			p.logger.Error("job execution failed",
				"job_id", msg.JobID, "file_id", msg.FileID, "type", msg.Type,
				"elapsed", time.Since(start), "error", err)
			return err
		}
		p.logger.Debug("job executed",
			"job_id", msg.JobID, "type", msg.Type, "elapsed", time.Since(start))
		return nil
	})
}

// Wait blocks until all in-flight jobs finish. Call after cancelling the
// Start context during shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}
