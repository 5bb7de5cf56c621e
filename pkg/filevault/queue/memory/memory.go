// Package memory provides an in-process JobQueue for tests and
// single-binary deployments. Delivery is at-least-once with bounded retry,
// but messages do not survive a process restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stashd/filevault/pkg/filevault"
)

const (
	defaultCapacity    = 1024
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

type delivery struct {
	msg     filevault.JobMessage
	attempt int
}

var _ filevault.JobQueue = (*Queue)(nil)

// Queue is an in-memory JobQueue.
type Queue struct {
	msgs chan delivery
	done chan struct{}

	maxAttempts int
	retryDelay  time.Duration

	mu         sync.Mutex
	subscribed bool
	closed     bool
	timers     []*time.Timer

	wg sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity sets the buffered message capacity.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.msgs = make(chan delivery, n)
		}
	}
}

// WithMaxAttempts bounds redelivery of failing messages.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause before a failed message is redelivered.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retryDelay = d
		}
	}
}

// New creates an in-memory queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		msgs:        make(chan delivery, defaultCapacity),
		done:        make(chan struct{}),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts a message for delivery. A future RunAt defers the first
// delivery until that instant.
func (q *Queue) Enqueue(_ context.Context, msg filevault.JobMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	if delay := time.Until(msg.RunAt); delay > 0 {
		q.scheduleAfter(delay, delivery{msg: msg, attempt: 1})
		return nil
	}
	return q.push(delivery{msg: msg, attempt: 1})
}

func (q *Queue) push(d delivery) error {
	select {
	case q.msgs <- d:
		return nil
	case <-q.done:
		return fmt.Errorf("queue is closed")
	default:
		return fmt.Errorf("queue is full")
	}
}

func (q *Queue) scheduleAfter(delay time.Duration, d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	timer := time.AfterFunc(delay, func() {
		// Delivery failure here means the queue filled or closed in the
		// meantime; the durable job record is the recovery path.
		_ = q.push(d)
	})
	q.timers = append(q.timers, timer)
}

// Subscribe starts delivering messages to handler. Each message is handled
// on its own goroutine; ordering across messages is not guaranteed. Only one
// subscriber is supported.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, filevault.JobMessage) error) error {
	q.mu.Lock()
	if q.subscribed {
		q.mu.Unlock()
		return fmt.Errorf("queue already has a subscriber")
	}
	q.subscribed = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case d := <-q.msgs:
				q.wg.Add(1)
				go func(d delivery) {
					defer q.wg.Done()
					if err := handler(ctx, d.msg); err != nil && d.attempt < q.maxAttempts {
						q.scheduleAfter(q.retryDelay, delivery{msg: d.msg, attempt: d.attempt + 1})
					}
				}(d)
			}
		}
	}()
	return nil
}

// Close stops delivery and waits for in-flight handlers.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, t := range q.timers {
		t.Stop()
	}
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	return nil
}
