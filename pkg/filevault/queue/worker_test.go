package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd/filevault/pkg/filevault"
	memoryqueue "github.com/stashd/filevault/pkg/filevault/queue/memory"
)

type countingRunner struct {
	executed atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	block    time.Duration
}

func (r *countingRunner) RunJob(_ context.Context, _ filevault.JobMessage) error {
	cur := r.inFlight.Add(1)
	for {
		peak := r.peak.Load()
		if cur <= peak || r.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if r.block > 0 {
		time.Sleep(r.block)
	}
	r.inFlight.Add(-1)
	r.executed.Add(1)
	return nil
}

func TestPoolExecutesJobs(t *testing.T) {
	q := memoryqueue.New()
	defer q.Close()
	runner := &countingRunner{}
	pool := NewPool(q, runner, WithConcurrency(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, filevault.JobMessage{
			JobID: uuid.New(), FileID: uuid.New(), Type: filevault.JobTypeExtraction,
		}))
	}

	deadline := time.After(3 * time.Second)
	for runner.executed.Load() < 10 {
		select {
		case <-deadline:
			t.Fatalf("expected 10 executions, got %d", runner.executed.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	q := memoryqueue.New()
	defer q.Close()
	runner := &countingRunner{block: 50 * time.Millisecond}
	pool := NewPool(q, runner, WithConcurrency(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(ctx, filevault.JobMessage{JobID: uuid.New()}))
	}

	deadline := time.After(5 * time.Second)
	for runner.executed.Load() < 8 {
		select {
		case <-deadline:
			t.Fatalf("expected 8 executions, got %d", runner.executed.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestPoolRejectsDoubleStart(t *testing.T) {
	q := memoryqueue.New()
	defer q.Close()
	pool := NewPool(q, &countingRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	assert.Error(t, pool.Start(ctx))
}
