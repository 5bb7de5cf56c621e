package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd/filevault/pkg/filevault"
)

func testMessage() filevault.JobMessage {
	return filevault.JobMessage{
		JobID:    uuid.New(),
		FileID:   uuid.New(),
		TenantID: uuid.New(),
		Type:     filevault.JobTypeThumbnail,
	}
}

func TestQueueDeliversMessage(t *testing.T) {
	q := New()
	defer q.Close()

	received := make(chan filevault.JobMessage, 1)
	err := q.Subscribe(context.Background(), func(_ context.Context, msg filevault.JobMessage) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	msg := testMessage()
	require.NoError(t, q.Enqueue(context.Background(), msg))

	select {
	case got := <-received:
		assert.Equal(t, msg.JobID, got.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestQueueRedeliversOnFailure(t *testing.T) {
	q := New(WithMaxAttempts(3), WithRetryDelay(10*time.Millisecond))
	defer q.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	err := q.Subscribe(context.Background(), func(_ context.Context, _ filevault.JobMessage) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), testMessage()))

	select {
	case <-done:
		assert.Equal(t, int32(3), attempts.Load())
	case <-time.After(2 * time.Second):
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestQueueStopsRetryingAfterMaxAttempts(t *testing.T) {
	q := New(WithMaxAttempts(2), WithRetryDelay(10*time.Millisecond))
	defer q.Close()

	var attempts atomic.Int32
	err := q.Subscribe(context.Background(), func(_ context.Context, _ filevault.JobMessage) error {
		attempts.Add(1)
		return errors.New("permanent")
	})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), testMessage()))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestQueueDefersFutureRunAt(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var deliveredAt time.Time
	done := make(chan struct{})
	err := q.Subscribe(context.Background(), func(_ context.Context, _ filevault.JobMessage) error {
		mu.Lock()
		deliveredAt = time.Now()
		mu.Unlock()
		close(done)
		return nil
	})
	require.NoError(t, err)

	msg := testMessage()
	msg.RunAt = time.Now().Add(100 * time.Millisecond)
	enqueuedAt := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), msg))

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		assert.GreaterOrEqual(t, deliveredAt.Sub(enqueuedAt), 90*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("deferred message was not delivered")
	}
}

func TestQueueRejectsSecondSubscriber(t *testing.T) {
	q := New()
	defer q.Close()

	noop := func(_ context.Context, _ filevault.JobMessage) error { return nil }
	require.NoError(t, q.Subscribe(context.Background(), noop))
	assert.Error(t, q.Subscribe(context.Background(), noop))
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	q := New()
	require.NoError(t, q.Close())

	assert.Error(t, q.Enqueue(context.Background(), testMessage()))
	assert.NoError(t, q.Close())
}
