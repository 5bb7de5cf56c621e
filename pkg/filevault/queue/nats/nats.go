// Package nats provides a JobQueue backed by NATS JetStream. Messages are
// persisted in a work-queue stream; AckWait acts as the visibility timeout
// and MaxDeliver bounds redelivery of failing messages.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/stashd/filevault/pkg/filevault"
)

const (
	defaultStream     = "FILEVAULT_JOBS"
	defaultSubject    = "filevault.jobs"
	defaultDurable    = "filevault-workers"
	defaultAckWait    = 2 * time.Minute
	defaultMaxDeliver = 3
)

// Queue is a JetStream-backed JobQueue.
type Queue struct {
	conn *natsgo.Conn
	js   natsgo.JetStreamContext

	stream     string
	subject    string
	durable    string
	ackWait    time.Duration
	maxDeliver int

	sub *natsgo.Subscription
}

// Option configures a Queue.
type Option func(*Queue)

// WithStream overrides the stream and subject names.
func WithStream(stream, subject string) Option {
	return func(q *Queue) {
		q.stream = stream
		q.subject = subject
	}
}

// WithDurable overrides the durable consumer name.
func WithDurable(name string) Option {
	return func(q *Queue) { q.durable = name }
}

// WithAckWait sets the visibility timeout: how long a delivered message may
// stay unacknowledged before redelivery.
func WithAckWait(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.ackWait = d
		}
	}
}

// WithMaxDeliver bounds handler attempts per message. Deferred jobs spend an
// extra delivery on the scheduling Nak, which the consumer budget accounts
// for separately.
func WithMaxDeliver(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxDeliver = n
		}
	}
}

// consumerMaxDeliver converts the handler-attempt budget into the JetStream
// consumer limit. A deferred job's first delivery is consumed by the
// NakWithDelay that parks it until RunAt, so one delivery is reserved on top
// of the configured attempts.
func consumerMaxDeliver(attempts int) int {
	return attempts + 1
}

// New connects to the NATS server and ensures the job stream exists.
func New(url string, opts ...Option) (*Queue, error) {
	q := &Queue{
		stream:     defaultStream,
		subject:    defaultSubject,
		durable:    defaultDurable,
		ackWait:    defaultAckWait,
		maxDeliver: defaultMaxDeliver,
	}
	for _, opt := range opts {
		opt(q)
	}

	conn, err := natsgo.Connect(url,
		natsgo.Name("filevault"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(q.stream); err != nil {
		if !errors.Is(err, natsgo.ErrStreamNotFound) {
			conn.Close()
			return nil, fmt.Errorf("stream info: %w", err)
		}
		_, err = js.AddStream(&natsgo.StreamConfig{
			Name:      q.stream,
			Subjects:  []string{q.subject},
			Retention: natsgo.WorkQueuePolicy,
			Storage:   natsgo.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream: %w", err)
		}
	}

	q.conn = conn
	q.js = js
	return q, nil
}

// Enqueue publishes the message to the job stream. The job ID doubles as the
// deduplication ID so a crashed producer can republish safely.
func (q *Queue) Enqueue(_ context.Context, msg filevault.JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	if _, err := q.js.Publish(q.subject, data, natsgo.MsgId(msg.JobID.String())); err != nil {
		return fmt.Errorf("publish job message: %w", err)
	}
	return nil
}

// Subscribe starts a durable queue consumer. Messages whose RunAt lies in
// the future are negatively acknowledged with a delay equal to the remaining
// wait, which is how deferred jobs (physical deletes) are scheduled.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, filevault.JobMessage) error) error {
	sub, err := q.js.QueueSubscribe(q.subject, q.durable, func(m *natsgo.Msg) {
		var msg filevault.JobMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			// Undecodable messages can never succeed; drop them.
			_ = m.Term()
			return
		}

		if delay := time.Until(msg.RunAt); delay > 0 {
			_ = m.NakWithDelay(delay)
			return
		}

		if err := handler(ctx, msg); err != nil {
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	},
		natsgo.ManualAck(),
		natsgo.AckWait(q.ackWait),
		natsgo.MaxDeliver(consumerMaxDeliver(q.maxDeliver)),
		natsgo.Durable(q.durable),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	q.sub = sub
	return nil
}

// Close drains the subscription and connection, letting in-flight handlers
// finish.
func (q *Queue) Close() error {
	if q.sub != nil {
		if err := q.sub.Drain(); err != nil {
			q.conn.Close()
			return fmt.Errorf("drain subscription: %w", err)
		}
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return fmt.Errorf("drain connection: %w", err)
	}
	return nil
}

var _ filevault.JobQueue = (*Queue)(nil)
