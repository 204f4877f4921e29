package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	streamName     = "ORDERS"
	connectTimeout = 10 * time.Second

	// ackWait must outlast a full send with retries (two transport
	// attempts, backoff, 30 s per-call timeout).
	ackWait = 2 * time.Minute
)

// NATS is the JetStream-backed queue. Delays are implemented by NakWithDelay
// until the envelope's not-before instant passes, so hours-scale reminders
// survive restarts. Retry attempts are tracked in the envelope and a job is
// dead-lettered to orders.dlq after maxAttempts failures.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger

	subs []*nats.Subscription
}

// NewNATS connects, ensures the stream, and returns the backend. Any error
// here makes the caller fall back to the in-process queue.
func NewNATS(ctx context.Context, url string, logger *zap.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("Order Messenger"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return nil, fmt.Errorf("probe stream: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{"orders.>"},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream: %w", err)
		}
	}

	return &NATS{conn: conn, js: js, logger: logger}, nil
}

func (n *NATS) Backend() string { return BackendNATS }

func (n *NATS) EnqueueMessage(ctx context.Context, job MessageJob, delay time.Duration) error {
	return n.publish(subjectMessages, job, delay, 1)
}

func (n *NATS) EnqueueReminder(ctx context.Context, job ReminderJob, delay time.Duration) error {
	return n.publish(subjectReminders, job, delay, 1)
}

func (n *NATS) EnqueueRejectedOffer(ctx context.Context, job ReminderJob, delay time.Duration) error {
	return n.publish(subjectRejectedOffers, job, delay, 1)
}

func (n *NATS) ConsumeMessages(h MessageHandler) error {
	return n.subscribe(subjectMessages, "order-send-worker", func(ctx context.Context, payload json.RawMessage) error {
		var job MessageJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode message job: %w", err)
		}
		return h(ctx, job)
	})
}

func (n *NATS) ConsumeReminders(h ReminderHandler) error {
	return n.subscribe(subjectReminders, "order-reminder-worker", func(ctx context.Context, payload json.RawMessage) error {
		var job ReminderJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode reminder job: %w", err)
		}
		return h(ctx, job)
	})
}

func (n *NATS) ConsumeRejectedOffers(h ReminderHandler) error {
	return n.subscribe(subjectRejectedOffers, "order-rejected-worker", func(ctx context.Context, payload json.RawMessage) error {
		var job ReminderJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode rejected-offer job: %w", err)
		}
		return h(ctx, job)
	})
}

func (n *NATS) Close() error {
	for _, sub := range n.subs {
		_ = sub.Drain()
	}
	n.conn.Close()
	return nil
}

func (n *NATS) publish(subject string, payload any, delay time.Duration, attempt int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	env := envelope{
		Payload:   raw,
		Attempt:   attempt,
		NotBefore: time.Now().Add(delay),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := n.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// subscribe registers a durable pull-style consumer with at most one
// in-flight job, preserving the single-sender discipline.
func (n *NATS) subscribe(subject, durable string, h func(ctx context.Context, payload json.RawMessage) error) error {
	sub, err := n.js.Subscribe(subject, func(msg *nats.Msg) {
		n.handle(subject, msg, h)
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(ackWait),
		nats.MaxAckPending(1),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	n.subs = append(n.subs, sub)
	return nil
}

func (n *NATS) handle(subject string, msg *nats.Msg, h func(ctx context.Context, payload json.RawMessage) error) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		n.logger.Error("dropping undecodable envelope",
			zap.String("subject", subject), zap.Error(err))
		_ = msg.Ack()
		return
	}
	if env.Attempt < 1 {
		env.Attempt = 1
	}

	// Delayed jobs sleep on the broker, not in this process.
	if remaining := time.Until(env.NotBefore); remaining > 0 {
		_ = msg.NakWithDelay(remaining)
		return
	}

	err := h(context.Background(), env.Payload)
	switch {
	case err == nil:
		_ = msg.Ack()

	case errors.Is(err, ErrRequeue):
		// World not ready (transport down): no attempt consumed.
		_ = msg.NakWithDelay(requeueDelay)

	case env.Attempt >= maxAttempts:
		n.deadLetter(subject, env, err)
		_ = msg.Ack()

	default:
		// Exponential backoff between attempts: 15s, 30s, 60s.
		backoff := 15 * time.Second << (env.Attempt - 1)
		env.Attempt++
		env.NotBefore = time.Now().Add(backoff)
		if data, mErr := json.Marshal(env); mErr == nil {
			if _, pErr := n.js.Publish(subject, data); pErr == nil {
				_ = msg.Ack()
				n.logger.Warn("job failed, retrying",
					zap.String("subject", subject),
					zap.Int("attempt", env.Attempt),
					zap.Duration("backoff", backoff),
					zap.Error(err))
				return
			}
		}
		// Republish failed; let the broker redeliver the original.
		_ = msg.NakWithDelay(backoff)
	}
}

func (n *NATS) deadLetter(subject string, env envelope, cause error) {
	dead := map[string]any{
		"subject":   subject,
		"payload":   env.Payload,
		"attempts":  env.Attempt,
		"error":     cause.Error(),
		"timestamp": time.Now().UTC(),
	}
	data, err := json.Marshal(dead)
	if err != nil {
		return
	}
	if _, err := n.js.Publish(subjectDLQ, data); err != nil {
		n.logger.Error("failed to publish dead letter", zap.Error(err))
		return
	}
	n.logger.Error("job dead-lettered",
		zap.String("subject", subject),
		zap.Int("attempts", env.Attempt),
		zap.String("cause", cause.Error()))
}
