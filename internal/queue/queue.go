// Package queue carries message and reminder jobs between the automation
// engine and the send workers. Two interchangeable backends exist: a NATS
// JetStream broker (durable, at-least-once) and an in-process fallback used
// when the broker is unreachable at startup.
package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Backend names reported on the admin surface.
const (
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// maxAttempts bounds delivery retries before a job is dead-lettered.
const maxAttempts = 3

// ErrRequeue tells the queue to redeliver the job later without consuming a
// delivery attempt. Workers return it when the transport session is down:
// the job is fine, the world is not ready for it.
var ErrRequeue = errors.New("queue: requeue without consuming an attempt")

// requeueDelay is how long a not-ready job waits before redelivery.
const requeueDelay = 30 * time.Second

// MessageHandler processes one immediate message job.
type MessageHandler func(ctx context.Context, job MessageJob) error

// ReminderHandler processes one reminder or rejected-offer job.
type ReminderHandler func(ctx context.Context, job ReminderJob) error

// Queue is the producer/consumer contract shared by both backends.
// Consumer concurrency is 1 per queue: the chat transport is a single
// shared session and must not be driven in parallel.
type Queue interface {
	EnqueueMessage(ctx context.Context, job MessageJob, delay time.Duration) error
	EnqueueReminder(ctx context.Context, job ReminderJob, delay time.Duration) error
	EnqueueRejectedOffer(ctx context.Context, job ReminderJob, delay time.Duration) error

	ConsumeMessages(h MessageHandler) error
	ConsumeReminders(h ReminderHandler) error
	ConsumeRejectedOffers(h ReminderHandler) error

	Backend() string
	Close() error
}

// New probes the broker once and selects the backend for the process
// lifetime. A broker outage at startup is not fatal: the fallback keeps the
// engine running with process-local queues.
func New(ctx context.Context, natsURL string, logger *zap.Logger) Queue {
	if natsURL != "" {
		q, err := NewNATS(ctx, natsURL, logger)
		if err == nil {
			logger.Info("using NATS JetStream queue backend", zap.String("url", natsURL))
			return q
		}
		logger.Warn("NATS unreachable, falling back to in-process queue", zap.Error(err))
	}
	return NewMemory(logger)
}
