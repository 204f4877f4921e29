// Package worker hosts the queue consumers: the sender drains the message
// queue into the chat transport, and the follow-up worker turns delayed
// reminder jobs back into immediate messages.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"order-messenger/internal/guard"
	"order-messenger/internal/observability"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/transport"
)

// Pre-send pause bounds. A short random gap between messages keeps the
// upstream chat service from rate-limiting the session.
const (
	minSendPause = 1 * time.Second
	maxSendPause = 3 * time.Second
)

// Sender consumes message jobs one at a time and pushes them through the
// shared chat transport. It is the only component that calls Send.
type Sender struct {
	queue     queue.Queue
	transport transport.Transport
	exec      *resilience.Executor
	guard     *guard.Guard
	metrics   *observability.Metrics
	logger    *zap.Logger

	pause func() time.Duration
}

func NewSender(q queue.Queue, t transport.Transport, exec *resilience.Executor, g *guard.Guard, m *observability.Metrics, logger *zap.Logger) *Sender {
	return &Sender{
		queue:     q,
		transport: t,
		exec:      exec,
		guard:     g,
		metrics:   m,
		logger:    logger,
		pause: func() time.Duration {
			return minSendPause + time.Duration(rand.Int63n(int64(maxSendPause-minSendPause)))
		},
	}
}

// WithPause replaces the pre-send pause, for tests.
func (s *Sender) WithPause(fn func() time.Duration) *Sender {
	s.pause = fn
	return s
}

// Start registers the consumer. The queue backend drives handle from its own
// goroutine, one job at a time.
func (s *Sender) Start() error {
	return s.queue.ConsumeMessages(s.handle)
}

func (s *Sender) handle(ctx context.Context, job queue.MessageJob) error {
	if err := sleepCtx(ctx, s.pause()); err != nil {
		return queue.ErrRequeue
	}

	// Second guard check at send time: the job may have sat in the queue
	// while another path already messaged this order.
	if !s.guard.ShouldSend(ctx, job.OrderID, job.Type, job.PhoneNumber, job.CustomerName) {
		s.logger.Info("skipping already-sent message",
			zap.String("order_id", job.OrderID),
			zap.String("type", string(job.Type)))
		s.outcome("deduped")
		return nil
	}

	if !s.transport.Connected(ctx) {
		s.logger.Warn("chat session offline, requeueing job",
			zap.String("job_id", job.ID.String()),
			zap.String("order_id", job.OrderID))
		s.outcome("transport_down")
		return queue.ErrRequeue
	}

	err := s.exec.Execute(ctx, resilience.FamilyTransportSend, func(ctx context.Context) error {
		return s.transport.Send(ctx, job.PhoneNumber, job.Body)
	})
	if err == nil {
		if mErr := s.guard.MarkSent(ctx, job.OrderID, job.Type, job.PhoneNumber, job.CustomerName); mErr != nil {
			// The message went out; a failed mark risks a duplicate
			// later, which is worth a loud log but not a retry.
			s.logger.Error("sent but failed to record sent keys",
				zap.String("order_id", job.OrderID), zap.Error(mErr))
		}
		s.logger.Info("message sent",
			zap.String("order_id", job.OrderID),
			zap.String("type", string(job.Type)),
			zap.String("phone", job.PhoneNumber))
		s.outcome("sent")
		return nil
	}

	var classified *resilience.Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case resilience.KindCircuitOpen, resilience.KindTransportDown:
			s.outcome("transport_down")
			return queue.ErrRequeue
		case resilience.KindTransient:
			// Retries exhausted here; the queue's own attempt budget
			// takes over with longer backoff.
			s.outcome("transient")
			return err
		}
	}

	s.logger.Error("dropping message after permanent send failure",
		zap.String("order_id", job.OrderID),
		zap.String("type", string(job.Type)),
		zap.Error(err))
	s.outcome("permanent")
	return nil
}

func (s *Sender) outcome(label string) {
	if s.metrics != nil {
		s.metrics.SendsTotal.WithLabelValues(label).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
