// Package engine drives the polling loop: read the order book, classify
// every row against what was seen before, and emit message and reminder jobs.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-messenger/internal/config"
	"order-messenger/internal/guard"
	"order-messenger/internal/observability"
	"order-messenger/internal/orders"
	"order-messenger/internal/phone"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/sheet"
	"order-messenger/internal/template"
	"order-messenger/internal/transport"
)

// observation is what the engine remembers about an order between cycles:
// the status it last saw and when. Process-lifetime only; the duplicate
// guard is the durable safety net.
type observation struct {
	Status string
	SeenAt time.Time
}

// Stats are the engine's cycle counters, exposed on the admin surface.
type Stats struct {
	Cycles            int64            `json:"cycles"`
	RowsSeen          int64            `json:"rows_seen"`
	MessagesEnqueued  int64            `json:"messages_enqueued"`
	RemindersEnqueued int64            `json:"reminders_enqueued"`
	InvalidPhones     int64            `json:"invalid_phones"`
	UnmappedStatuses  int64            `json:"unmapped_statuses"`
	Skipped           map[string]int64 `json:"skipped"`
}

// Status is the admin-surface snapshot of the engine.
type Status struct {
	Running   bool      `json:"is_running"`
	LastCheck time.Time `json:"last_check"`
	NextCheck time.Time `json:"next_check"`
	Stats     Stats     `json:"stats"`
}

type Engine struct {
	cfg       *config.Config
	sheet     sheet.Source
	queue     queue.Queue
	guard     *guard.Guard
	exec      *resilience.Executor
	transport transport.Transport
	metrics   *observability.Metrics
	logger    *zap.Logger

	// cycleMu serializes cycles: the loop, TriggerOnce and
	// ForceProcessNewOrders never classify concurrently.
	cycleMu sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	history   map[string]observation
	lastSent  map[string]time.Time
	lastCheck time.Time
	nextCheck time.Time
	stats     Stats

	now func() time.Time
}

func New(cfg *config.Config, src sheet.Source, q queue.Queue, g *guard.Guard, exec *resilience.Executor, t transport.Transport, m *observability.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		sheet:     src,
		queue:     q,
		guard:     g,
		exec:      exec,
		transport: t,
		metrics:   m,
		logger:    logger,
		history:   make(map[string]observation),
		lastSent:  make(map[string]time.Time),
		stats:     Stats{Skipped: make(map[string]int64)},
		now:       time.Now,
	}
}

// Start launches the polling loop. Idempotent: a second Start while running
// is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.nextCheck = e.now().Add(e.cfg.InitialDelay)

	go e.loop(ctx, e.done)
	e.logger.Info("automation engine started",
		zap.Duration("initial_delay", e.cfg.InitialDelay),
		zap.Duration("interval", e.cfg.CheckInterval))
}

// Stop halts the loop at the next iteration boundary and waits for it.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("automation engine stopped")
}

// Status returns a consistent snapshot for the admin surface.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:   e.running,
		LastCheck: e.lastCheck,
		NextCheck: e.nextCheck,
		Stats:     copyStats(e.stats),
	}
}

// Stats returns a copy of the cycle counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyStats(e.stats)
}

// TriggerOnce runs a single cycle immediately, whether or not the loop is
// running. Cycles never overlap.
func (e *Engine) TriggerOnce(ctx context.Context) error {
	return e.cycle(ctx)
}

// ResetTracking clears the in-memory observation history and cooldown
// records. The durable sent-key set is only cleared when explicitly asked.
func (e *Engine) ResetTracking(ctx context.Context, clearDurable bool) error {
	e.mu.Lock()
	e.history = make(map[string]observation)
	e.lastSent = make(map[string]time.Time)
	e.mu.Unlock()

	if clearDurable {
		if err := e.guard.Reset(ctx); err != nil {
			return fmt.Errorf("clear sent keys: %w", err)
		}
	}
	e.logger.Info("tracking reset", zap.Bool("cleared_durable", clearDurable))
	return nil
}

// ForceProcessNewOrders enqueues a newOrder message for every row currently
// classifiable as a new order, skipping history and cooldowns. The duplicate
// guard is still consulted: force never produces a second send.
func (e *Engine) ForceProcessNewOrders(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	rows, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	templates := e.cfg.Templates()

	forced := 0
	for _, row := range rows {
		msgType, ok := orders.Classify(row.Status)
		if !ok || msgType != orders.TypeNewOrder {
			continue
		}
		number := phone.Canonical(row.PrimaryPhone, row.AlternatePhone)
		if number == "" {
			continue
		}
		if !e.guard.ShouldSend(ctx, row.OrderID, msgType, number, row.CustomerName) {
			continue
		}
		if err := e.enqueueMessage(ctx, row, number, msgType, templates); err != nil {
			e.logger.Error("force-process enqueue failed",
				zap.Int("row", row.RowIndex), zap.Error(err))
			continue
		}
		forced++
	}
	e.logger.Info("force-processed new orders", zap.Int("enqueued", forced))
	return nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(e.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := e.cfg.CheckInterval
		if err := e.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("cycle failed, retrying later",
				zap.Duration("retry_in", e.cfg.FailureRetryDelay), zap.Error(err))
			next = e.cfg.FailureRetryDelay
		}

		e.mu.Lock()
		e.nextCheck = e.now().Add(next)
		e.mu.Unlock()
		timer.Reset(next)
	}
}

// cycle performs one full pass over the order book. A snapshot failure
// aborts the cycle; a single row never does.
func (e *Engine) cycle(ctx context.Context) (err error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	start := e.now()

	// Liveness is informational here: classification and enqueueing
	// continue while the session is down, and the queue drains later.
	if !e.transport.Connected(ctx) {
		e.logger.Warn("chat session offline, messages will queue")
	}

	rows, err := e.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch order book: %w", err)
	}

	templates := e.cfg.Templates()
	for _, row := range rows {
		e.processRow(ctx, row, templates)
	}

	e.mu.Lock()
	e.stats.Cycles++
	e.lastCheck = e.now()
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.CyclesTotal.Inc()
		e.metrics.CycleDuration.Observe(e.now().Sub(start).Seconds())
	}
	e.logger.Debug("cycle complete", zap.Int("rows", len(rows)))
	return nil
}

func (e *Engine) snapshot(ctx context.Context) ([]orders.Row, error) {
	var rows []orders.Row
	err := e.exec.Execute(ctx, resilience.FamilySheetRead, func(ctx context.Context) error {
		var sErr error
		rows, sErr = e.sheet.Snapshot(ctx)
		return sErr
	})
	return rows, err
}

// processRow classifies one row and emits at most one message job plus any
// delayed follow-ups. Panics and errors stay confined to the row.
func (e *Engine) processRow(ctx context.Context, row orders.Row, templates template.Set) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("row processing panicked",
				zap.Int("row", row.RowIndex), zap.Any("panic", r))
		}
	}()

	e.countRow()
	key := row.StableKey()
	now := e.now()

	// History records every observed row, message or not.
	defer func() {
		e.mu.Lock()
		e.history[key] = observation{Status: strings.TrimSpace(row.Status), SeenAt: now}
		e.mu.Unlock()
	}()

	number := phone.Canonical(row.PrimaryPhone, row.AlternatePhone)
	if number == "" {
		e.mu.Lock()
		e.stats.InvalidPhones++
		e.mu.Unlock()
		e.rowResult("invalid_phone")
		return
	}

	msgType, mapped := orders.Classify(row.Status)
	if !mapped {
		e.mu.Lock()
		e.stats.UnmappedStatuses++
		e.mu.Unlock()
		e.rowResult("unmapped_status")
		return
	}

	e.mu.Lock()
	prev, seen := e.history[key]
	e.mu.Unlock()
	statusChanged := seen && prev.Status != strings.TrimSpace(row.Status)
	if seen && !statusChanged {
		e.skip(row, "unchanged")
		return
	}

	if !e.cfg.Enabled(msgType) {
		e.skip(row, "disabled")
		return
	}

	if !e.cooldownElapsed(key, msgType, now) {
		e.skip(row, "cooldown")
		return
	}

	if !e.guard.ShouldSend(ctx, row.OrderID, msgType, number, row.CustomerName) {
		e.skip(row, "already_sent")
		return
	}

	// Rejected orders get no immediate message; the discounted offer goes
	// out after the configured delay, re-validated by the follow-up worker.
	if msgType == orders.TypeRejectedOffer {
		job := queue.NewReminderJob(row.OrderID, number, row.CustomerName, strings.TrimSpace(row.Status), row.RowIndex)
		if err := e.queue.EnqueueRejectedOffer(ctx, job, e.cfg.RejectedOfferDelay); err != nil {
			e.logger.Error("failed to schedule rejected offer",
				zap.Int("row", row.RowIndex), zap.Error(err))
			return
		}
		e.markFired(key, msgType, now, true)
		e.rowResult("rejected_offer_scheduled")
		e.logger.Info("rejected offer scheduled",
			zap.String("order_id", row.OrderID),
			zap.Duration("delay", e.cfg.RejectedOfferDelay))
		return
	}

	if err := e.enqueueMessage(ctx, row, number, msgType, templates); err != nil {
		e.logger.Error("failed to enqueue message",
			zap.Int("row", row.RowIndex), zap.Error(err))
		return
	}
	e.markFired(key, msgType, now, false)
	e.rowResult("enqueued")

	if msgType == orders.TypeNewOrder && e.cfg.RemindersEnabled {
		job := queue.NewReminderJob(row.OrderID, number, row.CustomerName, strings.TrimSpace(row.Status), row.RowIndex)
		if err := e.queue.EnqueueReminder(ctx, job, e.cfg.ReminderDelay); err != nil {
			e.logger.Error("failed to schedule reminder",
				zap.Int("row", row.RowIndex), zap.Error(err))
			return
		}
		e.mu.Lock()
		e.stats.RemindersEnqueued++
		e.mu.Unlock()
	}
}

func (e *Engine) enqueueMessage(ctx context.Context, row orders.Row, number string, msgType orders.MessageType, templates template.Set) error {
	body := template.Render(templates.ForType(string(msgType)), template.Values{
		Name:        row.CustomerName,
		OrderID:     row.OrderID,
		ProductName: row.Product,
		Amount:      row.TotalPrice,
		CompanyName: e.cfg.CompanyName,
	})
	job := queue.NewMessageJob(number, body, row.OrderID, row.CustomerName, row.RowIndex, msgType)
	if err := e.queue.EnqueueMessage(ctx, job, 0); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.MessagesEnqueuedTotal.WithLabelValues(string(msgType)).Inc()
	}
	return nil
}

func (e *Engine) cooldownElapsed(key string, msgType orders.MessageType, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastSent[key+"|"+string(msgType)]
	if !ok {
		return true
	}
	return now.Sub(last) >= orders.Cooldown(msgType)
}

func (e *Engine) markFired(key string, msgType orders.MessageType, now time.Time, reminder bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSent[key+"|"+string(msgType)] = now
	if reminder {
		e.stats.RemindersEnqueued++
	} else {
		e.stats.MessagesEnqueued++
	}
}

func (e *Engine) countRow() {
	e.mu.Lock()
	e.stats.RowsSeen++
	e.mu.Unlock()
}

func (e *Engine) skip(row orders.Row, reason string) {
	e.mu.Lock()
	e.stats.Skipped[reason]++
	e.mu.Unlock()
	e.rowResult(reason)
	e.logger.Debug("row skipped",
		zap.Int("row", row.RowIndex), zap.String("reason", reason))
}

func (e *Engine) rowResult(result string) {
	if e.metrics != nil {
		e.metrics.RowsProcessedTotal.WithLabelValues(result).Inc()
	}
}

func copyStats(s Stats) Stats {
	out := s
	out.Skipped = make(map[string]int64, len(s.Skipped))
	for k, v := range s.Skipped {
		out.Skipped[k] = v
	}
	return out
}
