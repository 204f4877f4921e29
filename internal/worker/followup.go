package worker

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"order-messenger/internal/guard"
	"order-messenger/internal/observability"
	"order-messenger/internal/orders"
	"order-messenger/internal/phone"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/sheet"
	"order-messenger/internal/template"
)

// Followup consumes delayed reminder and rejected-offer jobs. Before turning
// a job into a message it re-reads the order book: a job fires only if the
// order still exists and its status has not moved since scheduling.
type Followup struct {
	queue     queue.Queue
	sheet     sheet.Source
	exec      *resilience.Executor
	guard     *guard.Guard
	templates template.Set
	company   string
	discount  float64
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewFollowup(q queue.Queue, src sheet.Source, exec *resilience.Executor, g *guard.Guard, templates template.Set, company string, discount float64, m *observability.Metrics, logger *zap.Logger) *Followup {
	return &Followup{
		queue:     q,
		sheet:     src,
		exec:      exec,
		guard:     g,
		templates: templates,
		company:   company,
		discount:  discount,
		metrics:   m,
		logger:    logger,
	}
}

// Start registers both delayed-job consumers.
func (f *Followup) Start() error {
	if err := f.queue.ConsumeReminders(f.handleReminder); err != nil {
		return err
	}
	return f.queue.ConsumeRejectedOffers(f.handleRejectedOffer)
}

func (f *Followup) handleReminder(ctx context.Context, job queue.ReminderJob) error {
	row, found, err := f.lookup(ctx, job)
	if err != nil {
		return f.lookupFailure(job, err)
	}
	if !found {
		f.drop(job, "order_missing")
		return nil
	}
	if strings.TrimSpace(row.Status) != strings.TrimSpace(job.OrderStatus) {
		f.drop(job, "status_changed")
		return nil
	}

	number := f.number(row, job)
	if number == "" {
		f.drop(job, "no_phone")
		return nil
	}
	if !f.guard.ShouldSend(ctx, row.OrderID, orders.TypeReminder, number, row.CustomerName) {
		f.drop(job, "already_sent")
		return nil
	}

	body := template.Render(f.templates.Reminder, template.Values{
		Name:        row.CustomerName,
		OrderID:     row.OrderID,
		ProductName: row.Product,
		Amount:      row.TotalPrice,
		CompanyName: f.company,
	})
	return f.enqueue(ctx, row, number, body, orders.TypeReminder)
}

func (f *Followup) handleRejectedOffer(ctx context.Context, job queue.ReminderJob) error {
	row, found, err := f.lookup(ctx, job)
	if err != nil {
		return f.lookupFailure(job, err)
	}
	if !found {
		f.drop(job, "order_missing")
		return nil
	}
	// The discounted offer only makes sense while the customer still
	// refuses: any edit to the status column cancels it.
	if !orders.Rejected(row.Status) || strings.TrimSpace(row.Status) != strings.TrimSpace(job.OrderStatus) {
		f.drop(job, "status_changed")
		return nil
	}

	number := f.number(row, job)
	if number == "" {
		f.drop(job, "no_phone")
		return nil
	}
	if !f.guard.ShouldSend(ctx, row.OrderID, orders.TypeRejectedOffer, number, row.CustomerName) {
		f.drop(job, "already_sent")
		return nil
	}

	discounted := math.Round(row.TotalPrice * (1 - f.discount))
	body := template.Render(f.templates.RejectedOffer, template.Values{
		Name:             row.CustomerName,
		OrderID:          row.OrderID,
		ProductName:      row.Product,
		Amount:           row.TotalPrice,
		DiscountedAmount: discounted,
		SavedAmount:      row.TotalPrice - discounted,
		CompanyName:      f.company,
	})
	return f.enqueue(ctx, row, number, body, orders.TypeRejectedOffer)
}

// lookup re-reads the order book and finds the job's row, by order ID when
// the row has one and by sheet position otherwise.
func (f *Followup) lookup(ctx context.Context, job queue.ReminderJob) (orders.Row, bool, error) {
	var rows []orders.Row
	err := f.exec.Execute(ctx, resilience.FamilySheetRead, func(ctx context.Context) error {
		var sErr error
		rows, sErr = f.sheet.Snapshot(ctx)
		return sErr
	})
	if err != nil {
		return orders.Row{}, false, err
	}

	id := strings.TrimSpace(job.OrderID)
	for _, row := range rows {
		if id != "" {
			if strings.TrimSpace(row.OrderID) == id {
				return row, true, nil
			}
			continue
		}
		if row.RowIndex == job.RowIndex {
			return row, true, nil
		}
	}
	return orders.Row{}, false, nil
}

// lookupFailure decides what an unreachable order book means for the job:
// wait without burning an attempt when the breaker is open, otherwise let the
// queue's retry budget handle it.
func (f *Followup) lookupFailure(job queue.ReminderJob, err error) error {
	var classified *resilience.Error
	if errors.As(err, &classified) && classified.Kind == resilience.KindCircuitOpen {
		f.logger.Warn("order book unavailable, requeueing follow-up",
			zap.String("order_id", job.OrderID))
		return queue.ErrRequeue
	}
	f.logger.Warn("follow-up lookup failed",
		zap.String("order_id", job.OrderID), zap.Error(err))
	return err
}

func (f *Followup) number(row orders.Row, job queue.ReminderJob) string {
	if n := phone.Canonical(row.PrimaryPhone, row.AlternatePhone); n != "" {
		return n
	}
	return job.PhoneNumber
}

func (f *Followup) enqueue(ctx context.Context, row orders.Row, number, body string, msgType orders.MessageType) error {
	msg := queue.NewMessageJob(number, body, row.OrderID, row.CustomerName, row.RowIndex, msgType)
	if err := f.queue.EnqueueMessage(ctx, msg, 0); err != nil {
		return err
	}
	if f.metrics != nil {
		f.metrics.MessagesEnqueuedTotal.WithLabelValues(string(msgType)).Inc()
	}
	f.logger.Info("follow-up message enqueued",
		zap.String("order_id", row.OrderID),
		zap.String("type", string(msgType)))
	return nil
}

func (f *Followup) drop(job queue.ReminderJob, reason string) {
	if f.metrics != nil {
		f.metrics.RemindersDroppedTotal.WithLabelValues(reason).Inc()
	}
	f.logger.Info("dropping follow-up job",
		zap.String("order_id", job.OrderID),
		zap.Int("row", job.RowIndex),
		zap.String("reason", reason))
}
