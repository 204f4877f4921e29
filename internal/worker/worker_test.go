package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-messenger/internal/guard"
	"order-messenger/internal/orders"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/template"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []string
}

func (t *fakeTransport) Send(_ context.Context, phoneNumber, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, phoneNumber+"|"+body)
	return nil
}

func (t *fakeTransport) Connected(context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

type fakeQueue struct {
	queue.Queue

	mu       sync.Mutex
	messages []queue.MessageJob
}

func (q *fakeQueue) EnqueueMessage(_ context.Context, job queue.MessageJob, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, job)
	return nil
}

type fakeSheet struct {
	rows []orders.Row
	err  error
}

func (s *fakeSheet) Snapshot(context.Context) ([]orders.Row, error) {
	return s.rows, s.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestGuard(t *testing.T) *guard.Guard {
	t.Helper()
	file, err := guard.NewFileStore(filepath.Join(t.TempDir(), "sent.json"))
	require.NoError(t, err)
	return guard.New(nil, file, zap.NewNop())
}

func newTestSender(t *testing.T, tr *fakeTransport) (*Sender, *guard.Guard) {
	t.Helper()
	g := newTestGuard(t)
	exec := resilience.NewExecutor(zap.NewNop()).WithSleep(noSleep)
	s := NewSender(nil, tr, exec, g, nil, zap.NewNop())
	s.pause = func() time.Duration { return 0 }
	return s, g
}

func testJob(orderID string, msgType orders.MessageType) queue.MessageJob {
	return queue.NewMessageJob("201234567890", "مرحبا سارة", orderID, "سارة أحمد", 2, msgType)
}

func TestSenderDeliversAndMarks(t *testing.T) {
	tr := &fakeTransport{connected: true}
	s, g := newTestSender(t, tr)

	job := testJob("A-1", orders.TypeNewOrder)
	require.NoError(t, s.handle(context.Background(), job))

	require.Len(t, tr.sent, 1)
	assert.Equal(t, "201234567890|مرحبا سارة", tr.sent[0])
	assert.False(t, g.ShouldSend(context.Background(), "A-1", orders.TypeNewOrder, "201234567890", "سارة أحمد"))
}

func TestSenderSkipsAlreadySent(t *testing.T) {
	tr := &fakeTransport{connected: true}
	s, g := newTestSender(t, tr)

	require.NoError(t, g.MarkSent(context.Background(), "A-1", orders.TypeNewOrder, "201234567890", "سارة أحمد"))

	require.NoError(t, s.handle(context.Background(), testJob("A-1", orders.TypeNewOrder)))
	assert.Empty(t, tr.sent, "deduped job must never reach the transport")
}

func TestSenderRequeuesWhileOffline(t *testing.T) {
	tr := &fakeTransport{connected: false}
	s, g := newTestSender(t, tr)

	err := s.handle(context.Background(), testJob("A-1", orders.TypeNewOrder))
	assert.ErrorIs(t, err, queue.ErrRequeue)
	assert.Empty(t, tr.sent)

	// Not marked: the message never went out.
	assert.True(t, g.ShouldSend(context.Background(), "A-1", orders.TypeNewOrder, "201234567890", "سارة أحمد"))
}

func TestSenderDropsPermanentFailure(t *testing.T) {
	tr := &fakeTransport{connected: true, sendErr: &resilience.HTTPError{Status: 400, Err: errors.New("bad payload")}}
	s, g := newTestSender(t, tr)

	err := s.handle(context.Background(), testJob("A-1", orders.TypeNewOrder))
	assert.NoError(t, err, "permanent failures are dropped, not retried")
	assert.True(t, g.ShouldSend(context.Background(), "A-1", orders.TypeNewOrder, "201234567890", "سارة أحمد"))
}

func TestSenderReturnsTransientForQueueRetry(t *testing.T) {
	tr := &fakeTransport{connected: true, sendErr: &resilience.HTTPError{Status: 503, Err: errors.New("session hiccup")}}
	s, _ := newTestSender(t, tr)

	err := s.handle(context.Background(), testJob("A-1", orders.TypeNewOrder))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrRequeue)

	var classified *resilience.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, resilience.KindTransient, classified.Kind)
}

func rejectedRow() orders.Row {
	return orders.Row{
		OrderID:      "A-1",
		CustomerName: "سارة أحمد",
		PrimaryPhone: "01234567890",
		Product:      "جهاز قياس الضغط",
		TotalPrice:   500,
		Status:       "رفض الاستلام",
		RowIndex:     2,
	}
}

func newTestFollowup(t *testing.T, src *fakeSheet) (*Followup, *fakeQueue, *guard.Guard) {
	t.Helper()
	q := &fakeQueue{}
	g := newTestGuard(t)
	exec := resilience.NewExecutor(zap.NewNop()).WithSleep(noSleep)
	set := template.Set{
		Reminder:      "تذكير {name} بطلبك {orderId}",
		RejectedOffer: "عرض {name}: بدل {amount} ادفع {discountedAmount} ووفر {savedAmount} من {companyName}",
	}
	return NewFollowup(q, src, exec, g, set, "شركتنا", 0.2, nil, zap.NewNop()), q, g
}

func TestFollowupFiresRejectedOffer(t *testing.T) {
	src := &fakeSheet{rows: []orders.Row{rejectedRow()}}
	f, q, _ := newTestFollowup(t, src)

	job := queue.NewReminderJob("A-1", "201234567890", "سارة أحمد", "رفض الاستلام", 2)
	require.NoError(t, f.handleRejectedOffer(context.Background(), job))

	require.Len(t, q.messages, 1)
	msg := q.messages[0]
	assert.Equal(t, orders.TypeRejectedOffer, msg.Type)
	assert.Equal(t, "201234567890", msg.PhoneNumber)
	assert.Equal(t, "عرض سارة أحمد: بدل 500 ادفع 400 ووفر 100 من شركتنا", msg.Body)
}

func TestFollowupDropsWhenStatusChanged(t *testing.T) {
	row := rejectedRow()
	row.Status = "تم التوصيل"
	src := &fakeSheet{rows: []orders.Row{row}}
	f, q, _ := newTestFollowup(t, src)

	job := queue.NewReminderJob("A-1", "201234567890", "سارة أحمد", "رفض الاستلام", 2)
	require.NoError(t, f.handleRejectedOffer(context.Background(), job))
	assert.Empty(t, q.messages)
}

func TestFollowupDropsWhenOrderGone(t *testing.T) {
	src := &fakeSheet{rows: nil}
	f, q, _ := newTestFollowup(t, src)

	job := queue.NewReminderJob("A-1", "201234567890", "سارة أحمد", "رفض الاستلام", 2)
	require.NoError(t, f.handleRejectedOffer(context.Background(), job))
	assert.Empty(t, q.messages)
}

func TestFollowupDropsWhenAlreadySent(t *testing.T) {
	src := &fakeSheet{rows: []orders.Row{rejectedRow()}}
	f, q, g := newTestFollowup(t, src)

	require.NoError(t, g.MarkSent(context.Background(), "A-1", orders.TypeRejectedOffer, "201234567890", "سارة أحمد"))

	job := queue.NewReminderJob("A-1", "201234567890", "سارة أحمد", "رفض الاستلام", 2)
	require.NoError(t, f.handleRejectedOffer(context.Background(), job))
	assert.Empty(t, q.messages)
}

func TestFollowupReminderUsesCurrentRow(t *testing.T) {
	row := rejectedRow()
	row.Status = "لم يرد"
	src := &fakeSheet{rows: []orders.Row{row}}
	f, q, _ := newTestFollowup(t, src)

	job := queue.NewReminderJob("A-1", "201234567890", "سارة أحمد", "لم يرد", 2)
	require.NoError(t, f.handleReminder(context.Background(), job))

	require.Len(t, q.messages, 1)
	assert.Equal(t, orders.TypeReminder, q.messages[0].Type)
	assert.Equal(t, "تذكير سارة أحمد بطلبك A-1", q.messages[0].Body)
}

func TestFollowupMatchesByRowIndexWithoutOrderID(t *testing.T) {
	row := rejectedRow()
	row.OrderID = ""
	row.Status = "لم يرد"
	src := &fakeSheet{rows: []orders.Row{row}}
	f, q, _ := newTestFollowup(t, src)

	job := queue.NewReminderJob("", "201234567890", "سارة أحمد", "لم يرد", 2)
	require.NoError(t, f.handleReminder(context.Background(), job))
	require.Len(t, q.messages, 1)
}

func TestFollowupLookupFailurePropagates(t *testing.T) {
	src := &fakeSheet{err: &resilience.HTTPError{Status: 403, Err: errors.New("forbidden")}}
	f, q, _ := newTestFollowup(t, src)

	job := queue.NewReminderJob("A-1", "201234567890", "سارة أحمد", "لم يرد", 2)
	err := f.handleReminder(context.Background(), job)
	require.Error(t, err)
	assert.Empty(t, q.messages)
}
