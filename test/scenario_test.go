// End-to-end scenarios over the real engine, queue, guard and workers, with
// only the order book and the chat transport faked.
package test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-messenger/internal/config"
	"order-messenger/internal/engine"
	"order-messenger/internal/guard"
	"order-messenger/internal/orders"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/worker"
)

type memorySheet struct {
	mu   sync.Mutex
	rows []orders.Row
}

func (s *memorySheet) Snapshot(context.Context) ([]orders.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Row, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func (s *memorySheet) set(rows ...orders.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

type recordingTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []string
}

func (t *recordingTransport) Send(_ context.Context, phoneNumber, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, phoneNumber+"|"+body)
	return nil
}

func (t *recordingTransport) Connected(context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type harness struct {
	engine    *engine.Engine
	sheet     *memorySheet
	transport *recordingTransport
	guard     *guard.Guard
	queue     *queue.Memory
	cfg       *config.Config
	sentFile  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	sentFile := filepath.Join(t.TempDir(), "sent.json")
	file, err := guard.NewFileStore(sentFile)
	require.NoError(t, err)
	g := guard.New(nil, file, logger)

	cfg := &config.Config{
		CheckInterval:        time.Hour,
		InitialDelay:         time.Hour,
		FailureRetryDelay:    time.Hour,
		ReminderDelay:        50 * time.Millisecond,
		RejectedOfferDelay:   50 * time.Millisecond,
		NewOrderEnabled:      true,
		NoAnswerEnabled:      true,
		ShippedEnabled:       true,
		RejectedOfferEnabled: true,
		RemindersEnabled:     true,
		DiscountRate:         0.2,
		CompanyName:          "متجرنا",
		TemplateNewOrder:     "مرحباً {name}، طلبك {orderId} بمبلغ {amount}",
		TemplateNoAnswer:     "لم نصل إليك بخصوص {orderId}",
		TemplateShipped:      "تم شحن {orderId}",
		TemplateRejectedOffer: "عرض: ادفع {discountedAmount} بدل {amount} ووفر {savedAmount}",
		TemplateReminder:      "تذكير بطلبك {orderId}",
	}

	q := queue.NewMemoryWithTiming(logger, 10*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(func() { q.Close() })

	exec := resilience.NewExecutor(logger).WithSleep(
		func(context.Context, time.Duration) error { return nil })

	tr := &recordingTransport{connected: true}
	src := &memorySheet{}

	sender := worker.NewSender(q, tr, exec, g, nil, logger).
		WithPause(func() time.Duration { return 0 })
	require.NoError(t, sender.Start())

	followup := worker.NewFollowup(q, src, exec, g, cfg.Templates(), cfg.CompanyName, cfg.DiscountRate, nil, logger)
	require.NoError(t, followup.Start())

	eng := engine.New(cfg, src, q, g, exec, tr, nil, logger)

	return &harness{
		engine:    eng,
		sheet:     src,
		transport: tr,
		guard:     g,
		queue:     q,
		cfg:       cfg,
		sentFile:  sentFile,
	}
}

func orderRow(status string) orders.Row {
	return orders.Row{
		OrderID:      "A-0001-111111",
		CustomerName: "سارة",
		PrimaryPhone: "01234567890",
		Product:      "جهاز قياس الضغط",
		TotalPrice:   500,
		Status:       status,
		RowIndex:     2,
	}
}

func TestNewOrderDeliversExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.sheet.set(orderRow(""))
	h.cfg.RemindersEnabled = false

	require.NoError(t, h.engine.TriggerOnce(context.Background()))

	assert.Eventually(t, func() bool { return h.transport.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.transport.mu.Lock()
	first := h.transport.sent[0]
	h.transport.mu.Unlock()
	assert.True(t, strings.HasPrefix(first, "201234567890|"), first)

	// Further cycles never produce a second delivery for the same
	// (order, type), no matter how often they run.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.TriggerOnce(context.Background()))
	}
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.transport.count())
}

func TestGuardSurvivesEngineRestart(t *testing.T) {
	h := newHarness(t)
	h.cfg.RemindersEnabled = false
	h.sheet.set(orderRow(""))

	require.NoError(t, h.engine.TriggerOnce(context.Background()))
	assert.Eventually(t, func() bool { return h.transport.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A fresh engine with empty history but the same sent-key file must
	// not deliver again.
	file, err := guard.NewFileStore(h.sentFile)
	require.NoError(t, err)
	g2 := guard.New(nil, file, zap.NewNop())
	exec := resilience.NewExecutor(zap.NewNop())
	eng2 := engine.New(h.cfg, h.sheet, h.queue, g2, exec, h.transport, nil, zap.NewNop())

	require.NoError(t, eng2.TriggerOnce(context.Background()))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.transport.count())
	assert.Equal(t, int64(1), eng2.Stats().Skipped["already_sent"])
}

func TestReminderFiresWhenStatusUnchanged(t *testing.T) {
	h := newHarness(t)
	h.sheet.set(orderRow(""))

	require.NoError(t, h.engine.TriggerOnce(context.Background()))

	// The newOrder message goes first, then the reminder after its delay.
	assert.Eventually(t, func() bool { return h.transport.count() == 2 }, 3*time.Second, 10*time.Millisecond)

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Contains(t, h.transport.sent[1], "تذكير بطلبك A-0001-111111")
}

func TestReminderDroppedWhenStatusChanges(t *testing.T) {
	h := newHarness(t)
	h.cfg.ReminderDelay = 500 * time.Millisecond
	h.sheet.set(orderRow(""))

	require.NoError(t, h.engine.TriggerOnce(context.Background()))
	assert.Eventually(t, func() bool { return h.transport.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The status moves on before the reminder delay elapses.
	h.sheet.set(orderRow("تم التأكيد"))

	time.Sleep(800 * time.Millisecond)
	h.transport.mu.Lock()
	for _, s := range h.transport.sent {
		assert.NotContains(t, s, "تذكير")
	}
	h.transport.mu.Unlock()
}

func TestRejectedOfferDeliversDiscount(t *testing.T) {
	h := newHarness(t)
	h.sheet.set(orderRow("رفض الاستلام"))

	require.NoError(t, h.engine.TriggerOnce(context.Background()))

	assert.Eventually(t, func() bool { return h.transport.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Contains(t, h.transport.sent[0], "ادفع 400 بدل 500 ووفر 100")
}

func TestOfflineTransportQueuesAndDrains(t *testing.T) {
	h := newHarness(t)
	h.cfg.RemindersEnabled = false
	h.transport.mu.Lock()
	h.transport.connected = false
	h.transport.mu.Unlock()
	h.sheet.set(orderRow(""))

	require.NoError(t, h.engine.TriggerOnce(context.Background()))

	// The job is enqueued but cannot be delivered.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, h.transport.count())

	h.transport.mu.Lock()
	h.transport.connected = true
	h.transport.mu.Unlock()

	// Delivery resumes once the session returns.
	assert.Eventually(t, func() bool { return h.transport.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}
