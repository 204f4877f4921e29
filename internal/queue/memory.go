package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	memoryScanInterval = 5 * time.Second
	memoryRetryDelay   = 2 * time.Second
)

// Memory is the in-process fallback backend. Jobs live in a slice of
// {payload, notBefore} entries; a ticker scans every 5 seconds and
// dispatches whatever is due. Nothing survives a restart; the duplicate
// guard, not the queue, is the durable safety net.
type Memory struct {
	logger *zap.Logger

	mu       sync.Mutex
	queues   map[string][]memoryEntry
	handlers map[string]func(ctx context.Context, payload any) error

	scanInterval time.Duration
	retryDelay   time.Duration
	requeueAfter time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type memoryEntry struct {
	payload   any
	notBefore time.Time
	attempt   int
}

const (
	subjectMessages       = "orders.send"
	subjectReminders      = "orders.reminder"
	subjectRejectedOffers = "orders.rejected"
	subjectDLQ            = "orders.dlq"
)

func NewMemory(logger *zap.Logger) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		logger:       logger,
		queues:       make(map[string][]memoryEntry),
		handlers:     make(map[string]func(ctx context.Context, payload any) error),
		scanInterval: memoryScanInterval,
		retryDelay:   memoryRetryDelay,
		requeueAfter: requeueDelay,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// NewMemoryWithTiming is NewMemory with custom scan and retry intervals, for
// tests that need the dispatch loop to run quickly.
func NewMemoryWithTiming(logger *zap.Logger, scan, retry time.Duration) *Memory {
	m := NewMemory(logger)
	m.scanInterval = scan
	m.retryDelay = retry
	m.requeueAfter = retry
	return m
}

func (m *Memory) Backend() string { return BackendMemory }

func (m *Memory) EnqueueMessage(_ context.Context, job MessageJob, delay time.Duration) error {
	m.enqueue(subjectMessages, job, delay)
	return nil
}

func (m *Memory) EnqueueReminder(_ context.Context, job ReminderJob, delay time.Duration) error {
	m.enqueue(subjectReminders, job, delay)
	return nil
}

func (m *Memory) EnqueueRejectedOffer(_ context.Context, job ReminderJob, delay time.Duration) error {
	m.enqueue(subjectRejectedOffers, job, delay)
	return nil
}

func (m *Memory) ConsumeMessages(h MessageHandler) error {
	return m.consume(subjectMessages, func(ctx context.Context, payload any) error {
		return h(ctx, payload.(MessageJob))
	})
}

func (m *Memory) ConsumeReminders(h ReminderHandler) error {
	return m.consume(subjectReminders, func(ctx context.Context, payload any) error {
		return h(ctx, payload.(ReminderJob))
	})
}

func (m *Memory) ConsumeRejectedOffers(h ReminderHandler) error {
	return m.consume(subjectRejectedOffers, func(ctx context.Context, payload any) error {
		return h(ctx, payload.(ReminderJob))
	})
}

func (m *Memory) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

// Depth reports queued jobs across all queues, for the admin surface.
func (m *Memory) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

func (m *Memory) enqueue(subject string, payload any, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[subject] = append(m.queues[subject], memoryEntry{
		payload:   payload,
		notBefore: time.Now().Add(delay),
	})
}

func (m *Memory) consume(subject string, h func(ctx context.Context, payload any) error) error {
	m.mu.Lock()
	if _, dup := m.handlers[subject]; dup {
		m.mu.Unlock()
		return errors.New("queue: consumer already registered for " + subject)
	}
	m.handlers[subject] = h
	m.mu.Unlock()

	m.once.Do(func() {
		m.wg.Add(1)
		go m.scanLoop()
	})
	return nil
}

// scanLoop wakes on a ticker, pops every due entry, and dispatches them
// sequentially. One loop serves all queues, which also enforces the
// one-message-at-a-time transport discipline.
func (m *Memory) scanLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.dispatchDue()
		}
	}
}

func (m *Memory) dispatchDue() {
	now := time.Now()

	for subject := range m.snapshot() {
		for {
			entry, ok := m.popDue(subject, now)
			if !ok {
				break
			}
			m.dispatch(subject, entry)
		}
	}
}

func (m *Memory) snapshot() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	subjects := make(map[string]struct{}, len(m.handlers))
	for s := range m.handlers {
		subjects[s] = struct{}{}
	}
	return subjects
}

func (m *Memory) popDue(subject string, now time.Time) (memoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[subject]
	for i, entry := range q {
		if entry.notBefore.After(now) {
			continue
		}
		m.queues[subject] = append(q[:i], q[i+1:]...)
		return entry, true
	}
	return memoryEntry{}, false
}

func (m *Memory) dispatch(subject string, entry memoryEntry) {
	m.mu.Lock()
	h := m.handlers[subject]
	m.mu.Unlock()
	if h == nil {
		return
	}

	err := h(m.ctx, entry.payload)
	if err == nil {
		return
	}

	if errors.Is(err, ErrRequeue) {
		m.mu.Lock()
		entry.notBefore = time.Now().Add(m.requeueAfter)
		m.queues[subject] = append(m.queues[subject], entry)
		m.mu.Unlock()
		return
	}

	// One retry with a short delay, then drop. Dropping preserves
	// at-most-once: a job that failed twice is gone, never duplicated.
	if entry.attempt == 0 {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.retryDelay):
		}
		entry.attempt++
		if retryErr := h(m.ctx, entry.payload); retryErr == nil {
			return
		}
	}
	m.logger.Error("dropping job after failed retry",
		zap.String("queue", subject), zap.Error(err))
}
