package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Operation families. Every outbound call goes through one of these so the
// breaker and stats aggregate per upstream, not per call site.
const (
	FamilySheetRead     = "sheet-read"
	FamilyTransportSend = "transport-send"
)

// RetryConfig bounds one family's retry loop. MaxRetries counts attempts in
// total, not re-attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig applies to families without an explicit config.
var DefaultRetryConfig = RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// familyConfigs tunes the two hot families: sheet reads tolerate more
// attempts with shorter caps, sends fewer with longer waits.
var familyConfigs = map[string]RetryConfig{
	FamilySheetRead:     {MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second},
	FamilyTransportSend: {MaxRetries: 2, BaseDelay: 3 * time.Second, MaxDelay: 15 * time.Second},
}

// Stats is a snapshot of the executor's counters.
type Stats struct {
	TotalRetries      int64            `json:"total_retries"`
	SuccessfulRetries int64            `json:"successful_retries"`
	ErrorsByType      map[string]int64 `json:"errors_by_type"`
	LastError         string           `json:"last_error,omitempty"`
}

// familyStats feeds the health overview with per-upstream error rates.
type familyStats struct {
	attempts int64
	failures int64
}

// Executor fronts every external call with retry, classification, circuit
// breaking, and counters.
type Executor struct {
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
	stats    Stats
	families map[string]*familyStats

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		logger:   logger,
		breakers: make(map[string]*Breaker),
		stats:    Stats{ErrorsByType: make(map[string]int64)},
		families: make(map[string]*familyStats),
		sleep:    sleepCtx,
	}
}

// WithSleep replaces the inter-retry sleep. Tests use it to run retry loops
// without real delays.
func (e *Executor) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Executor {
	e.sleep = fn
	return e
}

// Execute runs fn under the family's retry policy and breaker. The returned
// error is always a classified *Error (or nil).
func (e *Executor) Execute(ctx context.Context, family string, fn func(ctx context.Context) error) error {
	cfg, ok := familyConfigs[family]
	if !ok {
		cfg = DefaultRetryConfig
	}
	breaker := e.breaker(family)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr *Error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err := breaker.Allow(); err != nil {
			e.recordFailure(family, ErrCircuitOpen, false)
			return ErrCircuitOpen
		}

		e.recordAttempt(family)
		err := fn(ctx)
		if err == nil {
			breaker.Success()
			e.recordSuccess(attempt)
			return nil
		}

		lastErr = Classify(err)
		breaker.Failure()
		e.recordFailure(family, lastErr, true)

		if lastErr.Kind != KindTransient {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := bo.NextBackOff()
		e.logger.Warn("retrying after transient failure",
			zap.String("family", family),
			zap.Int("attempt", attempt),
			zap.String("code", lastErr.Code),
			zap.Duration("delay", delay))
		if err := e.sleep(ctx, delay); err != nil {
			return Classify(err)
		}
	}
	return lastErr
}

func (e *Executor) breaker(family string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[family]
	if !ok {
		b = NewBreaker()
		e.breakers[family] = b
	}
	return b
}

func (e *Executor) recordAttempt(family string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalRetries++
	e.family(family).attempts++
}

func (e *Executor) recordSuccess(attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if attempt > 1 {
		e.stats.SuccessfulRetries++
	}
}

func (e *Executor) recordFailure(family string, err *Error, countAttempt bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.ErrorsByType[err.Code]++
	e.stats.LastError = err.Error()
	if countAttempt {
		e.family(family).failures++
	}
}

func (e *Executor) family(name string) *familyStats {
	fs, ok := e.families[name]
	if !ok {
		fs = &familyStats{}
		e.families[name] = fs
	}
	return fs
}

// Stats returns a copy of the counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := Stats{
		TotalRetries:      e.stats.TotalRetries,
		SuccessfulRetries: e.stats.SuccessfulRetries,
		ErrorsByType:      make(map[string]int64, len(e.stats.ErrorsByType)),
		LastError:         e.stats.LastError,
	}
	for k, v := range e.stats.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	return out
}

// ResetStats zeroes the counters without touching breaker state.
func (e *Executor) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{ErrorsByType: make(map[string]int64)}
	e.families = make(map[string]*familyStats)
}

// BreakerState exposes the named family's breaker state for health checks.
func (e *Executor) BreakerState(family string) string {
	return e.breaker(family).State()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
