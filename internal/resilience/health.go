package resilience

// Health status levels, worst wins in the overall rollup.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// FamilyHealth describes one upstream.
type FamilyHealth struct {
	Status       string  `json:"status"`
	ErrorRate    float64 `json:"error_rate"`
	BreakerState string  `json:"circuit_breaker_state"`
}

// Health is the aggregated overview served on the admin surface.
type Health struct {
	Overall     string       `json:"overall"`
	SheetSource FamilyHealth `json:"sheet_source"`
	Transport   FamilyHealth `json:"transport"`
	Network     FamilyHealth `json:"network"`
}

// HealthCheck aggregates per-family error rates and breaker states.
// Any open breaker makes the overall status critical; an error rate in
// [0.2, 0.5) on any family degrades it.
func (e *Executor) HealthCheck() Health {
	sheet := e.familyHealth(FamilySheetRead)
	send := e.familyHealth(FamilyTransportSend)

	network := FamilyHealth{
		Status:       StatusHealthy,
		ErrorRate:    e.overallErrorRate(),
		BreakerState: worstBreaker(sheet.BreakerState, send.BreakerState),
	}
	network.Status = rateStatus(network.ErrorRate, network.BreakerState)

	overall := StatusHealthy
	for _, h := range []FamilyHealth{sheet, send, network} {
		switch h.Status {
		case StatusCritical:
			overall = StatusCritical
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return Health{Overall: overall, SheetSource: sheet, Transport: send, Network: network}
}

func (e *Executor) familyHealth(family string) FamilyHealth {
	state := e.BreakerState(family)

	e.mu.Lock()
	var rate float64
	if fs, ok := e.families[family]; ok && fs.attempts > 0 {
		rate = float64(fs.failures) / float64(fs.attempts)
	}
	e.mu.Unlock()

	return FamilyHealth{Status: rateStatus(rate, state), ErrorRate: rate, BreakerState: state}
}

func (e *Executor) overallErrorRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var attempts, failures int64
	for _, fs := range e.families {
		attempts += fs.attempts
		failures += fs.failures
	}
	if attempts == 0 {
		return 0
	}
	return float64(failures) / float64(attempts)
}

func rateStatus(rate float64, breakerState string) string {
	switch {
	case breakerState == StateOpen || rate >= 0.5:
		return StatusCritical
	case rate >= 0.2:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func worstBreaker(states ...string) string {
	worst := StateClosed
	for _, s := range states {
		switch s {
		case StateOpen:
			return StateOpen
		case StateHalfOpen:
			worst = StateHalfOpen
		}
	}
	return worst
}
