package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(now *time.Time) *Breaker {
	b := NewBreaker()
	b.now = func() time.Time { return *now }
	return b
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Now()
	b := testBreaker(&now)

	for i := 0; i < breakerFailureThreshold-1; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	now := time.Now()
	b := testBreaker(&now)

	for i := 0; i < breakerFailureThreshold-1; i++ {
		b.Failure()
	}
	b.Success()
	for i := 0; i < breakerFailureThreshold-1; i++ {
		b.Failure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAdmitsThreeProbes(t *testing.T) {
	now := time.Now()
	b := testBreaker(&now)

	for i := 0; i < breakerFailureThreshold; i++ {
		b.Failure()
	}
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	now = now.Add(breakerOpenInterval)
	for i := 0; i < breakerHalfOpenProbes; i++ {
		assert.NoError(t, b.Allow(), "probe %d", i)
	}
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	b := testBreaker(&now)

	for i := 0; i < breakerFailureThreshold; i++ {
		b.Failure()
	}
	now = now.Add(breakerOpenInterval)
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := testBreaker(&now)

	for i := 0; i < breakerFailureThreshold; i++ {
		b.Failure()
	}
	now = now.Add(breakerOpenInterval)
	require.NoError(t, b.Allow())
	b.Failure()

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// a fresh openedAt means another full wait before the next probe window
	now = now.Add(breakerOpenInterval / 2)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	now = now.Add(breakerOpenInterval / 2)
	assert.NoError(t, b.Allow())
}
