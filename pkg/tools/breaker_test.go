package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	breaker := newCircuitBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		assert.True(t, breaker.allow())
		breaker.recordFailure()
	}
	assert.True(t, breaker.allow(), "still closed below threshold")
	breaker.recordFailure()

	assert.False(t, breaker.allow(), "open at threshold")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker := newCircuitBreaker(3, 30*time.Second)

	breaker.recordFailure()
	breaker.recordFailure()
	breaker.recordSuccess()
	breaker.recordFailure()
	breaker.recordFailure()

	assert.True(t, breaker.allow(), "count restarted after a success")
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	now := time.Now()
	breaker := newCircuitBreaker(1, 30*time.Second)
	breaker.now = func() time.Time { return now }

	breaker.recordFailure()
	assert.False(t, breaker.allow())

	// After the timeout, exactly one probe is admitted.
	now = now.Add(31 * time.Second)
	assert.True(t, breaker.allow())
	assert.False(t, breaker.allow(), "second concurrent probe rejected")
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	breaker := newCircuitBreaker(1, 30*time.Second)
	breaker.now = func() time.Time { return now }

	breaker.recordFailure()
	now = now.Add(31 * time.Second)
	assert.True(t, breaker.allow())
	breaker.recordSuccess()

	assert.True(t, breaker.allow())
	assert.True(t, breaker.allow(), "closed again, no probe limit")
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	now := time.Now()
	breaker := newCircuitBreaker(1, 30*time.Second)
	breaker.now = func() time.Time { return now }

	breaker.recordFailure()
	now = now.Add(31 * time.Second)
	assert.True(t, breaker.allow())
	breaker.recordFailure()

	assert.False(t, breaker.allow(), "reopened after failed probe")

	// The open window extends from the probe failure.
	now = now.Add(29 * time.Second)
	assert.False(t, breaker.allow())
	now = now.Add(2 * time.Second)
	assert.True(t, breaker.allow())
}
