package tools

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// circuitBreaker latches a tool name after repeated consecutive failures.
// Transitions are strictly closed→open→half_open→{closed|open}. Breakers
// are per-agent; parent and delegate agents never share one.
type circuitBreaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
	nextAttempt time.Time
	probing     bool

	threshold   int
	openTimeout time.Duration

	now func() time.Time // test hook
}

func newCircuitBreaker(threshold int, openTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold:   threshold,
		openTimeout: openTimeout,
		now:         time.Now,
	}
}

// allow reports whether a call may proceed. In the open state it admits
// nothing until the timeout elapses, then transitions to half_open and
// admits exactly one probe.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Before(b.nextAttempt) {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true
	default: // half_open
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// recordSuccess closes the breaker and resets the failure count.
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.probing = false
}

// recordFailure counts a failure, opening the breaker at the threshold or
// re-opening (and extending the timeout) from half_open.
func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
		b.nextAttempt = b.now().Add(b.openTimeout)
		b.probing = false
	case breakerClosed:
		if b.failures >= b.threshold {
			b.state = breakerOpen
			b.nextAttempt = b.now().Add(b.openTimeout)
		}
	}
}
