package queue

import (
	"sync"
	"time"
)

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

const (
	DefaultFailureThreshold = 5
	DefaultBreakerTimeout   = 60 * time.Second
)

// Breaker guards the Redis connection with a three-state circuit
// breaker. Closed passes everything through, Open rejects immediately,
// and HalfOpen admits probe attempts after the timeout elapses.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

// BreakerSnapshot is a point-in-time view for telemetry endpoints.
type BreakerSnapshot struct {
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	OpenedAt     *float64     `json:"opened_at,omitempty"`
}

func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}
	return &Breaker{
		state:     StateClosed,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Allow reports whether an attempt may proceed. When the breaker is
// Open and the timeout has elapsed it transitions to HalfOpen and
// admits the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) > b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker from any state and clears the
// failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.openedAt = time.Time{}
}

// RecordFailure increments the failure count. A failed HalfOpen probe
// reopens the breaker immediately with a fresh timeout window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	case b.state == StateClosed && b.failures >= b.threshold:
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		State:        b.state,
		FailureCount: b.failures,
	}
	if !b.openedAt.IsZero() {
		at := float64(b.openedAt.UnixNano()) / 1e9
		snap.OpenedAt = &at
	}
	return snap
}
