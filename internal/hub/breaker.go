package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// breakerState is the circuit breaker's Closed/Open/HalfOpen cycle, adapted
// from circuit_breaker/circuitbreaker.go and scoped here to gating the hub
// client's reconnect attempts: repeated transport failures trip it so the
// client fails fast between attempts instead of hammering a down hub.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// ErrBreakerOpen is returned by breaker.allow when the breaker is
// fast-failing reconnect attempts.
var ErrBreakerOpen = errors.New("hub connection breaker is open; fast-fail")

type breaker struct {
	log          *slog.Logger
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newBreaker(log *slog.Logger, maxFailures int, resetTimeout time.Duration) *breaker {
	return &breaker{log: log, maxFailures: maxFailures, resetTimeout: resetTimeout, state: breakerClosed}
}

// allow reports whether a reconnect attempt may proceed. When the breaker
// just transitioned from Open to HalfOpen it allows exactly one probing
// attempt.
func (b *breaker) allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerHalfOpen:
		return nil
	case breakerOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return ErrBreakerOpen
		}
		b.state = breakerHalfOpen
		b.log.Info("hub breaker half-open, probing")
		return nil
	}
	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != breakerClosed {
		b.log.Info("hub breaker closed after success")
	}
	b.state = breakerClosed
	b.failures = 0
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.log.Warn("hub breaker opened", "failures", b.failures)
	}
}
