// Package breaker wraps github.com/sony/gobreaker with a name+OnStateChange
// -to-metric wiring generalized to any named external dependency (broker,
// persistence) instead of one hard-coded "redis" breaker.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mythosmud/realtimecore/internal/v1/metrics"
)

// Breaker wraps a single named circuit breaker.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// Settings configures a Breaker's trip/reset behavior.
type Settings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32 // consecutive failures before tripping
}

// New constructs a Breaker, wiring state transitions to the
// circuit_breaker_state gauge labeled by name, matching the existing
// OnStateChange convention.
func New(s Settings) *Breaker {
	gs := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerFailures.WithLabelValues(name).Inc()
			}
		},
	}
	return &Breaker{name: s.Name, cb: gobreaker.NewCircuitBreaker(gs)}
}

// Execute runs fn through the breaker. When the breaker is open it returns
// gobreaker.ErrOpenState immediately without invoking fn; callers decide
// whether that warrants a DLQ write or a silent degrade, per spec.md's
// error handling design.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Open reports whether the breaker is currently in the open state.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// IsOpenError reports whether err is the breaker's open-state sentinel.
func IsOpenError(err error) bool {
	return err == gobreaker.ErrOpenState
}

// WithTimeout is a small helper for wrapping a context-bound call inside a
// breaker-guarded retry, used by internal/v1/broker.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
