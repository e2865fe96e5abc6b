// Package transport holds the gRPC dialing and resilience primitives shared
// by the arkd, tapd, and lnd daemon adapters: a closed/open/half-open
// circuit breaker ported from the original gateway's grpc_client.py, layered
// under cenkalti/backoff retries and go-grpc-middleware interceptors.
package transport

import (
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker trips open after FailureThreshold consecutive failures and
// refuses calls until RecoveryTimeout elapses, at which point it lets a
// single probe call through (half-open) before deciding to close or reopen.
type CircuitBreaker struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker returns a breaker with the original gateway's defaults:
// 5 consecutive failures trips it, 60s before the next probe is allowed.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
}

// ErrCircuitOpen is returned when the breaker refuses to let a call through.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: service unavailable")

// Call runs fn if the breaker is closed or ready to probe, and records the
// outcome against the breaker's state.
func (b *CircuitBreaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != stateOpen {
		return nil
	}
	if time.Since(b.lastFailure) > b.RecoveryTimeout {
		b.state = stateHalfOpen
		return nil
	}
	return ErrCircuitOpen
}

func (b *CircuitBreaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = stateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.state == stateHalfOpen || b.failures >= b.FailureThreshold {
		b.state = stateOpen
	}
}
