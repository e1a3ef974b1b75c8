package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// ErrCircuitOpen is joined with ErrGatewayUnavailable when the breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets calls through to probe recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a provider after consecutive transient failures.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	onChange    func(from, to CircuitState)
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock overrides the time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHook is called, under the breaker lock, on every state change.
func WithStateChangeHook(fn func(from, to CircuitState)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// NewCircuitBreaker opens after failureThreshold consecutive failures, waits
// recoveryTimeout before probing, and closes after successThreshold successful probes.
// Non-positive values fall back to 5, 30s and 2.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, successThreshold int, opts ...BreakerOption) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}

	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
		state:            CircuitClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed. An open breaker moves to half-open
// once the recovery timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
			cb.setState(CircuitHalfOpen)
			cb.successes = 0
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.setState(CircuitClosed)
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
		cb.successes = 0
	}
}

// State returns the current state without triggering the half-open transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	from := cb.state
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(from, s)
	}
}

type breakerGateway struct {
	next Gateway
	cb   *CircuitBreaker
}

// WithCircuitBreaker guards every call to g. While the breaker is open calls fail
// immediately with ErrGatewayUnavailable. Only transient failures count against
// the provider; a rejection means the provider answered.
func WithCircuitBreaker(g Gateway, cb *CircuitBreaker) Gateway {
	return &breakerGateway{next: g, cb: cb}
}

func (b *breakerGateway) Provider() subscription.Provider {
	return b.next.Provider()
}

func (b *breakerGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	return guarded(b, func() (*Session, error) { return b.next.CreateCheckoutSession(ctx, req) })
}

func (b *breakerGateway) CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	return guarded(b, func() (*CaptureResult, error) { return b.next.CaptureOrder(ctx, req) })
}

func (b *breakerGateway) CancelRemote(ctx context.Context, req CancelRequest) error {
	_, err := guarded(b, func() (struct{}, error) { return struct{}{}, b.next.CancelRemote(ctx, req) })
	return err
}

func (b *breakerGateway) FetchRemoteStatus(ctx context.Context, ref string) (*RemoteSnapshot, error) {
	return guarded(b, func() (*RemoteSnapshot, error) { return b.next.FetchRemoteStatus(ctx, ref) })
}

func guarded[T any](b *breakerGateway, call func() (T, error)) (T, error) {
	if !b.cb.Allow() {
		var zero T
		return zero, errors.Join(ErrGatewayUnavailable, ErrCircuitOpen)
	}

	out, err := call()
	if IsUnavailable(err) {
		b.cb.RecordFailure()
	} else {
		b.cb.RecordSuccess()
	}
	return out, err
}
