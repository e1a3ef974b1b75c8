package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubGateway returns err from every call and counts calls.
type stubGateway struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubGateway) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubGateway) call() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubGateway) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubGateway) Provider() subscription.Provider { return subscription.ProviderStripe }

func (s *stubGateway) CreateCheckoutSession(context.Context, gateway.CheckoutRequest) (*gateway.Session, error) {
	if err := s.call(); err != nil {
		return nil, err
	}
	return &gateway.Session{Provider: subscription.ProviderStripe, URL: "https://checkout.test/s"}, nil
}

func (s *stubGateway) CaptureOrder(context.Context, gateway.CaptureRequest) (*gateway.CaptureResult, error) {
	if err := s.call(); err != nil {
		return nil, err
	}
	return &gateway.CaptureResult{}, nil
}

func (s *stubGateway) CancelRemote(context.Context, gateway.CancelRequest) error {
	return s.call()
}

func (s *stubGateway) FetchRemoteStatus(context.Context, string) (*gateway.RemoteSnapshot, error) {
	if err := s.call(); err != nil {
		return nil, err
	}
	return &gateway.RemoteSnapshot{}, nil
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	t.Parallel()

	t.Run("closed to open", func(t *testing.T) {
		t.Parallel()
		cb := gateway.NewCircuitBreaker(2, time.Minute, 1)

		assert.Equal(t, gateway.CircuitClosed, cb.State())
		cb.RecordFailure()
		assert.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, gateway.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("success resets failure count", func(t *testing.T) {
		t.Parallel()
		cb := gateway.NewCircuitBreaker(2, time.Minute, 1)

		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, gateway.CircuitClosed, cb.State())
	})

	t.Run("recovery through half-open", func(t *testing.T) {
		t.Parallel()
		clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		var changes []string
		cb := gateway.NewCircuitBreaker(1, 30*time.Second, 2,
			gateway.WithBreakerClock(clock.Now),
			gateway.WithStateChangeHook(func(from, to gateway.CircuitState) {
				changes = append(changes, from.String()+">"+to.String())
			}),
		)

		cb.RecordFailure()
		assert.False(t, cb.Allow())

		clock.Advance(30 * time.Second)
		assert.True(t, cb.Allow())
		assert.Equal(t, gateway.CircuitHalfOpen, cb.State())

		cb.RecordSuccess()
		assert.Equal(t, gateway.CircuitHalfOpen, cb.State())
		cb.RecordSuccess()
		assert.Equal(t, gateway.CircuitClosed, cb.State())

		assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, changes)
	})

	t.Run("half-open failure reopens", func(t *testing.T) {
		t.Parallel()
		clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		cb := gateway.NewCircuitBreaker(1, time.Second, 2, gateway.WithBreakerClock(clock.Now))

		cb.RecordFailure()
		clock.Advance(time.Second)
		require.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, gateway.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := gateway.NewCircuitBreaker(1000, time.Minute, 1)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				cb.Allow()
				if i%2 == 0 {
					cb.RecordFailure()
				} else {
					cb.RecordSuccess()
				}
			}
		}()
	}
	wg.Wait()

	assert.NotEqual(t, "unknown", cb.State().String())
}

func TestWithCircuitBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens on transient failures and fails fast", func(t *testing.T) {
		t.Parallel()
		stub := &stubGateway{err: errors.Join(gateway.ErrGatewayUnavailable, errors.New("503"))}
		g := gateway.WithCircuitBreaker(stub, gateway.NewCircuitBreaker(2, time.Minute, 1))
		ctx := context.Background()

		for range 2 {
			_, err := g.CreateCheckoutSession(ctx, gateway.CheckoutRequest{})
			require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
		}

		_, err := g.FetchRemoteStatus(ctx, "sub_1")
		assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
		assert.ErrorIs(t, err, gateway.ErrCircuitOpen)
		assert.Equal(t, 2, stub.Calls())
	})

	t.Run("rejections do not open the breaker", func(t *testing.T) {
		t.Parallel()
		stub := &stubGateway{err: gateway.ErrGatewayRejected}
		cb := gateway.NewCircuitBreaker(1, time.Minute, 1)
		g := gateway.WithCircuitBreaker(stub, cb)

		for range 3 {
			err := g.CancelRemote(context.Background(), gateway.CancelRequest{})
			assert.ErrorIs(t, err, gateway.ErrGatewayRejected)
		}
		assert.Equal(t, gateway.CircuitClosed, cb.State())
		assert.Equal(t, 3, stub.Calls())

		stub.setErr(nil)
		_, err := g.CaptureOrder(context.Background(), gateway.CaptureRequest{})
		assert.NoError(t, err)
		assert.Equal(t, subscription.ProviderStripe, g.Provider())
	})
}
