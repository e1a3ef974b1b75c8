package checkout

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// AttemptHook is called after every gateway checkout attempt.
type AttemptHook func(provider subscription.Provider, err error)

type Option func(*Orchestrator)

// WithSecondary sets the gateway tried once when the primary fails.
func WithSecondary(g gateway.Gateway) Option {
	return func(o *Orchestrator) {
		o.secondary = g
	}
}

// WithTimeout bounds a whole CreateCheckout call, fallback included. Default is 20s.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithAttemptHook(hook AttemptHook) Option {
	return func(o *Orchestrator) {
		o.onAttempt = hook
	}
}
