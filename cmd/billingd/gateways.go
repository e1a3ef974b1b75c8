package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/metrics"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

var errNoGateway = errors.New("no payment gateway configured")

type gateways struct {
	primary   gateway.Gateway
	secondary gateway.Gateway
	parsers   []gateway.NotificationParser
}

func (g gateways) all() []gateway.Gateway {
	if g.secondary == nil {
		return []gateway.Gateway{g.primary}
	}
	return []gateway.Gateway{g.primary, g.secondary}
}

// newGateways builds every configured adapter. Outbound calls go through a
// circuit breaker per provider; webhook parsing uses the bare adapter since it
// never leaves the process.
func newGateways(
	app appConfig,
	stripeCfg gateway.StripeConfig,
	paddleCfg gateway.PaddleConfig,
	idempotency gateway.IdempotencyStore,
	m *metrics.Metrics,
	log *slog.Logger,
) (gateways, error) {
	breaker := func(g gateway.Gateway) gateway.Gateway {
		cb := gateway.NewCircuitBreaker(app.BreakerFailures, app.BreakerRecoveryTimeout, app.BreakerSuccesses,
			gateway.WithStateChangeHook(m.CircuitStateHook(g.Provider())),
		)
		return gateway.WithCircuitBreaker(g, cb)
	}

	var (
		out        gateways
		configured = map[subscription.Provider]gateway.Gateway{}
	)
	if stripeCfg.Enabled() {
		s, err := gateway.NewStripeGateway(stripeCfg, gateway.WithStripeLogger(log))
		if err != nil {
			return out, fmt.Errorf("stripe: %w", err)
		}
		configured[subscription.ProviderStripe] = breaker(s)
		out.parsers = append(out.parsers, s)
	}
	if paddleCfg.Enabled() {
		p, err := gateway.NewPaddleGateway(paddleCfg,
			gateway.WithIdempotencyStore(idempotency),
			gateway.WithPaddleLogger(log),
		)
		if err != nil {
			return out, fmt.Errorf("paddle: %w", err)
		}
		configured[subscription.ProviderPaddle] = breaker(p)
		out.parsers = append(out.parsers, p)
	}

	primary, err := subscription.ParseProvider(app.PrimaryGateway)
	if err != nil {
		return out, err
	}
	if g, ok := configured[primary]; ok {
		out.primary = g
		delete(configured, primary)
	}
	for _, g := range configured {
		if out.primary == nil {
			out.primary = g
			continue
		}
		out.secondary = g
	}
	if out.primary == nil {
		return out, errNoGateway
	}
	return out, nil
}
