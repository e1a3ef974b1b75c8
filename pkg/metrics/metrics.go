// Package metrics exposes billing engine counters to Prometheus.
//
// Collectors are fed through the hooks each component accepts, so no component
// depends on this package:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	subs := subscription.NewService(store, orgs, catalog, subscription.WithObserver(m.Transition()))
//	processor := webhook.NewProcessor(subs, parsers, webhook.WithOnProcessed(m.WebhookProcessed()))
//	r.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/billing/pkg/checkout"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/reconcile"
	"github.com/dmitrymomot/billing/pkg/subscription"
	"github.com/dmitrymomot/billing/pkg/webhook"
	"github.com/dmitrymomot/billing/pkg/webhook/outbound"
)

const namespace = "billing"

// Metrics holds all billing collectors.
type Metrics struct {
	WebhooksTotal         *prometheus.CounterVec
	TransitionsTotal      *prometheus.CounterVec
	CheckoutAttemptsTotal *prometheus.CounterVec
	SweepRecordsTotal     *prometheus.CounterVec
	SweepDuration         prometheus.Histogram
	ReceiptsPrunedTotal   prometheus.Counter
	CircuitState          *prometheus.GaugeVec
	OutboundTotal         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_total",
				Help:      "Provider notifications by outcome",
			},
			[]string{"provider", "status"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Persisted subscription status changes",
			},
			[]string{"from", "to", "event"},
		),
		CheckoutAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkout_attempts_total",
				Help:      "Checkout session attempts by gateway and result",
			},
			[]string{"provider", "result"},
		),
		SweepRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_records_total",
				Help:      "Records handled by the reconciliation sweep",
			},
			[]string{"outcome"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Reconciliation sweep duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		ReceiptsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "receipts_pruned_total",
				Help:      "Webhook receipts removed after the retention window",
			},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_circuit_state",
				Help:      "Gateway circuit breaker state: 0 closed, 1 open, 2 half-open",
			},
			[]string{"provider"},
		),
		OutboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_webhooks_total",
				Help:      "Subscription events posted to organization endpoints by outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	reg.MustRegister(
		m.WebhooksTotal,
		m.TransitionsTotal,
		m.CheckoutAttemptsTotal,
		m.SweepRecordsTotal,
		m.SweepDuration,
		m.ReceiptsPrunedTotal,
		m.CircuitState,
		m.OutboundTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WebhookProcessed counts notifications by provider and status. Failures are
// labelled with the error class.
func (m *Metrics) WebhookProcessed() webhook.ProcessedHook {
	return func(res webhook.Result, err error) {
		status := string(res.Status)
		if err != nil {
			status = errorClass(err)
		}
		m.WebhooksTotal.WithLabelValues(string(res.Provider), status).Inc()
	}
}

func (m *Metrics) Transition() subscription.TransitionObserver {
	return func(_ context.Context, sub *subscription.Subscription, from subscription.Status, ev subscription.Event) {
		m.TransitionsTotal.WithLabelValues(from.String(), sub.Status.String(), string(ev.Kind)).Inc()
	}
}

func (m *Metrics) CheckoutAttempt() checkout.AttemptHook {
	return func(provider subscription.Provider, err error) {
		result := "success"
		switch {
		case gateway.IsUnavailable(err):
			result = "unavailable"
		case err != nil:
			result = "rejected"
		}
		m.CheckoutAttemptsTotal.WithLabelValues(string(provider), result).Inc()
	}
}

func (m *Metrics) Sweep() reconcile.SweepHook {
	return func(r reconcile.Report) {
		m.SweepRecordsTotal.WithLabelValues("expired").Add(float64(r.Expired))
		m.SweepRecordsTotal.WithLabelValues("reconciled").Add(float64(r.Reconciled))
		m.SweepRecordsTotal.WithLabelValues("in_sync").Add(float64(r.InSync))
		m.SweepRecordsTotal.WithLabelValues("failed").Add(float64(r.Failed))
		m.SweepRecordsTotal.WithLabelValues("panicked").Add(float64(r.Panics))
		m.SweepDuration.Observe(r.Duration.Seconds())
		m.ReceiptsPrunedTotal.Add(float64(r.Pruned))
	}
}

// CircuitStateHook returns a breaker hook that publishes the state of provider's breaker.
func (m *Metrics) CircuitStateHook(provider subscription.Provider) func(from, to gateway.CircuitState) {
	g := m.CircuitState.WithLabelValues(string(provider))
	g.Set(float64(gateway.CircuitClosed))
	return func(_, to gateway.CircuitState) {
		g.Set(float64(to))
	}
}

func (m *Metrics) OutboundDelivery() outbound.DeliveryHook {
	return func(r outbound.DeliveryResult) {
		m.OutboundTotal.WithLabelValues(r.Payload.Type, string(r.Outcome)).Inc()
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, webhook.ErrSignatureInvalid):
		return "invalid_signature"
	case errors.Is(err, webhook.ErrPayloadMalformed):
		return "malformed"
	case errors.Is(err, webhook.ErrUnknownOrganization):
		return "unknown_organization"
	case errors.Is(err, webhook.ErrUnknownProvider):
		return "unknown_provider"
	}
	return "error"
}
