package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Result is the outcome of CreateCheckout.
type Result struct {
	// Gateway is the provider that produced RedirectURL. Empty when NoOp.
	Gateway     subscription.Provider
	RedirectURL string
	SessionID   string
	// NoOp is set when the organization is already on the requested plan.
	NoOp bool
}

// Orchestrator starts checkouts and applies the local side of plan changes.
type Orchestrator struct {
	subs      subscription.Service
	primary   gateway.Gateway
	secondary gateway.Gateway
	timeout   time.Duration
	logger    *slog.Logger
	onAttempt AttemptHook
}

// New creates an Orchestrator. Panics if subs or primary is nil.
func New(subs subscription.Service, primary gateway.Gateway, opts ...Option) *Orchestrator {
	if subs == nil {
		panic("checkout: subscription.Service is required")
	}
	if primary == nil {
		panic("checkout: primary gateway is required")
	}

	o := &Orchestrator{
		subs:    subs,
		primary: primary,
		timeout: 20 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With(logger.Component("checkout"))
	return o
}

// CreateCheckout starts a hosted checkout for planKey on the primary gateway and
// falls back to the secondary once if the primary fails.
//
// Returns subscription.ErrUnknownPlan, ErrReactivationRequired,
// ErrDowngradeRequiresLocalChange, or ErrCheckoutFailed joined with every
// gateway error. Requesting the current plan is a NoOp, not an error.
func (o *Orchestrator) CreateCheckout(ctx context.Context, orgID uuid.UUID, planKey, successURL, cancelURL string) (*Result, error) {
	catalog := o.subs.Catalog()
	def, err := catalog.Lookup(planKey)
	if err != nil {
		return nil, err
	}

	sub, err := o.subs.GetSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}

	switch {
	case sub.IsCancelled():
		return nil, ErrReactivationRequired
	case sub.Plan == def.Plan:
		return &Result{NoOp: true}, nil
	case catalog.IsDowngrade(sub.Plan, def.Plan):
		return nil, ErrDowngradeRequiresLocalChange
	}

	req := gateway.CheckoutRequest{
		OrganizationID: orgID,
		Plan:           def.Plan,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
	}
	if org, err := o.subs.Organization(ctx, orgID); err == nil {
		req.Email = org.OwnerEmail
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var errs []error
	for _, g := range o.gateways() {
		sess, err := g.CreateCheckoutSession(ctx, req)
		if o.onAttempt != nil {
			o.onAttempt(g.Provider(), err)
		}
		if err == nil {
			o.logger.InfoContext(ctx, "checkout session created",
				logger.OrganizationID(orgID),
				logger.Provider(g.Provider()),
				logger.Plan(def.Plan),
			)
			return &Result{Gateway: g.Provider(), RedirectURL: sess.URL, SessionID: sess.ID}, nil
		}

		o.logger.WarnContext(ctx, "checkout gateway failed",
			logger.OrganizationID(orgID),
			logger.Provider(g.Provider()),
			logger.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", g.Provider(), err))
	}

	return nil, errors.Join(append([]error{ErrCheckoutFailed}, errs...)...)
}

// CompleteCheckout confirms a returning checkout with the gateway that served it
// and activates the plan without waiting for the provider notification.
func (o *Orchestrator) CompleteCheckout(ctx context.Context, orgID uuid.UUID, provider subscription.Provider, orderID string) (*subscription.Subscription, error) {
	g, err := o.gateway(provider)
	if err != nil {
		return nil, err
	}

	res, err := g.CaptureOrder(ctx, gateway.CaptureRequest{OrganizationID: orgID, OrderID: orderID})
	if err != nil {
		return nil, err
	}

	applied, err := o.subs.ApplyEvent(ctx, orgID, subscription.Event{
		ID:     fmt.Sprintf("capture:%s:%s", provider, orderID),
		Kind:   subscription.EventPaymentCaptured,
		Plan:   res.Plan,
		Period: res.Period,
		Refs:   res.Refs,
	}, nil)
	if err != nil {
		return nil, err
	}
	return applied.Subscription, nil
}

// Downgrade moves the organization to a lower plan locally. Moving to FREE with a
// linked remote subscription also cancels it at the end of the paid period.
//
// A move between paid plans leaves the remote price untouched, so the next paid
// invoice or drift snapshot restores the remote plan. Callers that need the
// provider to bill the lower price start a new checkout for it.
func (o *Orchestrator) Downgrade(ctx context.Context, orgID uuid.UUID, planKey string) (*subscription.Subscription, error) {
	catalog := o.subs.Catalog()
	def, err := catalog.Lookup(planKey)
	if err != nil {
		return nil, err
	}

	sub, err := o.subs.GetSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !catalog.IsDowngrade(sub.Plan, def.Plan) {
		return nil, ErrNotDowngrade
	}

	cancelRemote := def.Plan == subscription.PlanFree && sub.HasRemote() && !sub.CancelAtPeriodEnd
	if cancelRemote {
		if err := o.cancelRemote(ctx, sub, true); err != nil {
			return nil, err
		}
	}

	applied, err := o.subs.ApplyEvent(ctx, orgID, subscription.Event{
		Kind: subscription.EventPlanSelected,
		Plan: def.Plan,
	}, nil)
	if err != nil {
		return nil, err
	}

	if cancelRemote {
		applied, err = o.subs.ApplyEvent(ctx, orgID, subscription.Event{
			Kind:        subscription.EventCancelRequested,
			AtPeriodEnd: true,
		}, nil)
		if err != nil {
			return nil, err
		}
	}
	return applied.Subscription, nil
}

// Cancel cancels the subscription at the end of the period or immediately. The
// remote subscription, when linked, is cancelled first.
func (o *Orchestrator) Cancel(ctx context.Context, orgID uuid.UUID, atPeriodEnd bool) (*subscription.Subscription, error) {
	sub, err := o.subs.GetSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub.IsCancelled() {
		return sub, nil
	}

	if sub.HasRemote() {
		if err := o.cancelRemote(ctx, sub, atPeriodEnd); err != nil {
			return nil, err
		}
	}

	applied, err := o.subs.ApplyEvent(ctx, orgID, subscription.Event{
		Kind:        subscription.EventCancelRequested,
		AtPeriodEnd: atPeriodEnd,
	}, nil)
	if err != nil {
		return nil, err
	}
	return applied.Subscription, nil
}

// Reactivate leaves CANCELLED, or withdraws a scheduled cancellation. planKey is
// optional; when empty the current plan is kept.
func (o *Orchestrator) Reactivate(ctx context.Context, orgID uuid.UUID, planKey string) (*subscription.Subscription, error) {
	var plan subscription.Plan
	if planKey != "" {
		def, err := o.subs.Catalog().Lookup(planKey)
		if err != nil {
			return nil, err
		}
		plan = def.Plan
	}

	applied, err := o.subs.ApplyEvent(ctx, orgID, subscription.Event{
		Kind: subscription.EventReactivated,
		Plan: plan,
	}, nil)
	if err != nil {
		return nil, err
	}
	return applied.Subscription, nil
}

// Subscription returns the organization's current record.
func (o *Orchestrator) Subscription(ctx context.Context, orgID uuid.UUID) (*subscription.Subscription, error) {
	return o.subs.GetSubscription(ctx, orgID)
}

func (o *Orchestrator) cancelRemote(ctx context.Context, sub *subscription.Subscription, atPeriodEnd bool) error {
	g, err := o.gateway(sub.Refs.Provider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err = g.CancelRemote(ctx, gateway.CancelRequest{
		OrganizationID: sub.OrganizationID,
		Plan:           sub.Plan,
		SubscriptionID: sub.Refs.SubscriptionID,
		AtPeriodEnd:    atPeriodEnd,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "remote cancellation failed",
			logger.OrganizationID(sub.OrganizationID),
			logger.Provider(sub.Refs.Provider),
			logger.Error(err),
		)
	}
	return err
}

func (o *Orchestrator) gateways() []gateway.Gateway {
	if o.secondary == nil {
		return []gateway.Gateway{o.primary}
	}
	return []gateway.Gateway{o.primary, o.secondary}
}

func (o *Orchestrator) gateway(provider subscription.Provider) (gateway.Gateway, error) {
	for _, g := range o.gateways() {
		if g.Provider() == provider {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrGatewayNotAvailable, provider)
}
