package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Metadata keys attached to checkout sessions and subscriptions.
const (
	MetadataOrganizationID = "organization_id"
	MetadataPlan           = "plan"
)

// StripeCheckoutParams is a subscription-mode checkout session request.
type StripeCheckoutParams struct {
	PriceID           string
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

type StripeCheckoutSession struct {
	ID             string
	URL            string
	PaymentStatus  string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
	ExpiresAt      time.Time
}

type StripeSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CanceledAt         time.Time
	EndedAt            time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

// StripeAPI is the part of the Stripe API the gateway uses. The default
// implementation is backed by stripe-go; errors carrying an HTTP status are
// returned as *APIError.
type StripeAPI interface {
	CreateCheckoutSession(ctx context.Context, params StripeCheckoutParams) (*StripeCheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*StripeCheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*StripeSubscription, error)
	CancelSubscription(ctx context.Context, id, idempotencyKey string) error
	CancelSubscriptionAtPeriodEnd(ctx context.Context, id, idempotencyKey string) error
}

// StripeGateway is the primary gateway.
type StripeGateway struct {
	api           StripeAPI
	prices        PriceMap
	webhookSecret string
	timeout       time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

var _ Adapter = (*StripeGateway)(nil)

// StripeOption configures a StripeGateway.
type StripeOption func(*StripeGateway)

// WithStripeAPI replaces the stripe-go backed client.
func WithStripeAPI(api StripeAPI) StripeOption {
	return func(g *StripeGateway) {
		g.api = api
	}
}

func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(g *StripeGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithStripeClock(now func() time.Time) StripeOption {
	return func(g *StripeGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewStripeGateway creates the Stripe adapter. Returns ErrMissingCredentials when
// no secret key is configured and no API was injected.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) (*StripeGateway, error) {
	g := &StripeGateway{
		prices:        cfg.Prices(),
		webhookSecret: cfg.WebhookSecret,
		timeout:       cfg.Timeout,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.api == nil {
		if !cfg.Enabled() {
			return nil, ErrMissingCredentials
		}
		g.api = newStripeSDK(cfg.SecretKey)
	}

	g.logger = g.logger.With(logger.Component("gateway"), logger.Provider(subscription.ProviderStripe))
	return g, nil
}

func (g *StripeGateway) Provider() subscription.Provider {
	return subscription.ProviderStripe
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	price, err := g.prices.Price(req.Plan)
	if err != nil {
		return nil, classify("stripe: create checkout session", err)
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	metadata := map[string]string{
		MetadataOrganizationID: req.OrganizationID.String(),
		MetadataPlan:           string(req.Plan),
	}
	sess, err := g.api.CreateCheckoutSession(ctx, StripeCheckoutParams{
		PriceID:           price,
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		CustomerEmail:     req.Email,
		ClientReferenceID: req.OrganizationID.String(),
		Metadata:          metadata,
		IdempotencyKey:    IdempotencyKey(req.OrganizationID, OpCheckout, req.Plan),
	})
	if err != nil {
		return nil, classify("stripe: create checkout session", err)
	}
	if sess.URL == "" {
		return nil, classify("stripe: create checkout session", errors.New("no checkout URL returned"))
	}

	return &Session{
		Provider:  subscription.ProviderStripe,
		ID:        sess.ID,
		URL:       sess.URL,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (g *StripeGateway) CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	sess, err := g.api.GetCheckoutSession(ctx, req.OrderID)
	if err != nil {
		return nil, classify("stripe: capture order", err)
	}
	if sess.Metadata[MetadataOrganizationID] != req.OrganizationID.String() {
		return nil, classify("stripe: capture order", ErrOrderMismatch)
	}
	if sess.PaymentStatus != "paid" && sess.PaymentStatus != "no_payment_required" {
		return nil, classify("stripe: capture order", ErrOrderNotPaid)
	}

	plan := req.Plan
	if p, err := subscription.ParsePlan(sess.Metadata[MetadataPlan]); err == nil {
		plan = p
	}

	res := &CaptureResult{
		Refs: subscription.ProviderRefs{
			Provider:       subscription.ProviderStripe,
			CustomerID:     sess.CustomerID,
			SubscriptionID: sess.SubscriptionID,
			LastOrderID:    sess.ID,
		},
		Plan:       plan,
		CapturedAt: g.now().UTC(),
	}

	if sess.SubscriptionID != "" {
		sub, err := g.api.GetSubscription(ctx, sess.SubscriptionID)
		if err != nil {
			// The payment is confirmed; the period arrives with the next webhook.
			g.logger.WarnContext(ctx, "failed to load subscription period after capture",
				logger.OrganizationID(req.OrganizationID),
				logger.Error(err),
			)
			return res, nil
		}
		res.Period = stripePeriod(sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if p, ok := g.prices.Plan(sub.PriceID); ok {
			res.Plan = p
		}
	}
	return res, nil
}

func (g *StripeGateway) CancelRemote(ctx context.Context, req CancelRequest) error {
	if req.SubscriptionID == "" {
		return classify("stripe: cancel subscription", errors.Join(ErrGatewayRejected, errors.New("no remote subscription")))
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	var err error
	if req.AtPeriodEnd {
		err = g.api.CancelSubscriptionAtPeriodEnd(ctx, req.SubscriptionID, IdempotencyKey(req.OrganizationID, OpCancel+":period_end", req.Plan))
	} else {
		err = g.api.CancelSubscription(ctx, req.SubscriptionID, IdempotencyKey(req.OrganizationID, OpCancel, req.Plan))
	}
	return classify("stripe: cancel subscription", err)
}

func (g *StripeGateway) FetchRemoteStatus(ctx context.Context, ref string) (*RemoteSnapshot, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	sub, err := g.api.GetSubscription(ctx, ref)
	if err != nil {
		return nil, classify("stripe: fetch subscription", err)
	}

	snap := &RemoteSnapshot{
		Provider:          subscription.ProviderStripe,
		SubscriptionID:    sub.ID,
		CustomerID:        sub.CustomerID,
		Status:            stripeStatus(sub.Status),
		Period:            stripePeriod(sub.CurrentPeriodStart, sub.CurrentPeriodEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Sequence:          latest(sub.CurrentPeriodStart, sub.CanceledAt, sub.EndedAt),
	}
	if p, ok := g.prices.Plan(sub.PriceID); ok {
		snap.Plan = p
	}
	return snap, nil
}

// stripeStatus maps a Stripe subscription status to a local status. Remote trials
// are paid plans, so they count as ACTIVE. Returns StatusNone for statuses with
// no local meaning.
func stripeStatus(status string) subscription.Status {
	switch status {
	case "active", "trialing":
		return subscription.StatusActive
	case "past_due", "unpaid":
		return subscription.StatusPastDue
	case "canceled", "incomplete_expired":
		return subscription.StatusCancelled
	}
	return subscription.StatusNone
}

func stripePeriod(start, end time.Time) *subscription.Window {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	return &subscription.Window{Start: start.UTC(), End: end.UTC()}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func latest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.After(out) {
			out = t
		}
	}
	return out
}
