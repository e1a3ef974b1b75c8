package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

type PaddleTransactionParams struct {
	PriceID     string
	CustomData  map[string]any
	CheckoutURL string
}

type PaddleTransaction struct {
	ID             string
	Status         string
	CustomerID     string
	SubscriptionID string
	CheckoutURL    string
	PriceID        string
	CustomData     map[string]any
	BillingPeriod  *subscription.Window
	BilledAt       time.Time
}

type PaddleSubscription struct {
	ID              string
	Status          string
	CustomerID      string
	PriceID         string
	CurrentPeriod   *subscription.Window
	CanceledAt      time.Time
	UpdatedAt       time.Time
	ScheduledCancel bool
	CustomData      map[string]any
}

// PaddleAPI is the part of the Paddle Billing API the gateway uses. The default
// implementation is backed by paddle-go-sdk.
type PaddleAPI interface {
	CreateTransaction(ctx context.Context, params PaddleTransactionParams) (*PaddleTransaction, error)
	GetTransaction(ctx context.Context, id string) (*PaddleTransaction, error)
	GetSubscription(ctx context.Context, id string) (*PaddleSubscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error
}

// PaddleGateway is the secondary gateway. Paddle has no idempotency keys, so
// mutating calls are recorded in an IdempotencyStore.
type PaddleGateway struct {
	api            PaddleAPI
	verifier       signatureVerifier
	prices         PriceMap
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	timeout        time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

var _ Adapter = (*PaddleGateway)(nil)

type PaddleOption func(*PaddleGateway)

// WithPaddleAPI replaces the paddle-go-sdk backed client.
func WithPaddleAPI(api PaddleAPI) PaddleOption {
	return func(g *PaddleGateway) {
		g.api = api
	}
}

// WithIdempotencyStore sets where call results are recorded. Defaults to memory.
func WithIdempotencyStore(s IdempotencyStore) PaddleOption {
	return func(g *PaddleGateway) {
		if s != nil {
			g.idempotency = s
		}
	}
}

func WithPaddleLogger(l *slog.Logger) PaddleOption {
	return func(g *PaddleGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithPaddleClock(now func() time.Time) PaddleOption {
	return func(g *PaddleGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewPaddleGateway creates the Paddle adapter. Returns ErrMissingCredentials when
// no API key is configured and no API was injected.
func NewPaddleGateway(cfg PaddleConfig, opts ...PaddleOption) (*PaddleGateway, error) {
	g := &PaddleGateway{
		verifier:       newPaddleVerifier(cfg.WebhookSecret),
		prices:         cfg.Prices(),
		idempotencyTTL: cfg.IdempotencyTTL,
		timeout:        cfg.Timeout,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.api == nil {
		if !cfg.Enabled() {
			return nil, ErrMissingCredentials
		}
		api, err := newPaddleSDK(cfg)
		if err != nil {
			return nil, errors.Join(ErrMissingCredentials, err)
		}
		g.api = api
	}
	if g.idempotency == nil {
		g.idempotency = NewMemoryIdempotencyStore()
	}
	if g.idempotencyTTL <= 0 {
		g.idempotencyTTL = time.Hour
	}

	g.logger = g.logger.With(logger.Component("gateway"), logger.Provider(subscription.ProviderPaddle))
	return g, nil
}

func (g *PaddleGateway) Provider() subscription.Provider {
	return subscription.ProviderPaddle
}

func (g *PaddleGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	price, err := g.prices.Price(req.Plan)
	if err != nil {
		return nil, classify("paddle: create checkout session", err)
	}

	key := IdempotencyKey(req.OrganizationID, OpCheckout, req.Plan)
	if sess, err := g.reserveCheckout(ctx, key); sess != nil || err != nil {
		return sess, err
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	custom := map[string]any{
		MetadataOrganizationID: req.OrganizationID.String(),
		MetadataPlan:           string(req.Plan),
	}
	if req.Email != "" {
		custom["email"] = req.Email
	}

	tx, err := g.api.CreateTransaction(callCtx, PaddleTransactionParams{
		PriceID:     price,
		CustomData:  custom,
		CheckoutURL: req.SuccessURL,
	})
	if err == nil && tx.CheckoutURL == "" {
		err = errors.New("no checkout URL returned")
	}
	if err != nil {
		if derr := g.idempotency.Delete(context.WithoutCancel(ctx), key); derr != nil {
			g.logger.WarnContext(ctx, "idempotency release failed", logger.Error(derr))
		}
		return nil, classify("paddle: create checkout session", err)
	}

	sess := &Session{
		Provider:  subscription.ProviderPaddle,
		ID:        tx.ID,
		URL:       tx.CheckoutURL,
		ExpiresAt: g.now().Add(g.idempotencyTTL).UTC(),
	}
	if raw, err := json.Marshal(sess); err == nil {
		if err := g.idempotency.Set(ctx, key, raw, g.idempotencyTTL); err != nil {
			g.logger.WarnContext(ctx, "idempotency record failed", logger.Error(err))
		}
	}
	return sess, nil
}

// pendingCheckout marks a checkout key whose remote call is still in flight.
var pendingCheckout = []byte("pending")

// reserveCheckout claims key for this attempt. It returns (nil, nil) when the
// caller owns the key and must create the transaction. When another attempt
// holds the key it waits for that attempt's session. An unreachable store
// degrades to an unguarded call.
func (g *PaddleGateway) reserveCheckout(ctx context.Context, key string) (*Session, error) {
	waitCtx, cancel := withTimeout(ctx, g.pendingTTL())
	defer cancel()

	ticker := time.NewTicker(pendingPollInterval)
	defer ticker.Stop()

	for {
		reserved, err := g.idempotency.Put(waitCtx, key, pendingCheckout, g.pendingTTL())
		if err != nil {
			g.logger.WarnContext(ctx, "idempotency reservation failed", logger.Error(err))
			return nil, nil
		}
		if reserved {
			return nil, nil
		}

		raw, ok, err := g.idempotency.Get(waitCtx, key)
		if err != nil {
			g.logger.WarnContext(ctx, "idempotency lookup failed", logger.Error(err))
			return nil, nil
		}
		if ok && !bytes.Equal(raw, pendingCheckout) {
			var sess Session
			if err := json.Unmarshal(raw, &sess); err == nil {
				return &sess, nil
			}
			// Unreadable record: take it over.
			if err := g.idempotency.Set(ctx, key, pendingCheckout, g.pendingTTL()); err != nil {
				g.logger.WarnContext(ctx, "idempotency reservation failed", logger.Error(err))
			}
			return nil, nil
		}

		// Pending elsewhere, or released by a failed attempt since Put.
		select {
		case <-waitCtx.Done():
			return nil, classify("paddle: create checkout session", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

const pendingPollInterval = 50 * time.Millisecond

// pendingTTL bounds how long a crashed attempt can hold a checkout key.
func (g *PaddleGateway) pendingTTL() time.Duration {
	if g.timeout > 0 {
		return 2 * g.timeout
	}
	return time.Minute
}

func (g *PaddleGateway) CaptureOrder(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	tx, err := g.api.GetTransaction(ctx, req.OrderID)
	if err != nil {
		return nil, classify("paddle: capture order", err)
	}
	if customString(tx.CustomData, MetadataOrganizationID) != req.OrganizationID.String() {
		return nil, classify("paddle: capture order", ErrOrderMismatch)
	}
	if tx.Status != "paid" && tx.Status != "completed" {
		return nil, classify("paddle: capture order", ErrOrderNotPaid)
	}

	plan := req.Plan
	if p, ok := g.prices.Plan(tx.PriceID); ok {
		plan = p
	}

	capturedAt := tx.BilledAt
	if capturedAt.IsZero() {
		capturedAt = g.now().UTC()
	}

	return &CaptureResult{
		Refs: subscription.ProviderRefs{
			Provider:       subscription.ProviderPaddle,
			CustomerID:     tx.CustomerID,
			SubscriptionID: tx.SubscriptionID,
			LastOrderID:    tx.ID,
		},
		Plan:       plan,
		Period:     tx.BillingPeriod,
		CapturedAt: capturedAt,
	}, nil
}

func (g *PaddleGateway) CancelRemote(ctx context.Context, req CancelRequest) error {
	if req.SubscriptionID == "" {
		return classify("paddle: cancel subscription", errors.Join(ErrGatewayRejected, errors.New("no remote subscription")))
	}

	op := OpCancel
	if req.AtPeriodEnd {
		op += ":period_end"
	}
	key := IdempotencyKey(req.OrganizationID, op, req.Plan)
	if _, done, err := g.idempotency.Get(ctx, key); err == nil && done {
		return nil
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.api.CancelSubscription(callCtx, req.SubscriptionID, req.AtPeriodEnd); err != nil {
		return classify("paddle: cancel subscription", err)
	}

	if _, err := g.idempotency.Put(ctx, key, []byte(req.SubscriptionID), g.idempotencyTTL); err != nil {
		g.logger.WarnContext(ctx, "idempotency record failed", logger.Error(err))
	}
	return nil
}

func (g *PaddleGateway) FetchRemoteStatus(ctx context.Context, ref string) (*RemoteSnapshot, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	sub, err := g.api.GetSubscription(ctx, ref)
	if err != nil {
		return nil, classify("paddle: fetch subscription", err)
	}

	snap := &RemoteSnapshot{
		Provider:          subscription.ProviderPaddle,
		SubscriptionID:    sub.ID,
		CustomerID:        sub.CustomerID,
		Status:            paddleStatus(sub.Status),
		Period:            sub.CurrentPeriod,
		CancelAtPeriodEnd: sub.ScheduledCancel,
		Sequence:          latest(sub.UpdatedAt, sub.CanceledAt),
	}
	if p, ok := g.prices.Plan(sub.PriceID); ok {
		snap.Plan = p
	}
	return snap, nil
}

func paddleStatus(status string) subscription.Status {
	switch status {
	case "active", "trialing":
		return subscription.StatusActive
	case "past_due":
		return subscription.StatusPastDue
	case "canceled":
		return subscription.StatusCancelled
	}
	return subscription.StatusNone
}

func customString(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}
