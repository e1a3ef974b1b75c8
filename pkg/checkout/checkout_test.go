package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/checkout"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeGateway records calls and returns configured results.
type fakeGateway struct {
	provider subscription.Provider

	mu          sync.Mutex
	checkoutErr error
	block       bool
	checkouts   []gateway.CheckoutRequest
	captureErr  error
	capturePlan subscription.Plan
	cancelErr   error
	cancels     []gateway.CancelRequest
}

func newFakeGateway(p subscription.Provider) *fakeGateway {
	return &fakeGateway{provider: p, capturePlan: subscription.PlanPro}
}

func (g *fakeGateway) Provider() subscription.Provider { return g.provider }

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Session, error) {
	g.mu.Lock()
	g.checkouts = append(g.checkouts, req)
	err, block := g.checkoutErr, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, errors.Join(gateway.ErrGatewayUnavailable, ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return &gateway.Session{
		Provider: g.provider,
		ID:       "cs_" + string(g.provider),
		URL:      "https://pay.example.com/" + string(g.provider) + "/" + string(req.Plan),
	}, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, req gateway.CaptureRequest) (*gateway.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &gateway.CaptureResult{
		Refs: subscription.ProviderRefs{
			Provider:       g.provider,
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			LastOrderID:    req.OrderID,
		},
		Plan:       g.capturePlan,
		Period:     &subscription.Window{Start: t0, End: t0.AddDate(0, 1, 0)},
		CapturedAt: t0,
	}, nil
}

func (g *fakeGateway) CancelRemote(_ context.Context, req gateway.CancelRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, req)
	return g.cancelErr
}

func (g *fakeGateway) FetchRemoteStatus(context.Context, string) (*gateway.RemoteSnapshot, error) {
	return nil, gateway.ErrGatewayRejected
}

func (g *fakeGateway) checkoutCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.checkouts)
}

func (g *fakeGateway) cancelCalls() []gateway.CancelRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.CancelRequest(nil), g.cancels...)
}

type fixture struct {
	subs      subscription.Service
	primary   *fakeGateway
	secondary *fakeGateway
	orch      *checkout.Orchestrator
	orgID     uuid.UUID
}

func newFixture(t *testing.T, opts ...checkout.Option) *fixture {
	t.Helper()
	orgID := uuid.New()
	orgs := subscription.OrganizationsFunc(func(_ context.Context, id uuid.UUID) (*subscription.Organization, error) {
		if id != orgID {
			return nil, subscription.ErrOrganizationNotFound
		}
		return &subscription.Organization{ID: id, Name: "Acme", OwnerEmail: "owner@acme.test"}, nil
	})

	subs := subscription.NewService(subscription.NewMemoryStore(), orgs, subscription.MustCatalog(subscription.DefaultPlans()),
		subscription.WithClock(func() time.Time { return t0 }),
	)
	primary := newFakeGateway(subscription.ProviderStripe)
	secondary := newFakeGateway(subscription.ProviderPaddle)

	opts = append([]checkout.Option{checkout.WithSecondary(secondary)}, opts...)
	return &fixture{
		subs:      subs,
		primary:   primary,
		secondary: secondary,
		orch:      checkout.New(subs, primary, opts...),
		orgID:     orgID,
	}
}

// activate captures a paid checkout on the primary gateway for plan.
func (f *fixture) activate(t *testing.T, plan subscription.Plan) *subscription.Subscription {
	t.Helper()
	f.primary.mu.Lock()
	f.primary.capturePlan = plan
	f.primary.mu.Unlock()

	sub, err := f.orch.CompleteCheckout(context.Background(), f.orgID, subscription.ProviderStripe, "order_"+string(plan))
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, sub.Status)
	return sub
}

func TestNew_PanicsWithoutDependencies(t *testing.T) {
	t.Parallel()

	subs := subscription.NewService(subscription.NewMemoryStore(),
		subscription.OrganizationsFunc(func(context.Context, uuid.UUID) (*subscription.Organization, error) {
			return nil, subscription.ErrOrganizationNotFound
		}),
		subscription.MustCatalog(subscription.DefaultPlans()),
	)

	assert.Panics(t, func() { checkout.New(nil, newFakeGateway(subscription.ProviderStripe)) })
	assert.Panics(t, func() { checkout.New(subs, nil) })
}

func TestOrchestrator_CreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("primary gateway serves the checkout", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		res, err := f.orch.CreateCheckout(context.Background(), f.orgID, "pro", "https://app.test/ok", "https://app.test/cancel")
		require.NoError(t, err)
		assert.Equal(t, subscription.ProviderStripe, res.Gateway)
		assert.Equal(t, "https://pay.example.com/stripe/PRO", res.RedirectURL)
		assert.False(t, res.NoOp)
		assert.Zero(t, f.secondary.checkoutCalls())

		require.Len(t, f.primary.checkouts, 1)
		req := f.primary.checkouts[0]
		assert.Equal(t, f.orgID, req.OrganizationID)
		assert.Equal(t, subscription.PlanPro, req.Plan)
		assert.Equal(t, "owner@acme.test", req.Email)
		assert.Equal(t, "https://app.test/ok", req.SuccessURL)
	})

	t.Run("falls back to the secondary once", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var attempts []subscription.Provider
		f := newFixture(t, checkout.WithAttemptHook(func(p subscription.Provider, _ error) {
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, p)
		}))
		f.primary.checkoutErr = gateway.ErrGatewayUnavailable

		res, err := f.orch.CreateCheckout(context.Background(), f.orgID, "ENTERPRISE", "https://app.test/ok", "https://app.test/cancel")
		require.NoError(t, err)
		assert.Equal(t, subscription.ProviderPaddle, res.Gateway)
		assert.Equal(t, "https://pay.example.com/paddle/ENTERPRISE", res.RedirectURL)
		assert.Equal(t, 1, f.primary.checkoutCalls())
		assert.Equal(t, 1, f.secondary.checkoutCalls())
		assert.Equal(t, []subscription.Provider{subscription.ProviderStripe, subscription.ProviderPaddle}, attempts)
	})

	t.Run("both gateways failing joins their errors", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.primary.checkoutErr = gateway.ErrGatewayUnavailable
		f.secondary.checkoutErr = gateway.ErrGatewayRejected

		res, err := f.orch.CreateCheckout(context.Background(), f.orgID, "pro", "https://app.test/ok", "https://app.test/cancel")
		require.Error(t, err)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, checkout.ErrCheckoutFailed)
		assert.True(t, gateway.IsUnavailable(err))
		assert.True(t, gateway.IsRejected(err))
		assert.Contains(t, err.Error(), "stripe")
		assert.Contains(t, err.Error(), "paddle")
	})

	t.Run("without a secondary the primary is tried once", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		orch := checkout.New(f.subs, f.primary)
		f.primary.checkoutErr = gateway.ErrGatewayUnavailable

		_, err := orch.CreateCheckout(context.Background(), f.orgID, "pro", "https://app.test/ok", "https://app.test/cancel")
		require.ErrorIs(t, err, checkout.ErrCheckoutFailed)
		assert.Equal(t, 1, f.primary.checkoutCalls())
	})

	t.Run("timeout covers the fallback", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, checkout.WithTimeout(30*time.Millisecond))
		f.primary.block = true
		f.secondary.block = true

		start := time.Now()
		_, err := f.orch.CreateCheckout(context.Background(), f.orgID, "pro", "https://app.test/ok", "https://app.test/cancel")
		require.ErrorIs(t, err, checkout.ErrCheckoutFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("current plan is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		res, err := f.orch.CreateCheckout(context.Background(), f.orgID, "free", "https://app.test/ok", "https://app.test/cancel")
		require.NoError(t, err)
		assert.True(t, res.NoOp)
		assert.Empty(t, res.RedirectURL)
		assert.Zero(t, f.primary.checkoutCalls())
	})

	t.Run("lower plan requires a local downgrade", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanEnterprise)

		_, err := f.orch.CreateCheckout(context.Background(), f.orgID, "pro", "https://app.test/ok", "https://app.test/cancel")
		require.ErrorIs(t, err, checkout.ErrDowngradeRequiresLocalChange)
		assert.Zero(t, f.primary.checkoutCalls())
	})

	t.Run("cancelled subscription requires reactivation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.orch.Cancel(context.Background(), f.orgID, false)
		require.NoError(t, err)

		_, err = f.orch.CreateCheckout(context.Background(), f.orgID, "pro", "https://app.test/ok", "https://app.test/cancel")
		require.ErrorIs(t, err, checkout.ErrReactivationRequired)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.orch.CreateCheckout(context.Background(), f.orgID, "gold", "https://app.test/ok", "https://app.test/cancel")
		require.ErrorIs(t, err, subscription.ErrUnknownPlan)
	})

	t.Run("unknown organization", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.orch.CreateCheckout(context.Background(), uuid.New(), "pro", "https://app.test/ok", "https://app.test/cancel")
		require.ErrorIs(t, err, subscription.ErrOrganizationNotFound)
	})
}

func TestOrchestrator_CompleteCheckout(t *testing.T) {
	t.Parallel()

	t.Run("activates the captured plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		sub := f.activate(t, subscription.PlanPro)
		assert.Equal(t, subscription.PlanPro, sub.Plan)
		assert.Equal(t, subscription.ProviderStripe, sub.Refs.Provider)
		assert.Equal(t, "sub_1", sub.Refs.SubscriptionID)
		require.NotNil(t, sub.BillingPeriod)
		assert.Equal(t, t0.AddDate(0, 1, 0), sub.BillingPeriod.End)
		assert.True(t, sub.LastEventAt.IsZero(), "local capture must not move the ordering watermark")
	})

	t.Run("completing twice is harmless", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		first := f.activate(t, subscription.PlanPro)

		again, err := f.orch.CompleteCheckout(context.Background(), f.orgID, subscription.ProviderStripe, "order_PRO")
		require.NoError(t, err)
		assert.Equal(t, first.Version, again.Version)
	})

	t.Run("unpaid order leaves the record alone", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.primary.captureErr = gateway.ErrOrderNotPaid

		_, err := f.orch.CompleteCheckout(context.Background(), f.orgID, subscription.ProviderStripe, "order_1")
		require.ErrorIs(t, err, gateway.ErrOrderNotPaid)

		sub, err := f.subs.GetSubscription(context.Background(), f.orgID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusTrial, sub.Status)
	})

	t.Run("provider without a configured gateway", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		orch := checkout.New(f.subs, f.primary)

		_, err := orch.CompleteCheckout(context.Background(), f.orgID, subscription.ProviderPaddle, "txn_1")
		require.ErrorIs(t, err, checkout.ErrGatewayNotAvailable)
	})
}

func TestOrchestrator_Downgrade(t *testing.T) {
	t.Parallel()

	t.Run("to a paid plan stays local", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanEnterprise)

		sub, err := f.orch.Downgrade(context.Background(), f.orgID, "pro")
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanPro, sub.Plan)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.False(t, sub.CancelAtPeriodEnd)
		assert.Empty(t, f.primary.cancelCalls())
		assert.Zero(t, f.primary.checkoutCalls())
	})

	t.Run("to free cancels the remote at period end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)

		sub, err := f.orch.Downgrade(context.Background(), f.orgID, "FREE")
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanFree, sub.Plan)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.True(t, sub.CancelAtPeriodEnd)

		cancels := f.primary.cancelCalls()
		require.Len(t, cancels, 1)
		assert.True(t, cancels[0].AtPeriodEnd)
		assert.Equal(t, "sub_1", cancels[0].SubscriptionID)
	})

	t.Run("remote failure aborts the downgrade", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)
		f.primary.cancelErr = gateway.ErrGatewayUnavailable

		_, err := f.orch.Downgrade(context.Background(), f.orgID, "free")
		require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

		sub, err := f.subs.GetSubscription(context.Background(), f.orgID)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanPro, sub.Plan)
	})

	t.Run("higher or equal plan is not a downgrade", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)

		_, err := f.orch.Downgrade(context.Background(), f.orgID, "enterprise")
		require.ErrorIs(t, err, checkout.ErrNotDowngrade)
		_, err = f.orch.Downgrade(context.Background(), f.orgID, "pro")
		require.ErrorIs(t, err, checkout.ErrNotDowngrade)
	})
}

func TestOrchestrator_CancelAndReactivate(t *testing.T) {
	t.Parallel()

	t.Run("trial cancels locally", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		sub, err := f.orch.Cancel(context.Background(), f.orgID, false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, sub.Status)
		assert.Equal(t, subscription.PlanFree, sub.Plan)
		require.NotNil(t, sub.CancelledAt)
		assert.Empty(t, f.primary.cancelCalls())
	})

	t.Run("immediate cancel reaches the gateway first", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)

		sub, err := f.orch.Cancel(context.Background(), f.orgID, false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, sub.Status)

		cancels := f.primary.cancelCalls()
		require.Len(t, cancels, 1)
		assert.False(t, cancels[0].AtPeriodEnd)
	})

	t.Run("gateway failure keeps the subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)
		f.primary.cancelErr = gateway.ErrGatewayUnavailable

		_, err := f.orch.Cancel(context.Background(), f.orgID, true)
		require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

		sub, err := f.subs.GetSubscription(context.Background(), f.orgID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.False(t, sub.CancelAtPeriodEnd)
	})

	t.Run("cancelling twice is harmless", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)

		_, err := f.orch.Cancel(context.Background(), f.orgID, false)
		require.NoError(t, err)
		sub, err := f.orch.Cancel(context.Background(), f.orgID, false)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, sub.Status)
		assert.Len(t, f.primary.cancelCalls(), 1)
	})

	t.Run("reactivate withdraws a scheduled cancel", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activate(t, subscription.PlanPro)

		sub, err := f.orch.Cancel(context.Background(), f.orgID, true)
		require.NoError(t, err)
		require.True(t, sub.CancelAtPeriodEnd)

		sub, err = f.orch.Reactivate(context.Background(), f.orgID, "")
		require.NoError(t, err)
		assert.False(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, subscription.PlanPro, sub.Plan)
	})

	t.Run("reactivate leaves cancelled with the chosen plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.orch.Cancel(context.Background(), f.orgID, false)
		require.NoError(t, err)

		sub, err := f.orch.Reactivate(context.Background(), f.orgID, "pro")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, subscription.PlanPro, sub.Plan)
		assert.Nil(t, sub.CancelledAt)
	})

	t.Run("reactivate rejects unknown plans", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.orch.Reactivate(context.Background(), f.orgID, "platinum")
		require.ErrorIs(t, err, subscription.ErrUnknownPlan)
	})
}
