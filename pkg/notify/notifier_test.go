package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/email"
	"github.com/dmitrymomot/billing/pkg/notify"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

type recordingSender struct {
	mu    sync.Mutex
	fails int
	calls int
	sent  chan email.SendEmailParams
}

func newRecordingSender(fails int) *recordingSender {
	return &recordingSender{fails: fails, sent: make(chan email.SendEmailParams, 16)}
}

func (s *recordingSender) SendEmail(_ context.Context, p email.SendEmailParams) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.fails
	s.mu.Unlock()
	if fail {
		return errors.Join(email.ErrFailedToSendEmail, errors.New("smtp down"))
	}
	s.sent <- p
	return nil
}

func (s *recordingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newNotifier(org *subscription.Organization, sender email.Sender, opts ...notify.Option) *notify.Notifier {
	orgs := subscription.OrganizationsFunc(func(_ context.Context, id uuid.UUID) (*subscription.Organization, error) {
		if id != org.ID {
			return nil, subscription.ErrOrganizationNotFound
		}
		return org, nil
	})
	return notify.New(orgs, subscription.MustCatalog(subscription.DefaultPlans()), sender, opts...)
}

func start(t *testing.T, n *notify.Notifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx)() }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func receive(t *testing.T, s *recordingSender) email.SendEmailParams {
	t.Helper()
	select {
	case p := <-s.sent:
		return p
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no email delivered")
	}
	return email.SendEmailParams{}
}

func TestNotifier(t *testing.T) {
	t.Parallel()

	org := &subscription.Organization{ID: uuid.New(), Name: "<Acme>", OwnerEmail: "owner@acme.test"}

	t.Run("payment failure emails the owner", func(t *testing.T) {
		t.Parallel()
		sender := newRecordingSender(0)
		n := newNotifier(org, sender, notify.WithSupportEmail("support@billing.test"))
		start(t, n)

		n.Observer()(context.Background(),
			&subscription.Subscription{OrganizationID: org.ID, Plan: subscription.PlanPro, Status: subscription.StatusPastDue},
			subscription.StatusActive, subscription.Event{Kind: subscription.EventPaymentFailed})

		p := receive(t, sender)
		assert.Equal(t, "owner@acme.test", p.SendTo)
		assert.Equal(t, "payment_failed", p.Tag)
		assert.Contains(t, p.BodyHTML, "Hello &lt;Acme&gt;,")
		assert.Contains(t, p.BodyHTML, "your Pro plan failed")
		assert.Contains(t, p.BodyHTML, "support@billing.test")
	})

	t.Run("activation names the plan and period end", func(t *testing.T) {
		t.Parallel()
		sender := newRecordingSender(0)
		n := newNotifier(org, sender)
		start(t, n)

		end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		n.Observer()(context.Background(),
			&subscription.Subscription{
				OrganizationID: org.ID,
				Plan:           subscription.PlanEnterprise,
				Status:         subscription.StatusActive,
				BillingPeriod:  &subscription.Window{Start: end.AddDate(0, -1, 0), End: end},
			},
			subscription.StatusTrial, subscription.Event{Kind: subscription.EventPaymentCaptured})

		p := receive(t, sender)
		assert.Equal(t, "Welcome to Enterprise", p.Subject)
		assert.Contains(t, p.BodyHTML, "April 1, 2025")
	})

	t.Run("recovery after past due", func(t *testing.T) {
		t.Parallel()
		sender := newRecordingSender(0)
		n := newNotifier(org, sender)
		start(t, n)

		n.Observer()(context.Background(),
			&subscription.Subscription{OrganizationID: org.ID, Plan: subscription.PlanPro, Status: subscription.StatusActive},
			subscription.StatusPastDue, subscription.Event{Kind: subscription.EventPaymentCaptured})

		assert.Equal(t, "payment_recovered", receive(t, sender).Tag)
	})

	t.Run("failed delivery is retried", func(t *testing.T) {
		t.Parallel()
		sender := newRecordingSender(2)
		n := newNotifier(org, sender, notify.WithRetry(3, time.Millisecond))
		start(t, n)

		n.Observer()(context.Background(),
			&subscription.Subscription{OrganizationID: org.ID, Plan: subscription.PlanFree, Status: subscription.StatusExpired},
			subscription.StatusTrial, subscription.Event{Kind: subscription.EventTrialExpired})

		assert.Equal(t, "trial_expired", receive(t, sender).Tag)
		assert.Equal(t, 3, sender.Calls())
	})

	t.Run("transitions without a notice are ignored", func(t *testing.T) {
		t.Parallel()
		sender := newRecordingSender(0)
		n := newNotifier(org, sender)
		start(t, n)

		n.Observer()(context.Background(),
			&subscription.Subscription{OrganizationID: org.ID, Plan: subscription.PlanFree, Status: subscription.StatusTrial},
			subscription.StatusExpired, subscription.Event{Kind: subscription.EventReactivated})

		select {
		case p := <-sender.sent:
			assert.Fail(t, "unexpected email", p.Subject)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("owner without email is skipped", func(t *testing.T) {
		t.Parallel()
		silent := &subscription.Organization{ID: uuid.New(), Name: "Quiet"}
		sender := newRecordingSender(0)
		n := newNotifier(silent, sender)
		start(t, n)

		n.Observer()(context.Background(),
			&subscription.Subscription{OrganizationID: silent.ID, Plan: subscription.PlanPro, Status: subscription.StatusCancelled},
			subscription.StatusActive, subscription.Event{Kind: subscription.EventRemoteCancelled})

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, sender.Calls())
	})

	t.Run("full queue drops notices", func(t *testing.T) {
		t.Parallel()
		sender := newRecordingSender(0)
		n := newNotifier(org, sender, notify.WithQueueSize(1))

		obs := n.Observer()
		for range 3 {
			obs(context.Background(),
				&subscription.Subscription{OrganizationID: org.ID, Plan: subscription.PlanPro, Status: subscription.StatusCancelled},
				subscription.StatusActive, subscription.Event{Kind: subscription.EventRemoteCancelled})
		}
		start(t, n)

		assert.Equal(t, "subscription_cancelled", receive(t, sender).Tag)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, sender.Calls())
	})
}

func TestNew_PanicsWithoutDependencies(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { notify.New(nil, nil, newRecordingSender(0)) })
}
