package outbound_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/subscription"
	"github.com/dmitrymomot/billing/pkg/webhook/outbound"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type request struct {
	header http.Header
	body   []byte
}

// endpoint answers with the given statuses in order, then 200.
type endpoint struct {
	mu       sync.Mutex
	statuses []int
	calls    atomic.Int32
	requests chan request
}

func newEndpoint(t *testing.T, statuses ...int) (*endpoint, *httptest.Server) {
	t.Helper()
	e := &endpoint{statuses: statuses, requests: make(chan request, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e.calls.Add(1)
		e.requests <- request{header: r.Header.Clone(), body: body}

		e.mu.Lock()
		status := http.StatusOK
		if len(e.statuses) > 0 {
			status, e.statuses = e.statuses[0], e.statuses[1:]
		}
		e.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return e, srv
}

func orgsOf(orgs ...*subscription.Organization) subscription.Organizations {
	return subscription.OrganizationsFunc(func(_ context.Context, id uuid.UUID) (*subscription.Organization, error) {
		for _, o := range orgs {
			if o.ID == id {
				return o, nil
			}
		}
		return nil, subscription.ErrOrganizationNotFound
	})
}

func start(t *testing.T, d *outbound.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx)() }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func results() (outbound.Option, <-chan outbound.DeliveryResult) {
	ch := make(chan outbound.DeliveryResult, 16)
	return outbound.WithDeliveryHook(func(r outbound.DeliveryResult) { ch <- r }), ch
}

func wait(t *testing.T, ch <-chan outbound.DeliveryResult) outbound.DeliveryResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "delivery did not finish")
	}
	return outbound.DeliveryResult{}
}

func activated(orgID uuid.UUID) (*subscription.Subscription, subscription.Status, subscription.Event) {
	sub := &subscription.Subscription{
		OrganizationID: orgID,
		Plan:           subscription.PlanPro,
		Status:         subscription.StatusActive,
		BillingPeriod:  &subscription.Window{Start: t0, End: t0.AddDate(0, 1, 0)},
	}
	return sub, subscription.StatusTrial, subscription.Event{Kind: subscription.EventPaymentCaptured}
}

func TestDispatcher_DeliversSignedEvent(t *testing.T) {
	t.Parallel()

	ep, srv := newEndpoint(t)
	org := &subscription.Organization{ID: uuid.New(), WebhookURL: srv.URL + "/hooks", WebhookSecret: "whsec_test"}
	hook, done := results()
	d := outbound.New(orgsOf(org), hook, outbound.WithClock(func() time.Time { return t0 }))
	start(t, d)

	sub, from, ev := activated(org.ID)
	d.Observer()(context.Background(), sub, from, ev)

	res := wait(t, done)
	require.NoError(t, res.Err)
	assert.Equal(t, outbound.OutcomeDelivered, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req := <-ep.requests
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, strconv.FormatInt(t0.Unix(), 10), req.header.Get(outbound.TimestampHeader))

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte(strconv.FormatInt(t0.Unix(), 10) + "."))
	mac.Write(req.body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), req.header.Get(outbound.SignatureHeader))

	var p outbound.Payload
	require.NoError(t, json.Unmarshal(req.body, &p))
	assert.Equal(t, req.header.Get(outbound.IDHeader), p.ID)
	assert.Equal(t, "subscription.payment_captured", p.Type)
	assert.Equal(t, org.ID, p.OrganizationID)
	assert.Equal(t, t0, p.Timestamp)
	assert.Equal(t, subscription.PlanPro, p.Data.Plan)
	assert.Equal(t, subscription.StatusActive, p.Data.Status)
	assert.Equal(t, subscription.StatusTrial, p.Data.PreviousStatus)
	require.NotNil(t, p.Data.PeriodEnd)
	assert.Equal(t, t0.AddDate(0, 1, 0), *p.Data.PeriodEnd)
}

func TestDispatcher_Retries(t *testing.T) {
	t.Parallel()

	t.Run("server errors are retried", func(t *testing.T) {
		t.Parallel()
		ep, srv := newEndpoint(t, http.StatusBadGateway, http.StatusTooManyRequests)
		org := &subscription.Organization{ID: uuid.New(), WebhookURL: srv.URL}
		hook, done := results()
		d := outbound.New(orgsOf(org), hook, outbound.WithRetry(3, time.Millisecond))
		start(t, d)

		sub, from, ev := activated(org.ID)
		d.Observer()(context.Background(), sub, from, ev)

		res := wait(t, done)
		require.NoError(t, res.Err)
		assert.Equal(t, outbound.OutcomeDelivered, res.Outcome)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, int32(3), ep.calls.Load())
	})

	t.Run("client errors are final", func(t *testing.T) {
		t.Parallel()
		ep, srv := newEndpoint(t, http.StatusGone)
		org := &subscription.Organization{ID: uuid.New(), WebhookURL: srv.URL}
		hook, done := results()
		d := outbound.New(orgsOf(org), hook, outbound.WithRetry(3, time.Millisecond))
		start(t, d)

		sub, from, ev := activated(org.ID)
		d.Observer()(context.Background(), sub, from, ev)

		res := wait(t, done)
		require.ErrorIs(t, res.Err, outbound.ErrPermanentFailure)
		assert.Equal(t, outbound.OutcomeFailed, res.Outcome)
		assert.Equal(t, http.StatusGone, res.StatusCode)
		assert.Equal(t, int32(1), ep.calls.Load())
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		t.Parallel()
		ep, srv := newEndpoint(t, 500, 500, 500, 500)
		org := &subscription.Organization{ID: uuid.New(), WebhookURL: srv.URL}
		hook, done := results()
		d := outbound.New(orgsOf(org), hook, outbound.WithRetry(2, time.Millisecond))
		start(t, d)

		sub, from, ev := activated(org.ID)
		d.Observer()(context.Background(), sub, from, ev)

		res := wait(t, done)
		require.ErrorIs(t, res.Err, outbound.ErrDeliveryFailed)
		assert.Equal(t, int32(2), ep.calls.Load())
	})
}

func TestDispatcher_SkipsAndRejects(t *testing.T) {
	t.Parallel()

	t.Run("organization without endpoint", func(t *testing.T) {
		t.Parallel()
		org := &subscription.Organization{ID: uuid.New()}
		hook, done := results()
		d := outbound.New(orgsOf(org), hook)
		start(t, d)

		sub, from, ev := activated(org.ID)
		d.Observer()(context.Background(), sub, from, ev)

		res := wait(t, done)
		assert.Equal(t, outbound.OutcomeSkipped, res.Outcome)
		assert.NoError(t, res.Err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()
		org := &subscription.Organization{ID: uuid.New(), WebhookURL: "ftp://acme.test/hooks"}
		hook, done := results()
		d := outbound.New(orgsOf(org), hook)
		start(t, d)

		sub, from, ev := activated(org.ID)
		d.Observer()(context.Background(), sub, from, ev)

		res := wait(t, done)
		assert.ErrorIs(t, res.Err, outbound.ErrInvalidURL)
		assert.Zero(t, res.Attempts)
	})

	t.Run("unknown organization", func(t *testing.T) {
		t.Parallel()
		hook, done := results()
		d := outbound.New(orgsOf(), hook)
		start(t, d)

		sub, from, ev := activated(uuid.New())
		d.Observer()(context.Background(), sub, from, ev)

		res := wait(t, done)
		assert.ErrorIs(t, res.Err, subscription.ErrOrganizationNotFound)
	})

	t.Run("full queue drops the event", func(t *testing.T) {
		t.Parallel()
		hook, done := results()
		d := outbound.New(orgsOf(), hook, outbound.WithQueueSize(1))

		sub, from, ev := activated(uuid.New())
		d.Observer()(context.Background(), sub, from, ev)
		d.Observer()(context.Background(), sub, from, ev)

		assert.Equal(t, outbound.OutcomeDropped, wait(t, done).Outcome)
	})
}

func TestNew_PanicsWithoutOrganizations(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { outbound.New(nil) })
}
