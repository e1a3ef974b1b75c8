package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Outcome is the final result of delivering one event.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped" // No endpoint configured
	OutcomeDropped   Outcome = "dropped" // Queue was full
)

// DeliveryResult describes a finished delivery.
type DeliveryResult struct {
	Outcome    Outcome
	Payload    Payload
	Attempts   int
	StatusCode int // Last response status, zero when no response arrived
	Duration   time.Duration
	Err        error
}

// DeliveryHook is called after each queued event is finished.
type DeliveryHook func(DeliveryResult)

type job struct {
	ctx     context.Context
	payload Payload
}

// Dispatcher queues subscription transitions and posts them to the endpoint of
// the owning organization. It is safe for concurrent use.
type Dispatcher struct {
	orgs       subscription.Organizations
	client     *http.Client
	queue      chan job
	logger     *slog.Logger
	now        func() time.Time
	onDelivery DeliveryHook

	attempts  uint64
	backoff   time.Duration
	timeout   time.Duration
	queueSize int
}

// New creates a Dispatcher. Panics if orgs is nil.
func New(orgs subscription.Organizations, opts ...Option) *Dispatcher {
	if orgs == nil {
		panic("outbound: organizations are required")
	}
	d := &Dispatcher{
		orgs: orgs,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    slog.New(slog.DiscardHandler),
		now:       func() time.Time { return time.Now().UTC() },
		attempts:  4,
		backoff:   time.Second,
		timeout:   10 * time.Second,
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan job, d.queueSize)
	d.logger = d.logger.With(logger.Component("outbound_webhook"))
	return d
}

// Observer queues one event per transition. A full queue drops the event with
// a warning.
func (d *Dispatcher) Observer() subscription.TransitionObserver {
	return func(ctx context.Context, sub *subscription.Subscription, from subscription.Status, ev subscription.Event) {
		j := job{
			ctx:     context.WithoutCancel(ctx),
			payload: newPayload(sub, from, ev, d.now()),
		}
		select {
		case d.queue <- j:
		default:
			d.logger.WarnContext(ctx, "outbound webhook queue full, event dropped",
				logger.OrganizationID(sub.OrganizationID),
				slog.String("type", j.payload.Type),
			)
			d.finish(DeliveryResult{Outcome: OutcomeDropped, Payload: j.payload})
		}
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		for {
			select {
			case <-ctx.Done():
				if pending := len(d.queue); pending > 0 {
					d.logger.Warn("outbound dispatcher stopped with pending events", slog.Int("pending", pending))
				}
				return nil
			case j := <-d.queue:
				res := d.deliver(ctx, j)
				if res.Err != nil {
					d.logger.ErrorContext(j.ctx, "outbound webhook failed",
						logger.OrganizationID(j.payload.OrganizationID),
						slog.String("type", j.payload.Type),
						slog.Int("attempts", res.Attempts),
						logger.Error(res.Err),
					)
				}
				d.finish(res)
			}
		}
	}
}

func (d *Dispatcher) finish(res DeliveryResult) {
	if d.onDelivery != nil {
		d.onDelivery(res)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) (res DeliveryResult) {
	started := time.Now()
	res = DeliveryResult{Outcome: OutcomeFailed, Payload: j.payload}
	defer func() { res.Duration = time.Since(started) }()

	org, err := d.orgs.Lookup(j.ctx, j.payload.OrganizationID)
	if err != nil {
		res.Err = fmt.Errorf("load organization: %w", err)
		return res
	}
	if org == nil || org.WebhookURL == "" {
		res.Outcome = OutcomeSkipped
		return res
	}
	if err := validateURL(org.WebhookURL); err != nil {
		res.Err = err
		return res
	}

	body, err := json.Marshal(j.payload)
	if err != nil {
		res.Err = fmt.Errorf("marshal payload: %w", err)
		return res
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.backoff
	b.MaxInterval = 30 * d.backoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, d.attempts-1), ctx)

	err = backoff.Retry(func() error {
		res.Attempts++
		status, err := d.post(j.ctx, org, body, j.payload.ID)
		res.StatusCode = status
		if err != nil && permanent(status) {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrPermanentFailure, err))
		}
		return err
	}, policy)
	if err != nil {
		if !errors.Is(err, ErrPermanentFailure) {
			err = fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, res.Attempts, err)
		}
		res.Err = err
		return res
	}

	res.Outcome = OutcomeDelivered
	return res
}

// post makes one attempt and returns the response status, if any.
func (d *Dispatcher) post(ctx context.Context, org *subscription.Organization, body []byte, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, org.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "billingd-webhook/1.0")
	if org.WebhookSecret != "" {
		Sign(org.WebhookSecret, body, id, d.now()).setHeaders(req.Header)
	} else {
		req.Header.Set(IDHeader, id)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, nil
	}

	msg := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	if snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200)); len(snippet) > 0 {
		msg += ": " + strings.ReplaceAll(string(snippet), "\n", " ")
	}
	return resp.StatusCode, errors.New(msg)
}

// permanent reports whether a response status will not change on retry.
func permanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not supported", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}
