package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/cache"
	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Status is what happened to a notification.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored" // Type has no subscription meaning
	StatusStale     Status = "stale"
	StatusNoop      Status = "noop"
	StatusRejected  Status = "rejected" // Payload violated a record invariant
)

// Result describes a processed notification.
type Result struct {
	Status         Status
	Provider       subscription.Provider
	EventID        string
	EventType      string
	OrganizationID uuid.UUID
	// Subscription is the record after processing. Nil when no record was touched.
	Subscription *subscription.Subscription
}

// Processor turns verified provider notifications into subscription events.
// It is safe for concurrent use.
type Processor struct {
	subs    subscription.Service
	parsers map[subscription.Provider]gateway.NotificationParser
	recent  *cache.RecentSet[string]

	recentCapacity int
	maxPayload     int64
	now            func() time.Time
	logger         *slog.Logger
	onProcessed    ProcessedHook
}

// NewProcessor creates a Processor for the given parsers, one per provider.
// Panics if subs is nil.
func NewProcessor(subs subscription.Service, parsers []gateway.NotificationParser, opts ...Option) *Processor {
	if subs == nil {
		panic("webhook: subscription.Service is required")
	}

	p := &Processor{
		subs:           subs,
		parsers:        make(map[subscription.Provider]gateway.NotificationParser, len(parsers)),
		recentCapacity: 10000,
		maxPayload:     1 << 20,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         slog.Default(),
	}
	for _, parser := range parsers {
		if parser != nil {
			p.parsers[parser.Provider()] = parser
		}
	}
	for _, opt := range opts {
		opt(p)
	}

	p.recent = cache.NewRecentSet[string](p.recentCapacity)
	p.logger = p.logger.With(logger.Component("webhook"))
	return p
}

// Handle verifies, decodes and applies one notification.
//
// Errors are ErrUnknownProvider, ErrSignatureInvalid, ErrPayloadMalformed,
// ErrUnknownOrganization or a storage error. A payload rejected by the state
// machine is not an error: the watermark is persisted and Status is StatusRejected.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string, provider subscription.Provider) (res Result, err error) {
	res.Provider = provider
	defer func() {
		if p.onProcessed != nil {
			p.onProcessed(res, err)
		}
	}()

	parser, ok := p.parsers[provider]
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	n, err := parser.ParseNotification(ctx, payload, signature)
	if err != nil {
		return res, err
	}
	res.EventID = n.EventID
	res.EventType = n.Type
	log := p.logger.With(logger.Provider(provider), logger.EventID(n.EventID), logger.EventType(n.Type))

	key := string(provider) + ":" + n.EventID
	if p.recent.Contains(key) {
		res.Status = StatusDuplicate
		return res, nil
	}

	if n.Event == nil {
		log.DebugContext(ctx, "notification ignored")
		p.recent.Add(key)
		res.Status = StatusIgnored
		return res, nil
	}

	seen, err := p.subs.HasReceipt(ctx, provider, n.EventID)
	if err != nil {
		return res, err
	}
	if seen {
		p.recent.Add(key)
		res.Status = StatusDuplicate
		return res, nil
	}

	orgID, err := p.resolveOrganization(ctx, n)
	if err != nil {
		log.WarnContext(ctx, "notification for unknown organization",
			slog.String("subscription_ref", n.SubscriptionRef),
			logger.Error(err),
		)
		return res, err
	}
	res.OrganizationID = orgID

	applied, err := p.subs.ApplyEvent(ctx, orgID, *n.Event, &subscription.Receipt{
		Provider:   provider,
		EventID:    n.EventID,
		ReceivedAt: p.now(),
	})
	switch {
	case errors.Is(err, subscription.ErrIllegalTransition) && applied != nil:
		// The service already logged the rejection; the receipt is stored.
		err = nil
	case errors.Is(err, subscription.ErrOrganizationNotFound):
		return res, errors.Join(ErrUnknownOrganization, err)
	case err != nil:
		return res, err
	}

	p.recent.Add(key)
	res.Subscription = applied.Subscription
	res.Status = statusOf(applied.Outcome)
	return res, nil
}

// resolveOrganization prefers the organization attached to the checkout and falls
// back to the record linked to the remote subscription.
func (p *Processor) resolveOrganization(ctx context.Context, n *gateway.Notification) (uuid.UUID, error) {
	if n.OrganizationID != uuid.Nil {
		return n.OrganizationID, nil
	}
	if n.SubscriptionRef == "" {
		return uuid.Nil, ErrUnknownOrganization
	}

	sub, err := p.subs.FindByProviderSubscription(ctx, n.Provider, n.SubscriptionRef)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return uuid.Nil, errors.Join(ErrUnknownOrganization, err)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return sub.OrganizationID, nil
}

func statusOf(o subscription.Outcome) Status {
	switch o {
	case subscription.OutcomeApplied:
		return StatusApplied
	case subscription.OutcomeDuplicate:
		return StatusDuplicate
	case subscription.OutcomeStale:
		return StatusStale
	case subscription.OutcomeRejected:
		return StatusRejected
	}
	return StatusNoop
}
