package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/email"
	"github.com/dmitrymomot/billing/pkg/email/templates"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

type job struct {
	ctx   context.Context
	kind  Kind
	orgID uuid.UUID
	plan  subscription.Plan
	end   *time.Time
}

// Notifier emails organization owners about billing transitions. Transitions
// are queued by the observer and delivered by Run, so a slow mail provider never
// delays ApplyEvent.
type Notifier struct {
	orgs         subscription.Organizations
	catalog      *subscription.Catalog
	sender       email.Sender
	queue        chan job
	logger       *slog.Logger
	attempts     uint64
	backoff      time.Duration
	supportEmail string
	queueSize    int
}

// New creates a notifier. It panics if any argument is nil.
func New(orgs subscription.Organizations, catalog *subscription.Catalog, sender email.Sender, opts ...Option) *Notifier {
	if orgs == nil || catalog == nil || sender == nil {
		panic("notify: organizations, catalog and sender are required")
	}
	n := &Notifier{
		orgs:      orgs,
		catalog:   catalog,
		sender:    sender,
		logger:    slog.New(slog.DiscardHandler),
		attempts:  3,
		backoff:   time.Second,
		queueSize: 256,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.queue = make(chan job, n.queueSize)
	n.logger = n.logger.With(logger.Component("notify"))
	return n
}

// Observer queues a notice for every transition that has one. A full queue
// drops the notice with a warning.
func (n *Notifier) Observer() subscription.TransitionObserver {
	return func(ctx context.Context, sub *subscription.Subscription, from subscription.Status, _ subscription.Event) {
		kind, ok := kindFor(from, sub.Status)
		if !ok {
			return
		}
		j := job{
			ctx:   context.WithoutCancel(ctx),
			kind:  kind,
			orgID: sub.OrganizationID,
			plan:  sub.Plan,
		}
		if sub.BillingPeriod != nil {
			end := sub.BillingPeriod.End
			j.end = &end
		}

		select {
		case n.queue <- j:
		default:
			n.logger.WarnContext(ctx, "notification queue full, notice dropped",
				logger.OrganizationID(sub.OrganizationID),
				slog.String("notice", string(kind)),
			)
		}
	}
}

// Run delivers queued notices until ctx is done.
func (n *Notifier) Run(ctx context.Context) func() error {
	return func() error {
		for {
			select {
			case <-ctx.Done():
				if pending := len(n.queue); pending > 0 {
					n.logger.Warn("notifier stopped with pending notices", slog.Int("pending", pending))
				}
				return nil
			case j := <-n.queue:
				if err := n.deliver(ctx, j); err != nil {
					n.logger.ErrorContext(j.ctx, "failed to deliver notice",
						logger.OrganizationID(j.orgID),
						slog.String("notice", string(j.kind)),
						logger.Error(err),
					)
				}
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, j job) error {
	org, err := n.orgs.Lookup(j.ctx, j.orgID)
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		return subscription.ErrOrganizationNotFound
	}
	if org.OwnerEmail == "" {
		n.logger.DebugContext(j.ctx, "organization has no owner email, notice skipped",
			logger.OrganizationID(j.orgID))
		return nil
	}

	data := noticeData{
		OrganizationName: org.Name,
		PlanName:         j.plan.String(),
		PeriodEnd:        j.end,
		SupportEmail:     n.supportEmail,
	}
	if def, err := n.catalog.Get(j.plan); err == nil && def.Name != "" {
		data.PlanName = def.Name
	}

	body, err := templates.Render(j.ctx, noticeEmail(j.kind, data))
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	params := email.SendEmailParams{
		SendTo:   org.OwnerEmail,
		Subject:  subjectFor(j.kind, data),
		BodyHTML: body,
		Tag:      string(j.kind),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.backoff
	b.MaxInterval = 10 * n.backoff
	return backoff.Retry(func() error {
		err := n.sender.SendEmail(j.ctx, params)
		if errors.Is(err, email.ErrInvalidParams) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, n.attempts-1), ctx))
}
