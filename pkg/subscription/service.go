package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// Service is the single write path for subscription records.
type Service interface {
	// GetSubscription returns the organization's record, creating the default one
	// on first access. Returns ErrOrganizationNotFound for unknown organizations.
	GetSubscription(ctx context.Context, orgID uuid.UUID) (*Subscription, error)

	// ApplyEvent loads the record, applies ev and persists the result together with
	// the optional receipt. Version conflicts are retried by reloading.
	ApplyEvent(ctx context.Context, orgID uuid.UUID, ev Event, receipt *Receipt) (*ApplyResult, error)

	// HasReceipt reports whether a provider notification was already processed.
	HasReceipt(ctx context.Context, provider Provider, eventID string) (bool, error)

	// FindByProviderSubscription resolves a remote subscription ID to its record.
	FindByProviderSubscription(ctx context.Context, provider Provider, subscriptionID string) (*Subscription, error)

	// Organization returns the organization behind a record.
	Organization(ctx context.Context, orgID uuid.UUID) (*Organization, error)

	// HasFeature checks if a feature is available on the organization's current plan.
	// Returns false on any error.
	HasFeature(ctx context.Context, orgID uuid.UUID, feature Feature) bool

	Catalog() *Catalog
}

// ApplyResult describes the effect of ApplyEvent.
type ApplyResult struct {
	Subscription *Subscription
	Previous     Status
	Outcome      Outcome
}

// TransitionObserver is notified after every persisted status change. sub is
// the record as persisted; from is its status before ev.
type TransitionObserver func(ctx context.Context, sub *Subscription, from Status, ev Event)

type service struct {
	store     Store
	orgs      Organizations
	catalog   *Catalog
	logger    *slog.Logger
	now       func() time.Time
	retries   int
	observers []TransitionObserver
}

// NewService creates a new Service with the given dependencies.
// Panics if required parameters are nil to fail fast during initialization.
func NewService(store Store, orgs Organizations, catalog *Catalog, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if orgs == nil {
		panic("subscription: Organizations is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}

	s := &service{
		store:   store,
		orgs:    orgs,
		catalog: catalog,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		retries: 5,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(logger.Component("subscription"))
	return s
}

func (s *service) Catalog() *Catalog {
	return s.catalog
}

func (s *service) GetSubscription(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, orgID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	org, err := s.orgs.Lookup(ctx, orgID)
	if err != nil {
		return nil, err
	}

	trialDays := s.catalog.DefaultTrialDays()
	if org.FreeOnly {
		trialDays = 0
	}

	now := s.now()
	initial, _, err := Apply(Subscription{OrganizationID: orgID}, Event{
		ID:        "init:" + orgID.String(),
		Kind:      EventPlanSelected,
		Plan:      PlanFree,
		TrialDays: trialDays,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, &initial); err != nil {
		if errors.Is(err, ErrSubscriptionAlreadyExists) {
			// Lost the creation race; the winner's record is authoritative.
			return s.store.Get(ctx, orgID)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription created",
		logger.OrganizationID(orgID),
		logger.Status(string(initial.Status)),
	)
	return &initial, nil
}

func (s *service) ApplyEvent(ctx context.Context, orgID uuid.UUID, ev Event, receipt *Receipt) (*ApplyResult, error) {
	if ev.ID == "" {
		ev.ID = "local:" + ulid.Make().String()
	}

	if receipt != nil {
		seen, err := s.store.HasReceipt(ctx, receipt.Provider, receipt.EventID)
		if err != nil {
			return nil, err
		}
		if seen {
			return s.duplicate(ctx, orgID)
		}
	}

	for attempt := 0; ; attempt++ {
		cur, err := s.GetSubscription(ctx, orgID)
		if err != nil {
			return nil, err
		}

		next, outcome, applyErr := Apply(*cur, ev, s.now())
		if errors.Is(applyErr, ErrMissingEventID) {
			return nil, applyErr
		}
		if outcome == OutcomeDuplicate {
			return &ApplyResult{Subscription: cur, Previous: cur.Status, Outcome: outcome}, nil
		}

		err = s.store.Update(ctx, &next, cur.Version, receipt)
		switch {
		case errors.Is(err, ErrConcurrencyConflict):
			if attempt >= s.retries {
				return nil, fmt.Errorf("apply %s after %d attempts: %w", ev.Kind, attempt+1, err)
			}
			s.logger.DebugContext(ctx, "retrying after concurrent update",
				logger.OrganizationID(orgID),
				logger.EventID(ev.ID),
				logger.RetryCount(attempt+1),
			)
			continue
		case errors.Is(err, ErrDuplicateReceipt):
			return s.duplicate(ctx, orgID)
		case err != nil:
			return nil, err
		}

		result := &ApplyResult{Subscription: &next, Previous: cur.Status, Outcome: outcome}
		s.report(ctx, result, ev, applyErr)
		if applyErr != nil {
			return result, applyErr
		}
		return result, nil
	}
}

func (s *service) duplicate(ctx context.Context, orgID uuid.UUID) (*ApplyResult, error) {
	cur, err := s.GetSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Subscription: cur, Previous: cur.Status, Outcome: OutcomeDuplicate}, nil
}

func (s *service) report(ctx context.Context, r *ApplyResult, ev Event, applyErr error) {
	attrs := []any{
		logger.OrganizationID(r.Subscription.OrganizationID),
		logger.EventID(ev.ID),
		logger.EventType(string(ev.Kind)),
		slog.String("outcome", string(r.Outcome)),
	}

	switch {
	case applyErr != nil:
		s.logger.WarnContext(ctx, "event rejected", append(attrs, logger.Error(applyErr))...)
	case r.Outcome == OutcomeApplied:
		s.logger.InfoContext(ctx, "subscription transitioned",
			append(attrs, slog.String("from", r.Previous.String()), slog.String("to", r.Subscription.Status.String()))...)
	default:
		s.logger.DebugContext(ctx, "event recorded without transition", attrs...)
	}

	if r.Outcome == OutcomeApplied {
		for _, obs := range s.observers {
			obs(ctx, r.Subscription, r.Previous, ev)
		}
	}
}

func (s *service) HasReceipt(ctx context.Context, provider Provider, eventID string) (bool, error) {
	return s.store.HasReceipt(ctx, provider, eventID)
}

func (s *service) FindByProviderSubscription(ctx context.Context, provider Provider, subscriptionID string) (*Subscription, error) {
	return s.store.FindByProviderSubscription(ctx, provider, subscriptionID)
}

func (s *service) Organization(ctx context.Context, orgID uuid.UUID) (*Organization, error) {
	return s.orgs.Lookup(ctx, orgID)
}

func (s *service) HasFeature(ctx context.Context, orgID uuid.UUID, feature Feature) bool {
	sub, err := s.GetSubscription(ctx, orgID)
	if err != nil {
		return false
	}
	def, err := s.catalog.Get(sub.Plan)
	if err != nil {
		return false
	}
	return def.HasFeature(feature)
}
