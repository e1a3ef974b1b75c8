package subscription

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
)

// Receipt records that a provider notification was processed.
// (Provider, EventID) is unique.
type Receipt struct {
	Provider   Provider
	EventID    string
	ReceivedAt time.Time
}

// Store persists subscription records. OrganizationID is the primary key.
// Records are never deleted.
type Store interface {
	// Get retrieves a subscription by organization ID.
	// Returns ErrSubscriptionNotFound if no record exists.
	Get(ctx context.Context, orgID uuid.UUID) (*Subscription, error)

	// FindByProviderSubscription retrieves the record linked to a remote subscription.
	// Returns ErrSubscriptionNotFound if none is linked.
	FindByProviderSubscription(ctx context.Context, provider Provider, subscriptionID string) (*Subscription, error)

	// Create inserts a new record with Version 1.
	// Returns ErrSubscriptionAlreadyExists if the organization already has one.
	Create(ctx context.Context, sub *Subscription) error

	// Update writes sub if the stored version still equals expectedVersion, and records
	// the receipt (when non-nil) in the same atomic step. On success sub.Version is set
	// to the new version. Returns ErrConcurrencyConflict when the version moved and
	// ErrDuplicateReceipt when the receipt already exists; nothing is written in either case.
	Update(ctx context.Context, sub *Subscription, expectedVersion int64, receipt *Receipt) error

	// HasReceipt reports whether a notification was already processed.
	HasReceipt(ctx context.Context, provider Provider, eventID string) (bool, error)

	// ListExpiredTrials returns TRIAL records whose trial window ended at or before now.
	ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// ListStale returns records linked to a remote subscription, not CANCELLED, and
	// not seen (written or checked) since seenBefore. Records are ordered by
	// (SeenAt, OrganizationID) and start strictly after the cursor.
	ListStale(ctx context.Context, seenBefore time.Time, after StaleCursor, limit int) ([]*Subscription, error)

	// MarkChecked records a drift check at the given time without touching the
	// version or UpdatedAt. Returns ErrSubscriptionNotFound for unknown organizations.
	MarkChecked(ctx context.Context, orgID uuid.UUID, at time.Time) error

	// PruneReceipts deletes receipts older than the given time and returns how many were removed.
	PruneReceipts(ctx context.Context, receivedBefore time.Time) (int64, error)
}

// StaleCursor resumes ListStale after a record of a previous page. The zero
// value starts at the beginning.
type StaleCursor struct {
	SeenAt         time.Time
	OrganizationID uuid.UUID
}

// CursorAfter returns the cursor that resumes after sub.
func CursorAfter(sub *Subscription) StaleCursor {
	return StaleCursor{SeenAt: sub.SeenAt(), OrganizationID: sub.OrganizationID}
}

// before reports whether sub sorts strictly after the cursor.
func (c StaleCursor) before(sub *Subscription) bool {
	seen := sub.SeenAt()
	if !seen.Equal(c.SeenAt) {
		return seen.After(c.SeenAt)
	}
	return bytes.Compare(sub.OrganizationID[:], c.OrganizationID[:]) > 0
}

// Organization is the read-only view of an organization needed by billing.
type Organization struct {
	ID         uuid.UUID
	Name       string
	OwnerEmail string
	// FreeOnly organizations never get a trial.
	FreeOnly bool
	// WebhookURL receives signed subscription events when set.
	WebhookURL    string
	WebhookSecret string
}

// Organizations looks up organizations. Returns ErrOrganizationNotFound for unknown IDs.
type Organizations interface {
	Lookup(ctx context.Context, orgID uuid.UUID) (*Organization, error)
}

// OrganizationsFunc adapts a function to the Organizations interface.
type OrganizationsFunc func(ctx context.Context, orgID uuid.UUID) (*Organization, error)

func (f OrganizationsFunc) Lookup(ctx context.Context, orgID uuid.UUID) (*Organization, error) {
	return f(ctx, orgID)
}
