package subscription

import "errors"

var (
	ErrUnknownPlan              = errors.New("unknown subscription plan")
	ErrUnknownStatus            = errors.New("unknown subscription status")
	ErrUnknownProvider          = errors.New("unknown payment provider")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")

	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrOrganizationNotFound      = errors.New("organization not found")

	// ErrConcurrencyConflict is returned by a store when the record changed between
	// read and write. The caller reloads and re-applies.
	ErrConcurrencyConflict = errors.New("subscription was modified concurrently")

	// ErrDuplicateReceipt is returned by a store when the notification receipt was
	// already recorded by a concurrent delivery.
	ErrDuplicateReceipt = errors.New("notification receipt already recorded")

	// ErrIllegalTransition marks an event whose payload violates a record invariant.
	// The event is rejected and only the watermark advances.
	ErrIllegalTransition = errors.New("illegal subscription transition")

	ErrMissingEventID = errors.New("event ID is required")
)
