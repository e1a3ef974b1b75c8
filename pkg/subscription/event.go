package subscription

import (
	"time"
)

// EventKind is the canonical type of a lifecycle event, independent of which
// gateway or local action produced it.
type EventKind string

const (
	EventPlanSelected        EventKind = "plan_selected"
	EventTrialStarted        EventKind = "trial_started"
	EventTrialExpired        EventKind = "trial_expired"
	EventPaymentCaptured     EventKind = "payment_captured"
	EventRemotePeriodRenewed EventKind = "remote_period_renewed"
	EventPaymentFailed       EventKind = "payment_failed"
	EventRemoteCancelled     EventKind = "remote_cancelled"
	EventCancelRequested     EventKind = "cancel_requested"
	EventReactivated         EventKind = "reactivated"
)

// ordered reports whether events of this kind are subject to the ordering watermark.
func (k EventKind) ordered() bool {
	switch k {
	case EventPaymentCaptured, EventPaymentFailed, EventRemotePeriodRenewed:
		return true
	}
	return false
}

// Event is a canonical lifecycle event. Only the fields relevant to Kind are read.
type Event struct {
	ID       string
	Kind     EventKind
	Provider Provider // Empty for locally originated events

	// OccurredAt is the provider's sequence for the event. Zero for local events,
	// which are never considered stale.
	OccurredAt time.Time

	Plan        Plan    // PlanSelected, PaymentCaptured, Reactivated
	TrialDays   int     // PlanSelected on a new record, TrialStarted
	Period      *Window // PaymentCaptured, RemotePeriodRenewed
	AtPeriodEnd bool    // CancelRequested
	Refs        ProviderRefs
}

// Outcome describes what Apply did with an event.
type Outcome string

const (
	// OutcomeApplied means the event changed the record.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the event is not meaningful in the current state; only the watermark moved.
	OutcomeNoop Outcome = "noop"
	// OutcomeStale means the event is older than the newest applied one; only the ID watermark moved.
	OutcomeStale Outcome = "stale"
	// OutcomeDuplicate means the event was already applied; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected means the payload violated an invariant; only the watermark moved.
	OutcomeRejected Outcome = "rejected"
)

// Changed reports whether the outcome altered the lifecycle state.
func (o Outcome) Changed() bool {
	return o == OutcomeApplied
}

// Persist reports whether the outcome must be written back to the store.
func (o Outcome) Persist() bool {
	return o != OutcomeDuplicate
}
