package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/billing/pkg/statemachine"
)

// step is the value threaded through the lifecycle table's guards and actions.
type step struct {
	sub Subscription
	ev  Event
	now time.Time
}

type (
	guard  = statemachine.Guard[Status, EventKind, step]
	action = statemachine.Action[Status, EventKind, step]
)

var (
	live        = []Status{StatusTrial, StatusActive, StatusPastDue, StatusExpired}
	cancellable = []Status{StatusTrial, StatusActive, StatusPastDue}
)

// lifecycle is the complete transition table. Pairs that are not listed are no-ops.
var lifecycle = statemachine.MustNew(
	// New records start in a trial unless the trial length is zero.
	statemachine.WithTransition(StatusNone, StatusTrial, EventPlanSelected,
		statemachine.WithGuard(guard(hasTrialDays)),
		statemachine.WithActions(action(setPlan), action(startTrial)),
	),
	statemachine.WithTransition(StatusNone, StatusActive, EventPlanSelected,
		statemachine.WithAction(action(setPlan)),
	),
	statemachine.WithTransitionFrom([]Status{StatusNone, StatusTrial}, StatusTrial, EventTrialStarted,
		statemachine.WithGuard(guard(hasTrialDays)),
		statemachine.WithAction(action(startTrial)),
	),
	statemachine.WithTransition(StatusTrial, StatusExpired, EventTrialExpired,
		statemachine.WithGuard(guard(trialEnded)),
	),

	// Local plan change. Upgrades go through a gateway and arrive as PaymentCaptured.
	statemachine.WithSelfTransition(live, EventPlanSelected,
		statemachine.WithAction(action(setPlan)),
	),

	statemachine.WithTransitionFrom(live, StatusActive, EventPaymentCaptured,
		statemachine.WithActions(action(setPlan), action(setPeriod), action(setRefs)),
	),
	statemachine.WithTransition(StatusActive, StatusActive, EventRemotePeriodRenewed,
		statemachine.WithActions(action(setPeriod), action(setRefs)),
	),
	statemachine.WithTransition(StatusActive, StatusPastDue, EventPaymentFailed,
		statemachine.WithAction(action(setRefs)),
	),

	statemachine.WithSelfTransition(cancellable, EventCancelRequested,
		statemachine.WithGuard(guard(atPeriodEnd)),
		statemachine.WithAction(action(scheduleCancel)),
	),
	statemachine.WithTransitionFrom(cancellable, StatusCancelled, EventCancelRequested,
		statemachine.WithAction(action(cancel)),
	),
	statemachine.WithTransitionFrom(live, StatusCancelled, EventRemoteCancelled,
		statemachine.WithActions(action(setRefs), action(cancel)),
	),

	// Cancellation is sticky: only an explicit reactivation leaves CANCELLED.
	statemachine.WithTransition(StatusCancelled, StatusActive, EventReactivated,
		statemachine.WithActions(action(setPlan), action(reactivate)),
	),
	statemachine.WithSelfTransition(cancellable, EventReactivated,
		statemachine.WithGuard(guard(cancelScheduled)),
		statemachine.WithAction(action(reactivate)),
	),
)

// Apply computes the record that results from applying ev to cur at time now.
// It is deterministic and never mutates cur.
//
// An event whose ID equals the last applied one returns cur unchanged with
// OutcomeDuplicate. Every other outcome returns a record whose watermark has
// advanced and which must be persisted, including no-ops, so that a replay of the
// same event is recognised later.
func Apply(cur Subscription, ev Event, now time.Time) (Subscription, Outcome, error) {
	cur = cur.Clone()

	if ev.ID == "" {
		return cur, OutcomeRejected, ErrMissingEventID
	}
	if cur.LastAppliedEventID != "" && ev.ID == cur.LastAppliedEventID {
		return cur, OutcomeDuplicate, nil
	}

	if err := validateEvent(ev); err != nil {
		return stamp(cur, ev, now), OutcomeRejected, errors.Join(ErrIllegalTransition, err)
	}

	if ev.Kind.ordered() && !ev.OccurredAt.IsZero() && ev.OccurredAt.Before(cur.LastEventAt) {
		if next, ok := backfillPeriod(cur, ev); ok {
			return stamp(next, ev, now), OutcomeApplied, nil
		}
		return stamp(cur, ev, now), OutcomeStale, nil
	}

	to, out, err := lifecycle.Fire(cur.Status, ev.Kind, step{sub: cur, ev: ev, now: now})
	switch {
	case statemachine.IsNoTransitionAvailableError(err), statemachine.IsTransitionRejectedError(err):
		return stamp(cur, ev, now), OutcomeNoop, nil
	case err != nil:
		return stamp(cur, ev, now), OutcomeRejected, errors.Join(ErrIllegalTransition, err)
	}

	next := out.sub
	next.Status = to
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	return stamp(next, ev, now), OutcomeApplied, nil
}

// backfillPeriod takes the billing period from a late capture or renewal of the
// linked remote subscription when the record has none yet. Stripe can deliver the
// invoice that carries the first period after the checkout session that activated
// the record. Nothing else of the stale event is applied.
func backfillPeriod(cur Subscription, ev Event) (Subscription, bool) {
	if cur.Status != StatusActive || cur.BillingPeriod != nil || ev.Period == nil {
		return cur, false
	}
	if ev.Kind != EventPaymentCaptured && ev.Kind != EventRemotePeriodRenewed {
		return cur, false
	}
	if ev.Refs.SubscriptionID == "" || ev.Refs.Provider != cur.Refs.Provider || ev.Refs.SubscriptionID != cur.Refs.SubscriptionID {
		return cur, false
	}
	p := *ev.Period
	cur.BillingPeriod = &p
	return cur, true
}

func validateEvent(ev Event) error {
	if ev.Plan != "" && !ev.Plan.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPlan, ev.Plan)
	}
	if ev.Period != nil && !ev.Period.Valid() {
		return fmt.Errorf("billing period ends before it starts: %s < %s", ev.Period.End, ev.Period.Start)
	}
	if ev.TrialDays < 0 {
		return fmt.Errorf("negative trial length: %d", ev.TrialDays)
	}
	return nil
}

// stamp advances both watermarks and the modification time.
func stamp(s Subscription, ev Event, now time.Time) Subscription {
	s.LastAppliedEventID = ev.ID
	if ev.OccurredAt.After(s.LastEventAt) {
		s.LastEventAt = ev.OccurredAt
	}
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	} else {
		s.UpdatedAt = s.UpdatedAt.Add(time.Microsecond)
	}
	return s
}

func hasTrialDays(_ Status, _ EventKind, st step) bool {
	return st.ev.TrialDays > 0
}

func trialEnded(_ Status, _ EventKind, st step) bool {
	return st.sub.TrialExpiredAt(st.now)
}

func atPeriodEnd(_ Status, _ EventKind, st step) bool {
	return st.ev.AtPeriodEnd
}

func cancelScheduled(_ Status, _ EventKind, st step) bool {
	return st.sub.CancelAtPeriodEnd
}

func setPlan(_, _ Status, _ EventKind, st step) (step, error) {
	if st.ev.Plan != "" {
		st.sub.Plan = st.ev.Plan
	}
	return st, nil
}

func startTrial(_, _ Status, _ EventKind, st step) (step, error) {
	st.sub.TrialWindow = &Window{
		Start: st.now,
		End:   st.now.AddDate(0, 0, st.ev.TrialDays),
	}
	return st, nil
}

func setPeriod(_, _ Status, _ EventKind, st step) (step, error) {
	if st.ev.Period == nil {
		return st, nil
	}
	p := *st.ev.Period
	st.sub.BillingPeriod = &p
	return st, nil
}

func setRefs(_, _ Status, _ EventKind, st step) (step, error) {
	st.sub.Refs = st.sub.Refs.merge(st.ev.Refs)
	return st, nil
}

func scheduleCancel(_, _ Status, _ EventKind, st step) (step, error) {
	st.sub.CancelAtPeriodEnd = true
	return st, nil
}

func cancel(_, _ Status, _ EventKind, st step) (step, error) {
	at := st.now
	if !st.ev.OccurredAt.IsZero() {
		at = st.ev.OccurredAt
	}
	st.sub.Plan = PlanFree
	st.sub.CancelAtPeriodEnd = false
	st.sub.CancelledAt = &at
	return st, nil
}

func reactivate(_, _ Status, _ EventKind, st step) (step, error) {
	st.sub.CancelAtPeriodEnd = false
	st.sub.CancelledAt = nil
	return st, nil
}
