package reconcile

import (
	"github.com/oklog/ulid/v2"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

// driftEvents returns the events that move sub towards the remote snapshot. A
// snapshot that is not strictly newer than the last applied provider event yields
// nothing, so a webhook already in flight always wins.
func driftEvents(sub *subscription.Subscription, snap *gateway.RemoteSnapshot) []subscription.Event {
	if snap == nil || !snap.Sequence.After(sub.LastEventAt) {
		return nil
	}

	base := subscription.Event{
		Provider:   snap.Provider,
		OccurredAt: snap.Sequence,
		Refs: subscription.ProviderRefs{
			Provider:       snap.Provider,
			CustomerID:     snap.CustomerID,
			SubscriptionID: snap.SubscriptionID,
		},
	}

	var events []subscription.Event
	add := func(ev subscription.Event) {
		ev.ID = "reconcile:" + ulid.Make().String()
		events = append(events, ev)
	}

	switch snap.Status {
	case subscription.StatusCancelled:
		if !sub.IsCancelled() {
			ev := base
			ev.Kind = subscription.EventRemoteCancelled
			add(ev)
		}
		return events

	case subscription.StatusActive:
		if !sub.IsActive() || (snap.Plan != "" && snap.Plan != sub.Plan) || periodChanged(sub.BillingPeriod, snap.Period) {
			ev := base
			ev.Kind = subscription.EventPaymentCaptured
			ev.Plan = snap.Plan
			ev.Period = snap.Period
			add(ev)
		}

	case subscription.StatusPastDue:
		if sub.IsActive() {
			ev := base
			ev.Kind = subscription.EventPaymentFailed
			add(ev)
		}
	}

	if snap.CancelAtPeriodEnd != sub.CancelAtPeriodEnd {
		ev := base
		if snap.CancelAtPeriodEnd {
			ev.Kind = subscription.EventCancelRequested
			ev.AtPeriodEnd = true
		} else {
			ev.Kind = subscription.EventReactivated
		}
		add(ev)
	}
	return events
}

func periodChanged(local, remote *subscription.Window) bool {
	if remote == nil {
		return false
	}
	if local == nil {
		return true
	}
	return !local.Start.Equal(remote.Start) || !local.End.Equal(remote.End)
}
