package outbound

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// Payload is the JSON body posted to an organization's endpoint.
type Payload struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Timestamp      time.Time `json:"timestamp"`
	Data           Data      `json:"data"`
}

// Data is the subscription state after the transition.
type Data struct {
	Plan              subscription.Plan   `json:"plan"`
	Status            subscription.Status `json:"status"`
	PreviousStatus    subscription.Status `json:"previous_status"`
	CancelAtPeriodEnd bool                `json:"cancel_at_period_end"`
	PeriodStart       *time.Time          `json:"period_start,omitempty"`
	PeriodEnd         *time.Time          `json:"period_end,omitempty"`
	TrialEnd          *time.Time          `json:"trial_end,omitempty"`
	CancelledAt       *time.Time          `json:"cancelled_at,omitempty"`
}

// EventType names a transition caused by an event of the given kind.
func EventType(kind subscription.EventKind) string {
	return "subscription." + string(kind)
}

func newPayload(sub *subscription.Subscription, from subscription.Status, ev subscription.Event, now time.Time) Payload {
	p := Payload{
		ID:             "evt_" + ulid.Make().String(),
		Type:           EventType(ev.Kind),
		OrganizationID: sub.OrganizationID,
		Timestamp:      now,
		Data: Data{
			Plan:              sub.Plan,
			Status:            sub.Status,
			PreviousStatus:    from,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		},
	}
	if w := sub.BillingPeriod; w != nil {
		start, end := w.Start, w.End
		p.Data.PeriodStart, p.Data.PeriodEnd = &start, &end
	}
	if w := sub.TrialWindow; w != nil {
		end := w.End
		p.Data.TrialEnd = &end
	}
	if sub.CancelledAt != nil {
		at := *sub.CancelledAt
		p.Data.CancelledAt = &at
	}
	return p
}
