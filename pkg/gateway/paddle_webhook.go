package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// PaddleSignatureHeader carries the Paddle notification signature.
const PaddleSignatureHeader = "Paddle-Signature"

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriodObject struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type paddleItemObject struct {
	PriceID string `json:"price_id"`
	Price   struct {
		ID string `json:"id"`
	} `json:"price"`
}

type paddleDataObject struct {
	ID                   string              `json:"id"`
	Status               string              `json:"status"`
	CustomerID           string              `json:"customer_id"`
	SubscriptionID       string              `json:"subscription_id"`
	CustomData           map[string]any      `json:"custom_data"`
	Items                []paddleItemObject  `json:"items"`
	BillingPeriod        *paddlePeriodObject `json:"billing_period"`
	CurrentBillingPeriod *paddlePeriodObject `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

func (d paddleDataObject) priceID() string {
	if len(d.Items) == 0 {
		return ""
	}
	if d.Items[0].Price.ID != "" {
		return d.Items[0].Price.ID
	}
	return d.Items[0].PriceID
}

func (g *PaddleGateway) SignatureHeader() string {
	return PaddleSignatureHeader
}

// ParseNotification verifies a Paddle webhook and maps it to a subscription event.
func (g *PaddleGateway) ParseNotification(ctx context.Context, payload []byte, signature string) (*Notification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return nil, malformed(err)
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, malformed(err)
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, ErrMalformedPayload
	}

	n := &Notification{
		Provider: subscription.ProviderPaddle,
		EventID:  env.EventID,
		Type:     env.EventType,
	}

	var data paddleDataObject
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, malformed(err)
		}
	}
	n.OrganizationID = parseOrganizationID(customString(data.CustomData, MetadataOrganizationID))

	switch env.EventType {
	case "transaction.completed", "transaction.payment_failed":
		n.SubscriptionRef = data.SubscriptionID
		if data.SubscriptionID == "" && env.EventType == "transaction.payment_failed" {
			return n, nil
		}
		refs := subscription.ProviderRefs{
			Provider:       subscription.ProviderPaddle,
			CustomerID:     data.CustomerID,
			SubscriptionID: data.SubscriptionID,
			LastOrderID:    data.ID,
		}
		if env.EventType == "transaction.payment_failed" {
			n.Event = &subscription.Event{Kind: subscription.EventPaymentFailed, Refs: refs}
			break
		}

		plan, ok := g.prices.Plan(data.priceID())
		if !ok {
			plan, _ = subscription.ParsePlan(customString(data.CustomData, MetadataPlan))
		}
		n.Event = &subscription.Event{
			Kind:   subscription.EventPaymentCaptured,
			Plan:   plan,
			Period: periodOf(data.BillingPeriod),
			Refs:   refs,
		}

	case "subscription.activated", "subscription.updated", "subscription.resumed",
		"subscription.past_due", "subscription.canceled":
		n.SubscriptionRef = data.ID
		refs := subscription.ProviderRefs{
			Provider:       subscription.ProviderPaddle,
			CustomerID:     data.CustomerID,
			SubscriptionID: data.ID,
		}

		switch paddleStatus(data.Status) {
		case subscription.StatusActive:
			if data.ScheduledChange != nil && data.ScheduledChange.Action == "cancel" {
				n.Event = &subscription.Event{Kind: subscription.EventCancelRequested, AtPeriodEnd: true, Refs: refs}
				break
			}
			plan, _ := g.prices.Plan(data.priceID())
			n.Event = &subscription.Event{
				Kind:   subscription.EventRemotePeriodRenewed,
				Plan:   plan,
				Period: periodOf(data.CurrentBillingPeriod),
				Refs:   refs,
			}
		case subscription.StatusPastDue:
			n.Event = &subscription.Event{Kind: subscription.EventPaymentFailed, Refs: refs}
		case subscription.StatusCancelled:
			n.Event = &subscription.Event{Kind: subscription.EventRemoteCancelled, Refs: refs}
		}
	}

	if n.Event != nil {
		n.Event.ID = env.EventID
		n.Event.Provider = subscription.ProviderPaddle
		n.Event.OccurredAt = parsePaddleTime(env.OccurredAt)
	}
	return n, nil
}

func periodOf(p *paddlePeriodObject) *subscription.Window {
	if p == nil {
		return nil
	}
	return paddlePeriod(p.StartsAt, p.EndsAt)
}
