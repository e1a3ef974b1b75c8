package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

// StripeSignatureHeader carries the Stripe notification signature.
const StripeSignatureHeader = "Stripe-Signature"

// stripeRef is an ID field that Stripe sends either as a string or as an
// expanded object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type stripeSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	Customer          stripeRef         `json:"customer"`
	Subscription      stripeRef         `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// period prefers the item level period and falls back to the legacy top-level one.
func (s stripeSubscriptionObject) period() (start, end int64, priceID string) {
	start, end = s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		priceID = item.Price.ID
		if item.CurrentPeriodStart > 0 {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	return start, end, priceID
}

type stripeSubscriptionDetails struct {
	Subscription stripeRef         `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeInvoiceObject struct {
	ID                  string                     `json:"id"`
	Customer            stripeRef                  `json:"customer"`
	Subscription        stripeRef                  `json:"subscription"`
	SubscriptionDetails *stripeSubscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *stripeSubscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

// subscription returns the remote subscription and its metadata across the old
// and the current invoice shape.
func (inv stripeInvoiceObject) subscription() (string, map[string]string) {
	id := string(inv.Subscription)
	var meta map[string]string
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if id == "" {
			id = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		if meta == nil {
			meta = inv.Parent.SubscriptionDetails.Metadata
		}
	}
	return id, meta
}

func (inv stripeInvoiceObject) line() (start, end int64, priceID string) {
	if len(inv.Lines.Data) == 0 {
		return 0, 0, ""
	}
	l := inv.Lines.Data[0]
	switch {
	case l.Price != nil:
		priceID = l.Price.ID
	case l.Pricing != nil && l.Pricing.PriceDetails != nil:
		priceID = l.Pricing.PriceDetails.Price
	}
	return l.Period.Start, l.Period.End, priceID
}

func (g *StripeGateway) SignatureHeader() string {
	return StripeSignatureHeader
}

// ParseNotification verifies a Stripe webhook and maps it to a subscription event.
func (g *StripeGateway) ParseNotification(_ context.Context, payload []byte, signature string) (*Notification, error) {
	if !json.Valid(payload) {
		return nil, ErrMalformedPayload
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, ErrMalformedPayload
	}

	n := &Notification{
		Provider: subscription.ProviderStripe,
		EventID:  event.ID,
		Type:     string(event.Type),
	}
	occurredAt := unixTime(event.Created)

	switch n.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripeSessionObject
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, malformed(err)
		}
		n.OrganizationID = orgFromMetadata(sess.Metadata, sess.ClientReferenceID)
		n.SubscriptionRef = string(sess.Subscription)
		if sess.Mode != "subscription" || (sess.PaymentStatus != "paid" && sess.PaymentStatus != "no_payment_required") {
			return n, nil
		}
		plan, _ := subscription.ParsePlan(sess.Metadata[MetadataPlan])
		n.Event = &subscription.Event{
			Kind: subscription.EventPaymentCaptured,
			Plan: plan,
			Refs: subscription.ProviderRefs{
				Provider:       subscription.ProviderStripe,
				CustomerID:     string(sess.Customer),
				SubscriptionID: string(sess.Subscription),
				LastOrderID:    sess.ID,
			},
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, malformed(err)
		}
		n.OrganizationID = orgFromMetadata(sub.Metadata, "")
		n.SubscriptionRef = sub.ID
		refs := subscription.ProviderRefs{
			Provider:       subscription.ProviderStripe,
			CustomerID:     string(sub.Customer),
			SubscriptionID: sub.ID,
		}

		status := stripeStatus(sub.Status)
		if n.Type == "customer.subscription.deleted" {
			status = subscription.StatusCancelled
		}

		switch status {
		case subscription.StatusActive:
			if sub.CancelAtPeriodEnd {
				n.Event = &subscription.Event{Kind: subscription.EventCancelRequested, AtPeriodEnd: true, Refs: refs}
				break
			}
			start, end, priceID := sub.period()
			plan, _ := g.prices.Plan(priceID)
			n.Event = &subscription.Event{
				Kind:   subscription.EventRemotePeriodRenewed,
				Plan:   plan,
				Period: stripePeriod(unixTime(start), unixTime(end)),
				Refs:   refs,
			}
		case subscription.StatusPastDue:
			n.Event = &subscription.Event{Kind: subscription.EventPaymentFailed, Refs: refs}
		case subscription.StatusCancelled:
			n.Event = &subscription.Event{Kind: subscription.EventRemoteCancelled, Refs: refs}
		}

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeInvoiceObject
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, malformed(err)
		}
		subID, meta := inv.subscription()
		n.OrganizationID = orgFromMetadata(meta, "")
		n.SubscriptionRef = subID
		if subID == "" {
			// One-off invoices are not subscription payments.
			return n, nil
		}
		refs := subscription.ProviderRefs{
			Provider:       subscription.ProviderStripe,
			CustomerID:     string(inv.Customer),
			SubscriptionID: subID,
			LastOrderID:    inv.ID,
		}

		if n.Type == "invoice.payment_failed" {
			n.Event = &subscription.Event{Kind: subscription.EventPaymentFailed, Refs: refs}
			break
		}
		start, end, priceID := inv.line()
		plan, ok := g.prices.Plan(priceID)
		if !ok {
			plan, _ = subscription.ParsePlan(meta[MetadataPlan])
		}
		n.Event = &subscription.Event{
			Kind:   subscription.EventPaymentCaptured,
			Plan:   plan,
			Period: stripePeriod(unixTime(start), unixTime(end)),
			Refs:   refs,
		}
	}

	if n.Event != nil {
		n.Event.ID = event.ID
		n.Event.Provider = subscription.ProviderStripe
		n.Event.OccurredAt = occurredAt
	}
	return n, nil
}

func orgFromMetadata(meta map[string]string, fallback string) uuid.UUID {
	raw := meta[MetadataOrganizationID]
	if raw == "" {
		raw = fallback
	}
	return parseOrganizationID(raw)
}

func parseOrganizationID(raw string) uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
}
