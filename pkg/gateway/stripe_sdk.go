package gateway

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
)

// stripeSDK implements StripeAPI with the stripe-go client.
type stripeSDK struct {
	client *stripe.Client
}

func newStripeSDK(secretKey string) *stripeSDK {
	return &stripeSDK{client: stripe.NewClient(secretKey, nil)}
}

func (s *stripeSDK) CreateCheckoutSession(ctx context.Context, p StripeCheckoutParams) (*StripeCheckoutSession, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
		Metadata:          p.Metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: p.Metadata,
		},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	sess, err := s.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return convertStripeSession(sess), nil
}

func (s *stripeSDK) GetCheckoutSession(ctx context.Context, id string) (*StripeCheckoutSession, error) {
	sess, err := s.client.V1CheckoutSessions.Retrieve(ctx, id, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, stripeError(err)
	}
	return convertStripeSession(sess), nil
}

func (s *stripeSDK) GetSubscription(ctx context.Context, id string) (*StripeSubscription, error) {
	sub, err := s.client.V1Subscriptions.Retrieve(ctx, id, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, stripeError(err)
	}
	return convertStripeSubscription(sub), nil
}

func (s *stripeSDK) CancelSubscription(ctx context.Context, id, idempotencyKey string) error {
	params := &stripe.SubscriptionCancelParams{}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	_, err := s.client.V1Subscriptions.Cancel(ctx, id, params)
	return stripeError(err)
}

func (s *stripeSDK) CancelSubscriptionAtPeriodEnd(ctx context.Context, id, idempotencyKey string) error {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	_, err := s.client.V1Subscriptions.Update(ctx, id, params)
	return stripeError(err)
}

func convertStripeSession(sess *stripe.CheckoutSession) *StripeCheckoutSession {
	out := &StripeCheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
		ExpiresAt:     unixTime(sess.ExpiresAt),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out
}

func convertStripeSubscription(sub *stripe.Subscription) *StripeSubscription {
	out := &StripeSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CanceledAt:        unixTime(sub.CanceledAt),
		EndedAt:           unixTime(sub.EndedAt),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	// Billing periods live on the subscription items.
	if sub.Items != nil {
		if item, ok := lo.Find(sub.Items.Data, func(it *stripe.SubscriptionItem) bool { return it != nil }); ok {
			out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
			out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			if item.Price != nil {
				out.PriceID = item.Price.ID
			}
		}
	}
	return out
}

// stripeError converts stripe-go errors into *APIError so they can be classified.
func stripeError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return errors.Join(&APIError{
			StatusCode: se.HTTPStatusCode,
			Code:       string(se.Code),
			Message:    se.Msg,
		}, err)
	}
	return err
}
