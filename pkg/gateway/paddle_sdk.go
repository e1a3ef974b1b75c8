package gateway

import (
	"context"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/samber/lo"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

type signatureVerifier interface {
	Verify(req *http.Request) (bool, error)
}

func newPaddleVerifier(secret string) signatureVerifier {
	return paddle.NewWebhookVerifier(secret)
}

// paddleSDK implements PaddleAPI with paddle-go-sdk.
type paddleSDK struct {
	client *paddle.SDK
}

func newPaddleSDK(cfg PaddleConfig) (*paddleSDK, error) {
	var (
		client *paddle.SDK
		err    error
	)
	if cfg.Sandbox() {
		client, err = paddle.NewSandbox(cfg.APIKey)
	} else {
		client, err = paddle.New(cfg.APIKey)
	}
	if err != nil {
		return nil, err
	}
	return &paddleSDK{client: client}, nil
}

func (s *paddleSDK) CreateTransaction(ctx context.Context, p PaddleTransactionParams) (*PaddleTransaction, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  p.PriceID,
		Quantity: 1,
	})

	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData(p.CustomData),
	}
	if p.CheckoutURL != "" {
		req.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(p.CheckoutURL),
		}
	}

	tx, err := s.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	return convertPaddleTransaction(tx), nil
}

func (s *paddleSDK) GetTransaction(ctx context.Context, id string) (*PaddleTransaction, error) {
	tx, err := s.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: id,
	})
	if err != nil {
		return nil, err
	}
	return convertPaddleTransaction(tx), nil
}

func (s *paddleSDK) GetSubscription(ctx context.Context, id string) (*PaddleSubscription, error) {
	sub, err := s.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: id,
	})
	if err != nil {
		return nil, err
	}

	out := &PaddleSubscription{
		ID:              sub.ID,
		Status:          string(sub.Status),
		CustomerID:      sub.CustomerID,
		CanceledAt:      parsePaddleTime(lo.FromPtr(sub.CanceledAt)),
		UpdatedAt:       parsePaddleTime(sub.UpdatedAt),
		ScheduledCancel: sub.ScheduledChange != nil && string(sub.ScheduledChange.Action) == "cancel",
		CustomData:      map[string]any(sub.CustomData),
	}
	if len(sub.Items) > 0 {
		out.PriceID = sub.Items[0].Price.ID
	}
	if sub.CurrentBillingPeriod != nil {
		out.CurrentPeriod = paddlePeriod(sub.CurrentBillingPeriod.StartsAt, sub.CurrentBillingPeriod.EndsAt)
	}
	return out, nil
}

func (s *paddleSDK) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error {
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}
	_, err := s.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: id,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	return err
}

func convertPaddleTransaction(tx *paddle.Transaction) *PaddleTransaction {
	out := &PaddleTransaction{
		ID:             tx.ID,
		Status:         string(tx.Status),
		CustomerID:     lo.FromPtr(tx.CustomerID),
		SubscriptionID: lo.FromPtr(tx.SubscriptionID),
		CustomData:     map[string]any(tx.CustomData),
		BilledAt:       parsePaddleTime(lo.FromPtr(tx.BilledAt)),
	}
	if tx.Checkout != nil {
		out.CheckoutURL = lo.FromPtr(tx.Checkout.URL)
	}
	if len(tx.Items) > 0 {
		out.PriceID = tx.Items[0].Price.ID
	}
	if tx.BillingPeriod != nil {
		out.BillingPeriod = paddlePeriod(tx.BillingPeriod.StartsAt, tx.BillingPeriod.EndsAt)
	}
	return out
}

func parsePaddleTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func paddlePeriod(start, end string) *subscription.Window {
	s, e := parsePaddleTime(start), parsePaddleTime(end)
	if s.IsZero() || e.IsZero() {
		return nil
	}
	return &subscription.Window{Start: s, End: e}
}
