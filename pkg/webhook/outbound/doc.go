// Package outbound posts signed subscription events to the endpoint each
// organization configures.
//
// A Dispatcher is registered as a subscription.TransitionObserver. Every
// persisted status change is queued and delivered by Run as a JSON Payload:
//
//	{
//	  "id": "evt_01J...",
//	  "type": "subscription.payment_captured",
//	  "organization_id": "6f1c...",
//	  "timestamp": "2025-03-01T12:00:00Z",
//	  "data": {"plan": "PRO", "status": "ACTIVE", "previous_status": "TRIAL", ...}
//	}
//
// Organizations without a WebhookURL are skipped. When the organization has a
// WebhookSecret each request carries
//
//	X-Webhook-ID         delivery ID, equal to the payload id
//	X-Webhook-Timestamp  unix seconds at signing time
//	X-Webhook-Signature  sha256=<hex HMAC-SHA256 of "<timestamp>.<body>">
//
// Network errors, 5xx, 408, 425 and 429 responses are retried with exponential
// backoff. Other 4xx responses are final.
//
//	d := outbound.New(orgs, outbound.WithLogger(log))
//	subs := subscription.NewService(store, orgs, catalog, subscription.WithObserver(d.Observer()))
//	g.Go(d.Run(ctx))
package outbound
