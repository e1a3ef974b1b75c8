// Package webhook processes inbound payment provider notifications.
//
// A Processor holds one gateway.NotificationParser per provider. For each
// notification it:
//
//  1. verifies the signature and decodes the payload through the parser;
//  2. drops duplicates, first against a bounded in-memory set of recent event
//     IDs, then against the persisted (provider, event_id) receipts;
//  3. resolves the organization from the checkout metadata, or from the record
//     linked to the remote subscription;
//  4. applies the canonical event through subscription.Service, storing the new
//     state and the receipt together.
//
// Notification types that do not affect subscriptions are acknowledged as
// StatusIgnored. Events the state machine rejects are acknowledged as
// StatusRejected so the provider stops retrying them.
//
// # HTTP
//
//	processor := webhook.NewProcessor(subs, []gateway.NotificationParser{stripe, paddle},
//	    webhook.WithLogger(log),
//	)
//	r.Mount("/webhooks", processor.Handler())
//
// The handler maps errors to statuses that drive provider retries:
//
//	200  applied, duplicate, ignored, stale, noop, rejected
//	400  ErrSignatureInvalid, ErrPayloadMalformed
//	404  unknown provider, ErrUnknownOrganization
//	503  storage or concurrency failures
package webhook
