// Package gateway adapts remote payment providers to the subscription lifecycle.
//
// Two adapters are provided: StripeGateway (primary, stripe-go) and PaddleGateway
// (secondary, paddle-go-sdk). Both implement Adapter, which combines the outbound
// Gateway operations with NotificationParser for inbound webhooks.
//
// # Errors
//
// Every failure is tagged with exactly one of two sentinels:
//
//   - ErrGatewayUnavailable: transient. Network errors, timeouts, provider 5xx or
//     429, an open circuit. A different gateway may succeed.
//   - ErrGatewayRejected: permanent for this request. Provider 4xx, a plan without
//     a configured price, an unpaid or foreign order.
//
// Use IsUnavailable and IsRejected to branch on them.
//
// # Idempotency
//
// Mutating calls derive a key from the organization, the operation and the plan
// (IdempotencyKey). Stripe receives it as the Idempotency-Key header. Paddle has
// no native support, so PaddleGateway records results in an IdempotencyStore and
// returns the recorded result on a retry:
//
//	store := gateway.NewRedisIdempotencyStore(redisClient, "")
//	paddle, err := gateway.NewPaddleGateway(cfg, gateway.WithIdempotencyStore(store))
//
// # Circuit breaking
//
// WithCircuitBreaker wraps any Gateway. Only transient failures count towards
// opening the breaker; while it is open calls fail fast with ErrGatewayUnavailable.
//
//	primary := gateway.WithCircuitBreaker(stripe, gateway.NewCircuitBreaker(5, 30*time.Second, 2))
//
// # Notifications
//
// ParseNotification verifies the provider signature and maps the payload to at
// most one subscription.Event. Notification types that do not affect a
// subscription produce a Notification with a nil Event.
package gateway
