// Package checkout drives plan changes that start on the application side.
//
// Upgrades go through a hosted checkout. CreateCheckout tries the primary gateway
// and falls back to the secondary exactly once when the primary fails, all within
// one timeout. The customer returns with an order ID, and CompleteCheckout captures
// it and activates the plan without waiting for the provider's notification.
//
// Downgrades never touch a gateway except when moving to FREE with a linked
// remote subscription, which is then cancelled at the end of the paid period.
//
// Usage:
//
//	o := checkout.New(subs, stripe,
//	    checkout.WithSecondary(paddle),
//	    checkout.WithTimeout(20*time.Second),
//	    checkout.WithLogger(log),
//	)
//	res, err := o.CreateCheckout(ctx, orgID, "pro", successURL, cancelURL)
//	if errors.Is(err, checkout.ErrDowngradeRequiresLocalChange) {
//	    _, err = o.Downgrade(ctx, orgID, "pro")
//	}
//
// Handler exposes the same operations over HTTP.
package checkout
