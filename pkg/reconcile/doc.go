// Package reconcile runs the periodic billing sweep.
//
// Each sweep:
//
//  1. expires trials whose window has ended, with one deterministic event ID per
//     trial so that repeated sweeps never expire the same trial twice;
//  2. fetches the provider's view of subscriptions not updated for
//     Config.DriftThreshold and applies the difference, but only when the
//     provider snapshot is newer than the last applied provider event;
//  3. prunes webhook receipts older than Config.ReceiptRetention.
//
// Records are processed on a bounded pool. A failing or panicking record is
// logged and counted in the Report and never aborts the sweep. Remote fetches
// share a rate limiter and are retried with exponential backoff.
//
// Usage:
//
//	s := reconcile.New(subs, store, []gateway.Gateway{stripe, paddle}, cfg,
//	    reconcile.WithLogger(log),
//	)
//	g.Go(s.Run(ctx))
package reconcile
