// Package notify emails organization owners when their subscription changes
// state: trial expiry, failed and recovered payments, activation and
// cancellation.
//
// The notifier registers as a subscription.TransitionObserver and delivers from
// its own goroutine with retries:
//
//	n := notify.New(orgs, catalog, sender, notify.WithLogger(log))
//	subs := subscription.NewService(store, orgs, catalog,
//	    subscription.WithObserver(n.Observer()),
//	)
//	g.Go(n.Run(ctx))
package notify
