// Package subscription owns the subscription record of every organization and the
// rules that move it through its lifecycle.
//
// Each organization has at most one Subscription. It is created lazily on first
// access on the FREE plan, in TRIAL when the catalog grants a trial and ACTIVE
// otherwise. From then on the record changes only through Apply, a pure function
// that takes the current record, an Event and the current time and returns the
// next record together with an Outcome:
//
//   - OutcomeApplied: a transition fired
//   - OutcomeNoop: the event is not meaningful in the current status
//   - OutcomeStale: an ordered provider event older than the last one seen
//   - OutcomeDuplicate: the event was already applied
//   - OutcomeRejected: the payload violates a record invariant
//
// Every outcome except duplicate advances LastAppliedEventID, so replays of the
// same provider notification are recognised even when they changed nothing.
//
// # Persistence
//
// Store is the persistence boundary. Update is guarded by the record Version and
// records the provider notification Receipt atomically with the record, so two
// concurrent deliveries of one notification produce a single write. MemoryStore is
// the in-process implementation; the pgstore subpackage backs it with PostgreSQL.
//
// # Service
//
// Service is the only writer. ApplyEvent reloads and re-applies on version
// conflicts and notifies TransitionObserver callbacks after every persisted
// status change.
//
//	svc := subscription.NewService(store, orgs, catalog,
//	    subscription.WithLogger(log),
//	    subscription.WithObserver(m.Transition()),
//	)
//
//	res, err := svc.ApplyEvent(ctx, orgID, subscription.Event{
//	    Kind:        subscription.EventCancelRequested,
//	    AtPeriodEnd: true,
//	}, nil)
//
// # Plans
//
// Catalog holds the validated plan definitions. It is loaded from a PlansSource,
// either the built-in DefaultPlans or a YAML file.
package subscription
