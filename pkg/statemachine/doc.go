// Package statemachine provides an immutable, generic transition table for
// modelling finite state machines as pure functions.
//
// A Table holds no current state. Callers pass the state they loaded and the
// event they received, and Fire returns the next state together with the data
// produced by the transition's actions. Nothing is mutated, so one table built at
// start-up can be shared by every goroutine.
//
// # Usage
//
//	type status string
//	type event string
//
//	table := statemachine.MustNew[status, event, Order](
//	    statemachine.WithTransition[status, event, Order]("draft", "placed", "place",
//	        statemachine.WithGuard(func(from status, e event, o Order) bool { return o.Total > 0 }),
//	        statemachine.WithAction(func(from, to status, e event, o Order) (Order, error) {
//	            o.Status = to
//	            return o, nil
//	        }),
//	    ),
//	)
//
//	next, order, err := table.Fire("draft", "place", order)
//
// Several transitions may share a (from, event) pair. The first one whose guards
// all pass wins, which allows guard-based branching with priority ordering.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* pair not defined */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* guards vetoed */ }
package statemachine
