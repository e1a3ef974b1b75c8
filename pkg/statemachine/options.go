package statemachine

import (
	"fmt"
)

// Option configures a transition table during construction.
type Option[S, E comparable, D any] func(*Table[S, E, D]) error

// TransitionOption configures a single transition with guards and actions.
type TransitionOption[S, E comparable, D any] func(*transitionConfig[S, E, D])

type transitionConfig[S, E comparable, D any] struct {
	guards  []Guard[S, E, D]
	actions []Action[S, E, D]
}

// New builds an immutable transition table from the given options.
func New[S, E comparable, D any](opts ...Option[S, E, D]) (*Table[S, E, D], error) {
	t := newTable[S, E, D]()

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// MustNew builds a transition table and panics if any option fails to apply.
// Intended for package-level tables initialised at start-up.
func MustNew[S, E comparable, D any](opts ...Option[S, E, D]) *Table[S, E, D] {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create transition table: %v", err))
	}
	return t
}

// WithTransition adds a single transition to the table.
func WithTransition[S, E comparable, D any](from, to S, event E, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return WithTransitionFrom([]S{from}, to, event, opts...)
}

// WithTransitionFrom adds the same transition out of each of the given source states.
func WithTransitionFrom[S, E comparable, D any](from []S, to S, event E, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return func(t *Table[S, E, D]) error {
		if len(from) == 0 {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, event)
		}

		cfg := &transitionConfig[S, E, D]{}
		for _, opt := range opts {
			opt(cfg)
		}

		for _, f := range from {
			t.add(Transition[S, E, D]{
				From:    f,
				To:      to,
				Event:   event,
				Guards:  cfg.guards,
				Actions: cfg.actions,
			})
		}
		return nil
	}
}

// WithSelfTransition adds a transition that keeps each of the given states and only runs
// guards and actions.
func WithSelfTransition[S, E comparable, D any](states []S, event E, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return func(t *Table[S, E, D]) error {
		for _, s := range states {
			if err := WithTransition(s, s, event, opts...)(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithGuard adds a single guard to a transition.
func WithGuard[S, E comparable, D any](guard Guard[S, E, D]) TransitionOption[S, E, D] {
	return func(cfg *transitionConfig[S, E, D]) {
		if guard != nil {
			cfg.guards = append(cfg.guards, guard)
		}
	}
}

// WithAction adds a single action to a transition.
func WithAction[S, E comparable, D any](action Action[S, E, D]) TransitionOption[S, E, D] {
	return func(cfg *transitionConfig[S, E, D]) {
		if action != nil {
			cfg.actions = append(cfg.actions, action)
		}
	}
}

// WithActions adds multiple actions to a transition.
func WithActions[S, E comparable, D any](actions ...Action[S, E, D]) TransitionOption[S, E, D] {
	return func(cfg *transitionConfig[S, E, D]) {
		for _, action := range actions {
			if action != nil {
				cfg.actions = append(cfg.actions, action)
			}
		}
	}
}
