package statemachine

import (
	"fmt"
)

// Guard evaluates whether a transition should be allowed for the given input.
type Guard[S, E comparable, D any] func(from S, event E, data D) bool

// Action transforms the data carried through a transition. Returning an error prevents the transition.
// Actions receive a value and return a value: they must not retain or mutate shared state.
type Action[S, E comparable, D any] func(from, to S, event E, data D) (D, error)

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition[S, E comparable, D any] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E, D]  // All must pass for transition to proceed
	Actions []Action[S, E, D] // Executed in order, each receiving the previous result
}

// Table is an immutable transition table. It holds no current state: callers pass the
// state in and get the next state back, which makes Fire a pure function of its inputs
// and the table safe for concurrent use without locking.
type Table[S, E comparable, D any] struct {
	transitions map[S]map[E][]Transition[S, E, D]
}

func newTable[S, E comparable, D any]() *Table[S, E, D] {
	return &Table[S, E, D]{
		transitions: make(map[S]map[E][]Transition[S, E, D]),
	}
}

func (t *Table[S, E, D]) add(tr Transition[S, E, D]) {
	if _, ok := t.transitions[tr.From]; !ok {
		t.transitions[tr.From] = make(map[E][]Transition[S, E, D])
	}
	// Multiple transitions allowed for same from/event to support guard-based branching
	t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
}

// Fire resolves the transition for (from, event), runs its actions over data and returns
// the target state with the transformed data. The input data is returned unchanged
// together with an error when no transition applies.
func (t *Table[S, E, D]) Fire(from S, event E, data D) (S, D, error) {
	tr, err := t.resolve(from, event, data)
	if err != nil {
		return from, data, err
	}

	out := data
	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		next, err := action(from, tr.To, event, out)
		if err != nil {
			return from, data, fmt.Errorf("action failed: %w", err)
		}
		out = next
	}

	return tr.To, out, nil
}

func (t *Table[S, E, D]) resolve(from S, event E, data D) (Transition[S, E, D], error) {
	var zero Transition[S, E, D]

	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		return zero, NewErrNoTransitionAvailable(fmt.Sprint(from), fmt.Sprint(event))
	}

	// First transition with passing guards wins (enables priority ordering)
	for _, tr := range candidates {
		if guardsPass(tr.Guards, from, event, data) {
			return tr, nil
		}
	}

	return zero, NewErrTransitionRejected(fmt.Sprint(from), fmt.Sprint(event))
}

func guardsPass[S, E comparable, D any](guards []Guard[S, E, D], from S, event E, data D) bool {
	for _, g := range guards {
		if g != nil && !g(from, event, data) {
			return false
		}
	}
	return true
}
