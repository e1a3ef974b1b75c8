package reconcile

import "errors"

var (
	// ErrSweepInProgress is returned by Sweep when another sweep is still running.
	ErrSweepInProgress = errors.New("reconciliation sweep already in progress")

	ErrNoGateway = errors.New("no gateway configured for provider")
)
