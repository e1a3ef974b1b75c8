package reconcile

import (
	"log/slog"
	"time"
)

// SweepHook receives the report of every finished sweep.
type SweepHook func(Report)

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to select expired trials and stale records.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSweepHook(hook SweepHook) Option {
	return func(s *Scheduler) {
		s.onSweep = hook
	}
}

// WithRunOnStart makes Start sweep once before waiting for the first tick.
func WithRunOnStart() Option {
	return func(s *Scheduler) {
		s.runOnStart = true
	}
}
