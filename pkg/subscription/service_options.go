package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for transitions.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConflictRetries sets how many times ApplyEvent reloads and re-applies after a
// concurrent update before giving up. Default is 5.
func WithConflictRetries(n int) ServiceOption {
	return func(s *service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithObserver registers a callback invoked after each persisted status change.
func WithObserver(obs TransitionObserver) ServiceOption {
	return func(s *service) {
		if obs != nil {
			s.observers = append(s.observers, obs)
		}
	}
}
