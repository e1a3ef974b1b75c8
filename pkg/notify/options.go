package notify

import (
	"log/slog"
	"time"
)

// Option configures a Notifier.
type Option func(*Notifier)

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithQueueSize bounds the number of notices waiting for delivery.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithRetry sets the delivery attempts per notice and the initial backoff.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = uint64(attempts)
		}
		if initial > 0 {
			n.backoff = initial
		}
	}
}

// WithSupportEmail adds a contact line to every notice.
func WithSupportEmail(addr string) Option {
	return func(n *Notifier) {
		n.supportEmail = addr
	}
}
