package outbound

import (
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout bounds a single delivery attempt. Default is 10s.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRetry sets the attempts per event and the initial backoff.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = uint64(attempts)
		}
		if initial > 0 {
			d.backoff = initial
		}
	}
}

// WithQueueSize bounds the number of events waiting for delivery.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDeliveryHook is called once per queued event after delivery finished.
// Useful for metrics.
func WithDeliveryHook(hook DeliveryHook) Option {
	return func(d *Dispatcher) {
		d.onDelivery = hook
	}
}
