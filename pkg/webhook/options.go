package webhook

import (
	"log/slog"
	"time"
)

// ProcessedHook is called after each notification is handled.
type ProcessedHook func(result Result, err error)

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecentCapacity sets how many recently processed event IDs are kept in
// memory before falling back to the persisted receipts. Default is 10000.
func WithRecentCapacity(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.recentCapacity = n
		}
	}
}

// WithClock overrides the time source used for receipts.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithOnProcessed sets a callback invoked after every notification.
// Useful for metrics.
func WithOnProcessed(hook ProcessedHook) Option {
	return func(p *Processor) {
		p.onProcessed = hook
	}
}

// WithMaxPayloadSize bounds the request body accepted by Handler. Default is 1MB.
func WithMaxPayloadSize(n int64) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPayload = n
		}
	}
}
