package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Window is a closed time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window does not end before it starts.
func (w Window) Valid() bool {
	return !w.End.Before(w.Start)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ProviderRefs link a subscription to its remote counterpart.
// Only one gateway owns a subscription at a time.
type ProviderRefs struct {
	Provider       Provider
	CustomerID     string
	SubscriptionID string
	LastOrderID    string
}

// IsZero reports whether no provider is linked.
func (r ProviderRefs) IsZero() bool {
	return r.Provider == ProviderNone && r.CustomerID == "" && r.SubscriptionID == "" && r.LastOrderID == ""
}

// merge overlays the non-empty fields of other. A different provider replaces the refs entirely.
func (r ProviderRefs) merge(other ProviderRefs) ProviderRefs {
	if other.IsZero() {
		return r
	}
	if other.Provider != ProviderNone && other.Provider != r.Provider {
		return other
	}
	if other.CustomerID != "" {
		r.CustomerID = other.CustomerID
	}
	if other.SubscriptionID != "" {
		r.SubscriptionID = other.SubscriptionID
	}
	if other.LastOrderID != "" {
		r.LastOrderID = other.LastOrderID
	}
	return r
}

// Subscription is an organization's billing record. Each organization has exactly one.
// It is only ever changed through Apply.
type Subscription struct {
	OrganizationID    uuid.UUID
	Plan              Plan
	Status            Status
	TrialWindow       *Window // Set when a trial starts, kept after it ends
	BillingPeriod     *Window
	CancelAtPeriodEnd bool
	CancelledAt       *time.Time
	Refs              ProviderRefs

	LastAppliedEventID string
	LastEventAt        time.Time // Provider sequence of the newest applied event

	Version   int64 // Incremented by the store on every write
	CreatedAt time.Time
	UpdatedAt time.Time
	CheckedAt time.Time // Last successful drift check; written by MarkChecked only
}

// SeenAt returns the later of the last write and the last drift check. The
// reconciliation sweep orders and filters records by it.
func (s *Subscription) SeenAt() time.Time {
	if s.CheckedAt.After(s.UpdatedAt) {
		return s.CheckedAt
	}
	return s.UpdatedAt
}

// Clone returns a deep copy.
func (s Subscription) Clone() Subscription {
	if s.TrialWindow != nil {
		w := *s.TrialWindow
		s.TrialWindow = &w
	}
	if s.BillingPeriod != nil {
		w := *s.BillingPeriod
		s.BillingPeriod = &w
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		s.CancelledAt = &t
	}
	return s
}

// Exists reports whether the record has been created.
func (s *Subscription) Exists() bool {
	return s.Status != StatusNone
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrial
}

// IsActive returns true if the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCancelled returns true if the subscription is cancelled.
func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// HasRemote reports whether a gateway subscription is linked.
func (s *Subscription) HasRemote() bool {
	return s.Refs.Provider != ProviderNone && s.Refs.SubscriptionID != ""
}

// TrialExpiredAt reports whether the trial window has ended at the given time.
func (s *Subscription) TrialExpiredAt(now time.Time) bool {
	if s.TrialWindow == nil {
		return false
	}
	return !s.TrialWindow.End.After(now)
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a given time.
// Returns 0 if not in trial or trial has expired.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialWindow == nil {
		return 0
	}

	remaining := s.TrialWindow.End.Sub(now)
	if remaining <= 0 {
		return 0
	}

	// Nearest whole day
	days := remaining.Hours() / 24
	return int(days + 0.5)
}
