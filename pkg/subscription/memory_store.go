package subscription

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type receiptKey struct {
	provider Provider
	eventID  string
}

// MemoryStore is an in-process Store. It is safe for concurrent use and enforces
// the same version and receipt rules as the Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]Subscription
	receipts map[receiptKey]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[uuid.UUID]Subscription),
		receipts: make(map[receiptKey]time.Time),
	}
}

func (m *MemoryStore) Get(_ context.Context, orgID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[orgID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	out := sub.Clone()
	return &out, nil
}

func (m *MemoryStore) FindByProviderSubscription(_ context.Context, provider Provider, subscriptionID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		if sub.Refs.Provider == provider && sub.Refs.SubscriptionID == subscriptionID {
			out := sub.Clone()
			return &out, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[sub.OrganizationID]; ok {
		return ErrSubscriptionAlreadyExists
	}
	sub.Version = 1
	m.subs[sub.OrganizationID] = sub.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription, expectedVersion int64, receipt *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.subs[sub.OrganizationID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrencyConflict
	}

	if receipt != nil {
		key := receiptKey{provider: receipt.Provider, eventID: receipt.EventID}
		if _, seen := m.receipts[key]; seen {
			return ErrDuplicateReceipt
		}
		m.receipts[key] = receipt.ReceivedAt
	}

	sub.Version = expectedVersion + 1
	sub.CheckedAt = stored.CheckedAt
	m.subs[sub.OrganizationID] = sub.Clone()
	return nil
}

func (m *MemoryStore) HasReceipt(_ context.Context, provider Provider, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.receipts[receiptKey{provider: provider, eventID: eventID}]
	return ok, nil
}

func (m *MemoryStore) ListExpiredTrials(_ context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return m.list(limit, func(s Subscription) bool {
		return s.Status == StatusTrial && s.TrialExpiredAt(now)
	}), nil
}

func (m *MemoryStore) ListStale(_ context.Context, seenBefore time.Time, after StaleCursor, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.subs {
		if !sub.HasRemote() || sub.Status == StatusCancelled || !sub.SeenAt().Before(seenBefore) || !after.before(&sub) {
			continue
		}
		c := sub.Clone()
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		if c := a.SeenAt().Compare(b.SeenAt()); c != 0 {
			return c
		}
		return bytes.Compare(a.OrganizationID[:], b.OrganizationID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkChecked(_ context.Context, orgID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[orgID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if at.After(sub.CheckedAt) {
		sub.CheckedAt = at
		m.subs[orgID] = sub
	}
	return nil
}

func (m *MemoryStore) PruneReceipts(_ context.Context, receivedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, at := range m.receipts {
		if at.Before(receivedBefore) {
			delete(m.receipts, key)
			n++
		}
	}
	return n, nil
}

// list returns matching records ordered by last update, oldest first.
func (m *MemoryStore) list(limit int, match func(Subscription) bool) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.subs {
		if match(sub) {
			c := sub.Clone()
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
