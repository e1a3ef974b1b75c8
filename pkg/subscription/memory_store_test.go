package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		sub := newTrial(t)

		require.NoError(t, store.Create(ctx, &sub))
		assert.Equal(t, int64(1), sub.Version)
		assert.ErrorIs(t, store.Create(ctx, &sub), subscription.ErrSubscriptionAlreadyExists)

		got, err := store.Get(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, sub, *got)

		_, err = store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		sub := newTrial(t)
		require.NoError(t, store.Create(ctx, &sub))

		got, err := store.Get(ctx, sub.OrganizationID)
		require.NoError(t, err)
		got.TrialWindow.End = time.Time{}

		again, err := store.Get(ctx, sub.OrganizationID)
		require.NoError(t, err)
		assert.False(t, again.TrialWindow.End.IsZero())
	})

	t.Run("optimistic version", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		sub := newTrial(t)
		require.NoError(t, store.Create(ctx, &sub))

		next, _, err := subscription.Apply(sub, captured("evt_1", t0.Add(time.Hour), subscription.PlanPro), t0.Add(time.Hour))
		require.NoError(t, err)

		stale := next.Clone()
		require.NoError(t, store.Update(ctx, &next, 1, nil))
		assert.Equal(t, int64(2), next.Version)
		assert.ErrorIs(t, store.Update(ctx, &stale, 1, nil), subscription.ErrConcurrencyConflict)

		found, err := store.FindByProviderSubscription(ctx, subscription.ProviderStripe, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, sub.OrganizationID, found.OrganizationID)
	})

	t.Run("receipts are unique and prunable", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		sub := newTrial(t)
		require.NoError(t, store.Create(ctx, &sub))
		receipt := &subscription.Receipt{Provider: subscription.ProviderPaddle, EventID: "ntf_1", ReceivedAt: t0}

		require.NoError(t, store.Update(ctx, &sub, 1, receipt))
		assert.ErrorIs(t, store.Update(ctx, &sub, 2, receipt), subscription.ErrDuplicateReceipt)

		seen, err := store.HasReceipt(ctx, subscription.ProviderPaddle, "ntf_1")
		require.NoError(t, err)
		assert.True(t, seen)

		n, err := store.PruneReceipts(ctx, t0.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		seen, err = store.HasReceipt(ctx, subscription.ProviderPaddle, "ntf_1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("sweep queries", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()

		trial := newTrial(t)
		require.NoError(t, store.Create(ctx, &trial))

		paid, _, err := subscription.Apply(newTrial(t), captured("evt_1", t0.Add(time.Hour), subscription.PlanPro), t0.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.Create(ctx, &paid))

		expired, err := store.ListExpiredTrials(ctx, t0.AddDate(0, 0, 14), 10)
		require.NoError(t, err)
		// The paid record left TRIAL so only the untouched trial is returned.
		require.Len(t, expired, 1)
		assert.Equal(t, trial.OrganizationID, expired[0].OrganizationID)

		none, err := store.ListExpiredTrials(ctx, t0.AddDate(0, 0, 13), 10)
		require.NoError(t, err)
		assert.Empty(t, none)

		stale, err := store.ListStale(ctx, t0.Add(2*time.Hour), subscription.StaleCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, paid.OrganizationID, stale[0].OrganizationID)

		limited, err := store.ListStale(ctx, t0.Add(2*time.Hour), subscription.StaleCursor{}, 0)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("stale pages resume after the cursor", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()

		want := make(map[uuid.UUID]bool)
		for range 5 {
			paid, _, err := subscription.Apply(newTrial(t), captured("evt_1", t0.Add(time.Hour), subscription.PlanPro), t0.Add(time.Hour))
			require.NoError(t, err)
			require.NoError(t, store.Create(ctx, &paid))
			want[paid.OrganizationID] = true
		}

		got := make(map[uuid.UUID]bool)
		var after subscription.StaleCursor
		for range 3 {
			page, err := store.ListStale(ctx, t0.Add(2*time.Hour), after, 2)
			require.NoError(t, err)
			for _, sub := range page {
				assert.False(t, got[sub.OrganizationID], "record returned twice")
				got[sub.OrganizationID] = true
			}
			if len(page) == 0 {
				break
			}
			after = subscription.CursorAfter(page[len(page)-1])
		}
		assert.Equal(t, want, got)
	})

	t.Run("checked records leave the stale window", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()

		paid, _, err := subscription.Apply(newTrial(t), captured("evt_1", t0.Add(time.Hour), subscription.PlanPro), t0.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.Create(ctx, &paid))

		require.NoError(t, store.MarkChecked(ctx, paid.OrganizationID, t0.Add(3*time.Hour)))
		assert.ErrorIs(t, store.MarkChecked(ctx, uuid.New(), t0), subscription.ErrSubscriptionNotFound)

		stale, err := store.ListStale(ctx, t0.Add(2*time.Hour), subscription.StaleCursor{}, 0)
		require.NoError(t, err)
		assert.Empty(t, stale)

		got, err := store.Get(ctx, paid.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
		assert.Equal(t, t0.Add(3*time.Hour), got.SeenAt())

		// A later write keeps the checkpoint.
		next := got.Clone()
		require.NoError(t, store.Update(ctx, &next, 1, nil))
		got, err = store.Get(ctx, paid.OrganizationID)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(3*time.Hour), got.CheckedAt)

		stale, err = store.ListStale(ctx, t0.Add(4*time.Hour), subscription.StaleCursor{}, 0)
		require.NoError(t, err)
		assert.Len(t, stale, 1)
	})
}
