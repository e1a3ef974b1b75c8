package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/gateway"
	"github.com/dmitrymomot/billing/pkg/subscription"
)

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()
	org := uuid.New()

	key := gateway.IdempotencyKey(org, gateway.OpCheckout, subscription.PlanPro)
	assert.Len(t, key, 64)
	assert.Equal(t, key, gateway.IdempotencyKey(org, gateway.OpCheckout, subscription.PlanPro))
	assert.NotEqual(t, key, gateway.IdempotencyKey(org, gateway.OpCheckout, subscription.PlanEnterprise))
	assert.NotEqual(t, key, gateway.IdempotencyKey(org, gateway.OpCancel, subscription.PlanPro))
	assert.NotEqual(t, key, gateway.IdempotencyKey(uuid.New(), gateway.OpCheckout, subscription.PlanPro))
}

func TestIdempotencyStores(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]gateway.IdempotencyStore{
		"memory": gateway.NewMemoryIdempotencyStore(),
		"redis":  gateway.NewRedisIdempotencyStore(client, "test:"),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			key := name + "-key"

			_, ok, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			stored, err := store.Put(ctx, key, []byte("first"), time.Hour)
			require.NoError(t, err)
			assert.True(t, stored)

			stored, err = store.Put(ctx, key, []byte("second"), time.Hour)
			require.NoError(t, err)
			assert.False(t, stored)

			val, ok, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("first"), val)

			require.NoError(t, store.Set(ctx, key, []byte("third"), time.Hour))
			val, _, err = store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("third"), val)

			require.NoError(t, store.Delete(ctx, key))
			_, ok, err = store.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisIdempotencyStore_Expiry(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := gateway.NewRedisIdempotencyStore(client, "")
	ctx := context.Background()

	_, err := store.Put(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("billing:idempotency:k"))

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
