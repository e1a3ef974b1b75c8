package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/cache"
)

func TestRecentSet(t *testing.T) {
	t.Parallel()

	t.Run("add reports first insertion", func(t *testing.T) {
		t.Parallel()
		s := cache.NewRecentSet[string](3)

		assert.True(t, s.Add("a"))
		assert.False(t, s.Add("a"))
		assert.True(t, s.Contains("a"))
		assert.False(t, s.Contains("b"))
	})

	t.Run("evicts oldest insertion", func(t *testing.T) {
		t.Parallel()
		s := cache.NewRecentSet[string](2)

		s.Add("a")
		s.Add("b")
		// Lookups do not refresh position.
		require.True(t, s.Contains("a"))
		s.Add("c")

		assert.False(t, s.Contains("a"))
		assert.True(t, s.Contains("b"))
		assert.True(t, s.Contains("c"))
		// An evicted key can be admitted again.
		assert.True(t, s.Add("a"))
		assert.False(t, s.Contains("b"))
	})

	t.Run("concurrent add admits one winner", func(t *testing.T) {
		t.Parallel()
		s := cache.NewRecentSet[string](100)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 64 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.Add("evt") {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("panics on non-positive capacity", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { cache.NewRecentSet[string](0) })
	})
}
