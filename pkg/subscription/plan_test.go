package subscription_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/subscription"
)

const plansYAML = `
plans:
  - plan: free
    name: Free
    rank: 0
    trial_days: 7
  - plan: Pro
    name: Pro
    rank: 10
    features: [api]
  - plan: ENTERPRISE
    name: Enterprise
    rank: 20
    features: [api, sso]
`

func TestCatalog(t *testing.T) {
	t.Parallel()

	catalog := subscription.MustCatalog(subscription.DefaultPlans())

	t.Run("lookup is case insensitive", func(t *testing.T) {
		t.Parallel()
		def, err := catalog.Lookup("pro")
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanPro, def.Plan)

		_, err = catalog.Lookup("platinum")
		assert.ErrorIs(t, err, subscription.ErrUnknownPlan)
	})

	t.Run("downgrade follows rank", func(t *testing.T) {
		t.Parallel()
		assert.True(t, catalog.IsDowngrade(subscription.PlanEnterprise, subscription.PlanPro))
		assert.True(t, catalog.IsDowngrade(subscription.PlanPro, subscription.PlanFree))
		assert.False(t, catalog.IsDowngrade(subscription.PlanFree, subscription.PlanPro))
		assert.False(t, catalog.IsDowngrade(subscription.PlanPro, subscription.PlanPro))
		assert.False(t, catalog.IsDowngrade(subscription.Plan("GOLD"), subscription.PlanFree))
	})

	t.Run("plans ordered by rank", func(t *testing.T) {
		t.Parallel()
		defs := catalog.Plans()
		require.Len(t, defs, 3)
		assert.Equal(t, subscription.PlanFree, defs[0].Plan)
		assert.Equal(t, subscription.PlanEnterprise, defs[2].Plan)
	})

	t.Run("features", func(t *testing.T) {
		t.Parallel()
		ent, err := catalog.Get(subscription.PlanEnterprise)
		require.NoError(t, err)
		assert.True(t, ent.HasFeature(subscription.FeatureSSO))

		free, err := catalog.Get(subscription.PlanFree)
		require.NoError(t, err)
		assert.False(t, free.HasFeature(subscription.FeatureAPI))
		assert.Equal(t, 14, catalog.DefaultTrialDays())
	})
}

func TestNewCatalog_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func([]subscription.PlanDefinition) []subscription.PlanDefinition
	}{
		{
			name: "missing plan",
			mutate: func(defs []subscription.PlanDefinition) []subscription.PlanDefinition {
				return defs[:2]
			},
		},
		{
			name: "duplicate rank",
			mutate: func(defs []subscription.PlanDefinition) []subscription.PlanDefinition {
				defs[2].Rank = defs[1].Rank
				return defs
			},
		},
		{
			name: "unknown plan",
			mutate: func(defs []subscription.PlanDefinition) []subscription.PlanDefinition {
				return append(defs, subscription.PlanDefinition{Plan: "GOLD", Rank: 9})
			},
		},
		{
			name: "negative trial",
			mutate: func(defs []subscription.PlanDefinition) []subscription.PlanDefinition {
				defs[0].TrialDays = -1
				return defs
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := subscription.NewCatalog(tt.mutate(subscription.DefaultPlans()))
			assert.ErrorIs(t, err, subscription.ErrInvalidPlanConfiguration)
		})
	}

	assert.Panics(t, func() { subscription.MustCatalog(nil) })
}

func TestPlanSources(t *testing.T) {
	t.Parallel()

	t.Run("yaml normalises plan keys", func(t *testing.T) {
		t.Parallel()
		defs, err := subscription.ParsePlansYAML([]byte(plansYAML))
		require.NoError(t, err)
		require.Len(t, defs, 3)
		assert.Equal(t, subscription.PlanFree, defs[0].Plan)
		assert.Equal(t, subscription.PlanPro, defs[1].Plan)
		assert.Equal(t, []subscription.Feature{subscription.FeatureAPI, subscription.FeatureSSO}, defs[2].Features)
	})

	t.Run("yaml file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0o600))

		catalog, err := subscription.LoadCatalog(context.Background(), subscription.NewYAMLSource(path))
		require.NoError(t, err)
		assert.Equal(t, 7, catalog.DefaultTrialDays())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.LoadCatalog(context.Background(), subscription.NewYAMLSource(filepath.Join(t.TempDir(), "nope.yaml")))
		assert.ErrorIs(t, err, subscription.ErrFailedToLoadPlans)
	})

	t.Run("bad plan key", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.ParsePlansYAML([]byte("plans:\n  - plan: gold\n"))
		assert.ErrorIs(t, err, subscription.ErrFailedToLoadPlans)
		assert.ErrorIs(t, err, subscription.ErrUnknownPlan)
	})

	t.Run("memory source copies definitions", func(t *testing.T) {
		t.Parallel()
		src := subscription.NewMemorySource()
		defs, err := src.Load(context.Background())
		require.NoError(t, err)
		defs[1].Features[0] = subscription.FeatureSSO

		again, err := src.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, subscription.FeatureAPI, again[1].Features[0])
	})
}
