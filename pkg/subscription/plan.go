package subscription

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// PlanDefinition describes a plan tier and its commercial properties.
// Rank orders tiers: moving to a lower rank is a downgrade.
type PlanDefinition struct {
	Plan        Plan      `yaml:"plan"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Rank        int       `yaml:"rank"`
	TrialDays   int       `yaml:"trial_days"`
	Features    []Feature `yaml:"features"`
}

// TrialEndsAt calculates when a trial started at startedAt ends.
// Returns startedAt unchanged if the plan has no trial.
func (p PlanDefinition) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// HasFeature reports whether the plan grants the feature.
func (p PlanDefinition) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// DefaultPlans returns the built-in catalog used when no plan file is configured.
func DefaultPlans() []PlanDefinition {
	return []PlanDefinition{
		{
			Plan:      PlanFree,
			Name:      "Free",
			Rank:      0,
			TrialDays: 14,
		},
		{
			Plan:     PlanPro,
			Name:     "Pro",
			Rank:     1,
			Features: []Feature{FeatureAPI, FeatureAdvancedReports},
		},
		{
			Plan:     PlanEnterprise,
			Name:     "Enterprise",
			Rank:     2,
			Features: []Feature{FeatureAPI, FeatureAdvancedReports, FeatureSSO, FeatureAuditLog, FeaturePrioritySupport, FeatureCustomDomain},
		},
	}
}

// Catalog is an immutable, validated set of plan definitions.
type Catalog struct {
	plans map[Plan]PlanDefinition
}

// NewCatalog validates the definitions and builds a catalog.
// Every known plan must be defined exactly once, and ranks must be unique.
func NewCatalog(defs []PlanDefinition) (*Catalog, error) {
	if err := validatePlans(defs); err != nil {
		return nil, err
	}

	c := &Catalog{plans: make(map[Plan]PlanDefinition, len(defs))}
	for _, d := range defs {
		d.Features = slices.Clone(d.Features)
		c.plans[d.Plan] = d
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on invalid input.
func MustCatalog(defs []PlanDefinition) *Catalog {
	c, err := NewCatalog(defs)
	if err != nil {
		panic(fmt.Sprintf("subscription: %v", err))
	}
	return c
}

// Get returns the definition of a plan.
func (c *Catalog) Get(p Plan) (PlanDefinition, error) {
	d, ok := c.plans[p]
	if !ok {
		return PlanDefinition{}, ErrUnknownPlan
	}
	return d, nil
}

// Lookup resolves a user-supplied plan key (any casing) to its definition.
func (c *Catalog) Lookup(key string) (PlanDefinition, error) {
	p, err := ParsePlan(key)
	if err != nil {
		return PlanDefinition{}, err
	}
	return c.Get(p)
}

// IsDowngrade reports whether moving from current to target lowers the tier.
func (c *Catalog) IsDowngrade(current, target Plan) bool {
	cur, err := c.Get(current)
	if err != nil {
		return false
	}
	tgt, err := c.Get(target)
	if err != nil {
		return false
	}
	return tgt.Rank < cur.Rank
}

// DefaultTrialDays is the trial length granted to newly created subscriptions.
func (c *Catalog) DefaultTrialDays() int {
	return c.plans[PlanFree].TrialDays
}

// Plans returns all definitions ordered by rank.
func (c *Catalog) Plans() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(c.plans))
	for _, d := range c.plans {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b PlanDefinition) int { return a.Rank - b.Rank })
	return out
}

func validatePlans(defs []PlanDefinition) error {
	var errs []error
	seen := make(map[Plan]bool, len(defs))
	ranks := make(map[int]Plan, len(defs))

	for _, d := range defs {
		if !d.Plan.Valid() {
			errs = append(errs, fmt.Errorf("plan %q: %w", d.Plan, ErrUnknownPlan))
			continue
		}
		if seen[d.Plan] {
			errs = append(errs, fmt.Errorf("plan %s defined twice", d.Plan))
		}
		seen[d.Plan] = true

		if other, ok := ranks[d.Rank]; ok {
			errs = append(errs, fmt.Errorf("plans %s and %s share rank %d", other, d.Plan, d.Rank))
		}
		ranks[d.Rank] = d.Plan

		if d.TrialDays < 0 {
			errs = append(errs, fmt.Errorf("plan %s: trial days must not be negative", d.Plan))
		}
	}

	for _, p := range plans {
		if !seen[p] {
			errs = append(errs, fmt.Errorf("plan %s is not defined", p))
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPlanConfiguration}, errs...)...)
	}
	return nil
}
