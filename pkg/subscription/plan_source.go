package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// PlansSource defines how plan definitions are loaded into a catalog.
type PlansSource interface {
	Load(ctx context.Context) ([]PlanDefinition, error)
}

type memorySource struct {
	plans []PlanDefinition
}

// NewMemorySource returns a source serving a copy of the given definitions.
// With no arguments it serves DefaultPlans.
func NewMemorySource(defs ...PlanDefinition) PlansSource {
	if len(defs) == 0 {
		defs = DefaultPlans()
	}
	return &memorySource{plans: clonePlans(defs)}
}

func (s *memorySource) Load(_ context.Context) ([]PlanDefinition, error) {
	return clonePlans(s.plans), nil
}

type yamlFile struct {
	Plans []PlanDefinition `yaml:"plans"`
}

type yamlSource struct {
	path string
}

// NewYAMLSource returns a source reading definitions from a YAML file of the form:
//
//	plans:
//	  - plan: FREE
//	    name: Free
//	    rank: 0
//	    trial_days: 14
//	  - plan: PRO
//	    ...
func NewYAMLSource(path string) PlansSource {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(_ context.Context) ([]PlanDefinition, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return ParsePlansYAML(raw)
}

// ParsePlansYAML decodes plan definitions, normalising plan keys to canonical casing.
func ParsePlansYAML(raw []byte) ([]PlanDefinition, error) {
	var file yamlFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	for i, d := range file.Plans {
		p, err := ParsePlan(string(d.Plan))
		if err != nil {
			return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("plans[%d]: %w", i, err))
		}
		file.Plans[i].Plan = p
	}
	return file.Plans, nil
}

// LoadCatalog loads and validates a catalog from src.
func LoadCatalog(ctx context.Context, src PlansSource) (*Catalog, error) {
	defs, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return NewCatalog(defs)
}

func clonePlans(defs []PlanDefinition) []PlanDefinition {
	out := make([]PlanDefinition, len(defs))
	for i, d := range defs {
		d.Features = slices.Clone(d.Features)
		out[i] = d
	}
	return out
}
