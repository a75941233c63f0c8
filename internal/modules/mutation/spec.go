package mutation

import (
	"fmt"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// FactorEntry is one factor in a declarative strategy specification.
type FactorEntry struct {
	Name   string             `json:"name" msgpack:"name"`
	Params map[string]float64 `json:"params,omitempty" msgpack:"params"`
}

// StrategySpec is the declarative configuration Tier-1 mutation edits. A
// strategy is re-materialized from it through the schema-validated
// interpreter, so anything the schema cannot express cannot come out of
// Tier-1.
type StrategySpec struct {
	Factors        []FactorEntry `json:"factors" msgpack:"factors"`
	PositionSizing string        `json:"position_sizing" msgpack:"position_sizing"`
}

// DefaultPositionSizing is used when a spec does not name a sizing method.
const DefaultPositionSizing = "fixed"

// SpecFromStrategy derives the declarative form of a strategy, preserving
// factor order and parameters. Factor ids are not part of the spec; the
// interpreter reassigns them deterministically.
func SpecFromStrategy(s *strategy.Strategy) StrategySpec {
	spec := StrategySpec{PositionSizing: DefaultPositionSizing}
	for _, f := range s.Factors() {
		spec.Factors = append(spec.Factors, FactorEntry{Name: f.Name(), Params: f.Params()})
	}
	return spec
}

// Schema restricts what Tier-1 mutation may express.
type Schema struct {
	// AllowedFactors whitelists factor names; empty means nothing is
	// allowed (schemas are always explicit).
	AllowedFactors map[string]bool
	// AllowedSizing whitelists position sizing methods.
	AllowedSizing map[string]bool
	// MaxFactors bounds strategy size at this tier.
	MaxFactors int
}

// DefaultSchema whitelists every factor the library carries, standard
// sizing methods, and a conservative size bound.
func DefaultSchema(lib factor.Library) Schema {
	allowed := map[string]bool{}
	for _, category := range factor.Categories() {
		for _, name := range lib.ListByCategory(category) {
			allowed[name] = true
		}
	}
	return Schema{
		AllowedFactors: allowed,
		AllowedSizing:  map[string]bool{"fixed": true, "volatility_scaled": true},
		MaxFactors:     8,
	}
}

// Check validates a spec against the schema.
func (sch Schema) Check(spec StrategySpec) error {
	if len(spec.Factors) == 0 {
		return fmt.Errorf("spec has no factors")
	}
	if sch.MaxFactors > 0 && len(spec.Factors) > sch.MaxFactors {
		return fmt.Errorf("spec has %d factors, schema allows %d", len(spec.Factors), sch.MaxFactors)
	}
	for _, entry := range spec.Factors {
		if !sch.AllowedFactors[entry.Name] {
			return fmt.Errorf("factor %q not allowed by schema", entry.Name)
		}
	}
	sizing := spec.PositionSizing
	if sizing == "" {
		sizing = DefaultPositionSizing
	}
	if len(sch.AllowedSizing) > 0 && !sch.AllowedSizing[sizing] {
		return fmt.Errorf("position sizing %q not allowed by schema", sizing)
	}
	return nil
}

// Materialize interprets a declarative spec into a strategy. Factor ids
// are assigned deterministically (f0, f1, ...) in entry order; parameters
// are validated against the library's declared ranges. The result is not
// validated; callers gate it like any other mutation product.
func Materialize(spec StrategySpec, lib factor.Library, generation int, parentIDs []string) (*strategy.Strategy, error) {
	factors := make([]factor.Factor, 0, len(spec.Factors))
	for i, entry := range spec.Factors {
		fspec, err := lib.Lookup(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
		f, err := factor.New(fmt.Sprintf("f%d", i), fspec, entry.Params)
		if err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
		factors = append(factors, f)
	}
	return strategy.New(strategy.NewID(), generation, parentIDs, factors)
}
