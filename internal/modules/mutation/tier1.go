package mutation

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// ConfigMutator is the Tier-1 mutator. It applies the structural operators
// and then round-trips the result through the declarative spec and the
// schema-validated interpreter, so every offspring is expressible in the
// restricted configuration language. Cheap, safe, low exploration.
type ConfigMutator struct {
	ops    graphOps
	lib    factor.Library
	schema Schema
	noise  NoiseModel
	rng    *rand.Rand
}

// NewConfigMutator builds a Tier-1 mutator over the given library and
// schema.
func NewConfigMutator(lib factor.Library, schema Schema, rng *rand.Rand) *ConfigMutator {
	return &ConfigMutator{
		ops:    graphOps{tier: Tier1, lib: lib},
		lib:    lib,
		schema: schema,
		noise:  GaussianNoise{},
		rng:    rng,
	}
}

// Tier implements Mutator.
func (m *ConfigMutator) Tier() Tier { return Tier1 }

// AddFactor adds a schema-allowed factor and re-materializes.
func (m *ConfigMutator) AddFactor(s *strategy.Strategy, generation int, name string,
	params map[string]float64, point InsertionPoint) (*strategy.Strategy, error) {

	if !m.schema.AllowedFactors[name] {
		return nil, reject(Tier1, OpAddFactor, "", fmt.Errorf("factor %q not allowed by schema", name))
	}
	child, err := m.ops.addFactor(s, generation, name, params, point, m.allowed)
	if err != nil {
		return nil, err
	}
	return m.rematerialize(child, OpAddFactor, generation)
}

// RemoveFactor removes a factor, cascading through its dependents when
// asked, and re-materializes.
func (m *ConfigMutator) RemoveFactor(s *strategy.Strategy, generation int, factorID string, cascade bool) (*strategy.Strategy, error) {
	child, err := m.ops.removeFactor(s, generation, factorID, cascade)
	if err != nil {
		return nil, err
	}
	return m.rematerialize(child, OpRemoveFactor, generation)
}

// ReplaceFactor swaps a factor for another schema-allowed one and
// re-materializes.
func (m *ConfigMutator) ReplaceFactor(s *strategy.Strategy, generation int, factorID, newName string,
	params map[string]float64) (*strategy.Strategy, error) {

	if !m.schema.AllowedFactors[newName] {
		return nil, reject(Tier1, OpReplaceFactor, factorID, fmt.Errorf("factor %q not allowed by schema", newName))
	}
	child, err := m.ops.replaceFactor(s, generation, factorID, newName, params)
	if err != nil {
		return nil, err
	}
	return m.rematerialize(child, OpReplaceFactor, generation)
}

// MutateParameters perturbs one factor's parameters and re-materializes.
func (m *ConfigMutator) MutateParameters(s *strategy.Strategy, generation int, factorID string) (*strategy.Strategy, error) {
	child, err := m.ops.mutateParameters(s, generation, factorID, m.noise, m.rng)
	if err != nil {
		return nil, err
	}
	return m.rematerialize(child, OpMutateParameters, generation)
}

// Mutate implements Mutator with a fixed operator mix biased toward
// parameter tweaks, the cheapest and safest edit at this tier.
func (m *ConfigMutator) Mutate(s *strategy.Strategy, generation int) (*strategy.Strategy, error) {
	roll := m.rng.Float64()
	switch {
	case roll < 0.45:
		return m.mutateRandomParams(s, generation)
	case roll < 0.65:
		name, ok := m.randomAllowedName()
		if !ok {
			return m.mutateRandomParams(s, generation)
		}
		return m.AddFactor(s, generation, name, nil, InsertSmart)
	case roll < 0.85:
		id, ok := pickSorted(s.FactorIDs(), m.rng)
		if !ok {
			return nil, reject(Tier1, OpReplaceFactor, "", fmt.Errorf("strategy has no factors"))
		}
		name, ok := m.randomPeerName(s, id)
		if !ok {
			return m.mutateRandomParams(s, generation)
		}
		return m.ReplaceFactor(s, generation, id, name, nil)
	default:
		id, ok := m.removableFactor(s)
		if !ok {
			return m.mutateRandomParams(s, generation)
		}
		return m.RemoveFactor(s, generation, id, true)
	}
}

func (m *ConfigMutator) mutateRandomParams(s *strategy.Strategy, generation int) (*strategy.Strategy, error) {
	var candidates []string
	for _, f := range s.Factors() {
		if len(f.Params()) > 0 && m.schema.AllowedFactors[f.Name()] {
			candidates = append(candidates, f.ID())
		}
	}
	id, ok := pickSorted(candidates, m.rng)
	if !ok {
		return nil, reject(Tier1, OpMutateParameters, "", fmt.Errorf("no parameterized factor within schema"))
	}
	return m.MutateParameters(s, generation, id)
}

// randomAllowedName samples uniformly from the schema whitelist.
func (m *ConfigMutator) randomAllowedName() (string, bool) {
	names := make([]string, 0, len(m.schema.AllowedFactors))
	for name := range m.schema.AllowedFactors {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", false
	}
	return names[m.rng.IntN(len(names))], true
}

// randomPeerName samples an allowed factor of the same category as the
// given factor, excluding its own name.
func (m *ConfigMutator) randomPeerName(s *strategy.Strategy, factorID string) (string, bool) {
	f, ok := s.Factor(factorID)
	if !ok {
		return "", false
	}
	var peers []string
	for _, name := range m.lib.ListByCategory(f.Category()) {
		if name != f.Name() && m.schema.AllowedFactors[name] {
			peers = append(peers, name)
		}
	}
	if len(peers) == 0 {
		return "", false
	}
	return peers[m.rng.IntN(len(peers))], true
}

// removableFactor picks a factor whose cascade removal leaves at least one
// signal producer standing.
func (m *ConfigMutator) removableFactor(s *strategy.Strategy) (string, bool) {
	producers := map[string]bool{}
	for _, id := range s.SignalProducers() {
		producers[id] = true
	}
	var candidates []string
	for _, id := range s.FactorIDs() {
		doomed := map[string]bool{id: true}
		for _, dep := range s.TransitiveDependents(id) {
			doomed[dep] = true
		}
		survivors := 0
		for p := range producers {
			if !doomed[p] {
				survivors++
			}
		}
		if survivors > 0 {
			candidates = append(candidates, id)
		}
	}
	return pickSorted(candidates, m.rng)
}

func (m *ConfigMutator) allowed(name string) bool { return m.schema.AllowedFactors[name] }

// rematerialize forces the candidate through the declarative spec and the
// interpreter, rejecting anything the schema cannot express.
func (m *ConfigMutator) rematerialize(child *strategy.Strategy, op Op, generation int) (*strategy.Strategy, error) {
	spec := SpecFromStrategy(child)
	if err := m.schema.Check(spec); err != nil {
		return nil, reject(Tier1, op, "", err)
	}
	out, err := Materialize(spec, m.lib, generation, child.ParentIDs())
	if err != nil {
		return nil, reject(Tier1, op, "", err)
	}
	return gate(Tier1, op, "", out)
}
