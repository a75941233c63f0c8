package mutation

import (
	"fmt"
	"math/rand/v2"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// LibraryMutator is the Tier-2 mutator: the same operator surface as
// Tier-1 but over the full factor library, with category-aware insertion
// instead of a schema round-trip. Moderate cost, moderate exploration.
type LibraryMutator struct {
	ops   graphOps
	lib   factor.Library
	noise NoiseModel
	rng   *rand.Rand
}

// NewLibraryMutator builds a Tier-2 mutator over the given library.
func NewLibraryMutator(lib factor.Library, rng *rand.Rand) *LibraryMutator {
	return &LibraryMutator{
		ops:   graphOps{tier: Tier2, lib: lib},
		lib:   lib,
		noise: GaussianNoise{},
		rng:   rng,
	}
}

// Tier implements Mutator.
func (m *LibraryMutator) Tier() Tier { return Tier2 }

// AddFactor adds any library factor at the given insertion point.
func (m *LibraryMutator) AddFactor(s *strategy.Strategy, generation int, name string,
	params map[string]float64, point InsertionPoint) (*strategy.Strategy, error) {
	return m.ops.addFactor(s, generation, name, params, point, allowAll)
}

// RemoveFactor removes a factor, cascading through dependents when asked.
func (m *LibraryMutator) RemoveFactor(s *strategy.Strategy, generation int, factorID string, cascade bool) (*strategy.Strategy, error) {
	return m.ops.removeFactor(s, generation, factorID, cascade)
}

// ReplaceFactor swaps a factor for any library factor with compatible
// outputs.
func (m *LibraryMutator) ReplaceFactor(s *strategy.Strategy, generation int, factorID, newName string,
	params map[string]float64) (*strategy.Strategy, error) {
	return m.ops.replaceFactor(s, generation, factorID, newName, params)
}

// MutateParameters perturbs one factor's parameters.
func (m *LibraryMutator) MutateParameters(s *strategy.Strategy, generation int, factorID string) (*strategy.Strategy, error) {
	return m.ops.mutateParameters(s, generation, factorID, m.noise, m.rng)
}

// Mutate implements Mutator. The mix leans harder on structural edits than
// Tier-1 does; that is the point of escalating here.
func (m *LibraryMutator) Mutate(s *strategy.Strategy, generation int) (*strategy.Strategy, error) {
	roll := m.rng.Float64()
	switch {
	case roll < 0.30:
		return m.mutateRandomParams(s, generation)
	case roll < 0.60:
		return m.addRandomFactor(s, generation)
	case roll < 0.85:
		id, ok := pickSorted(s.FactorIDs(), m.rng)
		if !ok {
			return nil, reject(Tier2, OpReplaceFactor, "", fmt.Errorf("strategy has no factors"))
		}
		name, ok := m.randomPeerName(s, id)
		if !ok {
			return m.mutateRandomParams(s, generation)
		}
		return m.ReplaceFactor(s, generation, id, name, nil)
	default:
		id, ok := pickSorted(s.FactorIDs(), m.rng)
		if !ok {
			return nil, reject(Tier2, OpRemoveFactor, "", fmt.Errorf("strategy has no factors"))
		}
		child, err := m.RemoveFactor(s, generation, id, true)
		if err != nil {
			// Most removals of signal producers are rejected; fall back
			// rather than wasting the mutation attempt.
			return m.mutateRandomParams(s, generation)
		}
		return child, nil
	}
}

// addRandomFactor is category-aware: exit factors are terminal and go in
// as leaves, everything else goes in smart so a consumer gets wired up.
func (m *LibraryMutator) addRandomFactor(s *strategy.Strategy, generation int) (*strategy.Strategy, error) {
	categories := factor.Categories()
	category := categories[m.rng.IntN(len(categories))]
	names := m.lib.ListByCategory(category)
	if len(names) == 0 {
		return m.mutateRandomParams(s, generation)
	}
	name := names[m.rng.IntN(len(names))]

	point := InsertSmart
	if category == factor.CategoryExit || category == factor.CategoryPosition {
		point = InsertLeaf
	}
	return m.AddFactor(s, generation, name, nil, point)
}

func (m *LibraryMutator) mutateRandomParams(s *strategy.Strategy, generation int) (*strategy.Strategy, error) {
	var candidates []string
	for _, f := range s.Factors() {
		if len(f.Params()) > 0 {
			candidates = append(candidates, f.ID())
		}
	}
	id, ok := pickSorted(candidates, m.rng)
	if !ok {
		return nil, reject(Tier2, OpMutateParameters, "", fmt.Errorf("no parameterized factor"))
	}
	return m.MutateParameters(s, generation, id)
}

func (m *LibraryMutator) randomPeerName(s *strategy.Strategy, factorID string) (string, bool) {
	f, ok := s.Factor(factorID)
	if !ok {
		return "", false
	}
	var peers []string
	for _, name := range m.lib.ListByCategory(f.Category()) {
		if name != f.Name() {
			peers = append(peers, name)
		}
	}
	if len(peers) == 0 {
		return "", false
	}
	return peers[m.rng.IntN(len(peers))], true
}
