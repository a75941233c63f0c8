// Package strategy provides the factor-graph strategy model: a DAG of
// immutable factors connected by named data channels, with validation,
// topological ordering and execution over a market dataset.
package strategy

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/aristath/darwin/internal/modules/factor"
)

// BaseChannels are the dataset channels every strategy may consume without
// any producing factor.
var BaseChannels = []string{"open", "high", "low", "close", "volume"}

// DefaultFinalOutputs are the channels treated as strategy-level outputs.
// Factors producing only these are terminal and never counted as orphans.
var DefaultFinalOutputs = []string{factor.SignalOutput, "exit_signal"}

// Dataset is a frame of named, equally sized market data channels.
type Dataset map[string][]float64

// Len returns the number of bars in the dataset (0 when empty).
func (d Dataset) Len() int {
	for _, series := range d {
		return len(series)
	}
	return 0
}

// Has reports whether the dataset carries the named channel.
func (d Dataset) Has(channel string) bool {
	_, ok := d[channel]
	return ok
}

// NewID returns a fresh strategy id.
func NewID() string { return uuid.NewString() }

// Strategy is a DAG of factors. Factor ids index into an internal arena;
// edges are derived from channel names: factor A depends on factor B iff
// some input of A matches an output of B. A strategy becomes immutable once
// validated; every mutation constructs a new value.
type Strategy struct {
	id           string
	generation   int
	parentIDs    []string
	factors      []factor.Factor
	index        map[string]int
	finalOutputs []string
	fitness      *Fitness
}

// New constructs a strategy from a set of factors. Factor ids must be unique.
// The result is not validated; callers run Validate before accepting it.
func New(id string, generation int, parentIDs []string, factors []factor.Factor) (*Strategy, error) {
	if id == "" {
		return nil, fmt.Errorf("strategy id must not be empty")
	}
	s := &Strategy{
		id:           id,
		generation:   generation,
		parentIDs:    append([]string(nil), parentIDs...),
		factors:      make([]factor.Factor, 0, len(factors)),
		index:        make(map[string]int, len(factors)),
		finalOutputs: append([]string(nil), DefaultFinalOutputs...),
	}
	for _, f := range factors {
		if _, dup := s.index[f.ID()]; dup {
			return nil, fmt.Errorf("duplicate factor id %q", f.ID())
		}
		s.index[f.ID()] = len(s.factors)
		s.factors = append(s.factors, f)
	}
	return s, nil
}

// ID returns the strategy id.
func (s *Strategy) ID() string { return s.id }

// Generation returns the generation the strategy was created in.
func (s *Strategy) Generation() int { return s.generation }

// ParentIDs returns the ancestor strategy ids (0 for sampled, 1 for mutated,
// 2 for crossover offspring).
func (s *Strategy) ParentIDs() []string { return append([]string(nil), s.parentIDs...) }

// Len returns the number of factors.
func (s *Strategy) Len() int { return len(s.factors) }

// Factors returns the factors in arena order.
func (s *Strategy) Factors() []factor.Factor {
	return append([]factor.Factor(nil), s.factors...)
}

// Factor returns the factor with the given id.
func (s *Strategy) Factor(id string) (factor.Factor, bool) {
	i, ok := s.index[id]
	if !ok {
		return factor.Factor{}, false
	}
	return s.factors[i], true
}

// FactorIDs returns all factor ids in arena order.
func (s *Strategy) FactorIDs() []string {
	ids := make([]string, len(s.factors))
	for i, f := range s.factors {
		ids[i] = f.ID()
	}
	return ids
}

// FinalOutputs returns the strategy's declared terminal channels.
func (s *Strategy) FinalOutputs() []string { return append([]string(nil), s.finalOutputs...) }

// Fitness returns the evaluation result, or nil before evaluation.
func (s *Strategy) Fitness() *Fitness { return s.fitness }

// SetFitness attaches the evaluation result. The structural part of the
// strategy stays immutable; fitness is an annotation set once per strategy
// by the evaluation step.
func (s *Strategy) SetFitness(f *Fitness) { s.fitness = f }

// Clone returns a deep copy, including fitness.
func (s *Strategy) Clone() *Strategy {
	clone := &Strategy{
		id:           s.id,
		generation:   s.generation,
		parentIDs:    append([]string(nil), s.parentIDs...),
		factors:      append([]factor.Factor(nil), s.factors...),
		index:        make(map[string]int, len(s.index)),
		finalOutputs: append([]string(nil), s.finalOutputs...),
	}
	for k, v := range s.index {
		clone.index[k] = v
	}
	if s.fitness != nil {
		fitness := *s.fitness
		clone.fitness = &fitness
	}
	return clone
}

// Derive returns an unvalidated copy with a fresh id, the given generation,
// this strategy as parent, and no fitness. Mutation operators start here.
func (s *Strategy) Derive(generation int) *Strategy {
	clone := s.Clone()
	clone.id = NewID()
	clone.generation = generation
	clone.parentIDs = []string{s.id}
	clone.fitness = nil
	return clone
}

// WithFactorAdded returns a copy containing the extra factor.
func (s *Strategy) WithFactorAdded(f factor.Factor) (*Strategy, error) {
	if _, dup := s.index[f.ID()]; dup {
		return nil, fmt.Errorf("duplicate factor id %q", f.ID())
	}
	clone := s.Clone()
	clone.index[f.ID()] = len(clone.factors)
	clone.factors = append(clone.factors, f)
	return clone, nil
}

// WithFactorsRemoved returns a copy without the given factors.
func (s *Strategy) WithFactorsRemoved(ids ...string) (*Strategy, error) {
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; !ok {
			return nil, fmt.Errorf("no factor with id %q", id)
		}
		remove[id] = true
	}
	kept := make([]factor.Factor, 0, len(s.factors)-len(remove))
	for _, f := range s.factors {
		if !remove[f.ID()] {
			kept = append(kept, f)
		}
	}
	clone := s.Clone()
	clone.factors = kept
	clone.index = make(map[string]int, len(kept))
	for i, f := range kept {
		clone.index[f.ID()] = i
	}
	return clone, nil
}

// WithFactorSwapped returns a copy where the factor with the given id is
// replaced in place (same arena slot) by the provided factor.
func (s *Strategy) WithFactorSwapped(id string, f factor.Factor) (*Strategy, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("no factor with id %q", id)
	}
	if f.ID() != id {
		if _, dup := s.index[f.ID()]; dup {
			return nil, fmt.Errorf("duplicate factor id %q", f.ID())
		}
	}
	clone := s.Clone()
	clone.factors[i] = f
	delete(clone.index, id)
	clone.index[f.ID()] = i
	return clone, nil
}

// NextFactorID returns an unused factor id with the given prefix.
func (s *Strategy) NextFactorID(prefix string) string {
	for n := len(s.factors); ; n++ {
		id := fmt.Sprintf("%s%d", prefix, n)
		if _, taken := s.index[id]; !taken {
			return id
		}
	}
}

// Producers returns the ids of factors producing the named channel, in
// arena order.
func (s *Strategy) Producers(channel string) []string {
	var ids []string
	for _, f := range s.factors {
		if f.Produces(channel) {
			ids = append(ids, f.ID())
		}
	}
	return ids
}

// Dependents returns the ids of factors that directly consume any output of
// the given factor.
func (s *Strategy) Dependents(id string) []string {
	f, ok := s.Factor(id)
	if !ok {
		return nil
	}
	var ids []string
	for _, other := range s.factors {
		if other.ID() == id {
			continue
		}
		for _, out := range f.Outputs() {
			if other.Requires(out) {
				ids = append(ids, other.ID())
				break
			}
		}
	}
	return ids
}

// TransitiveDependents returns every factor reachable through dependent
// edges from the given factor, excluding the factor itself.
func (s *Strategy) TransitiveDependents(id string) []string {
	seen := map[string]bool{}
	var queue []string
	queue = append(queue, s.Dependents(id)...)
	var result []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		result = append(result, next)
		queue = append(queue, s.Dependents(next)...)
	}
	return result
}

// Edges returns the dependency edges as a map from producer factor id to
// the ids of its direct dependents, plus the in-degree of every factor.
func (s *Strategy) Edges() (map[string][]string, map[string]int) {
	edges := make(map[string][]string, len(s.factors))
	indegree := make(map[string]int, len(s.factors))
	for _, f := range s.factors {
		indegree[f.ID()] = 0
	}
	for _, producer := range s.factors {
		for _, consumer := range s.factors {
			if producer.ID() == consumer.ID() {
				continue
			}
			depends := false
			for _, out := range producer.Outputs() {
				if consumer.Requires(out) {
					depends = true
					break
				}
			}
			if depends {
				edges[producer.ID()] = append(edges[producer.ID()], consumer.ID())
				indegree[consumer.ID()]++
			}
		}
	}
	return edges, indegree
}

// Equal reports structural equality: same factors (by id, name, params and
// wiring) regardless of fitness. Used by purity checks.
func (s *Strategy) Equal(other *Strategy) bool {
	if other == nil || s.id != other.id || len(s.factors) != len(other.factors) {
		return false
	}
	for i := range s.factors {
		if !s.factors[i].Equal(other.factors[i]) {
			return false
		}
	}
	return true
}

// sortedIDs returns factor ids sorted lexicographically.
func (s *Strategy) sortedIDs() []string {
	ids := s.FactorIDs()
	sort.Strings(ids)
	return ids
}
