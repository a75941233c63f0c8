package mutation

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// graphOps implements the structural mutation operators shared by Tier-1
// and Tier-2. Tier-1 wraps them with its schema round-trip; Tier-2 exposes
// them over the full library.
type graphOps struct {
	tier Tier
	lib  factor.Library
}

// allowAll is the Tier-2 name filter.
func allowAll(string) bool { return true }

// addFactor derives a child with one extra factor. Smart insertion adds a
// compatible consumer from the library when nothing in the strategy would
// consume the new factor's outputs; root and leaf insertion rely on
// validation to reject orphans.
func (g graphOps) addFactor(s *strategy.Strategy, generation int, name string,
	params map[string]float64, point InsertionPoint, allowed func(string) bool) (*strategy.Strategy, error) {

	spec, err := g.lib.Lookup(name)
	if err != nil {
		return nil, reject(g.tier, OpAddFactor, "", err)
	}

	child := s.Derive(generation)
	f, err := factor.New(child.NextFactorID("f"), spec, params)
	if err != nil {
		return nil, reject(g.tier, OpAddFactor, "", err)
	}
	child, err = child.WithFactorAdded(f)
	if err != nil {
		return nil, reject(g.tier, OpAddFactor, f.ID(), err)
	}

	if point == InsertSmart && len(child.Dependents(f.ID())) == 0 && !terminal(child, f) {
		child, err = g.addConsumer(child, f, allowed)
		if err != nil {
			return nil, reject(g.tier, OpAddFactor, f.ID(), err)
		}
	}

	return gate(g.tier, OpAddFactor, f.ID(), child)
}

// addConsumer finds a library factor that consumes one of f's outputs and
// whose remaining inputs the strategy can already satisfy, then appends it.
// Position and exit factors are searched in that order so the consumer
// chain ends at a strategy-level output.
func (g graphOps) addConsumer(s *strategy.Strategy, f factor.Factor, allowed func(string) bool) (*strategy.Strategy, error) {
	available := availableChannels(s)

	for _, category := range []factor.Category{factor.CategoryPosition, factor.CategoryExit} {
		for _, name := range g.lib.ListByCategory(category) {
			if !allowed(name) {
				continue
			}
			spec, err := g.lib.Lookup(name)
			if err != nil {
				continue
			}
			if !consumesAny(spec, f.Outputs()) || !inputsSatisfied(spec, available) {
				continue
			}
			consumer, err := factor.New(s.NextFactorID("f"), spec, nil)
			if err != nil {
				continue
			}
			return s.WithFactorAdded(consumer)
		}
	}
	return nil, fmt.Errorf("no compatible consumer for %s outputs %v", f.Name(), f.Outputs())
}

// removeFactor derives a child without the given factor. Without cascade,
// every dependent must have an alternative producer for the channels it
// loses. With cascade, the whole dependent subgraph is removed in reverse
// topological order so no intermediate state dangles. Removing the last
// signal producer is rejected regardless of cascade.
func (g graphOps) removeFactor(s *strategy.Strategy, generation int, factorID string, cascade bool) (*strategy.Strategy, error) {
	target, ok := s.Factor(factorID)
	if !ok {
		return nil, reject(g.tier, OpRemoveFactor, factorID, fmt.Errorf("no factor with id %q", factorID))
	}

	doomed := map[string]bool{factorID: true}
	if cascade {
		for _, id := range s.TransitiveDependents(factorID) {
			doomed[id] = true
		}
	}

	// Signal guard: at least one signal producer must survive.
	surviving := 0
	for _, id := range s.SignalProducers() {
		if !doomed[id] {
			surviving++
		}
	}
	if surviving == 0 {
		return nil, reject(g.tier, OpRemoveFactor, factorID,
			&strategy.ValidationError{Kind: strategy.NoSignalProducer, FactorID: factorID})
	}

	child := s.Derive(generation)

	if !cascade {
		for _, depID := range child.Dependents(factorID) {
			dep, _ := child.Factor(depID)
			for _, in := range dep.Inputs() {
				if !target.Produces(in) {
					continue
				}
				if len(child.Producers(in)) < 2 && !isBaseChannel(in) {
					return nil, reject(g.tier, OpRemoveFactor, factorID,
						&strategy.ValidationError{Kind: strategy.MissingDependency, FactorID: depID, Channel: in})
				}
			}
		}
		child, err := child.WithFactorsRemoved(factorID)
		if err != nil {
			return nil, reject(g.tier, OpRemoveFactor, factorID, err)
		}
		return gate(g.tier, OpRemoveFactor, factorID, child)
	}

	order, err := child.TopologicalOrder()
	if err != nil {
		return nil, reject(g.tier, OpRemoveFactor, factorID, err)
	}
	for i := len(order) - 1; i >= 0; i-- {
		if !doomed[order[i]] {
			continue
		}
		child, err = child.WithFactorsRemoved(order[i])
		if err != nil {
			return nil, reject(g.tier, OpRemoveFactor, factorID, err)
		}
	}
	return gate(g.tier, OpRemoveFactor, factorID, child)
}

// replaceFactor swaps one factor for a different library factor. The
// replacement's outputs must cover every channel the old factor's direct
// dependents consume from it; otherwise the swap is rejected as
// output-incompatible. The dependent subgraph is detached in reverse
// topological order and re-attached forward so edges re-derive against the
// replacement without any dangling intermediate state.
func (g graphOps) replaceFactor(s *strategy.Strategy, generation int, factorID, newName string,
	params map[string]float64) (*strategy.Strategy, error) {

	old, ok := s.Factor(factorID)
	if !ok {
		return nil, reject(g.tier, OpReplaceFactor, factorID, fmt.Errorf("no factor with id %q", factorID))
	}
	spec, err := g.lib.Lookup(newName)
	if err != nil {
		return nil, reject(g.tier, OpReplaceFactor, factorID, err)
	}

	// Output compatibility against direct dependents.
	produces := map[string]bool{}
	for _, out := range spec.Outputs {
		produces[out] = true
	}
	for _, depID := range s.Dependents(factorID) {
		dep, _ := s.Factor(depID)
		for _, in := range dep.Inputs() {
			if old.Produces(in) && !produces[in] && len(s.Producers(in)) < 2 {
				return nil, reject(g.tier, OpReplaceFactor, factorID,
					&strategy.ValidationError{Kind: strategy.OutputIncompatible, FactorID: factorID, Channel: in})
			}
		}
	}

	// Snapshot the dependent subgraph in topological order before touching
	// anything, so it can be re-attached forward after the swap.
	order, err := s.TopologicalOrder()
	if err != nil {
		return nil, reject(g.tier, OpReplaceFactor, factorID, err)
	}
	dependents := map[string]bool{}
	for _, id := range s.TransitiveDependents(factorID) {
		dependents[id] = true
	}
	var snapshot []factor.Factor
	for _, id := range order {
		if dependents[id] {
			f, _ := s.Factor(id)
			snapshot = append(snapshot, f)
		}
	}

	child := s.Derive(generation)
	for i := len(snapshot) - 1; i >= 0; i-- {
		child, err = child.WithFactorsRemoved(snapshot[i].ID())
		if err != nil {
			return nil, reject(g.tier, OpReplaceFactor, factorID, err)
		}
	}

	replacement, err := factor.New(factorID, spec, params)
	if err != nil {
		return nil, reject(g.tier, OpReplaceFactor, factorID, err)
	}
	child, err = child.WithFactorSwapped(factorID, replacement)
	if err != nil {
		return nil, reject(g.tier, OpReplaceFactor, factorID, err)
	}

	for _, f := range snapshot {
		child, err = child.WithFactorAdded(f)
		if err != nil {
			return nil, reject(g.tier, OpReplaceFactor, factorID, err)
		}
	}

	return gate(g.tier, OpReplaceFactor, factorID, child)
}

// mutateParameters perturbs every parameter of one factor through the
// noise model. The graph structure is untouched, so validation is cheap
// but still gates the result.
func (g graphOps) mutateParameters(s *strategy.Strategy, generation int, factorID string,
	noise NoiseModel, rng *rand.Rand) (*strategy.Strategy, error) {

	f, ok := s.Factor(factorID)
	if !ok {
		return nil, reject(g.tier, OpMutateParameters, factorID, fmt.Errorf("no factor with id %q", factorID))
	}
	spec, err := g.lib.Lookup(f.Name())
	if err != nil {
		return nil, reject(g.tier, OpMutateParameters, factorID, err)
	}
	if len(spec.Params) == 0 {
		return nil, reject(g.tier, OpMutateParameters, factorID,
			fmt.Errorf("factor %s has no parameters", f.Name()))
	}

	params := f.Params()
	for name, value := range params {
		ps, ok := spec.Params[name]
		if !ok {
			continue
		}
		params[name] = noise.Perturb(value, ps, rng)
	}

	child, err := s.Derive(generation).WithFactorSwapped(factorID, f.WithParams(params))
	if err != nil {
		return nil, reject(g.tier, OpMutateParameters, factorID, err)
	}
	return gate(g.tier, OpMutateParameters, factorID, child)
}

// availableChannels returns every channel a new factor could consume:
// base dataset channels plus every factor output, sorted.
func availableChannels(s *strategy.Strategy) map[string]bool {
	channels := map[string]bool{}
	for _, ch := range strategy.BaseChannels {
		channels[ch] = true
	}
	for _, f := range s.Factors() {
		for _, out := range f.Outputs() {
			channels[out] = true
		}
	}
	return channels
}

func consumesAny(spec factor.Spec, outputs []string) bool {
	for _, in := range spec.Inputs {
		for _, out := range outputs {
			if in == out {
				return true
			}
		}
	}
	return false
}

func inputsSatisfied(spec factor.Spec, available map[string]bool) bool {
	for _, in := range spec.Inputs {
		if !available[in] {
			return false
		}
	}
	return true
}

// terminal reports whether f produces any strategy-level output channel.
func terminal(s *strategy.Strategy, f factor.Factor) bool {
	for _, out := range s.FinalOutputs() {
		if f.Produces(out) {
			return true
		}
	}
	return false
}

func isBaseChannel(ch string) bool {
	for _, base := range strategy.BaseChannels {
		if ch == base {
			return true
		}
	}
	return false
}

// pickSorted returns a uniformly chosen element of a sorted copy of ids,
// keeping operator behavior deterministic under a seeded generator.
func pickSorted(ids []string, rng *rand.Rand) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return sorted[rng.IntN(len(sorted))], true
}
