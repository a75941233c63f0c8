package population

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// ErrIdenticalParents marks a crossover skipped because both parents are
// structurally the same; merging them is wasted work and the caller falls
// back to mutation-only variation.
var ErrIdenticalParents = fmt.Errorf("crossover: parents are structurally identical")

// Crossover merges a donor signal subgraph from parent b into parent a:
// one of b's terminal factors together with its full dependency closure,
// so every transplanted factor arrives with its inputs satisfied. The
// offspring records both parents. An invalid merge is returned as an
// error; the caller treats it like a rejected mutation.
func Crossover(a, b *strategy.Strategy, generation int, rng *rand.Rand) (*strategy.Strategy, error) {
	if a.Fingerprint() == b.Fingerprint() {
		return nil, ErrIdenticalParents
	}

	donor := donorSubgraph(b, rng)
	if len(donor) == 0 {
		return nil, fmt.Errorf("crossover: no transplantable subgraph in %s", b.ID())
	}

	factors := a.Factors()
	used := map[string]bool{}
	for _, f := range factors {
		used[f.ID()] = true
	}
	present := map[string]bool{}
	for _, f := range factors {
		present[factorKey(f)] = true
	}

	added := 0
	seq := len(factors)
	for _, f := range donor {
		if present[factorKey(f)] {
			continue
		}
		id := f.ID()
		for used[id] {
			id = fmt.Sprintf("x%d", seq)
			seq++
		}
		used[id] = true
		factors = append(factors, f.WithID(id))
		added++
	}
	if added == 0 {
		return nil, fmt.Errorf("crossover: donor subgraph already present in %s", a.ID())
	}

	child, err := strategy.New(strategy.NewID(), generation, []string{a.ID(), b.ID()}, factors)
	if err != nil {
		return nil, fmt.Errorf("crossover: %w", err)
	}
	if err := child.Validate(); err != nil {
		return nil, fmt.Errorf("crossover: %w", err)
	}
	return child, nil
}

// donorSubgraph picks one terminal factor of s at random and returns it
// with its transitive dependency closure, in arena order.
func donorSubgraph(s *strategy.Strategy, rng *rand.Rand) []factor.Factor {
	var terminals []string
	for _, f := range s.Factors() {
		for _, out := range s.FinalOutputs() {
			if f.Produces(out) {
				terminals = append(terminals, f.ID())
				break
			}
		}
	}
	if len(terminals) == 0 {
		return nil
	}
	sort.Strings(terminals)
	root := terminals[rng.IntN(len(terminals))]

	include := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		f, _ := s.Factor(id)
		for _, in := range f.Inputs() {
			for _, producer := range s.Producers(in) {
				if producer != id && !include[producer] {
					include[producer] = true
					queue = append(queue, producer)
				}
			}
		}
	}

	var donor []factor.Factor
	for _, f := range s.Factors() {
		if include[f.ID()] {
			donor = append(donor, f)
		}
	}
	return donor
}

// factorKey identifies a factor by type and parameters, ignoring ids, so
// crossover does not transplant duplicates of what the recipient already
// has.
func factorKey(f factor.Factor) string {
	key := f.Name()
	for _, name := range f.ParamNames() {
		v, _ := f.Param(name)
		key += fmt.Sprintf("|%s=%.4f", name, v)
	}
	return key
}
