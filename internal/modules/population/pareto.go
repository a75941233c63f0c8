package population

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/darwin/internal/modules/strategy"
)

// ranked is one individual annotated with its dominance front and crowding
// distance.
type ranked struct {
	s        *strategy.Strategy
	front    int
	crowding float64
}

// Rank orders strategies best-first by NSGA-II rules: non-dominated
// sorting into fronts, then descending crowding distance within a front so
// the spread of each front is preserved. Every strategy must carry a
// fitness; ranking evaluated against unevaluated individuals is a caller
// bug, not a tie.
func Rank(strategies []*strategy.Strategy) ([]*strategy.Strategy, error) {
	rankedAll, err := rankAll(strategies)
	if err != nil {
		return nil, err
	}
	out := make([]*strategy.Strategy, len(rankedAll))
	for i, r := range rankedAll {
		out[i] = r.s
	}
	return out, nil
}

func rankAll(strategies []*strategy.Strategy) ([]ranked, error) {
	for _, s := range strategies {
		if s.Fitness() == nil {
			return nil, fmt.Errorf("rank: strategy %s has no fitness", s.ID())
		}
	}

	fronts := dominanceFronts(strategies)
	var out []ranked
	for frontIdx, front := range fronts {
		distances := crowdingDistances(front)
		members := make([]ranked, len(front))
		for i, s := range front {
			members[i] = ranked{s: s, front: frontIdx, crowding: distances[i]}
		}
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].crowding > members[j].crowding
		})
		out = append(out, members...)
	}
	return out, nil
}

// dominanceFronts groups strategies into Pareto fronts: front 0 is the
// non-dominated set, front 1 the set dominated only by front 0, and so on.
func dominanceFronts(strategies []*strategy.Strategy) [][]*strategy.Strategy {
	n := len(strategies)
	dominatedBy := make([]int, n)
	dominates := make([][]int, n)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if strategies[i].Fitness().Dominates(strategies[j].Fitness()) {
				dominates[i] = append(dominates[i], j)
			} else if strategies[j].Fitness().Dominates(strategies[i].Fitness()) {
				dominatedBy[i]++
			}
		}
	}

	var fronts [][]*strategy.Strategy
	var current []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		front := make([]*strategy.Strategy, 0, len(current))
		var next []int
		for _, i := range current {
			front = append(front, strategies[i])
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		fronts = append(fronts, front)
		current = next
	}
	return fronts
}

// crowdingDistances computes the NSGA-II crowding metric for one front:
// boundary individuals per objective get infinite distance, interior ones
// the normalized gap between their neighbors.
func crowdingDistances(front []*strategy.Strategy) []float64 {
	n := len(front)
	distances := make([]float64, n)
	if n <= 2 {
		for i := range distances {
			distances[i] = math.Inf(1)
		}
		return distances
	}

	objectives := len(front[0].Fitness().Objectives())
	for obj := 0; obj < objectives; obj++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool {
			return front[idx[a]].Fitness().Objectives()[obj] < front[idx[b]].Fitness().Objectives()[obj]
		})

		low := front[idx[0]].Fitness().Objectives()[obj]
		high := front[idx[n-1]].Fitness().Objectives()[obj]
		if high == low {
			// A constant objective carries no spread information.
			continue
		}
		distances[idx[0]] = math.Inf(1)
		distances[idx[n-1]] = math.Inf(1)
		for k := 1; k < n-1; k++ {
			prev := front[idx[k-1]].Fitness().Objectives()[obj]
			next := front[idx[k+1]].Fitness().Objectives()[obj]
			distances[idx[k]] += (next - prev) / (high - low)
		}
	}
	return distances
}
