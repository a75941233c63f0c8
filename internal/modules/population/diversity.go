package population

import (
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/darwin/internal/modules/strategy"
)

// Diversity returns the mean pairwise structural distance across the
// population, in [0, 1]. A population of clones scores 0.
func Diversity(strategies []*strategy.Strategy) float64 {
	n := len(strategies)
	if n < 2 {
		return 0
	}
	distances := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			distances = append(distances, strategies[i].Distance(strategies[j]))
		}
	}
	return stat.Mean(distances, nil)
}

// AssignNovelty fills in the novelty objective for every evaluated
// strategy: its mean distance to the rest of the population. Runs after
// evaluation and before ranking, so novelty always reflects the same
// generation it is ranked in.
func AssignNovelty(strategies []*strategy.Strategy) {
	n := len(strategies)
	for i, s := range strategies {
		fitness := s.Fitness()
		if fitness == nil {
			continue
		}
		if n < 2 {
			fitness.Novelty = 1
			continue
		}
		total := 0.0
		for j, other := range strategies {
			if i == j {
				continue
			}
			total += s.Distance(other)
		}
		fitness.Novelty = total / float64(n-1)
	}
}
