package tiers

import "github.com/aristath/darwin/internal/modules/mutation"

// Record is the outcome of one mutation attempt. Records accumulate over a
// generation and are applied to the learner in a single batch between
// generations; nothing adapts mid-generation.
type Record struct {
	Tier       mutation.Tier
	Op         mutation.Op
	StrategyID string
	// ParentIDs are the evaluated ancestors the offspring is measured
	// against. A crossover intermediate is never evaluated, so offspring
	// derived from one carry the intermediate's own parents here.
	ParentIDs []string
	// Accepted reports whether the offspring passed structural validation.
	Accepted bool
	// Improved reports whether the evaluated offspring beat its parent.
	Improved bool
	// Delta is the fitness score change against the parent, zero when the
	// offspring was rejected or never evaluated.
	Delta float64
}

// tierStats aggregates a batch of records for one tier.
type tierStats struct {
	attempts int
	accepted int
	improved int
}

func (s tierStats) acceptRate() float64 {
	if s.attempts == 0 {
		return 0
	}
	return float64(s.accepted) / float64(s.attempts)
}

func (s tierStats) improveRate() float64 {
	if s.attempts == 0 {
		return 0
	}
	return float64(s.improved) / float64(s.attempts)
}

func statsByTier(records []Record) map[mutation.Tier]tierStats {
	stats := make(map[mutation.Tier]tierStats, 3)
	for _, r := range records {
		s := stats[r.Tier]
		s.attempts++
		if r.Accepted {
			s.accepted++
		}
		if r.Improved {
			s.improved++
		}
		stats[r.Tier] = s
	}
	return stats
}
