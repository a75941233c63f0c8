package tiers

import (
	"github.com/rs/zerolog"

	"github.com/aristath/darwin/internal/modules/mutation"
)

// Boundary defaults and hard limits. The low boundary splits tier1 from
// tier2 traffic, the high boundary tier2 from tier3.
const (
	DefaultLowBoundary  = 0.3
	DefaultHighBoundary = 0.7

	lowFloor    = 0.10
	lowCeiling  = 0.50
	highFloor   = 0.50
	highCeiling = 0.90

	// maxDrift bounds how far a boundary moves per batch.
	maxDrift = 0.05

	// minBoundaryGap keeps a tier2 band open between the boundaries.
	minBoundaryGap = 0.10

	// minSamples is the attempt count below which a tier's batch is too
	// thin to learn from.
	minSamples = 5

	// failRateLimit and failStreakLimit define sustained failure: a tier
	// whose acceptance rate stays under the limit for this many
	// consecutive batches gets its band squeezed.
	failRateLimit   = 0.2
	failStreakLimit = 2
)

// Boundaries are the two risk-score thresholds routing requests to tiers.
type Boundaries struct {
	Low  float64 `json:"low" msgpack:"low"`
	High float64 `json:"high" msgpack:"high"`
}

// DefaultBoundaries returns the starting thresholds.
func DefaultBoundaries() Boundaries {
	return Boundaries{Low: DefaultLowBoundary, High: DefaultHighBoundary}
}

// AdaptiveLearner drifts the tier boundaries toward whichever tiers earn
// their traffic. It is owned by the engine and updated strictly between
// generations with one batch of records, so routing is stable within a
// generation.
type AdaptiveLearner struct {
	log        zerolog.Logger
	boundaries Boundaries
	failStreak map[mutation.Tier]int
}

// NewAdaptiveLearner starts from the default boundaries.
func NewAdaptiveLearner(log zerolog.Logger) *AdaptiveLearner {
	return &AdaptiveLearner{
		log:        log.With().Str("component", "tier_learner").Logger(),
		boundaries: DefaultBoundaries(),
		failStreak: make(map[mutation.Tier]int, 3),
	}
}

// Boundaries returns the current thresholds.
func (l *AdaptiveLearner) Boundaries() Boundaries { return l.boundaries }

// Restore resets the learner to previously persisted thresholds, clamped
// into the legal ranges. Used when resuming from a checkpoint.
func (l *AdaptiveLearner) Restore(b Boundaries) {
	l.boundaries = Boundaries{
		Low:  clamp(b.Low, lowFloor, lowCeiling),
		High: clamp(b.High, highFloor, highCeiling),
	}
	l.enforceGap()
}

// ApplyBatch consumes one generation's records and returns the adjusted
// boundaries. Each boundary moves at most maxDrift per batch and never
// leaves its floor/ceiling range.
func (l *AdaptiveLearner) ApplyBatch(records []Record) Boundaries {
	stats := statsByTier(records)

	for _, tier := range mutation.Tiers() {
		st := stats[tier]
		switch {
		case st.attempts >= minSamples && st.acceptRate() < failRateLimit:
			l.failStreak[tier]++
		case st.attempts > 0:
			l.failStreak[tier] = 0
		}
	}

	l.boundaries.Low = clamp(
		l.boundaries.Low+l.drift(stats, mutation.Tier1, mutation.Tier2),
		lowFloor, lowCeiling)
	l.boundaries.High = clamp(
		l.boundaries.High+l.drift(stats, mutation.Tier2, mutation.Tier3),
		highFloor, highCeiling)
	l.enforceGap()

	l.log.Debug().
		Float64("low", l.boundaries.Low).
		Float64("high", l.boundaries.High).
		Int("records", len(records)).
		Msg("tier boundaries updated")
	return l.boundaries
}

// drift computes the bounded movement of the boundary between two adjacent
// tiers. A higher improvement rate above the boundary pulls it down
// (more traffic upward); sustained failure on either side pushes the
// boundary away from the failing tier.
func (l *AdaptiveLearner) drift(stats map[mutation.Tier]tierStats, below, above mutation.Tier) float64 {
	lo, hi := stats[below], stats[above]

	var delta float64
	if lo.attempts >= minSamples && hi.attempts >= minSamples {
		delta = -(hi.improveRate() - lo.improveRate()) * maxDrift
	}
	if l.failStreak[above] >= failStreakLimit {
		delta = maxDrift
	}
	if l.failStreak[below] >= failStreakLimit {
		delta = -maxDrift
	}
	return clamp(delta, -maxDrift, maxDrift)
}

func (l *AdaptiveLearner) enforceGap() {
	if l.boundaries.Low > l.boundaries.High-minBoundaryGap {
		l.boundaries.Low = l.boundaries.High - minBoundaryGap
	}
	if l.boundaries.Low < lowFloor {
		l.boundaries.Low = lowFloor
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
