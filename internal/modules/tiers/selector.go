// Package tiers routes mutation requests to one of the three tiers based
// on a risk score, and adapts the routing thresholds between generations
// from observed mutation outcomes.
package tiers

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/darwin/internal/modules/mutation"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// RiskInput bundles the signals risk scoring reads for one request.
type RiskInput struct {
	// Complexity is the parent strategy's factor count.
	Complexity int
	// Volatility is recent market volatility normalized into [0, 1].
	Volatility float64
	// Stagnation counts generations without champion improvement.
	Stagnation int
}

// riskComplexityScale is the factor count at which a strategy counts as
// fully complex; riskStagnationScale the stagnation at full exploration
// pressure.
const (
	riskComplexityScale = 10.0
	riskStagnationScale = 20.0
)

// RiskScore maps the request signals into [0, 1]. The score rises with
// stagnation (exploration pressure), falls in volatile markets (risky
// edits compound market risk) and falls for complex strategies (large
// genomes break more easily under structural edits).
func RiskScore(in RiskInput) float64 {
	stagnation := clamp(float64(in.Stagnation)/riskStagnationScale, 0, 1)
	volatility := clamp(in.Volatility, 0, 1)
	complexity := clamp(float64(in.Complexity)/riskComplexityScale, 0, 1)
	return clamp(0.5*stagnation+0.3*(1-volatility)+0.2*(1-complexity), 0, 1)
}

// Selector routes mutation requests to tiers by risk score. Boundaries are
// pushed in by the engine after each learner batch; the selector itself
// never adapts mid-generation.
type Selector struct {
	log        zerolog.Logger
	boundaries Boundaries
	mutators   map[mutation.Tier]mutation.Mutator
}

// NewSelector builds a selector over the given mutators, starting from the
// default boundaries.
func NewSelector(log zerolog.Logger, mutators ...mutation.Mutator) (*Selector, error) {
	s := &Selector{
		log:        log.With().Str("component", "tier_selector").Logger(),
		boundaries: DefaultBoundaries(),
		mutators:   make(map[mutation.Tier]mutation.Mutator, len(mutators)),
	}
	for _, m := range mutators {
		if _, dup := s.mutators[m.Tier()]; dup {
			return nil, fmt.Errorf("duplicate mutator for %s", m.Tier())
		}
		s.mutators[m.Tier()] = m
	}
	for _, tier := range mutation.Tiers() {
		if _, ok := s.mutators[tier]; !ok {
			return nil, fmt.Errorf("no mutator for %s", tier)
		}
	}
	return s, nil
}

// Boundaries returns the thresholds currently in force.
func (s *Selector) Boundaries() Boundaries { return s.boundaries }

// SetBoundaries installs learner output for the next generation.
func (s *Selector) SetBoundaries(b Boundaries) { s.boundaries = b }

// Route maps a risk score to a tier.
func (s *Selector) Route(score float64) mutation.Tier {
	switch {
	case score < s.boundaries.Low:
		return mutation.Tier1
	case score < s.boundaries.High:
		return mutation.Tier2
	default:
		return mutation.Tier3
	}
}

// Mutate routes the request and runs the selected tier's mutator,
// reporting which tier handled it so the caller can record the outcome.
func (s *Selector) Mutate(parent *strategy.Strategy, generation int, score float64) (*strategy.Strategy, mutation.Tier, error) {
	tier := s.Route(score)
	child, err := s.mutators[tier].Mutate(parent, generation)
	if err != nil {
		s.log.Debug().
			Str("tier", tier.String()).
			Str("strategy_id", parent.ID()).
			Err(err).
			Msg("mutation rejected")
		return nil, tier, err
	}
	return child, tier, nil
}
