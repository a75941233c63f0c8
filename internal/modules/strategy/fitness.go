package strategy

import "math"

// Fitness is the opaque evaluation result attached to a strategy by the
// external evaluator. Novelty is filled in by the population manager after
// all strategies of a generation have metrics.
type Fitness struct {
	Sharpe       float64
	AnnualReturn float64
	MaxDrawdown  float64
	Novelty      float64
	Significant  bool
	// Failed marks evaluations that errored or timed out; the strategy
	// keeps the worst possible objectives and is removed by selection
	// pressure rather than retried.
	Failed bool
}

// failureScore is the worst-case objective value assigned on evaluation
// failure. Finite so that ranking arithmetic stays well defined.
const failureScore = -1e9

// NewFailureFitness returns the worst-case fitness for a strategy whose
// evaluation errored or timed out.
func NewFailureFitness() *Fitness {
	return &Fitness{
		Sharpe:       failureScore,
		AnnualReturn: failureScore,
		MaxDrawdown:  math.Abs(failureScore),
		Failed:       true,
	}
}

// Objectives returns the multi-objective vector used for Pareto dominance
// ranking. All objectives are maximized, so drawdown enters negated.
func (f *Fitness) Objectives() []float64 {
	return []float64{f.AnnualReturn, -f.MaxDrawdown, f.Novelty}
}

// Score collapses the objectives into a single scalar, used for champion
// tracking and stagnation detection (not for selection, which is Pareto
// based).
func (f *Fitness) Score() float64 {
	if f.Failed {
		return failureScore
	}
	return f.AnnualReturn - 0.5*f.MaxDrawdown
}

// Dominates reports whether f Pareto-dominates other: no objective worse,
// at least one strictly better.
func (f *Fitness) Dominates(other *Fitness) bool {
	a, b := f.Objectives(), other.Objectives()
	better := false
	for i := range a {
		if a[i] < b[i] {
			return false
		}
		if a[i] > b[i] {
			better = true
		}
	}
	return better
}
