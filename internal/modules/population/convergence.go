package population

import "math"

// Convergence defaults. Both windows must trip before a restart fires;
// either signal alone produces false positives (a diverse population can
// stagnate, a converged one can still be improving).
const (
	DefaultDiversityFloor   = 0.15
	DefaultDiversityWindow  = 10
	DefaultStagnationWindow = 20
	DefaultMaxRestarts      = 3
	improvementEpsilon      = 1e-9
)

// Tracker watches diversity and champion fitness across generations and
// decides when the search has converged.
type Tracker struct {
	diversityFloor   float64
	diversityWindow  int
	stagnationWindow int
	maxRestarts      int

	belowFloor int
	stagnation int
	bestScore  float64
	hasBest    bool
	restarts   int
}

// NewTracker builds a tracker with the given thresholds; non-positive
// values fall back to the defaults.
func NewTracker(diversityFloor float64, diversityWindow, stagnationWindow, maxRestarts int) *Tracker {
	if diversityFloor <= 0 {
		diversityFloor = DefaultDiversityFloor
	}
	if diversityWindow <= 0 {
		diversityWindow = DefaultDiversityWindow
	}
	if stagnationWindow <= 0 {
		stagnationWindow = DefaultStagnationWindow
	}
	if maxRestarts < 0 {
		maxRestarts = DefaultMaxRestarts
	}
	return &Tracker{
		diversityFloor:   diversityFloor,
		diversityWindow:  diversityWindow,
		stagnationWindow: stagnationWindow,
		maxRestarts:      maxRestarts,
		bestScore:        math.Inf(-1),
	}
}

// RestoreProgress reinstalls checkpointed restart count and champion
// score so a resumed run keeps its convergence baseline. The window
// counters restart from zero; they are cheap to re-accumulate and saving
// them would only shave a few generations off re-detection.
func (t *Tracker) RestoreProgress(restarts int, bestScore float64) {
	if restarts > 0 {
		t.restarts = restarts
	}
	if !math.IsInf(bestScore, -1) {
		t.bestScore = bestScore
		t.hasBest = true
	}
}

// Observe records one generation's diversity and champion score.
func (t *Tracker) Observe(diversity, bestScore float64) {
	if diversity < t.diversityFloor {
		t.belowFloor++
	} else {
		t.belowFloor = 0
	}

	if !t.hasBest || bestScore > t.bestScore+improvementEpsilon {
		t.bestScore = bestScore
		t.hasBest = true
		t.stagnation = 0
	} else {
		t.stagnation++
	}
}

// Converged reports whether both signals have tripped: diversity below the
// floor for the full diversity window and no champion improvement for the
// full stagnation window.
func (t *Tracker) Converged() bool {
	return t.belowFloor >= t.diversityWindow && t.stagnation >= t.stagnationWindow
}

// Stagnation returns the generations since the champion last improved.
func (t *Tracker) Stagnation() int { return t.stagnation }

// BestScore returns the best champion score observed so far.
func (t *Tracker) BestScore() float64 { return t.bestScore }

// Restarts returns how many restarts have been consumed.
func (t *Tracker) Restarts() int { return t.restarts }

// CanRestart reports whether the restart budget allows another restart.
func (t *Tracker) CanRestart() bool { return t.restarts < t.maxRestarts }

// NoteRestart consumes one restart and resets the convergence counters.
// The best score survives so a restarted run must genuinely beat the old
// champion to count as improving.
func (t *Tracker) NoteRestart() {
	t.restarts++
	t.belowFloor = 0
	t.stagnation = 0
}
