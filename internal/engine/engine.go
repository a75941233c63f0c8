// Package engine orchestrates the evolutionary run: the synchronous
// generation loop, adaptive tier-boundary learning, convergence handling
// with champion-seeded restarts, and per-generation checkpoints.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/darwin/internal/events"
	"github.com/aristath/darwin/internal/modules/checkpoint"
	"github.com/aristath/darwin/internal/modules/evaluator"
	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/immigrant"
	"github.com/aristath/darwin/internal/modules/population"
	"github.com/aristath/darwin/internal/modules/sandbox"
	"github.com/aristath/darwin/internal/modules/strategy"
	"github.com/aristath/darwin/internal/modules/tiers"
)

// module is the name stamped on events this package emits.
const module = "engine"

// Config holds run-level engine configuration.
type Config struct {
	// GenerationBudget is the hard generation cap for one run.
	GenerationBudget int
	// CheckpointKeep bounds how many generation checkpoints are retained.
	CheckpointKeep int
	// Seed is recorded on run events for reproducibility.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.GenerationBudget <= 0 {
		c.GenerationBudget = 100
	}
	if c.CheckpointKeep <= 0 {
		c.CheckpointKeep = 10
	}
	return c
}

// Deps bundles the collaborators the engine orchestrates. Injector may be
// nil when no immigrant source is configured.
type Deps struct {
	Library  factor.Library
	Arena    *sandbox.Arena
	Manager  *population.Manager
	Pool     *evaluator.Pool
	Selector *tiers.Selector
	Learner  *tiers.AdaptiveLearner
	Tracker  *population.Tracker
	Repo     *checkpoint.Repository
	Bus      *events.Bus
	Injector *immigrant.Injector
	Dataset  strategy.Dataset
}

// Status is a point-in-time view of the run, safe for concurrent reads
// from the API server while the loop is running.
type Status struct {
	Running    bool    `json:"running"`
	Generation int     `json:"generation"`
	BestScore  float64 `json:"best_score"`
	Diversity  float64 `json:"diversity"`
	ChampionID string  `json:"champion_id"`
	Restarts   int     `json:"restarts"`
	Stagnation int     `json:"stagnation"`
	Converged  bool    `json:"converged"`
}

// Engine runs the generation loop. The loop itself is single threaded;
// only evaluation fans out, and only the status snapshot is shared.
type Engine struct {
	log  zerolog.Logger
	cfg  Config
	deps Deps

	mu     sync.RWMutex
	status Status

	// champion survives merges and restarts for final reporting.
	champion *strategy.Strategy
}

// New builds an engine. All deps except Injector are required.
func New(log zerolog.Logger, cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Library == nil, deps.Arena == nil, deps.Manager == nil,
		deps.Pool == nil, deps.Selector == nil, deps.Learner == nil,
		deps.Tracker == nil, deps.Repo == nil, deps.Bus == nil:
		return nil, fmt.Errorf("engine: missing dependency")
	case len(deps.Dataset) == 0:
		return nil, fmt.Errorf("engine: empty dataset")
	}
	return &Engine{
		log:  log.With().Str("component", "engine").Logger(),
		cfg:  cfg.withDefaults(),
		deps: deps,
	}, nil
}

// Status returns the current run status snapshot.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Champion returns the best strategy observed so far, or nil before the
// first evaluation completes.
func (e *Engine) Champion() *strategy.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.champion == nil {
		return nil
	}
	return e.champion.Clone()
}

// Run executes the evolutionary loop until the generation budget is
// exhausted, convergence outlasts the restart budget, or the context is
// cancelled. It resumes from the latest checkpoint when one exists.
func (e *Engine) Run(ctx context.Context) (*population.Population, error) {
	defer e.setRunning(false)

	pop, err := e.start(ctx)
	if err != nil {
		return nil, err
	}

	converged := false
	for gen := pop.Generation + 1; gen <= e.cfg.GenerationBudget; gen++ {
		if err := ctx.Err(); err != nil {
			return pop, err
		}

		next, err := e.step(ctx, pop, gen)
		if err != nil {
			return pop, err
		}
		pop = next

		if e.deps.Tracker.Converged() {
			if !e.deps.Tracker.CanRestart() {
				converged = true
				break
			}
			pop, err = e.restart(ctx, pop, gen)
			if err != nil {
				return pop, err
			}
		}
	}

	champion := pop.Champion()
	championID := ""
	if champion != nil {
		championID = champion.ID()
	}
	e.deps.Bus.Emit(module, &events.RunCompletedData{
		Generations: pop.Generation,
		BestScore:   e.deps.Tracker.BestScore(),
		ChampionID:  championID,
		Converged:   converged,
	})
	e.log.Info().
		Int("generations", pop.Generation).
		Float64("best_score", e.deps.Tracker.BestScore()).
		Bool("converged", converged).
		Msg("run completed")
	return pop, nil
}

// start resumes from the latest checkpoint or initializes and evaluates
// generation zero.
func (e *Engine) start(ctx context.Context) (*population.Population, error) {
	e.setRunning(true)

	snap, ok, err := e.deps.Repo.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: load checkpoint: %w", err)
	}
	if ok {
		pop, err := snap.Restore(e.deps.Library, e.deps.Arena)
		if err != nil {
			return nil, fmt.Errorf("engine: restore checkpoint: %w", err)
		}
		e.deps.Learner.Restore(snap.Boundaries)
		e.deps.Selector.SetBoundaries(e.deps.Learner.Boundaries())
		e.deps.Tracker.RestoreProgress(snap.Restarts, snap.BestScore)
		e.noteGeneration(pop)
		e.deps.Bus.Emit(module, &events.RunResumedData{
			Generation: pop.Generation,
			Diversity:  pop.Diversity,
			Restarts:   snap.Restarts,
		})
		e.log.Info().Int("generation", pop.Generation).Msg("resumed from checkpoint")
		return pop, nil
	}

	e.deps.Bus.Emit(module, &events.RunStartedData{
		PopulationSize:   e.deps.Manager.Config().PopulationSize,
		GenerationBudget: e.cfg.GenerationBudget,
		Seed:             e.cfg.Seed,
	})

	pop, err := e.deps.Manager.Initialize(0)
	if err != nil {
		return nil, fmt.Errorf("engine: initialize: %w", err)
	}
	failed := e.deps.Pool.EvaluateAll(ctx, pop.Individuals, e.deps.Dataset)
	population.AssignNovelty(pop.Individuals)
	pop.Diversity = population.Diversity(pop.Individuals)

	e.observe(pop, failed, 0, nil)
	if err := e.checkpoint(ctx, pop); err != nil {
		return nil, err
	}
	return pop, nil
}

// step runs one full generation transition.
func (e *Engine) step(ctx context.Context, pop *population.Population, generation int) (*population.Population, error) {
	risk := tiers.RiskInput{
		Volatility: datasetVolatility(e.deps.Dataset),
		Stagnation: e.deps.Tracker.Stagnation(),
	}
	offspring, records, err := e.deps.Manager.Vary(pop, generation, risk)
	if err != nil {
		return nil, fmt.Errorf("engine: vary gen %d: %w", generation, err)
	}
	if e.deps.Injector != nil {
		offspring = e.deps.Injector.Inject(ctx, offspring, generation)
	}

	failed := e.deps.Pool.EvaluateAll(ctx, offspring, e.deps.Dataset)

	// Novelty is relative to everyone alive this generation, parents and
	// offspring alike, so elites and newcomers rank on the same scale.
	union := append(append([]*strategy.Strategy(nil), pop.Individuals...), offspring...)
	population.AssignNovelty(union)

	records = e.completeRecords(records, pop, offspring)
	boundaries := e.deps.Learner.ApplyBatch(records)
	e.deps.Selector.SetBoundaries(boundaries)

	next, err := e.deps.Manager.ElitismMerge(pop, offspring, generation)
	if err != nil {
		return nil, fmt.Errorf("engine: merge gen %d: %w", generation, err)
	}

	e.observe(next, failed, countAccepted(records), records)
	if err := e.checkpoint(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// restart reinitializes the population around the current champion and
// evaluates the fresh individuals.
func (e *Engine) restart(ctx context.Context, pop *population.Population, generation int) (*population.Population, error) {
	champion := pop.Champion()
	if champion == nil {
		return nil, fmt.Errorf("engine: restart without evaluated champion")
	}

	e.deps.Tracker.NoteRestart()
	e.deps.Bus.Emit(module, &events.RestartTriggeredData{
		Generation: generation,
		Restart:    e.deps.Tracker.Restarts(),
		ChampionID: champion.ID(),
	})
	e.log.Warn().
		Int("generation", generation).
		Int("restart", e.deps.Tracker.Restarts()).
		Msg("convergence detected, restarting population")

	fresh, err := e.deps.Manager.Restart(champion, generation)
	if err != nil {
		return nil, fmt.Errorf("engine: restart gen %d: %w", generation, err)
	}
	failed := e.deps.Pool.EvaluateAll(ctx, fresh.Individuals, e.deps.Dataset)
	population.AssignNovelty(fresh.Individuals)
	fresh.Diversity = population.Diversity(fresh.Individuals)

	e.observe(fresh, failed, 0, nil)
	if err := e.checkpoint(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// completeRecords fills Improved/Delta on accepted records now that the
// offspring carry fitness. The learner only ever sees completed batches.
func (e *Engine) completeRecords(records []tiers.Record, pop *population.Population, offspring []*strategy.Strategy) []tiers.Record {
	parents := make(map[string]*strategy.Strategy, len(pop.Individuals))
	for _, s := range pop.Individuals {
		parents[s.ID()] = s
	}
	children := make(map[string]*strategy.Strategy, len(offspring))
	for _, s := range offspring {
		children[s.ID()] = s
	}

	for i, r := range records {
		if !r.Accepted {
			continue
		}
		child, ok := children[r.StrategyID]
		if !ok || child.Fitness() == nil {
			// Replaced by an immigrant or never evaluated; the attempt
			// still counts, the improvement is unknowable.
			continue
		}
		// Records carry the evaluated ancestors; a crossover intermediate in
		// the lineage would otherwise leave the comparison empty.
		ancestors := r.ParentIDs
		if len(ancestors) == 0 {
			ancestors = child.ParentIDs()
		}
		parentScore := math.Inf(-1)
		for _, pid := range ancestors {
			if p, ok := parents[pid]; ok && p.Fitness() != nil {
				parentScore = math.Max(parentScore, p.Fitness().Score())
			}
		}
		if math.IsInf(parentScore, -1) {
			continue
		}
		delta := child.Fitness().Score() - parentScore
		records[i].Delta = delta
		records[i].Improved = delta > 0 && !child.Fitness().Failed
	}
	return records
}

// observe updates the tracker and status and emits generation events.
func (e *Engine) observe(pop *population.Population, failedEvals, accepted int, records []tiers.Record) {
	champion := pop.Champion()
	score := math.Inf(-1)
	championID := ""
	if champion != nil {
		score = champion.Fitness().Score()
		championID = champion.ID()
	}

	previous := e.deps.Tracker.BestScore()
	e.deps.Tracker.Observe(pop.Diversity, score)
	if score > previous {
		e.mu.Lock()
		e.champion = champion.Clone()
		e.mu.Unlock()
		e.deps.Bus.Emit(module, &events.BestImprovedData{
			Generation: pop.Generation,
			ChampionID: championID,
			Score:      score,
			Previous:   previous,
		})
	}

	boundaries := e.deps.Selector.Boundaries()
	e.deps.Bus.Emit(module, &events.GenerationCompletedData{
		Generation:     pop.Generation,
		Diversity:      pop.Diversity,
		BestScore:      e.deps.Tracker.BestScore(),
		ChampionID:     championID,
		FailedEvals:    failedEvals,
		AcceptedCount:  accepted,
		RejectedCount:  len(records) - accepted,
		BoundaryLow:    boundaries.Low,
		BoundaryHigh:   boundaries.High,
		StagnationRuns: e.deps.Tracker.Stagnation(),
	})
	e.noteGeneration(pop)
}

func (e *Engine) checkpoint(ctx context.Context, pop *population.Population) error {
	snap, err := checkpoint.Capture(pop,
		e.deps.Selector.Boundaries(),
		e.deps.Tracker.Restarts(),
		e.deps.Tracker.BestScore(),
		e.deps.Arena,
	)
	if err != nil {
		return fmt.Errorf("engine: capture gen %d: %w", pop.Generation, err)
	}
	if err := e.deps.Repo.Save(ctx, snap); err != nil {
		return fmt.Errorf("engine: save gen %d: %w", pop.Generation, err)
	}
	if err := e.deps.Repo.Prune(ctx, e.cfg.CheckpointKeep); err != nil {
		return fmt.Errorf("engine: prune checkpoints: %w", err)
	}
	e.deps.Bus.Emit(module, &events.CheckpointSavedData{Generation: pop.Generation})
	return nil
}

func (e *Engine) setRunning(running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Running = running
}

func (e *Engine) noteGeneration(pop *population.Population) {
	champion := pop.Champion()
	championID := ""
	if champion != nil {
		championID = champion.ID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Generation = pop.Generation
	e.status.BestScore = e.deps.Tracker.BestScore()
	e.status.Diversity = pop.Diversity
	e.status.ChampionID = championID
	e.status.Restarts = e.deps.Tracker.Restarts()
	e.status.Stagnation = e.deps.Tracker.Stagnation()
	e.status.Converged = e.deps.Tracker.Converged()
}

func countAccepted(records []tiers.Record) int {
	n := 0
	for _, r := range records {
		if r.Accepted {
			n++
		}
	}
	return n
}

// annualVolCeiling is the annualized close-to-close volatility treated as
// fully volatile when normalizing the risk input.
const annualVolCeiling = 0.6

// datasetVolatility derives the normalized market-volatility risk input
// from the evaluation dataset's close series.
func datasetVolatility(dataset strategy.Dataset) float64 {
	closes := dataset["close"]
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	annual := stat.StdDev(returns, nil) * math.Sqrt(252)
	v := annual / annualVolCeiling
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return v
}
