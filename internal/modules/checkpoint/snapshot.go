// Package checkpoint persists per-generation search state to sqlite so an
// interrupted run resumes without re-evaluating finished generations.
package checkpoint

import (
	"fmt"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/population"
	"github.com/aristath/darwin/internal/modules/sandbox"
	"github.com/aristath/darwin/internal/modules/strategy"
	"github.com/aristath/darwin/internal/modules/tiers"
)

// factorSnapshot is the serializable form of one factor. Expression-backed
// factors carry their AST so the arena can be rebuilt on restore; arena
// handles themselves are not stable across processes.
type factorSnapshot struct {
	ID         string             `msgpack:"id"`
	Name       string             `msgpack:"name"`
	Params     map[string]float64 `msgpack:"params"`
	Expression *sandbox.Node      `msgpack:"expression,omitempty"`
}

// strategySnapshot is the serializable form of one strategy.
type strategySnapshot struct {
	ID         string            `msgpack:"id"`
	Generation int               `msgpack:"generation"`
	ParentIDs  []string          `msgpack:"parent_ids"`
	Factors    []factorSnapshot  `msgpack:"factors"`
	Fitness    *strategy.Fitness `msgpack:"fitness,omitempty"`
}

// Snapshot is the complete persisted state of one generation.
type Snapshot struct {
	Generation  int                `msgpack:"generation"`
	Diversity   float64            `msgpack:"diversity"`
	Boundaries  tiers.Boundaries   `msgpack:"boundaries"`
	Restarts    int                `msgpack:"restarts"`
	BestScore   float64            `msgpack:"best_score"`
	EliteIDs    []string           `msgpack:"elite_ids"`
	Individuals []strategySnapshot `msgpack:"individuals"`
}

// Capture builds a snapshot of the population plus selector/restart state.
// Expressions behind arena handles are inlined from the arena.
func Capture(pop *population.Population, boundaries tiers.Boundaries, restarts int, bestScore float64, arena *sandbox.Arena) (*Snapshot, error) {
	snap := &Snapshot{
		Generation: pop.Generation,
		Diversity:  pop.Diversity,
		Boundaries: boundaries,
		Restarts:   restarts,
		BestScore:  bestScore,
		EliteIDs:   append([]string(nil), pop.EliteIDs...),
	}
	for _, s := range pop.Individuals {
		ss := strategySnapshot{
			ID:         s.ID(),
			Generation: s.Generation(),
			ParentIDs:  s.ParentIDs(),
			Fitness:    s.Fitness(),
		}
		for _, f := range s.Factors() {
			fs := factorSnapshot{ID: f.ID(), Name: f.Name(), Params: f.Params()}
			if sandbox.IsHandle(f.Name()) {
				expr, ok := arena.Expression(f.Name())
				if !ok {
					return nil, fmt.Errorf("capture: strategy %s references unknown expression %s", s.ID(), f.Name())
				}
				fs.Expression = expr
			}
			ss.Factors = append(ss.Factors, fs)
		}
		snap.Individuals = append(snap.Individuals, ss)
	}
	return snap, nil
}

// Restore rebuilds the population from a snapshot. Expression factors are
// re-registered into the arena under fresh handles; everything else
// resolves through the library. Every restored strategy is validated, so a
// corrupt checkpoint fails loudly instead of seeding a broken population.
func (snap *Snapshot) Restore(lib factor.Library, arena *sandbox.Arena) (*population.Population, error) {
	pop := &population.Population{
		Generation: snap.Generation,
		Diversity:  snap.Diversity,
		EliteIDs:   append([]string(nil), snap.EliteIDs...),
	}
	for _, ss := range snap.Individuals {
		factors := make([]factor.Factor, 0, len(ss.Factors))
		for _, fs := range ss.Factors {
			var (
				spec factor.Spec
				err  error
			)
			if fs.Expression != nil {
				handle, regErr := arena.Register(fs.Expression)
				if regErr != nil {
					return nil, fmt.Errorf("restore %s: %w", ss.ID, regErr)
				}
				spec, err = arena.Lookup(handle)
			} else {
				spec, err = lib.Lookup(fs.Name)
			}
			if err != nil {
				return nil, fmt.Errorf("restore %s: %w", ss.ID, err)
			}
			params := fs.Params
			if fs.Expression != nil {
				params = nil
			}
			f, err := factor.New(fs.ID, spec, params)
			if err != nil {
				return nil, fmt.Errorf("restore %s: %w", ss.ID, err)
			}
			factors = append(factors, f)
		}

		s, err := strategy.New(ss.ID, ss.Generation, ss.ParentIDs, factors)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", ss.ID, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("restore %s: %w", ss.ID, err)
		}
		s.SetFitness(ss.Fitness)
		pop.Individuals = append(pop.Individuals, s)
	}
	return pop, nil
}
