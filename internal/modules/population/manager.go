// Package population owns generations of strategies: initialization,
// tournament selection, crossover and tier-routed mutation, NSGA-II
// elitism, diversity tracking, convergence detection and restarts.
package population

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
	"github.com/aristath/darwin/internal/modules/tiers"
)

// Config sizes the population machinery.
type Config struct {
	PopulationSize int
	EliteSize      int
	// TournamentSize 2 is the default: size 3 collapses diversity too
	// quickly under these objectives.
	TournamentSize int
	CrossoverRate  float64
}

func (c Config) withDefaults() Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 50
	}
	if c.EliteSize <= 0 {
		c.EliteSize = 5
	}
	if c.EliteSize >= c.PopulationSize {
		c.EliteSize = c.PopulationSize / 2
	}
	if c.TournamentSize <= 0 {
		c.TournamentSize = 2
	}
	if c.CrossoverRate <= 0 {
		c.CrossoverRate = 0.6
	}
	return c
}

// Population is one generation of strategies.
type Population struct {
	Generation  int
	Individuals []*strategy.Strategy
	EliteIDs    []string
	Diversity   float64
}

// Champion returns the best evaluated individual by scalar score, or nil
// when nothing is evaluated yet.
func (p *Population) Champion() *strategy.Strategy {
	var best *strategy.Strategy
	for _, s := range p.Individuals {
		if s.Fitness() == nil {
			continue
		}
		if best == nil || s.Fitness().Score() > best.Fitness().Score() {
			best = s
		}
	}
	return best
}

// Manager drives the evolutionary steps over populations. It owns the
// current generation exclusively; evaluation workers only ever see
// read-only strategies and return fitness by id.
type Manager struct {
	log      zerolog.Logger
	cfg      Config
	lib      factor.Library
	selector *tiers.Selector
	rng      *rand.Rand
}

// NewManager builds a manager sampling factors from lib and routing
// mutations through the tier selector.
func NewManager(log zerolog.Logger, cfg Config, lib factor.Library, selector *tiers.Selector, rng *rand.Rand) *Manager {
	return &Manager{
		log:      log.With().Str("component", "population").Logger(),
		cfg:      cfg.withDefaults(),
		lib:      lib,
		selector: selector,
		rng:      rng,
	}
}

// Config returns the effective configuration after defaulting.
func (m *Manager) Config() Config { return m.cfg }

// Initialize fills a population with validated strategies sampled from the
// factor library's configuration space. Invalid samples are discarded and
// resampled, never repaired.
func (m *Manager) Initialize(generation int) (*Population, error) {
	individuals := make([]*strategy.Strategy, 0, m.cfg.PopulationSize)
	attempts := 0
	maxAttempts := m.cfg.PopulationSize * 50
	for len(individuals) < m.cfg.PopulationSize {
		if attempts >= maxAttempts {
			return nil, fmt.Errorf("initialize: only %d/%d valid strategies after %d attempts",
				len(individuals), m.cfg.PopulationSize, attempts)
		}
		attempts++
		s, err := m.sample(generation)
		if err != nil {
			continue
		}
		if err := s.Validate(); err != nil {
			continue
		}
		individuals = append(individuals, s)
	}
	m.log.Info().
		Int("size", len(individuals)).
		Int("attempts", attempts).
		Msg("population initialized")
	return &Population{Generation: generation, Individuals: individuals}, nil
}

// sample draws one strategy: a random position factor plus, per unmet
// input channel, a random producer from the library. Parameters come from
// a coarse grid over their declared ranges.
func (m *Manager) sample(generation int) (*strategy.Strategy, error) {
	positions := m.lib.ListByCategory(factor.CategoryPosition)
	if len(positions) == 0 {
		return nil, fmt.Errorf("sample: library has no position factors")
	}
	name := positions[m.rng.IntN(len(positions))]
	spec, err := m.lib.Lookup(name)
	if err != nil {
		return nil, err
	}

	var factors []factor.Factor
	seq := 0
	add := func(spec factor.Spec) error {
		f, err := factor.New(fmt.Sprintf("f%d", seq), spec, m.gridParams(spec))
		if err != nil {
			return err
		}
		seq++
		factors = append(factors, f)
		return nil
	}
	if err := add(spec); err != nil {
		return nil, err
	}

	for _, in := range spec.Inputs {
		if isBase(in) {
			continue
		}
		producer, err := m.randomProducer(in)
		if err != nil {
			return nil, err
		}
		if err := add(producer); err != nil {
			return nil, err
		}
	}

	return strategy.New(strategy.NewID(), generation, nil, factors)
}

// randomProducer picks a library factor producing the given channel.
func (m *Manager) randomProducer(channel string) (factor.Spec, error) {
	var candidates []factor.Spec
	for _, category := range factor.Categories() {
		for _, name := range m.lib.ListByCategory(category) {
			spec, err := m.lib.Lookup(name)
			if err != nil {
				continue
			}
			for _, out := range spec.Outputs {
				if out == channel && allBase(spec.Inputs) {
					candidates = append(candidates, spec)
					break
				}
			}
		}
	}
	if len(candidates) == 0 {
		return factor.Spec{}, fmt.Errorf("sample: no producer for channel %q", channel)
	}
	return candidates[m.rng.IntN(len(candidates))], nil
}

// gridParams samples each parameter from a five-point grid over its range.
func (m *Manager) gridParams(spec factor.Spec) map[string]float64 {
	const points = 5
	params := make(map[string]float64, len(spec.Params))
	for name, ps := range spec.Params {
		v := ps.Min + (ps.Max-ps.Min)*float64(m.rng.IntN(points))/float64(points-1)
		params[name] = ps.Clamp(v)
	}
	return params
}

// Vary produces the offspring pool for the next generation: tournament
// parents, crossover where parents differ structurally, and a tier-routed
// mutation per offspring. It returns the offspring together with the
// mutation records the learner will consume after evaluation. Every
// individual in pop must already be evaluated.
func (m *Manager) Vary(pop *Population, generation int, risk tiers.RiskInput) ([]*strategy.Strategy, []tiers.Record, error) {
	rankedAll, err := rankAll(pop.Individuals)
	if err != nil {
		return nil, nil, fmt.Errorf("vary: %w", err)
	}
	order := make(map[string]int, len(rankedAll))
	for i, r := range rankedAll {
		order[r.s.ID()] = i
	}

	target := m.cfg.PopulationSize - m.cfg.EliteSize
	offspring := make([]*strategy.Strategy, 0, target)
	var records []tiers.Record

	attempts := 0
	maxAttempts := target * 30
	for len(offspring) < target && attempts < maxAttempts {
		attempts++

		parent := m.tournament(pop.Individuals, order)
		base := parent
		lineage := []string{parent.ID()}
		if m.rng.Float64() < m.cfg.CrossoverRate {
			mate := m.tournament(pop.Individuals, order)
			child, err := Crossover(parent, mate, generation, m.rng)
			switch {
			case err == nil:
				base = child
				// The intermediate is never evaluated; its parents are the
				// ancestors any improvement is measured against.
				lineage = child.ParentIDs()
			case errors.Is(err, ErrIdenticalParents):
				// fall back to mutation-only variation
			default:
				m.log.Debug().Err(err).Msg("crossover rejected")
			}
		}

		score := tiers.RiskScore(tiers.RiskInput{
			Complexity: base.Len(),
			Volatility: risk.Volatility,
			Stagnation: risk.Stagnation,
		})
		mutated, tier, err := m.selector.Mutate(base, generation, score)
		if err != nil {
			records = append(records, tiers.Record{Tier: tier, StrategyID: parent.ID(), ParentIDs: lineage})
			// A crossover child is already validated; keep it even when
			// its mutation was rejected.
			if base != parent {
				offspring = append(offspring, base)
			}
			continue
		}
		records = append(records, tiers.Record{Tier: tier, StrategyID: mutated.ID(), ParentIDs: lineage, Accepted: true})
		offspring = append(offspring, mutated)
	}

	// Top up with straight reproduction if variation kept getting
	// rejected; size is an invariant.
	for len(offspring) < target {
		parent := m.tournament(pop.Individuals, order)
		offspring = append(offspring, parent.Derive(generation))
	}
	return offspring, records, nil
}

// tournament returns the best of TournamentSize uniform draws, by NSGA-II
// order.
func (m *Manager) tournament(individuals []*strategy.Strategy, order map[string]int) *strategy.Strategy {
	best := individuals[m.rng.IntN(len(individuals))]
	for i := 1; i < m.cfg.TournamentSize; i++ {
		challenger := individuals[m.rng.IntN(len(individuals))]
		if order[challenger.ID()] < order[best.ID()] {
			best = challenger
		}
	}
	return best
}

// ElitismMerge builds the next generation from the top EliteSize of the
// current population plus the best offspring. Both sides must be fully
// evaluated; merging unevaluated individuals is rejected, not tolerated.
func (m *Manager) ElitismMerge(current *Population, offspring []*strategy.Strategy, generation int) (*Population, error) {
	rankedCurrent, err := Rank(current.Individuals)
	if err != nil {
		return nil, fmt.Errorf("elitism: current generation: %w", err)
	}
	rankedOffspring, err := Rank(offspring)
	if err != nil {
		return nil, fmt.Errorf("elitism: offspring: %w", err)
	}

	eliteCount := m.cfg.EliteSize
	if eliteCount > len(rankedCurrent) {
		eliteCount = len(rankedCurrent)
	}
	elites := rankedCurrent[:eliteCount]

	individuals := make([]*strategy.Strategy, 0, m.cfg.PopulationSize)
	individuals = append(individuals, elites...)
	for _, s := range rankedOffspring {
		if len(individuals) == m.cfg.PopulationSize {
			break
		}
		individuals = append(individuals, s)
	}
	// Offspring shortfall is covered by the rest of the current ranking.
	for _, s := range rankedCurrent[eliteCount:] {
		if len(individuals) == m.cfg.PopulationSize {
			break
		}
		individuals = append(individuals, s)
	}

	eliteIDs := make([]string, len(elites))
	for i, s := range elites {
		eliteIDs[i] = s.ID()
	}
	return &Population{
		Generation:  generation,
		Individuals: individuals,
		EliteIDs:    eliteIDs,
		Diversity:   Diversity(individuals),
	}, nil
}

// Restart reinitializes the population after convergence, seeding one slot
// with the champion so the best-known solution survives the reset.
func (m *Manager) Restart(champion *strategy.Strategy, generation int) (*Population, error) {
	pop, err := m.Initialize(generation)
	if err != nil {
		return nil, err
	}
	if champion != nil {
		pop.Individuals[0] = champion.Clone()
	}
	m.log.Info().Int("generation", generation).Msg("population restarted around champion")
	return pop, nil
}

func isBase(channel string) bool {
	for _, base := range strategy.BaseChannels {
		if channel == base {
			return true
		}
	}
	return false
}

func allBase(channels []string) bool {
	for _, ch := range channels {
		if !isBase(ch) {
			return false
		}
	}
	return true
}
