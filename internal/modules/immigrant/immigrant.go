// Package immigrant injects externally generated candidate strategies into
// a generation in place of some fraction of mutation-derived offspring.
// Sources are opaque (an LLM, a heuristic generator, a curated catalogue);
// the injector only requires that every candidate survives the same
// validation gate as any other individual.
package immigrant

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/mutation"
	"github.com/aristath/darwin/internal/modules/sandbox"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// Candidate is one externally supplied strategy, in one of two forms: a
// declarative spec interpreted against the factor library, or a signal
// expression plus the supporting factors that produce its inputs.
type Candidate struct {
	// Spec is the declarative form. Mutually exclusive with Expression.
	Spec *mutation.StrategySpec

	// Expression is the code form: an AST that becomes the strategy's
	// signal-producing factor after security validation and arena
	// registration.
	Expression *sandbox.Node

	// Supporting lists library factors materialized alongside Expression
	// to produce its input channels. Ignored for spec candidates.
	Supporting []mutation.FactorEntry

	// Source optionally carries the raw textual body the candidate was
	// derived from. When present it is token-scanned for disallowed
	// constructs before anything else is looked at.
	Source string
}

// Source supplies candidate strategies. Implementations may be slow or
// unreliable; errors and empty batches both degrade to a generation with
// no immigrants.
type Source interface {
	Propose(ctx context.Context, count int) ([]Candidate, error)
}

// Config holds injector configuration.
type Config struct {
	// Fraction of each offspring batch that may be replaced by
	// immigrants, in [0, 1].
	Fraction float64
}

func (c Config) withDefaults() Config {
	if c.Fraction <= 0 {
		c.Fraction = 0.1
	}
	if c.Fraction > 1 {
		c.Fraction = 1
	}
	return c
}

// Injector materializes and validates candidates from a source and swaps
// them into offspring batches.
type Injector struct {
	log    zerolog.Logger
	cfg    Config
	lib    factor.Library
	arena  *sandbox.Arena
	source Source
	rng    *rand.Rand
}

// NewInjector builds an injector. The library must resolve both builtin
// factor names and arena handles when expression candidates are expected.
func NewInjector(log zerolog.Logger, cfg Config, lib factor.Library, arena *sandbox.Arena, source Source, rng *rand.Rand) *Injector {
	return &Injector{
		log:    log.With().Str("component", "immigrant").Logger(),
		cfg:    cfg.withDefaults(),
		lib:    lib,
		arena:  arena,
		source: source,
		rng:    rng,
	}
}

// Inject asks the source for candidates and replaces up to the configured
// fraction of offspring with the ones that validate. Offspring are replaced
// at random positions so immigrants do not cluster. The returned slice is
// the (possibly modified) offspring batch; rejected candidates are logged
// and dropped, never repaired.
func (inj *Injector) Inject(ctx context.Context, offspring []*strategy.Strategy, generation int) []*strategy.Strategy {
	if inj.source == nil || len(offspring) == 0 {
		return offspring
	}
	quota := int(math.Floor(inj.cfg.Fraction * float64(len(offspring))))
	if quota == 0 {
		return offspring
	}

	candidates, err := inj.source.Propose(ctx, quota)
	if err != nil {
		inj.log.Warn().Err(err).Msg("immigrant source failed, skipping injection")
		return offspring
	}

	slots := inj.rng.Perm(len(offspring))
	injected := 0
	for _, cand := range candidates {
		if injected >= quota {
			break
		}
		s, err := inj.build(cand, generation)
		if err != nil {
			inj.log.Debug().Err(err).Msg("immigrant rejected")
			continue
		}
		offspring[slots[injected]] = s
		injected++
	}
	if injected > 0 {
		inj.log.Info().
			Int("generation", generation).
			Int("injected", injected).
			Int("offered", len(candidates)).
			Msg("immigrants injected")
	}
	return offspring
}

// build materializes one candidate and runs it through the full gate.
func (inj *Injector) build(cand Candidate, generation int) (*strategy.Strategy, error) {
	if cand.Source != "" {
		if err := sandbox.ValidateSource(cand.Source); err != nil {
			return nil, err
		}
	}

	var (
		s   *strategy.Strategy
		err error
	)
	switch {
	case cand.Spec != nil && cand.Expression != nil:
		return nil, fmt.Errorf("candidate carries both spec and expression forms")
	case cand.Spec != nil:
		s, err = mutation.Materialize(*cand.Spec, inj.lib, generation, nil)
	case cand.Expression != nil:
		s, err = inj.buildExpression(cand, generation)
	default:
		return nil, fmt.Errorf("candidate carries neither spec nor expression")
	}
	if err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// buildExpression registers the candidate's expression in the arena and
// materializes it alongside its supporting factors. The expression factor
// comes last so its id follows the supporting ids.
func (inj *Injector) buildExpression(cand Candidate, generation int) (*strategy.Strategy, error) {
	if inj.arena == nil {
		return nil, fmt.Errorf("expression candidate but no arena configured")
	}
	if err := sandbox.ValidateExpression(cand.Expression); err != nil {
		return nil, err
	}
	handle, err := inj.arena.Register(cand.Expression)
	if err != nil {
		return nil, err
	}
	spec, err := inj.arena.Lookup(handle)
	if err != nil {
		return nil, err
	}

	factors := make([]factor.Factor, 0, len(cand.Supporting)+1)
	for i, entry := range cand.Supporting {
		fspec, err := inj.lib.Lookup(entry.Name)
		if err != nil {
			return nil, err
		}
		f, err := factor.New(fmt.Sprintf("f%d", i), fspec, entry.Params)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	exprFactor, err := factor.New(fmt.Sprintf("f%d", len(factors)), spec, nil)
	if err != nil {
		return nil, err
	}
	factors = append(factors, exprFactor)

	return strategy.New(strategy.NewID(), generation, nil, factors)
}
