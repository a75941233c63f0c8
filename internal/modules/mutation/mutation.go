// Package mutation implements the three-tier mutation operators over
// strategies. All operators are pure: they derive a new strategy and never
// touch the original. Every result is gated by strategy validation; a
// failing candidate is rejected, not repaired.
package mutation

import (
	"fmt"

	"github.com/aristath/darwin/internal/modules/strategy"
)

// Tier is the abstraction level a mutation operates at.
type Tier int

const (
	// Tier1 edits a declarative configuration and re-materializes the
	// strategy through a schema-validated interpreter.
	Tier1 Tier = iota + 1
	// Tier2 has the same operator surface over the full factor library.
	Tier2
	// Tier3 mutates the signal-expression bodies themselves.
	Tier3
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	}
	return fmt.Sprintf("tier%d", int(t))
}

// Tiers returns all tiers in order.
func Tiers() []Tier { return []Tier{Tier1, Tier2, Tier3} }

// Op identifies a mutation operator.
type Op string

const (
	OpAddFactor        Op = "add_factor"
	OpRemoveFactor     Op = "remove_factor"
	OpReplaceFactor    Op = "replace_factor"
	OpMutateParameters Op = "mutate_parameters"
	OpMutateExpression Op = "mutate_expression"
)

// InsertionPoint controls where add_factor places a new factor.
type InsertionPoint string

const (
	// InsertRoot adds the factor as-is; it is rejected unless something
	// already consumes its outputs.
	InsertRoot InsertionPoint = "root"
	// InsertLeaf adds the factor as a terminal node; only factors whose
	// outputs are strategy-level outputs survive validation here.
	InsertLeaf InsertionPoint = "leaf"
	// InsertSmart searches for a compatible consumer, adding one from
	// the library when none exists yet.
	InsertSmart InsertionPoint = "smart"
)

// Error wraps a rejected mutation with enough context for the tier
// selector to learn from it: which tier and operator produced it and which
// factor was involved.
type Error struct {
	Tier     Tier
	Op       Op
	FactorID string
	Err      error
}

func (e *Error) Error() string {
	if e.FactorID != "" {
		return fmt.Sprintf("%s %s (factor %s): %v", e.Tier, e.Op, e.FactorID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Tier, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Mutator is the surface the tier selector routes requests through.
type Mutator interface {
	Tier() Tier
	// Mutate applies a randomly chosen operator of this tier to the
	// strategy, returning the validated offspring.
	Mutate(s *strategy.Strategy, generation int) (*strategy.Strategy, error)
}

// reject wraps err as a mutation rejection.
func reject(tier Tier, op Op, factorID string, err error) error {
	return &Error{Tier: tier, Op: op, FactorID: factorID, Err: err}
}

// gate validates a candidate and wraps any violation as a rejection.
func gate(tier Tier, op Op, factorID string, candidate *strategy.Strategy) (*strategy.Strategy, error) {
	if err := candidate.Validate(); err != nil {
		return nil, reject(tier, op, factorID, err)
	}
	return candidate, nil
}
