package mutation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/sandbox"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// CodeMutator is the Tier-3 mutator: it rewrites the signal expression
// behind a position factor. Builtin position factors are first lifted into
// their expression form; arena-backed factors are fetched directly. Every
// mutated expression passes security validation, is registered in the
// arena, and is probe-executed under resource limits before the swap is
// accepted. Expensive, risky, maximum exploration.
type CodeMutator struct {
	arena     *sandbox.Arena
	rng       *rand.Rand
	limits    sandbox.ResourceLimits
	probeBars int
}

// NewCodeMutator builds a Tier-3 mutator writing into the given arena.
func NewCodeMutator(arena *sandbox.Arena, rng *rand.Rand) *CodeMutator {
	return &CodeMutator{
		arena:     arena,
		rng:       rng,
		limits:    sandbox.ResourceLimits{Timeout: 2 * time.Second, MaxMemoryBytes: 256 << 20},
		probeBars: 64,
	}
}

// Tier implements Mutator.
func (m *CodeMutator) Tier() Tier { return Tier3 }

// Mutate implements Mutator: it mutates the expression of one signal
// producer. Tier-3 has a single operator.
func (m *CodeMutator) Mutate(s *strategy.Strategy, generation int) (*strategy.Strategy, error) {
	id, ok := pickSorted(s.SignalProducers(), m.rng)
	if !ok {
		return nil, reject(Tier3, OpMutateExpression, "", fmt.Errorf("strategy has no signal producer"))
	}
	return m.MutateExpression(s, generation, id)
}

// MutateExpression rewrites the expression behind the given position
// factor. The factor keeps its id so downstream edges re-derive unchanged.
func (m *CodeMutator) MutateExpression(s *strategy.Strategy, generation int, factorID string) (*strategy.Strategy, error) {
	f, ok := s.Factor(factorID)
	if !ok {
		return nil, reject(Tier3, OpMutateExpression, factorID, fmt.Errorf("no factor with id %q", factorID))
	}

	expr, err := m.expressionFor(f)
	if err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}

	mutated := m.mutateNode(expr.Clone())
	if err := sandbox.ValidateExpression(mutated); err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}

	handle, err := m.arena.Register(mutated)
	if err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}

	if err := m.probe(handle, mutated); err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}

	spec, err := m.arena.Lookup(handle)
	if err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}
	replacement, err := factor.New(factorID, spec, nil)
	if err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}

	child, err := s.Derive(generation).WithFactorSwapped(factorID, replacement)
	if err != nil {
		return nil, reject(Tier3, OpMutateExpression, factorID, err)
	}
	return gate(Tier3, OpMutateExpression, factorID, child)
}

// expressionFor resolves the expression behind a factor: arena handles are
// fetched, builtin position factors are lifted into an equivalent
// expression over their input channels. The lifted form keeps the long
// side only; expressions emit {0, 1} signals.
func (m *CodeMutator) expressionFor(f factor.Factor) (*sandbox.Node, error) {
	if sandbox.IsHandle(f.Name()) {
		expr, ok := m.arena.Expression(f.Name())
		if !ok {
			return nil, fmt.Errorf("arena has no expression %q", f.Name())
		}
		return expr, nil
	}

	th, _ := f.Param("threshold")
	switch f.Name() {
	case "threshold_position":
		return sandbox.Compare("momentum_score", sandbox.OpGT, th), nil
	case "trend_position":
		return sandbox.Compare("trend_score", sandbox.OpGT, th), nil
	case "gated_position":
		return sandbox.And(
			sandbox.Compare("momentum_score", sandbox.OpGT, th),
			sandbox.Compare("volatility_gate", sandbox.OpGTE, 1),
		), nil
	case "catalyst_position":
		return sandbox.And(
			sandbox.Compare("momentum_score", sandbox.OpGT, th),
			sandbox.Compare("catalyst_gate", sandbox.OpGTE, 1),
		), nil
	case "blended_position":
		w, _ := f.Param("weight")
		return sandbox.Weighted([]float64{w, 1 - w},
			sandbox.Compare("momentum_score", sandbox.OpGT, th),
			sandbox.Compare("trend_score", sandbox.OpGT, th),
		), nil
	}
	return nil, fmt.Errorf("factor %s has no expression form", f.Name())
}

// mutateNode applies one random expression edit in place and returns the
// root, which may change when a condition wraps it. Edits never remove
// nodes, so the channel set never shrinks and upstream factors cannot be
// orphaned by the swap.
func (m *CodeMutator) mutateNode(root *sandbox.Node) *sandbox.Node {
	compares := comparesOf(root)
	combiners := combinersOf(root)

	switch m.rng.IntN(5) {
	case 0:
		n := compares[m.rng.IntN(len(compares))]
		n.Op = flippedOp(n.Op)
	case 1:
		n := compares[m.rng.IntN(len(compares))]
		n.Threshold = perturbThreshold(n.Threshold, m.rng)
	case 2:
		if len(combiners) == 0 {
			n := compares[m.rng.IntN(len(compares))]
			n.Adaptive = !n.Adaptive
			break
		}
		n := combiners[m.rng.IntN(len(combiners))]
		if n.Kind == sandbox.NodeAnd {
			n.Kind = sandbox.NodeOr
		} else {
			n.Kind = sandbox.NodeAnd
		}
	case 3:
		n := compares[m.rng.IntN(len(compares))]
		n.Adaptive = !n.Adaptive
	case 4:
		channels := root.Channels()
		channel := channels[m.rng.IntN(len(channels))]
		ops := sandbox.CompareOps()
		extra := sandbox.Compare(channel, ops[m.rng.IntN(len(ops))], perturbThreshold(0, m.rng))
		return sandbox.And(root, extra)
	}
	return root
}

// probe executes the registered expression over synthetic channel data to
// catch runtime failures before the strategy reaches a population.
func (m *CodeMutator) probe(handle string, expr *sandbox.Node) error {
	compute, err := m.arena.Compute(handle)
	if err != nil {
		return err
	}
	inputs := map[string][]float64{}
	for _, channel := range expr.Channels() {
		series := make([]float64, m.probeBars)
		for i := range series {
			series[i] = math.Sin(float64(i) / 5)
		}
		inputs[channel] = series
	}
	_, err = sandbox.Execute(context.Background(), compute, inputs, nil, m.limits)
	return err
}

func comparesOf(root *sandbox.Node) []*sandbox.Node {
	var out []*sandbox.Node
	for _, n := range root.Nodes() {
		if n.Kind == sandbox.NodeCompare {
			out = append(out, n)
		}
	}
	return out
}

func combinersOf(root *sandbox.Node) []*sandbox.Node {
	var out []*sandbox.Node
	for _, n := range root.Nodes() {
		if n.Kind == sandbox.NodeAnd || n.Kind == sandbox.NodeOr {
			out = append(out, n)
		}
	}
	return out
}

func flippedOp(op sandbox.CompareOp) sandbox.CompareOp {
	switch op {
	case sandbox.OpGT:
		return sandbox.OpGTE
	case sandbox.OpGTE:
		return sandbox.OpGT
	case sandbox.OpLT:
		return sandbox.OpLTE
	default:
		return sandbox.OpLT
	}
}

func perturbThreshold(value float64, rng *rand.Rand) float64 {
	sigma := 0.2 * math.Abs(value)
	if sigma < 0.05 {
		sigma = 0.05
	}
	return value + rng.NormFloat64()*sigma
}
