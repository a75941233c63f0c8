package mutation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/sandbox"
)

func TestCodeMutator_LiftsBuiltinPositionFactor(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	arena := sandbox.NewArena()
	m := NewCodeMutator(arena, testRNG())
	s := builtinStrategy(t, lib)
	before := s.Clone()

	child, err := m.MutateExpression(s, 1, "f1")
	require.NoError(t, err)
	require.NoError(t, child.Validate())
	assert.True(t, s.Equal(before), "parent must not change")

	f, ok := child.Factor("f1")
	require.True(t, ok, "mutated factor keeps its id")
	assert.True(t, sandbox.IsHandle(f.Name()))
	assert.Equal(t, factor.CategoryPosition, f.Category())
	assert.True(t, f.ProducesSignal())

	// The expression behind the handle must be retrievable and executable
	// through the combined resolver.
	expr, ok := arena.Expression(f.Name())
	require.True(t, ok)
	assert.Contains(t, expr.Channels(), "momentum_score")

	resolver := factor.NewMultiLibrary(lib, arena)
	_, err = resolver.Compute(f.Name())
	assert.NoError(t, err)
}

func TestCodeMutator_MutatesArenaBackedFactor(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	arena := sandbox.NewArena()
	m := NewCodeMutator(arena, testRNG())
	s := builtinStrategy(t, lib)

	first, err := m.MutateExpression(s, 1, "f1")
	require.NoError(t, err)

	// A second pass starts from the arena expression, not a lift.
	second, err := m.MutateExpression(first, 2, "f1")
	require.NoError(t, err)
	require.NoError(t, second.Validate())

	f1, _ := first.Factor("f1")
	f2, _ := second.Factor("f1")
	assert.True(t, sandbox.IsHandle(f2.Name()))
	assert.NotEqual(t, f1.Name(), f2.Name(), "each mutation registers a fresh handle")
}

func TestCodeMutator_RejectsFactorsWithoutExpressionForm(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	m := NewCodeMutator(sandbox.NewArena(), testRNG())
	s := builtinStrategy(t, lib)

	_, err := m.MutateExpression(s, 1, "f0")
	require.Error(t, err)

	var mutErr *Error
	require.True(t, errors.As(err, &mutErr))
	assert.Equal(t, Tier3, mutErr.Tier)
	assert.Equal(t, OpMutateExpression, mutErr.Op)
}

func TestCodeMutator_MutatePicksSignalProducer(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	arena := sandbox.NewArena()
	m := NewCodeMutator(arena, testRNG())
	s := builtinStrategy(t, lib)

	for i := 0; i < 10; i++ {
		child, err := m.Mutate(s, i+1)
		require.NoError(t, err)
		require.NoError(t, child.Validate())
		f, _ := child.Factor("f1")
		assert.True(t, sandbox.IsHandle(f.Name()))
	}
}

func TestCodeMutator_EditsNeverShrinkChannelSet(t *testing.T) {
	arena := sandbox.NewArena()
	m := NewCodeMutator(arena, testRNG())

	base := sandbox.And(
		sandbox.Compare("momentum_score", sandbox.OpGT, 0.2),
		sandbox.Compare("volatility_gate", sandbox.OpGTE, 1),
	)
	for i := 0; i < 50; i++ {
		mutated := m.mutateNode(base.Clone())
		require.NoError(t, sandbox.ValidateExpression(mutated))
		assert.Subset(t, mutated.Channels(), base.Channels())
		assert.Subset(t, base.Channels(), mutated.Channels())
	}
}
