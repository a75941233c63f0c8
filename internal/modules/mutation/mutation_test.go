package mutation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

func testRNG() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }

// stubLibrary declares a three-level chain for graph surgery tests:
// source (close -> x), mid (x -> y), sink (y -> position), plus drop-in
// and incompatible replacements at each level.
type stubLibrary struct {
	specs map[string]factor.Spec
}

func newStubLibrary() *stubLibrary {
	lib := &stubLibrary{specs: map[string]factor.Spec{}}
	for _, spec := range []factor.Spec{
		{Name: "source", Category: factor.CategoryMomentum,
			Params: map[string]factor.ParamSpec{"period": {Min: 1, Max: 100, Default: 10, Integer: true}},
			Inputs: []string{"close"}, Outputs: []string{"x"}},
		{Name: "source_alt", Category: factor.CategoryMomentum,
			Inputs: []string{"close"}, Outputs: []string{"x"}},
		{Name: "source_bad", Category: factor.CategoryMomentum,
			Inputs: []string{"close"}, Outputs: []string{"z"}},
		{Name: "mid", Category: factor.CategoryTrend,
			Inputs: []string{"x"}, Outputs: []string{"y"}},
		{Name: "mid_alt", Category: factor.CategoryTrend,
			Inputs: []string{"x"}, Outputs: []string{"y"}},
		{Name: "sink", Category: factor.CategoryPosition,
			Inputs: []string{"y"}, Outputs: []string{factor.SignalOutput}},
		{Name: "sink_x", Category: factor.CategoryPosition,
			Inputs: []string{"x"}, Outputs: []string{factor.SignalOutput}},
	} {
		lib.specs[spec.Name] = spec
	}
	return lib
}

func (l *stubLibrary) Lookup(name string) (factor.Spec, error) {
	spec, ok := l.specs[name]
	if !ok {
		return factor.Spec{}, fmt.Errorf("%w: %s", factor.ErrUnknownFactor, name)
	}
	return spec, nil
}

func (l *stubLibrary) ListByCategory(category factor.Category) []string {
	var names []string
	for _, name := range []string{"mid", "mid_alt", "sink", "sink_x", "source", "source_alt", "source_bad"} {
		if l.specs[name].Category == category {
			names = append(names, name)
		}
	}
	return names
}

func (l *stubLibrary) Compute(string) (factor.ComputeFunc, error) {
	return func(map[string][]float64, map[string]float64) (map[string][]float64, error) {
		return map[string][]float64{}, nil
	}, nil
}

// chainStrategy builds source(a) -> mid(b) -> sink(c) over the stub library.
func chainStrategy(t *testing.T, lib factor.Library) *strategy.Strategy {
	t.Helper()
	var factors []factor.Factor
	for id, name := range map[string]string{"a": "source", "b": "mid", "c": "sink"} {
		spec, err := lib.Lookup(name)
		require.NoError(t, err)
		f, err := factor.New(id, spec, nil)
		require.NoError(t, err)
		factors = append(factors, f)
	}
	s, err := strategy.New("chain", 0, nil, factors)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	return s
}

// builtinStrategy builds rsi_momentum(f0) -> threshold_position(f1).
func builtinStrategy(t *testing.T, lib factor.Library) *strategy.Strategy {
	t.Helper()
	rsi, err := lib.Lookup("rsi_momentum")
	require.NoError(t, err)
	pos, err := lib.Lookup("threshold_position")
	require.NoError(t, err)
	f0, err := factor.New("f0", rsi, nil)
	require.NoError(t, err)
	f1, err := factor.New("f1", pos, nil)
	require.NoError(t, err)
	s, err := strategy.New(strategy.NewID(), 0, nil, []factor.Factor{f0, f1})
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	return s
}

func TestGaussianNoise_ClampsToRange(t *testing.T) {
	rng := testRNG()
	spec := factor.ParamSpec{Min: 2, Max: 50, Default: 14, Integer: true}
	for i := 0; i < 200; i++ {
		v := GaussianNoise{Scale: 0.5}.Perturb(14, spec, rng)
		assert.True(t, spec.Contains(v), "value %v outside range", v)
	}
}

func TestUniformNoise_ResamplesWithinRange(t *testing.T) {
	rng := testRNG()
	spec := factor.ParamSpec{Min: 0, Max: 1, Default: 0.2}
	for i := 0; i < 100; i++ {
		v := UniformNoise{}.Perturb(0.2, spec, rng)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	s := builtinStrategy(t, lib)

	spec := SpecFromStrategy(s)
	require.Len(t, spec.Factors, 2)
	assert.Equal(t, "rsi_momentum", spec.Factors[0].Name)

	out, err := Materialize(spec, lib, 3, []string{s.ID()})
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.Equal(t, 3, out.Generation())
	assert.Equal(t, []string{"f0", "f1"}, out.FactorIDs())
	assert.Equal(t, []string{s.ID()}, out.ParentIDs())
}

func TestSchemaCheck(t *testing.T) {
	schema := Schema{
		AllowedFactors: map[string]bool{"rsi_momentum": true, "threshold_position": true},
		AllowedSizing:  map[string]bool{"fixed": true},
		MaxFactors:     2,
	}

	tests := []struct {
		name    string
		spec    StrategySpec
		wantErr bool
	}{
		{"allowed", StrategySpec{Factors: []FactorEntry{{Name: "rsi_momentum"}, {Name: "threshold_position"}}}, false},
		{"empty", StrategySpec{}, true},
		{"unknown factor", StrategySpec{Factors: []FactorEntry{{Name: "sma_cross"}}}, true},
		{"too many factors", StrategySpec{Factors: []FactorEntry{
			{Name: "rsi_momentum"}, {Name: "rsi_momentum"}, {Name: "threshold_position"}}}, true},
		{"bad sizing", StrategySpec{
			Factors:        []FactorEntry{{Name: "rsi_momentum"}},
			PositionSizing: "kelly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Check(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigMutator_RejectsFactorOutsideSchema(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	schema := Schema{
		AllowedFactors: map[string]bool{"rsi_momentum": true, "threshold_position": true},
		MaxFactors:     4,
	}
	m := NewConfigMutator(lib, schema, testRNG())
	s := builtinStrategy(t, lib)

	_, err := m.AddFactor(s, 1, "sma_cross", nil, InsertSmart)
	require.Error(t, err)

	var mutErr *Error
	require.True(t, errors.As(err, &mutErr))
	assert.Equal(t, Tier1, mutErr.Tier)
	assert.Equal(t, OpAddFactor, mutErr.Op)
}

func TestConfigMutator_MutateParametersIsPure(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	m := NewConfigMutator(lib, DefaultSchema(lib), testRNG())
	s := builtinStrategy(t, lib)
	before := s.Clone()

	child, err := m.MutateParameters(s, 5, "f0")
	require.NoError(t, err)
	require.NoError(t, child.Validate())

	assert.True(t, s.Equal(before), "parent must not change")
	assert.NotEqual(t, s.ID(), child.ID())
	assert.Equal(t, 5, child.Generation())

	f, ok := child.Factor("f0")
	require.True(t, ok)
	period, _ := f.Param("period")
	assert.True(t, period >= 2 && period <= 50)
	assert.Equal(t, period, float64(int(period)), "integer parameter must stay integral")
}

func TestLibraryMutator_SmartInsertWiresConsumer(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := builtinStrategy(t, lib)

	// atr_filter produces volatility_gate, which nothing consumes; smart
	// insertion must bring in a consumer (gated_position) or be rejected.
	child, err := m.AddFactor(s, 1, "atr_filter", nil, InsertSmart)
	require.NoError(t, err)
	require.NoError(t, child.Validate())
	assert.Greater(t, child.Len(), s.Len()+1, "expected a consumer alongside the new factor")

	names := map[string]bool{}
	for _, f := range child.Factors() {
		names[f.Name()] = true
	}
	assert.True(t, names["gated_position"])
}

func TestLibraryMutator_RootInsertWithoutConsumerRejected(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := builtinStrategy(t, lib)

	_, err := m.AddFactor(s, 1, "atr_filter", nil, InsertRoot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &strategy.ValidationError{Kind: strategy.OrphanedFactor}))
}

func TestRemoveFactor_LastSignalProducerGuard(t *testing.T) {
	lib := newStubLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := chainStrategy(t, lib)

	for _, cascade := range []bool{false, true} {
		_, err := m.RemoveFactor(s, 1, "c", cascade)
		require.Error(t, err, "cascade=%v", cascade)
		assert.True(t, errors.Is(err, &strategy.ValidationError{Kind: strategy.NoSignalProducer}))
	}

	// Removing an upstream factor whose cascade swallows the only signal
	// producer is equally rejected.
	_, err := m.RemoveFactor(s, 1, "a", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &strategy.ValidationError{Kind: strategy.NoSignalProducer}))
}

func TestRemoveFactor_CascadeRemovesDependentSubgraph(t *testing.T) {
	lib := newStubLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := chainStrategy(t, lib)

	// A second, independent signal producer lets the chain go.
	sinkX, err := lib.Lookup("sink_x")
	require.NoError(t, err)
	extra, err := factor.New("d", sinkX, nil)
	require.NoError(t, err)
	s, err = s.WithFactorAdded(extra)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	child, err := m.RemoveFactor(s, 1, "b", true)
	require.NoError(t, err)
	require.NoError(t, child.Validate())
	assert.ElementsMatch(t, []string{"a", "d"}, child.FactorIDs())
}

func TestRemoveFactor_WithoutCascadeNeedsAlternativeProducer(t *testing.T) {
	lib := newStubLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := chainStrategy(t, lib)

	_, err := m.RemoveFactor(s, 1, "a", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &strategy.ValidationError{Kind: strategy.MissingDependency}))

	// With a second producer of channel x in place, the same removal works.
	alt, err := lib.Lookup("source_alt")
	require.NoError(t, err)
	f, err := factor.New("a2", alt, nil)
	require.NoError(t, err)
	s, err = s.WithFactorAdded(f)
	require.NoError(t, err)

	child, err := m.RemoveFactor(s, 1, "a", false)
	require.NoError(t, err)
	require.NoError(t, child.Validate())
	assert.ElementsMatch(t, []string{"a2", "b", "c"}, child.FactorIDs())
}

func TestReplaceFactor_ReattachesTransitiveDependents(t *testing.T) {
	lib := newStubLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := chainStrategy(t, lib)

	// Replacing the root of an a -> b -> c chain must keep b and c wired.
	child, err := m.ReplaceFactor(s, 1, "a", "source_alt", nil)
	require.NoError(t, err)
	require.NoError(t, child.Validate())

	f, ok := child.Factor("a")
	require.True(t, ok, "replacement keeps the old factor id")
	assert.Equal(t, "source_alt", f.Name())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, child.FactorIDs())

	order, err := child.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestReplaceFactor_IncompatibleOutputsRejected(t *testing.T) {
	lib := newStubLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := chainStrategy(t, lib)

	_, err := m.ReplaceFactor(s, 1, "a", "source_bad", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &strategy.ValidationError{Kind: strategy.OutputIncompatible}))

	var mutErr *Error
	require.True(t, errors.As(err, &mutErr))
	assert.Equal(t, "a", mutErr.FactorID)
}

func TestReplaceFactor_MiddleOfChain(t *testing.T) {
	lib := newStubLibrary()
	m := NewLibraryMutator(lib, testRNG())
	s := chainStrategy(t, lib)

	child, err := m.ReplaceFactor(s, 1, "b", "mid_alt", nil)
	require.NoError(t, err)
	require.NoError(t, child.Validate())

	f, _ := child.Factor("b")
	assert.Equal(t, "mid_alt", f.Name())
}

func TestMutate_OffspringAlwaysValid(t *testing.T) {
	lib := factor.NewBuiltinLibrary()
	rng := testRNG()

	mutators := []Mutator{
		NewConfigMutator(lib, DefaultSchema(lib), rng),
		NewLibraryMutator(lib, rng),
	}

	for _, m := range mutators {
		t.Run(m.Tier().String(), func(t *testing.T) {
			s := builtinStrategy(t, lib)
			before := s.Clone()
			accepted := 0
			for i := 0; i < 40; i++ {
				child, err := m.Mutate(s, i+1)
				if err != nil {
					var mutErr *Error
					assert.True(t, errors.As(err, &mutErr))
					continue
				}
				accepted++
				assert.NoError(t, child.Validate())
				assert.Equal(t, []string{s.ID()}, child.ParentIDs())
			}
			assert.True(t, s.Equal(before), "parent must never change")
			assert.Greater(t, accepted, 0, "seeded run should accept some mutations")
		})
	}
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "tier1", Tier1.String())
	assert.Equal(t, "tier2", Tier2.String())
	assert.Equal(t, "tier3", Tier3.String())
	assert.Equal(t, []Tier{Tier1, Tier2, Tier3}, Tiers())
}
