package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/modules/factor"
)

// stubLibrary resolves every factor name to a fixed computation.
type stubLibrary struct {
	computes map[string]factor.ComputeFunc
}

func (l *stubLibrary) Lookup(name string) (factor.Spec, error) {
	return factor.Spec{}, fmt.Errorf("%w: %s", factor.ErrUnknownFactor, name)
}

func (l *stubLibrary) ListByCategory(factor.Category) []string { return nil }

func (l *stubLibrary) Compute(name string) (factor.ComputeFunc, error) {
	fn, ok := l.computes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", factor.ErrUnknownFactor, name)
	}
	return fn, nil
}

func testDataset(n int) Dataset {
	ds := Dataset{}
	for _, ch := range BaseChannels {
		series := make([]float64, n)
		for i := range series {
			series[i] = float64(i + 1)
		}
		ds[ch] = series
	}
	return ds
}

func TestExecute_ThreadsChannelsThroughDAG(t *testing.T) {
	s := chainStrategy(t)
	lib := &stubLibrary{computes: map[string]factor.ComputeFunc{
		"rsi_momentum": func(in map[string][]float64, _ map[string]float64) (map[string][]float64, error) {
			closes := in["close"]
			score := make([]float64, len(closes))
			for i := range closes {
				score[i] = 0.5
			}
			return map[string][]float64{"momentum_score": score}, nil
		},
		"threshold_position": func(in map[string][]float64, _ map[string]float64) (map[string][]float64, error) {
			score := in["momentum_score"]
			pos := make([]float64, len(score))
			for i, v := range score {
				if v > 0.2 {
					pos[i] = 1
				}
			}
			return map[string][]float64{factor.SignalOutput: pos}, nil
		},
	}}

	result, err := s.Execute(testDataset(10), lib)
	require.NoError(t, err)
	require.Len(t, result.Signal, 10)
	for _, v := range result.Signal {
		assert.Equal(t, 1.0, v)
	}
	assert.Contains(t, result.Channels, "momentum_score")
}

func TestExecute_FailsOnMissingBaseChannel(t *testing.T) {
	s := chainStrategy(t)
	ds := testDataset(10)
	delete(ds, "volume")

	_, err := s.Execute(ds, &stubLibrary{})
	assert.ErrorContains(t, err, "volume")
}

func TestExecute_FailsOnEmptyDataset(t *testing.T) {
	s := chainStrategy(t)
	_, err := s.Execute(Dataset{}, &stubLibrary{})
	assert.ErrorContains(t, err, "empty dataset")
}

func TestExecute_FailsOnWrongOutputLength(t *testing.T) {
	s := chainStrategy(t)
	lib := &stubLibrary{computes: map[string]factor.ComputeFunc{
		"rsi_momentum": func(map[string][]float64, map[string]float64) (map[string][]float64, error) {
			return map[string][]float64{"momentum_score": {1, 2, 3}}, nil
		},
		"threshold_position": func(in map[string][]float64, _ map[string]float64) (map[string][]float64, error) {
			return map[string][]float64{factor.SignalOutput: in["momentum_score"]}, nil
		},
	}}

	_, err := s.Execute(testDataset(10), lib)
	assert.ErrorContains(t, err, "bars")
}

func TestExecute_WithBuiltinLibrary(t *testing.T) {
	lib := factor.NewBuiltinLibrary()

	rsiSpec, err := lib.Lookup("rsi_momentum")
	require.NoError(t, err)
	rsi, err := factor.New("m", rsiSpec, nil)
	require.NoError(t, err)

	posSpec, err := lib.Lookup("threshold_position")
	require.NoError(t, err)
	pos, err := factor.New("p", posSpec, nil)
	require.NoError(t, err)

	s, err := New(NewID(), 0, nil, []factor.Factor{rsi, pos})
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	result, err := s.Execute(testDataset(100), lib)
	require.NoError(t, err)
	assert.Len(t, result.Signal, 100)
}

func TestFitness_Dominates(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Fitness
		expected bool
	}{
		{
			"better on all objectives",
			Fitness{AnnualReturn: 0.2, MaxDrawdown: 0.1, Novelty: 0.5},
			Fitness{AnnualReturn: 0.1, MaxDrawdown: 0.2, Novelty: 0.4},
			true,
		},
		{
			"better on one, equal elsewhere",
			Fitness{AnnualReturn: 0.2, MaxDrawdown: 0.1, Novelty: 0.5},
			Fitness{AnnualReturn: 0.1, MaxDrawdown: 0.1, Novelty: 0.5},
			true,
		},
		{
			"trade-off does not dominate",
			Fitness{AnnualReturn: 0.3, MaxDrawdown: 0.3, Novelty: 0.5},
			Fitness{AnnualReturn: 0.1, MaxDrawdown: 0.1, Novelty: 0.5},
			false,
		},
		{
			"equal does not dominate",
			Fitness{AnnualReturn: 0.1, MaxDrawdown: 0.1, Novelty: 0.5},
			Fitness{AnnualReturn: 0.1, MaxDrawdown: 0.1, Novelty: 0.5},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Dominates(&tt.b))
		})
	}
}

func TestNewFailureFitness_IsWorstCase(t *testing.T) {
	failure := NewFailureFitness()
	ordinary := &Fitness{AnnualReturn: -0.5, MaxDrawdown: 0.9}

	assert.True(t, failure.Failed)
	assert.True(t, ordinary.Dominates(failure))
	assert.Less(t, failure.Score(), ordinary.Score())
}
