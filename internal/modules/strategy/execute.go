package strategy

import (
	"fmt"

	"github.com/aristath/darwin/internal/modules/factor"
)

func signalChannel() string { return factor.SignalOutput }

// ExecutionResult is the outcome of threading a dataset through the DAG.
type ExecutionResult struct {
	// Signal is the final position channel, one value per bar.
	Signal []float64
	// Channels holds every channel produced during execution, including
	// the base dataset.
	Channels map[string][]float64
}

// Execute runs every factor in topological order against the dataset,
// resolving computations through the library, and returns the final signal
// frame. The strategy must have been validated; Execute still fails cleanly
// on datasets missing base channels or on computation errors.
func (s *Strategy) Execute(dataset Dataset, lib factor.Library) (*ExecutionResult, error) {
	order, err := s.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	n := dataset.Len()
	if n == 0 {
		return nil, fmt.Errorf("execute %s: empty dataset", s.id)
	}
	for _, ch := range BaseChannels {
		if !dataset.Has(ch) {
			return nil, fmt.Errorf("execute %s: dataset missing base channel %q", s.id, ch)
		}
	}

	channels := make(map[string][]float64, len(dataset)+len(s.factors))
	for name, series := range dataset {
		channels[name] = series
	}

	for _, id := range order {
		f, _ := s.Factor(id)
		compute, err := lib.Compute(f.Name())
		if err != nil {
			return nil, fmt.Errorf("execute %s: factor %s: %w", s.id, id, err)
		}

		inputs := make(map[string][]float64, len(f.Inputs()))
		for _, in := range f.Inputs() {
			series, ok := channels[in]
			if !ok {
				return nil, fmt.Errorf("execute %s: factor %s: channel %q not available", s.id, id, in)
			}
			inputs[in] = series
		}

		outputs, err := compute(inputs, f.Params())
		if err != nil {
			return nil, fmt.Errorf("execute %s: factor %s: %w", s.id, id, err)
		}
		for name, series := range outputs {
			if len(series) != n {
				return nil, fmt.Errorf("execute %s: factor %s: output %q has %d bars, want %d",
					s.id, id, name, len(series), n)
			}
			channels[name] = series
		}
	}

	signal, ok := channels[signalChannel()]
	if !ok {
		return nil, fmt.Errorf("execute %s: no %s channel produced", s.id, signalChannel())
	}
	return &ExecutionResult{Signal: signal, Channels: channels}, nil
}
