package strategy

// Validate runs the five structural invariants:
//
//  1. the dependency graph is acyclic
//  2. every declared input is satisfied by another factor or a base channel
//  3. no factor is orphaned (outputs unconsumed and not terminal)
//  4. at least one factor produces the position signal
//  5. a topological order exists (implied by 1)
//
// The first violation found is returned; nil means the strategy may be
// accepted into a population.
func (s *Strategy) Validate() error {
	if _, err := s.TopologicalOrder(); err != nil {
		return err
	}

	base := make(map[string]bool, len(BaseChannels))
	for _, ch := range BaseChannels {
		base[ch] = true
	}

	// Every input must come from the base dataset or some other factor.
	// A factor producing its own input does not count: self-edges are
	// excluded from the graph, so such an input is simply unsatisfied.
	for _, f := range s.factors {
		for _, in := range f.Inputs() {
			if base[in] {
				continue
			}
			satisfied := false
			for _, other := range s.factors {
				if other.ID() != f.ID() && other.Produces(in) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return &ValidationError{Kind: MissingDependency, FactorID: f.ID(), Channel: in}
			}
		}
	}

	final := make(map[string]bool, len(s.finalOutputs))
	for _, ch := range s.finalOutputs {
		final[ch] = true
	}

	for _, f := range s.factors {
		consumed := len(s.Dependents(f.ID())) > 0
		terminal := false
		for _, out := range f.Outputs() {
			if final[out] {
				terminal = true
				break
			}
		}
		if !consumed && !terminal {
			return &ValidationError{Kind: OrphanedFactor, FactorID: f.ID()}
		}
	}

	if len(s.Producers(signalChannel())) == 0 {
		return &ValidationError{Kind: NoSignalProducer}
	}

	return nil
}

// SignalProducers returns the ids of factors emitting the position channel.
func (s *Strategy) SignalProducers() []string {
	return s.Producers(signalChannel())
}
