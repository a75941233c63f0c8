package strategy

import "fmt"

// ValidationKind enumerates the structural invariants a strategy can break.
type ValidationKind string

const (
	CycleDetected      ValidationKind = "cycle_detected"
	MissingDependency  ValidationKind = "missing_dependency"
	OrphanedFactor     ValidationKind = "orphaned_factor"
	NoSignalProducer   ValidationKind = "no_signal_producer"
	OutputIncompatible ValidationKind = "output_incompatible"
)

// ValidationError reports which invariant failed and, where applicable,
// which factor and channel were involved. Validation failures are always
// recoverable: the candidate strategy is rejected, the run continues.
type ValidationError struct {
	Kind     ValidationKind
	FactorID string
	Channel  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.FactorID != "" && e.Channel != "":
		return fmt.Sprintf("strategy validation failed: %s (factor %s, channel %s)", e.Kind, e.FactorID, e.Channel)
	case e.FactorID != "":
		return fmt.Sprintf("strategy validation failed: %s (factor %s)", e.Kind, e.FactorID)
	default:
		return fmt.Sprintf("strategy validation failed: %s", e.Kind)
	}
}

// Is matches validation errors by kind, so callers can use errors.Is with a
// bare &ValidationError{Kind: ...} target.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
