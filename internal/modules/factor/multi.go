package factor

import "fmt"

// MultiLibrary chains several libraries; the first one that knows a factor
// name wins. Used to combine the builtin library with the expression arena
// so strategies mixing both execute through one resolver.
type MultiLibrary struct {
	libraries []Library
}

// NewMultiLibrary builds a resolver over the given libraries in order.
func NewMultiLibrary(libraries ...Library) *MultiLibrary {
	return &MultiLibrary{libraries: libraries}
}

// Lookup implements Library.
func (m *MultiLibrary) Lookup(name string) (Spec, error) {
	for _, lib := range m.libraries {
		if spec, err := lib.Lookup(name); err == nil {
			return spec, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: %s", ErrUnknownFactor, name)
}

// ListByCategory implements Library, concatenating in library order.
func (m *MultiLibrary) ListByCategory(category Category) []string {
	var names []string
	for _, lib := range m.libraries {
		names = append(names, lib.ListByCategory(category)...)
	}
	return names
}

// Compute implements Library.
func (m *MultiLibrary) Compute(name string) (ComputeFunc, error) {
	for _, lib := range m.libraries {
		if fn, err := lib.Compute(name); err == nil {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFactor, name)
}
