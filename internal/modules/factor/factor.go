// Package factor provides the factor model: immutable computation nodes that
// strategies compose into dependency graphs, and the library that declares
// what each factor needs, produces and accepts as parameters.
package factor

import (
	"fmt"
	"math"
	"sort"
)

// Category classifies a factor by the role it plays inside a strategy.
type Category string

const (
	CategoryMomentum   Category = "momentum"
	CategoryTrend      Category = "trend"
	CategoryVolatility Category = "volatility"
	CategoryCatalyst   Category = "catalyst"
	CategoryExit       Category = "exit"
	CategoryPosition   Category = "position"
)

// Categories returns all known categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryMomentum,
		CategoryTrend,
		CategoryVolatility,
		CategoryCatalyst,
		CategoryExit,
		CategoryPosition,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryMomentum, CategoryTrend, CategoryVolatility,
		CategoryCatalyst, CategoryExit, CategoryPosition:
		return true
	}
	return false
}

// SignalOutput is the channel name a strategy must ultimately produce.
// A strategy without at least one factor emitting this channel cannot
// make trading decisions and is rejected by validation.
const SignalOutput = "position"

// ParamSpec declares the valid range for a single factor parameter.
type ParamSpec struct {
	Min     float64
	Max     float64
	Default float64
	Integer bool
}

// Clamp forces v into the declared range, rounding first for integer params.
func (p ParamSpec) Clamp(v float64) float64 {
	if p.Integer {
		v = math.Round(v)
	}
	if v < p.Min {
		v = p.Min
	}
	if v > p.Max {
		v = p.Max
	}
	return v
}

// Contains reports whether v is a legal value for this parameter.
func (p ParamSpec) Contains(v float64) bool {
	if p.Integer && v != math.Round(v) {
		return false
	}
	return v >= p.Min && v <= p.Max
}

// ComputeFunc performs the actual factor computation. It receives the named
// input channels it declared and returns its named output channels. All
// channels within one execution share the same length.
type ComputeFunc func(inputs map[string][]float64, params map[string]float64) (map[string][]float64, error)

// Spec describes one factor type as declared by a library: parameter ranges,
// required input channels and produced output channels.
type Spec struct {
	Name     string
	Category Category
	Params   map[string]ParamSpec
	Inputs   []string
	Outputs  []string
}

// DefaultParams returns the declared default value for every parameter.
func (s Spec) DefaultParams() map[string]float64 {
	params := make(map[string]float64, len(s.Params))
	for name, ps := range s.Params {
		params[name] = ps.Default
	}
	return params
}

// ProducesSignal reports whether this factor type emits the position channel.
func (s Spec) ProducesSignal() bool {
	for _, out := range s.Outputs {
		if out == SignalOutput {
			return true
		}
	}
	return false
}

// Library resolves factor names to specs and computations. The engine never
// computes factor math itself; it goes through a Library implementation.
type Library interface {
	// Lookup returns the spec for a factor name, or ErrUnknownFactor.
	Lookup(name string) (Spec, error)
	// ListByCategory returns the factor names available for a category,
	// sorted for deterministic sampling.
	ListByCategory(category Category) []string
	// Compute resolves the computation behind a factor name.
	Compute(name string) (ComputeFunc, error)
}

// ErrUnknownFactor is returned by libraries for names they do not carry.
var ErrUnknownFactor = fmt.Errorf("unknown factor")

// Factor is one immutable computation node inside a strategy. It is never
// mutated in place: mutation operators construct replacement factors.
type Factor struct {
	id       string
	name     string
	category Category
	params   map[string]float64
	inputs   []string
	outputs  []string
}

// New constructs a factor from a library spec, validating every parameter
// against its declared range. Parameters missing from params fall back to
// the spec defaults.
func New(id string, spec Spec, params map[string]float64) (Factor, error) {
	if id == "" {
		return Factor{}, fmt.Errorf("factor id must not be empty")
	}
	if !spec.Category.Valid() {
		return Factor{}, fmt.Errorf("factor %s: invalid category %q", spec.Name, spec.Category)
	}

	resolved := spec.DefaultParams()
	for name, value := range params {
		ps, ok := spec.Params[name]
		if !ok {
			return Factor{}, fmt.Errorf("factor %s: unknown parameter %q", spec.Name, name)
		}
		if !ps.Contains(value) {
			return Factor{}, fmt.Errorf("factor %s: parameter %q = %v outside [%v, %v]",
				spec.Name, name, value, ps.Min, ps.Max)
		}
		resolved[name] = value
	}

	return Factor{
		id:       id,
		name:     spec.Name,
		category: spec.Category,
		params:   resolved,
		inputs:   append([]string(nil), spec.Inputs...),
		outputs:  append([]string(nil), spec.Outputs...),
	}, nil
}

// ID returns the factor's id, unique within its strategy.
func (f Factor) ID() string { return f.id }

// Name returns the library name this factor's computation resolves through.
func (f Factor) Name() string { return f.name }

// Category returns the factor's category.
func (f Factor) Category() Category { return f.category }

// Param returns the value of one parameter.
func (f Factor) Param(name string) (float64, bool) {
	v, ok := f.params[name]
	return v, ok
}

// Params returns a copy of the parameter map.
func (f Factor) Params() map[string]float64 {
	params := make(map[string]float64, len(f.params))
	for k, v := range f.params {
		params[k] = v
	}
	return params
}

// ParamNames returns the parameter names in sorted order.
func (f Factor) ParamNames() []string {
	names := make([]string, 0, len(f.params))
	for name := range f.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inputs returns a copy of the declared input channel names.
func (f Factor) Inputs() []string { return append([]string(nil), f.inputs...) }

// Outputs returns a copy of the declared output channel names.
func (f Factor) Outputs() []string { return append([]string(nil), f.outputs...) }

// Produces reports whether the factor emits the named output channel.
func (f Factor) Produces(channel string) bool {
	for _, out := range f.outputs {
		if out == channel {
			return true
		}
	}
	return false
}

// Requires reports whether the factor declares the named input channel.
func (f Factor) Requires(channel string) bool {
	for _, in := range f.inputs {
		if in == channel {
			return true
		}
	}
	return false
}

// ProducesSignal reports whether the factor emits the position channel.
func (f Factor) ProducesSignal() bool { return f.Produces(SignalOutput) }

// WithID returns a copy of the factor under a different id. Used when a
// subgraph is re-attached during crossover into a strategy that already
// uses the original id.
func (f Factor) WithID(id string) Factor {
	clone := f.clone()
	clone.id = id
	return clone
}

// WithParams returns a copy of the factor with the given parameter values,
// which must already be legal for the factor's spec (callers clamp via
// ParamSpec before constructing the map).
func (f Factor) WithParams(params map[string]float64) Factor {
	clone := f.clone()
	for name, value := range params {
		if _, ok := clone.params[name]; ok {
			clone.params[name] = value
		}
	}
	return clone
}

// Equal reports structural equality with another factor.
func (f Factor) Equal(other Factor) bool {
	if f.id != other.id || f.name != other.name || f.category != other.category {
		return false
	}
	if len(f.params) != len(other.params) {
		return false
	}
	for k, v := range f.params {
		if ov, ok := other.params[k]; !ok || ov != v {
			return false
		}
	}
	return stringSlicesEqual(f.inputs, other.inputs) && stringSlicesEqual(f.outputs, other.outputs)
}

func (f Factor) clone() Factor {
	params := make(map[string]float64, len(f.params))
	for k, v := range f.params {
		params[k] = v
	}
	return Factor{
		id:       f.id,
		name:     f.name,
		category: f.category,
		params:   params,
		inputs:   append([]string(nil), f.inputs...),
		outputs:  append([]string(nil), f.outputs...),
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
