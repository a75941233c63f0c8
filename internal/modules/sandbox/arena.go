package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/darwin/internal/modules/factor"
)

// HandlePrefix marks factor names whose computation lives in an arena
// instead of a static library.
const HandlePrefix = "expr_"

// Arena stores validated, compiled signal expressions behind opaque
// handles. It implements factor.Library for those handles, so strategies
// carrying expression-backed position factors execute through the same
// path as builtin factors. Registration is the only way in, and it always
// runs the security pass first.
type Arena struct {
	mu    sync.RWMutex
	exprs map[string]*Node
	seq   int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{exprs: make(map[string]*Node)}
}

// Register validates and compiles an expression, returning its handle.
func (a *Arena) Register(n *Node) (string, error) {
	if err := ValidateExpression(n); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	handle := fmt.Sprintf("%s%d", HandlePrefix, a.seq)
	a.exprs[handle] = n.Clone()
	return handle, nil
}

// Expression returns a copy of the expression behind a handle.
func (a *Arena) Expression(handle string) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.exprs[handle]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// IsHandle reports whether a factor name refers to an arena expression.
func IsHandle(name string) bool { return strings.HasPrefix(name, HandlePrefix) }

// Lookup implements factor.Library for expression handles. Every
// expression presents as a position-category factor consuming the
// channels the expression reads.
func (a *Arena) Lookup(name string) (factor.Spec, error) {
	n, ok := a.Expression(name)
	if !ok {
		return factor.Spec{}, fmt.Errorf("%w: %s", factor.ErrUnknownFactor, name)
	}
	return factor.Spec{
		Name:     name,
		Category: factor.CategoryPosition,
		Params:   map[string]factor.ParamSpec{},
		Inputs:   n.Channels(),
		Outputs:  []string{factor.SignalOutput},
	}, nil
}

// ListByCategory implements factor.Library.
func (a *Arena) ListByCategory(category factor.Category) []string {
	if category != factor.CategoryPosition {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	handles := make([]string, 0, len(a.exprs))
	for handle := range a.exprs {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	return handles
}

// Compute implements factor.Library.
func (a *Arena) Compute(name string) (factor.ComputeFunc, error) {
	n, ok := a.Expression(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", factor.ErrUnknownFactor, name)
	}
	return func(inputs map[string][]float64, _ map[string]float64) (map[string][]float64, error) {
		bars := 0
		for _, series := range inputs {
			bars = len(series)
			break
		}
		signal, err := n.eval(inputs, bars)
		if err != nil {
			return nil, err
		}
		return map[string][]float64{factor.SignalOutput: signal}, nil
	}, nil
}
