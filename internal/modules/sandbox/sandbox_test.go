package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/modules/factor"
)

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    *Node
		wantErr bool
	}{
		{"simple compare", Compare("momentum_score", OpGT, 0.2), false},
		{"and of compares", And(Compare("momentum_score", OpGT, 0.2), Compare("trend_score", OpGTE, 0)), false},
		{"weighted blend", Weighted([]float64{0.6, 0.4},
			Compare("momentum_score", OpGT, 0.2), Compare("trend_score", OpGT, 0)), false},
		{"nil expression", nil, true},
		{"unknown kind", &Node{Kind: NodeKind("shell")}, true},
		{"bad channel name", Compare("../etc/passwd", OpGT, 0), true},
		{"bad operator", &Node{Kind: NodeCompare, Channel: "close", Op: CompareOp("=~")}, true},
		{"and with one child", &Node{Kind: NodeAnd, Children: []*Node{Compare("close", OpGT, 0)}}, true},
		{"weight count mismatch", &Node{
			Kind:     NodeWeighted,
			Weights:  []float64{1},
			Children: []*Node{Compare("close", OpGT, 0), Compare("close", OpLT, 1)},
		}, true},
		{"negative weight", Weighted([]float64{-1, 2},
			Compare("close", OpGT, 0), Compare("close", OpLT, 1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpression(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, &Error{Kind: DisallowedOperation}))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateExpression_DepthBound(t *testing.T) {
	expr := Compare("close", OpGT, 0)
	for i := 0; i < maxExpressionDepth+1; i++ {
		expr = And(expr, Compare("close", OpGT, float64(i)))
	}
	assert.Error(t, ValidateExpression(expr))
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"clean body", `{"kind":"compare","channel":"momentum_score","op":">","threshold":0.2}`, false},
		{"file io", `open("/etc/passwd")`, true},
		{"network", `socket.connect(remote)`, true},
		{"dynamic code", `eval(payload)`, true},
		{"import smuggling", `IMPORT os`, true},
		{"dunder access", `__class__`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSource(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArena_RegisterAndCompute(t *testing.T) {
	arena := NewArena()
	expr := And(
		Compare("momentum_score", OpGT, 0.2),
		Compare("volatility_gate", OpGTE, 1),
	)

	handle, err := arena.Register(expr)
	require.NoError(t, err)
	assert.True(t, IsHandle(handle))

	spec, err := arena.Lookup(handle)
	require.NoError(t, err)
	assert.Equal(t, factor.CategoryPosition, spec.Category)
	assert.ElementsMatch(t, []string{"momentum_score", "volatility_gate"}, spec.Inputs)
	assert.Equal(t, []string{factor.SignalOutput}, spec.Outputs)

	compute, err := arena.Compute(handle)
	require.NoError(t, err)

	out, err := compute(map[string][]float64{
		"momentum_score":  {0.5, 0.1, 0.5},
		"volatility_gate": {1, 1, 0},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, out[factor.SignalOutput])
}

func TestArena_RejectsInvalidExpression(t *testing.T) {
	arena := NewArena()
	_, err := arena.Register(&Node{Kind: NodeKind("exec")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: DisallowedOperation}))
}

func TestArena_RegisteredExpressionIsIsolated(t *testing.T) {
	arena := NewArena()
	expr := Compare("momentum_score", OpGT, 0.2)
	handle, err := arena.Register(expr)
	require.NoError(t, err)

	// Mutating the original or the returned copy must not change the arena.
	expr.Threshold = 99
	got, ok := arena.Expression(handle)
	require.True(t, ok)
	assert.Equal(t, 0.2, got.Threshold)

	got.Threshold = 42
	again, _ := arena.Expression(handle)
	assert.Equal(t, 0.2, again.Threshold)
}

func TestExpression_OrAndWeightedSemantics(t *testing.T) {
	inputs := map[string][]float64{
		"a": {1, 0, 1, 0},
		"b": {1, 1, 0, 0},
	}

	or := Or(Compare("a", OpGTE, 1), Compare("b", OpGTE, 1))
	signal, err := or.eval(inputs, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 0}, signal)

	and := And(Compare("a", OpGTE, 1), Compare("b", OpGTE, 1))
	signal, err = and.eval(inputs, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, signal)

	// Heavier weight on channel a carries the blend past 0.5 alone.
	weighted := Weighted([]float64{3, 1}, Compare("a", OpGTE, 1), Compare("b", OpGTE, 1))
	signal, err = weighted.eval(inputs, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1, 0}, signal)
}

func TestExecute_Timeout(t *testing.T) {
	slow := func(map[string][]float64, map[string]float64) (map[string][]float64, error) {
		time.Sleep(500 * time.Millisecond)
		return map[string][]float64{}, nil
	}

	_, err := Execute(context.Background(), slow, nil, nil, ResourceLimits{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: ResourceLimit}))
}

func TestExecute_PanicBecomesCrash(t *testing.T) {
	boom := func(map[string][]float64, map[string]float64) (map[string][]float64, error) {
		panic("bad index")
	}

	_, err := Execute(context.Background(), boom, nil, nil, ResourceLimits{Timeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: Crash}))
}

func TestExecute_Success(t *testing.T) {
	ok := func(in map[string][]float64, _ map[string]float64) (map[string][]float64, error) {
		return map[string][]float64{"position": in["x"]}, nil
	}

	out, err := Execute(context.Background(), ok,
		map[string][]float64{"x": {1, 2}}, nil, ResourceLimits{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out["position"])
}
