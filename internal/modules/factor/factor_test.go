package factor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() Spec {
	return Spec{
		Name:     "rsi_momentum",
		Category: CategoryMomentum,
		Params: map[string]ParamSpec{
			"period": {Min: 2, Max: 50, Default: 14, Integer: true},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"momentum_score"},
	}
}

func TestNew_ParameterValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]float64
		wantErr bool
	}{
		{"defaults", nil, false},
		{"in range", map[string]float64{"period": 21}, false},
		{"at min", map[string]float64{"period": 2}, false},
		{"at max", map[string]float64{"period": 50}, false},
		{"below min", map[string]float64{"period": 1}, true},
		{"above max", map[string]float64{"period": 51}, true},
		{"non-integer for integer param", map[string]float64{"period": 14.5}, true},
		{"unknown param", map[string]float64{"window": 14}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New("f1", testSpec(), tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "f1", f.ID())
			assert.Equal(t, CategoryMomentum, f.Category())
		})
	}
}

func TestNew_DefaultsFillMissingParams(t *testing.T) {
	f, err := New("f1", testSpec(), nil)
	require.NoError(t, err)

	period, ok := f.Param("period")
	require.True(t, ok)
	assert.Equal(t, 14.0, period)
}

func TestParamSpec_Clamp(t *testing.T) {
	tests := []struct {
		name     string
		spec     ParamSpec
		value    float64
		expected float64
	}{
		{"within range", ParamSpec{Min: 0, Max: 10}, 5, 5},
		{"below min", ParamSpec{Min: 0, Max: 10}, -3, 0},
		{"above max", ParamSpec{Min: 0, Max: 10}, 15, 10},
		{"integer rounds before clamping", ParamSpec{Min: 2, Max: 50, Integer: true}, 14.6, 15},
		{"integer rounds then clamps", ParamSpec{Min: 2, Max: 50, Integer: true}, 50.4, 50},
		{"integer rounds up past max", ParamSpec{Min: 2, Max: 50, Integer: true}, 50.6, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.spec.Clamp(tt.value))
		})
	}
}

func TestFactor_Immutability(t *testing.T) {
	f, err := New("f1", testSpec(), map[string]float64{"period": 14})
	require.NoError(t, err)

	// Mutating returned maps and slices must not affect the factor.
	params := f.Params()
	params["period"] = 99
	inputs := f.Inputs()
	inputs[0] = "tampered"

	period, _ := f.Param("period")
	assert.Equal(t, 14.0, period)
	assert.Equal(t, []string{"close"}, f.Inputs())
}

func TestFactor_WithParamsReturnsCopy(t *testing.T) {
	f, err := New("f1", testSpec(), map[string]float64{"period": 14})
	require.NoError(t, err)

	g := f.WithParams(map[string]float64{"period": 21})

	original, _ := f.Param("period")
	updated, _ := g.Param("period")
	assert.Equal(t, 14.0, original)
	assert.Equal(t, 21.0, updated)
	assert.Equal(t, f.ID(), g.ID())
}

func TestFactor_ProducesSignal(t *testing.T) {
	spec := Spec{
		Name:     "threshold_position",
		Category: CategoryPosition,
		Params:   map[string]ParamSpec{"threshold": {Min: 0, Max: 1, Default: 0.2}},
		Inputs:   []string{"momentum_score"},
		Outputs:  []string{SignalOutput},
	}
	f, err := New("p1", spec, nil)
	require.NoError(t, err)
	assert.True(t, f.ProducesSignal())

	g, err := New("m1", testSpec(), nil)
	require.NoError(t, err)
	assert.False(t, g.ProducesSignal())
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range Categories() {
		assert.True(t, c.Valid(), "category %s should be valid", c)
	}
	assert.False(t, Category("sentiment").Valid())
}
