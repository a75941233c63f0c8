package factor

import (
	"fmt"
	"math"
	"sort"

	"github.com/markcheno/go-talib"
)

// BuiltinLibrary is the reference factor library. Computations are backed by
// go-talib; every factor declares its parameter ranges and the channels it
// consumes and produces. Momentum factors emit momentum_score, trend factors
// emit trend_score, volatility and catalyst factors emit gates, and position
// factors combine upstream channels into the position signal.
type BuiltinLibrary struct {
	specs    map[string]Spec
	computes map[string]ComputeFunc
}

// NewBuiltinLibrary constructs the reference library.
func NewBuiltinLibrary() *BuiltinLibrary {
	lib := &BuiltinLibrary{
		specs:    make(map[string]Spec),
		computes: make(map[string]ComputeFunc),
	}
	lib.registerMomentum()
	lib.registerTrend()
	lib.registerVolatility()
	lib.registerCatalyst()
	lib.registerExit()
	lib.registerPosition()
	return lib
}

// Lookup implements Library.
func (l *BuiltinLibrary) Lookup(name string) (Spec, error) {
	spec, ok := l.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownFactor, name)
	}
	return spec, nil
}

// ListByCategory implements Library.
func (l *BuiltinLibrary) ListByCategory(category Category) []string {
	var names []string
	for name, spec := range l.specs {
		if spec.Category == category {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Compute implements Library.
func (l *BuiltinLibrary) Compute(name string) (ComputeFunc, error) {
	fn, ok := l.computes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFactor, name)
	}
	return fn, nil
}

func (l *BuiltinLibrary) register(spec Spec, fn ComputeFunc) {
	l.specs[spec.Name] = spec
	l.computes[spec.Name] = fn
}

func (l *BuiltinLibrary) registerMomentum() {
	l.register(Spec{
		Name:     "rsi_momentum",
		Category: CategoryMomentum,
		Params: map[string]ParamSpec{
			"period": {Min: 2, Max: 50, Default: 14, Integer: true},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"momentum_score"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		period := int(p["period"])
		if len(closes) <= period {
			return nil, fmt.Errorf("rsi_momentum: need more than %d bars, got %d", period, len(closes))
		}
		rsi := talib.Rsi(closes, period)
		score := make([]float64, len(rsi))
		for i, v := range rsi {
			score[i] = (v - 50) / 50 // map 0..100 onto -1..1
		}
		return map[string][]float64{"momentum_score": score}, nil
	})

	l.register(Spec{
		Name:     "roc_momentum",
		Category: CategoryMomentum,
		Params: map[string]ParamSpec{
			"period": {Min: 1, Max: 60, Default: 10, Integer: true},
			"scale":  {Min: 1, Max: 50, Default: 10},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"momentum_score"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		period := int(p["period"])
		if len(closes) <= period {
			return nil, fmt.Errorf("roc_momentum: need more than %d bars, got %d", period, len(closes))
		}
		roc := talib.Roc(closes, period)
		score := make([]float64, len(roc))
		for i, v := range roc {
			score[i] = math.Tanh(v / p["scale"])
		}
		return map[string][]float64{"momentum_score": score}, nil
	})
}

func (l *BuiltinLibrary) registerTrend() {
	crossScore := func(fast, slow []float64) []float64 {
		score := make([]float64, len(fast))
		for i := range fast {
			switch {
			case fast[i] == 0 || slow[i] == 0:
				score[i] = 0 // warmup
			case fast[i] > slow[i]:
				score[i] = 1
			case fast[i] < slow[i]:
				score[i] = -1
			}
		}
		return score
	}

	l.register(Spec{
		Name:     "sma_cross",
		Category: CategoryTrend,
		Params: map[string]ParamSpec{
			"fast": {Min: 2, Max: 50, Default: 10, Integer: true},
			"slow": {Min: 5, Max: 200, Default: 30, Integer: true},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"trend_score"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		fast, slow := int(p["fast"]), int(p["slow"])
		if len(closes) < slow {
			return nil, fmt.Errorf("sma_cross: need at least %d bars, got %d", slow, len(closes))
		}
		return map[string][]float64{
			"trend_score": crossScore(talib.Sma(closes, fast), talib.Sma(closes, slow)),
		}, nil
	})

	l.register(Spec{
		Name:     "ema_cross",
		Category: CategoryTrend,
		Params: map[string]ParamSpec{
			"fast": {Min: 2, Max: 50, Default: 12, Integer: true},
			"slow": {Min: 5, Max: 200, Default: 26, Integer: true},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"trend_score"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		fast, slow := int(p["fast"]), int(p["slow"])
		if len(closes) < slow {
			return nil, fmt.Errorf("ema_cross: need at least %d bars, got %d", slow, len(closes))
		}
		return map[string][]float64{
			"trend_score": crossScore(talib.Ema(closes, fast), talib.Ema(closes, slow)),
		}, nil
	})

	l.register(Spec{
		Name:     "macd_trend",
		Category: CategoryTrend,
		Params: map[string]ParamSpec{
			"fast":   {Min: 2, Max: 20, Default: 12, Integer: true},
			"slow":   {Min: 10, Max: 40, Default: 26, Integer: true},
			"signal": {Min: 2, Max: 20, Default: 9, Integer: true},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"trend_score"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		slow := int(p["slow"])
		if len(closes) < slow+int(p["signal"]) {
			return nil, fmt.Errorf("macd_trend: need at least %d bars, got %d", slow+int(p["signal"]), len(closes))
		}
		_, _, hist := talib.Macd(closes, int(p["fast"]), slow, int(p["signal"]))
		score := make([]float64, len(hist))
		for i, v := range hist {
			switch {
			case v > 0:
				score[i] = 1
			case v < 0:
				score[i] = -1
			}
		}
		return map[string][]float64{"trend_score": score}, nil
	})
}

func (l *BuiltinLibrary) registerVolatility() {
	l.register(Spec{
		Name:     "atr_filter",
		Category: CategoryVolatility,
		Params: map[string]ParamSpec{
			"period":  {Min: 2, Max: 50, Default: 14, Integer: true},
			"ceiling": {Min: 0.001, Max: 0.5, Default: 0.05},
		},
		Inputs:  []string{"high", "low", "close"},
		Outputs: []string{"volatility_gate"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		period := int(p["period"])
		if len(closes) <= period {
			return nil, fmt.Errorf("atr_filter: need more than %d bars, got %d", period, len(closes))
		}
		atr := talib.Atr(in["high"], in["low"], closes, period)
		gate := make([]float64, len(atr))
		for i := range atr {
			if closes[i] > 0 && atr[i] > 0 && atr[i]/closes[i] <= p["ceiling"] {
				gate[i] = 1
			}
		}
		return map[string][]float64{"volatility_gate": gate}, nil
	})

	l.register(Spec{
		Name:     "bollinger_width",
		Category: CategoryVolatility,
		Params: map[string]ParamSpec{
			"period":    {Min: 5, Max: 60, Default: 20, Integer: true},
			"max_width": {Min: 0.01, Max: 1, Default: 0.2},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"volatility_gate"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		period := int(p["period"])
		if len(closes) < period {
			return nil, fmt.Errorf("bollinger_width: need at least %d bars, got %d", period, len(closes))
		}
		upper, middle, lower := talib.BBands(closes, period, 2, 2, talib.SMA)
		gate := make([]float64, len(closes))
		for i := range closes {
			if middle[i] > 0 && (upper[i]-lower[i])/middle[i] <= p["max_width"] {
				gate[i] = 1
			}
		}
		return map[string][]float64{"volatility_gate": gate}, nil
	})

	l.register(Spec{
		Name:     "stddev_filter",
		Category: CategoryVolatility,
		Params: map[string]ParamSpec{
			"period":  {Min: 2, Max: 60, Default: 20, Integer: true},
			"ceiling": {Min: 0.001, Max: 0.5, Default: 0.03},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"volatility_gate"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		period := int(p["period"])
		if len(closes) < period {
			return nil, fmt.Errorf("stddev_filter: need at least %d bars, got %d", period, len(closes))
		}
		dev := talib.StdDev(closes, period, 1)
		gate := make([]float64, len(dev))
		for i := range dev {
			if closes[i] > 0 && dev[i]/closes[i] <= p["ceiling"] {
				gate[i] = 1
			}
		}
		return map[string][]float64{"volatility_gate": gate}, nil
	})
}

func (l *BuiltinLibrary) registerCatalyst() {
	l.register(Spec{
		Name:     "volume_spike",
		Category: CategoryCatalyst,
		Params: map[string]ParamSpec{
			"period":   {Min: 5, Max: 60, Default: 20, Integer: true},
			"multiple": {Min: 1, Max: 10, Default: 2},
		},
		Inputs:  []string{"volume"},
		Outputs: []string{"catalyst_gate"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		volume := in["volume"]
		period := int(p["period"])
		if len(volume) < period {
			return nil, fmt.Errorf("volume_spike: need at least %d bars, got %d", period, len(volume))
		}
		avg := talib.Sma(volume, period)
		gate := make([]float64, len(volume))
		for i := range volume {
			if avg[i] > 0 && volume[i] > p["multiple"]*avg[i] {
				gate[i] = 1
			}
		}
		return map[string][]float64{"catalyst_gate": gate}, nil
	})
}

func (l *BuiltinLibrary) registerExit() {
	l.register(Spec{
		Name:     "trailing_atr_exit",
		Category: CategoryExit,
		Params: map[string]ParamSpec{
			"period":   {Min: 2, Max: 50, Default: 14, Integer: true},
			"multiple": {Min: 0.5, Max: 10, Default: 3},
		},
		Inputs:  []string{"high", "low", "close"},
		Outputs: []string{"exit_signal"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		period := int(p["period"])
		if len(closes) <= period {
			return nil, fmt.Errorf("trailing_atr_exit: need more than %d bars, got %d", period, len(closes))
		}
		atr := talib.Atr(in["high"], in["low"], closes, period)
		highest := talib.Max(closes, period)
		exit := make([]float64, len(closes))
		for i := range closes {
			if atr[i] > 0 && closes[i] < highest[i]-p["multiple"]*atr[i] {
				exit[i] = 1
			}
		}
		return map[string][]float64{"exit_signal": exit}, nil
	})

	l.register(Spec{
		Name:     "time_exit",
		Category: CategoryExit,
		Params: map[string]ParamSpec{
			"max_bars": {Min: 1, Max: 500, Default: 20, Integer: true},
		},
		Inputs:  []string{"close"},
		Outputs: []string{"exit_signal"},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		closes := in["close"]
		maxBars := int(p["max_bars"])
		exit := make([]float64, len(closes))
		for i := maxBars; i < len(closes); i += maxBars {
			exit[i] = 1
		}
		return map[string][]float64{"exit_signal": exit}, nil
	})
}

func (l *BuiltinLibrary) registerPosition() {
	threshold := func(score, out []float64, th float64) {
		for i, v := range score {
			switch {
			case v > th:
				out[i] = 1
			case v < -th:
				out[i] = -1
			}
		}
	}

	l.register(Spec{
		Name:     "threshold_position",
		Category: CategoryPosition,
		Params: map[string]ParamSpec{
			"threshold": {Min: 0, Max: 1, Default: 0.2},
		},
		Inputs:  []string{"momentum_score"},
		Outputs: []string{SignalOutput},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		score := in["momentum_score"]
		pos := make([]float64, len(score))
		threshold(score, pos, p["threshold"])
		return map[string][]float64{SignalOutput: pos}, nil
	})

	l.register(Spec{
		Name:     "trend_position",
		Category: CategoryPosition,
		Params: map[string]ParamSpec{
			"threshold": {Min: 0, Max: 1, Default: 0},
		},
		Inputs:  []string{"trend_score"},
		Outputs: []string{SignalOutput},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		score := in["trend_score"]
		pos := make([]float64, len(score))
		threshold(score, pos, p["threshold"])
		return map[string][]float64{SignalOutput: pos}, nil
	})

	l.register(Spec{
		Name:     "gated_position",
		Category: CategoryPosition,
		Params: map[string]ParamSpec{
			"threshold": {Min: 0, Max: 1, Default: 0.2},
		},
		Inputs:  []string{"momentum_score", "volatility_gate"},
		Outputs: []string{SignalOutput},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		score, gate := in["momentum_score"], in["volatility_gate"]
		pos := make([]float64, len(score))
		threshold(score, pos, p["threshold"])
		for i := range pos {
			pos[i] *= gate[i]
		}
		return map[string][]float64{SignalOutput: pos}, nil
	})

	l.register(Spec{
		Name:     "catalyst_position",
		Category: CategoryPosition,
		Params: map[string]ParamSpec{
			"threshold": {Min: 0, Max: 1, Default: 0.2},
		},
		Inputs:  []string{"momentum_score", "catalyst_gate"},
		Outputs: []string{SignalOutput},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		score, gate := in["momentum_score"], in["catalyst_gate"]
		pos := make([]float64, len(score))
		threshold(score, pos, p["threshold"])
		for i := range pos {
			pos[i] *= gate[i]
		}
		return map[string][]float64{SignalOutput: pos}, nil
	})

	l.register(Spec{
		Name:     "blended_position",
		Category: CategoryPosition,
		Params: map[string]ParamSpec{
			"weight":    {Min: 0, Max: 1, Default: 0.5},
			"threshold": {Min: 0, Max: 1, Default: 0.2},
		},
		Inputs:  []string{"momentum_score", "trend_score"},
		Outputs: []string{SignalOutput},
	}, func(in map[string][]float64, p map[string]float64) (map[string][]float64, error) {
		mom, trend := in["momentum_score"], in["trend_score"]
		pos := make([]float64, len(mom))
		w := p["weight"]
		blended := make([]float64, len(mom))
		for i := range mom {
			blended[i] = w*mom[i] + (1-w)*trend[i]
		}
		threshold(blended, pos, p["threshold"])
		return map[string][]float64{SignalOutput: pos}, nil
	})
}
