package evaluator

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// barsPerYear annualizes daily-bar statistics.
const barsPerYear = 252.0

// Backtest evaluates strategies locally: it executes the factor graph over
// the dataset and scores the lagged position signal against close-to-close
// returns. Positions take effect one bar after the signal fires, so the
// backtest never trades on information from the same bar.
type Backtest struct {
	log       zerolog.Logger
	lib       factor.Library
	minTrades int
}

// NewBacktest builds a local evaluator resolving factor computations
// through the given library. Results with fewer than minTrades position
// changes are reported as not significant.
func NewBacktest(log zerolog.Logger, lib factor.Library, minTrades int) *Backtest {
	if minTrades <= 0 {
		minTrades = 10
	}
	return &Backtest{
		log:       log.With().Str("component", "backtest").Logger(),
		lib:       lib,
		minTrades: minTrades,
	}
}

// Evaluate implements Evaluator.
func (b *Backtest) Evaluate(ctx context.Context, s *strategy.Strategy, dataset strategy.Dataset) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res, err := s.Execute(dataset, b.lib)
	if err != nil {
		return Result{}, fmt.Errorf("backtest %s: %w", s.ID(), err)
	}

	closes := dataset["close"]
	if len(closes) < 2 {
		return Result{}, fmt.Errorf("backtest %s: need at least 2 bars", s.ID())
	}

	returns := make([]float64, 0, len(closes)-1)
	trades := 0
	wins := 0
	exposed := 0
	for t := 1; t < len(closes); t++ {
		if closes[t-1] == 0 {
			return Result{}, fmt.Errorf("backtest %s: zero close at bar %d", s.ID(), t-1)
		}
		position := res.Signal[t-1]
		r := position * (closes[t]/closes[t-1] - 1)
		returns = append(returns, r)
		if position != 0 {
			exposed++
			if r > 0 {
				wins++
			}
		}
		if t >= 2 && res.Signal[t-1] != res.Signal[t-2] {
			trades++
		}
	}

	mean, std := stat.MeanStdDev(returns, nil)
	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std * math.Sqrt(barsPerYear)
	}
	winRate := 0.0
	if exposed > 0 {
		winRate = float64(wins) / float64(exposed)
	}

	metrics := Metrics{
		Sharpe:       sharpe,
		AnnualReturn: mean * barsPerYear,
		MaxDrawdown:  maxDrawdown(returns),
		WinRate:      winRate,
		Trades:       trades,
	}
	b.log.Debug().
		Str("strategy_id", s.ID()).
		Float64("sharpe", metrics.Sharpe).
		Float64("annual_return", metrics.AnnualReturn).
		Int("trades", metrics.Trades).
		Msg("backtest complete")

	return Result{Metrics: metrics, Significant: trades >= b.minTrades}, nil
}

// maxDrawdown returns the deepest peak-to-trough loss of the compounded
// equity curve, as a positive fraction.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
