// Package evaluator defines the evaluation contract for strategies and the
// worker pool that fans a generation out across evaluators. Evaluation
// failures are terminal for the strategy: it receives the worst-case
// fitness and is bred out by selection pressure, never retried.
package evaluator

import (
	"context"

	"github.com/aristath/darwin/internal/modules/strategy"
)

// Metrics are the backtest statistics an evaluator reports.
type Metrics struct {
	Sharpe       float64 `json:"sharpe" msgpack:"sharpe"`
	AnnualReturn float64 `json:"annual_return" msgpack:"annual_return"`
	MaxDrawdown  float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	WinRate      float64 `json:"win_rate" msgpack:"win_rate"`
	Trades       int     `json:"trades" msgpack:"trades"`
}

// Result is one completed evaluation. Significant marks results backed by
// enough trades to trust the statistics.
type Result struct {
	Metrics     Metrics `json:"metrics" msgpack:"metrics"`
	Significant bool    `json:"significant" msgpack:"significant"`
}

// Fitness converts the result into the strategy fitness annotation.
// Novelty is population-relative and filled in later by the population
// manager.
func (r Result) Fitness() *strategy.Fitness {
	return &strategy.Fitness{
		Sharpe:       r.Metrics.Sharpe,
		AnnualReturn: r.Metrics.AnnualReturn,
		MaxDrawdown:  r.Metrics.MaxDrawdown,
		Significant:  r.Significant,
	}
}

// Evaluator scores one strategy over a dataset.
type Evaluator interface {
	Evaluate(ctx context.Context, s *strategy.Strategy, dataset strategy.Dataset) (Result, error)
}
