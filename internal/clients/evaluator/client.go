// Package evaluator provides the HTTP client for the external backtest
// evaluator service. It implements the core evaluator contract so the
// engine can swap between the builtin backtest and the remote service.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	coreeval "github.com/aristath/darwin/internal/modules/evaluator"
	"github.com/aristath/darwin/internal/modules/strategy"
)

// Client for the backtest evaluator service
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new evaluator service client. The HTTP timeout is
// deliberately generous; the evaluation pool enforces the real
// per-evaluation deadline through the request context.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log.With().Str("client", "evaluator").Logger(),
	}
}

// factorPayload is one factor in the evaluation request.
type factorPayload struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params,omitempty"`
}

// evaluateRequest is the POST /evaluate body.
type evaluateRequest struct {
	StrategyID string               `json:"strategy_id"`
	Factors    []factorPayload      `json:"factors"`
	Dataset    map[string][]float64 `json:"dataset"`
}

// evaluateResponse is the service reply.
type evaluateResponse struct {
	Metrics struct {
		Sharpe       float64 `json:"sharpe"`
		AnnualReturn float64 `json:"annual_return"`
		MaxDrawdown  float64 `json:"max_drawdown"`
		WinRate      float64 `json:"win_rate"`
		Trades       int     `json:"trades"`
	} `json:"metrics"`
	Significant bool   `json:"significant"`
	Error       string `json:"error,omitempty"`
}

// Evaluate sends the strategy and dataset to the service and maps the
// reply onto the core evaluation result.
func (c *Client) Evaluate(ctx context.Context, s *strategy.Strategy, dataset strategy.Dataset) (coreeval.Result, error) {
	factors := s.Factors()
	req := evaluateRequest{
		StrategyID: s.ID(),
		Factors:    make([]factorPayload, 0, len(factors)),
		Dataset:    dataset,
	}
	for _, f := range factors {
		req.Factors = append(req.Factors, factorPayload{ID: f.ID(), Name: f.Name(), Params: f.Params()})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return coreeval.Result{}, fmt.Errorf("encode evaluation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return coreeval.Result{}, fmt.Errorf("build evaluation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return coreeval.Result{}, fmt.Errorf("evaluator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return coreeval.Result{}, fmt.Errorf("evaluator returned status %d", resp.StatusCode)
	}

	var reply evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return coreeval.Result{}, fmt.Errorf("decode evaluator response: %w", err)
	}
	if reply.Error != "" {
		return coreeval.Result{}, fmt.Errorf("evaluator rejected strategy %s: %s", s.ID(), reply.Error)
	}

	return coreeval.Result{
		Metrics: coreeval.Metrics{
			Sharpe:       reply.Metrics.Sharpe,
			AnnualReturn: reply.Metrics.AnnualReturn,
			MaxDrawdown:  reply.Metrics.MaxDrawdown,
			WinRate:      reply.Metrics.WinRate,
			Trades:       reply.Metrics.Trades,
		},
		Significant: reply.Significant,
	}, nil
}

// Health checks the service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("evaluator health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("evaluator unhealthy, status %d", resp.StatusCode)
	}
	return nil
}
