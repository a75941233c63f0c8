package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/strategy"
)

func testStrategy(t *testing.T) *strategy.Strategy {
	t.Helper()
	lib := factor.NewBuiltinLibrary()
	mom, err := lib.Lookup("rsi_momentum")
	require.NoError(t, err)
	pos, err := lib.Lookup("threshold_position")
	require.NoError(t, err)
	f0, err := factor.New("f0", mom, map[string]float64{"period": 21})
	require.NoError(t, err)
	f1, err := factor.New("f1", pos, nil)
	require.NoError(t, err)
	s, err := strategy.New(strategy.NewID(), 1, nil, []factor.Factor{f0, f1})
	require.NoError(t, err)
	return s
}

func testDataset() strategy.Dataset {
	return strategy.Dataset{"close": {100, 101, 102}}
}

func TestClient_Evaluate(t *testing.T) {
	s := testStrategy(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/evaluate", r.URL.Path)

		var req evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, s.ID(), req.StrategyID)
		require.Len(t, req.Factors, 2)
		assert.Equal(t, "rsi_momentum", req.Factors[0].Name)
		assert.Equal(t, 21.0, req.Factors[0].Params["period"])
		assert.Len(t, req.Dataset["close"], 3)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"metrics": map[string]any{
				"sharpe":        1.4,
				"annual_return": 0.22,
				"max_drawdown":  0.08,
				"win_rate":      0.6,
				"trades":        42,
			},
			"significant": true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	result, err := client.Evaluate(context.Background(), s, testDataset())
	require.NoError(t, err)

	assert.Equal(t, 1.4, result.Metrics.Sharpe)
	assert.Equal(t, 0.22, result.Metrics.AnnualReturn)
	assert.Equal(t, 0.08, result.Metrics.MaxDrawdown)
	assert.Equal(t, 42, result.Metrics.Trades)
	assert.True(t, result.Significant)
}

func TestClient_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "dataset too short"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Evaluate(context.Background(), testStrategy(t), testDataset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset too short")
}

func TestClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Evaluate(context.Background(), testStrategy(t), testDataset())
	assert.Error(t, err)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Evaluate(ctx, testStrategy(t), testDataset())
	assert.Error(t, err)
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	assert.NoError(t, client.Health(context.Background()))
}
