package server

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/darwin/internal/database"
	"github.com/aristath/darwin/internal/engine"
	"github.com/aristath/darwin/internal/events"
	"github.com/aristath/darwin/internal/modules/checkpoint"
	"github.com/aristath/darwin/internal/modules/evaluator"
	"github.com/aristath/darwin/internal/modules/factor"
	"github.com/aristath/darwin/internal/modules/mutation"
	"github.com/aristath/darwin/internal/modules/population"
	"github.com/aristath/darwin/internal/modules/sandbox"
	"github.com/aristath/darwin/internal/modules/strategy"
	"github.com/aristath/darwin/internal/modules/tiers"
)

func testDataset(bars int) strategy.Dataset {
	closes := make([]float64, bars)
	price := 100.0
	for i := range closes {
		price *= 1.001
		closes[i] = price
	}
	return strategy.Dataset{
		"open": closes, "high": closes, "low": closes, "close": closes,
		"volume": make([]float64, bars),
	}
}

func testServer(t *testing.T) (*Server, *events.Bus, *checkpoint.Repository) {
	t.Helper()

	builtin := factor.NewBuiltinLibrary()
	arena := sandbox.NewArena()
	lib := factor.NewMultiLibrary(builtin, arena)
	rng := rand.New(rand.NewPCG(5, 7))

	selector, err := tiers.NewSelector(zerolog.Nop(),
		mutation.NewConfigMutator(lib, mutation.DefaultSchema(builtin), rng),
		mutation.NewLibraryMutator(lib, rng),
		mutation.NewCodeMutator(arena, rng),
	)
	require.NoError(t, err)

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "checkpoints.db"),
		Profile: database.ProfileDurable,
		Name:    "checkpoints",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := checkpoint.NewRepository(zerolog.Nop(), db)
	require.NoError(t, err)

	bus := events.NewBus(zerolog.Nop())
	eng, err := engine.New(zerolog.Nop(), engine.Config{GenerationBudget: 1}, engine.Deps{
		Library:  lib,
		Arena:    arena,
		Manager:  population.NewManager(zerolog.Nop(), population.Config{PopulationSize: 8, EliteSize: 2}, lib, selector, rng),
		Pool:     evaluator.NewPool(zerolog.Nop(), evaluator.NewBacktest(zerolog.Nop(), lib, 1), 2, time.Second),
		Selector: selector,
		Learner:  tiers.NewAdaptiveLearner(zerolog.Nop()),
		Tracker:  population.NewTracker(0, 0, 0, 0),
		Repo:     repo,
		Bus:      bus,
		Dataset:  testDataset(260),
	})
	require.NoError(t, err)

	srv := New(Config{
		Log:     zerolog.Nop(),
		Port:    0,
		Engine:  eng,
		Repo:    repo,
		DB:      db,
		Bus:     bus,
		Version: "test",
	})
	return srv, bus, repo
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHandleRunStatus(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv, "/api/run/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Equal(t, 0, status.Generation)
}

func TestHandleChampion_NoneYet(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := get(t, srv, "/api/run/champion")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCheckpoints(t *testing.T) {
	srv, _, repo := testServer(t)

	rec := get(t, srv, "/api/checkpoints/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, repo.Save(context.Background(), &checkpoint.Snapshot{
		Generation: 7,
		Diversity:  0.3,
		Boundaries: tiers.Boundaries{Low: 0.3, High: 0.7},
	}))

	rec = get(t, srv, "/api/checkpoints/")
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody struct {
		Generations []int `json:"generations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	assert.Equal(t, []int{7}, listBody.Generations)

	rec = get(t, srv, "/api/checkpoints/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, float64(7), latest["generation"])
	assert.Equal(t, 0.3, latest["diversity"])
}

func TestHandleRunStream(t *testing.T) {
	srv, bus, _ := testServer(t)

	httpSrv := httptest.NewServer(srv.Router())
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/run/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First frame is the status snapshot.
	var first map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "STATUS", first["type"])

	bus.Emit("engine", &events.GenerationCompletedData{Generation: 2, Diversity: 0.5})

	var frame map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, string(events.GenerationCompleted), frame["type"])

	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["generation"])
}
