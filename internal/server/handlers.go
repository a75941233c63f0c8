package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/darwin/internal/modules/strategy"
)

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK
	if err := s.db.HealthCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("Database health check failed")
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"status":   map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"version":  s.version,
		"database": dbStatus,
	})
}

// handleRunStatus returns the engine's current status snapshot.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

// factorView is the API shape of one factor.
type factorView struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Category string             `json:"category"`
	Params   map[string]float64 `json:"params,omitempty"`
}

// strategyView is the API shape of a strategy.
type strategyView struct {
	ID         string            `json:"id"`
	Generation int               `json:"generation"`
	ParentIDs  []string          `json:"parent_ids,omitempty"`
	Factors    []factorView      `json:"factors"`
	Fitness    *strategy.Fitness `json:"fitness,omitempty"`
}

func viewOf(s *strategy.Strategy) strategyView {
	view := strategyView{
		ID:         s.ID(),
		Generation: s.Generation(),
		ParentIDs:  s.ParentIDs(),
		Fitness:    s.Fitness(),
	}
	for _, f := range s.Factors() {
		view.Factors = append(view.Factors, factorView{
			ID:       f.ID(),
			Name:     f.Name(),
			Category: string(f.Category()),
			Params:   f.Params(),
		})
	}
	return view
}

// handleChampion returns the best strategy observed so far.
func (s *Server) handleChampion(w http.ResponseWriter, r *http.Request) {
	champion := s.engine.Champion()
	if champion == nil {
		s.writeError(w, http.StatusNotFound, "no champion yet")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(champion))
}

// handleCheckpointList returns stored checkpoint generations.
func (s *Server) handleCheckpointList(w http.ResponseWriter, r *http.Request) {
	generations, err := s.repo.Generations(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list checkpoints")
		s.writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}
	if generations == nil {
		generations = []int{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": generations})
}

// handleCheckpointLatest returns a summary of the newest checkpoint.
func (s *Server) handleCheckpointLatest(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.repo.Latest(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load latest checkpoint")
		s.writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no checkpoints stored")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"generation":    snap.Generation,
		"diversity":     snap.Diversity,
		"boundary_low":  snap.Boundaries.Low,
		"boundary_high": snap.Boundaries.High,
		"restarts":      snap.Restarts,
		"best_score":    snap.BestScore,
		"population":    len(snap.Individuals),
		"elite_ids":     snap.EliteIDs,
	})
}
