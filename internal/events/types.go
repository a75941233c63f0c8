// Package events provides typed run events and an in-process bus feeding
// the websocket stream and the logs.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	RunStarted          EventType = "RUN_STARTED"
	RunResumed          EventType = "RUN_RESUMED"
	RunCompleted        EventType = "RUN_COMPLETED"
	GenerationCompleted EventType = "GENERATION_COMPLETED"
	BestImproved        EventType = "BEST_IMPROVED"
	RestartTriggered    EventType = "RESTART_TRIGGERED"
	CheckpointSaved     EventType = "CHECKPOINT_SAVED"
	BackupCompleted     EventType = "BACKUP_COMPLETED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event is one emitted system event.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}

// EventData is implemented by all typed event payloads.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	PopulationSize   int   `json:"population_size"`
	GenerationBudget int   `json:"generation_budget"`
	Seed             int64 `json:"seed"`
}

func (d *RunStartedData) EventType() EventType { return RunStarted }

// RunResumedData contains data for RunResumed events
type RunResumedData struct {
	Generation int     `json:"generation"`
	Diversity  float64 `json:"diversity"`
	Restarts   int     `json:"restarts"`
}

func (d *RunResumedData) EventType() EventType { return RunResumed }

// GenerationCompletedData contains data for GenerationCompleted events
type GenerationCompletedData struct {
	Generation     int     `json:"generation"`
	Diversity      float64 `json:"diversity"`
	BestScore      float64 `json:"best_score"`
	ChampionID     string  `json:"champion_id"`
	FailedEvals    int     `json:"failed_evals"`
	AcceptedCount  int     `json:"accepted_count"`
	RejectedCount  int     `json:"rejected_count"`
	BoundaryLow    float64 `json:"boundary_low"`
	BoundaryHigh   float64 `json:"boundary_high"`
	StagnationRuns int     `json:"stagnation_runs"`
}

func (d *GenerationCompletedData) EventType() EventType { return GenerationCompleted }

// BestImprovedData contains data for BestImproved events
type BestImprovedData struct {
	Generation int     `json:"generation"`
	ChampionID string  `json:"champion_id"`
	Score      float64 `json:"score"`
	Previous   float64 `json:"previous"`
}

func (d *BestImprovedData) EventType() EventType { return BestImproved }

// RestartTriggeredData contains data for RestartTriggered events
type RestartTriggeredData struct {
	Generation int    `json:"generation"`
	Restart    int    `json:"restart"`
	ChampionID string `json:"champion_id"`
}

func (d *RestartTriggeredData) EventType() EventType { return RestartTriggered }

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	Generations int     `json:"generations"`
	BestScore   float64 `json:"best_score"`
	ChampionID  string  `json:"champion_id"`
	Converged   bool    `json:"converged"`
}

func (d *RunCompletedData) EventType() EventType { return RunCompleted }

// CheckpointSavedData contains data for CheckpointSaved events
type CheckpointSavedData struct {
	Generation int `json:"generation"`
}

func (d *CheckpointSavedData) EventType() EventType { return CheckpointSaved }

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

func (d *BackupCompletedData) EventType() EventType { return BackupCompleted }

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error  string `json:"error"`
	Module string `json:"module"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }
