package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/darwin/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	generation    INTEGER PRIMARY KEY,
	created_at    TEXT    NOT NULL,
	diversity     REAL    NOT NULL,
	boundary_low  REAL    NOT NULL,
	boundary_high REAL    NOT NULL,
	restarts      INTEGER NOT NULL,
	best_score    REAL    NOT NULL,
	payload       BLOB    NOT NULL
);
`

// Repository stores one snapshot per generation. The indexed columns
// exist for inspection and pruning; the authoritative state is the
// msgpack payload.
type Repository struct {
	log zerolog.Logger
	db  *database.DB
}

// NewRepository opens the repository, creating the schema when missing.
func NewRepository(log zerolog.Logger, db *database.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}
	return &Repository{
		log: log.With().Str("component", "checkpoint").Logger(),
		db:  db,
	}, nil
}

// Save persists a snapshot, replacing any prior checkpoint of the same
// generation.
func (r *Repository) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
			(generation, created_at, diversity, boundary_low, boundary_high, restarts, best_score, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Generation,
		time.Now().UTC().Format(time.RFC3339),
		snap.Diversity,
		snap.Boundaries.Low,
		snap.Boundaries.High,
		snap.Restarts,
		snap.BestScore,
		payload,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint gen %d: %w", snap.Generation, err)
	}
	r.log.Debug().
		Int("generation", snap.Generation).
		Int("bytes", len(payload)).
		Msg("checkpoint saved")
	return nil
}

// Latest returns the most recent snapshot, or ok=false when the store is
// empty.
func (r *Repository) Latest(ctx context.Context) (*Snapshot, bool, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints ORDER BY generation DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load latest checkpoint: %w", err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &snap, true, nil
}

// Generations lists stored generation numbers in ascending order.
func (r *Repository) Generations(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT generation FROM checkpoints ORDER BY generation`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var generations []int
	for rows.Next() {
		var g int
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		generations = append(generations, g)
	}
	return generations, rows.Err()
}

// Prune deletes all but the newest keep checkpoints.
func (r *Repository) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return fmt.Errorf("prune: keep must be positive, got %d", keep)
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE generation NOT IN (
			SELECT generation FROM checkpoints ORDER BY generation DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}
