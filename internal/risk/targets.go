package risk

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TargetAllocation is one persisted target weight for a user.
type TargetAllocation struct {
	Symbol    string    `json:"symbol"`
	Weight    float64   `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetRepository persists target allocations in core.db. Targets are the
// accepted output of an optimization run; the whole set is replaced at once
// so a user never holds a mix of two runs.
type TargetRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTargetRepository creates a target allocation repository.
func NewTargetRepository(db *sql.DB, log zerolog.Logger) *TargetRepository {
	return &TargetRepository{
		db:  db,
		log: log.With().Str("component", "target_repository").Logger(),
	}
}

// Replace swaps the user's target set for the given weights atomically.
// An empty weight map clears the targets.
func (r *TargetRepository) Replace(userID string, weights map[string]float64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin target replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM target_allocations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear targets: %w", err)
	}
	for symbol, weight := range weights {
		_, err := tx.Exec(`
			INSERT INTO target_allocations (user_id, symbol, weight, updated_at)
			VALUES (?, ?, ?, datetime('now'))
		`, userID, symbol, weight)
		if err != nil {
			return fmt.Errorf("failed to insert target for %s: %w", symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit target replace: %w", err)
	}

	r.log.Debug().Str("user_id", userID).Int("targets", len(weights)).Msg("Replaced target allocations")
	return nil
}

// Get returns the user's targets sorted by symbol. No targets is an empty
// slice, not an error.
func (r *TargetRepository) Get(userID string) ([]TargetAllocation, error) {
	rows, err := r.db.Query(`
		SELECT symbol, weight, updated_at
		FROM target_allocations WHERE user_id = ? ORDER BY symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load targets: %w", err)
	}
	defer rows.Close()

	var out []TargetAllocation
	for rows.Next() {
		var t TargetAllocation
		var updated string
		if err := rows.Scan(&t.Symbol, &t.Weight, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", updated); err == nil {
			t.UpdatedAt = ts.UTC()
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
