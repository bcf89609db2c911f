package baskets

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// Repository persists baskets in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a basket repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "basket_repository").Logger(),
	}
}

// Create inserts a new basket. Duplicate (user, name) pairs are rejected.
func (r *Repository) Create(b *Basket) error {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return err
	}

	tickersJSON, weightsJSON, err := encode(b)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(`
		INSERT INTO baskets (user_id, name, tickers, weights, weighting)
		VALUES (?, ?, ?, ?, ?)
	`, b.UserID, b.Name, tickersJSON, weightsJSON, string(b.Weighting))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidation("basket %q already exists", b.Name)
		}
		return fmt.Errorf("failed to create basket: %w", err)
	}

	b.ID, _ = res.LastInsertId()
	r.log.Info().Str("user_id", b.UserID).Str("name", b.Name).Msg("Basket created")
	return nil
}

// Update rewrites an existing basket's components and touches updated_at,
// which feeds the basket fingerprint used for cache invalidation.
func (r *Repository) Update(b *Basket) error {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return err
	}

	tickersJSON, weightsJSON, err := encode(b)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(`
		UPDATE baskets
		SET tickers = ?, weights = ?, weighting = ?, updated_at = datetime('now')
		WHERE user_id = ? AND name = ?
	`, tickersJSON, weightsJSON, string(b.Weighting), b.UserID, b.Name)
	if err != nil {
		return fmt.Errorf("failed to update basket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewValidation("basket %q not found", b.Name)
	}

	r.log.Info().Str("user_id", b.UserID).Str("name", b.Name).Msg("Basket updated")
	return nil
}

// Delete removes a basket by name.
func (r *Repository) Delete(userID, name string) error {
	res, err := r.db.Exec(`DELETE FROM baskets WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return fmt.Errorf("failed to delete basket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewValidation("basket %q not found", name)
	}
	return nil
}

// Get loads one basket by name.
func (r *Repository) Get(userID, name string) (*Basket, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, name, tickers, weights, weighting, created_at, updated_at
		FROM baskets WHERE user_id = ? AND name = ?
	`, userID, name)

	b, err := scanBasket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewValidation("basket %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load basket: %w", err)
	}
	return b, nil
}

// List returns all of a user's baskets, ordered by name.
func (r *Repository) List(userID string) ([]*Basket, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, name, tickers, weights, weighting, created_at, updated_at
		FROM baskets WHERE user_id = ? ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list baskets: %w", err)
	}
	defer rows.Close()

	var out []*Basket
	for rows.Next() {
		b, err := scanBasket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan basket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBasket(scan func(...interface{}) error) (*Basket, error) {
	var b Basket
	var tickersJSON string
	var weightsJSON sql.NullString
	var weighting, createdAt, updatedAt string

	if err := scan(&b.ID, &b.UserID, &b.Name, &tickersJSON, &weightsJSON, &weighting, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tickersJSON), &b.Tickers); err != nil {
		return nil, fmt.Errorf("failed to parse tickers: %w", err)
	}
	if weightsJSON.Valid && weightsJSON.String != "" {
		if err := json.Unmarshal([]byte(weightsJSON.String), &b.Weights); err != nil {
			return nil, fmt.Errorf("failed to parse weights: %w", err)
		}
	}
	b.Weighting = WeightingMethod(weighting)
	b.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	b.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
	return &b, nil
}

func encode(b *Basket) (string, interface{}, error) {
	tickersJSON, err := json.Marshal(b.Tickers)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode tickers: %w", err)
	}
	var weightsJSON interface{}
	if len(b.Weights) > 0 {
		raw, err := json.Marshal(b.Weights)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode weights: %w", err)
		}
		weightsJSON = string(raw)
	}
	return string(tickersJSON), weightsJSON, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
