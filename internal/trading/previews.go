package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskcore/internal/domain"
)

func (d *Desk) insertPreview(p *Preview) error {
	groupID := sql.NullString{String: p.GroupID, Valid: p.GroupID != ""}
	_, err := d.db.Exec(`
		INSERT INTO trade_previews (id, user_id, group_id, symbol, side, quantity, est_price, est_cost, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, groupID, p.Symbol, p.Side, p.Quantity, p.EstPrice, p.EstCost,
		p.CreatedAt.UTC().Format(sqliteTimeLayout), p.ExpiresAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade preview: %w", err)
	}
	return nil
}

func (d *Desk) reprice(p *Preview) error {
	_, err := d.db.Exec(`
		UPDATE trade_previews SET est_price = ?, est_cost = ?, expires_at = ? WHERE id = ?`,
		p.EstPrice, p.EstCost, p.ExpiresAt.UTC().Format(sqliteTimeLayout), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to reprice trade preview: %w", err)
	}
	return nil
}

// GetPreview loads one preview scoped to its owner.
func (d *Desk) GetPreview(userID, previewID string) (*Preview, error) {
	row := d.db.QueryRow(`
		SELECT id, user_id, COALESCE(group_id, ''), symbol, side, quantity, est_price, est_cost, created_at, expires_at
		FROM trade_previews WHERE id = ? AND user_id = ?`, previewID, userID)

	p, err := scanPreview(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewValidation("trade preview %q not found", previewID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade preview: %w", err)
	}
	return p, nil
}

func (d *Desk) groupPreviews(userID, groupID string) ([]*Preview, error) {
	rows, err := d.db.Query(`
		SELECT id, user_id, COALESCE(group_id, ''), symbol, side, quantity, est_price, est_cost, created_at, expires_at
		FROM trade_previews WHERE group_id = ? AND user_id = ? ORDER BY symbol`, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade group: %w", err)
	}
	defer rows.Close()

	var out []*Preview
	for rows.Next() {
		p, err := scanPreview(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade preview: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *Desk) insertGroup(groupID, userID, basket string) error {
	_, err := d.db.Exec(`
		INSERT INTO basket_trade_groups (id, user_id, basket) VALUES (?, ?, ?)`,
		groupID, userID, basket,
	)
	if err != nil {
		return fmt.Errorf("failed to insert basket trade group: %w", err)
	}
	return nil
}

// CleanupExpired removes previews whose TTL lapsed before the cutoff and
// any basket groups left with no legs. Run by the maintenance scheduler.
func (d *Desk) CleanupExpired(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM trade_previews WHERE expires_at < ?`,
		cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired previews: %w", err)
	}
	deleted, _ := res.RowsAffected()

	_, err = d.db.Exec(`
		DELETE FROM basket_trade_groups
		WHERE id NOT IN (SELECT DISTINCT group_id FROM trade_previews WHERE group_id IS NOT NULL)`)
	if err != nil {
		return deleted, fmt.Errorf("failed to prune empty trade groups: %w", err)
	}
	return deleted, nil
}

func scanPreview(scan func(...interface{}) error) (*Preview, error) {
	var p Preview
	var createdAt, expiresAt string
	if err := scan(&p.ID, &p.UserID, &p.GroupID, &p.Symbol, &p.Side, &p.Quantity,
		&p.EstPrice, &p.EstCost, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if p.ExpiresAt, err = time.Parse(sqliteTimeLayout, expiresAt); err != nil {
		return nil, fmt.Errorf("bad expires_at %q: %w", expiresAt, err)
	}
	return &p, nil
}
