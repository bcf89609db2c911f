package risk

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository persists risk profiles in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a risk profile repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "risk_repository").Logger(),
	}
}

// Get loads a user's profile, falling back to the balanced template when the
// user has never saved one.
func (r *Repository) Get(userID string) (Profile, error) {
	var p Profile
	var capsJSON sql.NullString

	err := r.db.QueryRow(`
		SELECT user_id, template, max_volatility, max_loss,
		       max_single_stock_weight, max_factor_contribution,
		       max_market_contribution, max_industry_contribution,
		       max_single_factor_loss, max_leverage, factor_beta_caps
		FROM risk_profiles WHERE user_id = ?
	`, userID).Scan(
		&p.UserID, &p.Template, &p.MaxVolatility, &p.MaxLoss,
		&p.MaxSingleStockWeight, &p.MaxFactorContribution,
		&p.MaxMarketContribution, &p.MaxIndustryContribution,
		&p.MaxSingleFactorLoss, &p.MaxLeverage, &capsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		defaults := TemplateFor("balanced")
		defaults.UserID = userID
		return defaults, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load risk profile: %w", err)
	}

	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &p.FactorBetaCaps); err != nil {
			return Profile{}, fmt.Errorf("failed to parse factor beta caps: %w", err)
		}
	}
	return p, nil
}

// Save upserts a user's profile. The single authoring path for limits.
func (r *Repository) Save(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var capsJSON []byte
	if len(p.FactorBetaCaps) > 0 {
		var err error
		capsJSON, err = json.Marshal(p.FactorBetaCaps)
		if err != nil {
			return fmt.Errorf("failed to encode factor beta caps: %w", err)
		}
	}

	_, err := r.db.Exec(`
		INSERT INTO risk_profiles (
			user_id, template, max_volatility, max_loss,
			max_single_stock_weight, max_factor_contribution,
			max_market_contribution, max_industry_contribution,
			max_single_factor_loss, max_leverage, factor_beta_caps, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(user_id) DO UPDATE SET
			template = excluded.template,
			max_volatility = excluded.max_volatility,
			max_loss = excluded.max_loss,
			max_single_stock_weight = excluded.max_single_stock_weight,
			max_factor_contribution = excluded.max_factor_contribution,
			max_market_contribution = excluded.max_market_contribution,
			max_industry_contribution = excluded.max_industry_contribution,
			max_single_factor_loss = excluded.max_single_factor_loss,
			max_leverage = excluded.max_leverage,
			factor_beta_caps = excluded.factor_beta_caps,
			updated_at = datetime('now')
	`, p.UserID, p.Template, p.MaxVolatility, p.MaxLoss,
		p.MaxSingleStockWeight, p.MaxFactorContribution,
		p.MaxMarketContribution, p.MaxIndustryContribution,
		p.MaxSingleFactorLoss, p.MaxLeverage, nullableString(capsJSON))
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", err)
	}

	r.log.Info().Str("user_id", p.UserID).Str("template", p.Template).Msg("Risk profile saved")
	return nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
