// Package risk evaluates a factor decomposition against a user's risk
// profile: per-limit pass/fail, ordered flag output, and the 0-100 composite
// score.
package risk

import "github.com/aristath/riskcore/internal/domain"

// Profile is the immutable snapshot of a user's risk limits. All derivations
// read a copy; mutation goes through the repository.
type Profile struct {
	UserID                  string             `json:"user_id"`
	Template                string             `json:"template"`
	MaxVolatility           float64            `json:"max_volatility"`  // annualized, fraction
	MaxLoss                 float64            `json:"max_loss"`        // fraction of NAV
	MaxSingleStockWeight    float64            `json:"max_single_stock_weight"`
	MaxFactorContribution   float64            `json:"max_factor_contribution"`
	MaxMarketContribution   float64            `json:"max_market_contribution"`
	MaxIndustryContribution float64            `json:"max_industry_contribution"`
	MaxSingleFactorLoss     float64            `json:"max_single_factor_loss"`
	MaxLeverage             float64            `json:"max_leverage"`
	FactorBetaCaps          map[string]float64 `json:"factor_beta_caps,omitempty"`
}

// Templates returns the shipped profile presets.
func Templates() map[string]Profile {
	return map[string]Profile{
		"income": {
			Template:                "income",
			MaxVolatility:           0.10,
			MaxLoss:                 0.10,
			MaxSingleStockWeight:    0.05,
			MaxFactorContribution:   0.50,
			MaxMarketContribution:   0.40,
			MaxIndustryContribution: 0.15,
			MaxSingleFactorLoss:     0.08,
			MaxLeverage:             1.0,
		},
		"balanced": {
			Template:                "balanced",
			MaxVolatility:           0.15,
			MaxLoss:                 0.20,
			MaxSingleStockWeight:    0.10,
			MaxFactorContribution:   0.60,
			MaxMarketContribution:   0.50,
			MaxIndustryContribution: 0.20,
			MaxSingleFactorLoss:     0.12,
			MaxLeverage:             1.2,
		},
		"growth": {
			Template:                "growth",
			MaxVolatility:           0.22,
			MaxLoss:                 0.30,
			MaxSingleStockWeight:    0.15,
			MaxFactorContribution:   0.70,
			MaxMarketContribution:   0.60,
			MaxIndustryContribution: 0.25,
			MaxSingleFactorLoss:     0.18,
			MaxLeverage:             1.5,
		},
		"trading": {
			Template:                "trading",
			MaxVolatility:           0.35,
			MaxLoss:                 0.45,
			MaxSingleStockWeight:    0.25,
			MaxFactorContribution:   0.85,
			MaxMarketContribution:   0.75,
			MaxIndustryContribution: 0.40,
			MaxSingleFactorLoss:     0.30,
			MaxLeverage:             3.0,
		},
	}
}

// TemplateFor returns the preset for a name, falling back to balanced.
func TemplateFor(name string) Profile {
	if p, ok := Templates()[name]; ok {
		return p
	}
	return Templates()["balanced"]
}

// Validate checks the profile's internal consistency.
func (p Profile) Validate() error {
	if p.MaxVolatility <= 0 || p.MaxLoss <= 0 {
		return domain.NewValidation("risk profile limits must be positive")
	}
	if p.MaxSingleStockWeight <= 0 || p.MaxSingleStockWeight > 1 {
		return domain.NewValidation("max_single_stock_weight must be in (0, 1]")
	}
	if p.MaxLeverage < 1 {
		return domain.NewValidation("max_leverage below 1.0 is unsatisfiable")
	}
	for factor, cap := range p.FactorBetaCaps {
		if cap <= 0 {
			return domain.NewValidation("factor beta cap for %s must be positive", factor)
		}
	}
	return nil
}
