package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
)

func TestScoreFromRatio_Anchors(t *testing.T) {
	assert.Equal(t, 100.0, scoreFromRatio(0))
	assert.Equal(t, 70.0, scoreFromRatio(1))
	assert.Equal(t, 30.0, scoreFromRatio(2))
	assert.Equal(t, 0.0, scoreFromRatio(5))
	assert.Equal(t, 0.0, scoreFromRatio(8))

	// Linear between anchors.
	assert.InDelta(t, 85.0, scoreFromRatio(0.5), 1e-12)
	assert.InDelta(t, 50.0, scoreFromRatio(1.5), 1e-12)
	assert.InDelta(t, 20.0, scoreFromRatio(3), 1e-12)
}

func TestScoreFromRatio_Monotone(t *testing.T) {
	prev := scoreFromRatio(0)
	for r := 0.1; r <= 6; r += 0.1 {
		cur := scoreFromRatio(r)
		assert.LessOrEqual(t, cur, prev, "score must not increase with ratio %f", r)
		prev = cur
	}
}

func testPortfolio(weights map[string]float64, leverage float64) *domain.CanonicalPortfolio {
	positions := make(map[string]domain.CanonicalPosition, len(weights))
	for sym, w := range weights {
		// VTI stands in for a diversified fund throughout these tests.
		typ := domain.InstrumentEquity
		if sym == "VTI" {
			typ = domain.InstrumentETF
		}
		positions[sym] = domain.CanonicalPosition{
			Symbol: sym, Weight: w, Type: typ,
		}
	}
	return &domain.CanonicalPortfolio{
		UserID:           "u1",
		AsOf:             time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC),
		Positions:        positions,
		NotionalLeverage: leverage,
	}
}

func testDecomposition(vol, factorPct, marketBeta, marketVol float64) *factor.Decomposition {
	varPort := vol * vol
	return &factor.Decomposition{
		PortfolioBetas: map[string]float64{factor.ColMarket: marketBeta},
		FactorVols:     map[string]float64{factor.ColMarket: marketVol},
		Volatility:     vol,
		VarPortfolio:   varPort,
		VarFactor:      varPort * factorPct,
		VarIdio:        varPort * (1 - factorPct),
		FactorPct:      factorPct,
		IdioPct:        1 - factorPct,
	}
}

func TestEvaluate_AllWithinLimits(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	portfolio := testPortfolio(map[string]float64{"AAPL": 0.04, "VTI": 0.96}, 1.0)
	dec := testDecomposition(0.08, 0.40, 0.5, 0.10)

	eval := e.Evaluate(portfolio, dec, TemplateFor("balanced"))

	for _, limit := range eval.Limits {
		assert.True(t, limit.Pass, "limit %s should pass: measured %f limit %f", limit.Name, limit.Measured, limit.Limit)
	}
	assert.Empty(t, eval.Flags)
	assert.Greater(t, eval.Score.Composite, 70.0)
}

func TestEvaluate_SingleStockBreach(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	portfolio := testPortfolio(map[string]float64{"NVDA": 0.30, "VTI": 0.70}, 1.0)
	dec := testDecomposition(0.08, 0.40, 0.5, 0.10)

	eval := e.Evaluate(portfolio, dec, TemplateFor("balanced")) // limit 0.10

	var single *LimitResult
	for i := range eval.Limits {
		if eval.Limits[i].Name == "single_stock" {
			single = &eval.Limits[i]
		}
	}
	require.NotNil(t, single)
	assert.False(t, single.Pass)
	assert.InDelta(t, 3.0, single.Ratio, 1e-9)

	require.NotEmpty(t, eval.Flags)
	assert.Equal(t, SeverityError, eval.Flags[0].Severity)
	assert.Equal(t, "single_stock", eval.Flags[0].Type)
	assert.Equal(t, "NVDA", eval.Flags[0].Details["symbol"])
	assert.Contains(t, eval.TopRisks, "single_stock")
}

func TestEvaluate_DiversifiedFundExemptFromSingleStock(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	// The fund dominates the book but only the single-name equity counts.
	portfolio := testPortfolio(map[string]float64{"NVDA": 0.08, "VTI": 0.92}, 1.0)
	dec := testDecomposition(0.08, 0.40, 0.5, 0.10)

	eval := e.Evaluate(portfolio, dec, TemplateFor("balanced")) // limit 0.10

	for _, limit := range eval.Limits {
		if limit.Name == "single_stock" {
			assert.True(t, limit.Pass)
			assert.InDelta(t, 0.08, limit.Measured, 1e-9)
			assert.Equal(t, "NVDA", limit.Details["symbol"])
		}
	}
}

func TestEvaluate_FlagOrdering(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	// Breach several limits at once plus a warning-band one.
	portfolio := testPortfolio(map[string]float64{"NVDA": 0.5, "VTI": 0.5}, 2.0)
	dec := testDecomposition(0.30, 0.95, 1.4, 0.18)
	dec.MissingPrices = []string{"GONE"}

	eval := e.Evaluate(portfolio, dec, TemplateFor("balanced"))
	require.Greater(t, len(eval.Flags), 2)

	for i := 1; i < len(eval.Flags); i++ {
		prev, cur := eval.Flags[i-1], eval.Flags[i]
		if prev.Severity == cur.Severity {
			assert.LessOrEqual(t, prev.Type, cur.Type, "same-severity flags sorted by type")
		} else {
			assert.Less(t, severityRank[prev.Severity], severityRank[cur.Severity], "errors before warnings before info")
		}
	}
}

func TestEvaluate_BetaCaps(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	portfolio := testPortfolio(map[string]float64{"VTI": 1.0}, 1.0)
	dec := testDecomposition(0.08, 0.40, 1.6, 0.10)

	profile := TemplateFor("balanced")
	profile.FactorBetaCaps = map[string]float64{factor.ColMarket: 1.2}

	eval := e.Evaluate(portfolio, dec, profile)

	var found bool
	for _, limit := range eval.Limits {
		if limit.Name == "beta_cap_market" {
			found = true
			assert.False(t, limit.Pass)
		}
	}
	assert.True(t, found)
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	portfolio := testPortfolio(map[string]float64{"NVDA": 0.2, "VTI": 0.8}, 1.1)
	dec := testDecomposition(0.14, 0.55, 0.9, 0.12)
	profile := TemplateFor("growth")

	a := e.Evaluate(portfolio, dec, profile)
	b := e.Evaluate(portfolio, dec, profile)
	assert.Equal(t, a, b)
}

func TestProfileValidate(t *testing.T) {
	p := TemplateFor("income")
	require.NoError(t, p.Validate())

	p.MaxLeverage = 0.5
	require.Error(t, p.Validate())

	p = TemplateFor("growth")
	p.MaxSingleStockWeight = 0
	require.Error(t, p.Validate())

	p = TemplateFor("trading")
	p.FactorBetaCaps = map[string]float64{"market": -1}
	require.Error(t, p.Validate())
}

func TestTemplateFor_FallsBackToBalanced(t *testing.T) {
	assert.Equal(t, "balanced", TemplateFor("nonsense").Template)
	assert.Equal(t, "trading", TemplateFor("trading").Template)
}
