package optimizer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
)

func twoAssetPortfolio(wA, wB float64) *domain.CanonicalPortfolio {
	return &domain.CanonicalPortfolio{
		UserID: "u1",
		AsOf:   time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC),
		Positions: map[string]domain.CanonicalPosition{
			"A": {Symbol: "A", Weight: wA, Type: domain.InstrumentEquity},
			"B": {Symbol: "B", Weight: wB, Type: domain.InstrumentEquity},
		},
		NotionalLeverage: 1.0,
	}
}

// idioOnlyDecomposition carries per-asset variances and no factor structure,
// so the covariance is diagonal.
func idioOnlyDecomposition(annualVars map[string]float64) *factor.Decomposition {
	dec := &factor.Decomposition{
		FactorVols: map[string]float64{},
		Assets:     make(map[string]*factor.AssetResult),
	}
	for key, v := range annualVars {
		dec.Assets[key] = &factor.AssetResult{
			Symbol:        key,
			TotalVariance: v / 12, // monthly
		}
	}
	return dec
}

func marketBetaDecomposition(betas map[string]float64, marketVol, residMonthly float64) *factor.Decomposition {
	dec := &factor.Decomposition{
		FactorVols: map[string]float64{factor.ColMarket: marketVol},
		Assets:     make(map[string]*factor.AssetResult),
	}
	for key, beta := range betas {
		dec.Assets[key] = &factor.AssetResult{
			Symbol: key,
			Regression: &factor.Regression{
				Betas:            map[string]float64{factor.ColMarket: beta},
				ResidualVariance: residMonthly,
			},
		}
	}
	return dec
}

func TestOptimize_MinVarianceInverseVarianceWeights(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	// Uncorrelated assets with annual variances 0.04 and 0.01: the
	// minimum-variance weights are proportional to inverse variance.
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.04, "B": 0.01})

	res, err := s.Optimize(portfolio, dec, Request{Objective: ObjectiveMinVariance})
	require.NoError(t, err)

	assert.InDelta(t, 0.2, res.Weights["A"], 0.02)
	assert.InDelta(t, 0.8, res.Weights["B"], 0.02)

	var sum float64
	for _, w := range res.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestOptimize_SingleStockCapBinds(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.04, "B": 0.01})

	res, err := s.Optimize(portfolio, dec, Request{
		Objective:       ObjectiveMinVariance,
		MaxSingleWeight: 0.6,
	})
	require.NoError(t, err)

	// Unconstrained optimum puts 0.8 on B; the cap pins it at 0.6.
	assert.InDelta(t, 0.6, res.Weights["B"], 0.03)
	for _, w := range res.Weights {
		assert.LessOrEqual(t, w, 0.6+constraintTol)
	}
	for _, row := range res.Compliance {
		assert.True(t, row.Pass, "compliance %s", row.Name)
	}
}

func TestOptimize_InfeasibleSingleStockCap(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := &domain.CanonicalPortfolio{
		Positions: map[string]domain.CanonicalPosition{
			"A": {Symbol: "A", Weight: 0.4, Type: domain.InstrumentEquity},
			"B": {Symbol: "B", Weight: 0.3, Type: domain.InstrumentEquity},
			"C": {Symbol: "C", Weight: 0.3, Type: domain.InstrumentEquity},
		},
	}
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.02, "B": 0.02, "C": 0.02})

	// Three assets capped at 20% can never sum to 1.
	_, err := s.Optimize(portfolio, dec, Request{
		Objective:       ObjectiveMinVariance,
		MaxSingleWeight: 0.2,
	})
	require.Error(t, err)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindInfeasible, derr.Kind)
	assert.Equal(t, []string{"single_stock"}, derr.Constraints)
}

func TestOptimize_InfeasibleBetaBound(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	// Both assets have market beta 1.0; no weighting reaches 1.5.
	dec := marketBetaDecomposition(map[string]float64{"A": 1.0, "B": 1.0}, 0.15, 0.001)

	_, err := s.Optimize(portfolio, dec, Request{
		Objective:  ObjectiveMinVariance,
		BetaBounds: map[string][2]float64{factor.ColMarket: {1.5, 2.0}},
	})
	require.Error(t, err)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindInfeasible, derr.Kind)
	assert.Equal(t, []string{"beta_market"}, derr.Constraints)
}

func TestOptimize_BetaBoxSatisfied(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	dec := marketBetaDecomposition(map[string]float64{"A": 0.5, "B": 1.5}, 0.15, 0.002)

	res, err := s.Optimize(portfolio, dec, Request{
		Objective:  ObjectiveMinVariance,
		BetaBounds: map[string][2]float64{factor.ColMarket: {0.9, 1.1}},
	})
	require.NoError(t, err)

	beta := 0.5*res.Weights["A"] + 1.5*res.Weights["B"]
	assert.GreaterOrEqual(t, beta, 0.9-constraintTol)
	assert.LessOrEqual(t, beta, 1.1+constraintTol)
}

func TestOptimize_ContributionCapTiltsAwayFromFactor(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	// Only A loads on the market; the cap forces weight toward B beyond
	// what minimum variance alone would do.
	dec := marketBetaDecomposition(map[string]float64{"A": 1.0, "B": 0.0}, 0.15, 0.001)

	res, err := s.Optimize(portfolio, dec, Request{
		Objective:        ObjectiveMinVariance,
		ContributionCaps: map[string]float64{factor.ColMarket: 0.10},
	})
	require.NoError(t, err)

	// Unconstrained minimum variance holds about 26% in A, at a market
	// share near 17%. The cap pushes A down to roughly 20%.
	assert.Less(t, res.Weights["A"], 0.24)

	var row *ComplianceRow
	for i := range res.Compliance {
		if res.Compliance[i].Name == "contribution_market" {
			row = &res.Compliance[i]
		}
	}
	require.NotNil(t, row)
	assert.True(t, row.Pass)
	assert.LessOrEqual(t, row.Measured, 0.10+constraintTol)
	assert.NotEqual(t, VerdictHasViolations, res.Verdict)
}

func TestOptimize_UnattainableContributionCapYieldsViolationsVerdict(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	// Both assets carry full market beta, so the market share stays near
	// 70% for every weighting; a 20% cap cannot be met.
	dec := marketBetaDecomposition(map[string]float64{"A": 1.0, "B": 1.0}, 0.15, 0.001)

	res, err := s.Optimize(portfolio, dec, Request{
		Objective:        ObjectiveMinVariance,
		ContributionCaps: map[string]float64{factor.ColMarket: 0.20},
	})
	require.NoError(t, err, "a converged but violating solve is a result, not an error")

	assert.Equal(t, VerdictHasViolations, res.Verdict)
	var failed bool
	for _, row := range res.Compliance {
		if row.Name == "contribution_market" && !row.Pass {
			failed = true
		}
	}
	assert.True(t, failed, "contribution cap reported as violated")
	assert.NotEmpty(t, res.Weights)
}

func TestOptimize_ContributionCapValidation(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.02, "B": 0.02})

	_, err := s.Optimize(portfolio, dec, Request{
		Objective:        ObjectiveMinVariance,
		ContributionCaps: map[string]float64{factor.ColMarket: 1.5},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestOptimize_MaxReturnTiltsToHighMu(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.02, "B": 0.02})

	res, err := s.Optimize(portfolio, dec, Request{
		Objective:       ObjectiveMaxReturn,
		ExpectedReturns: map[string]float64{"A": 0.10, "B": 0.02},
		MaxSingleWeight: 0.7,
	})
	require.NoError(t, err)

	// The return spread dominates the risk penalty; the cap binds.
	assert.InDelta(t, 0.7, res.Weights["A"], 0.03)
}

func TestOptimize_MaxReturnRequiresExpectedReturns(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.02, "B": 0.02})

	_, err := s.Optimize(portfolio, dec, Request{
		Objective:       ObjectiveMaxReturn,
		ExpectedReturns: map[string]float64{"A": 0.10},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestOptimize_NoChangesVerdictAtOptimum(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	// Start exactly at the inverse-variance optimum.
	portfolio := twoAssetPortfolio(0.2, 0.8)
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.04, "B": 0.01})

	res, err := s.Optimize(portfolio, dec, Request{Objective: ObjectiveMinVariance})
	require.NoError(t, err)

	assert.Less(t, res.L1Distance, noChangesL1)
	assert.Equal(t, VerdictNoChanges, res.Verdict)
}

func TestOptimize_ChangesInBpsSorted(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	portfolio := twoAssetPortfolio(0.5, 0.5)
	dec := idioOnlyDecomposition(map[string]float64{"A": 0.04, "B": 0.01})

	res, err := s.Optimize(portfolio, dec, Request{Objective: ObjectiveMinVariance})
	require.NoError(t, err)

	require.Len(t, res.Changes, 2)
	// Roughly 0.5 -> 0.2 and 0.5 -> 0.8: about 3000 bps each way.
	bySymbol := map[string]WeightChange{}
	for _, c := range res.Changes {
		bySymbol[c.Symbol] = c
	}
	assert.InDelta(t, -3000, bySymbol["A"].ChangeBps, 300)
	assert.InDelta(t, 3000, bySymbol["B"].ChangeBps, 300)
	assert.Equal(t, VerdictMajorRebalance, res.Verdict)
}

func TestOptimize_EmptyPortfolio(t *testing.T) {
	s := NewSolver(zerolog.Nop())
	_, err := s.Optimize(&domain.CanonicalPortfolio{}, idioOnlyDecomposition(nil), Request{Objective: ObjectiveMinVariance})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAchievableRange(t *testing.T) {
	lo, hi := achievableRange([]float64{0.5, 1.0, 1.5}, 1.0)
	assert.InDelta(t, 0.5, lo, 1e-12)
	assert.InDelta(t, 1.5, hi, 1e-12)

	// Cap 0.5: extremes are averages of the two best/worst.
	lo, hi = achievableRange([]float64{0.5, 1.0, 1.5}, 0.5)
	assert.InDelta(t, 0.75, lo, 1e-12)
	assert.InDelta(t, 1.25, hi, 1e-12)
}
