package factor

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

const (
	// DefaultMinObservations is the regression floor; assets with fewer
	// aligned months are excluded from factor contributions.
	DefaultMinObservations = 24

	monthsPerYear = 12
)

// Engine runs the factor decomposition. All I/O happens in BuildPanel before
// any numerical stage begins, so a single run always sees one consistent
// snapshot.
type Engine struct {
	store  *marketdata.Store
	minObs int
	log    zerolog.Logger
}

// NewEngine creates a factor engine.
func NewEngine(store *marketdata.Store, minObs int, log zerolog.Logger) *Engine {
	if minObs <= 0 {
		minObs = DefaultMinObservations
	}
	return &Engine{
		store:  store,
		minObs: minObs,
		log:    log.With().Str("component", "factor").Logger(),
	}
}

// AssetResult is the per-asset regression outcome.
type AssetResult struct {
	Symbol              string      `json:"symbol"`
	Weight              float64     `json:"weight"`
	Regression          *Regression `json:"regression,omitempty"`
	InsufficientHistory bool        `json:"insufficient_history,omitempty"`
	// TotalVariance is the monthly variance of the asset's own return
	// series; it stands in for residual variance when no regression ran.
	TotalVariance float64 `json:"total_variance"`
}

// Decomposition is the portfolio-level factor risk breakdown. Variances are
// annualized.
type Decomposition struct {
	AsOf                time.Time               `json:"as_of"`
	PortfolioBetas      map[string]float64      `json:"portfolio_betas"`
	FactorVols          map[string]float64      `json:"factor_vols"` // annualized
	VarFactor           float64                 `json:"var_factor"`
	VarIdio             float64                 `json:"var_idio"`
	VarPortfolio        float64                 `json:"var_portfolio"`
	Volatility          float64                 `json:"volatility"` // annualized
	FactorPct           float64                 `json:"factor_pct"`
	IdioPct             float64                 `json:"idio_pct"`
	Contributions       map[string]float64      `json:"risk_contributions"` // Euler, fraction of portfolio vol
	Assets              map[string]*AssetResult `json:"assets"`
	InsufficientHistory []string                `json:"insufficient_history,omitempty"`
	MissingPrices       []string                `json:"missing_prices,omitempty"`
}

// Decompose computes the full decomposition for a canonical portfolio over
// the analysis window.
func (e *Engine) Decompose(ctx context.Context, portfolio *domain.CanonicalPortfolio, start, end time.Time) (*Decomposition, error) {
	keys := portfolio.NonCashSymbols()
	if len(keys) == 0 {
		return nil, domain.NewValidation("portfolio has no non-cash positions to decompose")
	}

	panel := BuildPanel(ctx, e.store, portfolio, start, end, e.log)

	out := &Decomposition{
		AsOf:           portfolio.AsOf,
		PortfolioBetas: make(map[string]float64),
		FactorVols:     make(map[string]float64),
		Contributions:  make(map[string]float64),
		Assets:         make(map[string]*AssetResult),
		MissingPrices:  panel.Missing,
	}

	// Stage 1: per-asset regressions, months dropped pairwise per asset.
	for _, key := range keys {
		pos := portfolio.Positions[key]
		assetSeries, ok := panel.Returns[pos.Symbol]
		if !ok || assetSeries.Len() == 0 {
			continue // already recorded in panel.Missing
		}

		result := &AssetResult{
			Symbol:        pos.Symbol,
			Weight:        pos.Weight,
			TotalVariance: stat.Variance(assetSeries.Values, nil),
		}
		out.Assets[key] = result

		reg, nObs := e.regress(panel, pos.Proxies, assetSeries)
		if reg == nil {
			result.InsufficientHistory = true
			out.InsufficientHistory = append(out.InsufficientHistory, key)
			e.log.Debug().Str("symbol", pos.Symbol).Int("n_obs", nObs).
				Msg("Insufficient history for factor regression")
			continue
		}
		result.Regression = reg
	}
	sort.Strings(out.InsufficientHistory)

	// Stage 2: portfolio exposures.
	for _, asset := range out.Assets {
		if asset.Regression == nil {
			continue
		}
		for col, beta := range asset.Regression.Betas {
			out.PortfolioBetas[col] += asset.Weight * beta
		}
	}

	// Stage 3: factor variances from the vol panel. This mirrors the
	// per-asset column construction; the two paths must stay in step.
	factorVariance := make(map[string]float64)
	for _, col := range columnOrder {
		series := e.portfolioFactorSeries(panel, portfolio, col)
		if series.Len() < 2 {
			continue
		}
		v := stat.Variance(series.Values, nil)
		factorVariance[col] = v
		out.FactorVols[col] = math.Sqrt(v) * math.Sqrt(monthsPerYear)
	}

	// Stage 4: variance split. Sigma_f is diagonal, so the quadratic form
	// reduces to a weighted sum over columns.
	var varFactorMonthly float64
	for col, beta := range out.PortfolioBetas {
		varFactorMonthly += beta * beta * factorVariance[col]
	}
	var varIdioMonthly float64
	for _, asset := range out.Assets {
		d := asset.TotalVariance
		if asset.Regression != nil {
			d = asset.Regression.ResidualVariance
		}
		varIdioMonthly += asset.Weight * asset.Weight * d
	}

	out.VarFactor = varFactorMonthly * monthsPerYear
	out.VarIdio = varIdioMonthly * monthsPerYear
	out.VarPortfolio = out.VarFactor + out.VarIdio
	out.Volatility = math.Sqrt(out.VarPortfolio)
	if out.VarPortfolio > 0 {
		out.FactorPct = out.VarFactor / out.VarPortfolio
		out.IdioPct = 1 - out.FactorPct
	}

	// Stage 5: Euler risk contributions over the full asset covariance.
	e.eulerContributions(out, factorVariance)

	return out, nil
}

// regress aligns one asset's return series with its factor columns and fits
// the OLS model. Returns nil when fewer than minObs months align.
func (e *Engine) regress(panel *Panel, proxies domain.FactorProxies, assetSeries marketdata.Series) (*Regression, int) {
	var columns []string
	var columnSeries []marketdata.Series
	for _, col := range columnOrder {
		s := panel.factorSeries(proxies, col)
		if s.Len() == 0 {
			continue
		}
		columns = append(columns, col)
		columnSeries = append(columnSeries, s)
	}
	if len(columns) == 0 {
		return nil, 0
	}

	all := append([]marketdata.Series{assetSeries}, columnSeries...)
	dates := marketdata.IntersectDates(all...)
	if len(dates) < e.minObs {
		return nil, len(dates)
	}

	y := make([]float64, len(dates))
	X := make([][]float64, len(dates))
	for i, d := range dates {
		y[i], _ = assetSeries.At(d)
		X[i] = make([]float64, len(columns))
		for j := range columns {
			X[i][j], _ = columnSeries[j].At(d)
		}
	}

	reg, err := fitOLS(y, X, columns)
	if err != nil {
		e.log.Warn().Err(err).Msg("Regression failed")
		return nil, len(dates)
	}
	return reg, reg.NObs
}

// portfolioFactorSeries builds the portfolio-level return series for one
// factor column: the absolute-weight average of each carrying asset's proxy
// series over their common months. Columns with a single global proxy
// degenerate to that proxy's series.
func (e *Engine) portfolioFactorSeries(panel *Panel, portfolio *domain.CanonicalPortfolio, column string) marketdata.Series {
	type carrier struct {
		series marketdata.Series
		weight float64
	}
	var carriers []carrier
	var totalWeight float64

	for _, key := range portfolio.NonCashSymbols() {
		pos := portfolio.Positions[key]
		s := panel.factorSeries(pos.Proxies, column)
		if s.Len() == 0 {
			continue
		}
		w := math.Abs(pos.Weight)
		if w == 0 {
			continue
		}
		carriers = append(carriers, carrier{series: s, weight: w})
		totalWeight += w
	}
	if len(carriers) == 0 || totalWeight == 0 {
		return marketdata.Series{}
	}
	if len(carriers) == 1 {
		return carriers[0].series
	}

	all := make([]marketdata.Series, len(carriers))
	for i, c := range carriers {
		all[i] = c.series
	}
	dates := marketdata.IntersectDates(all...)

	out := marketdata.Series{
		Dates:  dates,
		Values: make([]float64, len(dates)),
	}
	for i, d := range dates {
		var sum float64
		for _, c := range carriers {
			v, _ := c.series.At(d)
			sum += v * (c.weight / totalWeight)
		}
		out.Values[i] = sum
	}
	return out
}

// eulerContributions fills Contributions with each asset's share of
// portfolio volatility: RC_i = w_i * (Sigma w)_i / sigma_port, normalized to
// fractions. Sigma = B Sigma_f B' + D in monthly terms.
func (e *Engine) eulerContributions(out *Decomposition, factorVariance map[string]float64) {
	keys := make([]string, 0, len(out.Assets))
	for key := range out.Assets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	n := len(keys)
	if n == 0 {
		return
	}

	weights := make([]float64, n)
	betas := make([][]float64, n) // asset x column
	idio := make([]float64, n)
	for i, key := range keys {
		asset := out.Assets[key]
		weights[i] = asset.Weight
		betas[i] = make([]float64, len(columnOrder))
		if asset.Regression != nil {
			for j, col := range columnOrder {
				betas[i][j] = asset.Regression.Betas[col]
			}
			idio[i] = asset.Regression.ResidualVariance
		} else {
			idio[i] = asset.TotalVariance
		}
	}

	// (Sigma w)_i = sum_j [sum_k beta_ik var_k beta_jk] w_j + D_ii w_i
	sigmaW := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var cov float64
			for k, col := range columnOrder {
				cov += betas[i][k] * factorVariance[col] * betas[j][k]
			}
			if i == j {
				cov += idio[i]
			}
			sigmaW[i] += cov * weights[j]
		}
	}

	var varMonthly float64
	for i := 0; i < n; i++ {
		varMonthly += weights[i] * sigmaW[i]
	}
	if varMonthly <= 0 {
		return
	}

	for i, key := range keys {
		out.Contributions[key] = weights[i] * sigmaW[i] / varMonthly
	}
}
