package intelligence

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

const (
	monthsPerYear = 12
	// minOverlap is the fewest shared months a pair needs for a meaningful
	// correlation.
	minOverlap = 3
)

// CorrelationMatrix is a labeled square correlation matrix.
type CorrelationMatrix struct {
	Columns []string    `json:"columns"`
	Matrix  [][]float64 `json:"matrix"`
}

// OverlayMatrix correlates basket rows against factor columns.
type OverlayMatrix struct {
	Rows    []string    `json:"rows"`
	Columns []string    `json:"columns"`
	Matrix  [][]float64 `json:"matrix"`
}

// Correlations is the bucketed correlation output.
type Correlations struct {
	// Buckets holds one matrix per category; single-member categories are
	// omitted since a 1x1 matrix says nothing.
	Buckets map[string]*CorrelationMatrix `json:"buckets"`
	// BasketOverlay correlates every basket against every factor column
	// with pairwise date alignment, so baskets surface even when only one
	// exists.
	BasketOverlay *OverlayMatrix `json:"basket_overlay,omitempty"`
}

// Correlations computes per-category matrices plus the basket overlay.
func (e *Engine) Correlations(panel *Panel) *Correlations {
	out := &Correlations{Buckets: make(map[string]*CorrelationMatrix)}

	byCategory := make(map[string][]Column)
	var basketCols, factorCols []Column
	for _, col := range panel.Columns {
		if col.Category == CategoryUserBaskets {
			basketCols = append(basketCols, col)
			continue
		}
		byCategory[col.Category] = append(byCategory[col.Category], col)
		factorCols = append(factorCols, col)
	}

	for category, cols := range byCategory {
		if len(cols) < 2 {
			continue
		}
		matrix := &CorrelationMatrix{
			Columns: make([]string, len(cols)),
			Matrix:  make([][]float64, len(cols)),
		}
		for i, col := range cols {
			matrix.Columns[i] = col.Name
			matrix.Matrix[i] = make([]float64, len(cols))
			for j := range cols {
				if i == j {
					matrix.Matrix[i][j] = 1
					continue
				}
				matrix.Matrix[i][j] = pairwiseCorrelation(col.Series, cols[j].Series)
			}
		}
		out.Buckets[category] = matrix
	}

	if len(basketCols) > 0 && len(factorCols) > 0 {
		overlay := &OverlayMatrix{
			Rows:    make([]string, len(basketCols)),
			Columns: make([]string, len(factorCols)),
			Matrix:  make([][]float64, len(basketCols)),
		}
		for j, col := range factorCols {
			overlay.Columns[j] = col.Name
		}
		for i, basket := range basketCols {
			overlay.Rows[i] = basket.Name
			overlay.Matrix[i] = make([]float64, len(factorCols))
			for j, col := range factorCols {
				overlay.Matrix[i][j] = pairwiseCorrelation(basket.Series, col.Series)
			}
		}
		out.BasketOverlay = overlay
	}
	return out
}

// ProfileEntry is one column's performance summary. Return, volatility, and
// drawdown are in percent to match the standard factor output schema.
type ProfileEntry struct {
	Column       string  `json:"column"`
	Label        string  `json:"label"`
	Category     string  `json:"category"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	BetaToMarket float64 `json:"beta_to_market"`
}

// PerformanceProfile summarizes every column directly from its panel series;
// basket columns use their appended series with no extra fetching.
func (e *Engine) PerformanceProfile(panel *Panel) []ProfileEntry {
	market, hasMarket := panel.Find("market")

	out := make([]ProfileEntry, 0, len(panel.Columns))
	for _, col := range panel.Columns {
		if col.Series.Len() < 2 {
			continue
		}
		entry := ProfileEntry{
			Column:   col.Name,
			Label:    col.Label,
			Category: col.Category,
		}

		n := col.Series.Len()
		total := 1.0
		for _, r := range col.Series.Values {
			total *= 1 + r
		}
		if total > 0 {
			entry.AnnualReturn = (math.Pow(total, monthsPerYear/float64(n)) - 1) * 100
		} else {
			entry.AnnualReturn = -100
		}

		vol := math.Sqrt(stat.Variance(col.Series.Values, nil)) * math.Sqrt(monthsPerYear)
		entry.Volatility = vol * 100
		if vol > 0 {
			entry.SharpeRatio = entry.AnnualReturn / entry.Volatility
		}
		entry.MaxDrawdown = drawdown(col.Series.Values) * 100

		if hasMarket {
			if col.Name == market.Name {
				entry.BetaToMarket = 1
			} else {
				entry.BetaToMarket = pairwiseBeta(col.Series, market.Series)
			}
		}
		out = append(out, entry)
	}
	return out
}

// Hedge is one offset candidate.
type Hedge struct {
	Column      string  `json:"column"`
	Label       string  `json:"label"`
	Category    string  `json:"category"`
	Correlation float64 `json:"correlation"`
}

// OffsetRecommendation lists the most negatively correlated columns for a
// target exposure.
type OffsetRecommendation struct {
	Target string  `json:"target"`
	Hedges []Hedge `json:"hedges"`
}

// Offsets recommends hedge candidates for the target column: the columns
// with the most negative pairwise correlation.
func (e *Engine) Offsets(panel *Panel, target string, topN int) (*OffsetRecommendation, error) {
	targetCol, ok := panel.Find(target)
	if !ok {
		return nil, domain.NewValidation("unknown factor column %q", target)
	}
	if topN <= 0 {
		topN = 3
	}

	var hedges []Hedge
	for _, col := range panel.Columns {
		if col.Name == targetCol.Name {
			continue
		}
		corr := pairwiseCorrelation(targetCol.Series, col.Series)
		if corr >= 0 {
			continue
		}
		hedges = append(hedges, Hedge{
			Column:      col.Name,
			Label:       col.Label,
			Category:    col.Category,
			Correlation: corr,
		})
	}
	sort.SliceStable(hedges, func(i, j int) bool { return hedges[i].Correlation < hedges[j].Correlation })
	if len(hedges) > topN {
		hedges = hedges[:topN]
	}
	return &OffsetRecommendation{Target: targetCol.Name, Hedges: hedges}, nil
}

// pairwiseCorrelation aligns the two series on their shared dates only; a
// short overlap yields zero rather than a spurious estimate.
func pairwiseCorrelation(a, b marketdata.Series) float64 {
	x, y := alignPair(a, b)
	if len(x) < minOverlap {
		return 0
	}
	corr := stat.Correlation(x, y, nil)
	if math.IsNaN(corr) {
		return 0
	}
	return corr
}

func pairwiseBeta(a, market marketdata.Series) float64 {
	x, y := alignPair(a, market)
	if len(x) < minOverlap {
		return 0
	}
	varM := stat.Variance(y, nil)
	if varM <= 0 {
		return 0
	}
	return stat.Covariance(x, y, nil) / varM
}

func alignPair(a, b marketdata.Series) ([]float64, []float64) {
	dates := marketdata.IntersectDates(a, b)
	x := make([]float64, len(dates))
	y := make([]float64, len(dates))
	for i, d := range dates {
		x[i], _ = a.At(d)
		y[i], _ = b.At(d)
	}
	return x, y
}

func drawdown(returns []float64) float64 {
	peak, cum := 1.0, 1.0
	var worst float64
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := cum/peak - 1; dd < worst {
			worst = dd
		}
	}
	return worst
}
