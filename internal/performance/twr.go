// Package performance reconstructs realized portfolio returns from
// transactions for GIPS-compliant time-weighted reporting, and computes
// hypothetical performance from current weights.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/riskcore/internal/marketdata"
)

// DayFlows are one day's external flows for an account, kept separate by
// direction. The mixed-flow return formula depends on them never being
// netted.
type DayFlows struct {
	In  float64
	Out float64
}

// dailyReturn is the beginning-of-day time-weighted return for one day:
//
//	R = (V_D + |CF_out|) / (V_{D-1} + CF_in) - 1
//
// The flow-free, inflow-only, and outflow-only cases are the same formula
// with the missing terms at zero.
func dailyReturn(prevNAV, nav float64, flows DayFlows) (float64, bool) {
	denom := prevNAV + flows.In
	if denom <= 0 {
		return 0, false
	}
	return (nav+flows.Out)/denom - 1, true
}

// dailyReturns converts a daily NAV series plus per-day flows into a daily
// return series. Days with an undefined denominator are skipped.
func dailyReturns(nav marketdata.Series, flows map[time.Time]DayFlows) marketdata.Series {
	out := marketdata.Series{}
	for i := 1; i < nav.Len(); i++ {
		day := nav.Dates[i]
		r, ok := dailyReturn(nav.Values[i-1], nav.Values[i], flows[day])
		if !ok {
			continue
		}
		out.Dates = append(out.Dates, day)
		out.Values = append(out.Values, r)
	}
	return out
}

// chainMonthly compounds daily returns into calendar-month returns.
func chainMonthly(daily marketdata.Series) marketdata.Series {
	out := marketdata.Series{}
	for i := 0; i < daily.Len(); i++ {
		bucket := marketdata.MonthEnd(daily.Dates[i])
		if n := out.Len(); n > 0 && out.Dates[n-1].Equal(bucket) {
			out.Values[n-1] = (1+out.Values[n-1])*(1+daily.Values[i]) - 1
			continue
		}
		out.Dates = append(out.Dates, bucket)
		out.Values = append(out.Values, daily.Values[i])
	}
	return out
}

// chain compounds a return series into a single period return.
func chain(returns []float64) float64 {
	prod := 1.0
	for _, r := range returns {
		prod *= 1 + r
	}
	return prod - 1
}

// annualize converts a period return over n months to an annual rate.
func annualize(periodReturn float64, months int) float64 {
	if months <= 0 {
		return 0
	}
	base := 1 + periodReturn
	if base <= 0 {
		return -1
	}
	return math.Pow(base, 12/float64(months)) - 1
}

// MonthValue is a labeled monthly observation.
type MonthValue struct {
	Month  string  `json:"month"` // YYYY-MM
	Return float64 `json:"return"`
}

// Metrics are the summary statistics over a monthly return series.
type Metrics struct {
	TotalReturn      float64      `json:"total_return"`
	AnnualizedReturn float64      `json:"annualized_return"`
	Volatility       float64      `json:"volatility"` // annualized
	Sharpe           float64      `json:"sharpe_ratio"`
	Sortino          float64      `json:"sortino_ratio"`
	MaxDrawdown      float64      `json:"max_drawdown"`
	WinRate          float64      `json:"win_rate"`
	BestMonth        *MonthValue  `json:"best_month,omitempty"`
	WorstMonth       *MonthValue  `json:"worst_month,omitempty"`
	Months           int          `json:"months"`
	MonthlyReturns   []MonthValue `json:"monthly_returns,omitempty"`
}

// computeMetrics derives the metric block from a monthly return series and
// an annual risk-free rate.
func computeMetrics(monthly marketdata.Series, riskFree float64) Metrics {
	m := Metrics{Months: monthly.Len()}
	if monthly.Len() == 0 {
		return m
	}

	m.TotalReturn = chain(monthly.Values)
	m.AnnualizedReturn = annualize(m.TotalReturn, monthly.Len())

	mean := 0.0
	for _, r := range monthly.Values {
		mean += r
	}
	mean /= float64(monthly.Len())

	var varSum, downSum float64
	var wins int
	for _, r := range monthly.Values {
		d := r - mean
		varSum += d * d
		if r > 0 {
			wins++
		}
		monthlyRF := riskFree / 12
		if r < monthlyRF {
			dd := r - monthlyRF
			downSum += dd * dd
		}
	}
	n := float64(monthly.Len())
	if monthly.Len() > 1 {
		m.Volatility = math.Sqrt(varSum/(n-1)) * math.Sqrt(12)
	}
	m.WinRate = float64(wins) / n

	if m.Volatility > 0 {
		m.Sharpe = (m.AnnualizedReturn - riskFree) / m.Volatility
	}
	if downside := math.Sqrt(downSum/n) * math.Sqrt(12); downside > 0 {
		m.Sortino = (m.AnnualizedReturn - riskFree) / downside
	}

	m.MaxDrawdown = maxDrawdown(monthly.Values)

	best, worst := 0, 0
	for i, r := range monthly.Values {
		if r > monthly.Values[best] {
			best = i
		}
		if r < monthly.Values[worst] {
			worst = i
		}
	}
	m.BestMonth = &MonthValue{Month: monthly.Dates[best].Format("2006-01"), Return: monthly.Values[best]}
	m.WorstMonth = &MonthValue{Month: monthly.Dates[worst].Format("2006-01"), Return: monthly.Values[worst]}

	m.MonthlyReturns = make([]MonthValue, monthly.Len())
	for i := range monthly.Values {
		m.MonthlyReturns[i] = MonthValue{Month: monthly.Dates[i].Format("2006-01"), Return: monthly.Values[i]}
	}
	sort.Slice(m.MonthlyReturns, func(i, j int) bool { return m.MonthlyReturns[i].Month < m.MonthlyReturns[j].Month })
	return m
}

// maxDrawdown is the deepest peak-to-trough loss of the cumulative product.
func maxDrawdown(returns []float64) float64 {
	peak := 1.0
	cum := 1.0
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
