// Package factor computes the factor decomposition of a canonical portfolio:
// per-asset OLS regressions against proxy factor returns, portfolio-level
// exposures, and the factor/idiosyncratic variance split.
package factor

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

// Factor column names, in canonical order.
const (
	ColMarket      = "market"
	ColMomentum    = "momentum"
	ColValue       = "value"
	ColIndustry    = "industry"
	ColSubindustry = "subindustry"
	ColCommodity   = "commodity"
	ColRate        = "rate"
)

var columnOrder = []string{ColMarket, ColMomentum, ColValue, ColIndustry, ColSubindustry, ColCommodity, ColRate}

// Panel holds monthly return series for every proxy ticker referenced by a
// portfolio, plus per-asset series. Built once per analysis so the beta
// fitting and the factor-vol computation read the same snapshot.
type Panel struct {
	// Returns maps ticker -> monthly return series.
	Returns map[string]marketdata.Series
	// Missing lists tickers no vendor could serve, sorted.
	Missing []string
}

// BuildPanel fetches monthly returns for every asset and proxy ticker in the
// portfolio through the bounded pool. Individual failures land in Missing.
func BuildPanel(ctx context.Context, store *marketdata.Store, portfolio *domain.CanonicalPortfolio, start, end time.Time, log zerolog.Logger) *Panel {
	tickers := make(map[string]bool)
	for _, key := range portfolio.NonCashSymbols() {
		pos := portfolio.Positions[key]
		tickers[pos.Symbol] = true
		for _, proxy := range proxyTickers(pos.Proxies) {
			tickers[proxy] = true
		}
	}

	symbols := make([]string, 0, len(tickers))
	for t := range tickers {
		symbols = append(symbols, t)
	}
	sort.Strings(symbols)

	results, failures := store.BulkMonthlyReturns(ctx, symbols, start, end)

	missing := make([]string, 0, len(failures))
	for sym := range failures {
		missing = append(missing, sym)
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		log.Warn().Strs("tickers", missing).Msg("Panel tickers without price series")
	}

	return &Panel{Returns: results, Missing: missing}
}

// proxyTickers flattens a proxy set into its ticker list.
func proxyTickers(p domain.FactorProxies) []string {
	var out []string
	if p.Market != "" {
		out = append(out, p.Market)
	}
	if p.Momentum != "" {
		out = append(out, p.Momentum)
	}
	if p.Value != "" {
		out = append(out, p.Value)
	}
	if p.Industry != "" {
		out = append(out, p.Industry)
	}
	out = append(out, p.Subindustry...)
	if p.Commodity != "" {
		out = append(out, p.Commodity)
	}
	if p.Rate != "" {
		out = append(out, p.Rate)
	}
	return out
}

// factorSeries resolves the return series for one factor column of one
// asset's proxy set. Subindustry composites average their component series
// over the common months. Returns a zero-length series when the factor is
// absent or its proxies have no data.
func (p *Panel) factorSeries(proxies domain.FactorProxies, column string) marketdata.Series {
	switch column {
	case ColMarket:
		return p.lookup(proxies.Market)
	case ColMomentum:
		return p.lookup(proxies.Momentum)
	case ColValue:
		return p.lookup(proxies.Value)
	case ColIndustry:
		return p.lookup(proxies.Industry)
	case ColSubindustry:
		return p.composite(proxies.Subindustry)
	case ColCommodity:
		return p.lookup(proxies.Commodity)
	case ColRate:
		return p.lookup(proxies.Rate)
	}
	return marketdata.Series{}
}

func (p *Panel) lookup(ticker string) marketdata.Series {
	if ticker == "" {
		return marketdata.Series{}
	}
	return p.Returns[ticker]
}

// composite equal-weights several series over their common months.
func (p *Panel) composite(tickers []string) marketdata.Series {
	var members []marketdata.Series
	for _, t := range tickers {
		if s, ok := p.Returns[t]; ok && s.Len() > 0 {
			members = append(members, s)
		}
	}
	if len(members) == 0 {
		return marketdata.Series{}
	}
	if len(members) == 1 {
		return members[0]
	}

	common := marketdata.IntersectDates(members...)
	out := marketdata.Series{
		Dates:  common,
		Values: make([]float64, len(common)),
	}
	for i, d := range common {
		var sum float64
		for _, m := range members {
			v, _ := m.At(d)
			sum += v
		}
		out.Values[i] = sum / float64(len(members))
	}
	if containsNaN(out.Values) {
		return marketdata.Series{}
	}
	return out
}

func containsNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
