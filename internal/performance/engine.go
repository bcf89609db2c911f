package performance

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

// DefaultSmallBaseNAV is the threshold below which an account is excluded
// from combined aggregation; tiny bases otherwise dominate the combined TWR.
const DefaultSmallBaseNAV = 500.0

// Engine reconstructs realized returns per account and aggregates them.
type Engine struct {
	store     *marketdata.Store
	riskFree  float64
	smallBase float64
	log       zerolog.Logger
}

// Options configures the performance engine.
type Options struct {
	RiskFreeRate float64 // annual
	SmallBaseNAV float64
}

// NewEngine creates a performance engine.
func NewEngine(store *marketdata.Store, opts Options, log zerolog.Logger) *Engine {
	smallBase := opts.SmallBaseNAV
	if smallBase <= 0 {
		smallBase = DefaultSmallBaseNAV
	}
	return &Engine{
		store:     store,
		riskFree:  opts.RiskFreeRate,
		smallBase: smallBase,
		log:       log.With().Str("component", "performance").Logger(),
	}
}

// AccountResult is one account's realized performance.
type AccountResult struct {
	AccountID string    `json:"account_id"`
	Inception time.Time `json:"inception"`
	Metrics   Metrics   `json:"metrics"`
	// IncludedFrom is the first day the account's NAV crossed the
	// small-base threshold; zero when it never did.
	IncludedFrom time.Time `json:"included_from,omitempty"`

	nav   marketdata.Series
	flows map[time.Time]DayFlows
}

// Result is the full realized-performance output.
type Result struct {
	Combined Metrics                   `json:"combined"`
	Accounts map[string]*AccountResult `json:"accounts"`
	Quality  domain.DataQuality        `json:"data_quality"`
}

// Realized computes per-account TWR from the ledger and aggregates the
// accounts whose base is credible. Never computes a single combined series
// straight from raw transactions; accounts are reconstructed separately and
// summed at the NAV level.
func (e *Engine) Realized(ctx context.Context, txs []domain.Transaction, flows []domain.FlowEvent, current []domain.Position, end time.Time, baseCurrency string) (*Result, error) {
	byAccountTx := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		byAccountTx[tx.AccountID] = append(byAccountTx[tx.AccountID], tx)
	}
	byAccountFlow := make(map[string][]domain.FlowEvent)
	for _, f := range flows {
		byAccountFlow[f.AccountID] = append(byAccountFlow[f.AccountID], f)
	}
	accounts := make(map[string]bool)
	for id := range byAccountTx {
		accounts[id] = true
	}
	for id := range byAccountFlow {
		accounts[id] = true
	}
	for _, p := range current {
		accounts[p.AccountID] = true
	}
	if len(accounts) == 0 {
		return nil, domain.NewValidation("no accounts present in ledger")
	}

	result := &Result{Accounts: make(map[string]*AccountResult)}
	result.Quality.AccountFingerprint = make(map[string]string)

	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var coverageStart time.Time
	for _, id := range ids {
		tl := buildTimeline(id, byAccountTx[id], byAccountFlow[id], current, end)
		result.Quality.SyntheticPositions += tl.Synthetic
		result.Quality.AccountFingerprint[id] = fingerprint(tl)

		nav, missing := e.dailyNAV(ctx, tl, end, baseCurrency)
		for _, m := range missing {
			result.Quality.MissingPrices = appendUnique(result.Quality.MissingPrices, m)
		}
		if nav.Len() < 2 {
			e.log.Warn().Str("account", id).Msg("Not enough NAV observations, skipping account")
			continue
		}

		daily := dailyReturns(nav, tl.Flows)
		monthly := chainMonthly(daily)

		acct := &AccountResult{
			AccountID: id,
			Inception: tl.Inception,
			Metrics:   computeMetrics(monthly, e.riskFree),
			nav:       nav,
			flows:     tl.Flows,
		}
		for i := 0; i < nav.Len(); i++ {
			if nav.Values[i] >= e.smallBase {
				acct.IncludedFrom = nav.Dates[i]
				break
			}
		}
		result.Accounts[id] = acct

		if coverageStart.IsZero() || tl.Inception.Before(coverageStart) {
			coverageStart = tl.Inception
		}
	}
	if len(result.Accounts) == 0 {
		return nil, domain.NewValidation("no account produced a usable NAV series")
	}

	sort.Strings(result.Quality.MissingPrices)
	result.Quality.CoverageStart = coverageStart.Format("2006-01-02")
	result.Quality.CoverageEnd = end.Format("2006-01-02")

	result.Combined = e.aggregate(result.Accounts)
	return result, nil
}

// dailyNAV walks business days from inception to end and values the
// account's holdings plus cash. Symbols with no price series at all are
// reported as missing and skipped; their value is never zero-filled into a
// return.
func (e *Engine) dailyNAV(ctx context.Context, tl *accountTimeline, end time.Time, baseCurrency string) (marketdata.Series, []string) {
	symbols := make(map[string]string) // symbol -> currency
	for _, ev := range tl.Events {
		symbols[ev.Key.Symbol] = ev.Key.Currency
	}

	prices := make(map[string]marketdata.Series, len(symbols))
	fx := make(map[string]marketdata.Series)
	var missing []string
	for symbol, currency := range symbols {
		s, err := e.store.DailyClose(ctx, symbol, tl.Inception.AddDate(0, 0, -7), end)
		if err != nil {
			missing = append(missing, symbol)
			continue
		}
		prices[symbol] = s

		if currency != "" && currency != baseCurrency {
			if _, done := fx[currency]; !done {
				rate, err := e.store.FXDaily(ctx, currency, baseCurrency, tl.Inception.AddDate(0, 0, -7), end)
				if err != nil {
					e.log.Warn().Str("currency", currency).Err(err).Msg("FX series unavailable, using parity")
					rate = marketdata.Series{}
				}
				fx[currency] = rate
			}
		}
	}

	nav := marketdata.Series{}
	for day := tl.Inception; !day.After(end); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		total := tl.cashOn(day)
		valid := true
		for key, qty := range tl.holdingsOn(day) {
			series, ok := prices[key.Symbol]
			if !ok {
				continue // recorded as missing
			}
			price, ok := series.AsOf(day)
			if !ok {
				valid = false
				break
			}
			value := qty * price
			if key.Currency != "" && key.Currency != baseCurrency {
				if rate, ok := fx[key.Currency].AsOf(day); ok {
					value *= rate
				}
			}
			total += value
		}
		if !valid {
			continue
		}
		nav.Dates = append(nav.Dates, day)
		nav.Values = append(nav.Values, total)
	}
	sort.Strings(missing)
	return nav, missing
}

// aggregate sums per-account NAV and flows into a combined series and
// computes TWR on it. An account enters the sum only after its NAV first
// crosses the small-base threshold.
func (e *Engine) aggregate(accounts map[string]*AccountResult) Metrics {
	type contribution struct {
		acct *AccountResult
	}
	var members []contribution
	for _, a := range accounts {
		if a.IncludedFrom.IsZero() {
			continue
		}
		members = append(members, contribution{acct: a})
	}
	if len(members) == 0 {
		return Metrics{}
	}
	if len(members) == 1 {
		return members[0].acct.Metrics
	}

	dateSet := make(map[time.Time]bool)
	for _, m := range members {
		for _, d := range m.acct.nav.Dates {
			if !d.Before(m.acct.IncludedFrom) {
				dateSet[d] = true
			}
		}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	combinedNAV := marketdata.Series{}
	combinedFlows := make(map[time.Time]DayFlows)
	for _, d := range dates {
		var total float64
		for _, m := range members {
			if d.Before(m.acct.IncludedFrom) {
				continue
			}
			if v, ok := m.acct.nav.AsOf(d); ok {
				total += v
			}
			f := m.acct.flows[d]
			cf := combinedFlows[d]
			cf.In += f.In
			cf.Out += f.Out
			combinedFlows[d] = cf
		}
		combinedNAV.Dates = append(combinedNAV.Dates, d)
		combinedNAV.Values = append(combinedNAV.Values, total)
	}

	daily := dailyReturns(combinedNAV, combinedFlows)
	return computeMetrics(chainMonthly(daily), e.riskFree)
}

// Hypothetical applies the portfolio's current weights backward over the
// window's monthly returns.
func (e *Engine) Hypothetical(ctx context.Context, portfolio *domain.CanonicalPortfolio, start, end time.Time) (Metrics, error) {
	weights := portfolio.Weights()
	if len(weights) == 0 {
		return Metrics{}, domain.NewValidation("portfolio has no weighted positions")
	}

	symbols := make([]string, 0, len(weights))
	symbolWeights := make(map[string]float64, len(weights))
	for key, w := range weights {
		pos := portfolio.Positions[key]
		symbols = append(symbols, pos.Symbol)
		symbolWeights[pos.Symbol] += w
	}
	sort.Strings(symbols)

	returns, failures := e.store.BulkMonthlyReturns(ctx, symbols, start, end)
	if len(returns) == 0 {
		return Metrics{}, domain.NewPriceUnavailable(fmt.Sprintf("%d symbols", len(failures)), nil)
	}

	// Inner join over available members, weights renormalized.
	var series []marketdata.Series
	var members []string
	var totalWeight float64
	for _, sym := range symbols {
		s, ok := returns[sym]
		if !ok || s.Len() == 0 {
			continue
		}
		if contains(members, sym) {
			continue
		}
		series = append(series, s)
		members = append(members, sym)
		totalWeight += symbolWeights[sym]
	}
	if totalWeight == 0 {
		return Metrics{}, domain.NewValidation("no usable return series for hypothetical performance")
	}

	dates := marketdata.IntersectDates(series...)
	monthly := marketdata.Series{
		Dates:  dates,
		Values: make([]float64, len(dates)),
	}
	for i, d := range dates {
		var sum float64
		for j, sym := range members {
			v, _ := series[j].At(d)
			sum += v * (symbolWeights[sym] / totalWeight)
		}
		monthly.Values[i] = sum
	}
	return computeMetrics(monthly, e.riskFree), nil
}

// fingerprint summarizes an account's reconstructed history for the data
// quality block.
func fingerprint(tl *accountTimeline) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d", tl.AccountID, tl.Inception.Format("2006-01-02"), len(tl.Events), len(tl.Flows))
	return fmt.Sprintf("%x", h.Sum64())
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func contains(list []string, v string) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}
