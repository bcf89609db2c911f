package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
)

// Severity orders flags; errors sort before warnings before info.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

var severityRank = map[Severity]int{SeverityError: 0, SeverityWarning: 1, SeverityInfo: 2}

// Flag is one evaluated condition worth surfacing.
type Flag struct {
	Severity Severity               `json:"severity"`
	Type     string                 `json:"type"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// LimitResult is the pass/fail outcome of one limit check.
type LimitResult struct {
	Name     string  `json:"name"`
	Limit    float64 `json:"limit"`
	Measured float64 `json:"measured"`
	Ratio    float64 `json:"ratio"`
	Pass     bool    `json:"pass"`
}

// Evaluation is the full risk verdict for one portfolio snapshot.
type Evaluation struct {
	Limits []LimitResult `json:"limits"`
	Flags  []Flag        `json:"flags"`
	Score  Score         `json:"score"`
	// TopRisks names the worst limit ratios, descending.
	TopRisks []string `json:"top_risks,omitempty"`
}

// Evaluator checks decompositions against profiles. Stateless; every method
// is deterministic in its inputs.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log.With().Str("component", "risk").Logger()}
}

// warnRatio is the fraction of a limit at which a warning flag fires.
const warnRatio = 0.8

// Evaluate produces the limit results, ordered flags, and composite score.
func (e *Evaluator) Evaluate(portfolio *domain.CanonicalPortfolio, dec *factor.Decomposition, profile Profile) *Evaluation {
	out := &Evaluation{}

	maxWeight, maxWeightSymbol := largestPosition(portfolio)
	marketShare := factorVarianceShare(dec, factor.ColMarket)
	industryShare := factorVarianceShare(dec, factor.ColIndustry) + factorVarianceShare(dec, factor.ColSubindustry)
	worstFactorLoss, worstFactor := worstSingleFactorLoss(dec)

	checks := []struct {
		name     string
		measured float64
		limit    float64
		details  map[string]interface{}
	}{
		{"single_stock", maxWeight, profile.MaxSingleStockWeight, map[string]interface{}{"symbol": maxWeightSymbol}},
		{"volatility", dec.Volatility, profile.MaxVolatility, nil},
		{"max_loss", estimatedMaxLoss(dec), profile.MaxLoss, nil},
		{"factor_contribution", dec.FactorPct, profile.MaxFactorContribution, nil},
		{"market_contribution", marketShare, profile.MaxMarketContribution, nil},
		{"industry_contribution", industryShare, profile.MaxIndustryContribution, nil},
		{"single_factor_loss", worstFactorLoss, profile.MaxSingleFactorLoss, map[string]interface{}{"factor": worstFactor}},
		{"leverage", portfolio.NotionalLeverage, profile.MaxLeverage, nil},
	}

	for _, check := range checks {
		out.addLimit(check.name, check.measured, check.limit, check.details)
	}
	for _, col := range sortedCapFactors(profile.FactorBetaCaps) {
		cap := profile.FactorBetaCaps[col]
		out.addLimit("beta_cap_"+col, math.Abs(dec.PortfolioBetas[col]), cap, nil)
	}

	if n := len(dec.InsufficientHistory); n > 0 {
		out.Flags = append(out.Flags, Flag{
			Severity: SeverityInfo,
			Type:     "insufficient_history",
			Message:  fmt.Sprintf("%d positions lack regression history and carry idiosyncratic risk only", n),
			Details:  map[string]interface{}{"symbols": dec.InsufficientHistory},
		})
	}
	if n := len(dec.MissingPrices); n > 0 {
		out.Flags = append(out.Flags, Flag{
			Severity: SeverityWarning,
			Type:     "missing_prices",
			Message:  fmt.Sprintf("%d tickers had no usable price series", n),
			Details:  map[string]interface{}{"symbols": dec.MissingPrices},
		})
	}

	sortFlags(out.Flags)

	out.Score = composeScore(
		scoreFromRatio(ratio(maxWeight, profile.MaxSingleStockWeight)),
		scoreFromRatio(ratio(dec.Volatility, profile.MaxVolatility)),
		scoreFromRatio(ratio(dec.FactorPct, profile.MaxFactorContribution)),
		scoreFromRatio(ratio(industryShare, profile.MaxIndustryContribution)),
	)
	out.TopRisks = topRisks(out.Limits, 3)
	return out
}

func (ev *Evaluation) addLimit(name string, measured, limit float64, details map[string]interface{}) {
	r := ratio(measured, limit)
	result := LimitResult{
		Name:     name,
		Limit:    limit,
		Measured: measured,
		Ratio:    r,
		Pass:     r <= 1,
	}
	ev.Limits = append(ev.Limits, result)

	switch {
	case r > 1:
		ev.Flags = append(ev.Flags, Flag{
			Severity: SeverityError,
			Type:     name,
			Message:  fmt.Sprintf("%s at %.1f%% of limit", name, r*100),
			Details:  withRatio(details, measured, limit),
		})
	case r > warnRatio:
		ev.Flags = append(ev.Flags, Flag{
			Severity: SeverityWarning,
			Type:     name,
			Message:  fmt.Sprintf("%s approaching limit (%.1f%%)", name, r*100),
			Details:  withRatio(details, measured, limit),
		})
	}
}

func withRatio(details map[string]interface{}, measured, limit float64) map[string]interface{} {
	if details == nil {
		details = make(map[string]interface{}, 2)
	}
	details["measured"] = measured
	details["limit"] = limit
	return details
}

// sortFlags orders lexicographically on (severity desc, type) so output
// diffs are stable.
func sortFlags(flags []Flag) {
	sort.SliceStable(flags, func(i, j int) bool {
		if severityRank[flags[i].Severity] != severityRank[flags[j].Severity] {
			return severityRank[flags[i].Severity] < severityRank[flags[j].Severity]
		}
		return flags[i].Type < flags[j].Type
	})
}

func ratio(measured, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return measured / limit
}

// largestPosition returns the heaviest single-name equity weight.
// Diversified funds are not a single-stock concentration and are exempt
// from the single_stock check.
func largestPosition(portfolio *domain.CanonicalPortfolio) (float64, string) {
	var maxWeight float64
	var symbol string
	for _, key := range portfolio.NonCashSymbols() {
		pos := portfolio.Positions[key]
		if pos.Type != domain.InstrumentEquity {
			continue
		}
		if w := math.Abs(pos.Weight); w > maxWeight {
			maxWeight = w
			symbol = pos.Symbol
		}
	}
	return maxWeight, symbol
}

// factorVarianceShare is one factor column's share of total portfolio
// variance.
func factorVarianceShare(dec *factor.Decomposition, column string) float64 {
	if dec.VarPortfolio <= 0 {
		return 0
	}
	beta := dec.PortfolioBetas[column]
	vol := dec.FactorVols[column]
	return beta * beta * vol * vol / dec.VarPortfolio
}

// worstSingleFactorLoss is the largest |beta_k| * sigma_k across factors:
// the annualized one-sigma loss from a single factor move.
func worstSingleFactorLoss(dec *factor.Decomposition) (float64, string) {
	var worst float64
	var name string
	for col, beta := range dec.PortfolioBetas {
		loss := math.Abs(beta) * dec.FactorVols[col]
		if loss > worst {
			worst = loss
			name = col
		}
	}
	return worst, name
}

// estimatedMaxLoss approximates a bad-year outcome as a two-sigma annual
// move.
func estimatedMaxLoss(dec *factor.Decomposition) float64 {
	return 2 * dec.Volatility
}

func sortedCapFactors(caps map[string]float64) []string {
	out := make([]string, 0, len(caps))
	for col := range caps {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

func topRisks(limits []LimitResult, n int) []string {
	sorted := make([]LimitResult, len(limits))
	copy(sorted, limits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ratio > sorted[j].Ratio })

	var out []string
	for _, l := range sorted {
		if len(out) == n || l.Ratio <= 0 {
			break
		}
		out = append(out, l.Name)
	}
	return out
}
