package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/canonical"
	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/optimizer"
	"github.com/aristath/riskcore/internal/risk"
	"github.com/aristath/riskcore/internal/service"
	"github.com/aristath/riskcore/internal/trading"
)

// Deps are the subsystems the tool handlers call into.
type Deps struct {
	Service *service.Service
	Desk    *trading.Desk
	Baskets *baskets.Repository
	Catalog *contracts.Catalog
}

// DefaultRegistry assembles the full tool table.
func DefaultRegistry(deps Deps, log zerolog.Logger) *Registry {
	r := NewRegistry(log)
	t := &toolset{deps: deps, reg: r}

	r.Register("get_risk_analysis", t.riskAnalysis)
	r.Register("get_risk_score", t.riskScore)
	r.Register("get_performance", t.performance)
	r.Register("run_whatif", t.whatIf)
	r.Register("run_optimization", t.optimization)
	r.Register("get_factor_analysis", t.factorAnalysis)
	r.Register("get_factor_recommendations", t.factorRecommendations)
	r.Register("get_leverage_capacity", t.leverageCapacity)
	r.Register("check_exit_signals", t.exitSignals)
	r.Register("get_positions", t.positions)
	r.Register("get_risk_profile", t.getProfile)
	r.Register("set_risk_profile", t.setProfile)
	r.Register("get_target_allocations", t.targetAllocations)

	r.Register("list_baskets", t.listBaskets)
	r.Register("get_basket", t.getBasket)
	r.Register("create_basket", t.createBasket)
	r.Register("update_basket", t.updateBasket)
	r.Register("delete_basket", t.deleteBasket)
	r.Register("analyze_basket", t.analyzeBasket)

	r.Register("get_futures_months", t.futuresMonths)
	r.Register("get_futures_curve", t.futuresCurve)
	r.Register("preview_futures_roll", t.previewRoll)
	r.Register("execute_futures_roll", t.executeRoll)

	r.Register("preview_trade", t.previewTrade)
	r.Register("execute_trade", t.executeTrade)
	r.Register("preview_basket_trade", t.previewBasketTrade)
	r.Register("execute_basket_trade", t.executeBasketTrade)

	return r
}

type toolset struct {
	deps Deps
	reg  *Registry
}

func (t *toolset) riskAnalysis(ctx context.Context, req *Request) (*Result, error) {
	report, err := t.deps.Service.RiskAnalysis(ctx, req.UserID, req.String("segment", service.SegmentAll))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	res.Summary = map[string]interface{}{
		"volatility":   report.Decomposed.Volatility,
		"factor_pct":   report.Decomposed.FactorPct,
		"idio_pct":     report.Decomposed.IdioPct,
		"score":        report.Evaluation.Score.Composite,
		"leverage":     report.Leverage,
		"limits_total": len(report.Evaluation.Limits),
	}
	for _, flag := range report.Evaluation.Flags {
		res.Flags = append(res.Flags, flag.Type)
	}
	res.Snapshot = map[string]interface{}{
		"verdict":    scoreVerdict(report.Evaluation.Score.Composite),
		"volatility": pct(report.Decomposed.Volatility),
		"factor_pct": pct(report.Decomposed.FactorPct),
		"score":      round2(report.Evaluation.Score.Composite),
		"flags":      res.Flags,
	}
	return res, nil
}

func (t *toolset) riskScore(ctx context.Context, req *Request) (*Result, error) {
	report, err := t.deps.Service.RiskScore(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	res.Summary = map[string]interface{}{
		"composite": report.Score.Composite,
		"top_risks": report.TopRisks,
	}
	for _, flag := range report.Flags {
		res.Flags = append(res.Flags, flag.Type)
	}
	res.Snapshot = map[string]interface{}{
		"verdict":   scoreVerdict(report.Score.Composite),
		"score":     round2(report.Score.Composite),
		"top_risks": report.TopRisks,
	}
	return res, nil
}

func (t *toolset) performance(ctx context.Context, req *Request) (*Result, error) {
	mode := req.String("mode", service.ModeRealized)
	report, err := t.deps.Service.Performance(ctx, req.UserID, mode, req.Date("start_date"), req.Date("end_date"))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	switch {
	case report.Realized != nil:
		res.Summary = map[string]interface{}{
			"total_return":      report.Realized.Combined.TotalReturn,
			"annualized_return": report.Realized.Combined.AnnualizedReturn,
			"accounts":          len(report.Realized.Accounts),
		}
		res.Snapshot = map[string]interface{}{
			"verdict":    mode,
			"return":     pct(report.Realized.Combined.AnnualizedReturn),
			"volatility": pct(report.Realized.Combined.Volatility),
			"drawdown":   pct(report.Realized.Combined.MaxDrawdown),
		}
		for _, src := range report.Realized.Quality.ExcludedSources {
			res.Flags = append(res.Flags, "excluded_source:"+src)
		}
	case report.Hypothetical != nil:
		res.Summary = map[string]interface{}{
			"total_return":      report.Hypothetical.TotalReturn,
			"annualized_return": report.Hypothetical.AnnualizedReturn,
			"months":            report.Hypothetical.Months,
		}
		res.Snapshot = map[string]interface{}{
			"verdict":    mode,
			"return":     pct(report.Hypothetical.AnnualizedReturn),
			"volatility": pct(report.Hypothetical.Volatility),
		}
	}
	return res, nil
}

func (t *toolset) whatIf(ctx context.Context, req *Request) (*Result, error) {
	scenario := optimizer.Scenario{
		TargetWeights: req.FloatMap("target_weights"),
		DeltaChanges:  req.FloatMap("delta_changes"),
	}
	result, err := t.deps.Service.RunWhatIf(ctx, req.UserID, scenario)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), result)
	res.Summary = map[string]interface{}{
		"before_volatility": result.BeforeVolatility,
		"after_volatility":  result.AfterVolatility,
		"changes":           len(result.Changes),
	}
	for _, flag := range result.Flags {
		res.Flags = append(res.Flags, flag.Type)
	}
	res.Snapshot = map[string]interface{}{
		"verdict":    volatilityDelta(result.BeforeVolatility, result.AfterVolatility),
		"vol_before": pct(result.BeforeVolatility),
		"vol_after":  pct(result.AfterVolatility),
		"flags":      res.Flags,
	}
	return res, nil
}

func (t *toolset) optimization(ctx context.Context, req *Request) (*Result, error) {
	oreq := optimizer.Request{
		Objective:        optimizer.Objective(req.String("objective", string(optimizer.ObjectiveMinVariance))),
		ExpectedReturns:  req.FloatMap("expected_returns"),
		RiskPenalty:      req.Float("risk_penalty", 0),
		MaxSingleWeight:  req.Float("max_single_weight", 0),
		MaxLeverage:      req.Float("max_leverage", 0),
		ContributionCaps: req.FloatMap("contribution_caps"),
	}
	report, err := t.deps.Service.Optimize(ctx, req.UserID, oreq)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	res.Summary = map[string]interface{}{
		"verdict":     string(report.Result.Verdict),
		"volatility":  report.Result.Volatility,
		"l1_distance": report.Result.L1Distance,
		"changes":     len(report.Result.Changes),
	}
	res.Snapshot = map[string]interface{}{
		"verdict":    string(report.Result.Verdict),
		"volatility": pct(report.Result.Volatility),
		"l1":         round2(report.Result.L1Distance * 100),
	}
	return res, nil
}

func (t *toolset) factorAnalysis(ctx context.Context, req *Request) (*Result, error) {
	report, err := t.deps.Service.FactorAnalysis(ctx, req.UserID,
		req.String("analysis_type", service.AnalysisCorrelations),
		req.Bool("include_baskets", false),
		req.Date("start_date"), req.Date("end_date"))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	res.Summary = map[string]interface{}{
		"kind":    report.Kind,
		"missing": report.Missing,
	}
	for _, skipped := range report.Skipped {
		res.Flags = append(res.Flags, "basket_skipped:"+skipped)
	}
	res.Snapshot = map[string]interface{}{
		"verdict": report.Kind,
		"missing": len(report.Missing),
	}
	return res, nil
}

func (t *toolset) factorRecommendations(ctx context.Context, req *Request) (*Result, error) {
	report, err := t.deps.Service.FactorRecommendations(ctx, req.UserID,
		req.String("mode", service.RecommendSingle),
		req.String("overexposed_factor", ""),
		req.Bool("include_baskets", false))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	targets := make([]string, 0, len(report.Targets))
	for _, rec := range report.Targets {
		targets = append(targets, rec.Target)
	}
	res.Summary = map[string]interface{}{"targets": targets}
	res.Snapshot = map[string]interface{}{"verdict": "offsets", "targets": targets}
	return res, nil
}

func (t *toolset) leverageCapacity(ctx context.Context, req *Request) (*Result, error) {
	report, err := t.deps.Service.LeverageCapacity(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	res.Summary = map[string]interface{}{
		"current_leverage":   report.CurrentLeverage,
		"max_leverage":       report.MaxLeverage,
		"remaining_notional": report.RemainingNotional,
	}
	verdict := "has_headroom"
	if report.RemainingNotional <= 0 {
		verdict = "at_limit"
		res.Flags = append(res.Flags, "leverage_at_limit")
	}
	res.Snapshot = map[string]interface{}{
		"verdict":   verdict,
		"leverage":  round2(report.CurrentLeverage),
		"remaining": round2(report.RemainingNotional),
	}
	return res, nil
}

func (t *toolset) exitSignals(ctx context.Context, req *Request) (*Result, error) {
	report, err := t.deps.Service.ExitSignals(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), report)
	res.Summary = map[string]interface{}{
		"flagged": len(report.Symbols),
		"skipped": len(report.Skipped),
	}
	for _, sym := range report.Symbols {
		for _, sig := range sym.Signals {
			res.Flags = append(res.Flags, sym.Symbol+":"+sig.Type)
		}
	}
	verdict := "clear"
	if len(report.Symbols) > 0 {
		verdict = "review"
	}
	res.Snapshot = map[string]interface{}{
		"verdict": verdict,
		"flagged": len(report.Symbols),
		"signals": res.Flags,
	}
	return res, nil
}

func (t *toolset) positions(ctx context.Context, req *Request) (*Result, error) {
	scope := canonical.ScopeAllPortfolios
	if v := req.String("account", ""); v != "" {
		scope = canonical.Scope{Kind: canonical.ScopeAccount, Value: v}
	} else if v := req.String("institution", ""); v != "" {
		scope = canonical.Scope{Kind: canonical.ScopeInstitution, Value: v}
	} else if v := req.String("source", ""); v != "" {
		scope = canonical.Scope{Kind: canonical.ScopeProvider, Value: v}
	}

	portfolio, err := t.deps.Service.Positions(ctx, req.UserID, scope)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), portfolio)
	res.Summary = map[string]interface{}{
		"positions":    len(portfolio.Positions),
		"cash_balance": portfolio.CashBalance,
		"leverage":     portfolio.NotionalLeverage,
	}
	res.Snapshot = map[string]interface{}{
		"verdict":   "positions",
		"positions": len(portfolio.Positions),
		"leverage":  round2(portfolio.NotionalLeverage),
	}
	return res, nil
}

func (t *toolset) getProfile(_ context.Context, req *Request) (*Result, error) {
	profile, err := t.deps.Service.Profile(req.UserID)
	if err != nil {
		return nil, err
	}
	res := success(req, t.reg.now(), profile)
	res.Summary = map[string]interface{}{"template": profile.Template}
	res.Snapshot = map[string]interface{}{"verdict": profile.Template}
	return res, nil
}

func (t *toolset) targetAllocations(_ context.Context, req *Request) (*Result, error) {
	targets, err := t.deps.Service.TargetAllocations(req.UserID)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), targets)
	res.Summary = map[string]interface{}{"targets": len(targets)}
	verdict := "targets_set"
	if len(targets) == 0 {
		verdict = "no_targets"
	}
	res.Snapshot = map[string]interface{}{"verdict": verdict, "targets": len(targets)}
	return res, nil
}

func (t *toolset) setProfile(_ context.Context, req *Request) (*Result, error) {
	profile := risk.TemplateFor(req.String("template", "balanced"))
	profile.UserID = req.UserID
	for name, value := range req.FloatMap("overrides") {
		if err := applyProfileOverride(&profile, name, value); err != nil {
			return nil, err
		}
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := t.deps.Service.SetProfile(profile); err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), profile)
	res.Summary = map[string]interface{}{"template": profile.Template}
	res.Snapshot = map[string]interface{}{"verdict": "saved", "template": profile.Template}
	return res, nil
}

func applyProfileOverride(p *risk.Profile, name string, value float64) error {
	switch name {
	case "max_volatility":
		p.MaxVolatility = value
	case "max_loss":
		p.MaxLoss = value
	case "max_single_stock_weight":
		p.MaxSingleStockWeight = value
	case "max_factor_contribution":
		p.MaxFactorContribution = value
	case "max_market_contribution":
		p.MaxMarketContribution = value
	case "max_industry_contribution":
		p.MaxIndustryContribution = value
	case "max_single_factor_loss":
		p.MaxSingleFactorLoss = value
	case "max_leverage":
		p.MaxLeverage = value
	default:
		return domain.NewValidation("unknown risk limit %q", name)
	}
	return nil
}

func scoreVerdict(composite float64) string {
	switch {
	case composite >= 70:
		return "healthy"
	case composite >= 40:
		return "elevated"
	default:
		return "critical"
	}
}

func volatilityDelta(before, after float64) string {
	switch {
	case after < before:
		return "risk_reduced"
	case after > before:
		return "risk_increased"
	default:
		return "risk_unchanged"
	}
}

func fmtMonth(m string) string {
	if len(m) != 6 {
		return m
	}
	return fmt.Sprintf("%s-%s", m[:4], m[4:])
}
