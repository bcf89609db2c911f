// Package service orchestrates provider ingestion, canonicalization, and
// the analytical engines behind the tool surface, with result caching keyed
// by portfolio fingerprint.
package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/canonical"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
	"github.com/aristath/riskcore/internal/intelligence"
	"github.com/aristath/riskcore/internal/marketdata"
	"github.com/aristath/riskcore/internal/optimizer"
	"github.com/aristath/riskcore/internal/performance"
	"github.com/aristath/riskcore/internal/providers"
	"github.com/aristath/riskcore/internal/risk"
	"github.com/aristath/riskcore/internal/trading"
)

// Defaults for the analysis and transaction-history windows.
const (
	DefaultAnalysisYears  = 3
	DefaultTxHistoryYears = 10
)

// Portfolio segments for risk analysis.
const (
	SegmentAll      = "all"
	SegmentEquities = "equities"
	SegmentFutures  = "futures"
)

// Config wires the engines into a Service.
type Config struct {
	Registry      *providers.Registry
	Canonicalizer *canonical.Canonicalizer
	Store         *marketdata.Store
	Factors       *factor.Engine
	Evaluator     *risk.Evaluator
	Profiles      *risk.Repository
	Performance   *performance.Engine
	Solver        *optimizer.Solver
	WhatIf        *optimizer.WhatIf
	Intelligence  *intelligence.Engine
	Desk          *trading.Desk
	Baskets       *baskets.Repository
	Cache         *ResultCache
	Targets       *risk.TargetRepository // optional; nil disables target persistence

	// DataVersion participates in every cache key; bump it when upstream
	// data semantics change.
	DataVersion    string
	AnalysisYears  int
	TxHistoryYears int
	BaseCurrency   string
}

// Service is the orchestration layer. All I/O completes before any
// numerical stage begins; engines receive a consistent snapshot.
type Service struct {
	cfg Config
	now func() time.Time
	log zerolog.Logger
}

// New creates the service.
func New(cfg Config, log zerolog.Logger) *Service {
	if cfg.AnalysisYears <= 0 {
		cfg.AnalysisYears = DefaultAnalysisYears
	}
	if cfg.TxHistoryYears <= 0 {
		cfg.TxHistoryYears = DefaultTxHistoryYears
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	return &Service{
		cfg: cfg,
		now: time.Now,
		log: log.With().Str("component", "service").Logger(),
	}
}

// Run is one ingestion pass: the canonical portfolio plus the raw fetch
// results the performance engine consumes.
type Run struct {
	Portfolio   *domain.CanonicalPortfolio
	Fetch       providers.FetchResult
	Fingerprint string
}

// BuildRun fans out provider fetches, canonicalizes, and fingerprints the
// result. Failed providers become excluded sources, not errors.
func (s *Service) BuildRun(ctx context.Context, userID string, scope canonical.Scope) (*Run, error) {
	asOf := s.now()
	txStart := asOf.AddDate(-s.cfg.TxHistoryYears, 0, 0)

	fetch := s.cfg.Registry.FetchAll(ctx, asOf, txStart, asOf)
	portfolio, err := s.cfg.Canonicalizer.Build(userID, asOf, fetch.Positions, scope, fetch.ExcludedSources)
	if err != nil {
		return nil, err
	}
	return &Run{
		Portfolio:   portfolio,
		Fetch:       fetch,
		Fingerprint: Fingerprint(portfolio),
	}, nil
}

// Fingerprint hashes the canonical portfolio's holdings so cache keys
// change whenever the portfolio does. The as-of timestamp is truncated to
// the day; intra-day re-runs over unchanged holdings share entries.
func Fingerprint(p *domain.CanonicalPortfolio) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%.2f|%.6f", p.UserID, p.AsOf.Format("2006-01-02"), p.CashBalance, p.NotionalLeverage)

	keys := make([]string, 0, len(p.Positions))
	for key := range p.Positions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pos := p.Positions[key]
		fmt.Fprintf(h, "|%s|%.6f|%.8f", key, pos.Quantity, pos.Weight)
	}
	for _, src := range p.Quality.ExcludedSources {
		fmt.Fprintf(h, "|x:%s", src)
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) analysisWindow() (time.Time, time.Time) {
	end := s.now()
	return end.AddDate(-s.cfg.AnalysisYears, 0, 0), end
}

// RiskReport bundles the decomposition and limit evaluation for a segment.
type RiskReport struct {
	Fingerprint string                `json:"portfolio_fingerprint"`
	AsOf        time.Time             `json:"as_of"`
	Segment     string                `json:"segment"`
	Leverage    float64               `json:"notional_leverage"`
	Decomposed  *factor.Decomposition `json:"decomposition"`
	Evaluation  *risk.Evaluation      `json:"evaluation"`
	Quality     domain.DataQuality    `json:"data_quality"`
}

// RiskAnalysis decomposes the (optionally segmented) portfolio and checks
// it against the user's risk profile. Results are cached.
func (s *Service) RiskAnalysis(ctx context.Context, userID, segment string) (*RiskReport, error) {
	run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
	if err != nil {
		return nil, err
	}
	portfolio, err := segmentPortfolio(run.Portfolio, segment)
	if err != nil {
		return nil, err
	}

	key := CacheKey("get_risk_analysis", run.Fingerprint, map[string]string{"segment": segment}, s.cfg.DataVersion)
	var cached RiskReport
	if s.cfg.Cache.Get(key, &cached) {
		return &cached, nil
	}

	profile, err := s.cfg.Profiles.Get(userID)
	if err != nil {
		return nil, err
	}
	start, end := s.analysisWindow()
	dec, err := s.cfg.Factors.Decompose(ctx, portfolio, start, end)
	if err != nil {
		return nil, err
	}

	report := &RiskReport{
		Fingerprint: run.Fingerprint,
		AsOf:        portfolio.AsOf,
		Segment:     segment,
		Leverage:    portfolio.NotionalLeverage,
		Decomposed:  dec,
		Evaluation:  s.cfg.Evaluator.Evaluate(portfolio, dec, profile),
		Quality:     portfolio.Quality,
	}
	s.cfg.Cache.Put(key, userID, report)
	return report, nil
}

// ScoreReport is the composite score plus its drivers.
type ScoreReport struct {
	Fingerprint string      `json:"portfolio_fingerprint"`
	Score       risk.Score  `json:"score"`
	TopRisks    []string    `json:"top_risks,omitempty"`
	Flags       []risk.Flag `json:"flags,omitempty"`
}

// RiskScore returns the composite risk score for the whole portfolio.
func (s *Service) RiskScore(ctx context.Context, userID string) (*ScoreReport, error) {
	report, err := s.RiskAnalysis(ctx, userID, SegmentAll)
	if err != nil {
		return nil, err
	}
	return &ScoreReport{
		Fingerprint: report.Fingerprint,
		Score:       report.Evaluation.Score,
		TopRisks:    report.Evaluation.TopRisks,
		Flags:       report.Evaluation.Flags,
	}, nil
}

// Performance modes.
const (
	ModeRealized     = "realized"
	ModeHypothetical = "hypothetical"
)

// PerformanceReport is either a full realized result or a single
// hypothetical metrics block.
type PerformanceReport struct {
	Mode         string               `json:"mode"`
	Realized     *performance.Result  `json:"realized,omitempty"`
	Hypothetical *performance.Metrics `json:"hypothetical,omitempty"`
}

// Performance computes realized (ledger-based) or hypothetical
// (current-weights-backward) performance over the window.
func (s *Service) Performance(ctx context.Context, userID, mode string, start, end time.Time) (*PerformanceReport, error) {
	run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.AddDate(-s.cfg.AnalysisYears, 0, 0)
	}

	params := map[string]string{
		"mode":  mode,
		"start": start.Format("2006-01-02"),
		"end":   end.Format("2006-01-02"),
	}
	key := CacheKey("get_performance", run.Fingerprint, params, s.cfg.DataVersion)
	var cached PerformanceReport
	if s.cfg.Cache.Get(key, &cached) {
		return &cached, nil
	}

	report := &PerformanceReport{Mode: mode}
	switch mode {
	case ModeRealized:
		result, err := s.cfg.Performance.Realized(ctx, run.Fetch.Transactions, run.Fetch.Flows, run.Fetch.Positions, end, s.cfg.BaseCurrency)
		if err != nil {
			return nil, err
		}
		report.Realized = result
	case ModeHypothetical:
		metrics, err := s.cfg.Performance.Hypothetical(ctx, run.Portfolio, start, end)
		if err != nil {
			return nil, err
		}
		report.Hypothetical = &metrics
	default:
		return nil, domain.NewValidation("mode must be realized or hypothetical, got %q", mode)
	}

	s.cfg.Cache.Put(key, userID, report)
	return report, nil
}

// OptimizationReport pairs the solver output with the input fingerprint.
type OptimizationReport struct {
	Fingerprint string            `json:"portfolio_fingerprint"`
	Result      *optimizer.Result `json:"result"`
}

// Optimize runs the constrained mean-variance solver against the current
// decomposition.
func (s *Service) Optimize(ctx context.Context, userID string, req optimizer.Request) (*OptimizationReport, error) {
	run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
	if err != nil {
		return nil, err
	}

	key := CacheKey("run_optimization", run.Fingerprint, req, s.cfg.DataVersion)
	var cached OptimizationReport
	if s.cfg.Cache.Get(key, &cached) {
		return &cached, nil
	}

	start, end := s.analysisWindow()
	dec, err := s.cfg.Factors.Decompose(ctx, run.Portfolio, start, end)
	if err != nil {
		return nil, err
	}
	result, err := s.cfg.Solver.Optimize(run.Portfolio, dec, req)
	if err != nil {
		return nil, err
	}

	report := &OptimizationReport{Fingerprint: run.Fingerprint, Result: result}

	// A compliant solution becomes the user's standing target allocation.
	if s.cfg.Targets != nil && result.Verdict != optimizer.VerdictHasViolations {
		if err := s.cfg.Targets.Replace(userID, result.Weights); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to persist target allocations")
		}
	}

	s.cfg.Cache.Put(key, userID, report)
	return report, nil
}

// TargetAllocations returns the user's persisted targets, the accepted
// weights of the most recent compliant optimization. Empty when targets
// were never persisted.
func (s *Service) TargetAllocations(userID string) ([]risk.TargetAllocation, error) {
	if s.cfg.Targets == nil {
		return nil, nil
	}
	return s.cfg.Targets.Get(userID)
}

// RunWhatIf evaluates a scenario against the user's risk profile. Scenario
// results are not cached; the request itself is the interesting variable.
func (s *Service) RunWhatIf(ctx context.Context, userID string, scenario optimizer.Scenario) (*optimizer.ScenarioResult, error) {
	run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
	if err != nil {
		return nil, err
	}
	profile, err := s.cfg.Profiles.Get(userID)
	if err != nil {
		return nil, err
	}
	start, end := s.analysisWindow()
	return s.cfg.WhatIf.Run(ctx, run.Portfolio, profile, scenario, start, end)
}

// LeverageReport is the remaining notional headroom under the profile cap.
type LeverageReport struct {
	MaxLeverage       float64 `json:"max_leverage"`
	CurrentLeverage   float64 `json:"current_leverage"`
	MarginTotal       float64 `json:"margin_total"`
	GrossNotional     float64 `json:"gross_notional"`
	RemainingNotional float64 `json:"remaining_notional"`
}

// LeverageCapacity reports how much more notional exposure fits under the
// profile's max_leverage at the current NAV.
func (s *Service) LeverageCapacity(ctx context.Context, userID string) (*LeverageReport, error) {
	run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
	if err != nil {
		return nil, err
	}
	profile, err := s.cfg.Profiles.Get(userID)
	if err != nil {
		return nil, err
	}

	p := run.Portfolio
	remaining := profile.MaxLeverage*p.MarginTotal - p.GrossNotional
	if remaining < 0 {
		remaining = 0
	}
	return &LeverageReport{
		MaxLeverage:       profile.MaxLeverage,
		CurrentLeverage:   p.NotionalLeverage,
		MarginTotal:       p.MarginTotal,
		GrossNotional:     p.GrossNotional,
		RemainingNotional: remaining,
	}, nil
}

// ExitSignals scans the current portfolio's positions for technical exits.
func (s *Service) ExitSignals(ctx context.Context, userID string) (*trading.ExitSignalReport, error) {
	run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
	if err != nil {
		return nil, err
	}
	return s.cfg.Desk.CheckExitSignals(ctx, run.Portfolio)
}

// Positions returns the canonical portfolio for display.
func (s *Service) Positions(ctx context.Context, userID string, scope canonical.Scope) (*domain.CanonicalPortfolio, error) {
	run, err := s.BuildRun(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	return run.Portfolio, nil
}

// Profile returns the user's risk profile (balanced default when unset).
func (s *Service) Profile(userID string) (risk.Profile, error) {
	return s.cfg.Profiles.Get(userID)
}

// SetProfile saves the profile and invalidates the user's cached results.
func (s *Service) SetProfile(p risk.Profile) error {
	if err := s.cfg.Profiles.Save(p); err != nil {
		return err
	}
	s.invalidate(p.UserID)
	return nil
}

// CreateBasket persists a basket and invalidates the user's cache scope.
func (s *Service) CreateBasket(b *baskets.Basket) error {
	if err := s.cfg.Baskets.Create(b); err != nil {
		return err
	}
	s.invalidate(b.UserID)
	return nil
}

// UpdateBasket updates a basket and invalidates the user's cache scope.
func (s *Service) UpdateBasket(b *baskets.Basket) error {
	if err := s.cfg.Baskets.Update(b); err != nil {
		return err
	}
	s.invalidate(b.UserID)
	return nil
}

// DeleteBasket deletes a basket and invalidates the user's cache scope.
func (s *Service) DeleteBasket(userID, name string) error {
	if err := s.cfg.Baskets.Delete(userID, name); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) invalidate(userID string) {
	if n, err := s.cfg.Cache.InvalidateUser(userID); err != nil {
		s.log.Warn().Str("user", userID).Err(err).Msg("Cache invalidation failed")
	} else if n > 0 {
		s.log.Debug().Str("user", userID).Int64("entries", n).Msg("Invalidated cached results")
	}
}

// segmentPortfolio narrows the portfolio to one instrument segment and
// renormalizes weights over the remaining non-cash gross notional.
func segmentPortfolio(p *domain.CanonicalPortfolio, segment string) (*domain.CanonicalPortfolio, error) {
	switch strings.ToLower(segment) {
	case "", SegmentAll:
		return p, nil
	case SegmentEquities, SegmentFutures:
	default:
		return nil, domain.NewValidation("segment must be all, equities, or futures, got %q", segment)
	}
	futuresOnly := strings.EqualFold(segment, SegmentFutures)

	out := *p
	out.Positions = make(map[string]domain.CanonicalPosition, len(p.Positions))
	var gross float64
	for key, pos := range p.Positions {
		if pos.Type == domain.InstrumentCash {
			out.Positions[key] = pos
			continue
		}
		if (pos.Type == domain.InstrumentFutures) != futuresOnly {
			continue
		}
		out.Positions[key] = pos
		gross += abs(pos.NotionalValue)
	}
	if gross <= 0 {
		return nil, domain.NewValidation("portfolio has no %s positions", segment)
	}
	for key, pos := range out.Positions {
		if pos.Type == domain.InstrumentCash {
			continue
		}
		pos.Weight = pos.NotionalValue / gross
		out.Positions[key] = pos
	}
	out.GrossNotional = gross
	if out.MarginTotal > 0 {
		out.NotionalLeverage = gross / out.MarginTotal
	}
	return &out, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
