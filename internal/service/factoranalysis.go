package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/riskcore/internal/canonical"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/intelligence"
	"github.com/aristath/riskcore/internal/marketdata"
)

// Factor analysis kinds.
const (
	AnalysisCorrelations = "correlations"
	AnalysisPerformance  = "performance"
	AnalysisReturns      = "returns"
)

// Recommendation modes.
const (
	RecommendSingle    = "single"
	RecommendPortfolio = "portfolio"
)

// FactorAnalysisReport is one factor-panel analysis, optionally with the
// user's baskets overlaid as columns.
type FactorAnalysisReport struct {
	Kind              string                       `json:"kind"`
	Start             time.Time                    `json:"start"`
	End               time.Time                    `json:"end"`
	BasketFingerprint string                       `json:"basket_fingerprint,omitempty"`
	Missing           []string                     `json:"missing,omitempty"`
	Skipped           []string                     `json:"skipped,omitempty"`
	Correlations      *intelligence.Correlations   `json:"correlations,omitempty"`
	Performance       []intelligence.ProfileEntry  `json:"performance,omitempty"`
	Returns           map[string]marketdata.Series `json:"returns,omitempty"`
}

// FactorAnalysis builds the factor panel (overlaying baskets when asked)
// and runs the requested analysis over it. The cache key carries the basket
// fingerprint so basket edits invalidate matrices naturally.
func (s *Service) FactorAnalysis(ctx context.Context, userID, kind string, includeBaskets bool, start, end time.Time) (*FactorAnalysisReport, error) {
	switch kind {
	case AnalysisCorrelations, AnalysisPerformance, AnalysisReturns:
	default:
		return nil, domain.NewValidation("analysis_type must be correlations, performance, or returns, got %q", kind)
	}
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.AddDate(-s.cfg.AnalysisYears, 0, 0)
	}

	panel, overlay, err := s.buildPanel(ctx, userID, includeBaskets, start, end)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"kind":  kind,
		"user":  userID,
		"start": start.Format("2006-01-02"),
		"end":   end.Format("2006-01-02"),
	}
	fingerprint := ""
	if overlay != nil {
		fingerprint = overlay.Fingerprint
	}
	key := CacheKey("get_factor_analysis", fingerprint, params, s.cfg.DataVersion)
	var cached FactorAnalysisReport
	if s.cfg.Cache.Get(key, &cached) {
		return &cached, nil
	}

	report := &FactorAnalysisReport{
		Kind:              kind,
		Start:             start,
		End:               end,
		BasketFingerprint: fingerprint,
		Missing:           panel.Missing,
	}
	if overlay != nil {
		report.Skipped = overlay.Skipped
	}

	switch kind {
	case AnalysisCorrelations:
		report.Correlations = s.cfg.Intelligence.Correlations(panel)
	case AnalysisPerformance:
		report.Performance = s.cfg.Intelligence.PerformanceProfile(panel)
	case AnalysisReturns:
		report.Returns = make(map[string]marketdata.Series, len(panel.Columns))
		for _, col := range panel.Columns {
			report.Returns[col.Name] = col.Series
		}
	}

	s.cfg.Cache.Put(key, userID, report)
	return report, nil
}

// RecommendationReport lists hedge candidates per overexposed factor.
type RecommendationReport struct {
	Mode    string                               `json:"mode"`
	Targets []*intelligence.OffsetRecommendation `json:"targets"`
}

// FactorRecommendations suggests offsets either for one named factor or
// for the portfolio's largest absolute factor exposure.
func (s *Service) FactorRecommendations(ctx context.Context, userID, mode, overexposedFactor string, includeBaskets bool) (*RecommendationReport, error) {
	start, end := s.analysisWindow()
	panel, _, err := s.buildPanel(ctx, userID, includeBaskets, start, end)
	if err != nil {
		return nil, err
	}

	report := &RecommendationReport{Mode: mode}
	switch mode {
	case RecommendSingle:
		rec, err := s.cfg.Intelligence.Offsets(panel, overexposedFactor, 0)
		if err != nil {
			return nil, err
		}
		report.Targets = append(report.Targets, rec)
	case RecommendPortfolio:
		run, err := s.BuildRun(ctx, userID, canonical.ScopeAllPortfolios)
		if err != nil {
			return nil, err
		}
		dec, err := s.cfg.Factors.Decompose(ctx, run.Portfolio, start, end)
		if err != nil {
			return nil, err
		}
		target := dominantFactor(dec.PortfolioBetas, panel)
		if target == "" {
			return nil, domain.NewValidation("portfolio has no factor exposure to offset")
		}
		rec, err := s.cfg.Intelligence.Offsets(panel, target, 0)
		if err != nil {
			return nil, err
		}
		report.Targets = append(report.Targets, rec)
	default:
		return nil, domain.NewValidation("mode must be single or portfolio, got %q", mode)
	}
	return report, nil
}

// BasketAnalysis is one basket's standing against the factor panel.
type BasketAnalysis struct {
	Basket       string                     `json:"basket"`
	Profile      *intelligence.ProfileEntry `json:"profile,omitempty"`
	Correlations map[string]float64         `json:"factor_correlations,omitempty"`
	Offsets      []intelligence.Hedge       `json:"offsets,omitempty"`
}

// AnalyzeBasket overlays one basket on the factor panel and reports its
// performance profile, factor correlations, and hedge candidates.
func (s *Service) AnalyzeBasket(ctx context.Context, userID, name string) (*BasketAnalysis, error) {
	basket, err := s.cfg.Baskets.Get(userID, name)
	if err != nil {
		return nil, err
	}
	start, end := s.analysisWindow()
	panel, overlay, err := s.buildPanel(ctx, userID, true, start, end)
	if err != nil {
		return nil, err
	}
	col, ok := panel.Find(basket.Name)
	if !ok {
		reason := "no component series available"
		if overlay != nil && len(overlay.Skipped) > 0 {
			reason = overlay.Skipped[0]
		}
		return nil, domain.NewPriceUnavailable(basket.Name, fmt.Errorf("%s", reason))
	}

	out := &BasketAnalysis{Basket: basket.Name, Correlations: make(map[string]float64)}
	for _, entry := range s.cfg.Intelligence.PerformanceProfile(panel) {
		if entry.Column == col.Name {
			e := entry
			out.Profile = &e
			break
		}
	}
	corr := s.cfg.Intelligence.Correlations(panel)
	if corr.BasketOverlay != nil {
		for i, row := range corr.BasketOverlay.Rows {
			if row != col.Name {
				continue
			}
			for j, factorCol := range corr.BasketOverlay.Columns {
				out.Correlations[factorCol] = corr.BasketOverlay.Matrix[i][j]
			}
		}
	}
	if rec, err := s.cfg.Intelligence.Offsets(panel, col.Name, 0); err == nil {
		out.Offsets = rec.Hedges
	}
	return out, nil
}

func (s *Service) buildPanel(ctx context.Context, userID string, includeBaskets bool, start, end time.Time) (*intelligence.Panel, *intelligence.OverlayResult, error) {
	panel, err := s.cfg.Intelligence.BuildPanel(ctx, start, end)
	if err != nil {
		return nil, nil, err
	}
	if !includeBaskets {
		return panel, nil, nil
	}
	overlay, err := s.cfg.Intelligence.OverlayBaskets(ctx, panel, userID, start, end, nil)
	if err != nil {
		return nil, nil, err
	}
	return overlay.Panel, overlay, nil
}

// dominantFactor picks the largest absolute portfolio beta that exists as
// a panel column.
func dominantFactor(betas map[string]float64, panel *intelligence.Panel) string {
	var best string
	var bestAbs float64
	for col, beta := range betas {
		if _, ok := panel.Find(col); !ok {
			continue
		}
		if a := math.Abs(beta); a > bestAbs {
			best, bestAbs = col, a
		}
	}
	return best
}
