package optimizer

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
	"github.com/aristath/riskcore/internal/risk"
)

// Scenario describes a hypothetical reallocation. Exactly one of
// TargetWeights (absolute) or DeltaChanges (additive) must be set; both are
// keyed by instrument key.
type Scenario struct {
	TargetWeights map[string]float64 `json:"target_weights,omitempty"`
	DeltaChanges  map[string]float64 `json:"delta_changes,omitempty"`
}

// ComplianceDelta is one limit's movement between the current and scenario
// portfolios.
type ComplianceDelta struct {
	Name       string  `json:"name"`
	Before     float64 `json:"before"`
	After      float64 `json:"after"`
	BeforePass bool    `json:"before_pass"`
	AfterPass  bool    `json:"after_pass"`
}

// ScenarioResult is the before/after view of a what-if run. Nothing here is
// persisted.
type ScenarioResult struct {
	Before           *risk.Evaluation  `json:"before"`
	After            *risk.Evaluation  `json:"after"`
	BeforeVolatility float64           `json:"before_volatility"`
	AfterVolatility  float64           `json:"after_volatility"`
	Changes          []WeightChange    `json:"changes"`
	ComplianceDeltas []ComplianceDelta `json:"compliance_deltas"`
	Flags            []risk.Flag       `json:"flags"`
}

// WhatIf re-runs the factor decomposition and risk evaluation on a modified
// copy of the portfolio.
type WhatIf struct {
	factors   *factor.Engine
	evaluator *risk.Evaluator
	log       zerolog.Logger
}

// NewWhatIf creates a what-if runner.
func NewWhatIf(factors *factor.Engine, evaluator *risk.Evaluator, log zerolog.Logger) *WhatIf {
	return &WhatIf{
		factors:   factors,
		evaluator: evaluator,
		log:       log.With().Str("component", "whatif").Logger(),
	}
}

// Run evaluates the scenario over the analysis window.
func (w *WhatIf) Run(ctx context.Context, portfolio *domain.CanonicalPortfolio, profile risk.Profile, scenario Scenario, start, end time.Time) (*ScenarioResult, error) {
	modified, err := applyScenario(portfolio, scenario)
	if err != nil {
		return nil, err
	}

	beforeDec, err := w.factors.Decompose(ctx, portfolio, start, end)
	if err != nil {
		return nil, err
	}
	afterDec, err := w.factors.Decompose(ctx, modified, start, end)
	if err != nil {
		return nil, err
	}

	out := &ScenarioResult{
		Before:           w.evaluator.Evaluate(portfolio, beforeDec, profile),
		After:            w.evaluator.Evaluate(modified, afterDec, profile),
		BeforeVolatility: beforeDec.Volatility,
		AfterVolatility:  afterDec.Volatility,
	}
	out.Flags = out.After.Flags
	out.Changes = scenarioChanges(portfolio, modified)
	out.ComplianceDeltas = complianceDeltas(out.Before, out.After)
	return out, nil
}

// applyScenario builds the modified portfolio: apply the requested weights,
// then re-normalize over non-cash so gross weights sum to one.
func applyScenario(portfolio *domain.CanonicalPortfolio, scenario Scenario) (*domain.CanonicalPortfolio, error) {
	hasTarget := len(scenario.TargetWeights) > 0
	hasDelta := len(scenario.DeltaChanges) > 0
	if hasTarget == hasDelta {
		return nil, domain.NewValidation("scenario requires exactly one of target_weights or delta_changes")
	}

	requested := scenario.TargetWeights
	if hasDelta {
		requested = scenario.DeltaChanges
	}
	for key := range requested {
		pos, ok := portfolio.Positions[key]
		if !ok {
			return nil, domain.NewValidation("scenario references unknown position %s", key)
		}
		if pos.Type == domain.InstrumentCash {
			return nil, domain.NewValidation("scenario cannot reweight the cash position %s", key)
		}
		if pos.Type == domain.InstrumentFutures {
			// A weight alone cannot be turned into contracts: futures
			// sizing needs quantity, price, and multiplier.
			return nil, domain.NewValidation("futures position %s cannot be reweighted without quantities", key)
		}
	}

	modified := clonePortfolio(portfolio)
	for key, pos := range modified.Positions {
		if pos.Type == domain.InstrumentCash {
			continue
		}
		if hasTarget {
			if target, ok := scenario.TargetWeights[key]; ok {
				pos.Weight = target
			}
		} else if delta, ok := scenario.DeltaChanges[key]; ok {
			pos.Weight += delta
		}
		modified.Positions[key] = pos
	}

	var gross float64
	for _, pos := range modified.Positions {
		if pos.Type != domain.InstrumentCash {
			gross += math.Abs(pos.Weight)
		}
	}
	if gross <= 0 {
		return nil, domain.NewValidation("scenario zeroes out the whole portfolio")
	}
	for key, pos := range modified.Positions {
		if pos.Type == domain.InstrumentCash {
			continue
		}
		pos.Weight /= gross
		modified.Positions[key] = pos
	}
	return modified, nil
}

func clonePortfolio(p *domain.CanonicalPortfolio) *domain.CanonicalPortfolio {
	out := *p
	out.Positions = make(map[string]domain.CanonicalPosition, len(p.Positions))
	for key, pos := range p.Positions {
		out.Positions[key] = pos
	}
	return &out
}

func scenarioChanges(before, after *domain.CanonicalPortfolio) []WeightChange {
	keys := before.NonCashSymbols()
	changes := make([]WeightChange, 0, len(keys))
	for _, key := range keys {
		b := before.Positions[key].Weight
		a := after.Positions[key].Weight
		if b == a {
			continue
		}
		changes = append(changes, WeightChange{
			Symbol:    before.Positions[key].Symbol,
			Before:    b,
			After:     a,
			ChangeBps: (a - b) * 10000,
		})
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return math.Abs(changes[i].ChangeBps) > math.Abs(changes[j].ChangeBps)
	})
	return changes
}

func complianceDeltas(before, after *risk.Evaluation) []ComplianceDelta {
	byName := make(map[string]risk.LimitResult, len(after.Limits))
	for _, limit := range after.Limits {
		byName[limit.Name] = limit
	}

	out := make([]ComplianceDelta, 0, len(before.Limits))
	for _, b := range before.Limits {
		a, ok := byName[b.Name]
		if !ok {
			continue
		}
		out = append(out, ComplianceDelta{
			Name:       b.Name,
			Before:     b.Measured,
			After:      a.Measured,
			BeforePass: b.Pass,
			AfterPass:  a.Pass,
		})
	}
	return out
}
