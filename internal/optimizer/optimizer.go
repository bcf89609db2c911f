// Package optimizer solves constrained portfolio weight programs and
// evaluates what-if scenarios against the factor and risk engines.
package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
)

// Objective selects the quadratic program to solve.
type Objective string

const (
	ObjectiveMinVariance Objective = "min_variance"
	ObjectiveMaxReturn   Objective = "max_return"
)

// Verdict labels the rebalance magnitude by L1 distance between current and
// optimized weights.
type Verdict string

const (
	VerdictNoChanges         Verdict = "no_changes"
	VerdictMinorRebalance    Verdict = "minor_rebalance"
	VerdictModerateRebalance Verdict = "moderate_rebalance"
	VerdictMajorRebalance    Verdict = "major_rebalance"
	VerdictHasViolations     Verdict = "has_violations"
)

const (
	monthsPerYear = 12

	// noChangesL1 is the L1 threshold under which a rebalance is noise.
	noChangesL1 = 0.02
	minorL1     = 0.10
	moderateL1  = 0.25

	penaltyWeight = 1000.0
	// constraintTol is the post-solve acceptance band for equality and box
	// constraints.
	constraintTol = 1e-3
)

// Request describes one optimization run.
type Request struct {
	Objective Objective `json:"objective"`
	// ExpectedReturns by instrument key, annualized. Required for
	// max_return.
	ExpectedReturns map[string]float64 `json:"expected_returns,omitempty"`
	// RiskPenalty is the lambda in mu'w - lambda*w'Sigma*w (default 1.0).
	RiskPenalty float64 `json:"risk_penalty,omitempty"`
	// MaxSingleWeight bounds each weight from above (default 1.0).
	MaxSingleWeight float64 `json:"max_single_weight,omitempty"`
	// BetaBounds are per-factor boxes on the portfolio beta B'w.
	BetaBounds map[string][2]float64 `json:"beta_bounds,omitempty"`
	// ContributionCaps limit a factor's share of portfolio variance,
	// (beta_f * sigma_f)^2 / w'Sigma*w, to a value in (0, 1]. Enforced
	// through the penalized solve and re-checked post-solve.
	ContributionCaps map[string]float64 `json:"contribution_caps,omitempty"`
	// MaxLeverage caps gross exposure; long-only solutions always measure
	// 1.0, so any value below 1 is unsatisfiable.
	MaxLeverage float64 `json:"max_leverage,omitempty"`
}

// WeightChange is one position's move from current to optimized weight.
type WeightChange struct {
	Symbol    string  `json:"symbol"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
	ChangeBps float64 `json:"change_bps"`
}

// ComplianceRow is one post-solve constraint check.
type ComplianceRow struct {
	Name     string  `json:"name"`
	Limit    float64 `json:"limit"`
	Measured float64 `json:"measured"`
	Pass     bool    `json:"pass"`
}

// Result is the optimization output.
type Result struct {
	Weights    map[string]float64 `json:"weights"` // by instrument key
	Changes    []WeightChange     `json:"changes"` // sorted by |bps| descending
	Compliance []ComplianceRow    `json:"compliance"`
	Verdict    Verdict            `json:"verdict"`
	Volatility float64            `json:"volatility"` // annualized, at solution
	L1Distance float64            `json:"l1_distance"`
}

// Solver runs the penalty-method quadratic program over the factor-model
// covariance. Purely CPU-bound; all inputs are materialized before any
// numerical stage.
type Solver struct {
	log zerolog.Logger
}

// NewSolver creates a solver.
func NewSolver(log zerolog.Logger) *Solver {
	return &Solver{log: log.With().Str("component", "optimizer").Logger()}
}

// program carries the per-solve state shared by the objective, the penalty
// terms, and the compliance checks.
type program struct {
	keys       []string
	sigma      *mat.SymDense
	betas      [][]float64 // asset x column, aligned with keys
	betaCols   []string
	factorVols []float64 // aligned with betaCols
	mu         []float64
	bounds     [][2]float64
	req        Request
	lambda     float64
}

func (p *program) factorVol(col int) float64 {
	return p.factorVols[col]
}

// Optimize solves for weights over the portfolio's non-cash universe.
// Constraint infeasibility and solver failure are reported as distinct error
// kinds.
func (s *Solver) Optimize(portfolio *domain.CanonicalPortfolio, dec *factor.Decomposition, req Request) (*Result, error) {
	keys := portfolio.NonCashSymbols()
	n := len(keys)
	if n == 0 {
		return nil, domain.NewValidation("portfolio has no non-cash positions to optimize")
	}

	maxSingle := req.MaxSingleWeight
	if maxSingle <= 0 || maxSingle > 1 {
		maxSingle = 1
	}

	p := &program{keys: keys, req: req, lambda: req.RiskPenalty}
	if p.lambda <= 0 {
		p.lambda = 1
	}
	p.bounds = make([][2]float64, n)
	for i := range p.bounds {
		p.bounds[i] = [2]float64{0, maxSingle}
	}

	if req.Objective == ObjectiveMaxReturn {
		p.mu = make([]float64, n)
		for i, key := range keys {
			ret, ok := req.ExpectedReturns[key]
			if !ok {
				return nil, domain.NewValidation("missing expected return for %s", key)
			}
			p.mu[i] = ret
		}
	} else if req.Objective != ObjectiveMinVariance {
		return nil, domain.NewValidation("unknown objective %q", req.Objective)
	}

	for col, cap := range req.ContributionCaps {
		if cap <= 0 || cap > 1 {
			return nil, domain.NewValidation("contribution cap for %s must be in (0, 1], got %v", col, cap)
		}
	}

	p.sigma, p.betas, p.betaCols, p.factorVols = factorCovariance(keys, dec)

	if infeasible := p.precheck(maxSingle); len(infeasible) > 0 {
		return nil, domain.NewInfeasible(infeasible)
	}

	problem := optimize.Problem{Func: p.objective}
	initial := startingPoint(keys, portfolio, n)

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil || !converged(result.Status) {
		// One retry on a relaxed convergence budget before declaring a
		// numerical failure.
		settings := &optimize.Settings{Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Iterations: 200,
		}}
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, domain.NewSolverError(err)
		}
		if !converged(result.Status) {
			return nil, domain.NewSolverError(fmt.Errorf("status=%v", result.Status))
		}
	}

	weights := finishWeights(result.X, p.bounds)

	compliance, violated := p.checkCompliance(weights, maxSingle)
	if len(violated) > 0 {
		// The solver converged onto a violating point. The result still
		// carries the weights and the full compliance table; the verdict
		// marks it unusable for persistence.
		s.log.Warn().Strs("constraints", violated).
			Msg("Optimization converged with constraint violations")
	}

	out := &Result{
		Weights:    make(map[string]float64, n),
		Compliance: compliance,
		Volatility: math.Sqrt(quadForm(p.sigma, weights)),
	}
	for i, key := range keys {
		out.Weights[key] = weights[i]
	}
	out.Changes, out.L1Distance = weightChanges(keys, portfolio, weights)
	out.Verdict = verdictFor(out.L1Distance, compliance)

	s.log.Debug().Str("objective", string(req.Objective)).Float64("l1", out.L1Distance).
		Str("verdict", string(out.Verdict)).Msg("Optimization complete")
	return out, nil
}

// objective is the penalized scalar function handed to gonum. The sum-to-one
// and beta-box constraints enter as quadratic penalties; the weight box is
// enforced by projection.
func (p *program) objective(x []float64) float64 {
	w := projectToBounds(x, p.bounds)

	variance := quadForm(p.sigma, w)
	var obj float64
	if p.mu != nil {
		obj = -(dot(p.mu, w) - p.lambda*variance)
	} else {
		obj = variance
	}

	sum := 0.0
	for _, wi := range w {
		sum += wi
	}
	obj += penaltyWeight * (sum - 1) * (sum - 1)

	for j, col := range p.betaCols {
		box, ok := p.req.BetaBounds[col]
		if !ok {
			continue
		}
		beta := p.portfolioBeta(w, j)
		if beta < box[0] {
			obj += penaltyWeight * (box[0] - beta) * (box[0] - beta)
		}
		if beta > box[1] {
			obj += penaltyWeight * (beta - box[1]) * (beta - box[1])
		}
	}

	if variance > 0 {
		for j, col := range p.betaCols {
			cap, ok := p.req.ContributionCaps[col]
			if !ok {
				continue
			}
			share := p.contributionShare(w, j, variance)
			if share > cap {
				obj += penaltyWeight * (share - cap) * (share - cap)
			}
		}
	}
	return obj
}

// contributionShare is factor col's share of total variance at w.
func (p *program) contributionShare(w []float64, col int, variance float64) float64 {
	beta := p.portfolioBeta(w, col)
	vol := p.factorVol(col)
	return beta * beta * vol * vol / variance
}

// precheck detects constraint sets no weight vector can satisfy, before any
// solver work. Returns the names of the unsatisfiable constraints.
func (p *program) precheck(maxSingle float64) []string {
	var infeasible []string

	if float64(len(p.keys))*maxSingle < 1-constraintTol {
		infeasible = append(infeasible, "single_stock")
	}
	if p.req.MaxLeverage > 0 && p.req.MaxLeverage < 1-constraintTol {
		infeasible = append(infeasible, "leverage")
	}

	for j, col := range p.betaCols {
		box, ok := p.req.BetaBounds[col]
		if !ok {
			continue
		}
		values := make([]float64, len(p.keys))
		for i := range p.keys {
			values[i] = p.betas[i][j]
		}
		lo, hi := achievableRange(values, maxSingle)
		if box[0] > hi+constraintTol || box[1] < lo-constraintTol {
			infeasible = append(infeasible, "beta_"+col)
		}
	}

	sort.Strings(infeasible)
	return infeasible
}

func (p *program) checkCompliance(w []float64, maxSingle float64) ([]ComplianceRow, []string) {
	var rows []ComplianceRow
	var violated []string

	var sum, gross, maxW float64
	for _, wi := range w {
		sum += wi
		gross += math.Abs(wi)
		if wi > maxW {
			maxW = wi
		}
	}

	add := func(name string, limit, measured float64, pass bool) {
		rows = append(rows, ComplianceRow{Name: name, Limit: limit, Measured: measured, Pass: pass})
		if !pass {
			violated = append(violated, name)
		}
	}

	add("weight_sum", 1, sum, math.Abs(sum-1) <= constraintTol)
	add("single_stock", maxSingle, maxW, maxW <= maxSingle+constraintTol)
	if p.req.MaxLeverage > 0 {
		add("leverage", p.req.MaxLeverage, gross, gross <= p.req.MaxLeverage+constraintTol)
	}
	for j, col := range p.betaCols {
		box, ok := p.req.BetaBounds[col]
		if !ok {
			continue
		}
		beta := p.portfolioBeta(w, j)
		pass := beta >= box[0]-constraintTol && beta <= box[1]+constraintTol
		add("beta_"+col, box[1], beta, pass)
	}
	if variance := quadForm(p.sigma, w); variance > 0 {
		for j, col := range p.betaCols {
			cap, ok := p.req.ContributionCaps[col]
			if !ok {
				continue
			}
			share := p.contributionShare(w, j, variance)
			add("contribution_"+col, cap, share, share <= cap+constraintTol)
		}
	}

	sort.Strings(violated)
	return rows, violated
}

func (p *program) portfolioBeta(w []float64, col int) float64 {
	var out float64
	for i := range w {
		out += w[i] * p.betas[i][col]
	}
	return out
}

// factorCovariance assembles the annualized covariance Sigma = B Sigma_f B' + D
// from the decomposition. Assets without a regression contribute only their
// own variance on the diagonal.
func factorCovariance(keys []string, dec *factor.Decomposition) (*mat.SymDense, [][]float64, []string, []float64) {
	cols := make([]string, 0, len(dec.FactorVols))
	for col := range dec.FactorVols {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	n := len(keys)
	betas := make([][]float64, n)
	idio := make([]float64, n)
	for i, key := range keys {
		betas[i] = make([]float64, len(cols))
		asset := dec.Assets[key]
		if asset == nil {
			continue
		}
		if asset.Regression != nil {
			for j, col := range cols {
				betas[i][j] = asset.Regression.Betas[col]
			}
			idio[i] = asset.Regression.ResidualVariance * monthsPerYear
		} else {
			idio[i] = asset.TotalVariance * monthsPerYear
		}
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var cov float64
			for k, col := range cols {
				vol := dec.FactorVols[col]
				cov += betas[i][k] * betas[j][k] * vol * vol
			}
			if i == j {
				cov += idio[i]
			}
			sigma.SetSym(i, j, cov)
		}
	}
	vols := make([]float64, len(cols))
	for j, col := range cols {
		vols[j] = dec.FactorVols[col]
	}
	return sigma, betas, cols, vols
}

// achievableRange computes the attainable [min, max] of v'w over the capped
// simplex by allocating the cap greedily to the extreme coefficients.
func achievableRange(values []float64, cap float64) (float64, float64) {
	asc := make([]float64, len(values))
	copy(asc, values)
	sort.Float64s(asc)

	allocate := func(ordered []float64) float64 {
		remaining := 1.0
		var total float64
		for _, v := range ordered {
			w := math.Min(cap, remaining)
			total += v * w
			remaining -= w
			if remaining <= 0 {
				break
			}
		}
		return total
	}

	lo := allocate(asc)
	desc := make([]float64, len(asc))
	for i, v := range asc {
		desc[len(asc)-1-i] = v
	}
	hi := allocate(desc)
	return lo, hi
}

func quadForm(sigma *mat.SymDense, w []float64) float64 {
	n := len(w)
	var out float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out += w[i] * w[j] * sigma.At(i, j)
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var out float64
	for i := range a {
		out += a[i] * b[i]
	}
	return out
}

func projectToBounds(x []float64, bounds [][2]float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(bounds[i][0], math.Min(bounds[i][1], x[i]))
	}
	return proj
}

// finishWeights projects the solver point to bounds, clips negatives, and
// normalizes to sum 1.
func finishWeights(x []float64, bounds [][2]float64) []float64 {
	w := projectToBounds(x, bounds)
	sum := 0.0
	for i := range w {
		if w[i] < 0 {
			w[i] = 0
		}
		sum += w[i]
	}
	if sum > 0 {
		for i := range w {
			w[i] /= sum
		}
	}
	return w
}

func startingPoint(keys []string, portfolio *domain.CanonicalPortfolio, n int) []float64 {
	initial := make([]float64, n)
	var sum float64
	for i, key := range keys {
		initial[i] = math.Abs(portfolio.Positions[key].Weight)
		sum += initial[i]
	}
	if sum <= 0 {
		for i := range initial {
			initial[i] = 1 / float64(n)
		}
	}
	return initial
}

func weightChanges(keys []string, portfolio *domain.CanonicalPortfolio, w []float64) ([]WeightChange, float64) {
	changes := make([]WeightChange, 0, len(keys))
	var l1 float64
	for i, key := range keys {
		before := portfolio.Positions[key].Weight
		delta := w[i] - before
		l1 += math.Abs(delta)
		changes = append(changes, WeightChange{
			Symbol:    portfolio.Positions[key].Symbol,
			Before:    before,
			After:     w[i],
			ChangeBps: delta * 10000,
		})
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return math.Abs(changes[i].ChangeBps) > math.Abs(changes[j].ChangeBps)
	})
	return changes, l1
}

func verdictFor(l1 float64, compliance []ComplianceRow) Verdict {
	for _, row := range compliance {
		if !row.Pass {
			return VerdictHasViolations
		}
	}
	switch {
	case l1 < noChangesL1:
		return VerdictNoChanges
	case l1 < minorL1:
		return VerdictMinorRebalance
	case l1 < moderateL1:
		return VerdictModerateRebalance
	default:
		return VerdictMajorRebalance
	}
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}
