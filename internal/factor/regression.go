package factor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Regression is the fitted per-asset factor model.
type Regression struct {
	Betas            map[string]float64 `json:"betas"` // factor column -> beta
	Alpha            float64            `json:"alpha"`
	ResidualVariance float64            `json:"residual_variance"` // monthly
	RSquared         float64            `json:"r_squared"`
	NObs             int                `json:"n_obs"`
}

// fitOLS regresses y on the columns of X (observations x factors) with an
// intercept, via QR. Column names index the returned beta map.
func fitOLS(y []float64, X [][]float64, columns []string) (*Regression, error) {
	n := len(y)
	k := len(columns)
	if n == 0 || k == 0 {
		return nil, fmt.Errorf("empty regression inputs")
	}
	if n <= k+1 {
		return nil, fmt.Errorf("underdetermined regression: %d observations for %d factors", n, k)
	}

	// Design matrix with a leading intercept column.
	design := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			design.Set(i, j+1, X[i][j])
		}
	}
	yVec := mat.NewDense(n, 1, y)

	var qr mat.QR
	qr.Factorize(design)

	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, yVec); err != nil {
		return nil, fmt.Errorf("failed to solve normal equations: %w", err)
	}

	reg := &Regression{
		Betas: make(map[string]float64, k),
		Alpha: coef.At(0, 0),
		NObs:  n,
	}
	for j, col := range columns {
		reg.Betas[col] = coef.At(j+1, 0)
	}

	// Residuals and fit quality.
	var fitted mat.Dense
	fitted.Mul(design, &coef)

	meanY := stat.Mean(y, nil)
	var ssRes, ssTot float64
	for i := 0; i < n; i++ {
		res := y[i] - fitted.At(i, 0)
		ssRes += res * res
		dev := y[i] - meanY
		ssTot += dev * dev
	}

	dof := float64(n - k - 1)
	reg.ResidualVariance = ssRes / dof
	if ssTot > 0 {
		reg.RSquared = 1 - ssRes/ssTot
	}
	return reg, nil
}
