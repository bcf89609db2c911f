package risk

// scoreFromRatio maps a measured-to-limit ratio onto a 0-100 sub-score.
// Piecewise linear through the anchor points: at zero exposure 100, at the
// limit 70, at twice the limit 30, at five times the limit 0.
func scoreFromRatio(r float64) float64 {
	switch {
	case r <= 0:
		return 100
	case r <= 1:
		return 100 - 30*r
	case r <= 2:
		return 70 - 40*(r-1)
	case r <= 5:
		return 30 - 10*(r-2)
	default:
		return 0
	}
}

// Composite sub-score weights.
const (
	weightConcentration = 0.30
	weightVolatility    = 0.30
	weightFactor        = 0.25
	weightSector        = 0.15
)

// Score is the composite risk score with its sub-scores.
type Score struct {
	Composite     float64 `json:"composite"` // 0-100, higher is safer
	Concentration float64 `json:"concentration"`
	Volatility    float64 `json:"volatility"`
	Factor        float64 `json:"factor"`
	Sector        float64 `json:"sector"`
}

func composeScore(concentration, volatility, factor, sector float64) Score {
	return Score{
		Composite: weightConcentration*concentration +
			weightVolatility*volatility +
			weightFactor*factor +
			weightSector*sector,
		Concentration: concentration,
		Volatility:    volatility,
		Factor:        factor,
		Sector:        sector,
	}
}
