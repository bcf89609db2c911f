// Package baskets manages user-defined ticker baskets used by the factor
// intelligence overlay and basket trading.
package baskets

import (
	"sort"
	"strings"
	"time"

	"github.com/aristath/riskcore/internal/domain"
)

// WeightingMethod selects how basket component weights are resolved.
type WeightingMethod string

const (
	WeightingEqual     WeightingMethod = "equal"
	WeightingMarketCap WeightingMethod = "market_cap"
	WeightingCustom    WeightingMethod = "custom"
)

// Basket is one named ticker group owned by a user.
type Basket struct {
	ID        int64              `json:"id"`
	UserID    string             `json:"user_id"`
	Name      string             `json:"name"`
	Tickers   []string           `json:"tickers"`
	Weights   map[string]float64 `json:"weights,omitempty"` // custom weighting only
	Weighting WeightingMethod    `json:"weighting_method"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Normalize uppercases and dedupes tickers, preserving first-seen order.
func (b *Basket) Normalize() {
	seen := make(map[string]bool, len(b.Tickers))
	out := b.Tickers[:0]
	for _, t := range b.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	b.Tickers = out

	if b.Weights != nil {
		weights := make(map[string]float64, len(b.Weights))
		for ticker, w := range b.Weights {
			weights[strings.ToUpper(strings.TrimSpace(ticker))] = w
		}
		b.Weights = weights
	}
	if b.Weighting == "" {
		b.Weighting = WeightingEqual
	}
}

// Validate checks structural invariants before persistence.
func (b *Basket) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return domain.NewValidation("basket requires a user id")
	}
	if strings.TrimSpace(b.Name) == "" {
		return domain.NewValidation("basket requires a name")
	}
	if len(b.Tickers) == 0 {
		return domain.NewValidation("basket %q has no tickers", b.Name)
	}
	switch b.Weighting {
	case WeightingEqual, WeightingMarketCap:
	case WeightingCustom:
		var sum float64
		for _, ticker := range b.Tickers {
			w, ok := b.Weights[ticker]
			if !ok {
				return domain.NewValidation("basket %q custom weighting missing weight for %s", b.Name, ticker)
			}
			if w < 0 {
				return domain.NewValidation("basket %q has negative weight for %s", b.Name, ticker)
			}
			sum += w
		}
		if sum <= 0 {
			return domain.NewValidation("basket %q custom weights sum to zero", b.Name)
		}
	default:
		return domain.NewValidation("basket %q has unknown weighting method %q", b.Name, b.Weighting)
	}
	return nil
}

// ResolveWeights produces the normalized component weights. Market caps are
// only consulted for market_cap weighting; tickers without a cap are dropped
// and the rest renormalized.
func (b *Basket) ResolveWeights(marketCaps map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(b.Tickers))

	switch b.Weighting {
	case WeightingEqual, "":
		w := 1.0 / float64(len(b.Tickers))
		for _, ticker := range b.Tickers {
			out[ticker] = w
		}
	case WeightingMarketCap:
		var total float64
		for _, ticker := range b.Tickers {
			if cap, ok := marketCaps[ticker]; ok && cap > 0 {
				out[ticker] = cap
				total += cap
			}
		}
		if total <= 0 {
			return nil, domain.NewValidation("basket %q has no market caps for market_cap weighting", b.Name)
		}
		for ticker := range out {
			out[ticker] /= total
		}
	case WeightingCustom:
		var total float64
		for _, ticker := range b.Tickers {
			total += b.Weights[ticker]
		}
		if total <= 0 {
			return nil, domain.NewValidation("basket %q custom weights sum to zero", b.Name)
		}
		for _, ticker := range b.Tickers {
			out[ticker] = b.Weights[ticker] / total
		}
	default:
		return nil, domain.NewValidation("basket %q has unknown weighting method %q", b.Name, b.Weighting)
	}
	return out, nil
}

// SortedTickers returns the tickers in lexical order for stable output.
func (b *Basket) SortedTickers() []string {
	out := make([]string, len(b.Tickers))
	copy(out, b.Tickers)
	sort.Strings(out)
	return out
}
