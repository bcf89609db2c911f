package intelligence

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/marketdata"
)

// OverlayResult is the panel with the user's baskets appended.
type OverlayResult struct {
	Panel *Panel `json:"panel"`
	// Fingerprint covers every basket (user, name, updated_at), including
	// ones that failed to build, so cache entries distinguish "no baskets"
	// from "baskets all failed this run".
	Fingerprint string `json:"basket_fingerprint"`
	// Skipped lists baskets dropped with the reason appended.
	Skipped []string `json:"skipped,omitempty"`
}

// OverlayBaskets clones the panel and appends one column per buildable
// basket. Basket failures never fail the overlay.
func (e *Engine) OverlayBaskets(ctx context.Context, panel *Panel, userID string, start, end time.Time, marketCaps map[string]float64) (*OverlayResult, error) {
	out := &OverlayResult{Panel: panel.Clone()}
	if e.baskets == nil {
		return out, nil
	}

	list, err := e.baskets.List(userID)
	if err != nil {
		return nil, err
	}
	out.Fingerprint = BasketFingerprint(userID, list)
	if len(list) == 0 {
		return out, nil
	}

	for _, basket := range list {
		if _, exists := out.Panel.Find(basket.Name); exists {
			e.log.Warn().Str("basket", basket.Name).Msg("Basket name collides with an existing column, skipping")
			out.Skipped = append(out.Skipped, basket.Name+": name collision")
			continue
		}

		series, err := e.basketSeries(ctx, basket, start, end, marketCaps)
		if err != nil {
			e.log.Warn().Str("basket", basket.Name).Err(err).Msg("Basket series failed, skipping")
			out.Skipped = append(out.Skipped, basket.Name+": "+err.Error())
			continue
		}

		out.Panel.Columns = append(out.Panel.Columns, Column{
			Name:     basket.Name,
			Label:    "Basket: " + basket.Name,
			Category: CategoryUserBaskets,
			Series:   series,
		})
	}
	return out, nil
}

// basketSeries builds the weighted component return series: inner join over
// the components that fetched, weights renormalized against the available
// set.
func (e *Engine) basketSeries(ctx context.Context, basket *baskets.Basket, start, end time.Time, marketCaps map[string]float64) (marketdata.Series, error) {
	weights, err := basket.ResolveWeights(marketCaps)
	if err != nil {
		return marketdata.Series{}, err
	}

	tickers := basket.SortedTickers()
	returns, _ := e.store.BulkMonthlyReturns(ctx, tickers, start, end)

	var members []string
	var series []marketdata.Series
	var totalWeight float64
	for _, ticker := range tickers {
		s, ok := returns[ticker]
		if !ok || s.Len() == 0 {
			continue
		}
		w, ok := weights[ticker]
		if !ok || w == 0 {
			continue
		}
		members = append(members, ticker)
		series = append(series, s)
		totalWeight += w
	}
	if len(members) == 0 || totalWeight <= 0 {
		return marketdata.Series{}, fmt.Errorf("no component series available")
	}

	dates := marketdata.IntersectDates(series...)
	if len(dates) == 0 {
		return marketdata.Series{}, fmt.Errorf("component series share no dates")
	}

	out := marketdata.Series{
		Dates:  dates,
		Values: make([]float64, len(dates)),
	}
	for i, d := range dates {
		var sum float64
		for j, ticker := range members {
			v, _ := series[j].At(d)
			sum += v * (weights[ticker] / totalWeight)
		}
		out.Values[i] = sum
	}
	return out, nil
}

// BasketFingerprint hashes the (user, name, updated_at) tuples so any content
// change invalidates cached matrices built over the overlay.
func BasketFingerprint(userID string, list []*baskets.Basket) string {
	sorted := make([]*baskets.Basket, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := fnv.New64a()
	fmt.Fprintf(h, "%s", userID)
	for _, b := range sorted {
		fmt.Fprintf(h, "|%s|%d", b.Name, b.UpdatedAt.Unix())
	}
	return fmt.Sprintf("%x", h.Sum64())
}
