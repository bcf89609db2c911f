package intelligence

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/marketdata"
)

func newBasketRepo(t *testing.T) *baskets.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE baskets (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			name        TEXT NOT NULL,
			tickers     TEXT NOT NULL,
			weights     TEXT,
			weighting   TEXT NOT NULL DEFAULT 'equal',
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE (user_id, name)
		)
	`)
	require.NoError(t, err)
	return baskets.NewRepository(db, zerolog.Nop())
}

func pricesRealizing(returns []float64) marketdata.Series {
	values := make([]float64, 0, len(returns)+1)
	price := 100.0
	values = append(values, price)
	for _, r := range returns {
		price *= 1 + r
		values = append(values, price)
	}
	return marketdata.MonthlySeries(2023, time.January, values...)
}

func sinReturns(n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = scale * math.Sin(float64(i))
	}
	return out
}

func panelWindow() (time.Time, time.Time) {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
}

func TestBuildPanel_MissingTickersRecorded(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	base := sinReturns(16, 0.02)
	vendor.Monthly["SPY"] = pricesRealizing(base)
	vendor.Monthly["MTUM"] = pricesRealizing(sinReturns(16, 0.03))
	vendor.Monthly["IEF"] = pricesRealizing(sinReturns(16, 0.005))
	vendor.Monthly["XLK"] = pricesRealizing(sinReturns(16, 0.025))
	vendor.Monthly["XLE"] = pricesRealizing(sinReturns(16, 0.015))
	vendor.Monthly["GLD"] = pricesRealizing(sinReturns(16, 0.01))

	store := marketdata.NewStore(marketdata.Options{Primary: vendor}, zerolog.Nop())
	engine := NewEngine(store, nil, zerolog.Nop())

	start, end := panelWindow()
	panel, err := engine.BuildPanel(context.Background(), start, end)
	require.NoError(t, err)

	_, ok := panel.Find("market")
	assert.True(t, ok)
	_, ok = panel.Find("gold")
	assert.True(t, ok)
	// VTV was not registered with the vendor.
	_, ok = panel.Find("value")
	assert.False(t, ok)
	assert.Contains(t, panel.Missing, "VTV")

	cats := panel.Categories()
	assert.Contains(t, cats[CategoryStyle], "market")
	assert.Contains(t, cats[CategorySectors], "technology")
}

func TestPanelClone_IsDeep(t *testing.T) {
	panel := &Panel{Columns: []Column{{
		Name: "market", Label: "US Market", Category: CategoryStyle,
		Series: marketdata.MonthlySeries(2023, time.January, 0.01, 0.02),
	}}}

	clone := panel.Clone()
	clone.Columns[0].Series.Values[0] = 99
	clone.Columns = append(clone.Columns, Column{Name: "extra"})

	assert.Equal(t, 0.01, panel.Columns[0].Series.Values[0])
	assert.Len(t, panel.Columns, 1)
}

func TestOverlayBaskets_AppendsColumn(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Monthly["NVDA"] = pricesRealizing(sinReturns(16, 0.05))
	vendor.Monthly["MSFT"] = pricesRealizing(sinReturns(16, 0.02))
	store := marketdata.NewStore(marketdata.Options{Primary: vendor}, zerolog.Nop())

	repo := newBasketRepo(t)
	require.NoError(t, repo.Create(&baskets.Basket{
		UserID: "u1", Name: "ai", Tickers: []string{"NVDA", "MSFT"},
	}))

	engine := NewEngine(store, repo, zerolog.Nop())
	base := &Panel{Columns: []Column{{
		Name: "market", Label: "US Market", Category: CategoryStyle,
		Series: pricesRealizing(sinReturns(16, 0.02)).Returns(),
	}}}

	start, end := panelWindow()
	res, err := engine.OverlayBaskets(context.Background(), base, "u1", start, end, nil)
	require.NoError(t, err)

	col, ok := res.Panel.Find("ai")
	require.True(t, ok)
	assert.Equal(t, "Basket: ai", col.Label)
	assert.Equal(t, CategoryUserBaskets, col.Category)
	assert.Greater(t, col.Series.Len(), 0)
	assert.NotEmpty(t, res.Fingerprint)

	// The base panel was not mutated.
	_, ok = base.Find("ai")
	assert.False(t, ok)
}

func TestOverlayBaskets_CollisionSkipped(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Monthly["NVDA"] = pricesRealizing(sinReturns(16, 0.05))
	store := marketdata.NewStore(marketdata.Options{Primary: vendor}, zerolog.Nop())

	repo := newBasketRepo(t)
	// Case-insensitive collision with the "market" column.
	require.NoError(t, repo.Create(&baskets.Basket{
		UserID: "u1", Name: "MARKET", Tickers: []string{"NVDA"},
	}))

	engine := NewEngine(store, repo, zerolog.Nop())
	base := &Panel{Columns: []Column{{
		Name: "market", Category: CategoryStyle,
		Series: pricesRealizing(sinReturns(16, 0.02)).Returns(),
	}}}

	start, end := panelWindow()
	res, err := engine.OverlayBaskets(context.Background(), base, "u1", start, end, nil)
	require.NoError(t, err)

	assert.Len(t, res.Panel.Columns, 1)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0], "collision")
}

func TestOverlayBaskets_FailedBasketStillFingerprinted(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test") // no data at all
	store := marketdata.NewStore(marketdata.Options{Primary: vendor}, zerolog.Nop())

	repo := newBasketRepo(t)
	require.NoError(t, repo.Create(&baskets.Basket{
		UserID: "u1", Name: "ghost", Tickers: []string{"NOPE"},
	}))

	engine := NewEngine(store, repo, zerolog.Nop())
	start, end := panelWindow()
	res, err := engine.OverlayBaskets(context.Background(), &Panel{}, "u1", start, end, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Panel.Columns)
	assert.NotEmpty(t, res.Fingerprint)
	require.Len(t, res.Skipped, 1)
}

func TestBasketFingerprint_SensitiveToContent(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := []*baskets.Basket{{Name: "ai", UpdatedAt: now}}
	b := []*baskets.Basket{{Name: "ai", UpdatedAt: now.Add(time.Minute)}}

	assert.Equal(t, BasketFingerprint("u1", a), BasketFingerprint("u1", a))
	assert.NotEqual(t, BasketFingerprint("u1", a), BasketFingerprint("u1", b))
	assert.NotEqual(t, BasketFingerprint("u1", a), BasketFingerprint("u2", a))
	assert.NotEqual(t, BasketFingerprint("u1", a), BasketFingerprint("u1", nil))
}

func testAnalysisPanel() *Panel {
	base := sinReturns(24, 0.02)
	double := make([]float64, len(base))
	inverse := make([]float64, len(base))
	for i, r := range base {
		double[i] = 2 * r
		inverse[i] = -r
	}
	mk := func(name, category string, returns []float64) Column {
		return Column{
			Name: name, Label: name, Category: category,
			Series: marketdata.MonthlySeries(2023, time.January, returns...),
		}
	}
	return &Panel{Columns: []Column{
		mk("market", CategoryStyle, base),
		mk("momentum", CategoryStyle, double),
		mk("rates", CategoryRates, inverse),
		mk("hedgebasket", CategoryUserBaskets, inverse),
	}}
}

func TestCorrelations_BucketsAndOverlay(t *testing.T) {
	engine := NewEngine(nil, nil, zerolog.Nop())
	panel := testAnalysisPanel()

	corr := engine.Correlations(panel)

	// Style has two members; rates has one and is excluded.
	require.Contains(t, corr.Buckets, CategoryStyle)
	assert.NotContains(t, corr.Buckets, CategoryRates)

	style := corr.Buckets[CategoryStyle]
	require.Equal(t, []string{"market", "momentum"}, style.Columns)
	assert.InDelta(t, 1.0, style.Matrix[0][1], 1e-9)

	// The single basket still appears via the overlay.
	require.NotNil(t, corr.BasketOverlay)
	require.Equal(t, []string{"hedgebasket"}, corr.BasketOverlay.Rows)
	assert.Len(t, corr.BasketOverlay.Columns, 3)
	// Perfectly inverse to market.
	marketIdx := -1
	for j, name := range corr.BasketOverlay.Columns {
		if name == "market" {
			marketIdx = j
		}
	}
	require.GreaterOrEqual(t, marketIdx, 0)
	assert.InDelta(t, -1.0, corr.BasketOverlay.Matrix[0][marketIdx], 1e-9)
}

func TestPerformanceProfile_PercentUnitsAndBeta(t *testing.T) {
	engine := NewEngine(nil, nil, zerolog.Nop())

	steady := make([]float64, 24)
	for i := range steady {
		steady[i] = 0.01
	}
	base := sinReturns(24, 0.02)
	half := make([]float64, len(base))
	for i, r := range base {
		half[i] = 0.5 * r
	}

	panel := &Panel{Columns: []Column{
		{Name: "market", Label: "US Market", Category: CategoryStyle,
			Series: marketdata.MonthlySeries(2023, time.January, base...)},
		{Name: "halfbeta", Label: "Half", Category: CategorySectors,
			Series: marketdata.MonthlySeries(2023, time.January, half...)},
		{Name: "steady", Label: "Steady", Category: CategoryRates,
			Series: marketdata.MonthlySeries(2023, time.January, steady...)},
	}}

	entries := engine.PerformanceProfile(panel)
	byName := map[string]ProfileEntry{}
	for _, e := range entries {
		byName[e.Column] = e
	}

	steadyEntry := byName["steady"]
	assert.InDelta(t, (math.Pow(1.01, 12)-1)*100, steadyEntry.AnnualReturn, 1e-6)
	assert.InDelta(t, 0.0, steadyEntry.Volatility, 1e-9)

	assert.InDelta(t, 1.0, byName["market"].BetaToMarket, 1e-9)
	assert.InDelta(t, 0.5, byName["halfbeta"].BetaToMarket, 1e-9)
	assert.Less(t, byName["halfbeta"].MaxDrawdown, 1e-9) // drawdowns are <= 0
}

func TestOffsets_MostNegativeFirst(t *testing.T) {
	engine := NewEngine(nil, nil, zerolog.Nop())
	panel := testAnalysisPanel()

	rec, err := engine.Offsets(panel, "market", 3)
	require.NoError(t, err)

	require.NotEmpty(t, rec.Hedges)
	assert.InDelta(t, -1.0, rec.Hedges[0].Correlation, 1e-9)
	for i := 1; i < len(rec.Hedges); i++ {
		assert.LessOrEqual(t, rec.Hedges[i-1].Correlation, rec.Hedges[i].Correlation)
	}

	_, err = engine.Offsets(panel, "nope", 3)
	require.Error(t, err)
}
