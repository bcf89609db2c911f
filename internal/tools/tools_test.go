package tools

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
	"github.com/aristath/riskcore/internal/canonical"
	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/factor"
	"github.com/aristath/riskcore/internal/intelligence"
	"github.com/aristath/riskcore/internal/marketdata"
	"github.com/aristath/riskcore/internal/optimizer"
	"github.com/aristath/riskcore/internal/performance"
	"github.com/aristath/riskcore/internal/providers"
	"github.com/aristath/riskcore/internal/risk"
	"github.com/aristath/riskcore/internal/service"
	"github.com/aristath/riskcore/internal/trading"
)

func newToolsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE result_cache (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL
		);
		CREATE TABLE risk_profiles (
			user_id                   TEXT PRIMARY KEY,
			template                  TEXT NOT NULL DEFAULT 'balanced',
			max_volatility            REAL NOT NULL,
			max_loss                  REAL NOT NULL,
			max_single_stock_weight   REAL NOT NULL,
			max_factor_contribution   REAL NOT NULL,
			max_market_contribution   REAL NOT NULL,
			max_industry_contribution REAL NOT NULL,
			max_single_factor_loss    REAL NOT NULL,
			max_leverage              REAL NOT NULL,
			factor_beta_caps          TEXT,
			updated_at                TEXT NOT NULL DEFAULT (datetime('now'))
		);
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
		);
		CREATE TABLE trade_previews (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			group_id    TEXT,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			quantity    REAL NOT NULL,
			est_price   REAL NOT NULL,
			est_cost    REAL NOT NULL,
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			expires_at  TEXT NOT NULL
		);
		CREATE TABLE basket_trade_groups (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			basket     TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE TABLE target_allocations (
			user_id    TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			weight     REAL NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (user_id, symbol)
		)
	`)
	require.NoError(t, err)
	return db
}

// seriesFor anchors five years of monthly prices around the wall clock so
// the default analysis window always has enough overlapping history.
func seriesFor(scale float64) marketdata.Series {
	start := time.Now().UTC().AddDate(-4, 0, 0)
	values := make([]float64, 60)
	price := 100.0
	values[0] = price
	for i := 1; i < len(values); i++ {
		price *= 1 + scale*math.Sin(float64(i))
		values[i] = price
	}
	return marketdata.MonthlySeries(start.Year(), start.Month(), values...)
}

func newToolRegistry(t *testing.T) *Registry {
	t.Helper()
	db := newToolsDB(t)

	vendor := marketdata.NewFakeVendor("test")
	for sym, scale := range map[string]float64{
		"SPY": 0.02, "MTUM": 0.025, "VTV": 0.015, "XLK": 0.03,
		"AAPL": 0.03, "MSFT": 0.02,
	} {
		vendor.Monthly[sym] = seriesFor(scale)
	}
	// Daily closes for trade previews over the last month.
	daily := make([]float64, 22)
	for i := range daily {
		daily[i] = 150
	}
	dstart := time.Now().UTC().AddDate(0, 0, -28)
	vendor.Daily["AAPL"] = marketdata.DailySeries(dstart.Year(), dstart.Month(), dstart.Day(), daily...)

	store := marketdata.NewStore(marketdata.Options{Primary: vendor}, zerolog.Nop())
	adapter := providers.NewFakeAdapter(domain.SourceSchwab)
	adapter.Positions = []domain.Position{
		{Symbol: "AAPL", Quantity: 100, UnitPrice: 150, Currency: "USD", AccountID: "S1", Type: domain.InstrumentEquity},
		{Symbol: "MSFT", Quantity: 50, UnitPrice: 300, Currency: "USD", AccountID: "S1", Type: domain.InstrumentEquity},
	}

	catalog := contracts.New(nil, zerolog.Nop())
	factors := factor.NewEngine(store, 0, zerolog.Nop())
	evaluator := risk.NewEvaluator(zerolog.Nop())
	basketRepo := baskets.NewRepository(db, zerolog.Nop())
	desk := trading.NewDesk(db, store, catalog, basketRepo, trading.Options{}, zerolog.Nop())

	svc := service.New(service.Config{
		Registry:      providers.NewRegistry(zerolog.Nop(), adapter),
		Canonicalizer: canonical.New(canonical.Options{Catalog: catalog}, zerolog.Nop()),
		Store:         store,
		Factors:       factors,
		Evaluator:     evaluator,
		Profiles:      risk.NewRepository(db, zerolog.Nop()),
		Performance:   performance.NewEngine(store, performance.Options{}, zerolog.Nop()),
		Solver:        optimizer.NewSolver(zerolog.Nop()),
		WhatIf:        optimizer.NewWhatIf(factors, evaluator, zerolog.Nop()),
		Intelligence:  intelligence.NewEngine(store, basketRepo, zerolog.Nop()),
		Desk:          desk,
		Baskets:       basketRepo,
		Cache:         service.NewResultCache(db, time.Hour, zerolog.Nop()),
		Targets:       risk.NewTargetRepository(db, zerolog.Nop()),
		DataVersion:   "v1",
	}, zerolog.Nop())

	return DefaultRegistry(Deps{
		Service: svc,
		Desk:    desk,
		Baskets: basketRepo,
		Catalog: catalog,
	}, zerolog.Nop())
}

func TestDispatch_UnknownToolAndMissingUser(t *testing.T) {
	reg := newToolRegistry(t)
	ctx := context.Background()

	res := reg.Dispatch(ctx, &Request{Tool: "summon_alpha", UserID: "u1"})
	require.NotNil(t, res.Error)
	assert.False(t, res.Success)
	assert.Equal(t, string(domain.KindValidation), res.Error.Code)

	res = reg.Dispatch(ctx, &Request{Tool: "get_risk_score"})
	require.NotNil(t, res.Error)
	assert.Equal(t, string(domain.KindValidation), res.Error.Code)
}

func TestDispatch_AllAdvertisedToolsRegistered(t *testing.T) {
	reg := newToolRegistry(t)

	expected := []string{
		"get_risk_analysis", "get_risk_score", "get_performance", "run_whatif",
		"run_optimization", "get_factor_analysis", "get_factor_recommendations",
		"get_leverage_capacity", "check_exit_signals", "get_positions",
		"get_risk_profile", "set_risk_profile", "get_target_allocations",
		"list_baskets", "get_basket", "create_basket", "update_basket",
		"delete_basket", "analyze_basket",
		"get_futures_months", "get_futures_curve", "preview_futures_roll",
		"execute_futures_roll",
		"preview_trade", "execute_trade", "preview_basket_trade",
		"execute_basket_trade",
	}
	names := reg.Names()
	for _, tool := range expected {
		assert.Contains(t, names, tool)
	}
	assert.Len(t, names, len(expected))
}

func TestDispatch_FormatShapesEnvelope(t *testing.T) {
	reg := newToolRegistry(t)
	ctx := context.Background()

	full := reg.Dispatch(ctx, &Request{Tool: "get_risk_analysis", UserID: "u1", Format: FormatFull})
	require.True(t, full.Success)
	assert.NotNil(t, full.Detail)
	assert.Nil(t, full.Snapshot)
	assert.Equal(t, "u1", full.Metadata.UserID)
	assert.Equal(t, "get_risk_analysis", full.Metadata.Tool)

	agent := reg.Dispatch(ctx, &Request{Tool: "get_risk_analysis", UserID: "u1", Format: FormatAgent})
	require.True(t, agent.Success)
	require.NotNil(t, agent.Snapshot)
	assert.Contains(t, agent.Snapshot, "verdict")
	assert.Contains(t, agent.Snapshot, "score")

	summary := reg.Dispatch(ctx, &Request{Tool: "get_risk_score", UserID: "u1", Format: FormatSummary})
	require.True(t, summary.Success)
	assert.Nil(t, summary.Detail)
	assert.NotEmpty(t, summary.Summary)
}

func TestDispatch_ProfileRoundTrip(t *testing.T) {
	reg := newToolRegistry(t)
	ctx := context.Background()

	set := reg.Dispatch(ctx, &Request{
		Tool: "set_risk_profile", UserID: "u1",
		Args: map[string]interface{}{
			"template":  "growth",
			"overrides": map[string]interface{}{"max_leverage": 1.5},
		},
	})
	require.True(t, set.Success, "%+v", set.Error)

	got := reg.Dispatch(ctx, &Request{Tool: "get_risk_profile", UserID: "u1"})
	require.True(t, got.Success)
	profile, ok := got.Detail.(risk.Profile)
	require.True(t, ok)
	assert.Equal(t, "growth", profile.Template)
	assert.InDelta(t, 1.5, profile.MaxLeverage, 1e-12)

	bad := reg.Dispatch(ctx, &Request{
		Tool: "set_risk_profile", UserID: "u1",
		Args: map[string]interface{}{"overrides": map[string]interface{}{"max_luck": 2.0}},
	})
	require.NotNil(t, bad.Error)
	assert.Equal(t, string(domain.KindValidation), bad.Error.Code)
}

func TestDispatch_BasketLifecycle(t *testing.T) {
	reg := newToolRegistry(t)
	ctx := context.Background()

	created := reg.Dispatch(ctx, &Request{
		Tool: "create_basket", UserID: "u1",
		Args: map[string]interface{}{
			"name":    "core_tech",
			"tickers": []interface{}{"AAPL", "MSFT"},
		},
	})
	require.True(t, created.Success, "%+v", created.Error)

	list := reg.Dispatch(ctx, &Request{Tool: "list_baskets", UserID: "u1"})
	require.True(t, list.Success)
	assert.Equal(t, 1, list.Summary["count"])

	analyzed := reg.Dispatch(ctx, &Request{
		Tool: "analyze_basket", UserID: "u1", Format: FormatAgent,
		Args: map[string]interface{}{"name": "core_tech"},
	})
	require.True(t, analyzed.Success, "%+v", analyzed.Error)
	assert.Contains(t, analyzed.Snapshot, "return")

	deleted := reg.Dispatch(ctx, &Request{
		Tool: "delete_basket", UserID: "u1",
		Args: map[string]interface{}{"name": "core_tech"},
	})
	require.True(t, deleted.Success)

	missing := reg.Dispatch(ctx, &Request{
		Tool: "get_basket", UserID: "u1",
		Args: map[string]interface{}{"name": "core_tech"},
	})
	require.NotNil(t, missing.Error)
}

func TestDispatch_TradePreviewAndExecute(t *testing.T) {
	reg := newToolRegistry(t)
	ctx := context.Background()

	preview := reg.Dispatch(ctx, &Request{
		Tool: "preview_trade", UserID: "u1", Format: FormatAgent,
		Args: map[string]interface{}{"symbol": "AAPL", "side": "BUY", "quantity": 10.0},
	})
	require.True(t, preview.Success, "%+v", preview.Error)
	id, ok := preview.Summary["preview_id"].(string)
	require.True(t, ok)
	assert.Equal(t, 1500.0, preview.Snapshot["cost"])

	exec := reg.Dispatch(ctx, &Request{
		Tool: "execute_trade", UserID: "u1",
		Args: map[string]interface{}{"preview_id": id},
	})
	require.True(t, exec.Success, "%+v", exec.Error)
	assert.Equal(t, "prepared", exec.Summary["status"])
	assert.NotContains(t, exec.Flags, "drift_warning")
}

func TestDispatch_FuturesRollEnvelope(t *testing.T) {
	reg := newToolRegistry(t)

	res := reg.Dispatch(context.Background(), &Request{
		Tool: "preview_futures_roll", UserID: "u1", Format: FormatAgent,
		Args: map[string]interface{}{
			"symbol":      "ES",
			"front_month": "203003",
			"back_month":  "203006",
			"direction":   "long_roll",
			"quantity":    2.0,
		},
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "long_roll", res.Snapshot["verdict"])
	assert.Equal(t, []string{"SELL 2030-03", "BUY 2030-06"}, res.Snapshot["legs"])
}

func TestDispatch_InfeasibleSurfacesConstraints(t *testing.T) {
	reg := newToolRegistry(t)

	// A 2-asset portfolio cannot satisfy a 0.3 single-position cap.
	res := reg.Dispatch(context.Background(), &Request{
		Tool: "run_optimization", UserID: "u1",
		Args: map[string]interface{}{
			"objective":         "min_variance",
			"max_single_weight": 0.3,
		},
	})
	require.NotNil(t, res.Error)
	assert.Equal(t, string(domain.KindInfeasible), res.Error.Code)
	assert.Contains(t, res.Error.Constraints, "single_stock")
}

func TestDispatch_CompliantOptimizationPersistsTargets(t *testing.T) {
	reg := newToolRegistry(t)
	ctx := context.Background()

	before := reg.Dispatch(ctx, &Request{Tool: "get_target_allocations", UserID: "u1", Format: FormatAgent})
	require.True(t, before.Success)
	assert.Equal(t, "no_targets", before.Snapshot["verdict"])

	// No objective argument: the handler defaults to min_variance.
	opt := reg.Dispatch(ctx, &Request{Tool: "run_optimization", UserID: "u1"})
	require.True(t, opt.Success, "unconstrained min-variance on two assets is feasible")

	after := reg.Dispatch(ctx, &Request{Tool: "get_target_allocations", UserID: "u1", Format: FormatFull})
	require.True(t, after.Success)
	targets, ok := after.Detail.([]risk.TargetAllocation)
	require.True(t, ok)
	assert.NotEmpty(t, targets)

	total := 0.0
	for _, target := range targets {
		total += target.Weight
	}
	assert.InDelta(t, 1.0, total, 0.05)
}

func TestRequestArgHelpers(t *testing.T) {
	req := &Request{Args: map[string]interface{}{
		"name":    "alpha",
		"qty":     3.5,
		"flag":    true,
		"weights": map[string]interface{}{"AAPL": 0.6, "MSFT": 0.4},
		"list":    []interface{}{"a", "b"},
		"when":    "2025-06-30",
	}}

	assert.Equal(t, "alpha", req.String("name", ""))
	assert.Equal(t, "dflt", req.String("missing", "dflt"))
	assert.Equal(t, 3.5, req.Float("qty", 0))
	assert.True(t, req.Bool("flag", false))
	assert.Equal(t, map[string]float64{"AAPL": 0.6, "MSFT": 0.4}, req.FloatMap("weights"))
	assert.Equal(t, []string{"a", "b"}, req.Strings("list"))
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), req.Date("when"))
	assert.True(t, req.Date("missing").IsZero())
}
