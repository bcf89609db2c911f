package trading

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

func newTradeDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
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
	return db
}

// deskAt wires a desk against a fake vendor with the clock pinned.
func deskAt(t *testing.T, vendor *marketdata.FakeVendor, at time.Time) *Desk {
	t.Helper()
	db := newTradeDB(t)
	store := marketdata.NewStore(marketdata.Options{Primary: vendor}, zerolog.Nop())
	catalog := contracts.New(nil, zerolog.Nop())
	repo := baskets.NewRepository(db, zerolog.Nop())
	desk := NewDesk(db, store, catalog, repo, Options{}, zerolog.Nop())
	desk.now = func() time.Time { return at }
	return desk
}

// tradeClock is a Monday at noon so the one-month price window is
// populated by flatDaily below.
var tradeClock = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func flatDaily(price float64) marketdata.Series {
	values := make([]float64, 22)
	for i := range values {
		values[i] = price
	}
	return marketdata.DailySeries(2025, time.May, 1, values...)
}

func TestPreviewTrade_PricesAndPersists(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["XYZ"] = flatDaily(40)
	desk := deskAt(t, vendor, tradeClock)

	p, err := desk.PreviewTrade(context.Background(), "u1", "xyz", "buy", 100)
	require.NoError(t, err)

	assert.Equal(t, "XYZ", p.Symbol)
	assert.Equal(t, SideBuy, p.Side)
	assert.Equal(t, 40.0, p.EstPrice)
	assert.Equal(t, 4000.0, p.EstCost)
	assert.Equal(t, tradeClock.Add(DefaultPreviewTTL), p.ExpiresAt)

	got, err := desk.GetPreview("u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.EstCost, got.EstCost)
	assert.False(t, got.Expired(tradeClock))

	// Previews are owner-scoped.
	_, err = desk.GetPreview("u2", p.ID)
	require.Error(t, err)
}

func TestPreviewTrade_Validation(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["XYZ"] = flatDaily(40)
	desk := deskAt(t, vendor, tradeClock)
	ctx := context.Background()

	_, err := desk.PreviewTrade(ctx, "u1", "XYZ", "HOLD", 100)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = desk.PreviewTrade(ctx, "u1", "XYZ", "BUY", 0)
	require.Error(t, err)

	_, err = desk.PreviewTrade(ctx, "u1", "GHOST", "BUY", 100)
	require.Error(t, err)
	assert.Equal(t, domain.KindPriceUnavailable, domain.KindOf(err))
}

func TestExecuteTrade_FreshPreviewNoDrift(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["XYZ"] = flatDaily(40)
	desk := deskAt(t, vendor, tradeClock)

	p, err := desk.PreviewTrade(context.Background(), "u1", "XYZ", "SELL", 10)
	require.NoError(t, err)

	exec, err := desk.ExecuteTrade(context.Background(), "u1", p.ID)
	require.NoError(t, err)

	assert.False(t, exec.DriftWarning)
	assert.Equal(t, "prepared", exec.Status)
	assert.Equal(t, p.ID, exec.Ticket.PreviewID)
	assert.Equal(t, SideSell, exec.Ticket.Side)
	assert.Equal(t, 40.0, exec.Ticket.EstPrice)
}

func TestExecuteTrade_ExpiredRepricesAndWarns(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["XYZ"] = flatDaily(100)
	desk := deskAt(t, vendor, tradeClock)

	p, err := desk.PreviewTrade(context.Background(), "u1", "XYZ", "BUY", 10)
	require.NoError(t, err)
	require.Equal(t, 1000.0, p.EstCost)

	// Past the TTL with the market 3% higher.
	vendor.Daily["XYZ"] = flatDaily(103)
	desk.now = func() time.Time { return tradeClock.Add(time.Hour) }

	exec, err := desk.ExecuteTrade(context.Background(), "u1", p.ID)
	require.NoError(t, err)

	assert.True(t, exec.DriftWarning)
	assert.InDelta(t, 0.03, exec.DriftPct, 1e-9)
	assert.Equal(t, 103.0, exec.Ticket.EstPrice)

	// The stored preview was refreshed.
	got, err := desk.GetPreview("u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1030.0, got.EstCost)
	assert.False(t, got.Expired(desk.now()))
}

func TestExecuteTrade_ExpiredSmallMoveNoWarning(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["XYZ"] = flatDaily(100)
	desk := deskAt(t, vendor, tradeClock)

	p, err := desk.PreviewTrade(context.Background(), "u1", "XYZ", "BUY", 10)
	require.NoError(t, err)

	vendor.Daily["XYZ"] = flatDaily(100.5)
	desk.now = func() time.Time { return tradeClock.Add(time.Hour) }

	exec, err := desk.ExecuteTrade(context.Background(), "u1", p.ID)
	require.NoError(t, err)
	assert.False(t, exec.DriftWarning)
	assert.Equal(t, 100.5, exec.Ticket.EstPrice)
}

type fakeRouter struct {
	tickets []OrderTicket
	err     error
}

func (f *fakeRouter) Submit(_ context.Context, ticket OrderTicket) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tickets = append(f.tickets, ticket)
	return "broker-123", nil
}

func TestExecuteTrade_RouterSubmits(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["XYZ"] = flatDaily(40)
	desk := deskAt(t, vendor, tradeClock)
	router := &fakeRouter{}
	desk.router = router

	p, err := desk.PreviewTrade(context.Background(), "u1", "XYZ", "BUY", 5)
	require.NoError(t, err)

	exec, err := desk.ExecuteTrade(context.Background(), "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "submitted", exec.Status)
	assert.Equal(t, "broker-123", exec.BrokerRef)
	require.Len(t, router.tickets, 1)

	router.err = errors.New("gateway down")
	p2, err := desk.PreviewTrade(context.Background(), "u1", "XYZ", "BUY", 5)
	require.NoError(t, err)
	_, err = desk.ExecuteTrade(context.Background(), "u1", p2.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderUnavailable, domain.KindOf(err))
}

func TestPreviewBasketTrade_AllocatesLegs(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["AAA"] = flatDaily(100)
	vendor.Daily["BBB"] = flatDaily(200)
	desk := deskAt(t, vendor, tradeClock)

	require.NoError(t, desk.baskets.Create(&baskets.Basket{
		UserID: "u1", Name: "pair", Tickers: []string{"AAA", "BBB", "GHOST"},
	}))

	bp, err := desk.PreviewBasketTrade(context.Background(), "u1", "pair", 9000, nil)
	require.NoError(t, err)

	require.Len(t, bp.Legs, 2)
	require.Len(t, bp.Skipped, 1)
	assert.Contains(t, bp.Skipped[0], "GHOST")

	byTicker := map[string]*Preview{}
	for _, leg := range bp.Legs {
		assert.Equal(t, bp.GroupID, leg.GroupID)
		byTicker[leg.Symbol] = leg
	}
	// Equal thirds of 9000: 3000 at 100 and 3000 at 200.
	assert.InDelta(t, 30.0, byTicker["AAA"].Quantity, 1e-9)
	assert.InDelta(t, 15.0, byTicker["BBB"].Quantity, 1e-9)
}

func TestExecuteBasketTrade_RunsEveryLeg(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["AAA"] = flatDaily(100)
	vendor.Daily["BBB"] = flatDaily(200)
	desk := deskAt(t, vendor, tradeClock)

	require.NoError(t, desk.baskets.Create(&baskets.Basket{
		UserID: "u1", Name: "pair", Tickers: []string{"AAA", "BBB"},
	}))
	bp, err := desk.PreviewBasketTrade(context.Background(), "u1", "pair", 9000, nil)
	require.NoError(t, err)

	exec, err := desk.ExecuteBasketTrade(context.Background(), "u1", bp.GroupID)
	require.NoError(t, err)
	assert.Len(t, exec.Executions, 2)
	assert.False(t, exec.DriftWarning)

	_, err = desk.ExecuteBasketTrade(context.Background(), "u1", "no-such-group")
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCleanupExpired(t *testing.T) {
	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["AAA"] = flatDaily(100)
	desk := deskAt(t, vendor, tradeClock)

	require.NoError(t, desk.baskets.Create(&baskets.Basket{
		UserID: "u1", Name: "solo", Tickers: []string{"AAA"},
	}))
	bp, err := desk.PreviewBasketTrade(context.Background(), "u1", "solo", 1000, nil)
	require.NoError(t, err)
	single, err := desk.PreviewTrade(context.Background(), "u1", "AAA", "BUY", 1)
	require.NoError(t, err)

	deleted, err := desk.CleanupExpired(tradeClock.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = desk.GetPreview("u1", single.ID)
	require.Error(t, err)

	var groups int
	require.NoError(t, desk.db.QueryRow(`SELECT COUNT(*) FROM basket_trade_groups WHERE id = ?`, bp.GroupID).Scan(&groups))
	assert.Zero(t, groups)
}
