package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcore/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildTimeline_BuySellHoldings(t *testing.T) {
	txs := []domain.Transaction{
		{TradeDate: day(2024, 1, 2), Symbol: "AAPL", Quantity: 100, Price: 180, Type: domain.TxBuy, AccountID: "A1", Currency: "USD"},
		{TradeDate: day(2024, 2, 5), Symbol: "AAPL", Quantity: 40, Price: 190, Type: domain.TxSell, AccountID: "A1", Currency: "USD"},
	}
	tl := buildTimeline("A1", txs, nil, nil, day(2024, 3, 1))

	assert.Equal(t, day(2024, 1, 2), tl.Inception)

	holdings := tl.holdingsOn(day(2024, 1, 31))
	require.Len(t, holdings, 1)
	assert.Equal(t, 100.0, holdings[keyFor("A1", "AAPL", "USD", 1)])

	holdings = tl.holdingsOn(day(2024, 2, 28))
	assert.Equal(t, 60.0, holdings[keyFor("A1", "AAPL", "USD", 1)])

	// Cash: -18000 buy, +7600 sell.
	assert.InDelta(t, -18000.0, tl.cashOn(day(2024, 1, 31)), 1e-9)
	assert.InDelta(t, -18000.0+7600.0, tl.cashOn(day(2024, 2, 28)), 1e-9)
}

func TestBuildTimeline_FlowsFillCashAndFlowSeries(t *testing.T) {
	flows := []domain.FlowEvent{
		{Date: day(2024, 1, 2), AccountID: "A1", Direction: domain.FlowIn, Amount: 100000, Class: domain.FlowExternal},
		{Date: day(2024, 2, 1), AccountID: "A1", Direction: domain.FlowOut, Amount: 2000, Class: domain.FlowExternal},
		// Internal flows never enter the external flow series.
		{Date: day(2024, 2, 1), AccountID: "A1", Direction: domain.FlowIn, Amount: 300, Class: domain.FlowInternal},
	}
	tl := buildTimeline("A1", nil, flows, nil, day(2024, 3, 1))

	assert.Equal(t, DayFlows{In: 100000}, tl.Flows[day(2024, 1, 2)])
	assert.Equal(t, DayFlows{Out: 2000}, tl.Flows[day(2024, 2, 1)])
	assert.InDelta(t, 98000.0, tl.cashOn(day(2024, 2, 28)), 1e-9)
}

func TestBuildTimeline_SeedsUnknownHistory(t *testing.T) {
	flows := []domain.FlowEvent{
		{Date: day(2024, 1, 2), AccountID: "A1", Direction: domain.FlowIn, Amount: 50000, Class: domain.FlowExternal},
	}
	current := []domain.Position{
		{Symbol: "MSFT", Quantity: 25, AccountID: "A1", Currency: "USD", Type: domain.InstrumentEquity},
		{Symbol: "CUR:USD", Quantity: 5000, AccountID: "A1", Currency: "USD", Type: domain.InstrumentCash},
		{Symbol: "NVDA", Quantity: 10, AccountID: "A2", Currency: "USD", Type: domain.InstrumentEquity},
	}
	tl := buildTimeline("A1", nil, flows, current, day(2024, 3, 1))

	// Only the equity position of this account gets a compensating entry.
	assert.Equal(t, 1, tl.Synthetic)
	holdings := tl.holdingsOn(day(2024, 1, 2))
	assert.Equal(t, 25.0, holdings[keyFor("A1", "MSFT", "USD", 1)])
}

func TestBuildTimeline_TransferDoesNotDoubleCount(t *testing.T) {
	txs := []domain.Transaction{
		{TradeDate: day(2024, 2, 1), Symbol: "VTI", Quantity: 50, Price: 250, Type: domain.TxSystemTransfer, AccountID: "A1", Currency: "USD"},
	}
	current := []domain.Position{
		{Symbol: "VTI", Quantity: 50, AccountID: "A1", Currency: "USD", Type: domain.InstrumentEquity},
	}
	tl := buildTimeline("A1", txs, nil, current, day(2024, 3, 1))

	// The transfer event covers the position; no synthetic seed on top.
	assert.Equal(t, 0, tl.Synthetic)
	holdings := tl.holdingsOn(day(2024, 2, 28))
	assert.Equal(t, 50.0, holdings[keyFor("A1", "VTI", "USD", 1)])

	// Before the transfer date the position does not exist.
	assert.Empty(t, tl.holdingsOn(day(2024, 1, 15)))
}

func TestBuildTimeline_DividendAndFeeCashOnly(t *testing.T) {
	txs := []domain.Transaction{
		{TradeDate: day(2024, 1, 10), Symbol: "AAPL", Amount: 120, Type: domain.TxDividend, AccountID: "A1"},
		{TradeDate: day(2024, 1, 20), Amount: -15, Type: domain.TxFee, AccountID: "A1"},
	}
	tl := buildTimeline("A1", txs, nil, nil, day(2024, 2, 1))

	assert.Empty(t, tl.holdingsOn(day(2024, 1, 31)))
	assert.InDelta(t, 105.0, tl.cashOn(day(2024, 1, 31)), 1e-9)
	// Neither entry is an external flow.
	assert.Empty(t, tl.Flows)
}
