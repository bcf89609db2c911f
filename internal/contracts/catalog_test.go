package contracts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_LookupES(t *testing.T) {
	cat := New(nil, zerolog.Nop())

	spec := cat.Lookup("es")
	require.NotNil(t, spec, "lookup should be case-insensitive")

	assert.Equal(t, 50.0, spec.Multiplier)
	assert.Equal(t, 0.25, spec.TickSize)
	assert.Equal(t, "CME", spec.Exchange)

	// 2 contracts of ES at 5600
	assert.InDelta(t, 560000.0, spec.Notional(2, 5600), 1e-9)
	assert.InDelta(t, 50.0, spec.PointValue(), 1e-9)
	assert.InDelta(t, 12.50, spec.TickValue(), 1e-9)
}

func TestCatalog_LookupUnknownReturnsNil(t *testing.T) {
	cat := New(nil, zerolog.Nop())
	assert.Nil(t, cat.Lookup("NOPE"))
}

func TestContractSpec_PnL(t *testing.T) {
	cat := New(nil, zerolog.Nop())
	spec := cat.Lookup("GC")
	require.NotNil(t, spec)

	// Long 3 gold contracts, 1950 -> 1975: 3 * 100 * 25
	assert.InDelta(t, 7500.0, spec.PnL(3, 1950, 1975), 1e-9)
	// Short position loses
	assert.InDelta(t, -7500.0, spec.PnL(-3, 1950, 1975), 1e-9)
}

func TestBuildRoll_LongRoll(t *testing.T) {
	cat := New(nil, zerolog.Nop())

	spread, err := cat.BuildRoll("ES", "202603", "202606", LongRoll)
	require.NoError(t, err)

	assert.Equal(t, "ES", spread.Symbol)
	assert.Equal(t, "BUY", spread.Action, "BAG action is BUY by spread convention")
	assert.Equal(t, SpreadLeg{Action: "SELL", ContractMonth: "202603"}, spread.Legs[0])
	assert.Equal(t, SpreadLeg{Action: "BUY", ContractMonth: "202606"}, spread.Legs[1])
}

func TestBuildRoll_ShortRoll(t *testing.T) {
	cat := New(nil, zerolog.Nop())

	spread, err := cat.BuildRoll("CL", "202604", "202607", ShortRoll)
	require.NoError(t, err)

	assert.Equal(t, SpreadLeg{Action: "BUY", ContractMonth: "202604"}, spread.Legs[0])
	assert.Equal(t, SpreadLeg{Action: "SELL", ContractMonth: "202607"}, spread.Legs[1])
}

func TestBuildRoll_Validation(t *testing.T) {
	cat := New(nil, zerolog.Nop())

	_, err := cat.BuildRoll("NOPE", "202603", "202606", LongRoll)
	assert.Error(t, err)

	_, err = cat.BuildRoll("ES", "2026-03", "202606", LongRoll)
	assert.Error(t, err, "non-YYYYMM month should be rejected")

	_, err = cat.BuildRoll("ES", "202606", "202603", LongRoll)
	assert.Error(t, err, "front month after back month should be rejected")

	_, err = cat.BuildRoll("ES", "202613", "202701", LongRoll)
	assert.Error(t, err, "month 13 should be rejected")
}

type fakeMonthLister struct {
	months []ContractMonth
	err    error
}

func (f *fakeMonthLister) ListContractMonths(_ context.Context, _ string) ([]ContractMonth, error) {
	return f.months, f.err
}

func TestListMonths_FiltersExpiredAndSorts(t *testing.T) {
	now := time.Now()
	lister := &fakeMonthLister{
		months: []ContractMonth{
			{ContractMonth: "202609", LastTradeDate: now.AddDate(0, 7, 0), ConID: 3},
			{ContractMonth: "202512", LastTradeDate: now.AddDate(0, -2, 0), ConID: 1}, // expired
			{ContractMonth: "202606", LastTradeDate: now.AddDate(0, 4, 0), ConID: 2},
		},
	}
	cat := New(lister, zerolog.Nop())

	months, err := cat.ListMonths(context.Background(), "ES")
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "202606", months[0].ContractMonth)
	assert.Equal(t, "202609", months[1].ContractMonth)
}

func TestListMonths_UnknownSymbol(t *testing.T) {
	cat := New(&fakeMonthLister{}, zerolog.Nop())
	_, err := cat.ListMonths(context.Background(), "WAT")
	assert.Error(t, err)
}
