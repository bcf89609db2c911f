package providers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcore/internal/domain"
)

func TestRegistry_FetchAllJoinsProviders(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	schwab := NewFakeAdapter(domain.SourceSchwab)
	schwab.Positions = []domain.Position{
		{Symbol: "VTI", Quantity: 100, UnitPrice: 250, CostBasis: 20000, Currency: "USD", AccountID: "S1", Type: domain.InstrumentETF},
	}
	schwab.Transactions = []domain.Transaction{
		{TradeDate: asOf.AddDate(0, -1, 0), Type: domain.TxDeposit, Amount: 10000, AccountID: "S1"},
	}

	ibkr := NewFakeAdapter(domain.SourceIBKR)
	ibkr.Positions = []domain.Position{
		{Symbol: "ES", Quantity: 2, UnitPrice: 5600, CostBasis: 1, Currency: "USD", AccountID: "I1", Type: domain.InstrumentFutures, ContractMonth: "202409"},
	}

	registry := NewRegistry(zerolog.Nop(), schwab, ibkr)
	result := registry.FetchAll(context.Background(), asOf, asOf.AddDate(-1, 0, 0), asOf)

	assert.Len(t, result.Positions, 2)
	assert.Len(t, result.Transactions, 1)
	require.Len(t, result.Flows, 1)
	assert.Equal(t, domain.FlowExternal, result.Flows[0].Class)
	assert.Empty(t, result.ExcludedSources)
}

func TestRegistry_FailedProviderIsExcludedNotFatal(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	schwab := NewFakeAdapter(domain.SourceSchwab)
	schwab.Positions = []domain.Position{
		{Symbol: "VTI", Quantity: 100, UnitPrice: 250, CostBasis: 20000, Currency: "USD", AccountID: "S1", Type: domain.InstrumentETF},
	}
	plaid := NewFakeAdapter(domain.SourcePlaid).WithFailure("gateway down")

	registry := NewRegistry(zerolog.Nop(), schwab, plaid)
	result := registry.FetchAll(context.Background(), asOf, asOf.AddDate(-1, 0, 0), asOf)

	assert.Len(t, result.Positions, 1)
	assert.Equal(t, []string{"plaid"}, result.ExcludedSources)
}

func TestRegistry_SourcesSorted(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(),
		NewFakeAdapter(domain.SourceSnaptrade),
		NewFakeAdapter(domain.SourceSchwab),
		NewFakeAdapter(domain.SourceManual),
	)

	sources := registry.Sources()
	require.Len(t, sources, 3)
	for i := 1; i < len(sources); i++ {
		assert.True(t, sources[i-1] < sources[i])
	}
	assert.NotNil(t, registry.Get(domain.SourceSchwab))
	assert.Nil(t, registry.Get(domain.SourceIBKR))
}
