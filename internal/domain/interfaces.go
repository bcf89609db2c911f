package domain

import (
	"context"
	"time"
)

// ProviderAdapter is the single interface every broker/aggregator adapter
// implements. Downstream code dispatches on the ProviderSource variant only
// at classification points; the numerical engines never see providers.
type ProviderAdapter interface {
	Source() ProviderSource
	FetchPositions(ctx context.Context, asOf time.Time) ([]Position, error)
	FetchTransactions(ctx context.Context, start, end time.Time) ([]Transaction, error)
	DeriveFlows(transactions []Transaction) []FlowEvent
}
