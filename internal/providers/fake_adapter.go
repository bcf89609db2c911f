package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskcore/internal/domain"
)

// FakeAdapter is an in-memory ProviderAdapter used by tests across packages.
type FakeAdapter struct {
	Src          domain.ProviderSource
	Positions    []domain.Position
	Transactions []domain.Transaction
	Err          error
}

// NewFakeAdapter creates an empty fake for a source.
func NewFakeAdapter(src domain.ProviderSource) *FakeAdapter {
	return &FakeAdapter{Src: src}
}

func (f *FakeAdapter) Source() domain.ProviderSource { return f.Src }

func (f *FakeAdapter) FetchPositions(_ context.Context, _ time.Time) ([]domain.Position, error) {
	if f.Err != nil {
		return nil, domain.NewProviderUnavailable(f.Src.ShortName(), f.Err)
	}
	out := make([]domain.Position, len(f.Positions))
	for i, p := range f.Positions {
		out[i] = normalizePosition(p, f.Src)
	}
	return out, nil
}

func (f *FakeAdapter) FetchTransactions(_ context.Context, start, end time.Time) ([]domain.Transaction, error) {
	if f.Err != nil {
		return nil, domain.NewProviderUnavailable(f.Src.ShortName(), f.Err)
	}
	var out []domain.Transaction
	for _, tx := range f.Transactions {
		if tx.TradeDate.Before(start) || tx.TradeDate.After(end) {
			continue
		}
		tx.Source = f.Src
		out = append(out, tx)
	}
	return out, nil
}

func (f *FakeAdapter) DeriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	return deriveFlows(txs)
}

// WithFailure makes every fetch fail.
func (f *FakeAdapter) WithFailure(msg string) *FakeAdapter {
	f.Err = fmt.Errorf("%s", msg)
	return f
}
