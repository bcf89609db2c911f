package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// Registry holds the enabled provider adapters and fans requests out to all
// of them in parallel. A failed provider never fails the batch; its source
// name is reported so the canonicalizer can record it as excluded.
type Registry struct {
	adapters map[domain.ProviderSource]domain.ProviderAdapter
	log      zerolog.Logger
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(log zerolog.Logger, adapters ...domain.ProviderAdapter) *Registry {
	m := make(map[domain.ProviderSource]domain.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Source()] = a
	}
	return &Registry{
		adapters: m,
		log:      log.With().Str("component", "providers").Logger(),
	}
}

// Get returns the adapter for a source, or nil.
func (r *Registry) Get(source domain.ProviderSource) domain.ProviderAdapter {
	return r.adapters[source]
}

// Sources returns the enabled sources, sorted for stable output.
func (r *Registry) Sources() []domain.ProviderSource {
	out := make([]domain.ProviderSource, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FetchResult is the joined output of a parallel fan-out.
type FetchResult struct {
	Positions    []domain.Position
	Transactions []domain.Transaction
	Flows        []domain.FlowEvent
	// ExcludedSources lists providers that failed, by short name, sorted.
	ExcludedSources []string
}

// FetchAll fans position and transaction fetches out to every enabled
// provider and joins the results before canonicalization. Per-provider
// failures are collected, not propagated.
func (r *Registry) FetchAll(ctx context.Context, asOf time.Time, txStart, txEnd time.Time) FetchResult {
	var mu sync.Mutex
	var wg sync.WaitGroup
	result := FetchResult{}

	for _, adapter := range r.adapters {
		adapter := adapter
		wg.Add(1)
		go func() {
			defer wg.Done()

			positions, posErr := adapter.FetchPositions(ctx, asOf)
			txs, txErr := adapter.FetchTransactions(ctx, txStart, txEnd)

			mu.Lock()
			defer mu.Unlock()
			if posErr != nil || txErr != nil {
				err := posErr
				if err == nil {
					err = txErr
				}
				r.log.Warn().Str("source", adapter.Source().ShortName()).Err(err).
					Msg("Provider fetch failed, excluding from run")
				result.ExcludedSources = append(result.ExcludedSources, adapter.Source().ShortName())
				return
			}
			result.Positions = append(result.Positions, positions...)
			result.Transactions = append(result.Transactions, txs...)
			result.Flows = append(result.Flows, adapter.DeriveFlows(txs)...)
		}()
	}
	wg.Wait()

	sort.Strings(result.ExcludedSources)
	return result
}
