// Package contracts provides the static futures contract catalog and
// calendar-roll construction.
package contracts

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// ContractSpec describes one futures contract root. Specs are immutable;
// the catalog hands out copies by value.
type ContractSpec struct {
	Symbol     string                   `json:"symbol"`
	Name       string                   `json:"name"`
	Multiplier float64                  `json:"multiplier"`
	TickSize   float64                  `json:"tick_size"`
	Currency   string                   `json:"currency"`
	Exchange   string                   `json:"exchange"`
	AssetClass domain.FuturesAssetClass `json:"asset_class"`
}

// Notional returns the economic exposure for a quantity at a price.
func (s ContractSpec) Notional(quantity, price float64) float64 {
	return quantity * price * s.Multiplier
}

// PointValue returns the currency value of a one-point move per contract.
func (s ContractSpec) PointValue() float64 {
	return s.Multiplier
}

// TickValue returns the currency value of a one-tick move per contract.
func (s ContractSpec) TickValue() float64 {
	return s.TickSize * s.Multiplier
}

// PnL returns profit for q contracts between entry and exit prices.
func (s ContractSpec) PnL(quantity, entry, exit float64) float64 {
	return quantity * s.Multiplier * (exit - entry)
}

// ContractMonth is one listed expiry of a contract root.
type ContractMonth struct {
	ContractMonth string    `json:"contract_month"` // YYYYMM
	LastTradeDate time.Time `json:"last_trade_date"`
	ConID         int64     `json:"con_id"`
}

// MonthLister is the broker-gateway boundary used to enumerate listed months.
type MonthLister interface {
	ListContractMonths(ctx context.Context, symbol string) ([]ContractMonth, error)
}

// Catalog is the process-wide registry of futures contract specs.
type Catalog struct {
	specs  map[string]ContractSpec
	months MonthLister // optional; nil disables ListMonths
	log    zerolog.Logger
}

// New creates a catalog seeded with the default contract set.
func New(months MonthLister, log zerolog.Logger) *Catalog {
	specs := make(map[string]ContractSpec, len(defaultSpecs))
	for _, s := range defaultSpecs {
		specs[s.Symbol] = s
	}
	return &Catalog{
		specs:  specs,
		months: months,
		log:    log.With().Str("component", "contracts").Logger(),
	}
}

// Lookup returns the spec for a root symbol, or nil if unknown.
// Callers must surface a clear error for unknown symbols.
func (c *Catalog) Lookup(symbol string) *ContractSpec {
	spec, ok := c.specs[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	// Copy so callers cannot mutate catalog state.
	out := spec
	return &out
}

// Symbols returns the sorted list of known contract roots.
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.specs))
	for sym := range c.specs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ListMonths returns the unexpired listed months for a root, sorted
// ascending by last-trade date.
func (c *Catalog) ListMonths(ctx context.Context, symbol string) ([]ContractMonth, error) {
	sym := strings.ToUpper(symbol)
	if c.Lookup(sym) == nil {
		return nil, domain.NewValidation("unknown futures symbol %q", symbol)
	}
	if c.months == nil {
		return nil, domain.NewProviderUnavailable("futures_gateway", nil)
	}

	months, err := c.months.ListContractMonths(ctx, sym)
	if err != nil {
		return nil, domain.NewProviderUnavailable("futures_gateway", err)
	}

	now := time.Now()
	active := months[:0]
	for _, m := range months {
		if m.LastTradeDate.After(now) {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastTradeDate.Before(active[j].LastTradeDate)
	})

	c.log.Debug().
		Str("symbol", sym).
		Int("listed", len(months)).
		Int("active", len(active)).
		Msg("Listed contract months")

	return active, nil
}

// defaultSpecs is the shipped contract set. Multipliers and tick sizes follow
// exchange specifications.
var defaultSpecs = []ContractSpec{
	{Symbol: "ES", Name: "E-mini S&P 500", Multiplier: 50, TickSize: 0.25, Currency: "USD", Exchange: "CME", AssetClass: domain.FuturesEquityIndex},
	{Symbol: "NQ", Name: "E-mini Nasdaq-100", Multiplier: 20, TickSize: 0.25, Currency: "USD", Exchange: "CME", AssetClass: domain.FuturesEquityIndex},
	{Symbol: "RTY", Name: "E-mini Russell 2000", Multiplier: 50, TickSize: 0.10, Currency: "USD", Exchange: "CME", AssetClass: domain.FuturesEquityIndex},
	{Symbol: "YM", Name: "E-mini Dow", Multiplier: 5, TickSize: 1.0, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesEquityIndex},
	{Symbol: "ZN", Name: "10-Year T-Note", Multiplier: 1000, TickSize: 0.015625, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesFixedIncome},
	{Symbol: "ZB", Name: "30-Year T-Bond", Multiplier: 1000, TickSize: 0.03125, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesFixedIncome},
	{Symbol: "ZF", Name: "5-Year T-Note", Multiplier: 1000, TickSize: 0.0078125, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesFixedIncome},
	{Symbol: "GC", Name: "Gold", Multiplier: 100, TickSize: 0.10, Currency: "USD", Exchange: "COMEX", AssetClass: domain.FuturesMetals},
	{Symbol: "SI", Name: "Silver", Multiplier: 5000, TickSize: 0.005, Currency: "USD", Exchange: "COMEX", AssetClass: domain.FuturesMetals},
	{Symbol: "HG", Name: "Copper", Multiplier: 25000, TickSize: 0.0005, Currency: "USD", Exchange: "COMEX", AssetClass: domain.FuturesMetals},
	{Symbol: "CL", Name: "Crude Oil", Multiplier: 1000, TickSize: 0.01, Currency: "USD", Exchange: "NYMEX", AssetClass: domain.FuturesEnergy},
	{Symbol: "NG", Name: "Natural Gas", Multiplier: 10000, TickSize: 0.001, Currency: "USD", Exchange: "NYMEX", AssetClass: domain.FuturesEnergy},
	{Symbol: "ZC", Name: "Corn", Multiplier: 50, TickSize: 0.25, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesAgriculture},
	{Symbol: "ZS", Name: "Soybeans", Multiplier: 50, TickSize: 0.25, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesAgriculture},
	{Symbol: "ZW", Name: "Wheat", Multiplier: 50, TickSize: 0.25, Currency: "USD", Exchange: "CBOT", AssetClass: domain.FuturesAgriculture},
	{Symbol: "6E", Name: "Euro FX", Multiplier: 125000, TickSize: 0.00005, Currency: "USD", Exchange: "CME", AssetClass: domain.FuturesFX},
	{Symbol: "6J", Name: "Japanese Yen", Multiplier: 12500000, TickSize: 0.0000005, Currency: "USD", Exchange: "CME", AssetClass: domain.FuturesFX},
	{Symbol: "6B", Name: "British Pound", Multiplier: 62500, TickSize: 0.0001, Currency: "USD", Exchange: "CME", AssetClass: domain.FuturesFX},
}
