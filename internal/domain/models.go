// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"strings"
	"time"
)

// InstrumentType classifies a tradable instrument.
type InstrumentType string

const (
	InstrumentEquity  InstrumentType = "equity"
	InstrumentETF     InstrumentType = "etf"
	InstrumentBond    InstrumentType = "bond"
	InstrumentFutures InstrumentType = "futures"
	InstrumentCash    InstrumentType = "cash"
)

// ProviderSource identifies where a position or transaction was reported from.
type ProviderSource string

const (
	SourceSchwab    ProviderSource = "native_schwab"
	SourceIBKR      ProviderSource = "native_ibkr"
	SourcePlaid     ProviderSource = "aggregator_plaid"
	SourceSnaptrade ProviderSource = "aggregator_snaptrade"
	SourceManual    ProviderSource = "manual"
)

// IsNative reports whether the source is a broker's own authoritative API.
func (s ProviderSource) IsNative() bool {
	return s == SourceSchwab || s == SourceIBKR
}

// IsAggregator reports whether the source mirrors positions from brokers.
func (s ProviderSource) IsAggregator() bool {
	return s == SourcePlaid || s == SourceSnaptrade
}

// Known reports whether the source is one of the configured provider kinds.
func (s ProviderSource) Known() bool {
	switch s {
	case SourceSchwab, SourceIBKR, SourcePlaid, SourceSnaptrade, SourceManual:
		return true
	}
	return false
}

// ShortName returns the scope name used in API requests ("schwab", "plaid"...).
func (s ProviderSource) ShortName() string {
	switch s {
	case SourceSchwab:
		return "schwab"
	case SourceIBKR:
		return "ibkr"
	case SourcePlaid:
		return "plaid"
	case SourceSnaptrade:
		return "snaptrade"
	case SourceManual:
		return "manual"
	}
	return string(s)
}

// SourceFromShortName maps a scope name back to a provider source.
// Unknown names return an empty source.
func SourceFromShortName(name string) ProviderSource {
	switch strings.ToLower(name) {
	case "schwab":
		return SourceSchwab
	case "ibkr":
		return SourceIBKR
	case "plaid":
		return SourcePlaid
	case "snaptrade":
		return SourceSnaptrade
	case "manual":
		return SourceManual
	}
	return ProviderSource("")
}

// FuturesAssetClass categorizes futures contracts.
type FuturesAssetClass string

const (
	FuturesEquityIndex FuturesAssetClass = "equity_index"
	FuturesFixedIncome FuturesAssetClass = "fixed_income"
	FuturesMetals      FuturesAssetClass = "metals"
	FuturesEnergy      FuturesAssetClass = "energy"
	FuturesAgriculture FuturesAssetClass = "agricultural"
	FuturesFX          FuturesAssetClass = "fx"
)

// Instrument identifies a security by root symbol plus classification.
// Futures additionally carry a contract month (YYYYMM). Equality is
// case-insensitive on the root plus the contract month when present.
type Instrument struct {
	Symbol        string         `json:"symbol"`
	Type          InstrumentType `json:"type"`
	ContractMonth string         `json:"contract_month,omitempty"` // YYYYMM, futures only
}

// Key returns the canonical interning key for the instrument.
func (i Instrument) Key() string {
	key := strings.ToUpper(i.Symbol)
	if i.ContractMonth != "" {
		key += ":" + i.ContractMonth
	}
	return key
}

// Position represents a single holding as reported by one provider.
type Position struct {
	Symbol        string         `json:"symbol"`
	Quantity      float64        `json:"quantity"` // signed; shorts are negative
	UnitPrice     float64        `json:"unit_price"`
	Currency      string         `json:"currency"`
	CostBasis     float64        `json:"cost_basis"`
	AccountID     string         `json:"account_id"`
	Source        ProviderSource `json:"provider_source"`
	BrokerageName string         `json:"brokerage_name"`
	Type          InstrumentType `json:"instrument_type"`
	ContractMonth string         `json:"contract_month,omitempty"`
	// Synthetic marks positions with provider-missing cost basis; they are
	// flagged in data quality output and excluded from some realized metrics.
	Synthetic bool `json:"synthetic,omitempty"`
}

// TransactionType enumerates ledger entry types across providers.
type TransactionType string

const (
	TxBuy             TransactionType = "BUY"
	TxSell            TransactionType = "SELL"
	TxDividend        TransactionType = "DIVIDEND"
	TxInterest        TransactionType = "INTEREST"
	TxDeposit         TransactionType = "DEPOSIT"
	TxWithdrawal      TransactionType = "WITHDRAWAL"
	TxFee             TransactionType = "FEE"
	TxCashback        TransactionType = "CASHBACK"
	TxTransferIn      TransactionType = "TRANSFER_IN"
	TxTransferOut     TransactionType = "TRANSFER_OUT"
	TxCorporateAction TransactionType = "CORPORATE_ACTION"
	TxSystemTransfer  TransactionType = "SYSTEM_TRANSFER"
)

// Transaction is a normalized ledger entry.
type Transaction struct {
	TradeDate      time.Time       `json:"trade_date"`
	SettlementDate time.Time       `json:"settlement_date"`
	Symbol         string          `json:"symbol"`
	Quantity       float64         `json:"quantity"`
	Price          float64         `json:"price"`
	Amount         float64         `json:"amount"` // signed cash impact
	Type           TransactionType `json:"type"`
	AccountID      string          `json:"account_id"`
	Currency       string          `json:"currency"`
	Source         ProviderSource  `json:"provider_source"`
}

// FlowDirection indicates cash flow direction relative to the account.
type FlowDirection string

const (
	FlowIn  FlowDirection = "in"
	FlowOut FlowDirection = "out"
)

// FlowClass separates client contributions/withdrawals from internal moves.
type FlowClass string

const (
	FlowExternal FlowClass = "external"
	FlowInternal FlowClass = "internal"
)

// FlowEvent is a dated cash flow. Inflows and outflows on the same day are
// tracked separately and never netted, which the GIPS mixed-flow return
// formula depends on.
type FlowEvent struct {
	Date      time.Time      `json:"date"`
	AccountID string         `json:"account_id"`
	Direction FlowDirection  `json:"direction"`
	Amount    float64        `json:"amount"` // always positive
	Class     FlowClass      `json:"classification"`
	Source    ProviderSource `json:"provider_source"`
}

// FactorProxies maps factor names to proxy tickers for one asset.
// Subindustry may be a composite of several tickers.
type FactorProxies struct {
	Market      string   `json:"market"`
	Momentum    string   `json:"momentum,omitempty"`
	Value       string   `json:"value,omitempty"`
	Industry    string   `json:"industry,omitempty"`
	Subindustry []string `json:"subindustry,omitempty"`
	Commodity   string   `json:"commodity,omitempty"`
	Rate        string   `json:"rate,omitempty"`
}

// Empty reports whether the proxy set carries no factors at all.
func (p FactorProxies) Empty() bool {
	return p.Market == "" && p.Momentum == "" && p.Value == "" &&
		p.Industry == "" && len(p.Subindustry) == 0 && p.Commodity == "" && p.Rate == ""
}

// Columns returns the flat list of factor columns this asset loads on.
func (p FactorProxies) Columns() []string {
	var cols []string
	if p.Market != "" {
		cols = append(cols, "market")
	}
	if p.Momentum != "" {
		cols = append(cols, "momentum")
	}
	if p.Value != "" {
		cols = append(cols, "value")
	}
	if p.Industry != "" {
		cols = append(cols, "industry")
	}
	if len(p.Subindustry) > 0 {
		cols = append(cols, "subindustry")
	}
	if p.Commodity != "" {
		cols = append(cols, "commodity")
	}
	if p.Rate != "" {
		cols = append(cols, "rate")
	}
	return cols
}

// CanonicalPosition is one entry of the canonical portfolio.
type CanonicalPosition struct {
	Symbol        string         `json:"symbol"`
	Quantity      float64        `json:"quantity"`
	MarginValue   float64        `json:"margin_value"`   // broker-reported value (cash outlay)
	NotionalValue float64        `json:"notional_value"` // qty * price * multiplier for futures
	Weight        float64        `json:"weight_by_notional"`
	Currency      string         `json:"currency"`
	Type          InstrumentType `json:"classification"`
	AssetClass    string         `json:"asset_class,omitempty"` // canonical class; futures fixed income maps to "bond"
	AccountID     string         `json:"account_id"`
	Source        ProviderSource `json:"provider_source"`
	Proxies       FactorProxies  `json:"factor_proxies"`
	Synthetic     bool           `json:"synthetic,omitempty"`
}

// CanonicalPortfolio is the merged multi-provider view for one user and
// as-of date. Weights are normalized over the gross notional of non-cash
// positions.
type CanonicalPortfolio struct {
	UserID           string                       `json:"user_id"`
	AsOf             time.Time                    `json:"as_of"`
	Positions        map[string]CanonicalPosition `json:"positions"` // keyed by instrument key
	CashBalance      float64                      `json:"cash_balance"`
	MarginTotal      float64                      `json:"margin_total"` // NAV
	GrossNotional    float64                      `json:"gross_notional"`
	NotionalLeverage float64                      `json:"notional_leverage"` // 1.0 for equity-only
	Quality          DataQuality                  `json:"data_quality"`
}

// NonCashSymbols returns the sorted instrument keys of non-cash positions.
func (p *CanonicalPortfolio) NonCashSymbols() []string {
	keys := make([]string, 0, len(p.Positions))
	for key, pos := range p.Positions {
		if pos.Type != InstrumentCash {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Weights returns the weight map over non-cash positions.
func (p *CanonicalPortfolio) Weights() map[string]float64 {
	weights := make(map[string]float64, len(p.Positions))
	for key, pos := range p.Positions {
		if pos.Type != InstrumentCash {
			weights[key] = pos.Weight
		}
	}
	return weights
}

// DataQuality accumulates partial-failure information for one analysis run.
type DataQuality struct {
	ExcludedSources    []string `json:"excluded_sources,omitempty"`
	CrossSourceLeakage []string `json:"cross_source_leakage,omitempty"`
	MissingPrices      []string `json:"missing_prices,omitempty"`
	SyntheticPositions int      `json:"synthetic_positions,omitempty"`
	CoverageStart      string   `json:"coverage_start,omitempty"`
	CoverageEnd        string   `json:"coverage_end,omitempty"`
	AccountFingerprint map[string]string `json:"account_fingerprints,omitempty"`
}
