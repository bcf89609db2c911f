package canonical

import (
	"strings"

	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
)

// Default proxy tickers for the factor columns. Overridable per symbol via
// ProxyAssigner.Overrides.
const (
	proxyMarket   = "SPY"
	proxyMomentum = "MTUM"
	proxyValue    = "VTV"
	proxyRate     = "IEF"

	proxyMetals      = "GLD"
	proxyEnergy      = "USO"
	proxyAgriculture = "DBA"
	proxyFX          = "UUP"
)

// sectorProxies maps a broad industry name to its sector ETF.
var sectorProxies = map[string]string{
	"technology":     "XLK",
	"financials":     "XLF",
	"healthcare":     "XLV",
	"energy":         "XLE",
	"industrials":    "XLI",
	"consumer":       "XLY",
	"staples":        "XLP",
	"utilities":      "XLU",
	"materials":      "XLB",
	"real_estate":    "VNQ",
	"communications": "XLC",
}

// assetClasses maps well-known tickers to a canonical asset class beyond what
// the instrument type implies. Classes in the rate-eligible set pick up the
// rate factor.
var assetClasses = map[string]string{
	"VNQ": "real_estate", "IYR": "real_estate", "SCHH": "real_estate", "O": "real_estate",
	"BND": "bond", "AGG": "bond", "TLT": "bond", "IEF": "bond", "SHY": "bond",
	"LQD": "bond", "HYG": "bond", "MUB": "bond", "TIP": "bond",
}

// industryBySymbol maps tickers to a broad industry for the sector factor.
// Unknown symbols carry no industry column.
var industryBySymbol = map[string]string{
	"AAPL": "technology", "MSFT": "technology", "NVDA": "technology", "GOOGL": "technology",
	"AMZN": "consumer", "TSLA": "consumer", "HD": "consumer",
	"JPM": "financials", "BAC": "financials", "GS": "financials", "BRK.B": "financials",
	"JNJ": "healthcare", "UNH": "healthcare", "PFE": "healthcare", "LLY": "healthcare",
	"XOM": "energy", "CVX": "energy", "COP": "energy",
	"CAT": "industrials", "BA": "industrials", "DE": "industrials",
	"PG": "staples", "KO": "staples", "PEP": "staples",
	"NEE": "utilities", "DUK": "utilities",
	"LIN": "materials", "FCX": "materials",
	"O": "real_estate", "VNQ": "real_estate",
	"VZ": "communications", "T": "communications", "META": "communications",
}

// ProxyAssigner resolves the factor-proxy set for each canonical position.
type ProxyAssigner struct {
	catalog *contracts.Catalog
	// RateClasses is the set of canonical asset classes eligible for the
	// rate factor (default bond, real_estate).
	rateClasses map[string]bool
	// Overrides replaces the derived proxy set for specific symbols.
	Overrides map[string]domain.FactorProxies
}

// NewProxyAssigner creates an assigner over a contract catalog.
func NewProxyAssigner(catalog *contracts.Catalog, rateClasses []string) *ProxyAssigner {
	set := make(map[string]bool, len(rateClasses))
	for _, c := range rateClasses {
		set[strings.ToLower(c)] = true
	}
	return &ProxyAssigner{
		catalog:     catalog,
		rateClasses: set,
		Overrides:   make(map[string]domain.FactorProxies),
	}
}

// AssetClass returns the canonical asset class for a position. Fixed-income
// futures map to "bond" so they pick up the rate factor.
func (a *ProxyAssigner) AssetClass(symbol string, instrumentType domain.InstrumentType) string {
	root := strings.ToUpper(symbol)
	if instrumentType == domain.InstrumentFutures {
		if spec := a.catalog.Lookup(root); spec != nil {
			if spec.AssetClass == domain.FuturesFixedIncome {
				return "bond"
			}
			return string(spec.AssetClass)
		}
		return string(domain.FuturesEquityIndex)
	}
	if class, ok := assetClasses[root]; ok {
		return class
	}
	switch instrumentType {
	case domain.InstrumentBond:
		return "bond"
	case domain.InstrumentETF:
		return "etf"
	case domain.InstrumentCash:
		return "cash"
	}
	return "equity"
}

// Assign returns the factor-proxy set for one symbol. Futures get
// asset-class proxies and never equity factors; equity noise must not
// contaminate the futures decomposition.
func (a *ProxyAssigner) Assign(symbol string, instrumentType domain.InstrumentType, assetClass string) domain.FactorProxies {
	root := strings.ToUpper(symbol)
	if override, ok := a.Overrides[root]; ok {
		return override
	}

	if instrumentType == domain.InstrumentFutures {
		return a.futuresProxies(root, assetClass)
	}

	proxies := domain.FactorProxies{
		Market:   proxyMarket,
		Momentum: proxyMomentum,
		Value:    proxyValue,
	}
	if industry, ok := industryBySymbol[root]; ok {
		proxies.Industry = sectorProxies[industry]
	}
	if a.rateClasses[strings.ToLower(assetClass)] {
		proxies.Rate = proxyRate
	}
	return proxies
}

func (a *ProxyAssigner) futuresProxies(root, assetClass string) domain.FactorProxies {
	spec := a.catalog.Lookup(root)
	if spec == nil {
		return domain.FactorProxies{Market: proxyMarket}
	}
	switch spec.AssetClass {
	case domain.FuturesEquityIndex:
		return domain.FactorProxies{Market: proxyMarket}
	case domain.FuturesFixedIncome:
		proxies := domain.FactorProxies{Market: proxyMarket}
		if a.rateClasses[strings.ToLower(assetClass)] {
			proxies.Rate = proxyRate
		}
		return proxies
	case domain.FuturesMetals:
		return domain.FactorProxies{Commodity: proxyMetals}
	case domain.FuturesEnergy:
		return domain.FactorProxies{Commodity: proxyEnergy}
	case domain.FuturesAgriculture:
		return domain.FactorProxies{Commodity: proxyAgriculture}
	case domain.FuturesFX:
		return domain.FactorProxies{Commodity: proxyFX}
	}
	return domain.FactorProxies{Market: proxyMarket}
}

// DefaultCashMap maps currency codes to their cash-proxy ETF.
func DefaultCashMap() map[string]string {
	return map[string]string{
		"USD": "BIL",
		"EUR": "FXE",
		"GBP": "FXB",
		"JPY": "FXY",
		"CAD": "FXC",
		"CHF": "FXF",
		"AUD": "FXA",
	}
}
