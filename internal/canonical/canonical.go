// Package canonical merges positions from all enabled providers into one
// canonical portfolio per scope, applying source-authority rules, notional
// derivation, and factor-proxy assignment.
package canonical

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
)

// ScopeKind selects which slice of the holdings a portfolio covers.
type ScopeKind string

const (
	ScopeAll         ScopeKind = "all"
	ScopeProvider    ScopeKind = "provider"
	ScopeInstitution ScopeKind = "institution"
	ScopeAccount     ScopeKind = "account"
)

// Scope is the requested portfolio slice.
type Scope struct {
	Kind  ScopeKind
	Value string // provider short name, institution name, or account id
}

// ScopeAllPortfolios is the default scope.
var ScopeAllPortfolios = Scope{Kind: ScopeAll}

// Options configures a Canonicalizer.
type Options struct {
	Catalog     *contracts.Catalog
	CashMap     map[string]string // currency -> cash-proxy ETF
	RateClasses []string          // asset classes eligible for the rate factor
	AllowShort  bool
}

// Canonicalizer builds canonical portfolios from normalized provider rows.
type Canonicalizer struct {
	catalog    *contracts.Catalog
	cashMap    map[string]string
	assigner   *ProxyAssigner
	allowShort bool
	log        zerolog.Logger
}

// New creates a canonicalizer.
func New(opts Options, log zerolog.Logger) *Canonicalizer {
	cashMap := opts.CashMap
	if len(cashMap) == 0 {
		cashMap = DefaultCashMap()
	}
	rateClasses := opts.RateClasses
	if len(rateClasses) == 0 {
		rateClasses = []string{"bond", "real_estate"}
	}
	return &Canonicalizer{
		catalog:    opts.Catalog,
		cashMap:    cashMap,
		assigner:   NewProxyAssigner(opts.Catalog, rateClasses),
		allowShort: opts.AllowShort,
		log:        log.With().Str("component", "canonical").Logger(),
	}
}

const weightTolerance = 1e-6

// Build produces the canonical portfolio for a scope from the union of
// provider positions. Cross-source conflicts and provider failures degrade
// data quality; invalid weights or an unmappable cash currency are fatal.
func (c *Canonicalizer) Build(userID string, asOf time.Time, positions []domain.Position, scope Scope, excludedSources []string) (*domain.CanonicalPortfolio, error) {
	resolved, leakage := c.resolveAuthority(positions, scope)
	scoped := filterScope(resolved, scope)

	portfolio := &domain.CanonicalPortfolio{
		UserID:    userID,
		AsOf:      asOf,
		Positions: make(map[string]domain.CanonicalPosition),
		Quality: domain.DataQuality{
			ExcludedSources:    excludedSources,
			CrossSourceLeakage: leakage,
		},
	}

	for _, p := range scoped {
		if p.Quantity == 0 {
			continue
		}
		if p.Type == domain.InstrumentCash {
			if err := c.addCash(portfolio, p); err != nil {
				return nil, err
			}
			continue
		}
		if err := c.addPosition(portfolio, p); err != nil {
			return nil, err
		}
		if p.Synthetic {
			portfolio.Quality.SyntheticPositions++
		}
	}

	if err := c.normalize(portfolio); err != nil {
		return nil, err
	}
	return portfolio, nil
}

// resolveAuthority applies the native-over-aggregator rule per symbol and
// returns the surviving rows plus the symbols excluded as cross-source
// leakage. Leakage covers genuine ambiguity (excluded from every scope)
// and, for an aggregator provider scope, symbols whose aggregator rows
// lost to a native source and therefore vanish from that scope.
func (c *Canonicalizer) resolveAuthority(positions []domain.Position, scope Scope) ([]domain.Position, []string) {
	bySymbol := make(map[string][]domain.Position)
	for _, p := range positions {
		p.Source = narrowSource(p.Source)
		key := domain.Instrument{Symbol: p.Symbol, Type: p.Type, ContractMonth: p.ContractMonth}.Key()
		bySymbol[key] = append(bySymbol[key], p)
	}

	var out []domain.Position
	var leakage []string
	for key, rows := range bySymbol {
		sources := make(map[domain.ProviderSource]bool)
		for _, r := range rows {
			sources[r.Source] = true
		}

		if len(sources) == 1 {
			out = append(out, rows...)
			continue
		}

		var natives []domain.ProviderSource
		classified := true
		for s := range sources {
			switch {
			case s.IsNative():
				natives = append(natives, s)
			case s.IsAggregator():
			default:
				classified = false
			}
		}

		if classified && len(natives) == 1 {
			// Aggregator mirrors of a natively reported symbol: the native
			// rows win, aggregator rows are duplicates. A scope pinned to
			// one of the losing aggregators would show the symbol silently
			// missing, so it is reported as leakage for that scope.
			droppedFromScope := false
			for _, r := range rows {
				if r.Source == natives[0] {
					out = append(out, r)
				} else if scopeMatchesSource(scope, r.Source) {
					droppedFromScope = true
				}
			}
			if droppedFromScope {
				leakage = append(leakage, key)
			}
			continue
		}

		c.log.Warn().Str("symbol", key).Int("sources", len(sources)).
			Msg("Cross-source ambiguity, excluding symbol from every scope")
		leakage = append(leakage, key)
	}

	sort.Strings(leakage)
	return out, leakage
}

// narrowSource reduces a merged source tag ("plaid,schwab") to its single
// native member when there is exactly one.
func narrowSource(source domain.ProviderSource) domain.ProviderSource {
	raw := string(source)
	if !strings.Contains(raw, ",") {
		return source
	}
	var natives []domain.ProviderSource
	for _, part := range strings.Split(raw, ",") {
		s := domain.ProviderSource(strings.TrimSpace(part))
		if !s.Known() {
			s = domain.SourceFromShortName(part)
		}
		if s.IsNative() {
			natives = append(natives, s)
		}
	}
	if len(natives) == 1 {
		return natives[0]
	}
	return source
}

// scopeMatchesSource reports whether a provider scope selects rows from
// the given source.
func scopeMatchesSource(scope Scope, source domain.ProviderSource) bool {
	return scope.Kind == ScopeProvider && strings.EqualFold(source.ShortName(), scope.Value)
}

func filterScope(positions []domain.Position, scope Scope) []domain.Position {
	if scope.Kind == ScopeAll || scope.Kind == "" {
		return positions
	}
	var out []domain.Position
	for _, p := range positions {
		switch scope.Kind {
		case ScopeProvider:
			if strings.EqualFold(p.Source.ShortName(), scope.Value) {
				out = append(out, p)
			}
		case ScopeInstitution:
			if strings.EqualFold(p.BrokerageName, scope.Value) {
				out = append(out, p)
			}
		case ScopeAccount:
			if p.AccountID == scope.Value {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Canonicalizer) addCash(portfolio *domain.CanonicalPortfolio, p domain.Position) error {
	currency := p.Currency
	if currency == "" {
		currency = strings.TrimPrefix(strings.ToUpper(p.Symbol), "CUR:")
	}
	proxy, ok := c.cashMap[currency]
	if !ok {
		return domain.NewValidation("cash mapping references unknown currency %q", currency)
	}

	amount := p.Quantity * priceOrOne(p.UnitPrice)
	portfolio.CashBalance += amount

	key := domain.Instrument{Symbol: p.Symbol, Type: domain.InstrumentCash}.Key()
	existing, found := portfolio.Positions[key]
	if found {
		existing.Quantity += p.Quantity
		existing.MarginValue += amount
		portfolio.Positions[key] = existing
		return nil
	}
	portfolio.Positions[key] = domain.CanonicalPosition{
		Symbol:      strings.ToUpper(p.Symbol),
		Quantity:    p.Quantity,
		MarginValue: amount,
		Currency:    currency,
		Type:        domain.InstrumentCash,
		AssetClass:  "cash",
		AccountID:   p.AccountID,
		Source:      p.Source,
		Proxies:     domain.FactorProxies{Market: proxy},
	}
	return nil
}

func (c *Canonicalizer) addPosition(portfolio *domain.CanonicalPortfolio, p domain.Position) error {
	var notional, margin float64
	switch p.Type {
	case domain.InstrumentFutures:
		spec := c.catalog.Lookup(p.Symbol)
		if spec == nil {
			return domain.NewValidation("futures position %s has no contract specification", p.Symbol)
		}
		notional = spec.Notional(p.Quantity, p.UnitPrice)
		// Broker-reported value for futures is the posted margin, which
		// providers carry in cost basis.
		margin = p.CostBasis
	default:
		notional = p.Quantity * p.UnitPrice
		margin = notional
	}

	key := domain.Instrument{Symbol: p.Symbol, Type: p.Type, ContractMonth: p.ContractMonth}.Key()
	if existing, found := portfolio.Positions[key]; found {
		// Same instrument reported by several accounts of the same source:
		// aggregate quantities and values, keep both account ids.
		existing.Quantity += p.Quantity
		existing.NotionalValue += notional
		existing.MarginValue += margin
		existing.AccountID = joinAccounts(existing.AccountID, p.AccountID)
		existing.Synthetic = existing.Synthetic || p.Synthetic
		portfolio.Positions[key] = existing
		return nil
	}

	assetClass := c.assigner.AssetClass(p.Symbol, p.Type)
	proxies := c.assigner.Assign(p.Symbol, p.Type, assetClass)
	if proxies.Empty() {
		return domain.NewValidation("no factor proxies resolvable for %s", p.Symbol)
	}

	portfolio.Positions[key] = domain.CanonicalPosition{
		Symbol:        strings.ToUpper(p.Symbol),
		Quantity:      p.Quantity,
		MarginValue:   margin,
		NotionalValue: notional,
		Currency:      p.Currency,
		Type:          p.Type,
		AssetClass:    assetClass,
		AccountID:     p.AccountID,
		Source:        p.Source,
		Proxies:       proxies,
		Synthetic:     p.Synthetic,
	}
	return nil
}

// normalize derives weights over the gross notional of non-cash positions
// and checks the portfolio invariants.
func (c *Canonicalizer) normalize(portfolio *domain.CanonicalPortfolio) error {
	var gross, marginNonCash, marginTotal float64
	for _, pos := range portfolio.Positions {
		marginTotal += pos.MarginValue
		if pos.Type == domain.InstrumentCash {
			continue
		}
		gross += math.Abs(pos.NotionalValue)
		marginNonCash += math.Abs(pos.MarginValue)
	}
	portfolio.MarginTotal = marginTotal
	portfolio.GrossNotional = gross

	if gross == 0 {
		portfolio.NotionalLeverage = 0
		return nil
	}

	var weightAbsSum float64
	for key, pos := range portfolio.Positions {
		if pos.Type == domain.InstrumentCash {
			continue
		}
		pos.Weight = pos.NotionalValue / gross
		if pos.Weight < 0 && !c.allowShort {
			return domain.NewValidation("negative weight for %s without shorts permitted", pos.Symbol)
		}
		weightAbsSum += math.Abs(pos.Weight)
		portfolio.Positions[key] = pos
	}
	if math.Abs(weightAbsSum-1) > weightTolerance {
		return domain.NewValidation("weights sum to %.8f, expected 1.0", weightAbsSum)
	}

	if marginNonCash > 0 {
		portfolio.NotionalLeverage = gross / marginNonCash
	}
	return nil
}

func joinAccounts(a, b string) string {
	if a == b || b == "" {
		return a
	}
	if a == "" {
		return b
	}
	parts := strings.Split(a, ",")
	for _, p := range parts {
		if p == b {
			return a
		}
	}
	parts = append(parts, b)
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func priceOrOne(p float64) float64 {
	if p == 0 {
		return 1
	}
	return p
}
