// Package intelligence builds the shared factor return panel and runs the
// correlation, performance-profile, and offset analyses over it, optionally
// overlaying user baskets as first-class columns.
package intelligence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/marketdata"
)

// Column categories. Baskets are appended under CategoryUserBaskets.
const (
	CategoryStyle       = "style"
	CategoryRates       = "rates"
	CategorySectors     = "sectors"
	CategoryCommodities = "commodities"
	CategoryUserBaskets = "user_baskets"
)

// Column is one return series in the panel with its display metadata.
type Column struct {
	Name     string            `json:"name"`
	Label    string            `json:"label"`
	Category string            `json:"category"`
	Series   marketdata.Series `json:"-"`
}

// Panel is the ordered set of factor return columns.
type Panel struct {
	Columns []Column `json:"columns"`
	// Missing lists standard tickers that produced no usable series.
	Missing []string `json:"missing,omitempty"`
}

// standardColumns is the fixed factor universe; tickers follow the proxy set
// used for position factor assignment.
var standardColumns = []struct {
	name, label, category, ticker string
}{
	{"market", "US Market", CategoryStyle, "SPY"},
	{"momentum", "Momentum", CategoryStyle, "MTUM"},
	{"value", "Value", CategoryStyle, "VTV"},
	{"rates", "Treasuries (7-10y)", CategoryRates, "IEF"},
	{"technology", "Technology", CategorySectors, "XLK"},
	{"financials", "Financials", CategorySectors, "XLF"},
	{"healthcare", "Healthcare", CategorySectors, "XLV"},
	{"energy", "Energy", CategorySectors, "XLE"},
	{"industrials", "Industrials", CategorySectors, "XLI"},
	{"consumer", "Consumer Discretionary", CategorySectors, "XLY"},
	{"staples", "Consumer Staples", CategorySectors, "XLP"},
	{"utilities", "Utilities", CategorySectors, "XLU"},
	{"materials", "Materials", CategorySectors, "XLB"},
	{"real_estate", "Real Estate", CategorySectors, "VNQ"},
	{"communications", "Communications", CategorySectors, "XLC"},
	{"gold", "Gold", CategoryCommodities, "GLD"},
	{"oil", "Crude Oil", CategoryCommodities, "USO"},
	{"agriculture", "Agriculture", CategoryCommodities, "DBA"},
	{"dollar", "US Dollar", CategoryCommodities, "UUP"},
}

// Engine builds panels and runs the analyses.
type Engine struct {
	store   *marketdata.Store
	baskets *baskets.Repository
	log     zerolog.Logger
}

// NewEngine creates an intelligence engine. The basket repository may be nil
// when overlays are disabled.
func NewEngine(store *marketdata.Store, basketRepo *baskets.Repository, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		baskets: basketRepo,
		log:     log.With().Str("component", "intelligence").Logger(),
	}
}

// BuildPanel fetches the standard factor universe over the window. Tickers
// that fail to fetch become Missing entries; the panel is still usable.
func (e *Engine) BuildPanel(ctx context.Context, start, end time.Time) (*Panel, error) {
	tickers := make([]string, 0, len(standardColumns))
	for _, col := range standardColumns {
		tickers = append(tickers, col.ticker)
	}

	returns, failures := e.store.BulkMonthlyReturns(ctx, tickers, start, end)

	panel := &Panel{}
	for _, col := range standardColumns {
		series, ok := returns[col.ticker]
		if !ok || series.Len() == 0 {
			panel.Missing = append(panel.Missing, col.ticker)
			continue
		}
		panel.Columns = append(panel.Columns, Column{
			Name:     col.name,
			Label:    col.label,
			Category: col.category,
			Series:   series,
		})
	}
	sort.Strings(panel.Missing)

	if len(failures) > 0 {
		e.log.Warn().Int("failed", len(failures)).Msg("Some factor tickers failed to fetch")
	}
	return panel, nil
}

// Clone deep-copies the panel including series data and metadata, so overlay
// columns never leak into a cached base panel.
func (p *Panel) Clone() *Panel {
	out := &Panel{
		Columns: make([]Column, len(p.Columns)),
		Missing: append([]string(nil), p.Missing...),
	}
	for i, col := range p.Columns {
		out.Columns[i] = Column{
			Name:     col.Name,
			Label:    col.Label,
			Category: col.Category,
			Series:   col.Series.Clone(),
		}
	}
	return out
}

// Find locates a column by name, case-insensitively.
func (p *Panel) Find(name string) (*Column, bool) {
	for i := range p.Columns {
		if strings.EqualFold(p.Columns[i].Name, name) {
			return &p.Columns[i], true
		}
	}
	return nil, false
}

// Categories returns column names grouped by category.
func (p *Panel) Categories() map[string][]string {
	out := make(map[string][]string)
	for _, col := range p.Columns {
		out[col.Category] = append(out[col.Category], col.Name)
	}
	return out
}
