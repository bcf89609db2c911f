// Package trading generates trade previews, futures rolls, basket trades,
// and exit signals. Order routing stays behind the OrderRouter boundary;
// this package only prepares and prices tickets.
package trading

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

const (
	// DefaultPreviewTTL bounds how long an estimated price stays executable.
	DefaultPreviewTTL = 15 * time.Minute
	// driftThreshold is the relative cost change that flags a re-priced
	// preview on execute.
	driftThreshold = 0.01

	sqliteTimeLayout = "2006-01-02 15:04:05"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Preview is a priced, persisted trade intent with a TTL.
type Preview struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GroupID   string    `json:"group_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	EstPrice  float64   `json:"est_price"`
	EstCost   float64   `json:"est_cost"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the preview's price estimate has lapsed.
func (p *Preview) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// OrderTicket is the broker-bound payload produced by execute operations.
type OrderTicket struct {
	PreviewID string  `json:"preview_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	EstPrice  float64 `json:"est_price"`
}

// Execution is the result of executing a single preview.
type Execution struct {
	Preview *Preview    `json:"preview"`
	Ticket  OrderTicket `json:"ticket"`
	// DriftWarning is set when the preview expired and the re-priced cost
	// moved more than 1% from the original estimate.
	DriftWarning bool    `json:"drift_warning"`
	DriftPct     float64 `json:"drift_pct,omitempty"`
	Status       string  `json:"status"` // prepared | submitted
	BrokerRef    string  `json:"broker_ref,omitempty"`
}

// OrderRouter submits prepared tickets to a broker. A nil router leaves
// executions in the prepared state for the caller to hand off.
type OrderRouter interface {
	Submit(ctx context.Context, ticket OrderTicket) (string, error)
}

// Options configures the desk.
type Options struct {
	PreviewTTL time.Duration
	Router     OrderRouter
}

// Desk prices, persists, and executes trade previews.
type Desk struct {
	db      *sql.DB
	store   *marketdata.Store
	catalog *contracts.Catalog
	baskets *baskets.Repository
	router  OrderRouter
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewDesk creates a trading desk. The basket repository may be nil when
// basket trades are disabled.
func NewDesk(db *sql.DB, store *marketdata.Store, catalog *contracts.Catalog, basketRepo *baskets.Repository, opts Options, log zerolog.Logger) *Desk {
	ttl := opts.PreviewTTL
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	return &Desk{
		db:      db,
		store:   store,
		catalog: catalog,
		baskets: basketRepo,
		router:  opts.Router,
		ttl:     ttl,
		now:     time.Now,
		log:     log.With().Str("component", "trading").Logger(),
	}
}

// PreviewTrade prices a single-leg trade and persists it with a TTL.
func (d *Desk) PreviewTrade(ctx context.Context, userID, symbol, side string, quantity float64) (*Preview, error) {
	preview, err := d.buildPreview(ctx, userID, "", symbol, side, quantity)
	if err != nil {
		return nil, err
	}
	if err := d.insertPreview(preview); err != nil {
		return nil, err
	}
	return preview, nil
}

// ExecuteTrade loads a preview, re-prices it when expired, and prepares the
// order ticket. A re-priced cost more than 1% away from the original
// estimate sets drift_warning; execution still proceeds at the fresh price.
func (d *Desk) ExecuteTrade(ctx context.Context, userID, previewID string) (*Execution, error) {
	preview, err := d.GetPreview(userID, previewID)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, preview)
}

func (d *Desk) execute(ctx context.Context, preview *Preview) (*Execution, error) {
	exec := &Execution{Preview: preview, Status: "prepared"}

	if preview.Expired(d.now()) {
		price, err := d.latestClose(ctx, preview.Symbol)
		if err != nil {
			return nil, err
		}
		newCost := math.Abs(preview.Quantity) * price
		if preview.EstCost != 0 {
			exec.DriftPct = (newCost - preview.EstCost) / preview.EstCost
		}
		if math.Abs(exec.DriftPct) > driftThreshold {
			exec.DriftWarning = true
			d.log.Warn().
				Str("preview_id", preview.ID).
				Str("symbol", preview.Symbol).
				Float64("drift_pct", exec.DriftPct).
				Msg("Preview expired and re-priced cost drifted")
		}
		preview.EstPrice = price
		preview.EstCost = newCost
		preview.ExpiresAt = d.now().Add(d.ttl)
		if err := d.reprice(preview); err != nil {
			return nil, err
		}
	}

	exec.Ticket = OrderTicket{
		PreviewID: preview.ID,
		Symbol:    preview.Symbol,
		Side:      preview.Side,
		Quantity:  preview.Quantity,
		EstPrice:  preview.EstPrice,
	}
	if d.router != nil {
		ref, err := d.router.Submit(ctx, exec.Ticket)
		if err != nil {
			return nil, domain.NewProviderUnavailable("order_router", err)
		}
		exec.Status = "submitted"
		exec.BrokerRef = ref
	}
	return exec, nil
}

// BasketPreview links the per-ticker legs of a basket trade under one group.
type BasketPreview struct {
	GroupID  string     `json:"group_id"`
	Basket   string     `json:"basket"`
	Notional float64    `json:"notional"`
	Legs     []*Preview `json:"legs"`
	// Skipped lists tickers without a usable price, with the reason.
	Skipped []string `json:"skipped,omitempty"`
}

// PreviewBasketTrade allocates a notional across a basket's resolved weights
// and previews one leg per ticker. Tickers without prices are skipped and
// reported; an all-skipped basket is an error.
func (d *Desk) PreviewBasketTrade(ctx context.Context, userID, basketName string, notional float64, marketCaps map[string]float64) (*BasketPreview, error) {
	if d.baskets == nil {
		return nil, domain.NewValidation("basket trading is not configured")
	}
	if notional <= 0 {
		return nil, domain.NewValidation("notional must be positive, got %f", notional)
	}
	basket, err := d.baskets.Get(userID, basketName)
	if err != nil {
		return nil, err
	}
	weights, err := basket.ResolveWeights(marketCaps)
	if err != nil {
		return nil, err
	}

	out := &BasketPreview{
		GroupID:  uuid.NewString(),
		Basket:   basket.Name,
		Notional: notional,
	}
	for _, ticker := range basket.SortedTickers() {
		w, ok := weights[ticker]
		if !ok || w == 0 {
			continue
		}
		price, err := d.latestClose(ctx, ticker)
		if err != nil {
			out.Skipped = append(out.Skipped, ticker+": "+err.Error())
			continue
		}
		leg, err := d.buildPreviewAt(userID, out.GroupID, ticker, SideBuy, notional*w/price, price)
		if err != nil {
			return nil, err
		}
		out.Legs = append(out.Legs, leg)
	}
	if len(out.Legs) == 0 {
		return nil, domain.NewPriceUnavailable(basket.Name, fmt.Errorf("no basket component could be priced"))
	}

	if err := d.insertGroup(out.GroupID, userID, basket.Name); err != nil {
		return nil, err
	}
	for _, leg := range out.Legs {
		if err := d.insertPreview(leg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// BasketExecution is the result of executing every leg in a group.
type BasketExecution struct {
	GroupID    string       `json:"group_id"`
	Executions []*Execution `json:"executions"`
	// DriftWarning is set when any leg drifted.
	DriftWarning bool `json:"drift_warning"`
}

// ExecuteBasketTrade executes all legs of a previewed basket trade.
func (d *Desk) ExecuteBasketTrade(ctx context.Context, userID, groupID string) (*BasketExecution, error) {
	legs, err := d.groupPreviews(userID, groupID)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, domain.NewValidation("trade group %q not found", groupID)
	}

	out := &BasketExecution{GroupID: groupID}
	for _, leg := range legs {
		exec, err := d.execute(ctx, leg)
		if err != nil {
			return nil, err
		}
		out.Executions = append(out.Executions, exec)
		if exec.DriftWarning {
			out.DriftWarning = true
		}
	}
	return out, nil
}

func (d *Desk) buildPreview(ctx context.Context, userID, groupID, symbol, side string, quantity float64) (*Preview, error) {
	price, err := d.latestClose(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return d.buildPreviewAt(userID, groupID, symbol, side, quantity, price)
}

func (d *Desk) buildPreviewAt(userID, groupID, symbol, side string, quantity, price float64) (*Preview, error) {
	if userID == "" {
		return nil, domain.NewValidation("user id is required")
	}
	side = strings.ToUpper(side)
	if side != SideBuy && side != SideSell {
		return nil, domain.NewValidation("side must be BUY or SELL, got %q", side)
	}
	if quantity <= 0 {
		return nil, domain.NewValidation("quantity must be positive, got %f", quantity)
	}

	now := d.now()
	return &Preview{
		ID:        uuid.NewString(),
		UserID:    userID,
		GroupID:   groupID,
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Side:      side,
		Quantity:  quantity,
		EstPrice:  price,
		EstCost:   quantity * price,
		CreatedAt: now,
		ExpiresAt: now.Add(d.ttl),
	}, nil
}

// latestClose returns the most recent daily close within the last month.
func (d *Desk) latestClose(ctx context.Context, symbol string) (float64, error) {
	end := d.now()
	series, err := d.store.DailyClose(ctx, strings.ToUpper(strings.TrimSpace(symbol)), end.AddDate(0, -1, 0), end)
	if err != nil {
		return 0, err
	}
	_, price, ok := series.Last()
	if !ok || price <= 0 {
		return 0, domain.NewPriceUnavailable(symbol, fmt.Errorf("no recent close"))
	}
	return price, nil
}
