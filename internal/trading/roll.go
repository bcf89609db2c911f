package trading

import (
	"context"

	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
)

// RollPreview describes a calendar-spread roll before submission.
type RollPreview struct {
	Spread     *contracts.CalendarSpread `json:"spread"`
	Quantity   float64                   `json:"quantity"`
	Multiplier float64                   `json:"multiplier"`
	TickValue  float64                   `json:"tick_value"`
	Currency   string                    `json:"currency"`
	Exchange   string                    `json:"exchange"`
}

// RollExecution is the broker-bound roll payload.
type RollExecution struct {
	Preview   *RollPreview `json:"preview"`
	Status    string       `json:"status"` // prepared | submitted
	BrokerRef string       `json:"broker_ref,omitempty"`
}

// SpreadRouter submits combination orders. Routers that cannot handle
// spreads simply don't implement it and rolls stay prepared.
type SpreadRouter interface {
	SubmitSpread(ctx context.Context, spread *contracts.CalendarSpread, quantity float64) (string, error)
}

// PreviewFuturesRoll builds and validates a calendar spread for rolling
// quantity contracts between months. When the months gateway is reachable
// both legs are checked against the listed, unexpired months.
func (d *Desk) PreviewFuturesRoll(ctx context.Context, symbol, frontMonth, backMonth string, direction contracts.RollDirection, quantity float64) (*RollPreview, error) {
	if quantity <= 0 {
		return nil, domain.NewValidation("quantity must be positive, got %f", quantity)
	}
	spread, err := d.catalog.BuildRoll(symbol, frontMonth, backMonth, direction)
	if err != nil {
		return nil, err
	}
	spec := d.catalog.Lookup(symbol)

	// Best-effort listing check; a down gateway never blocks the preview.
	if months, err := d.catalog.ListMonths(ctx, symbol); err == nil {
		listed := make(map[string]bool, len(months))
		for _, m := range months {
			listed[m.ContractMonth] = true
		}
		for _, leg := range spread.Legs {
			if !listed[leg.ContractMonth] {
				return nil, domain.NewValidation("contract month %s is not listed for %s", leg.ContractMonth, spec.Symbol)
			}
		}
	}

	return &RollPreview{
		Spread:     spread,
		Quantity:   quantity,
		Multiplier: spec.Multiplier,
		TickValue:  spec.TickValue(),
		Currency:   spec.Currency,
		Exchange:   spec.Exchange,
	}, nil
}

// ExecuteFuturesRoll previews the roll and hands it to the spread router
// when one is configured.
func (d *Desk) ExecuteFuturesRoll(ctx context.Context, symbol, frontMonth, backMonth string, direction contracts.RollDirection, quantity float64) (*RollExecution, error) {
	preview, err := d.PreviewFuturesRoll(ctx, symbol, frontMonth, backMonth, direction, quantity)
	if err != nil {
		return nil, err
	}

	out := &RollExecution{Preview: preview, Status: "prepared"}
	if router, ok := d.router.(SpreadRouter); ok && router != nil {
		ref, err := router.SubmitSpread(ctx, preview.Spread, quantity)
		if err != nil {
			return nil, domain.NewProviderUnavailable("order_router", err)
		}
		out.Status = "submitted"
		out.BrokerRef = ref
	}
	return out, nil
}
