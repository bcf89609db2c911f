package performance

import (
	"sort"
	"strings"
	"time"

	"github.com/aristath/riskcore/internal/domain"
)

// holdingKey identifies one ledger position. Keying on all four parts keeps
// positions from coalescing across accounts when aggregating later.
type holdingKey struct {
	AccountID string
	Symbol    string
	Currency  string
	Direction string // long | short
}

func keyFor(accountID, symbol, currency string, qty float64) holdingKey {
	direction := "long"
	if qty < 0 {
		direction = "short"
	}
	return holdingKey{
		AccountID: accountID,
		Symbol:    strings.ToUpper(symbol),
		Currency:  strings.ToUpper(currency),
		Direction: direction,
	}
}

// ledgerEvent is one dated quantity change for a holding.
type ledgerEvent struct {
	Date     time.Time
	Key      holdingKey
	Quantity float64 // signed delta
	// Synthetic marks compensating entries emitted for positions with
	// unknown history.
	Synthetic bool
}

// accountTimeline is the reconstructed event history for one account.
type accountTimeline struct {
	AccountID string
	Inception time.Time
	Events    []ledgerEvent
	Flows     map[time.Time]DayFlows
	CashDelta map[time.Time]float64 // dated cash-balance changes, account currency
	Synthetic int
	// symbolInception records the first transaction date per symbol; the
	// SYSTEM_TRANSFER path reads it so synthetic seeding cannot double
	// count a transferred position.
	symbolInception map[string]time.Time
}

// buildTimeline reconstructs one account's holdings timeline from its
// transactions, flows, and the positions observed at the as-of date.
// Positions with no transaction history get a compensating synthetic BUY at
// their inception.
func buildTimeline(accountID string, txs []domain.Transaction, flows []domain.FlowEvent, current []domain.Position, asOf time.Time) *accountTimeline {
	tl := &accountTimeline{
		AccountID:       accountID,
		Flows:           make(map[time.Time]DayFlows),
		CashDelta:       make(map[time.Time]float64),
		symbolInception: make(map[string]time.Time),
	}

	sort.SliceStable(txs, func(i, j int) bool { return txs[i].TradeDate.Before(txs[j].TradeDate) })

	// Inception: the earliest credible transaction or flow date.
	for _, tx := range txs {
		if tl.Inception.IsZero() || tx.TradeDate.Before(tl.Inception) {
			tl.Inception = tx.TradeDate
		}
	}
	for _, f := range flows {
		if tl.Inception.IsZero() || f.Date.Before(tl.Inception) {
			tl.Inception = f.Date
		}
	}
	if tl.Inception.IsZero() {
		tl.Inception = asOf
	}

	for _, tx := range txs {
		tl.applyTransaction(tx)
	}
	for _, f := range flows {
		if f.Class != domain.FlowExternal {
			continue
		}
		day := f.Date
		df := tl.Flows[day]
		switch f.Direction {
		case domain.FlowIn:
			df.In += f.Amount
			tl.CashDelta[day] += f.Amount
		case domain.FlowOut:
			df.Out += f.Amount
			tl.CashDelta[day] -= f.Amount
		}
		tl.Flows[day] = df
	}

	tl.seedUnknownHistory(current)
	return tl
}

func (tl *accountTimeline) applyTransaction(tx domain.Transaction) {
	mark := func(symbol string, date time.Time) {
		if first, ok := tl.symbolInception[symbol]; !ok || date.Before(first) {
			tl.symbolInception[symbol] = date
		}
	}

	switch tx.Type {
	case domain.TxBuy:
		tl.Events = append(tl.Events, ledgerEvent{
			Date: tx.TradeDate, Key: keyFor(tx.AccountID, tx.Symbol, tx.Currency, tx.Quantity),
			Quantity: tx.Quantity,
		})
		tl.CashDelta[tx.TradeDate] -= tx.Quantity * tx.Price
		mark(strings.ToUpper(tx.Symbol), tx.TradeDate)
	case domain.TxSell:
		qty := -absQty(tx.Quantity)
		tl.Events = append(tl.Events, ledgerEvent{
			Date: tx.TradeDate, Key: keyFor(tx.AccountID, tx.Symbol, tx.Currency, 1),
			Quantity: qty,
		})
		tl.CashDelta[tx.TradeDate] += absQty(tx.Quantity) * tx.Price
		mark(strings.ToUpper(tx.Symbol), tx.TradeDate)
	case domain.TxSystemTransfer, domain.TxTransferIn:
		// Position migrated in: a BUY at transfer price. The matching
		// external contribution arrives through the flow series, and the
		// per-symbol inception mark prevents synthetic seeding from
		// emitting a second entry for the same position.
		tl.Events = append(tl.Events, ledgerEvent{
			Date: tx.TradeDate, Key: keyFor(tx.AccountID, tx.Symbol, tx.Currency, tx.Quantity),
			Quantity: tx.Quantity,
		})
		mark(strings.ToUpper(tx.Symbol), tx.TradeDate)
	case domain.TxTransferOut:
		tl.Events = append(tl.Events, ledgerEvent{
			Date: tx.TradeDate, Key: keyFor(tx.AccountID, tx.Symbol, tx.Currency, 1),
			Quantity: -absQty(tx.Quantity),
		})
		mark(strings.ToUpper(tx.Symbol), tx.TradeDate)
	case domain.TxDividend, domain.TxInterest:
		tl.CashDelta[tx.TradeDate] += absAmount(tx.Amount)
	case domain.TxFee:
		tl.CashDelta[tx.TradeDate] -= absAmount(tx.Amount)
	}
}

// seedUnknownHistory emits compensating synthetic BUYs at account inception
// for positions present now with no transaction trail.
func (tl *accountTimeline) seedUnknownHistory(current []domain.Position) {
	for _, p := range current {
		if p.AccountID != tl.AccountID || p.Type == domain.InstrumentCash || p.Quantity == 0 {
			continue
		}
		symbol := strings.ToUpper(p.Symbol)
		if _, seen := tl.symbolInception[symbol]; seen {
			continue
		}
		tl.Events = append(tl.Events, ledgerEvent{
			Date:      tl.Inception,
			Key:       keyFor(p.AccountID, p.Symbol, p.Currency, p.Quantity),
			Quantity:  p.Quantity,
			Synthetic: true,
		})
		tl.Synthetic++
	}
	sort.SliceStable(tl.Events, func(i, j int) bool { return tl.Events[i].Date.Before(tl.Events[j].Date) })
}

// holdingsOn returns the quantity per holding key at close of the given day.
func (tl *accountTimeline) holdingsOn(day time.Time) map[holdingKey]float64 {
	out := make(map[holdingKey]float64)
	for _, ev := range tl.Events {
		if ev.Date.After(day) {
			break
		}
		out[ev.Key] += ev.Quantity
	}
	for k, q := range out {
		if q == 0 {
			delete(out, k)
		}
	}
	return out
}

// cashOn returns the cumulative cash balance at close of the given day.
func (tl *accountTimeline) cashOn(day time.Time) float64 {
	var cash float64
	for date, delta := range tl.CashDelta {
		if !date.After(day) {
			cash += delta
		}
	}
	return cash
}

func absQty(q float64) float64 {
	if q < 0 {
		return -q
	}
	return q
}

func absAmount(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
