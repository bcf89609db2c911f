// Package providers contains the upstream adapters that fetch positions and
// transactions from brokers, aggregators, and manual imports, and normalize
// them into domain types.
package providers

import (
	"strings"
	"time"

	"github.com/aristath/riskcore/internal/domain"
)

const cashPrefix = "CUR:"

// NormalizeSymbol uppercases and trims a provider-reported ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// CashSymbol encodes a currency holding as a pseudo-ticker ("CUR:USD").
func CashSymbol(currency string) string {
	return cashPrefix + strings.ToUpper(strings.TrimSpace(currency))
}

// IsCashSymbol reports whether a symbol is an encoded currency position.
func IsCashSymbol(symbol string) bool {
	return strings.HasPrefix(strings.ToUpper(symbol), cashPrefix)
}

// CashCurrency extracts the currency code from an encoded cash symbol.
func CashCurrency(symbol string) string {
	return strings.TrimPrefix(strings.ToUpper(symbol), cashPrefix)
}

// BusinessDate picks the date a cash flow belongs to. Providers that report
// both a trade date and a system timestamp get the trade date; otherwise the
// system timestamp is truncated to its UTC day so near-midnight events do not
// land in the wrong month.
func BusinessDate(tradeDate, systemTime time.Time) time.Time {
	if !tradeDate.IsZero() {
		return time.Date(tradeDate.Year(), tradeDate.Month(), tradeDate.Day(), 0, 0, 0, 0, time.UTC)
	}
	utc := systemTime.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// normalizePosition applies the shared normalization rules to one provider
// row: symbol casing, cash encoding, and the synthetic flag for rows whose
// cost basis the provider did not report.
func normalizePosition(p domain.Position, source domain.ProviderSource) domain.Position {
	p.Source = source
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))

	if p.Type == domain.InstrumentCash && !IsCashSymbol(p.Symbol) {
		currency := p.Currency
		if currency == "" {
			currency = p.Symbol
		}
		p.Symbol = CashSymbol(currency)
	} else {
		p.Symbol = NormalizeSymbol(p.Symbol)
	}

	if p.CostBasis == 0 && p.Type != domain.InstrumentCash {
		p.Synthetic = true
	}
	return p
}

// deriveFlows classifies a transaction ledger into dated cash flows. Inflows
// and outflows stay separate; the daily return formula depends on them never
// being netted.
func deriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	flows := make([]domain.FlowEvent, 0, len(txs))
	for _, tx := range txs {
		date := BusinessDate(tx.TradeDate, tx.SettlementDate)

		var direction domain.FlowDirection
		var class domain.FlowClass
		amount := tx.Amount
		if amount < 0 {
			amount = -amount
		}

		switch tx.Type {
		case domain.TxDeposit, domain.TxTransferIn:
			direction, class = domain.FlowIn, domain.FlowExternal
		case domain.TxCashback:
			// Rewards tokens count as client contributions.
			direction, class = domain.FlowIn, domain.FlowExternal
		case domain.TxWithdrawal, domain.TxTransferOut:
			direction, class = domain.FlowOut, domain.FlowExternal
		case domain.TxSystemTransfer:
			// Securities moved in from another account: the matching BUY is
			// emitted by the performance timeline; here the position's value
			// arrives as an external contribution on the transfer date.
			direction, class = domain.FlowIn, domain.FlowExternal
			if amount == 0 {
				amount = tx.Quantity * tx.Price
				if amount < 0 {
					amount = -amount
				}
			}
		case domain.TxDividend, domain.TxInterest:
			direction, class = domain.FlowIn, domain.FlowInternal
		case domain.TxFee:
			direction, class = domain.FlowOut, domain.FlowInternal
		default:
			// Trades and corporate actions move value inside the account.
			continue
		}

		if amount == 0 {
			continue
		}
		flows = append(flows, domain.FlowEvent{
			Date:      date,
			AccountID: tx.AccountID,
			Direction: direction,
			Amount:    amount,
			Class:     class,
			Source:    tx.Source,
		})
	}
	return flows
}
