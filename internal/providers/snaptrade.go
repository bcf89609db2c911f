package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// SnaptradeAdapter talks to the SnapTrade gateway. Aggregator source, same
// authority rules as Plaid.
type SnaptradeAdapter struct {
	http *httpClient
	log  zerolog.Logger
}

// NewSnaptradeAdapter creates a SnapTrade adapter against a gateway base URL.
func NewSnaptradeAdapter(baseURL, clientID, consumerKey string, log zerolog.Logger) *SnaptradeAdapter {
	l := log.With().Str("provider", "snaptrade").Logger()
	headers := map[string]string{}
	if clientID != "" {
		headers["X-SnapTrade-Client-ID"] = clientID
	}
	if consumerKey != "" {
		headers["X-SnapTrade-Consumer-Key"] = consumerKey
	}
	return &SnaptradeAdapter{
		http: newHTTPClient(baseURL, headers, l),
		log:  l,
	}
}

func (a *SnaptradeAdapter) Source() domain.ProviderSource { return domain.SourceSnaptrade }

// snaptradePosition is one row of the holdings endpoint.
type snaptradePosition struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Units       float64 `json:"units"`
	Price       float64 `json:"price"`
	AverageCost float64 `json:"average_purchase_price"`
	Currency    string  `json:"currency"`
	AccountID   string  `json:"account_id"`
	Institution string  `json:"institution_name"`
	Type        string  `json:"type"` // cs, et, bnd, crypto, cash
}

// snaptradeActivity is one row of the activities endpoint.
type snaptradeActivity struct {
	TradeDate   string  `json:"trade_date"`   // YYYY-MM-DD
	SettledAt   string  `json:"settlement_date"` // RFC3339
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Units       float64 `json:"units"`
	Price       float64 `json:"price"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	AccountID   string  `json:"account_id"`
}

func (a *SnaptradeAdapter) FetchPositions(ctx context.Context, asOf time.Time) ([]domain.Position, error) {
	query := url.Values{"as_of": {asOf.Format("2006-01-02")}}
	var rows []snaptradePosition
	if err := a.http.get(ctx, a.Source(), "/api/v1/holdings", query, &rows); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		if row.Units == 0 {
			continue
		}
		positions = append(positions, normalizePosition(domain.Position{
			Symbol:        row.Symbol,
			Quantity:      row.Units,
			UnitPrice:     row.Price,
			Currency:      row.Currency,
			CostBasis:     row.AverageCost * row.Units,
			AccountID:     row.AccountID,
			BrokerageName: row.Institution,
			Type:          snaptradeInstrumentType(row.Type),
		}, a.Source()))
	}
	a.log.Debug().Int("positions", len(positions)).Msg("Fetched holdings")
	return positions, nil
}

func (a *SnaptradeAdapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	query := url.Values{
		"startDate": {start.Format("2006-01-02")},
		"endDate":   {end.Format("2006-01-02")},
	}
	var rows []snaptradeActivity
	if err := a.http.get(ctx, a.Source(), "/api/v1/activities", query, &rows); err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		tradeDate, _ := time.Parse("2006-01-02", row.TradeDate)
		settled, _ := time.Parse(time.RFC3339, row.SettledAt)
		txs = append(txs, domain.Transaction{
			TradeDate:      BusinessDate(tradeDate, settled),
			SettlementDate: settled,
			Symbol:         NormalizeSymbol(row.Symbol),
			Quantity:       row.Units,
			Price:          row.Price,
			Amount:         row.Amount,
			Type:           snaptradeTransactionType(row.Type),
			AccountID:      row.AccountID,
			Currency:       row.Currency,
			Source:         a.Source(),
		})
	}
	return txs, nil
}

func (a *SnaptradeAdapter) DeriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	return deriveFlows(txs)
}

func snaptradeInstrumentType(t string) domain.InstrumentType {
	switch t {
	case "cs", "ps", "ad":
		return domain.InstrumentEquity
	case "et", "mf":
		return domain.InstrumentETF
	case "bnd":
		return domain.InstrumentBond
	case "cash":
		return domain.InstrumentCash
	}
	return domain.InstrumentEquity
}

func snaptradeTransactionType(t string) domain.TransactionType {
	switch t {
	case "BUY":
		return domain.TxBuy
	case "SELL":
		return domain.TxSell
	case "DIVIDEND":
		return domain.TxDividend
	case "INTEREST":
		return domain.TxInterest
	case "CONTRIBUTION", "DEPOSIT":
		return domain.TxDeposit
	case "WITHDRAWAL":
		return domain.TxWithdrawal
	case "FEE":
		return domain.TxFee
	case "REBATE", "CASHBACK":
		return domain.TxCashback
	case "TRANSFER_IN":
		return domain.TxTransferIn
	case "TRANSFER_OUT":
		return domain.TxTransferOut
	case "SYSTEM_TRANSFER":
		return domain.TxSystemTransfer
	}
	return domain.TxCorporateAction
}
