package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// PlaidAdapter talks to the Plaid investments gateway. Aggregator source:
// its rows mirror positions held at real brokers, so the canonicalizer
// defers to native sources reporting the same symbols.
type PlaidAdapter struct {
	http *httpClient
	log  zerolog.Logger
}

// NewPlaidAdapter creates a Plaid adapter against a gateway base URL.
func NewPlaidAdapter(baseURL, clientID, secret string, log zerolog.Logger) *PlaidAdapter {
	l := log.With().Str("provider", "plaid").Logger()
	headers := map[string]string{}
	if clientID != "" {
		headers["PLAID-CLIENT-ID"] = clientID
	}
	if secret != "" {
		headers["PLAID-SECRET"] = secret
	}
	return &PlaidAdapter{
		http: newHTTPClient(baseURL, headers, l),
		log:  l,
	}
}

func (a *PlaidAdapter) Source() domain.ProviderSource { return domain.SourcePlaid }

// plaidHolding is one row of /investments/holdings/get, flattened by the
// gateway with the institution name joined in.
type plaidHolding struct {
	TickerSymbol    string  `json:"ticker_symbol"`
	SecurityType    string  `json:"security_type"` // equity, etf, fixed income, cash
	Quantity        float64 `json:"quantity"`
	InstitutionPrice float64 `json:"institution_price"`
	CostBasis       float64 `json:"cost_basis"`
	Currency        string  `json:"iso_currency_code"`
	AccountID       string  `json:"account_id"`
	InstitutionName string  `json:"institution_name"`
}

// plaidInvestmentTransaction is one row of /investments/transactions/get.
type plaidInvestmentTransaction struct {
	Date         string  `json:"date"` // YYYY-MM-DD business date
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	TickerSymbol string  `json:"ticker_symbol"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"iso_currency_code"`
	AccountID    string  `json:"account_id"`
}

func (a *PlaidAdapter) FetchPositions(ctx context.Context, asOf time.Time) ([]domain.Position, error) {
	query := url.Values{"as_of": {asOf.Format("2006-01-02")}}
	var rows []plaidHolding
	if err := a.http.get(ctx, a.Source(), "/investments/holdings", query, &rows); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		if row.Quantity == 0 {
			continue
		}
		positions = append(positions, normalizePosition(domain.Position{
			Symbol:        row.TickerSymbol,
			Quantity:      row.Quantity,
			UnitPrice:     row.InstitutionPrice,
			Currency:      row.Currency,
			CostBasis:     row.CostBasis,
			AccountID:     row.AccountID,
			BrokerageName: row.InstitutionName,
			Type:          plaidInstrumentType(row.SecurityType),
		}, a.Source()))
	}
	a.log.Debug().Int("positions", len(positions)).Msg("Fetched holdings")
	return positions, nil
}

func (a *PlaidAdapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	query := url.Values{
		"start_date": {start.Format("2006-01-02")},
		"end_date":   {end.Format("2006-01-02")},
	}
	var rows []plaidInvestmentTransaction
	if err := a.http.get(ctx, a.Source(), "/investments/transactions", query, &rows); err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		date, _ := time.Parse("2006-01-02", row.Date)
		txs = append(txs, domain.Transaction{
			TradeDate: BusinessDate(date, time.Time{}),
			Symbol:    NormalizeSymbol(row.TickerSymbol),
			Quantity:  row.Quantity,
			Price:     row.Price,
			Amount:    -row.Amount, // Plaid amounts are positive for outflows
			Type:      plaidTransactionType(row.Type, row.Subtype),
			AccountID: row.AccountID,
			Currency:  row.Currency,
			Source:    a.Source(),
		})
	}
	return txs, nil
}

func (a *PlaidAdapter) DeriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	return deriveFlows(txs)
}

func plaidInstrumentType(securityType string) domain.InstrumentType {
	switch securityType {
	case "equity":
		return domain.InstrumentEquity
	case "etf", "mutual fund":
		return domain.InstrumentETF
	case "fixed income":
		return domain.InstrumentBond
	case "cash":
		return domain.InstrumentCash
	}
	return domain.InstrumentEquity
}

func plaidTransactionType(txType, subtype string) domain.TransactionType {
	switch txType {
	case "buy":
		return domain.TxBuy
	case "sell":
		return domain.TxSell
	case "cash":
		switch subtype {
		case "deposit", "contribution":
			return domain.TxDeposit
		case "withdrawal", "distribution":
			return domain.TxWithdrawal
		case "dividend":
			return domain.TxDividend
		case "interest":
			return domain.TxInterest
		case "account fee", "management fee":
			return domain.TxFee
		case "cashback", "reward":
			return domain.TxCashback
		}
	case "transfer":
		switch subtype {
		case "transfer in":
			return domain.TxTransferIn
		case "transfer out":
			return domain.TxTransferOut
		}
	case "fee":
		return domain.TxFee
	}
	return domain.TxCorporateAction
}
