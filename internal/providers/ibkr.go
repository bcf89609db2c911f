package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/contracts"
	"github.com/aristath/riskcore/internal/domain"
)

// IBKRAdapter talks to the Interactive Brokers gateway. Native source; the
// only adapter that routinely reports futures positions and multi-currency
// cash balances.
type IBKRAdapter struct {
	http *httpClient
	log  zerolog.Logger
}

// NewIBKRAdapter creates an IBKR adapter against a gateway base URL.
func NewIBKRAdapter(baseURL, sessionToken string, log zerolog.Logger) *IBKRAdapter {
	l := log.With().Str("provider", "ibkr").Logger()
	headers := map[string]string{}
	if sessionToken != "" {
		headers["X-IB-Session"] = sessionToken
	}
	return &IBKRAdapter{
		http: newHTTPClient(baseURL, headers, l),
		log:  l,
	}
}

func (a *IBKRAdapter) Source() domain.ProviderSource { return domain.SourceIBKR }

// ibkrPosition mirrors the flex-report position row.
type ibkrPosition struct {
	Symbol        string  `json:"symbol"`
	SecType       string  `json:"secType"` // STK, FUT, BOND, CASH
	Position      float64 `json:"position"`
	MarkPrice     float64 `json:"markPrice"`
	CostBasis     float64 `json:"costBasisMoney"`
	Currency      string  `json:"currency"`
	AccountID     string  `json:"acctId"`
	ContractMonth string  `json:"lastTradeDateOrContractMonth,omitempty"` // YYYYMM for futures
}

// ibkrCashReport is one currency balance line.
type ibkrCashReport struct {
	Currency  string  `json:"currency"`
	Balance   float64 `json:"endingCash"`
	AccountID string  `json:"acctId"`
}

// ibkrTransaction mirrors the flex-report cash transaction row.
type ibkrTransaction struct {
	TradeDate string  `json:"tradeDate"` // YYYYMMDD
	DateTime  string  `json:"dateTime"`  // RFC3339
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"tradePrice"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	AccountID string  `json:"acctId"`
}

func (a *IBKRAdapter) FetchPositions(ctx context.Context, asOf time.Time) ([]domain.Position, error) {
	query := url.Values{"asOf": {asOf.Format("2006-01-02")}}

	var rows []ibkrPosition
	if err := a.http.get(ctx, a.Source(), "/v1/portfolio/positions", query, &rows); err != nil {
		return nil, err
	}
	var cash []ibkrCashReport
	if err := a.http.get(ctx, a.Source(), "/v1/portfolio/cash", query, &cash); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(rows)+len(cash))
	for _, row := range rows {
		if row.Position == 0 {
			continue
		}
		contractMonth := ""
		if row.SecType == "FUT" {
			contractMonth = normalizeContractMonth(row.ContractMonth)
		}
		positions = append(positions, normalizePosition(domain.Position{
			Symbol:        row.Symbol,
			Quantity:      row.Position,
			UnitPrice:     row.MarkPrice,
			Currency:      row.Currency,
			CostBasis:     row.CostBasis,
			AccountID:     row.AccountID,
			BrokerageName: "Interactive Brokers",
			Type:          ibkrInstrumentType(row.SecType),
			ContractMonth: contractMonth,
		}, a.Source()))
	}
	for _, row := range cash {
		if row.Balance == 0 {
			continue
		}
		positions = append(positions, normalizePosition(domain.Position{
			Symbol:        CashSymbol(row.Currency),
			Quantity:      row.Balance,
			UnitPrice:     1,
			Currency:      row.Currency,
			AccountID:     row.AccountID,
			BrokerageName: "Interactive Brokers",
			Type:          domain.InstrumentCash,
		}, a.Source()))
	}
	a.log.Debug().Int("positions", len(positions)).Msg("Fetched positions")
	return positions, nil
}

func (a *IBKRAdapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	query := url.Values{
		"from": {start.Format("20060102")},
		"to":   {end.Format("20060102")},
	}
	var rows []ibkrTransaction
	if err := a.http.get(ctx, a.Source(), "/v1/portfolio/transactions", query, &rows); err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		tradeDate, _ := time.Parse("20060102", row.TradeDate)
		systemTime, _ := time.Parse(time.RFC3339, row.DateTime)
		txs = append(txs, domain.Transaction{
			TradeDate:      BusinessDate(tradeDate, systemTime),
			SettlementDate: systemTime,
			Symbol:         NormalizeSymbol(row.Symbol),
			Quantity:       row.Quantity,
			Price:          row.Price,
			Amount:         row.Amount,
			Type:           ibkrTransactionType(row.Type),
			AccountID:      row.AccountID,
			Currency:       row.Currency,
			Source:         a.Source(),
		})
	}
	return txs, nil
}

func (a *IBKRAdapter) DeriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	return deriveFlows(txs)
}

// ibkrContractMonth mirrors the gateway's listed-expiry row.
type ibkrContractMonth struct {
	ContractMonth string `json:"contractMonth"` // YYYYMM
	LastTradeDate string `json:"lastTradeDate"` // YYYY-MM-DD
	ConID         int64  `json:"conid"`
}

// ListContractMonths enumerates listed expiries for a futures root. This
// makes the adapter usable as the contract catalog's month lister.
func (a *IBKRAdapter) ListContractMonths(ctx context.Context, symbol string) ([]contracts.ContractMonth, error) {
	var rows []ibkrContractMonth
	if err := a.http.get(ctx, a.Source(), "/v1/contracts/"+symbol+"/months", nil, &rows); err != nil {
		return nil, err
	}

	months := make([]contracts.ContractMonth, 0, len(rows))
	for _, row := range rows {
		ltd, err := time.Parse("2006-01-02", row.LastTradeDate)
		if err != nil {
			a.log.Warn().Str("symbol", symbol).Str("last_trade_date", row.LastTradeDate).Msg("Skipping expiry with unparseable last trade date")
			continue
		}
		months = append(months, contracts.ContractMonth{
			ContractMonth: normalizeContractMonth(row.ContractMonth),
			LastTradeDate: ltd,
			ConID:         row.ConID,
		})
	}
	return months, nil
}

// normalizeContractMonth reduces YYYYMMDD expiries to the YYYYMM contract
// month used for catalog lookup.
func normalizeContractMonth(raw string) string {
	if len(raw) >= 6 {
		return raw[:6]
	}
	return raw
}

func ibkrInstrumentType(secType string) domain.InstrumentType {
	switch secType {
	case "STK":
		return domain.InstrumentEquity
	case "ETF", "FUND":
		return domain.InstrumentETF
	case "BOND", "BILL":
		return domain.InstrumentBond
	case "FUT":
		return domain.InstrumentFutures
	case "CASH":
		return domain.InstrumentCash
	}
	return domain.InstrumentEquity
}

func ibkrTransactionType(t string) domain.TransactionType {
	switch t {
	case "BUY", "BOT":
		return domain.TxBuy
	case "SELL", "SLD":
		return domain.TxSell
	case "Dividends", "DIVIDEND":
		return domain.TxDividend
	case "Broker Interest Received", "INTEREST":
		return domain.TxInterest
	case "Deposits", "DEPOSIT", "Deposits/Withdrawals":
		return domain.TxDeposit
	case "Withdrawals", "WITHDRAWAL":
		return domain.TxWithdrawal
	case "Other Fees", "Commission Adjustments", "FEE":
		return domain.TxFee
	case "INTERNAL_TRANSFER_IN", "TRANSFER_IN":
		return domain.TxTransferIn
	case "INTERNAL_TRANSFER_OUT", "TRANSFER_OUT":
		return domain.TxTransferOut
	case "SYSTEM_TRANSFER", "Position Transfer":
		return domain.TxSystemTransfer
	}
	return domain.TxCorporateAction
}
