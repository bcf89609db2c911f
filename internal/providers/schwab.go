package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// SchwabAdapter talks to the Schwab gateway. Native source: its rows are
// authoritative over aggregator mirrors of the same account.
type SchwabAdapter struct {
	http *httpClient
	log  zerolog.Logger
}

// NewSchwabAdapter creates a Schwab adapter against a gateway base URL.
func NewSchwabAdapter(baseURL, accessToken string, log zerolog.Logger) *SchwabAdapter {
	l := log.With().Str("provider", "schwab").Logger()
	headers := map[string]string{}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	return &SchwabAdapter{
		http: newHTTPClient(baseURL, headers, l),
		log:  l,
	}
}

func (a *SchwabAdapter) Source() domain.ProviderSource { return domain.SourceSchwab }

// schwabPosition is the gateway's position row.
type schwabPosition struct {
	Symbol        string  `json:"symbol"`
	AssetType     string  `json:"assetType"` // EQUITY, ETF, FIXED_INCOME, FUTURE, CASH_EQUIVALENT
	Quantity      float64 `json:"longQuantity"`
	ShortQuantity float64 `json:"shortQuantity"`
	MarketPrice   float64 `json:"marketPrice"`
	CostBasis     float64 `json:"averagePrice"`
	Currency      string  `json:"currency"`
	AccountID     string  `json:"accountNumber"`
	ContractMonth string  `json:"contractMonth,omitempty"`
}

// schwabTransaction is the gateway's ledger row.
type schwabTransaction struct {
	TradeDate  string  `json:"tradeDate"` // YYYY-MM-DD, business date
	Time       string  `json:"time"`      // RFC3339 system timestamp
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	NetAmount  float64 `json:"netAmount"`
	Currency   string  `json:"currency"`
	AccountID  string  `json:"accountNumber"`
}

func (a *SchwabAdapter) FetchPositions(ctx context.Context, asOf time.Time) ([]domain.Position, error) {
	query := url.Values{"asOf": {asOf.Format("2006-01-02")}}
	var rows []schwabPosition
	if err := a.http.get(ctx, a.Source(), "/v1/accounts/positions", query, &rows); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		qty := row.Quantity - row.ShortQuantity
		if qty == 0 {
			continue
		}
		positions = append(positions, normalizePosition(domain.Position{
			Symbol:        row.Symbol,
			Quantity:      qty,
			UnitPrice:     row.MarketPrice,
			Currency:      row.Currency,
			CostBasis:     row.CostBasis,
			AccountID:     row.AccountID,
			BrokerageName: "Charles Schwab",
			Type:          schwabInstrumentType(row.AssetType),
			ContractMonth: row.ContractMonth,
		}, a.Source()))
	}
	a.log.Debug().Int("positions", len(positions)).Msg("Fetched positions")
	return positions, nil
}

func (a *SchwabAdapter) FetchTransactions(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	query := url.Values{
		"startDate": {start.Format("2006-01-02")},
		"endDate":   {end.Format("2006-01-02")},
	}
	var rows []schwabTransaction
	if err := a.http.get(ctx, a.Source(), "/v1/accounts/transactions", query, &rows); err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		tradeDate, _ := time.Parse("2006-01-02", row.TradeDate)
		systemTime, _ := time.Parse(time.RFC3339, row.Time)
		txs = append(txs, domain.Transaction{
			TradeDate:      BusinessDate(tradeDate, systemTime),
			SettlementDate: systemTime,
			Symbol:         NormalizeSymbol(row.Symbol),
			Quantity:       row.Quantity,
			Price:          row.Price,
			Amount:         row.NetAmount,
			Type:           schwabTransactionType(row.Type),
			AccountID:      row.AccountID,
			Currency:       row.Currency,
			Source:         a.Source(),
		})
	}
	return txs, nil
}

func (a *SchwabAdapter) DeriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	return deriveFlows(txs)
}

func schwabInstrumentType(assetType string) domain.InstrumentType {
	switch assetType {
	case "EQUITY":
		return domain.InstrumentEquity
	case "ETF", "COLLECTIVE_INVESTMENT":
		return domain.InstrumentETF
	case "FIXED_INCOME":
		return domain.InstrumentBond
	case "FUTURE":
		return domain.InstrumentFutures
	case "CASH_EQUIVALENT", "CURRENCY":
		return domain.InstrumentCash
	}
	return domain.InstrumentEquity
}

func schwabTransactionType(t string) domain.TransactionType {
	switch t {
	case "TRADE_BUY", "BUY":
		return domain.TxBuy
	case "TRADE_SELL", "SELL":
		return domain.TxSell
	case "DIVIDEND_OR_INTEREST", "DIVIDEND":
		return domain.TxDividend
	case "INTEREST":
		return domain.TxInterest
	case "CASH_RECEIPT", "ELECTRONIC_FUND", "DEPOSIT":
		return domain.TxDeposit
	case "CASH_DISBURSEMENT", "WITHDRAWAL":
		return domain.TxWithdrawal
	case "FEE", "SERVICE_FEE":
		return domain.TxFee
	case "CASHBACK", "REWARD":
		return domain.TxCashback
	case "RECEIVE_AND_DELIVER", "TRANSFER_IN":
		return domain.TxTransferIn
	case "TRANSFER_OUT":
		return domain.TxTransferOut
	case "SYSTEM_TRANSFER":
		return domain.TxSystemTransfer
	}
	return domain.TxCorporateAction
}
