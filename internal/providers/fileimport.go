package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/domain"
)

// FileImportAdapter reads manually maintained positions and transactions
// from a JSON file. Used for accounts at institutions with no API access.
type FileImportAdapter struct {
	path string
	log  zerolog.Logger
}

// NewFileImportAdapter creates an adapter reading from the given file path.
func NewFileImportAdapter(path string, log zerolog.Logger) *FileImportAdapter {
	return &FileImportAdapter{
		path: path,
		log:  log.With().Str("provider", "manual").Logger(),
	}
}

func (a *FileImportAdapter) Source() domain.ProviderSource { return domain.SourceManual }

// importFile is the manual-import document format.
type importFile struct {
	Positions    []importPosition    `json:"positions"`
	Transactions []importTransaction `json:"transactions"`
}

type importPosition struct {
	Symbol        string  `json:"symbol"`
	Type          string  `json:"type"` // equity, etf, bond, futures, cash
	Quantity      float64 `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	CostBasis     float64 `json:"cost_basis"`
	Currency      string  `json:"currency"`
	AccountID     string  `json:"account_id"`
	Institution   string  `json:"institution"`
	ContractMonth string  `json:"contract_month,omitempty"`
}

type importTransaction struct {
	Date      string  `json:"date"` // YYYY-MM-DD
	Type      string  `json:"type"` // transaction type constant
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	AccountID string  `json:"account_id"`
}

func (a *FileImportAdapter) load() (*importFile, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, domain.NewProviderUnavailable("manual", err)
	}
	var doc importFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.NewProviderUnavailable("manual", fmt.Errorf("failed to parse import file: %w", err))
	}
	return &doc, nil
}

func (a *FileImportAdapter) FetchPositions(_ context.Context, _ time.Time) ([]domain.Position, error) {
	doc, err := a.load()
	if err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(doc.Positions))
	for _, row := range doc.Positions {
		if row.Quantity == 0 {
			continue
		}
		positions = append(positions, normalizePosition(domain.Position{
			Symbol:        row.Symbol,
			Quantity:      row.Quantity,
			UnitPrice:     row.UnitPrice,
			Currency:      row.Currency,
			CostBasis:     row.CostBasis,
			AccountID:     row.AccountID,
			BrokerageName: row.Institution,
			Type:          domain.InstrumentType(row.Type),
			ContractMonth: row.ContractMonth,
		}, a.Source()))
	}
	return positions, nil
}

func (a *FileImportAdapter) FetchTransactions(_ context.Context, start, end time.Time) ([]domain.Transaction, error) {
	doc, err := a.load()
	if err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(doc.Transactions))
	for _, row := range doc.Transactions {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			a.log.Warn().Str("date", row.Date).Msg("Skipping transaction with malformed date")
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		txs = append(txs, domain.Transaction{
			TradeDate: date,
			Symbol:    NormalizeSymbol(row.Symbol),
			Quantity:  row.Quantity,
			Price:     row.Price,
			Amount:    row.Amount,
			Type:      domain.TransactionType(row.Type),
			AccountID: row.AccountID,
			Currency:  row.Currency,
			Source:    a.Source(),
		})
	}
	return txs, nil
}

func (a *FileImportAdapter) DeriveFlows(txs []domain.Transaction) []domain.FlowEvent {
	return deriveFlows(txs)
}
