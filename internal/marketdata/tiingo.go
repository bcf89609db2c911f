package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TiingoVendor fetches end-of-day and FX series from the Tiingo REST API.
// The adjusted close carries dividend and split adjustments, which is what
// the monthly total-return series needs.
type TiingoVendor struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewTiingoVendor creates a vendor authenticated with an API token. The name
// distinguishes primary and fallback instances in logs.
func NewTiingoVendor(name, token string, log zerolog.Logger) *TiingoVendor {
	return &TiingoVendor{
		name:    name,
		baseURL: "https://api.tiingo.com",
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("vendor", name).Logger(),
	}
}

func (v *TiingoVendor) Name() string { return v.name }

// tiingoBar is one EOD price row.
type tiingoBar struct {
	Date     string  `json:"date"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjClose"`
}

func (v *TiingoVendor) DailyClose(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	return v.eod(ctx, symbol, start, end, "daily", false)
}

func (v *TiingoVendor) MonthlyTotalReturnClose(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	return v.eod(ctx, symbol, start, end, "monthly", true)
}

func (v *TiingoVendor) MonthlyClose(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	return v.eod(ctx, symbol, start, end, "monthly", false)
}

func (v *TiingoVendor) FXDaily(ctx context.Context, base, quote string, start, end time.Time) (Series, error) {
	pair := strings.ToLower(base + quote)
	query := url.Values{
		"startDate":    {start.Format("2006-01-02")},
		"endDate":      {end.Format("2006-01-02")},
		"resampleFreq": {"1day"},
	}

	var rows []tiingoBar
	if err := v.get(ctx, "/tiingo/fx/"+pair+"/prices", query, &rows); err != nil {
		return Series{}, err
	}
	return barsToSeries(rows, false), nil
}

func (v *TiingoVendor) eod(ctx context.Context, symbol string, start, end time.Time, freq string, adjusted bool) (Series, error) {
	query := url.Values{
		"startDate":    {start.Format("2006-01-02")},
		"endDate":      {end.Format("2006-01-02")},
		"resampleFreq": {freq},
	}

	var rows []tiingoBar
	if err := v.get(ctx, "/tiingo/daily/"+url.PathEscape(symbol)+"/prices", query, &rows); err != nil {
		return Series{}, err
	}
	return barsToSeries(rows, adjusted), nil
}

func (v *TiingoVendor) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	query.Set("token", v.token)
	u := v.baseURL + endpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", v.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", v.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s returned %d: %s", v.name, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", v.name, err)
	}
	return nil
}

// barsToSeries converts vendor rows to a day-truncated UTC series. Rows with
// unparseable dates or non-positive prices are dropped.
func barsToSeries(rows []tiingoBar, adjusted bool) Series {
	out := Series{
		Dates:  make([]time.Time, 0, len(rows)),
		Values: make([]float64, 0, len(rows)),
	}
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			continue
		}
		value := row.Close
		if adjusted && row.AdjClose > 0 {
			value = row.AdjClose
		}
		if value <= 0 {
			continue
		}
		y, m, d := ts.UTC().Date()
		out.Dates = append(out.Dates, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
		out.Values = append(out.Values, value)
	}
	return out.sorted()
}
