package marketdata

import (
	"context"
	"time"
)

// Frequency of a price series.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyMonthly Frequency = "monthly"
)

// Vendor is the upstream price-data boundary. Concrete HTTP clients live
// outside the core; tests use in-memory vendors.
type Vendor interface {
	Name() string
	// DailyClose returns daily close prices for a symbol.
	DailyClose(ctx context.Context, symbol string, start, end time.Time) (Series, error)
	// MonthlyTotalReturnClose returns month-end total-return prices.
	MonthlyTotalReturnClose(ctx context.Context, symbol string, start, end time.Time) (Series, error)
	// MonthlyClose returns month-end close prices (fallback when the
	// total-return series is unavailable).
	MonthlyClose(ctx context.Context, symbol string, start, end time.Time) (Series, error)
	// FXDaily returns daily base/quote exchange rates.
	FXDaily(ctx context.Context, base, quote string, start, end time.Time) (Series, error)
}
