package trading

import (
	"context"
	"testing"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcore/internal/domain"
	"github.com/aristath/riskcore/internal/marketdata"
)

func TestTrendSignal(t *testing.T) {
	// Long flat stretch then a collapse well below the average.
	closes := make([]float64, 0, 260)
	for i := 0; i < 210; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 50; i++ {
		closes = append(closes, 50)
	}

	sigs := trendSignal(closes)
	require.Len(t, sigs, 1)
	assert.Equal(t, SignalBelow200DMA, sigs[0].Type)
	assert.Equal(t, SeverityWarning, sigs[0].Severity)
	assert.Equal(t, 50.0, sigs[0].Value)
	assert.Greater(t, sigs[0].Threshold, 50.0)

	// Above the average: quiet.
	flat := make([]float64, 220)
	for i := range flat {
		flat[i] = 100
	}
	assert.Empty(t, trendSignal(flat))

	// Too short for the window: quiet.
	assert.Empty(t, trendSignal(closes[:100]))
}

func TestRsiSignal(t *testing.T) {
	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	sigs := rsiSignal(rising)
	require.Len(t, sigs, 1)
	assert.Equal(t, SignalRSIOverbought, sigs[0].Type)
	assert.Equal(t, SeverityInfo, sigs[0].Severity)
	assert.Greater(t, sigs[0].Value, rsiOverbought)

	falling := make([]float64, 40)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	assert.Empty(t, rsiSignal(falling))
}

func TestMacdSignalCheck(t *testing.T) {
	rising := make([]float64, 80)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	// A steady uptrend keeps the MACD line above its signal.
	assert.Empty(t, macdSignalCheck(rising))

	// Extend the series downward until the MACD line first dips below its
	// signal line; that exact bar is the cross-down.
	series := append([]float64(nil), rising...)
	for i := 0; i < 60; i++ {
		series = append(series, series[len(series)-1]-2)
		macd, signal, _ := talib.Macd(series, macdFast, macdSlow, macdSignal)
		n := len(macd)
		prev := macd[n-2] - signal[n-2]
		cur := macd[n-1] - signal[n-1]
		if prev >= 0 && cur < 0 {
			sigs := macdSignalCheck(series)
			require.Len(t, sigs, 1)
			assert.Equal(t, SignalMACDCrossDown, sigs[0].Type)
			assert.Equal(t, SeverityWarning, sigs[0].Severity)
			assert.Less(t, sigs[0].Value, 0.0)

			// One bar later the diff is already negative on both sides.
			series = append(series, series[len(series)-1]-2)
			assert.Empty(t, macdSignalCheck(series))
			return
		}
	}
	t.Fatal("downtrend never produced a cross-down")
}

func TestCheckExitSignals_PortfolioScan(t *testing.T) {
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	// Flat for a year then a slide under the 200-day average.
	values := make([]float64, 0, 280)
	for i := 0; i < 250; i++ {
		values = append(values, 100)
	}
	for i := 0; i < 30; i++ {
		values = append(values, 100-float64(i+1))
	}

	vendor := marketdata.NewFakeVendor("test")
	vendor.Daily["AAPL"] = marketdata.DailySeries(2024, time.June, 3, values...)
	desk := deskAt(t, vendor, now)

	portfolio := &domain.CanonicalPortfolio{
		UserID: "u1",
		Positions: map[string]domain.CanonicalPosition{
			"AAPL":  {Symbol: "AAPL", Type: domain.InstrumentEquity, Weight: 0.9},
			"GHOST": {Symbol: "GHOST", Type: domain.InstrumentEquity, Weight: 0.1},
			"CASH":  {Symbol: "CUR:USD", Type: domain.InstrumentCash},
		},
	}

	report, err := desk.CheckExitSignals(context.Background(), portfolio)
	require.NoError(t, err)

	require.Len(t, report.Symbols, 1)
	assert.Equal(t, "AAPL", report.Symbols[0].Symbol)
	types := make([]string, 0, len(report.Symbols[0].Signals))
	for _, s := range report.Symbols[0].Signals {
		types = append(types, s.Type)
	}
	assert.Contains(t, types, SignalBelow200DMA)

	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0], "GHOST")
}

func TestCheckExitSignals_EmptyPortfolio(t *testing.T) {
	desk := deskAt(t, marketdata.NewFakeVendor("test"), tradeClock)

	_, err := desk.CheckExitSignals(context.Background(), &domain.CanonicalPortfolio{})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
