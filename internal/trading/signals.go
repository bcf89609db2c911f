package trading

import (
	"context"
	"math"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"github.com/aristath/riskcore/internal/domain"
)

// Technical check parameters. The lookback fetch covers the SMA window with
// headroom for holidays.
const (
	smaPeriod      = 200
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	rsiOverbought  = 70.0
	signalLookback = 18 // months of daily closes fetched
)

// Signal severities.
const (
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Signal types.
const (
	SignalBelow200DMA   = "below_200dma"
	SignalRSIOverbought = "rsi_overbought"
	SignalMACDCrossDown = "macd_cross_down"
)

// Signal is one triggered technical check.
type Signal struct {
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Value    float64 `json:"value"`
	// Threshold is the level the value is compared against.
	Threshold float64 `json:"threshold"`
}

// SymbolSignals holds the triggered checks for one position.
type SymbolSignals struct {
	Symbol  string   `json:"symbol"`
	Close   float64  `json:"close"`
	Signals []Signal `json:"signals"`
}

// ExitSignalReport is the portfolio-wide technical scan. It never generates
// orders; it only surfaces positions worth reviewing.
type ExitSignalReport struct {
	AsOf    time.Time       `json:"as_of"`
	Symbols []SymbolSignals `json:"symbols"`
	// Skipped lists positions without enough daily history, with the reason.
	Skipped []string `json:"skipped,omitempty"`
}

// CheckExitSignals runs the technical checks (price vs 200-day SMA, RSI
// overbought, MACD cross-down) over every non-cash position's daily closes.
// Positions without usable history are skipped and reported.
func (d *Desk) CheckExitSignals(ctx context.Context, portfolio *domain.CanonicalPortfolio) (*ExitSignalReport, error) {
	if portfolio == nil || len(portfolio.Positions) == 0 {
		return nil, domain.NewValidation("portfolio has no positions")
	}

	end := d.now()
	start := end.AddDate(0, -signalLookback, 0)
	report := &ExitSignalReport{AsOf: end}

	for _, key := range portfolio.NonCashSymbols() {
		pos := portfolio.Positions[key]
		series, err := d.store.DailyClose(ctx, pos.Symbol, start, end)
		if err != nil {
			report.Skipped = append(report.Skipped, key+": "+err.Error())
			continue
		}
		if series.Len() < macdSlow+macdSignal {
			report.Skipped = append(report.Skipped, key+": insufficient history")
			continue
		}

		closes := series.Values
		entry := SymbolSignals{Symbol: key, Close: closes[len(closes)-1]}
		entry.Signals = append(entry.Signals, trendSignal(closes)...)
		entry.Signals = append(entry.Signals, rsiSignal(closes)...)
		entry.Signals = append(entry.Signals, macdSignalCheck(closes)...)

		if len(entry.Signals) > 0 {
			report.Symbols = append(report.Symbols, entry)
		}
	}

	sort.Slice(report.Symbols, func(i, j int) bool {
		return report.Symbols[i].Symbol < report.Symbols[j].Symbol
	})
	sort.Strings(report.Skipped)
	return report, nil
}

func trendSignal(closes []float64) []Signal {
	if len(closes) < smaPeriod {
		return nil
	}
	sma := talib.Sma(closes, smaPeriod)
	level := sma[len(sma)-1]
	last := closes[len(closes)-1]
	if math.IsNaN(level) || level <= 0 || last >= level {
		return nil
	}
	return []Signal{{
		Type:      SignalBelow200DMA,
		Severity:  SeverityWarning,
		Value:     last,
		Threshold: level,
	}}
}

func rsiSignal(closes []float64) []Signal {
	if len(closes) <= rsiPeriod {
		return nil
	}
	rsi := talib.Rsi(closes, rsiPeriod)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) || last <= rsiOverbought {
		return nil
	}
	return []Signal{{
		Type:      SignalRSIOverbought,
		Severity:  SeverityInfo,
		Value:     last,
		Threshold: rsiOverbought,
	}}
}

func macdSignalCheck(closes []float64) []Signal {
	macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	n := len(macd)
	if n < 2 {
		return nil
	}
	prev := macd[n-2] - signal[n-2]
	cur := macd[n-1] - signal[n-1]
	if math.IsNaN(prev) || math.IsNaN(cur) || prev < 0 || cur >= 0 {
		return nil
	}
	return []Signal{{
		Type:      SignalMACDCrossDown,
		Severity:  SeverityWarning,
		Value:     cur,
		Threshold: 0,
	}}
}
