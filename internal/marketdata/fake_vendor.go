package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// FakeVendor is an in-memory Vendor used by tests across packages.
// Series are registered per symbol; FX pairs use "BASE/QUOTE" keys.
type FakeVendor struct {
	VendorName string
	Daily      map[string]Series
	Monthly    map[string]Series
	FX         map[string]Series
	Fail       map[string]bool // symbols that always fail
	Calls      atomic.Int64
}

// NewFakeVendor creates an empty fake vendor.
func NewFakeVendor(name string) *FakeVendor {
	return &FakeVendor{
		VendorName: name,
		Daily:      make(map[string]Series),
		Monthly:    make(map[string]Series),
		FX:         make(map[string]Series),
		Fail:       make(map[string]bool),
	}
}

func (f *FakeVendor) Name() string { return f.VendorName }

func (f *FakeVendor) lookup(table map[string]Series, key string, start, end time.Time) (Series, error) {
	f.Calls.Add(1)
	key = strings.ToUpper(key)
	if f.Fail[key] {
		return Series{}, fmt.Errorf("vendor %s: simulated failure for %s", f.VendorName, key)
	}
	s, ok := table[key]
	if !ok {
		return Series{}, fmt.Errorf("vendor %s: no data for %s", f.VendorName, key)
	}
	out := Series{}
	for i, d := range s.Dates {
		if d.Before(start) || d.After(end) {
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, s.Values[i])
	}
	return out, nil
}

func (f *FakeVendor) DailyClose(_ context.Context, symbol string, start, end time.Time) (Series, error) {
	return f.lookup(f.Daily, symbol, start, end)
}

func (f *FakeVendor) MonthlyTotalReturnClose(_ context.Context, symbol string, start, end time.Time) (Series, error) {
	return f.lookup(f.Monthly, symbol, start, end)
}

func (f *FakeVendor) MonthlyClose(_ context.Context, symbol string, start, end time.Time) (Series, error) {
	return f.lookup(f.Monthly, symbol, start, end)
}

func (f *FakeVendor) FXDaily(_ context.Context, base, quote string, start, end time.Time) (Series, error) {
	return f.lookup(f.FX, base+"/"+quote, start, end)
}

// MonthlySeries builds a monthly Series from a start month and values.
func MonthlySeries(year int, month time.Month, values ...float64) Series {
	out := Series{
		Dates:  make([]time.Time, len(values)),
		Values: values,
	}
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for i := range values {
		out.Dates[i] = d
		d = d.AddDate(0, 1, 0)
	}
	return out
}

// DailySeries builds a daily Series from a start date and values, skipping
// weekends.
func DailySeries(year int, month time.Month, day int, values ...float64) Series {
	out := Series{
		Dates:  make([]time.Time, 0, len(values)),
		Values: make([]float64, 0, len(values)),
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	for _, v := range values {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, v)
		d = d.AddDate(0, 0, 1)
	}
	return out
}
