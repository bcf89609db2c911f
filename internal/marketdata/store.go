package marketdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/riskcore/internal/domain"
)

// Store fetches, aligns, and caches price series from a primary vendor with
// a secondary-vendor fallback. Concurrent requests for the same
// (symbol, range, frequency) share one upstream call via singleflight, and
// bulk fetches run through a bounded worker pool to respect vendor rate
// limits.
type Store struct {
	primary   Vendor
	secondary Vendor // optional
	cacheDB   *sql.DB
	cacheTTL  time.Duration
	workers   int
	group     singleflight.Group
	log       zerolog.Logger
}

// Options configures a Store.
type Options struct {
	Primary   Vendor
	Secondary Vendor
	CacheDB   *sql.DB // cache.db connection; nil disables caching
	CacheTTL  time.Duration
	Workers   int // bounded pool size for bulk fetches (default 16)
}

// NewStore creates a price store.
func NewStore(opts Options, log zerolog.Logger) *Store {
	workers := opts.Workers
	if workers <= 0 {
		workers = 16
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		cacheDB:   opts.CacheDB,
		cacheTTL:  ttl,
		workers:   workers,
		log:       log.With().Str("component", "marketdata").Logger(),
	}
}

// DailyClose returns the daily close series for a symbol, ascending by date.
func (s *Store) DailyClose(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	return s.fetch(ctx, symbol, FrequencyDaily, start, end, func(v Vendor) (Series, error) {
		return v.DailyClose(ctx, symbol, start, end)
	})
}

// MonthlyTotalReturnClose returns month-end total-return prices, falling back
// to plain monthly closes when the adjusted series is unavailable from a
// vendor.
func (s *Store) MonthlyTotalReturnClose(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	return s.fetch(ctx, symbol, FrequencyMonthly, start, end, func(v Vendor) (Series, error) {
		series, err := v.MonthlyTotalReturnClose(ctx, symbol, start, end)
		if err == nil && series.Len() > 0 {
			return series, nil
		}
		if err != nil {
			s.log.Debug().Str("symbol", symbol).Str("vendor", v.Name()).Err(err).
				Msg("Total-return series unavailable, falling back to monthly close")
		}
		return v.MonthlyClose(ctx, symbol, start, end)
	})
}

// FXDaily returns the daily base/quote rate series.
func (s *Store) FXDaily(ctx context.Context, base, quote string, start, end time.Time) (Series, error) {
	pair := strings.ToUpper(base) + "/" + strings.ToUpper(quote)
	return s.fetch(ctx, pair, FrequencyDaily, start, end, func(v Vendor) (Series, error) {
		return v.FXDaily(ctx, base, quote, start, end)
	})
}

// MonthlyReturns fetches the monthly total-return series for a symbol and
// converts it to period returns.
func (s *Store) MonthlyReturns(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	prices, err := s.MonthlyTotalReturnClose(ctx, symbol, start, end)
	if err != nil {
		return Series{}, err
	}
	return prices.Returns(), nil
}

// BulkMonthlyReturns fetches monthly return series for many symbols through
// the bounded worker pool. Individual failures are returned in the error map
// rather than failing the batch; callers exclude those assets and record
// them in data quality.
func (s *Store) BulkMonthlyReturns(ctx context.Context, symbols []string, start, end time.Time) (map[string]Series, map[string]error) {
	results := make(map[string]Series, len(symbols))
	failures := make(map[string]error)

	var mu sync.Mutex
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				failures[symbol] = ctx.Err()
				mu.Unlock()
				return
			}

			series, err := s.MonthlyReturns(ctx, symbol, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[symbol] = err
				return
			}
			results[symbol] = series
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		failed := make([]string, 0, len(failures))
		for sym := range failures {
			failed = append(failed, sym)
		}
		sort.Strings(failed)
		s.log.Warn().Strs("symbols", failed).Msg("Some symbols failed to fetch")
	}

	return results, failures
}

// fetch runs the cache / singleflight / vendor-fallback pipeline for one
// series. If all vendors fail the caller receives PRICE_UNAVAILABLE; zeros
// are never substituted.
func (s *Store) fetch(ctx context.Context, symbol string, freq Frequency, start, end time.Time, call func(Vendor) (Series, error)) (Series, error) {
	if end.Before(start) {
		return Series{}, domain.NewValidation("series range end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	key := cacheKey(symbol, freq, start, end, s.vendorNames())
	if cached, ok := s.cacheGet(key); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Re-check the cache: a concurrent caller may have populated it
		// between our miss and acquiring the flight.
		if cached, ok := s.cacheGet(key); ok {
			return cached, nil
		}

		var lastErr error
		for _, vendor := range []Vendor{s.primary, s.secondary} {
			if vendor == nil {
				continue
			}
			series, err := call(vendor)
			if err != nil {
				lastErr = err
				s.log.Warn().Str("symbol", symbol).Str("vendor", vendor.Name()).Err(err).
					Msg("Vendor fetch failed")
				continue
			}
			if series.Len() == 0 {
				lastErr = fmt.Errorf("vendor %s returned empty series", vendor.Name())
				continue
			}
			out := series.sorted()
			s.cacheSet(key, out)
			return out, nil
		}
		return nil, domain.NewPriceUnavailable(symbol, lastErr)
	})
	if err != nil {
		return Series{}, err
	}
	return v.(Series), nil
}

func (s *Store) vendorNames() string {
	names := make([]string, 0, 2)
	if s.primary != nil {
		names = append(names, s.primary.Name())
	}
	if s.secondary != nil {
		names = append(names, s.secondary.Name())
	}
	return strings.Join(names, "+")
}

func cacheKey(symbol string, freq Frequency, start, end time.Time, vendor string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		strings.ToUpper(symbol), freq,
		start.Format("2006-01-02"), end.Format("2006-01-02"), vendor)
}

type cachedSeries struct {
	Dates  []string  `json:"dates"`
	Values []float64 `json:"values"`
}

func (s *Store) cacheGet(key string) (Series, bool) {
	if s.cacheDB == nil {
		return Series{}, false
	}

	var datesJSON, valuesJSON string
	var expiresAt int64
	err := s.cacheDB.QueryRow(
		"SELECT dates, points, expires_at FROM price_cache WHERE key = ?", key,
	).Scan(&datesJSON, &valuesJSON, &expiresAt)
	if err != nil {
		return Series{}, false
	}
	if time.Now().Unix() >= expiresAt {
		return Series{}, false
	}

	var dates []string
	var values []float64
	if err := json.Unmarshal([]byte(datesJSON), &dates); err != nil {
		return Series{}, false
	}
	if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
		return Series{}, false
	}
	if len(dates) != len(values) {
		return Series{}, false
	}

	out := Series{
		Dates:  make([]time.Time, len(dates)),
		Values: values,
	}
	for i, d := range dates {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return Series{}, false
		}
		out.Dates[i] = parsed
	}
	return out, true
}

func (s *Store) cacheSet(key string, series Series) {
	if s.cacheDB == nil {
		return
	}

	dates := make([]string, series.Len())
	for i, d := range series.Dates {
		dates[i] = d.Format("2006-01-02")
	}
	datesJSON, err := json.Marshal(dates)
	if err != nil {
		return
	}
	valuesJSON, err := json.Marshal(series.Values)
	if err != nil {
		return
	}

	_, err = s.cacheDB.Exec(`
		INSERT INTO price_cache (key, dates, points, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			dates = excluded.dates,
			points = excluded.points,
			expires_at = excluded.expires_at
	`, key, string(datesJSON), string(valuesJSON), time.Now().Add(s.cacheTTL).Unix())
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache price series")
	}
}
