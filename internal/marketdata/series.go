// Package marketdata provides the price and returns store: vendor-backed
// daily/monthly series with caching, alignment, and bounded concurrent
// fetching.
package marketdata

import (
	"math"
	"sort"
	"time"
)

// Series is a date-indexed value series. Dates are strictly increasing;
// every returned series has a known finite length.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Dates) }

// Clone returns a deep copy.
func (s Series) Clone() Series {
	out := Series{
		Dates:  make([]time.Time, len(s.Dates)),
		Values: make([]float64, len(s.Values)),
	}
	copy(out.Dates, s.Dates)
	copy(out.Values, s.Values)
	return out
}

// At returns the value for a date and whether it exists.
func (s Series) At(date time.Time) (float64, bool) {
	day := date.Truncate(24 * time.Hour)
	i := sort.Search(len(s.Dates), func(i int) bool { return !s.Dates[i].Before(day) })
	if i < len(s.Dates) && s.Dates[i].Equal(day) {
		return s.Values[i], true
	}
	return 0, false
}

// AsOf returns the most recent value at or before the date.
func (s Series) AsOf(date time.Time) (float64, bool) {
	day := date.Truncate(24 * time.Hour)
	i := sort.Search(len(s.Dates), func(i int) bool { return s.Dates[i].After(day) })
	if i == 0 {
		return 0, false
	}
	return s.Values[i-1], true
}

// Last returns the final observation.
func (s Series) Last() (time.Time, float64, bool) {
	if len(s.Dates) == 0 {
		return time.Time{}, 0, false
	}
	n := len(s.Dates) - 1
	return s.Dates[n], s.Values[n], true
}

// sorted returns the series re-sorted ascending by date. Vendors are not
// trusted to return monotonic output.
func (s Series) sorted() Series {
	if sort.SliceIsSorted(s.Dates, func(i, j int) bool { return s.Dates[i].Before(s.Dates[j]) }) {
		return s
	}
	out := s.Clone()
	idx := make([]int, len(out.Dates))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return s.Dates[idx[a]].Before(s.Dates[idx[b]]) })
	for i, j := range idx {
		out.Dates[i] = s.Dates[j]
		out.Values[i] = s.Values[j]
	}
	return out
}

// Reindex aligns the series to a target index, then drops entries with no
// observation. This is the single alignment policy for all consumers:
// reindex plus dropna.
func (s Series) Reindex(target []time.Time) Series {
	out := Series{}
	for _, d := range target {
		if v, ok := s.At(d); ok && !math.IsNaN(v) {
			out.Dates = append(out.Dates, d)
			out.Values = append(out.Values, v)
		}
	}
	return out
}

// Returns computes simple period-over-period returns p_t/p_{t-1} - 1,
// dropping the leading undefined observation.
func (s Series) Returns() Series {
	if s.Len() < 2 {
		return Series{}
	}
	out := Series{
		Dates:  make([]time.Time, 0, s.Len()-1),
		Values: make([]float64, 0, s.Len()-1),
	}
	for i := 1; i < s.Len(); i++ {
		prev := s.Values[i-1]
		cur := s.Values[i]
		if prev <= 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		out.Dates = append(out.Dates, s.Dates[i])
		out.Values = append(out.Values, cur/prev-1)
	}
	return out
}

// IntersectDates returns the dates present in every series, ascending.
// Used for pairwise inner joins before regression and correlation.
func IntersectDates(series ...Series) []time.Time {
	if len(series) == 0 {
		return nil
	}
	counts := make(map[time.Time]int)
	for _, s := range series {
		for _, d := range s.Dates {
			counts[d]++
		}
	}
	var out []time.Time
	for d, c := range counts {
		if c == len(series) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// MonthEnd truncates a date to its month bucket (first of month, UTC).
// Monthly series are keyed by bucket so vendor month-end conventions cannot
// cause off-by-one joins.
func MonthEnd(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ToMonthly buckets a daily series into monthly observations using the last
// value of each month.
func (s Series) ToMonthly() Series {
	if s.Len() == 0 {
		return Series{}
	}
	sorted := s.sorted()
	out := Series{}
	for i := 0; i < sorted.Len(); i++ {
		bucket := MonthEnd(sorted.Dates[i])
		if n := out.Len(); n > 0 && out.Dates[n-1].Equal(bucket) {
			out.Values[n-1] = sorted.Values[i]
			continue
		}
		out.Dates = append(out.Dates, bucket)
		out.Values = append(out.Values, sorted.Values[i])
	}
	return out
}
