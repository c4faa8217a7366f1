// Package history turns dated cumulative point snapshots into the figures the
// dashboard shows: final values, period/weekly/monthly deltas, deltas between
// consecutive snapshots and the per-player history table.
//
// Everything here is pure computation over values already read from the
// snapshot store. Missing data is reported as nil, never as zero.
package history

import (
	"sort"

	"github.com/family-history/internal/domain"
)

// Point is one (date, cumulative value) pair of a time series
type Point struct {
	Date  domain.Date `json:"date"`
	Value int64       `json:"value"`
}

// Series is a player's time series, ascending by date, at most one point per day
type Series []Point

// NewSeries builds an ascending series from a per-date map.
func NewSeries(points map[domain.Date]int64) Series {
	s := make(Series, 0, len(points))
	for d, v := range points {
		s = append(s, Point{Date: d, Value: v})
	}
	sort.Slice(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	return s
}

// Window returns the points whose date lies in [from, to]. A zero bound is open.
func (s Series) Window(from, to domain.Date) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if !from.IsZero() && p.Date.Before(from) {
			continue
		}
		if !to.IsZero() && p.Date.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// First returns the oldest point.
func (s Series) First() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[0], true
}

// Last returns the most recent point.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// ValueAt returns the value recorded exactly on d.
func (s Series) ValueAt(d domain.Date) (int64, bool) {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Date.Before(d) })
	if i < len(s) && s[i].Date == d {
		return s[i].Value, true
	}
	return 0, false
}

// LatestOnOrBefore returns the most recent point dated on or before d.
func (s Series) LatestOnOrBefore(d domain.Date) (Point, bool) {
	// first index strictly after d
	i := sort.Search(len(s), func(i int) bool { return s[i].Date.After(d) })
	if i == 0 {
		return Point{}, false
	}
	return s[i-1], true
}

// Map returns the series as a date-keyed map for column-per-date rendering.
func (s Series) Map() map[domain.Date]int64 {
	m := make(map[domain.Date]int64, len(s))
	for _, p := range s {
		m[p.Date] = p.Value
	}
	return m
}
