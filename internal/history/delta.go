package history

import "github.com/family-history/internal/domain"

// Lookback windows used for the weekly and monthly deltas
type Lookback struct {
	WeeklyDays  int
	MonthlyDays int
}

// DefaultLookback is 7 days for weekly and 30 days for monthly figures.
func DefaultLookback() Lookback {
	return Lookback{WeeklyDays: 7, MonthlyDays: 30}
}

// Record holds the derived figures of one series. Nil means "not computable".
type Record struct {
	FinalValue  *int64       `json:"last_value"`
	PeriodDiff  *int64       `json:"period_diff"`
	WeeklyDiff  *int64       `json:"weekly_diff"`
	WeeklyRef   *domain.Date `json:"weekly_ref"`
	MonthlyDiff *int64       `json:"monthly_diff"`
	MonthlyRef  *domain.Date `json:"monthly_ref"`
}

// FinalValue returns the value of the most recent point.
func FinalValue(s Series) *int64 {
	last, ok := s.Last()
	if !ok {
		return nil
	}
	return int64Ptr(last.Value)
}

// PeriodDiff is the gain across the whole series: last minus first.
// A single point shows no movement and yields nil.
func PeriodDiff(s Series) *int64 {
	if len(s) < 2 {
		return nil
	}
	return int64Ptr(s[len(s)-1].Value - s[0].Value)
}

// WeeklyDiff compares the last point with the latest point at least 7 days older.
func WeeklyDiff(s Series) *int64 {
	diff, _ := DiffSince(s, DefaultLookback().WeeklyDays)
	return diff
}

// MonthlyDiff compares the last point with the latest point at least 30 days
// older and returns the date of that reference point.
func MonthlyDiff(s Series) (*int64, *domain.Date) {
	return DiffSince(s, DefaultLookback().MonthlyDays)
}

// DiffSince computes last value minus the value of the latest point dated on or
// before (last date - days). Snapshots are irregular, so the reference is the
// closest one that is old enough, never a newer one. When no point is old
// enough both results are nil.
func DiffSince(s Series, days int) (*int64, *domain.Date) {
	last, ok := s.Last()
	if !ok {
		return nil, nil
	}
	ref, ok := s.LatestOnOrBefore(last.Date.AddDays(-days))
	if !ok {
		return nil, nil
	}
	refDate := ref.Date
	return int64Ptr(last.Value - ref.Value), &refDate
}

// AdjacentDeltas returns value[i] - value[i-1] in chronological order. The
// first entry is always nil.
func AdjacentDeltas(s Series) []*int64 {
	out := make([]*int64, len(s))
	for i := 1; i < len(s); i++ {
		out[i] = int64Ptr(s[i].Value - s[i-1].Value)
	}
	return out
}

// Compute derives the full record of a series.
func Compute(s Series, lb Lookback) Record {
	rec := Record{
		FinalValue: FinalValue(s),
		PeriodDiff: PeriodDiff(s),
	}
	rec.WeeklyDiff, rec.WeeklyRef = DiffSince(s, lb.WeeklyDays)
	rec.MonthlyDiff, rec.MonthlyRef = DiffSince(s, lb.MonthlyDays)
	return rec
}

func int64Ptr(v int64) *int64 { return &v }
