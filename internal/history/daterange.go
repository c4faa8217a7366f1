package history

import (
	"errors"
	"sort"

	"github.com/family-history/internal/domain"
)

// ClampPolicy decides what happens when a requested bound is not a known
// snapshot date.
type ClampPolicy string

const (
	// ClampPolicyClamped moves each bound onto the nearest known date inside
	// the requested range. This is the default.
	ClampPolicyClamped ClampPolicy = "clamped"
	// ClampPolicyStrict rejects bounds that are not known snapshot dates.
	ClampPolicyStrict ClampPolicy = "strict"
)

var (
	ErrNoSnapshots     = errors.New("no snapshot dates available")
	ErrInvalidRange    = errors.New("from_date is after to_date")
	ErrDateNotSnapshot = errors.New("date is not a known snapshot date")
)

// Range is an inclusive window of snapshot dates
type Range struct {
	From domain.Date `json:"from_date"`
	To   domain.Date `json:"to_date"`
}

// Contains reports whether d is inside the window.
func (r Range) Contains(d domain.Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// ParsePolicy maps a config string to a policy, defaulting to clamped.
func ParsePolicy(s string) ClampPolicy {
	if ClampPolicy(s) == ClampPolicyStrict {
		return ClampPolicyStrict
	}
	return ClampPolicyClamped
}

// ResolveRange maps a requested [from, to] onto the known snapshot dates.
//
// Zero bounds default to the earliest and latest known dates. Under the
// clamped policy from moves forward to the first known date >= from (the
// latest date if none) and to moves back to the last known date <= to (the
// earliest date if none); when the request falls between two snapshots the
// window collapses onto to. Under the strict policy both bounds must be known.
func ResolveRange(known []domain.Date, from, to domain.Date, policy ClampPolicy) (Range, error) {
	if len(known) == 0 {
		return Range{}, ErrNoSnapshots
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return Range{}, ErrInvalidRange
	}

	dates := sortedDates(known)
	earliest, latest := dates[0], dates[len(dates)-1]
	if from.IsZero() {
		from = earliest
	}
	if to.IsZero() {
		to = latest
	}

	if policy == ClampPolicyStrict {
		if !containsDate(dates, from) || !containsDate(dates, to) {
			return Range{}, ErrDateNotSnapshot
		}
		return Range{From: from, To: to}, nil
	}

	i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(from) })
	if i < len(dates) {
		from = dates[i]
	} else {
		from = latest
	}

	j := sort.Search(len(dates), func(j int) bool { return dates[j].After(to) })
	if j > 0 {
		to = dates[j-1]
	} else {
		to = earliest
	}

	if from.After(to) {
		from = to
	}
	return Range{From: from, To: to}, nil
}

// DatesIn returns the known dates inside r, ascending.
func DatesIn(known []domain.Date, r Range) []domain.Date {
	out := make([]domain.Date, 0, len(known))
	for _, d := range sortedDates(known) {
		if r.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

func sortedDates(in []domain.Date) []domain.Date {
	out := make([]domain.Date, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func containsDate(sorted []domain.Date, d domain.Date) bool {
	i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Before(d) })
	return i < len(sorted) && sorted[i] == d
}
