package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-history/internal/domain"
)

var known = []domain.Date{day(1, 8), day(1, 1), day(1, 15), day(2, 1)}

func TestResolveRangeClamped(t *testing.T) {
	tests := []struct {
		name     string
		from, to domain.Date
		want     Range
	}{
		{"exact bounds", day(1, 8), day(1, 15), Range{day(1, 8), day(1, 15)}},
		{"defaults to full span", domain.Date{}, domain.Date{}, Range{day(1, 1), day(2, 1)}},
		{"from before earliest", domain.NewDate(2023, 12, 1), day(1, 8), Range{day(1, 1), day(1, 8)}},
		{"to after latest", day(1, 15), day(3, 1), Range{day(1, 15), day(2, 1)}},
		{"bounds between snapshots", day(1, 2), day(1, 20), Range{day(1, 8), day(1, 15)}},
		{"window inside a gap", day(1, 9), day(1, 10), Range{day(1, 8), day(1, 8)}},
		{"entirely after latest", day(3, 1), day(4, 1), Range{day(2, 1), day(2, 1)}},
		{"entirely before earliest", domain.NewDate(2023, 1, 1), domain.NewDate(2023, 2, 1), Range{day(1, 1), day(1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveRange(known, tt.from, tt.to, ClampPolicyClamped)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRangeStrict(t *testing.T) {
	got, err := ResolveRange(known, day(1, 8), day(2, 1), ClampPolicyStrict)
	require.NoError(t, err)
	assert.Equal(t, Range{day(1, 8), day(2, 1)}, got)

	_, err = ResolveRange(known, domain.NewDate(2023, 12, 1), day(2, 1), ClampPolicyStrict)
	assert.ErrorIs(t, err, ErrDateNotSnapshot)
}

func TestResolveRangeErrors(t *testing.T) {
	_, err := ResolveRange(nil, day(1, 1), day(1, 2), ClampPolicyClamped)
	assert.ErrorIs(t, err, ErrNoSnapshots)

	_, err = ResolveRange(known, day(2, 1), day(1, 1), ClampPolicyClamped)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestDatesIn(t *testing.T) {
	got := DatesIn(known, Range{day(1, 2), day(1, 20)})
	assert.Equal(t, []domain.Date{day(1, 8), day(1, 15)}, got)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, ClampPolicyStrict, ParsePolicy("strict"))
	assert.Equal(t, ClampPolicyClamped, ParsePolicy(""))
	assert.Equal(t, ClampPolicyClamped, ParsePolicy("whatever"))
}
