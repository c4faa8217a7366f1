package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-history/internal/domain"
)

func TestNewSeriesSortsAscending(t *testing.T) {
	s := NewSeries(map[domain.Date]int64{
		day(3, 1): 3,
		day(1, 1): 1,
		day(2, 1): 2,
	})
	require.Len(t, s, 3)
	assert.Equal(t, day(1, 1), s[0].Date)
	assert.Equal(t, day(3, 1), s[2].Date)
}

func TestSeriesWindow(t *testing.T) {
	s := series(Point{day(1, 1), 1}, Point{day(1, 5), 2}, Point{day(1, 9), 3})

	assert.Len(t, s.Window(day(1, 2), day(1, 9)), 2)
	assert.Len(t, s.Window(domain.Date{}, day(1, 5)), 2)
	assert.Empty(t, s.Window(day(2, 1), domain.Date{}))
}

func TestSeriesLookups(t *testing.T) {
	s := series(Point{day(1, 1), 1}, Point{day(1, 5), 2})

	v, ok := s.ValueAt(day(1, 5))
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	_, ok = s.ValueAt(day(1, 4))
	assert.False(t, ok)

	p, ok := s.LatestOnOrBefore(day(1, 4))
	assert.True(t, ok)
	assert.Equal(t, day(1, 1), p.Date)

	_, ok = s.LatestOnOrBefore(domain.NewDate(2023, time.December, 31))
	assert.False(t, ok)
}

func TestSeriesMapMarshalsDateKeys(t *testing.T) {
	s := series(Point{day(1, 1), 10})
	b, err := json.Marshal(s.Map())
	require.NoError(t, err)
	assert.JSONEq(t, `{"2024-01-01": 10}`, string(b))
}
