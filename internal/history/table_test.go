package history

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-history/internal/domain"
)

func TestBuildTableRanksByFinalValue(t *testing.T) {
	members := []domain.Member{
		{PlayerID: 1, Nickname: "Alpha", ClassID: 1},
		{PlayerID: 2, Nickname: "Bravo", ClassID: 2},
		{PlayerID: 3, Nickname: "Charlie", ClassID: 3},
		{PlayerID: 4, Nickname: "Delta", ClassID: 4},
	}
	dates := []domain.Date{day(1, 1), day(1, 8)}
	points := map[int64]Series{
		1: series(Point{day(1, 1), 100}, Point{day(1, 8), 300}),
		2: series(Point{day(1, 1), 500}, Point{day(1, 8), 600}),
		4: series(Point{day(1, 8), 300}),
	}

	table := BuildTable(dates, members, points, DefaultLookback())

	require.Len(t, table.Players, 4)
	assert.Equal(t, "Bravo", table.Players[0].Nickname)
	// Alpha and Delta tie on 300: roster order is kept
	assert.Equal(t, "Alpha", table.Players[1].Nickname)
	assert.Equal(t, "Delta", table.Players[2].Nickname)
	// no data in the window: placeholder row, last
	assert.Equal(t, "Charlie", table.Players[3].Nickname)
	assert.Nil(t, table.Players[3].FinalValue)
	assert.Empty(t, table.Players[3].Points)

	alpha := table.Players[1]
	require.NotNil(t, alpha.PeriodDiff)
	assert.Equal(t, int64(200), *alpha.PeriodDiff)
	require.NotNil(t, alpha.WeeklyDiff)
	assert.Equal(t, int64(200), *alpha.WeeklyDiff)
	assert.Nil(t, alpha.MonthlyDiff)

	assert.Nil(t, table.Players[2].PeriodDiff)
}

func TestBuildTableJSONShape(t *testing.T) {
	members := []domain.Member{{PlayerID: 7, Nickname: "Solo", Level: 60, ClassID: 3}}
	points := map[int64]Series{7: series(Point{day(1, 1), 42})}

	b, err := json.Marshal(BuildTable([]domain.Date{day(1, 1)}, members, points, DefaultLookback()))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"dates": ["2024-01-01"],
		"players": [{
			"player_id": 7,
			"nickname": "Solo",
			"level": 60,
			"class_id": 3,
			"points": {"2024-01-01": 42},
			"last_value": 42,
			"period_diff": null,
			"weekly_diff": null,
			"weekly_ref": null,
			"monthly_diff": null,
			"monthly_ref": null
		}]
	}`, string(b))
}

func TestBuildTableEmpty(t *testing.T) {
	table := BuildTable(nil, nil, nil, DefaultLookback())
	assert.NotNil(t, table.Dates)
	assert.Empty(t, table.Players)
}

func TestBuildDetail(t *testing.T) {
	member := domain.Member{PlayerID: 9, Nickname: "Nova"}
	s := series(Point{day(1, 1), 10}, Point{day(1, 2), 15}, Point{day(1, 3), 12})

	detail := BuildDetail(member, []domain.Date{day(1, 1), day(1, 2), day(1, 3)}, s, DefaultLookback())

	require.Len(t, detail.Deltas, 3)
	assert.Nil(t, detail.Deltas[0].Delta)
	assert.Equal(t, int64(5), *detail.Deltas[1].Delta)
	assert.Equal(t, int64(-3), *detail.Deltas[2].Delta)
	assert.Equal(t, int64(12), *detail.Stats.FinalValue)
	assert.Equal(t, int64(2), *detail.Stats.PeriodDiff)
	assert.Len(t, detail.Series, 3)
}
