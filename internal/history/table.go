package history

import (
	"sort"

	"github.com/family-history/internal/domain"
)

// PlayerHistory is one row of the history table
type PlayerHistory struct {
	PlayerID int64                 `json:"player_id"`
	Nickname string                `json:"nickname"`
	Level    int                   `json:"level"`
	ClassID  int                   `json:"class_id"`
	Points   map[domain.Date]int64 `json:"points"`
	Record
}

// Table is the history view: one column per date, one row per player
type Table struct {
	Range   *Range          `json:"range,omitempty"`
	Dates   []domain.Date   `json:"dates"`
	Players []PlayerHistory `json:"players"`
}

// BuildTable assembles the history table for the given window dates.
// Members with no point in the window keep a row with nil figures. Rows are
// ranked by final value, descending, members without a value last; equal
// values keep roster order.
func BuildTable(dates []domain.Date, members []domain.Member, series map[int64]Series, lb Lookback) Table {
	players := make([]PlayerHistory, 0, len(members))
	for _, m := range members {
		s := series[m.PlayerID]
		players = append(players, PlayerHistory{
			PlayerID: m.PlayerID,
			Nickname: m.Nickname,
			Level:    m.Level,
			ClassID:  m.ClassID,
			Points:   s.Map(),
			Record:   Compute(s, lb),
		})
	}

	sort.SliceStable(players, func(i, j int) bool {
		return greaterNullable(players[i].FinalValue, players[j].FinalValue)
	})

	if dates == nil {
		dates = []domain.Date{}
	}
	return Table{Dates: dates, Players: players}
}

// AdjacentDelta is the change since the previous snapshot of a player
type AdjacentDelta struct {
	Date  domain.Date `json:"date"`
	Value int64       `json:"value"`
	Delta *int64      `json:"delta"`
}

// Detail is the per-player evolution view
type Detail struct {
	Player domain.Member         `json:"player"`
	Dates  []domain.Date         `json:"dates"`
	Series map[domain.Date]int64 `json:"series"`
	Deltas []AdjacentDelta       `json:"deltas"`
	Stats  Record                `json:"stats"`
}

// BuildDetail assembles the evolution view of one player over the window dates.
func BuildDetail(member domain.Member, dates []domain.Date, s Series, lb Lookback) Detail {
	deltas := AdjacentDeltas(s)
	rows := make([]AdjacentDelta, len(s))
	for i, p := range s {
		rows[i] = AdjacentDelta{Date: p.Date, Value: p.Value, Delta: deltas[i]}
	}
	if dates == nil {
		dates = []domain.Date{}
	}
	return Detail{
		Player: member,
		Dates:  dates,
		Series: s.Map(),
		Deltas: rows,
		Stats:  Compute(s, lb),
	}
}

// greaterNullable orders non-nil values descending before nil ones.
func greaterNullable(a, b *int64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a > *b
	}
}
