package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-history/internal/config"
	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/history"
	"github.com/family-history/internal/ranking"
)

const family = "Lunaris"

type fixture struct {
	svc     *FamilyService
	store   *memoryStore
	cache   *memoryCache
	events  *recordingEvents
	metrics *countingMetrics
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	cfg := config.DefaultConfig().History
	cfg.ClampPolicy = policy
	f := &fixture{
		store:   newMemoryStore(),
		cache:   newMemoryCache(),
		events:  &recordingEvents{},
		metrics: &countingMetrics{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewFamilyService(f.store, f.cache, f.events, f.metrics, &cfg, logger)
	return f
}

func jan(d int) domain.Date { return domain.NewDate(2024, time.January, d) }
func feb(d int) domain.Date { return domain.NewDate(2024, time.February, d) }

var roster = map[int64]string{
	1: "1|101|Droken|72|2|0|0|0|0|0",
	2: "2|102|Lyra|65|3|0|0|0|0|0",
	3: "3|103|Kestrel|40|1|0|0|0|0|0",
	4: "4|104|Mira|58|4|0|0|0|0|0",
}

func gmbr(ids ...int64) string {
	parts := []string{"gmbr"}
	for _, id := range ids {
		parts = append(parts, roster[id])
	}
	return strings.Join(parts, " ")
}

func gexp(points map[int64]int64) string {
	parts := []string{"gexp"}
	for id, p := range points {
		parts = append(parts, fmt.Sprintf("%d|%d", id, p))
	}
	return strings.Join(parts, " ")
}

// seed imports four snapshots:
//
//	          Jan 1  Jan 8  Jan 15  Feb 1
//	Droken      100    200     350    600
//	Lyra        500    520       -    700
//	Kestrel       -      -      50     50
//	Mira          -      -       -      -
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	imports := []struct {
		date   domain.Date
		ids    []int64
		points map[int64]int64
	}{
		{jan(1), []int64{1, 2, 4}, map[int64]int64{1: 100, 2: 500}},
		{jan(8), []int64{1, 2, 4}, map[int64]int64{1: 200, 2: 520}},
		{jan(15), []int64{1, 2, 3, 4}, map[int64]int64{1: 350, 3: 50}},
		{feb(1), []int64{1, 2, 3, 4}, map[int64]int64{1: 600, 2: 700, 3: 50}},
	}
	for _, imp := range imports {
		_, err := f.svc.Import(context.Background(), domain.ImportRequest{
			Family:       family,
			SnapshotDate: imp.date.String(),
			Gmbr:         gmbr(imp.ids...),
			Gexp:         gexp(imp.points),
		})
		require.NoError(t, err)
	}
}

func value(v int64) *int64 { return &v }

func nicknames(players []history.PlayerHistory) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Nickname
	}
	return out
}

func TestLatestUsesCache(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	ctx := context.Background()

	rows, err := f.svc.Latest(ctx, family, ranking.Criteria{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Lyra", rows[0].Nickname)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, int64(700), rows[0].GexpPoints)
	assert.Equal(t, 1, f.metrics.misses)

	_, err = f.svc.Latest(ctx, family, ranking.Criteria{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.metrics.hits)
}

func TestLatestFallsBackWhenCacheIsDown(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	f.cache.failLoad = true

	rows, err := f.svc.Latest(context.Background(), family, ranking.Criteria{}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestLatestFilterAndLimit(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	ctx := context.Background()

	rows, err := f.svc.Latest(ctx, family, ranking.Criteria{ClassID: "1"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kestrel", rows[0].Nickname)
	assert.Equal(t, 3, rows[0].Rank)

	rows, err = f.svc.Latest(ctx, family, ranking.Criteria{}, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLatestWithoutLimitReturnsEveryRow(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	f.svc.config.MaxLimit = 1
	ctx := context.Background()

	rows, err := f.svc.Latest(ctx, family, ranking.Criteria{}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	rows, err = f.svc.Latest(ctx, family, ranking.Criteria{}, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLatestUnknownFamilyIsEmpty(t *testing.T) {
	f := newFixture(t, "clamped")

	rows, err := f.svc.Latest(context.Background(), "Nobody", ranking.Criteria{}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLeaderboardPodiumFollowsFilter(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	board, err := f.svc.Leaderboard(context.Background(), family, ranking.Criteria{Query: "R"})
	require.NoError(t, err)
	assert.Equal(t, 3, board.Total)
	assert.Equal(t, 3, board.Matched)

	board, err = f.svc.Leaderboard(context.Background(), family, ranking.Criteria{Query: "dro"})
	require.NoError(t, err)
	assert.Equal(t, 1, board.Matched)
	require.NotNil(t, board.Podium[0])
	assert.Equal(t, "Droken", board.Podium[0].Nickname)
	assert.Nil(t, board.Podium[1])
	assert.Nil(t, board.Podium[2])
}

func TestHistoryFullRange(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	table, err := f.svc.History(context.Background(), family, HistoryQuery{})
	require.NoError(t, err)

	assert.Equal(t, []domain.Date{jan(1), jan(8), jan(15), feb(1)}, table.Dates)
	require.NotNil(t, table.Range)
	assert.Equal(t, history.Range{From: jan(1), To: feb(1)}, *table.Range)
	assert.Equal(t, []string{"Lyra", "Droken", "Kestrel", "Mira"}, nicknames(table.Players))

	droken := table.Players[1]
	assert.Equal(t, value(600), droken.FinalValue)
	assert.Equal(t, value(500), droken.PeriodDiff)
	assert.Equal(t, value(250), droken.WeeklyDiff)
	assert.Equal(t, value(500), droken.MonthlyDiff)
	require.NotNil(t, droken.MonthlyRef)
	assert.Equal(t, jan(1), *droken.MonthlyRef)

	lyra := table.Players[0]
	assert.Equal(t, value(180), lyra.WeeklyDiff)
	_, present := lyra.Points[jan(15)]
	assert.False(t, present)

	kestrel := table.Players[2]
	assert.Equal(t, value(0), kestrel.PeriodDiff)
	assert.Nil(t, kestrel.MonthlyDiff)

	mira := table.Players[3]
	assert.Nil(t, mira.FinalValue)
	assert.Empty(t, mira.Points)

	assert.Equal(t, 1, f.metrics.histories)
}

func TestHistoryClampsWindow(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	table, err := f.svc.History(context.Background(), family, HistoryQuery{From: jan(5), To: jan(20)})
	require.NoError(t, err)

	assert.Equal(t, []domain.Date{jan(8), jan(15)}, table.Dates)
	assert.Equal(t, []string{"Lyra", "Droken", "Kestrel", "Mira"}, nicknames(table.Players))

	droken := table.Players[1]
	assert.Equal(t, value(350), droken.FinalValue)
	assert.Equal(t, value(150), droken.PeriodDiff)
	assert.Equal(t, value(150), droken.WeeklyDiff)
	assert.Nil(t, droken.MonthlyDiff)

	lyra := table.Players[0]
	assert.Equal(t, value(520), lyra.FinalValue)
	assert.Nil(t, lyra.PeriodDiff)
}

func TestHistoryStrictPolicy(t *testing.T) {
	f := newFixture(t, "strict")
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.History(ctx, family, HistoryQuery{From: jan(5), To: feb(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidDate)

	table, err := f.svc.History(ctx, family, HistoryQuery{From: jan(8), To: jan(15)})
	require.NoError(t, err)
	assert.Equal(t, []domain.Date{jan(8), jan(15)}, table.Dates)
}

func TestHistoryRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	_, err := f.svc.History(context.Background(), family, HistoryQuery{From: feb(1), To: jan(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
}

func TestHistoryFilters(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	table, err := f.svc.History(context.Background(), family, HistoryQuery{
		Criteria: ranking.Criteria{Query: " LY "},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lyra"}, nicknames(table.Players))

	table, err = f.svc.History(context.Background(), family, HistoryQuery{
		Criteria: ranking.Criteria{ClassID: ranking.AllClasses},
	})
	require.NoError(t, err)
	assert.Len(t, table.Players, 4)
}

func TestHistoryWithoutSnapshots(t *testing.T) {
	f := newFixture(t, "clamped")

	table, err := f.svc.History(context.Background(), "Nobody", HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, table.Dates)
	assert.Empty(t, table.Players)
	assert.Nil(t, table.Range)
}

func TestPlayerByNickname(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	ctx := context.Background()

	view, err := f.svc.PlayerByNickname(ctx, family, "DROKEN", domain.Date{}, domain.Date{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Player.PlayerID)
	assert.Len(t, view.Dates, 4)
	require.Len(t, view.Deltas, 4)
	assert.Nil(t, view.Deltas[0].Delta)
	assert.Equal(t, value(100), view.Deltas[1].Delta)
	assert.Equal(t, value(150), view.Deltas[2].Delta)
	assert.Equal(t, value(250), view.Deltas[3].Delta)
	assert.Equal(t, value(600), view.Stats.FinalValue)
	assert.Nil(t, view.Rank)

	_, err = f.svc.Leaderboard(ctx, family, ranking.Criteria{})
	require.NoError(t, err)
	view, err = f.svc.PlayerByNickname(ctx, family, "droken", domain.Date{}, domain.Date{})
	require.NoError(t, err)
	require.NotNil(t, view.Rank)
	assert.Equal(t, int64(2), *view.Rank)
}

func TestPlayerByNicknameNotFound(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	_, err := f.svc.PlayerByNickname(context.Background(), family, "ghost", domain.Date{}, domain.Date{})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = f.svc.PlayerByNickname(context.Background(), family, "  ", domain.Date{}, domain.Date{})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestPlayerWithoutPoints(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)

	view, err := f.svc.PlayerByNickname(context.Background(), family, "mira", domain.Date{}, domain.Date{})
	require.NoError(t, err)
	assert.Empty(t, view.Deltas)
	assert.Nil(t, view.Stats.FinalValue)
}

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"trimmed", "  Zed  ", "Zed", nil},
		{"empty", "   ", "", domain.ErrNicknameEmpty},
		{"exactly 64 runes", strings.Repeat("é", 64), strings.Repeat("é", 64), nil},
		{"65 runes", strings.Repeat("é", 65), "", domain.ErrNicknameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateNickname(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateNickname(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	ctx := context.Background()
	f.cache.invalidated = nil

	_, err := f.svc.UpdateNickname(ctx, family, 1, "lyra")
	assert.ErrorIs(t, err, domain.ErrNicknameTaken)

	_, err = f.svc.UpdateNickname(ctx, family, 99, "Zed")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	member, err := f.svc.UpdateNickname(ctx, family, 1, " Drok ")
	require.NoError(t, err)
	assert.Equal(t, "Drok", member.Nickname)
	assert.Equal(t, []string{family}, f.cache.invalidated)
	require.Len(t, f.events.renamed, 1)
	assert.Equal(t, "Drok", f.events.renamed[0].Nickname)

	rows, err := f.svc.Latest(ctx, family, ranking.Criteria{Query: "drok"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Drok", rows[0].Nickname)
}

func TestImportReplacesSnapshotOfSameDay(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	ctx := context.Background()

	result, err := f.svc.Import(ctx, domain.ImportRequest{
		Family:       family,
		SnapshotDate: "2024-02-01",
		Gmbr:         gmbr(1, 2),
		Gexp:         "gexp 1|650 2|710 3|60 bad",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportResult{
		Status:       "ok",
		Family:       family,
		SnapshotDate: feb(1),
		Members:      2,
		Points:       2,
		Skipped:      2,
	}, *result)

	dates, err := f.svc.Snapshots(ctx, family)
	require.NoError(t, err)
	assert.Len(t, dates, 4)

	rows, err := f.svc.Latest(ctx, family, ranking.Criteria{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(710), rows[0].Points)

	assert.Equal(t, 5, f.metrics.succeeded)
	assert.Len(t, f.events.imported, 5)
}

func TestImportErrors(t *testing.T) {
	f := newFixture(t, "clamped")
	ctx := context.Background()

	_, err := f.svc.Import(ctx, domain.ImportRequest{Family: family, SnapshotDate: "01/02/2024", Gmbr: gmbr(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidDate)

	_, err = f.svc.Import(ctx, domain.ImportRequest{Family: family, Gmbr: "gmbr garbage"})
	assert.ErrorIs(t, err, domain.ErrInvalidImport)

	_, err = f.svc.Import(ctx, domain.ImportRequest{Family: " ", Gmbr: gmbr(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidImport)

	f.store.failWith = errors.New("database is down")
	_, err = f.svc.Import(ctx, domain.ImportRequest{Family: family, Gmbr: gmbr(1), Gexp: "1|10"})
	require.Error(t, err)
	assert.False(t, domain.IsValidationError(err))

	assert.Equal(t, 4, f.metrics.failed)
	assert.Empty(t, f.events.imported)
}

func TestImportDefaultsToToday(t *testing.T) {
	f := newFixture(t, "clamped")

	result, err := f.svc.Import(context.Background(), domain.ImportRequest{Family: family, Gmbr: gmbr(1), Gexp: "1|10"})
	require.NoError(t, err)
	assert.Equal(t, domain.Today(), result.SnapshotDate)
}

func TestWarmAll(t *testing.T) {
	f := newFixture(t, "clamped")
	f.seed(t)
	_, err := f.svc.Import(context.Background(), domain.ImportRequest{
		Family: "Solaris", SnapshotDate: "2024-02-01", Gmbr: gmbr(4), Gexp: "4|5",
	})
	require.NoError(t, err)

	warmed, err := f.svc.WarmAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, warmed)
	assert.Len(t, f.cache.rows[family], 3)
	assert.Len(t, f.cache.rows["Solaris"], 1)
}
