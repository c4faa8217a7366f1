package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-history/internal/domain"
)

const sampleRoster = `gmbr 101|9001|Droken|72|2|0|0|0|0|0
102|9002|Lyra|65|3|0|0|0|0|0
bad|entry
103|9003|Kestrel|x|1|0|0|0|0|0
104|9004|Mira|58|4|0|0|0|0|0`

const samplePoints = `gexp 101|15000 102|12000
104|300 999|50 104|-1 nope`

func TestParseRoster(t *testing.T) {
	members, skipped := ParseRoster(sampleRoster, "pandora")

	require.Len(t, members, 3)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, domain.Member{
		PlayerID:  101,
		AccountID: 9001,
		Nickname:  "Droken",
		Level:     72,
		ClassID:   2,
		Family:    "pandora",
	}, members[0])
	assert.Equal(t, "Mira", members[2].Nickname)
}

func TestParseRosterDuplicateKeepsLast(t *testing.T) {
	members, _ := ParseRoster("1|1|Old|1|1|0|0|0|0|0 1|1|New|2|1|0|0|0|0|0", "f")
	require.Len(t, members, 1)
	assert.Equal(t, "New", members[0].Nickname)
}

func TestParseRosterNicknameLengthCountsCharacters(t *testing.T) {
	accented := strings.Repeat("é", domain.MaxNicknameLength)
	tooLong := strings.Repeat("é", domain.MaxNicknameLength+1)
	roster := "gmbr 1|1|" + accented + "|10|1|0|0|0|0|0 2|2|" + tooLong + "|10|1|0|0|0|0|0"

	members, skipped := ParseRoster(roster, "f")
	require.Len(t, members, 1)
	assert.Equal(t, accented, members[0].Nickname)
	assert.Equal(t, 1, skipped)
}

func TestParsePoints(t *testing.T) {
	points, skipped := ParsePoints(samplePoints)
	assert.Equal(t, map[int64]int64{101: 15000, 102: 12000, 104: 300, 999: 50}, points)
	assert.Equal(t, 2, skipped)
}

func TestParse(t *testing.T) {
	date := domain.NewDate(2024, time.March, 3)
	batch, err := Parse(sampleRoster, samplePoints, " pandora ", date)
	require.NoError(t, err)

	assert.Equal(t, "pandora", batch.Family)
	assert.Equal(t, date, batch.SnapshotDate)
	assert.Len(t, batch.Members, 3)
	assert.Equal(t, map[int64]int64{101: 15000, 102: 12000, 104: 300}, batch.Points)
	// 2 bad roster entries, 2 bad point entries, 1 unknown player
	assert.Equal(t, 5, batch.Skipped)
}

func TestParseDefaultsToToday(t *testing.T) {
	batch, err := Parse(sampleRoster, "", "pandora", domain.Date{})
	require.NoError(t, err)
	assert.Equal(t, domain.Today(), batch.SnapshotDate)
	assert.Empty(t, batch.Points)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(sampleRoster, samplePoints, "  ", domain.Date{})
	assert.ErrorIs(t, err, ErrEmptyFamily)

	_, err = Parse("gmbr", samplePoints, "pandora", domain.Date{})
	assert.ErrorIs(t, err, ErrEmptyRoster)
}
