// Package importer parses the two game export files that make up a snapshot:
// the member roster ("gmbr") and the cumulative points ("gexp").
package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/family-history/internal/domain"
)

const (
	gmbrPrefix = "gmbr"
	gexpPrefix = "gexp"

	gmbrFields = 10
	gexpFields = 2
)

var (
	ErrEmptyRoster = errors.New("gmbr export contains no valid member")
	ErrEmptyFamily = errors.New("family is required")
)

// Batch is a parsed snapshot ready to be stored
type Batch struct {
	Family       string
	SnapshotDate domain.Date
	Members      []domain.Member
	Points       map[int64]int64
	Skipped      int
}

// ParseRoster reads a gmbr export. Entries are whitespace separated, each made
// of 10 '|' separated fields of which the first five are player id, account
// id, nickname, level and class id. Malformed entries are counted and skipped.
// A player listed twice keeps the last entry.
func ParseRoster(text, family string) ([]domain.Member, int) {
	var (
		members []domain.Member
		index   = make(map[int64]int)
		skipped int
	)
	for _, entry := range entries(text, gmbrPrefix) {
		m, err := parseMember(entry, family)
		if err != nil {
			skipped++
			continue
		}
		if i, ok := index[m.PlayerID]; ok {
			members[i] = m
			continue
		}
		index[m.PlayerID] = len(members)
		members = append(members, m)
	}
	return members, skipped
}

// ParsePoints reads a gexp export of "player_id|points" entries.
func ParsePoints(text string) (map[int64]int64, int) {
	points := make(map[int64]int64)
	skipped := 0
	for _, entry := range entries(text, gexpPrefix) {
		p := strings.Split(entry, "|")
		if len(p) != gexpFields {
			skipped++
			continue
		}
		id, err1 := strconv.ParseInt(p[0], 10, 64)
		value, err2 := strconv.ParseInt(p[1], 10, 64)
		if err1 != nil || err2 != nil || value < 0 {
			skipped++
			continue
		}
		points[id] = value
	}
	return points, skipped
}

// Parse builds a batch from both exports. Points of players missing from the
// roster are dropped and counted as skipped. A zero date means today.
func Parse(gmbr, gexp, family string, date domain.Date) (*Batch, error) {
	family = strings.TrimSpace(family)
	if family == "" {
		return nil, ErrEmptyFamily
	}

	members, skippedMembers := ParseRoster(gmbr, family)
	if len(members) == 0 {
		return nil, ErrEmptyRoster
	}

	raw, skippedPoints := ParsePoints(gexp)
	known := make(map[int64]bool, len(members))
	for _, m := range members {
		known[m.PlayerID] = true
	}
	points := make(map[int64]int64, len(raw))
	for id, v := range raw {
		if !known[id] {
			skippedPoints++
			continue
		}
		points[id] = v
	}

	if date.IsZero() {
		date = domain.Today()
	}

	return &Batch{
		Family:       family,
		SnapshotDate: date,
		Members:      members,
		Points:       points,
		Skipped:      skippedMembers + skippedPoints,
	}, nil
}

func parseMember(entry, family string) (domain.Member, error) {
	p := strings.Split(entry, "|")
	if len(p) != gmbrFields {
		return domain.Member{}, fmt.Errorf("expected %d fields, got %d", gmbrFields, len(p))
	}
	playerID, err := strconv.ParseInt(p[0], 10, 64)
	if err != nil {
		return domain.Member{}, fmt.Errorf("parsing player id: %w", err)
	}
	accountID, err := strconv.ParseInt(p[1], 10, 64)
	if err != nil {
		return domain.Member{}, fmt.Errorf("parsing account id: %w", err)
	}
	level, err := strconv.Atoi(p[3])
	if err != nil {
		return domain.Member{}, fmt.Errorf("parsing level: %w", err)
	}
	classID, err := strconv.Atoi(p[4])
	if err != nil {
		return domain.Member{}, fmt.Errorf("parsing class id: %w", err)
	}
	nickname := strings.TrimSpace(p[2])
	if nickname == "" || utf8.RuneCountInString(nickname) > domain.MaxNicknameLength {
		return domain.Member{}, fmt.Errorf("invalid nickname %q", nickname)
	}
	return domain.Member{
		PlayerID:  playerID,
		AccountID: accountID,
		Nickname:  nickname,
		Level:     level,
		ClassID:   classID,
		Family:    family,
	}, nil
}

// entries strips the optional export prefix and splits on whitespace.
func entries(text, prefix string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, prefix)
	return strings.Fields(text)
}
