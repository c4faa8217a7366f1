// Package ranking orders and filters the latest leaderboard of a family.
package ranking

import (
	"sort"
	"strconv"
	"strings"

	"github.com/family-history/internal/domain"
)

// AllClasses is the class filter sentinel that matches every class.
const AllClasses = "all"

// PodiumSize is the number of podium places.
const PodiumSize = 3

var classNames = map[int]string{
	1: "Archer",
	2: "Escrimeur",
	3: "Mage",
	4: "Artiste Martial",
}

// ClassName returns the display name of a class id, or "" when unknown.
func ClassName(classID int) string {
	return classNames[classID]
}

// Criteria narrows a leaderboard
type Criteria struct {
	Query   string `json:"q,omitempty"`
	ClassID string `json:"class,omitempty"`
}

// Board is a ranked, filtered leaderboard with its podium
type Board struct {
	Rows    []domain.LatestRow            `json:"rows"`
	Podium  [PodiumSize]*domain.LatestRow `json:"podium"`
	Total   int                           `json:"total"`
	Matched int                           `json:"matched"`
}

// Rank sorts rows by points, descending, and assigns 1-based ranks. Equal
// points keep their input order. The input slice is not modified.
func Rank(rows []domain.LatestRow) []domain.LatestRow {
	out := make([]domain.LatestRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Points > out[j].Points
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Matches reports whether a player passes the criteria: the nickname
// contains the query, ignoring case, and the class matches unless it is
// empty or "all".
func (c Criteria) Matches(nickname string, classID int) bool {
	q := strings.ToLower(strings.TrimSpace(c.Query))
	if q != "" && !strings.Contains(strings.ToLower(nickname), q) {
		return false
	}
	class := strings.TrimSpace(c.ClassID)
	return class == "" || class == AllClasses || class == strconv.Itoa(classID)
}

// Filter keeps the rows matching the criteria. Order is preserved.
func Filter(rows []domain.LatestRow, c Criteria) []domain.LatestRow {
	out := make([]domain.LatestRow, 0, len(rows))
	for _, r := range rows {
		if c.Matches(r.Nickname, r.ClassID) {
			out = append(out, r)
		}
	}
	return out
}

// Podium returns the first three rows. Places without a player are nil.
func Podium(rows []domain.LatestRow) [PodiumSize]*domain.LatestRow {
	var podium [PodiumSize]*domain.LatestRow
	for i := 0; i < PodiumSize && i < len(rows); i++ {
		row := rows[i]
		podium[i] = &row
	}
	return podium
}

// Build ranks the rows, applies the criteria and takes the podium from the
// filtered result.
func Build(rows []domain.LatestRow, c Criteria) Board {
	ranked := Rank(rows)
	filtered := Filter(ranked, c)
	return Board{
		Rows:    filtered,
		Podium:  Podium(filtered),
		Total:   len(ranked),
		Matched: len(filtered),
	}
}
