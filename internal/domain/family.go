package domain

import "time"

// MaxNicknameLength bounds nicknames, matching the members table column.
const MaxNicknameLength = 64

// Member is a player of a family as last described by a gmbr export
type Member struct {
	PlayerID  int64  `json:"player_id"`
	AccountID int64  `json:"account_id,omitempty"`
	Nickname  string `json:"nickname"`
	Level     int    `json:"level"`
	ClassID   int    `json:"class_id"`
	Family    string `json:"family,omitempty"`
}

// Snapshot is one ingested observation: a player's cumulative points on a day
type Snapshot struct {
	Family       string    `json:"family"`
	PlayerID     int64     `json:"player_id"`
	SnapshotDate Date      `json:"snapshot_date"`
	Points       int64     `json:"points"`
	ImportedAt   time.Time `json:"imported_at"`
}

// LatestRow is a leaderboard line for the most recent snapshot of a family.
// Points and GexpPoints carry the same value; the dashboard reads either.
type LatestRow struct {
	Rank         int        `json:"rank,omitempty"`
	PlayerID     int64      `json:"player_id"`
	Nickname     string     `json:"nickname"`
	Level        int        `json:"level"`
	ClassID      int        `json:"class_id"`
	Points       int64      `json:"points"`
	GexpPoints   int64      `json:"gexp_points"`
	SnapshotDate Date       `json:"snapshot_date"`
	ImportedAt   *time.Time `json:"imported_at,omitempty"`
}

// NicknameUpdate is the body of a nickname change request
type NicknameUpdate struct {
	Nickname string `json:"nickname"`
}

// ImportRequest carries the raw export files for one snapshot. It is the
// payload of both the HTTP upload and the Kafka import topic.
type ImportRequest struct {
	Family       string `json:"family"`
	SnapshotDate string `json:"snapshot_date,omitempty"`
	Gmbr         string `json:"gmbr"`
	Gexp         string `json:"gexp"`
}

// ImportResult summarises a stored snapshot
type ImportResult struct {
	Status       string `json:"status"`
	Family       string `json:"family"`
	SnapshotDate Date   `json:"snapshot_date"`
	Members      int    `json:"members"`
	Points       int    `json:"points"`
	Skipped      int    `json:"skipped"`
}

// User is an authenticated principal
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginResponse is returned by /auth/login
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}
