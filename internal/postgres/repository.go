package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/family-history/internal/config"
	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/importer"
)

const uniqueViolation = "23505"

// Repository is the snapshot store: members and their dated point totals
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS members (
			player_id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			nickname VARCHAR(64) NOT NULL,
			level INT NOT NULL,
			class_id INT NOT NULL,
			family VARCHAR(64) NOT NULL,
			CONSTRAINT uq_family_nickname UNIQUE (family, nickname) DEFERRABLE INITIALLY DEFERRED
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_points (
			id BIGSERIAL PRIMARY KEY,
			snapshot_date DATE NOT NULL,
			imported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			family VARCHAR(64) NOT NULL,
			player_id BIGINT NOT NULL REFERENCES members(player_id) ON DELETE CASCADE,
			gexp_points BIGINT NOT NULL,
			CONSTRAINT uq_snapshot_player UNIQUE (snapshot_date, family, player_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_family_lower_nickname ON members(family, LOWER(nickname))`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_points_family_date ON weekly_points(family, snapshot_date)`,
		`CREATE INDEX IF NOT EXISTS idx_weekly_points_player ON weekly_points(player_id, snapshot_date)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// ImportSnapshot upserts the roster and replaces the points of
// (family, snapshot date) in one transaction, so re-importing a day never
// leaves duplicates. It returns the number of point rows stored.
func (r *Repository) ImportSnapshot(ctx context.Context, b *importer.Batch) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := releaseNicknames(ctx, tx, b); err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	upsert := `
		INSERT INTO members (player_id, account_id, nickname, level, class_id, family)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (player_id)
		DO UPDATE SET account_id = $2, nickname = $3, level = $4, class_id = $5, family = $6
	`
	for _, m := range b.Members {
		batch.Queue(upsert, m.PlayerID, m.AccountID, m.Nickname, m.Level, m.ClassID, b.Family)
	}
	br := tx.SendBatch(ctx, batch)
	for range b.Members {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("upserting members: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing member batch: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM weekly_points WHERE family = $1 AND snapshot_date = $2`,
		b.Family, b.SnapshotDate.Time(),
	)
	if err != nil {
		return 0, fmt.Errorf("clearing snapshot: %w", err)
	}

	importedAt := time.Now().UTC()
	rows := make([][]any, 0, len(b.Points))
	for playerID, points := range b.Points {
		rows = append(rows, []any{b.SnapshotDate.Time(), importedAt, b.Family, playerID, points})
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"weekly_points"},
		[]string{"snapshot_date", "imported_at", "family", "player_id", "gexp_points"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying points: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", domain.ErrNicknameTaken, err)
		}
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return int(n), nil
}

// ListFamilies returns every family that has at least one snapshot
func (r *Repository) ListFamilies(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT family FROM weekly_points ORDER BY family`)
	if err != nil {
		return nil, fmt.Errorf("listing families: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Latest returns one row per player for the most recent snapshot of a family,
// highest points first. An unknown family yields an empty slice.
func (r *Repository) Latest(ctx context.Context, family string) ([]domain.LatestRow, error) {
	query := `
		SELECT m.player_id, m.nickname, m.level, m.class_id, wp.gexp_points, wp.snapshot_date, wp.imported_at
		FROM weekly_points wp
		JOIN members m ON m.player_id = wp.player_id
		WHERE wp.family = $1
		  AND wp.snapshot_date = (SELECT MAX(snapshot_date) FROM weekly_points WHERE family = $1)
		ORDER BY wp.gexp_points DESC, m.player_id
	`
	rows, err := r.pool.Query(ctx, query, family)
	if err != nil {
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LatestRow, 0)
	for rows.Next() {
		var (
			row        domain.LatestRow
			date       time.Time
			importedAt time.Time
		)
		if err := rows.Scan(&row.PlayerID, &row.Nickname, &row.Level, &row.ClassID, &row.Points, &date, &importedAt); err != nil {
			return nil, fmt.Errorf("scanning latest row: %w", err)
		}
		row.GexpPoints = row.Points
		row.SnapshotDate = domain.DateOf(date)
		row.ImportedAt = &importedAt
		out = append(out, row)
	}
	return out, rows.Err()
}

// SnapshotDates returns the distinct snapshot dates of a family, ascending
func (r *Repository) SnapshotDates(ctx context.Context, family string) ([]domain.Date, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT snapshot_date FROM weekly_points WHERE family = $1 ORDER BY snapshot_date`,
		family,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot dates: %w", err)
	}
	times, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot dates: %w", err)
	}
	dates := make([]domain.Date, len(times))
	for i, t := range times {
		dates[i] = domain.DateOf(t)
	}
	return dates, nil
}

// Members returns the roster of a family ordered by player id
func (r *Repository) Members(ctx context.Context, family string) ([]domain.Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT player_id, account_id, nickname, level, class_id, family
		FROM members
		WHERE family = $1
		ORDER BY player_id
	`, family)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	members := make([]domain.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// PointsInRange returns every snapshot row of a family within [from, to]
func (r *Repository) PointsInRange(ctx context.Context, family string, from, to domain.Date) ([]domain.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT player_id, snapshot_date, gexp_points, imported_at
		FROM weekly_points
		WHERE family = $1 AND snapshot_date BETWEEN $2 AND $3
		ORDER BY snapshot_date, player_id
	`, family, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("getting points in range: %w", err)
	}
	return collectSnapshots(rows, family)
}

// PlayerPointsInRange returns one player's snapshot rows within [from, to]
func (r *Repository) PlayerPointsInRange(ctx context.Context, family string, playerID int64, from, to domain.Date) ([]domain.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT player_id, snapshot_date, gexp_points, imported_at
		FROM weekly_points
		WHERE family = $1 AND player_id = $2 AND snapshot_date BETWEEN $3 AND $4
		ORDER BY snapshot_date
	`, family, playerID, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("getting player points: %w", err)
	}
	return collectSnapshots(rows, family)
}

// FindMemberByNickname looks a member up by nickname, ignoring case
func (r *Repository) FindMemberByNickname(ctx context.Context, family, nickname string) (*domain.Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT player_id, account_id, nickname, level, class_id, family
		FROM members
		WHERE family = $1 AND LOWER(nickname) = LOWER($2)
		ORDER BY player_id
		LIMIT 1
	`, family, nickname)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpdateNickname renames a member. The new nickname must not be used by
// another member of the family, ignoring case.
func (r *Repository) UpdateNickname(ctx context.Context, family string, playerID int64, nickname string) (*domain.Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning nickname transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM members
			WHERE family = $1 AND LOWER(nickname) = LOWER($2) AND player_id <> $3
		)
	`, family, nickname, playerID).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("checking nickname: %w", err)
	}
	if taken {
		return nil, domain.ErrNicknameTaken
	}

	row := tx.QueryRow(ctx, `
		UPDATE members SET nickname = $3
		WHERE family = $1 AND player_id = $2
		RETURNING player_id, account_id, nickname, level, class_id, family
	`, family, playerID, nickname)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrNicknameTaken
		}
		return nil, fmt.Errorf("committing nickname: %w", err)
	}
	return &m, nil
}

// releaseNicknames renames members that left the family roster but still
// hold a nickname the new roster uses, so the name can be reassigned
func releaseNicknames(ctx context.Context, tx pgx.Tx, b *importer.Batch) error {
	nicknames, ids := rosterKeys(b.Members)
	rows, err := tx.Query(ctx, `
		SELECT player_id, nickname FROM members
		WHERE family = $1 AND nickname = ANY($2) AND NOT (player_id = ANY($3))
		FOR UPDATE
	`, b.Family, nicknames, ids)
	if err != nil {
		return fmt.Errorf("finding stale nicknames: %w", err)
	}

	type stale struct {
		playerID int64
		nickname string
	}
	var found []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.playerID, &s.nickname); err != nil {
			rows.Close()
			return fmt.Errorf("scanning stale nickname: %w", err)
		}
		found = append(found, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("finding stale nicknames: %w", err)
	}

	for _, s := range found {
		_, err := tx.Exec(ctx, `UPDATE members SET nickname = $2 WHERE player_id = $1`,
			s.playerID, retiredNickname(s.nickname, s.playerID))
		if err != nil {
			return fmt.Errorf("releasing nickname: %w", err)
		}
	}
	return nil
}

func rosterKeys(members []domain.Member) ([]string, []int64) {
	nicknames := make([]string, len(members))
	ids := make([]int64, len(members))
	for i, m := range members {
		nicknames[i] = m.Nickname
		ids[i] = m.PlayerID
	}
	return nicknames, ids
}

// retiredNickname suffixes a nickname with the player id, trimmed so the
// result stays within the column length
func retiredNickname(nickname string, playerID int64) string {
	suffix := "~" + strconv.FormatInt(playerID, 10)
	runes := []rune(nickname)
	if limit := domain.MaxNicknameLength - len(suffix); len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes) + suffix
}

func scanMember(row pgx.Row) (domain.Member, error) {
	var m domain.Member
	err := row.Scan(&m.PlayerID, &m.AccountID, &m.Nickname, &m.Level, &m.ClassID, &m.Family)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("scanning member: %w", err)
	}
	return m, nil
}

func collectSnapshots(rows pgx.Rows, family string) ([]domain.Snapshot, error) {
	defer rows.Close()

	out := make([]domain.Snapshot, 0)
	for rows.Next() {
		var (
			s    domain.Snapshot
			date time.Time
		)
		if err := rows.Scan(&s.PlayerID, &date, &s.Points, &s.ImportedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		s.Family = family
		s.SnapshotDate = domain.DateOf(date)
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
