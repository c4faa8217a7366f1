package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/family-history/internal/config"
	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/history"
	"github.com/family-history/internal/importer"
	"github.com/family-history/internal/ranking"
	rediscache "github.com/family-history/internal/redis"
)

// SnapshotStore is the persistent side of the service
type SnapshotStore interface {
	ImportSnapshot(ctx context.Context, b *importer.Batch) (int, error)
	ListFamilies(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, family string) ([]domain.LatestRow, error)
	SnapshotDates(ctx context.Context, family string) ([]domain.Date, error)
	Members(ctx context.Context, family string) ([]domain.Member, error)
	PointsInRange(ctx context.Context, family string, from, to domain.Date) ([]domain.Snapshot, error)
	PlayerPointsInRange(ctx context.Context, family string, playerID int64, from, to domain.Date) ([]domain.Snapshot, error)
	FindMemberByNickname(ctx context.Context, family, nickname string) (*domain.Member, error)
	UpdateNickname(ctx context.Context, family string, playerID int64, nickname string) (*domain.Member, error)
}

// LatestCache caches the latest leaderboard of each family
type LatestCache interface {
	Store(ctx context.Context, family string, rows []domain.LatestRow) error
	Load(ctx context.Context, family string) ([]domain.LatestRow, error)
	PlayerRank(ctx context.Context, family string, playerID int64) (int64, error)
	Invalidate(ctx context.Context, family string) error
}

// Broadcaster pushes change events to connected dashboards
type Broadcaster interface {
	BroadcastSnapshotImported(result domain.ImportResult)
	BroadcastNicknameUpdated(member domain.Member)
}

// Recorder receives service metrics
type Recorder interface {
	ImportSucceeded(family string, points, skipped int)
	ImportFailed(family string)
	HistoryComputed(family string, players int)
	CacheHit()
	CacheMiss()
	EventBroadcast(eventType string)
}

// HistoryQuery selects the window and the players of a history table.
// Zero dates default to the earliest and latest snapshots.
type HistoryQuery struct {
	From     domain.Date
	To       domain.Date
	Criteria ranking.Criteria
}

// PlayerView is the evolution of one player plus their current rank
type PlayerView struct {
	history.Detail
	Rank *int64 `json:"rank,omitempty"`
}

// FamilyService serves leaderboards, histories and imports of families
type FamilyService struct {
	store    SnapshotStore
	cache    LatestCache
	events   Broadcaster
	metrics  Recorder
	config   *config.HistoryConfig
	policy   history.ClampPolicy
	lookback history.Lookback
	logger   *slog.Logger
}

// NewFamilyService creates a new family service
func NewFamilyService(
	store SnapshotStore,
	cache LatestCache,
	events Broadcaster,
	metrics Recorder,
	cfg *config.HistoryConfig,
	logger *slog.Logger,
) *FamilyService {
	return &FamilyService{
		store:   store,
		cache:   cache,
		events:  events,
		metrics: metrics,
		config:  cfg,
		policy:  history.ParsePolicy(cfg.ClampPolicy),
		lookback: history.Lookback{
			WeeklyDays:  cfg.WeeklyLookbackDays,
			MonthlyDays: cfg.MonthlyLookbackDays,
		},
		logger: logger,
	}
}

// latestRows reads the latest leaderboard through the cache
func (s *FamilyService) latestRows(ctx context.Context, family string) ([]domain.LatestRow, error) {
	rows, err := s.cache.Load(ctx, family)
	if err == nil {
		s.metrics.CacheHit()
		return rows, nil
	}
	if !errors.Is(err, rediscache.ErrCacheMiss) {
		s.logger.Warn("failed to read latest cache", "family", family, "error", err)
	}
	s.metrics.CacheMiss()

	rows, err = s.store.Latest(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	if err := s.cache.Store(ctx, family, rows); err != nil {
		s.logger.Warn("failed to fill latest cache", "family", family, "error", err)
	}
	return rows, nil
}

// Latest returns the ranked rows of the most recent snapshot matching the
// criteria. A positive limit keeps the first rows, capped at MaxLimit; no
// limit returns every row.
func (s *FamilyService) Latest(ctx context.Context, family string, criteria ranking.Criteria, limit int) ([]domain.LatestRow, error) {
	board, err := s.Leaderboard(ctx, family, criteria)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		return board.Rows, nil
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	if len(board.Rows) > limit {
		return board.Rows[:limit], nil
	}
	return board.Rows, nil
}

// Leaderboard returns the ranked and filtered latest snapshot with its podium
func (s *FamilyService) Leaderboard(ctx context.Context, family string, criteria ranking.Criteria) (ranking.Board, error) {
	rows, err := s.latestRows(ctx, family)
	if err != nil {
		return ranking.Board{}, err
	}
	return ranking.Build(rows, criteria), nil
}

// Snapshots returns the snapshot dates of a family, oldest first
func (s *FamilyService) Snapshots(ctx context.Context, family string) ([]domain.Date, error) {
	dates, err := s.store.SnapshotDates(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return dates, nil
}

// resolve clamps the requested window onto the known snapshot dates. A family
// without snapshots yields ok == false.
func (s *FamilyService) resolve(ctx context.Context, family string, from, to domain.Date) (history.Range, []domain.Date, bool, error) {
	known, err := s.Snapshots(ctx, family)
	if err != nil {
		return history.Range{}, nil, false, err
	}
	r, err := history.ResolveRange(known, from, to, s.policy)
	if err != nil {
		if errors.Is(err, history.ErrNoSnapshots) {
			return history.Range{}, nil, false, nil
		}
		return history.Range{}, nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidDate, err)
	}
	return r, history.DatesIn(known, r), true, nil
}

// History builds the per-player history table of a family over a window
func (s *FamilyService) History(ctx context.Context, family string, q HistoryQuery) (history.Table, error) {
	r, dates, ok, err := s.resolve(ctx, family, q.From, q.To)
	if err != nil {
		return history.Table{}, err
	}
	if !ok {
		return history.BuildTable(nil, nil, nil, s.lookback), nil
	}

	members, err := s.store.Members(ctx, family)
	if err != nil {
		return history.Table{}, fmt.Errorf("listing members: %w", err)
	}
	snapshots, err := s.store.PointsInRange(ctx, family, r.From, r.To)
	if err != nil {
		return history.Table{}, fmt.Errorf("getting points: %w", err)
	}

	selected := make([]domain.Member, 0, len(members))
	for _, m := range members {
		if q.Criteria.Matches(m.Nickname, m.ClassID) {
			selected = append(selected, m)
		}
	}

	table := history.BuildTable(dates, selected, groupByPlayer(snapshots), s.lookback)
	table.Range = &r
	s.metrics.HistoryComputed(family, len(table.Players))
	return table, nil
}

// PlayerByNickname returns the evolution of one player, found by nickname
// ignoring case
func (s *FamilyService) PlayerByNickname(ctx context.Context, family, nickname string, from, to domain.Date) (*PlayerView, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, domain.ErrPlayerNotFound
	}
	member, err := s.store.FindMemberByNickname(ctx, family, nickname)
	if err != nil {
		return nil, err
	}

	view := &PlayerView{}
	r, dates, ok, err := s.resolve(ctx, family, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		view.Detail = history.BuildDetail(*member, nil, nil, s.lookback)
		return view, nil
	}

	snapshots, err := s.store.PlayerPointsInRange(ctx, family, member.PlayerID, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("getting player points: %w", err)
	}
	view.Detail = history.BuildDetail(*member, dates, groupByPlayer(snapshots)[member.PlayerID], s.lookback)

	rank, err := s.cache.PlayerRank(ctx, family, member.PlayerID)
	if err == nil {
		view.Rank = &rank
	}
	return view, nil
}

// ValidateNickname trims a nickname and checks its length
func ValidateNickname(raw string) (string, error) {
	nickname := strings.TrimSpace(raw)
	if nickname == "" {
		return "", domain.ErrNicknameEmpty
	}
	if utf8.RuneCountInString(nickname) > domain.MaxNicknameLength {
		return "", domain.ErrNicknameTooLong
	}
	return nickname, nil
}

// UpdateNickname renames a member of a family
func (s *FamilyService) UpdateNickname(ctx context.Context, family string, playerID int64, raw string) (*domain.Member, error) {
	nickname, err := ValidateNickname(raw)
	if err != nil {
		return nil, err
	}

	member, err := s.store.UpdateNickname(ctx, family, playerID, nickname)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, family); err != nil {
		s.logger.Warn("failed to invalidate latest cache", "family", family, "error", err)
	}
	s.events.BroadcastNicknameUpdated(*member)
	s.metrics.EventBroadcast("nickname_updated")

	s.logger.Info("nickname updated", "family", family, "player_id", playerID, "nickname", nickname)
	return member, nil
}

// Import parses both export files and stores them as the snapshot of
// req.SnapshotDate, replacing any previous import of that day
func (s *FamilyService) Import(ctx context.Context, req domain.ImportRequest) (*domain.ImportResult, error) {
	family := strings.TrimSpace(req.Family)

	var date domain.Date
	if raw := strings.TrimSpace(req.SnapshotDate); raw != "" {
		parsed, err := domain.ParseDate(raw)
		if err != nil {
			s.metrics.ImportFailed(family)
			return nil, err
		}
		date = parsed
	}

	batch, err := importer.Parse(req.Gmbr, req.Gexp, family, date)
	if err != nil {
		s.metrics.ImportFailed(family)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImport, err)
	}

	stored, err := s.store.ImportSnapshot(ctx, batch)
	if err != nil {
		s.metrics.ImportFailed(family)
		return nil, fmt.Errorf("storing snapshot: %w", err)
	}

	result := domain.ImportResult{
		Status:       "ok",
		Family:       batch.Family,
		SnapshotDate: batch.SnapshotDate,
		Members:      len(batch.Members),
		Points:       stored,
		Skipped:      batch.Skipped,
	}

	if err := s.cache.Invalidate(ctx, batch.Family); err != nil {
		s.logger.Warn("failed to invalidate latest cache", "family", batch.Family, "error", err)
	}
	s.metrics.ImportSucceeded(result.Family, result.Points, result.Skipped)
	s.events.BroadcastSnapshotImported(result)
	s.metrics.EventBroadcast("snapshot_imported")

	s.logger.Info("snapshot imported",
		"family", result.Family,
		"snapshot_date", result.SnapshotDate.String(),
		"members", result.Members,
		"points", result.Points,
		"skipped", result.Skipped,
	)
	return &result, nil
}

// WarmFamily reloads the cached leaderboard of a family from the store
func (s *FamilyService) WarmFamily(ctx context.Context, family string) error {
	rows, err := s.store.Latest(ctx, family)
	if err != nil {
		return fmt.Errorf("getting latest snapshot: %w", err)
	}
	if err := s.cache.Store(ctx, family, rows); err != nil {
		return fmt.Errorf("caching latest snapshot: %w", err)
	}
	return nil
}

// WarmAll reloads the cached leaderboard of every family. Families that fail
// are logged and skipped; the number of warmed families is returned.
func (s *FamilyService) WarmAll(ctx context.Context) (int, error) {
	families, err := s.store.ListFamilies(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing families: %w", err)
	}

	warmed := 0
	for _, family := range families {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if err := s.WarmFamily(ctx, family); err != nil {
			s.logger.Error("failed to warm family", "family", family, "error", err)
			continue
		}
		warmed++
	}
	return warmed, nil
}

func groupByPlayer(snapshots []domain.Snapshot) map[int64]history.Series {
	points := make(map[int64]map[domain.Date]int64)
	for _, snap := range snapshots {
		if points[snap.PlayerID] == nil {
			points[snap.PlayerID] = make(map[domain.Date]int64)
		}
		points[snap.PlayerID][snap.SnapshotDate] = snap.Points
	}
	series := make(map[int64]history.Series, len(points))
	for id, p := range points {
		series[id] = history.NewSeries(p)
	}
	return series
}
