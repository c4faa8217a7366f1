package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/importer"
	rediscache "github.com/family-history/internal/redis"
)

type memoryStore struct {
	mu        sync.Mutex
	members   map[int64]domain.Member
	snapshots []domain.Snapshot
	failWith  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{members: make(map[int64]domain.Member)}
}

func (m *memoryStore) ImportSnapshot(_ context.Context, b *importer.Batch) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	for _, member := range b.Members {
		member.Family = b.Family
		m.members[member.PlayerID] = member
	}
	kept := m.snapshots[:0]
	for _, s := range m.snapshots {
		if s.Family == b.Family && s.SnapshotDate == b.SnapshotDate {
			continue
		}
		kept = append(kept, s)
	}
	m.snapshots = kept
	for id, points := range b.Points {
		m.snapshots = append(m.snapshots, domain.Snapshot{
			Family:       b.Family,
			PlayerID:     id,
			SnapshotDate: b.SnapshotDate,
			Points:       points,
			ImportedAt:   time.Now(),
		})
	}
	return len(b.Points), nil
}

func (m *memoryStore) ListFamilies(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, s := range m.snapshots {
		if !seen[s.Family] {
			seen[s.Family] = true
			out = append(out, s.Family)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) Latest(ctx context.Context, family string) ([]domain.LatestRow, error) {
	dates, _ := m.SnapshotDates(ctx, family)
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := []domain.LatestRow{}
	if len(dates) == 0 {
		return rows, nil
	}
	last := dates[len(dates)-1]
	for _, s := range m.snapshots {
		if s.Family != family || s.SnapshotDate != last {
			continue
		}
		member := m.members[s.PlayerID]
		rows = append(rows, domain.LatestRow{
			PlayerID:     s.PlayerID,
			Nickname:     member.Nickname,
			Level:        member.Level,
			ClassID:      member.ClassID,
			Points:       s.Points,
			GexpPoints:   s.Points,
			SnapshotDate: s.SnapshotDate,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})
	return rows, nil
}

func (m *memoryStore) SnapshotDates(_ context.Context, family string) ([]domain.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[domain.Date]bool{}
	var out []domain.Date
	for _, s := range m.snapshots {
		if s.Family == family && !seen[s.SnapshotDate] {
			seen[s.SnapshotDate] = true
			out = append(out, s.SnapshotDate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memoryStore) Members(_ context.Context, family string) ([]domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Member
	for _, member := range m.members {
		if member.Family == family {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (m *memoryStore) PointsInRange(_ context.Context, family string, from, to domain.Date) ([]domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Snapshot
	for _, s := range m.snapshots {
		if s.Family == family && !s.SnapshotDate.Before(from) && !s.SnapshotDate.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) PlayerPointsInRange(ctx context.Context, family string, playerID int64, from, to domain.Date) ([]domain.Snapshot, error) {
	all, _ := m.PointsInRange(ctx, family, from, to)
	var out []domain.Snapshot
	for _, s := range all {
		if s.PlayerID == playerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) FindMemberByNickname(_ context.Context, family, nickname string) (*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.Family == family && strings.EqualFold(member.Nickname, nickname) {
			found := member
			return &found, nil
		}
	}
	return nil, domain.ErrPlayerNotFound
}

func (m *memoryStore) UpdateNickname(_ context.Context, family string, playerID int64, nickname string) (*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[playerID]
	if !ok || member.Family != family {
		return nil, domain.ErrPlayerNotFound
	}
	for id, other := range m.members {
		if id != playerID && other.Family == family && strings.EqualFold(other.Nickname, nickname) {
			return nil, domain.ErrNicknameTaken
		}
	}
	member.Nickname = nickname
	m.members[playerID] = member
	return &member, nil
}

type memoryCache struct {
	mu          sync.Mutex
	rows        map[string][]domain.LatestRow
	invalidated []string
	failLoad    bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{rows: make(map[string][]domain.LatestRow)}
}

func (c *memoryCache) Store(_ context.Context, family string, rows []domain.LatestRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[family] = rows
	return nil
}

func (c *memoryCache) Load(_ context.Context, family string) ([]domain.LatestRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failLoad {
		return nil, errors.New("connection refused")
	}
	rows, ok := c.rows[family]
	if !ok {
		return nil, rediscache.ErrCacheMiss
	}
	return rows, nil
}

func (c *memoryCache) PlayerRank(_ context.Context, family string, playerID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, row := range c.rows[family] {
		if row.PlayerID == playerID {
			return int64(i + 1), nil
		}
	}
	return 0, domain.ErrPlayerNotFound
}

func (c *memoryCache) Invalidate(_ context.Context, family string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, family)
	c.invalidated = append(c.invalidated, family)
	return nil
}

type recordingEvents struct {
	mu       sync.Mutex
	imported []domain.ImportResult
	renamed  []domain.Member
}

func (e *recordingEvents) BroadcastSnapshotImported(result domain.ImportResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.imported = append(e.imported, result)
}

func (e *recordingEvents) BroadcastNicknameUpdated(member domain.Member) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renamed = append(e.renamed, member)
}

type countingMetrics struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	histories int
	hits      int
	misses    int
	events    int
}

func (m *countingMetrics) ImportSucceeded(string, int, int) { m.inc(&m.succeeded) }
func (m *countingMetrics) ImportFailed(string)              { m.inc(&m.failed) }
func (m *countingMetrics) HistoryComputed(string, int)      { m.inc(&m.histories) }
func (m *countingMetrics) CacheHit()                        { m.inc(&m.hits) }
func (m *countingMetrics) CacheMiss()                       { m.inc(&m.misses) }
func (m *countingMetrics) EventBroadcast(string)            { m.inc(&m.events) }

func (m *countingMetrics) inc(n *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*n++
}
