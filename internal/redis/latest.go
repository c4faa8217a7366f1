package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/ranking"
)

// ErrCacheMiss is returned when a family has no cached leaderboard
var ErrCacheMiss = errors.New("cache miss")

// LatestCache keeps the most recent leaderboard of every family. The rows are
// stored as one JSON document next to a sorted set used for rank lookups. The
// set is scored by board position, not points, so tied players keep the
// order of the board.
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLatestCache creates a cache over an existing client
func NewLatestCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LatestCache {
	return &LatestCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// latestKey returns the Redis key for a family's cached rows
func (c *LatestCache) latestKey(family string) string {
	return fmt.Sprintf("family:%s:latest", family)
}

// ranksKey returns the Redis key for a family's points sorted set
func (c *LatestCache) ranksKey(family string) string {
	return fmt.Sprintf("family:%s:ranks", family)
}

// Store replaces the cached leaderboard of a family
func (c *LatestCache) Store(ctx context.Context, family string, rows []domain.LatestRow) error {
	blob, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding latest rows: %w", err)
	}

	latestKey := c.latestKey(family)
	ranksKey := c.ranksKey(family)

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, ranksKey)
	pipe.Set(ctx, latestKey, blob, c.ttl)
	if len(rows) > 0 {
		ranked := ranking.Rank(rows)
		members := make([]redis.Z, len(ranked))
		for i, row := range ranked {
			members[i] = redis.Z{
				Score:  float64(len(ranked) - i),
				Member: strconv.FormatInt(row.PlayerID, 10),
			}
		}
		pipe.ZAdd(ctx, ranksKey, members...)
		pipe.Expire(ctx, ranksKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing latest rows: %w", err)
	}
	return nil
}

// Load returns the cached leaderboard of a family or ErrCacheMiss
func (c *LatestCache) Load(ctx context.Context, family string) ([]domain.LatestRow, error) {
	blob, err := c.client.Get(ctx, c.latestKey(family)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("loading latest rows: %w", err)
	}

	var rows []domain.LatestRow
	if err := json.Unmarshal(blob, &rows); err != nil {
		return nil, fmt.Errorf("decoding latest rows: %w", err)
	}
	return rows, nil
}

// PlayerRank returns a player's 1-based rank in the cached leaderboard
func (c *LatestCache) PlayerRank(ctx context.Context, family string, playerID int64) (int64, error) {
	rank, err := c.client.ZRevRank(ctx, c.ranksKey(family), strconv.FormatInt(playerID, 10)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrPlayerNotFound
		}
		return 0, fmt.Errorf("getting player rank: %w", err)
	}
	return rank + 1, nil
}

// Invalidate drops everything cached for a family
func (c *LatestCache) Invalidate(ctx context.Context, family string) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.latestKey(family))
	pipe.Del(ctx, c.ranksKey(family))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidating family cache: %w", err)
	}
	c.logger.Debug("family cache invalidated", "family", family)
	return nil
}
