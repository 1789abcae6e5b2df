package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/skeetgame-ingest/internal/config"
	"github.com/skeetgame-ingest/internal/domain"
)

const (
	activityKey   = "game:activity"
	breakdownKeyF = "game:activity:%s"
)

// Leaderboard keeps a live activity ranking in Redis, fed by the
// summarization worker. The sorted set holds total event counts per
// player; a hash per player breaks the total down by kind.
type Leaderboard struct {
	client *redis.Client
	logger *slog.Logger
}

// Entry is one ranked row of the activity leaderboard
type Entry struct {
	DID   string  `json:"did"`
	Score float64 `json:"score"`
	Rank  int64   `json:"rank"`
}

// NewLeaderboard connects to Redis and verifies the connection
func NewLeaderboard(cfg config.RedisConfig, logger *slog.Logger) (*Leaderboard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Leaderboard{client: client, logger: logger}, nil
}

// RecordSummaries folds a batch of summarization rows into the ranking.
// The daily rollup row is skipped; it aggregates counts already applied.
func (l *Leaderboard) RecordSummaries(ctx context.Context, summaries []domain.EventSummary) error {
	pipe := l.client.Pipeline()
	applied := 0
	for _, s := range summaries {
		if s.DID == domain.DailySummaryDID {
			continue
		}
		pipe.ZIncrBy(ctx, activityKey, float64(s.Total()), s.DID)
		key := fmt.Sprintf(breakdownKeyF, s.DID)
		pipe.HIncrBy(ctx, key, "posts", int64(s.Posts))
		pipe.HIncrBy(ctx, key, "replies", int64(s.Replies))
		pipe.HIncrBy(ctx, key, "likes", int64(s.Likes))
		applied++
	}
	if applied == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording summaries: %w", err)
	}
	l.logger.Debug("leaderboard updated", "players", applied)
	return nil
}

// TopN returns the highest-scoring players in rank order
func (l *Leaderboard) TopN(ctx context.Context, n int64) ([]Entry, error) {
	results, err := l.client.ZRevRangeWithScores(ctx, activityKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching top players: %w", err)
	}
	entries := make([]Entry, 0, len(results))
	for i, z := range results {
		did, _ := z.Member.(string)
		entries = append(entries, Entry{DID: did, Score: z.Score, Rank: int64(i + 1)})
	}
	return entries, nil
}

// Rank returns a player's rank (1-based) and score, or (0, 0, nil) when
// the player is unranked
func (l *Leaderboard) Rank(ctx context.Context, did string) (int64, float64, error) {
	rank, err := l.client.ZRevRank(ctx, activityKey, did).Result()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("fetching rank: %w", err)
	}
	score, err := l.client.ZScore(ctx, activityKey, did).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("fetching score: %w", err)
	}
	return rank + 1, score, nil
}

// Breakdown returns a player's per-kind counts from the hash
func (l *Leaderboard) Breakdown(ctx context.Context, did string) (map[string]int64, error) {
	raw, err := l.client.HGetAll(ctx, fmt.Sprintf(breakdownKeyF, did)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching breakdown: %w", err)
	}
	counts := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		counts[field] = n
	}
	return counts, nil
}

// RemovePlayer drops a player from the ranking, used on purge
func (l *Leaderboard) RemovePlayer(ctx context.Context, did string) error {
	pipe := l.client.Pipeline()
	pipe.ZRem(ctx, activityKey, did)
	pipe.Del(ctx, fmt.Sprintf(breakdownKeyF, did))
	_, err := pipe.Exec(ctx)
	return err
}

// Ping verifies the Redis connection
func (l *Leaderboard) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis client
func (l *Leaderboard) Close() error {
	return l.client.Close()
}
