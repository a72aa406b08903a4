package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daily-challenge/internal/config"
	"github.com/daily-challenge/internal/domain"
)

// Cache keeps reduced leaderboards and current-period challenges in Redis
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache creates a new Redis cache and checks connectivity
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewCacheFromClient(client, logger), nil
}

// NewCacheFromClient wraps an existing client
func NewCacheFromClient(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// leaderboardKey returns the Redis key for a challenge's reduced leaderboard
func leaderboardKey(kind domain.ChallengeKind, challengeID int64) string {
	return fmt.Sprintf("challenge:%s:%d:leaderboard", kind, challengeID)
}

// currentKey returns the Redis key for the challenge of a period
func currentKey(kind domain.ChallengeKind, period string) string {
	return fmt.Sprintf("challenge:%s:current:%s", kind, period)
}

// GetLeaderboard returns the cached leaderboard or domain.ErrCacheMiss
func (c *Cache) GetLeaderboard(ctx context.Context, kind domain.ChallengeKind, challengeID int64) (*domain.Leaderboard, error) {
	var lb domain.Leaderboard
	if err := c.getJSON(ctx, leaderboardKey(kind, challengeID), &lb); err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	return &lb, nil
}

// SetLeaderboard caches a leaderboard for ttl
func (c *Cache) SetLeaderboard(ctx context.Context, lb *domain.Leaderboard, ttl time.Duration) error {
	if err := c.setJSON(ctx, leaderboardKey(lb.Kind, lb.ChallengeID), lb, ttl); err != nil {
		return fmt.Errorf("setting leaderboard: %w", err)
	}
	return nil
}

// InvalidateLeaderboard drops a cached leaderboard
func (c *Cache) InvalidateLeaderboard(ctx context.Context, kind domain.ChallengeKind, challengeID int64) error {
	if err := c.client.Del(ctx, leaderboardKey(kind, challengeID)).Err(); err != nil {
		return fmt.Errorf("invalidating leaderboard: %w", err)
	}
	return nil
}

// GetCurrentChallenge returns the cached challenge for a period or
// domain.ErrCacheMiss
func (c *Cache) GetCurrentChallenge(ctx context.Context, kind domain.ChallengeKind, period string) (*domain.Challenge, error) {
	var ch domain.Challenge
	if err := c.getJSON(ctx, currentKey(kind, period), &ch); err != nil {
		return nil, fmt.Errorf("getting current challenge: %w", err)
	}
	return &ch, nil
}

// SetCurrentChallenge caches the challenge of its period for ttl
func (c *Cache) SetCurrentChallenge(ctx context.Context, ch *domain.Challenge, ttl time.Duration) error {
	if err := c.setJSON(ctx, currentKey(ch.Kind, ch.Period()), ch, ttl); err != nil {
		return fmt.Errorf("setting current challenge: %w", err)
	}
	return nil
}

// InvalidateCurrentChallenge drops the cached challenge of a period
func (c *Cache) InvalidateCurrentChallenge(ctx context.Context, kind domain.ChallengeKind, period string) error {
	if err := c.client.Del(ctx, currentKey(kind, period)).Err(); err != nil {
		return fmt.Errorf("invalidating current challenge: %w", err)
	}
	return nil
}

func (c *Cache) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrCacheMiss
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A corrupt entry is treated as a miss and overwritten by the caller.
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return domain.ErrCacheMiss
	}
	return nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}
