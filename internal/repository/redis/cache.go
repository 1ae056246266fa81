package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
)

// Cache provides Redis-backed run state, rate limits and progress fan-out
type Cache struct {
	client *redis.Client
}

// Key prefixes for different cache types
const (
	PrefixRun       = "run:"
	PrefixCompleted = "completed:"
	PrefixRateLimit = "ratelimit:"
	PrefixProgress  = "progress:"
)

// Default TTLs
const (
	RunTTL          = 24 * time.Hour
	CompletedTTL    = 30 * 24 * time.Hour
	RateLimitWindow = 1 * time.Minute
)

// New creates a new Redis cache client
func New(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks Redis connectivity
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for advanced operations
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Run status

// GetRun retrieves a cached run record. A missing run returns nil, nil.
func (c *Cache) GetRun(ctx context.Context, id uuid.UUID) (*domain.RunRecord, error) {
	data, err := c.client.Get(ctx, PrefixRun+id.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var run domain.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &run, nil
}

// SetRun caches a run record
func (c *Cache) SetRun(ctx context.Context, run *domain.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, PrefixRun+run.RunID.String(), data, RunTTL).Err()
}

// Completed sheets

func completedKey(userKey string) string {
	return PrefixCompleted + userKey
}

// MarkSheetCompleted records that userKey finished sheet
func (c *Cache) MarkSheetCompleted(ctx context.Context, userKey, sheet string) error {
	key := completedKey(userKey)
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, key, sheet)
	pipe.Expire(ctx, key, CompletedTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// UnmarkSheetCompleted removes one sheet from userKey's completed set
func (c *Cache) UnmarkSheetCompleted(ctx context.Context, userKey, sheet string) error {
	return c.client.SRem(ctx, completedKey(userKey), sheet).Err()
}

// CompletedSheets returns userKey's completed sheets in name order
func (c *Cache) CompletedSheets(ctx context.Context, userKey string) ([]string, error) {
	sheets, err := c.client.SMembers(ctx, completedKey(userKey)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(sheets)
	return sheets, nil
}

// ClearCompletedSheets forgets all of userKey's completed sheets
func (c *Cache) ClearCompletedSheets(ctx context.Context, userKey string) error {
	return c.client.Del(ctx, completedKey(userKey)).Err()
}

// Rate limiting

// CheckRateLimit checks and increments rate limit counter
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int) (bool, int, error) {
	fullKey := PrefixRateLimit + key

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, RateLimitWindow)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, err
	}

	count := int(incr.Val())
	return count <= limit, count, nil
}

// GetRateLimitRemaining returns remaining rate limit
func (c *Cache) GetRateLimitRemaining(ctx context.Context, key string, limit int) (int, error) {
	fullKey := PrefixRateLimit + key
	count, err := c.client.Get(ctx, fullKey).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return limit, nil
		}
		return 0, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// Pub/Sub for live progress

// ProgressChannel returns the pub/sub channel for a user's progress feed
func ProgressChannel(userKey string) string {
	return PrefixProgress + userKey
}

// Publish publishes a JSON-encoded message to a channel
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// SubscribeProgress subscribes to every user's progress channel
func (c *Cache) SubscribeProgress(ctx context.Context) *redis.PubSub {
	return c.client.PSubscribe(ctx, PrefixProgress+"*")
}
