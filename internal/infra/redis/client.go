package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the metadata cache and fetch locks.
type Client struct {
	rdb       *redis.Client
	prefix    string
	opTimeout time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string        `yaml:"url"        env:"URL"`
	Password  string        `yaml:"password"   env:"PASSWORD"`
	Prefix    string        `yaml:"prefix"     env:"PREFIX"`     // key namespace (default "racefetch")
	OpTimeout time.Duration `yaml:"op_timeout" env:"OP_TIMEOUT"` // per-operation timeout (default 5s)
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "racefetch"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, prefix: cfg.Prefix, opTimeout: cfg.OpTimeout}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func metaKey(prefix, key string) string {
	return fmt.Sprintf("%s:meta:%s", prefix, key)
}

func lockKey(prefix string, sessionKey int) string {
	return fmt.Sprintf("%s:lock:session:%d", prefix, sessionKey)
}

// AcquireLock attempts to acquire the fetch lock for a session, so two
// processes don't write the same dataset at once.
func (c *Client) AcquireLock(ctx context.Context, sessionKey int, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(c.prefix, sessionKey), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// RefreshLock extends the TTL of a held lock.
func (c *Client) RefreshLock(ctx context.Context, sessionKey int, ttl time.Duration) error {
	return c.rdb.Expire(ctx, lockKey(c.prefix, sessionKey), ttl).Err()
}

// ReleaseLock releases a session lock if owner still holds it.
func (c *Client) ReleaseLock(ctx context.Context, sessionKey int, owner string) error {
	key := lockKey(c.prefix, sessionKey)
	held, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if held != owner {
		return nil
	}
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}
