package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default configuration values for the Redis connection pool.
const (
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultMaxRetryDelay = 500 * time.Millisecond
)

// keyPrefix scopes limiter keys so the gateway can share a Redis database
// with the chatbot services without collisions.
const keyPrefix = "chatgate:ratelimit:"

// RedisConfig holds the configuration for the Redis counter backend.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (empty for no auth).
	Password string
	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int
	// MinIdleConns is the minimum number of idle connections to maintain.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration
	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// MaxRetryDelay is the maximum delay between retries.
	MaxRetryDelay time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      DefaultPoolSize,
		MinIdleConns:  DefaultMinIdleConns,
		DialTimeout:   DefaultDialTimeout,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// RedisStore is the distributed counter backend. The count for a key lives
// in Redis and is shared by every gateway instance pointed at the same
// server, so it bounds load per fleet, not per process.
type RedisStore struct {
	client  *redis.Client
	scripts *scriptLoader
	window  time.Duration
	limit   int64
	now     Clock
	mu      sync.RWMutex
	closed  bool
}

// NewRedisStore creates a Redis-backed fixed-window store. It validates the
// connection by sending a PING command and pre-loads the Lua scripts, so a
// returned error means the backend is genuinely unusable.
func NewRedisStore(ctx context.Context, cfg RedisConfig, windowDur time.Duration, limit int64) (*RedisStore, error) {
	if windowDur <= 0 {
		return nil, fmt.Errorf("store: window must be greater than 0")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("store: limit must be greater than 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.RetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	})

	// Validate the connection.
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", cfg.Addr, err)
	}

	rs := &RedisStore{
		client:  client,
		scripts: newScriptLoader(client),
		window:  windowDur,
		limit:   limit,
		now:     time.Now,
	}

	// Pre-load Lua scripts into the Redis script cache.
	if err := rs.scripts.LoadAll(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to load Lua scripts: %w", err)
	}

	log.Printf("redis: connected to %s (pool_size=%d, min_idle=%d)",
		cfg.Addr, cfg.PoolSize, cfg.MinIdleConns)

	return rs, nil
}

// Read returns the current window state for key without mutating the count.
func (rs *RedisStore) Read(ctx context.Context, key string) (Result, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return Result{}, ErrStoreClosed
	}

	raw, err := rs.scripts.read.Run(ctx, rs.client,
		[]string{keyPrefix + key},
		rs.window.Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis: read failed for key %q: %w", key, err)
	}

	return rs.toResult(raw, key)
}

// Increment atomically adds one hit for key. The expiry is set only on the
// first hit of a window, so the window stays anchored there.
func (rs *RedisStore) Increment(ctx context.Context, key string) (Result, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return Result{}, ErrStoreClosed
	}

	raw, err := rs.scripts.increment.Run(ctx, rs.client,
		[]string{keyPrefix + key},
		rs.window.Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis: increment failed for key %q: %w", key, err)
	}

	return rs.toResult(raw, key)
}

// Decrement refunds one hit for key, flooring at zero.
func (rs *RedisStore) Decrement(ctx context.Context, key string) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.scripts.decrement.Run(ctx, rs.client, []string{keyPrefix + key}).Err(); err != nil {
		return fmt.Errorf("redis: decrement failed for key %q: %w", key, err)
	}

	return nil
}

// Reset removes the counter for key. Used by tests and operational tooling.
func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: reset failed for key %q: %w", key, err)
	}

	return nil
}

// Ping checks connectivity to the Redis server.
func (rs *RedisStore) Ping(ctx context.Context) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	return nil
}

// Close gracefully shuts down the Redis connection.
func (rs *RedisStore) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return nil
	}

	rs.closed = true
	log.Println("redis: closing connection")

	return rs.client.Close()
}

// toResult converts a {count, ttl_ms} script reply into a Result.
func (rs *RedisStore) toResult(raw any, key string) (Result, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("redis: unexpected script reply for key %q: %v", key, raw)
	}

	count, ok := values[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("redis: unexpected count type for key %q: %T", key, values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Result{}, fmt.Errorf("redis: unexpected ttl type for key %q: %T", key, values[1])
	}

	return Result{
		TotalHits: count,
		Remaining: remaining(rs.limit, count),
		ResetAt:   rs.now().Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}
