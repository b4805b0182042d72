package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Client wraps a go-redis client with flowkit logging and error codes.
type Client struct {
	rdb    *goredis.Client
	log    *logger.Logger
	cfg    Config
	closed bool
	mu     sync.Mutex
}

var _ observability.HealthChecker = (*Client)(nil)

// New creates a Redis client. log may be nil.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, apperrors.Configuration("redis is disabled")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxRetries:      cfg.MaxRetries,
		DialTimeout:     duration(cfg.DialTimeout),
		ReadTimeout:     duration(cfg.ReadTimeout),
		WriteTimeout:    duration(cfg.WriteTimeout),
		PoolTimeout:     duration(cfg.PoolTimeout),
		ConnMaxIdleTime: duration(cfg.ConnMaxIdleTime),
	})

	log = logger.OrNop(log).WithComponent("redis")
	log.Info("Redis client created", logger.Fields(
		"addr", cfg.Addr,
		"db", cfg.DB,
		"pool_size", cfg.PoolSize,
	))

	return &Client{rdb: rdb, log: log, cfg: cfg}, nil
}

// Name returns the client name used in health reports.
func (c *Client) Name() string { return "redis" }

// Prefix returns the configured key prefix.
func (c *Client) Prefix() string { return c.cfg.KeyPrefix }

// Ping verifies the Redis connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	pong, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		return apperrors.ServiceUnavailable("redis", err.Error()).WithCause(err)
	}
	if pong != "PONG" {
		return apperrors.ServiceUnavailable("redis", "unexpected ping response "+pong)
	}
	return nil
}

// CheckHealth reports the client down when closed or unreachable.
func (c *Client) CheckHealth(ctx context.Context) observability.Health {
	h := observability.Health{
		Name:    c.Name(),
		Status:  observability.HealthStatusUp,
		Details: map[string]string{"addr": c.cfg.Addr},
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		h.Status = observability.HealthStatusDown
		h.Message = "client closed"
		return h
	}
	if err := c.Ping(ctx); err != nil {
		h.Status = observability.HealthStatusDown
		h.Message = err.Error()
	}
	return h
}

// Get returns the bytes stored at key; ok is false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.StoreError("redis", err)
	}
	return b, true, nil
}

// Set stores value with an expiration; zero means no expiry.
func (c *Client) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, expiration).Err(); err != nil {
		return apperrors.StoreError("redis", err)
	}
	return nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return apperrors.StoreError("redis", err)
	}
	return nil
}

// Close closes the Redis connection. Safe to call multiple times.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.log.Info("Closing Redis connection")
	c.closed = true
	return c.rdb.Close()
}

// Unwrap returns the underlying go-redis client for advanced operations.
func (c *Client) Unwrap() *goredis.Client {
	return c.rdb
}

// key joins the client prefix, a namespace and a key with colons.
func (c *Client) key(namespace, key string) string {
	out := key
	if namespace != "" {
		out = namespace + ":" + out
	}
	if c.cfg.KeyPrefix != "" {
		out = c.cfg.KeyPrefix + ":" + out
	}
	return out
}
