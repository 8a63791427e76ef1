// Package signalcache keeps the latest Signal per hashtag so it can be read
// without re-running the pipeline. Backends are in-process memory or Redis.
package signalcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"

	"github.com/sawpanic/hashsignal/internal/domain"
)

// Cache stores one signal per hashtag
type Cache interface {
	Put(ctx context.Context, sig domain.Signal) error
	// Latest returns (nil, nil) on a miss
	Latest(ctx context.Context, hashtag string) (*domain.Signal, error)
	Close() error
}

// Config selects and tunes the backend
type Config struct {
	Backend   string        `yaml:"backend"` // memory | redis
	Addr      string        `yaml:"addr"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig keeps signals in memory for a day
func DefaultConfig() Config {
	return Config{
		Backend:   "memory",
		Addr:      "localhost:6379",
		KeyPrefix: "signal:",
		TTL:       24 * time.Hour,
		Timeout:   500 * time.Millisecond,
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.Addr == "" {
			return fmt.Errorf("addr is required for the redis backend")
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative, got %s", c.TTL)
	}
	return nil
}

// New builds the configured backend. password is passed separately so it
// never sits in a config struct that might be logged.
func New(cfg Config, password string) Cache {
	if cfg.Backend == "redis" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB, Password: password}), cfg)
	}
	return NewMemory(cfg.TTL, clockwork.NewRealClock())
}

func key(prefix, hashtag string) string {
	return prefix + domain.NormalizeHashtag(hashtag)
}

type entry struct {
	sig domain.Signal
	exp time.Time
}

type memory struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu sync.Mutex
	m  map[string]entry
}

// NewMemory creates an in-process cache; ttl 0 never expires
func NewMemory(ttl time.Duration, clock clockwork.Clock) Cache {
	return &memory{ttl: ttl, clock: clock, m: make(map[string]entry)}
}

func (c *memory) Put(_ context.Context, sig domain.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{sig: sig}
	if c.ttl > 0 {
		e.exp = c.clock.Now().Add(c.ttl)
	}
	c.m[domain.NormalizeHashtag(sig.Hashtag)] = e
	return nil
}

func (c *memory) Latest(_ context.Context, hashtag string) (*domain.Signal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[domain.NormalizeHashtag(hashtag)]
	if !ok || (!e.exp.IsZero() && c.clock.Now().After(e.exp)) {
		return nil, nil
	}
	sig := e.sig
	return &sig, nil
}

func (c *memory) Close() error { return nil }

type redisCache struct {
	r       *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis wraps a go-redis client
func NewRedis(client *redis.Client, cfg Config) Cache {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &redisCache{r: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL, timeout: cfg.Timeout}
}

func (c *redisCache) Put(ctx context.Context, sig domain.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.r.Set(ctx, key(c.prefix, sig.Hashtag), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache signal: %w", err)
	}
	return nil
}

func (c *redisCache) Latest(ctx context.Context, hashtag string) (*domain.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := c.r.Get(ctx, key(c.prefix, hashtag)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached signal: %w", err)
	}
	var sig domain.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("failed to decode cached signal: %w", err)
	}
	return &sig, nil
}

func (c *redisCache) Close() error { return c.r.Close() }
