// Package cache stores rendered issue list pages keyed by canonical query.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/civic-issues/internal/metrics"
	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/query"
)

const (
	DefaultTTL = 30 * time.Second
	keyPrefix  = "civic:issues"
	versionKey = keyPrefix + ":version"
)

// Page is a cached list response.
type Page struct {
	Issues     []models.Issue   `json:"issues"`
	Pagination query.Pagination `json:"pagination"`
}

// Version identifies a cache generation. Get reports the generation it read
// and Set writes under it, so a page computed before an invalidation never
// lands in the newer generation.
type Version int64

// NoVersion tells Set not to write.
const NoVersion Version = -1

type QueryCache interface {
	Get(ctx context.Context, key string) (*Page, Version, bool)
	Set(ctx context.Context, v Version, key string, page Page)
	// Invalidate drops every cached page. Called after any write.
	Invalidate(ctx context.Context)
}

// Noop never caches. Used when REDIS_ADDR is unset.
type Noop struct{}

func (Noop) Get(context.Context, string) (*Page, Version, bool) { return nil, NoVersion, false }
func (Noop) Set(context.Context, Version, string, Page)         {}
func (Noop) Invalidate(context.Context)                         {}

// kv is the part of *redis.Client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis caches pages under a version prefix. Invalidate bumps the version so
// stale pages are never read again and expire on their own TTL.
type Redis struct {
	rc  kv
	ttl time.Duration
}

func OpenRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewRedis(rc *redis.Client, ttl time.Duration) *Redis {
	return newRedis(rc, ttl)
}

func newRedis(rc kv, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rc: rc, ttl: ttl}
}

func (c *Redis) version(ctx context.Context) (Version, error) {
	v, err := c.rc.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return Version(v), err
}

func PageKey(v Version, key string) string {
	return fmt.Sprintf("%s:v%d:%s", keyPrefix, v, key)
}

func (c *Redis) Get(ctx context.Context, key string) (*Page, Version, bool) {
	v, err := c.version(ctx)
	if err != nil {
		slog.Warn("cache version lookup failed", "error", err)
		metrics.CacheMissesTotal.Inc()
		return nil, NoVersion, false
	}
	s, err := c.rc.Get(ctx, PageKey(v, key)).Result()
	if err != nil || s == "" {
		metrics.CacheMissesTotal.Inc()
		return nil, v, false
	}
	var page Page
	if err := json.Unmarshal([]byte(s), &page); err != nil {
		metrics.CacheMissesTotal.Inc()
		return nil, v, false
	}
	metrics.CacheHitsTotal.Inc()
	return &page, v, true
}

func (c *Redis) Set(ctx context.Context, v Version, key string, page Page) {
	if v == NoVersion {
		return
	}
	b, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, PageKey(v, key), string(b), c.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "error", err)
	}
}

func (c *Redis) Invalidate(ctx context.Context) {
	if err := c.rc.Incr(ctx, versionKey).Err(); err != nil {
		slog.Warn("cache invalidate failed", "error", err)
	}
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.rc.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.rc.Close()
}
