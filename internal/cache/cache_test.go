package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/query"
)

// memKV is an in-memory stand-in for the redis commands the cache issues.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memKV) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *memKV) Incr(_ context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (m *memKV) Ping(context.Context) *redis.StatusCmd { return redis.NewStatusResult("PONG", nil) }
func (m *memKV) Close() error                           { return nil }

func samplePage(id string) Page {
	return Page{
		Issues:     []models.Issue{{ID: id, Title: "Pothole"}},
		Pagination: query.Paginate(1, 20, 1),
	}
}

func TestNoop(t *testing.T) {
	var c QueryCache = Noop{}
	ctx := context.Background()

	c.Set(ctx, 0, "k", Page{})
	page, v, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, page)
	assert.Equal(t, NoVersion, v)
	c.Invalidate(ctx)
}

func TestPageKey(t *testing.T) {
	assert.Equal(t, "civic:issues:v0:status=all", PageKey(0, "status=all"))
	assert.NotEqual(t, PageKey(1, "q"), PageKey(2, "q"))
}

func TestRedis_RoundTrip(t *testing.T) {
	kv := newMemKV()
	c := newRedis(kv, time.Minute)
	ctx := context.Background()

	_, v, ok := c.Get(ctx, "q")
	require.False(t, ok)
	assert.Equal(t, Version(0), v)

	c.Set(ctx, v, "q", samplePage("a1"))
	page, v2, ok := c.Get(ctx, "q")
	require.True(t, ok)
	assert.Equal(t, v, v2)
	assert.Equal(t, "a1", page.Issues[0].ID)
	assert.Equal(t, time.Minute, kv.ttls[PageKey(0, "q")])

	c.Invalidate(ctx)
	_, v3, ok := c.Get(ctx, "q")
	assert.False(t, ok)
	assert.Equal(t, Version(1), v3)
}

func TestRedis_SetAfterInvalidateStaysInOldVersion(t *testing.T) {
	c := newRedis(newMemKV(), time.Minute)
	ctx := context.Background()

	// a reader misses, a writer invalidates, then the reader stores its page
	_, v, ok := c.Get(ctx, "q")
	require.False(t, ok)
	c.Invalidate(ctx)
	c.Set(ctx, v, "q", samplePage("before-write"))

	page, _, ok := c.Get(ctx, "q")
	assert.False(t, ok, "page computed before the write must not be served: %+v", page)
}

func TestRedis_NoVersionSkipsWrite(t *testing.T) {
	kv := newMemKV()
	c := newRedis(kv, time.Minute)

	c.Set(context.Background(), NoVersion, "q", samplePage("a1"))
	assert.Empty(t, kv.data)
}

func TestRedisUnavailableIsMiss(t *testing.T) {
	rc := OpenRedis("127.0.0.1:1", "", 0)
	defer rc.Close()
	c := NewRedis(rc, 0)
	require.Equal(t, DefaultTTL, c.ttl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	page, v, ok := c.Get(ctx, "q")
	assert.False(t, ok)
	assert.Nil(t, page)
	assert.Equal(t, NoVersion, v)
	// writes against a dead server must not panic
	c.Set(ctx, 0, "q", Page{})
	c.Invalidate(ctx)
}
