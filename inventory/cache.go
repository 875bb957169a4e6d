package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReadCache is an advisory, best-effort cache in front of listLowStock reads.
// It is NEVER the source of truth for stock decisions — spec §5 forbids any
// shared mutable cache for business state — it only shaves latency off a
// read-only reporting query. Adapted from the teacher's module/cache_redis.go
// RedisCache, trimmed to the Get/Set-with-TTL subset this package needs.
type ReadCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewReadCache wraps an existing redis client. Passing a nil client disables
// caching; callers fall through to the store on every read.
func NewReadCache(client redis.Cmdable, prefix string, ttl time.Duration) *ReadCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &ReadCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *ReadCache) key(name string) string {
	return fmt.Sprintf("%s:lowstock:%s", c.prefix, name)
}

// GetLowStock returns a cached low-stock listing, if present and unexpired.
func (c *ReadCache) GetLowStock(ctx context.Context, key string, out any) bool {
	if c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), out) == nil
}

// SetLowStock caches a low-stock listing for ttl. Failures are ignored: the
// cache is advisory only.
func (c *ReadCache) SetLowStock(ctx context.Context, key string, value any) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(key), raw, c.ttl).Err()
}

// Invalidate drops the cached entry for key, called whenever a stock
// mutation could change the low-stock listing.
func (c *ReadCache) Invalidate(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	_ = c.client.Del(ctx, c.key(key)).Err()
}
