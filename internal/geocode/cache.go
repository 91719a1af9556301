package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"digipin/internal/metrics"
)

// Cache stores reverse geocode results by key.
type Cache interface {
	Get(ctx context.Context, key string) (Address, bool, error)
	Set(ctx context.Context, key string, a Address, ttl time.Duration) error
}

// Cached wraps a Provider with a Cache. Cache failures fall through to the
// provider.
type Cached struct {
	Provider Provider
	Cache    Cache
	TTL      time.Duration
}

func NewCached(p Provider, c Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{Provider: p, Cache: c, TTL: ttl}
}

func (c *Cached) Name() string { return c.Provider.Name() }

func (c *Cached) Reverse(ctx context.Context, lat, lng float64) (Address, error) {
	key := cacheKey(c.Provider.Name(), lat, lng)
	if a, ok, err := c.Cache.Get(ctx, key); err != nil {
		log.Printf("geocode: cache get %s: %v", key, err)
	} else if ok {
		metrics.GeocodeLookups.WithLabelValues(c.Provider.Name(), "hit").Inc()
		return a, nil
	}
	metrics.GeocodeLookups.WithLabelValues(c.Provider.Name(), "miss").Inc()

	a, err := c.Provider.Reverse(ctx, lat, lng)
	if err != nil {
		return Address{}, err
	}
	if err := c.Cache.Set(ctx, key, a, c.TTL); err != nil {
		log.Printf("geocode: cache set %s: %v", key, err)
	}
	return a, nil
}

// Decoded DIGIPIN centroids are rounded to 6 decimals, so this key is exact
// per cell.
func cacheKey(provider string, lat, lng float64) string {
	return fmt.Sprintf("geocode:%s:%.6f,%.6f", provider, lat, lng)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memEntry
	now   func() time.Time
}

type memEntry struct {
	addr    Address
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memEntry{}, now: time.Now}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (Address, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return Address{}, false, nil
	}
	if m.now().After(e.expires) {
		delete(m.items, key)
		return Address{}, false, nil
	}
	return e.addr, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, a Address, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memEntry{addr: a, expires: m.now().Add(ttl)}
	return nil
}

// RedisCache shares results across API instances.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func (r *RedisCache) Get(ctx context.Context, key string) (Address, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Address{}, false, nil
	}
	if err != nil {
		return Address{}, false, err
	}
	var a Address
	if err := json.Unmarshal(b, &a); err != nil {
		return Address{}, false, fmt.Errorf("decode cached address: %w", err)
	}
	return a, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, a Address, ttl time.Duration) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, b, ttl).Err()
}
