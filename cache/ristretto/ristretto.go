package ristretto

import (
	"fmt"
	"time"

	"github.com/caasmo/litepool/cache"
	"github.com/dgraph-io/ristretto/v2"
)

// Cache keys values by string; in this module the keys are script paths and
// the cost of an entry is its size in bytes.
type Cache[V any] struct {
	cache *ristretto.Cache[string, V]
}

var _ cache.Cache[string, string] = (*Cache[string])(nil)

func (rc *Cache[V]) Get(key string) (V, bool) {
	return rc.cache.Get(key)
}

func (rc *Cache[V]) Set(key string, value V, cost int64) bool {
	return rc.cache.Set(key, value, cost)
}

func (rc *Cache[V]) SetWithTTL(key string, value V, cost int64, ttl time.Duration) bool {
	return rc.cache.SetWithTTL(key, value, cost, ttl)
}

func (rc *Cache[V]) Del(key string) {
	rc.cache.Del(key)
}

// Wait blocks until buffered writes are applied.
func (rc *Cache[V]) Wait() {
	rc.cache.Wait()
}

// sizing per level: counters track 10x the expected entries, cost in bytes.
var levels = map[string]struct {
	numCounters int64
	maxCost     int64
}{
	"small":      {numCounters: 1e4, maxCost: 1 << 20}, // 1MB
	"medium":     {numCounters: 1e5, maxCost: 1 << 24}, // 16MB
	"large":      {numCounters: 1e6, maxCost: 1 << 27}, // 128MB
	"very-large": {numCounters: 1e7, maxCost: 1 << 30}, // 1GB
}

// New returns a cache sized by level: "small", "medium", "large" or
// "very-large".
func New[V any](level string) (cache.Cache[string, V], error) {
	size, ok := levels[level]
	if !ok {
		return nil, fmt.Errorf("ristretto: unknown cache level %q", level)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: size.numCounters,
		MaxCost:     size.maxCost,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{cache: c}, nil
}
