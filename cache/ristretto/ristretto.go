// Package ristretto adapts dgraph's ristretto to the cache interface.
package ristretto

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/caasmo/certherd/cache"
)

// Size levels trade memory for hit rate. MaxCost assumes cost 1 per entry.
var sizes = map[string]struct {
	numCounters int64
	maxCost     int64
}{
	"small":      {numCounters: 1e4, maxCost: 1e3},
	"medium":     {numCounters: 1e5, maxCost: 1e4},
	"large":      {numCounters: 1e6, maxCost: 1e5},
	"very-large": {numCounters: 1e7, maxCost: 1e6},
}

type Cache[V any] struct {
	cache *ristretto.Cache[string, V]
}

func (rc *Cache[V]) Get(key string) (V, bool) {
	return rc.cache.Get(key)
}

func (rc *Cache[V]) Set(key string, value V, cost int64) bool {
	return rc.cache.Set(key, value, cost)
}

func (rc *Cache[V]) SetWithTTL(key string, value V, cost int64, ttl time.Duration) bool {
	return rc.cache.SetWithTTL(key, value, cost, ttl)
}

// New builds a string-keyed cache of the given size level: "small",
// "medium", "large" or "very-large".
func New[V any](size string) (cache.Cache[string, V], error) {
	s, ok := sizes[size]
	if !ok {
		return nil, fmt.Errorf("ristretto: unknown cache size %q", size)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: s.numCounters,
		MaxCost:     s.maxCost,
		BufferItems: 64, // keys per Get buffer
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{cache: c}, nil
}
