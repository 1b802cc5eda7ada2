// Package cache abstracts the in-process caches kept in front of Redis:
// valid certificate records on the TLS read path and block flags for
// hosts hammering the challenge endpoint.
package cache

import "time"

// Cache is the store-agnostic surface those caches share. The ristretto
// adapter is the production implementation.
type Cache[K comparable, V any] interface {
	// Get returns the cached value and whether the key was present.
	Get(key K) (V, bool)

	// Set stores value under key with the given cost, reporting whether
	// the entry was accepted.
	Set(key K, value V, cost int64) bool

	// SetWithTTL is Set with an expiry; the entry is dropped once ttl
	// passes.
	SetWithTTL(key K, value V, cost int64, ttl time.Duration) bool
}
