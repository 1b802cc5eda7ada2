package kv

import (
	"context"
	"time"
)

// Client is the narrow surface of the backing key/value server that the
// certificate coordinator needs: flat keys with TTL, hash fields, and a
// small transactional pipeline for write+expire pairs.
//
// Values are raw bytes; any serialization is layered on top by callers.
// Absence is reported through the ok return, never through an error, so
// callers only handle transport failures. Implementations MUST be safe for
// concurrent use.
type Client interface {
	// Get returns the value at key. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value at key only if the key does not exist, with the
	// given ttl. Returns true when the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Del removes the given keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a ttl on an existing key. Returns false if the key is gone.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// HGet returns a single hash field. ok is false when the field (or the
	// hash) does not exist.
	HGet(ctx context.Context, key, field string) (value []byte, ok bool, err error)

	// HMGet returns one entry per requested field, in request order. Absent
	// fields yield a nil slice at their position.
	HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error)

	// HSet writes all fields as one round trip. The server applies the
	// multi-field write atomically.
	HSet(ctx context.Context, key string, fields map[string][]byte) error

	// HDel removes hash fields and returns how many existed.
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// HExists reports whether a hash field is present.
	HExists(ctx context.Context, key, field string) (bool, error)

	// HIncrBy atomically adds incr to the integer stored at field and
	// returns the new value. The stored representation is the server's raw
	// decimal string, not a codec-encoded value.
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	// HScan returns the names of all hash fields matching the glob pattern.
	HScan(ctx context.Context, key, match string) ([]string, error)

	// TxPipeline queues the commands issued on the Pipeliner and executes
	// them as one atomic MULTI/EXEC block. Any command failure fails the
	// whole call.
	TxPipeline(ctx context.Context, fn func(Pipeliner)) error

	Close() error
}

// Pipeliner is the subset of commands available inside TxPipeline.
type Pipeliner interface {
	Set(key string, value []byte)
	PExpire(key string, ttl time.Duration)
	Del(keys ...string)
	HSet(key string, fields map[string][]byte)
}
