package goredis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/kv"
)

// Client adapts go-redis to the kv.Client interface. redis.Nil never leaks
// to callers; absence is reported through the ok returns.
type Client struct {
	rdb *redis.Client
}

// New connects to the Redis server described by cfg and verifies the
// connection with a ping.
func New(cfg config.Redis) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout.Duration,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client. The caller keeps
// ownership; Close closes the underlying client.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis exposes the underlying client for collaborators that need the
// driver handle directly, such as the redsync lock pool.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.Expire(ctx, key, ttl).Result()
}

func (c *Client) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	b, err := c.rdb.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Client) HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	vals, err := c.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		// go-redis returns hash values as strings
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (c *Client) HSet(ctx context.Context, key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		args[f] = v
	}
	return c.rdb.HSet(ctx, key, args).Err()
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return c.rdb.HDel(ctx, key, fields...).Result()
}

func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	return c.rdb.HExists(ctx, key, field).Result()
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, incr).Result()
}

func (c *Client) HScan(ctx context.Context, key, match string) ([]string, error) {
	var (
		names  []string
		cursor uint64
	)
	for {
		// HSCAN returns a flat field,value,field,value... list
		pairs, next, err := c.rdb.HScan(ctx, key, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			names = append(names, pairs[i])
		}
		if next == 0 {
			return names, nil
		}
		cursor = next
	}
}

func (c *Client) TxPipeline(ctx context.Context, fn func(kv.Pipeliner)) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		fn(&pipeliner{ctx: ctx, p: p})
		return nil
	})
	return err
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

type pipeliner struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (p *pipeliner) Set(key string, value []byte) {
	p.p.Set(p.ctx, key, value, 0)
}

func (p *pipeliner) PExpire(key string, ttl time.Duration) {
	p.p.PExpire(p.ctx, key, ttl)
}

func (p *pipeliner) Del(keys ...string) {
	p.p.Del(p.ctx, keys...)
}

func (p *pipeliner) HSet(key string, fields map[string][]byte) {
	args := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		args[f] = v
	}
	p.p.HSet(p.ctx, key, args)
}
