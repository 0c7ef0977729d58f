package store

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// GoRedisEvaler adapts a real *redis.Client to the Evaler interface, the
// same shape as persistence.GoRedisEvaler in the upstream demo but extended
// with the handful of extra commands RedisStore needs (HGetAll/HSet/Del/
// ExpireAt/key scanning).
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler dials addr (e.g. "127.0.0.1:6379").
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

func (g *GoRedisEvaler) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return g.c.HGetAll(ctx, key).Result()
}

func (g *GoRedisEvaler) HSet(ctx context.Context, key string, values ...any) error {
	return g.c.HSet(ctx, key, values...).Err()
}

func (g *GoRedisEvaler) Del(ctx context.Context, keys ...string) error {
	return g.c.Del(ctx, keys...).Err()
}

func (g *GoRedisEvaler) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return g.c.ExpireAt(ctx, key, at).Err()
}

// ScanKeys walks the keyspace with SCAN (never KEYS, to avoid blocking a
// shared Redis instance) and returns every key matching prefix+"*".
func (g *GoRedisEvaler) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := g.c.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}
