package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "clinic:seq:"

type incrementer interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisGenerator keeps each counter in its own key and relies on INCR, which
// Redis executes atomically.
type RedisGenerator struct {
	client incrementer
	prefix string
}

func NewRedisGenerator(client *redis.Client) *RedisGenerator {
	return &RedisGenerator{client: client, prefix: defaultKeyPrefix}
}

// Key returns the Redis key holding the named counter.
func (g *RedisGenerator) Key(name string) string {
	return g.prefix + name
}

func (g *RedisGenerator) Next(ctx context.Context, name string) (uint64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	n, err := g.client.Incr(ctx, g.Key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", g.Key(name), err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("redis counter %s holds non-positive value %d", g.Key(name), n)
	}
	return uint64(n), nil
}
