package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to the Redis instance backing both the presence sets
// and the pub/sub relay, so one client serves both concerns.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func Ping(ctx context.Context, c *redis.Client) error {
	return c.Ping(ctx).Err()
}
