package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// socketSetTTL is a safety net: a crashed process cannot refresh the set,
// so a phantom "online" entry expires on its own.
const socketSetTTL = 24 * time.Hour

type setStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Tracker maintains the fleet-wide presence set for each user. A user is
// online iff their socket set is non-empty.
type Tracker struct {
	store setStore
}

func NewTracker(store setStore) *Tracker {
	return &Tracker{store: store}
}

func socketSetKey(userID string) string {
	return fmt.Sprintf("user:%s:sockets", userID)
}

func (t *Tracker) AddSocket(ctx context.Context, userID, socketID string) error {
	key := socketSetKey(userID)
	if err := t.store.SAdd(ctx, key, socketID).Err(); err != nil {
		return err
	}
	return t.store.Expire(ctx, key, socketSetTTL).Err()
}

// RemoveSocket is idempotent: removing an id that is not a member is a no-op.
func (t *Tracker) RemoveSocket(ctx context.Context, userID, socketID string) error {
	key := socketSetKey(userID)
	if err := t.store.SRem(ctx, key, socketID).Err(); err != nil {
		return err
	}
	count, err := t.store.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 0 {
		return t.store.Del(ctx, key).Err()
	}
	return nil
}

func (t *Tracker) Sockets(ctx context.Context, userID string) ([]string, error) {
	return t.store.SMembers(ctx, socketSetKey(userID)).Result()
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := t.store.SCard(ctx, socketSetKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
