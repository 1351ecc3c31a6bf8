package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "arena_realtime/server/common/log"
)

// Topic kinds. Each topic is scoped to one recipient and one event category.
const (
	KindMessage      = "message"
	KindNotification = "notification"
)

func Topic(kind, userID string) string {
	return fmt.Sprintf("%s:user:%s", kind, userID)
}

type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Relay bridges "a durable action happened" and "deliver it to whoever is
// listening right now". Delivery is at-most-once to live subscribers only;
// offline recipients are covered by the durable Notification/Message records.
type Relay struct {
	pub publishClient
	sub *redis.Client
}

func New(client *redis.Client) *Relay {
	return &Relay{pub: client, sub: client}
}

// Publish sends payload to the recipient's topic and returns the number of
// live subscribers reached. Zero is valid: the recipient is offline.
func (r *Relay) Publish(ctx context.Context, kind, userID string, payload any) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	count, err := r.pub.Publish(ctx, Topic(kind, userID), b).Result()
	if err != nil {
		return 0, err
	}
	commonlog.Debugf("event=relay action=publish topic=%s subscriber_count=%d", Topic(kind, userID), count)
	return count, nil
}

type SubscribeConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultSubscribeConfig() SubscribeConfig {
	return SubscribeConfig{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Subscribe opens a listen loop over the given topics and invokes onMessage
// once per delivered payload, in delivery order per topic. Transient broker
// failures are retried with capped exponential backoff; after MaxAttempts
// consecutive failures the listener logs a terminal failure and returns.
// Cancelling ctx stops the loop without error.
func (r *Relay) Subscribe(ctx context.Context, cfg SubscribeConfig, onMessage func(topic string, payload []byte), topics ...string) {
	attempt := 0
	for {
		sub := r.sub.Subscribe(ctx, topics...)
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				break
			}
			attempt = 0
			onMessage(msg.Channel, []byte(msg.Payload))
		}
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		attempt++
		if attempt >= cfg.MaxAttempts {
			commonlog.Errorf("event=relay action=subscribe status=abandoned topics=%v attempts=%d", topics, attempt)
			return
		}
		delay := Backoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
		commonlog.Warnf("event=relay action=subscribe status=retrying topics=%v attempt=%d delay=%s", topics, attempt, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base, ... capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
