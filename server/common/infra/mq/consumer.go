package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	commonlog "arena_realtime/server/common/log"
)

// HandlerFunc processes one delivery. A nil return acknowledges the message;
// an error negatively acknowledges it without requeue, so a poison message
// is dropped rather than retried forever.
type HandlerFunc func(ctx context.Context, routingKey string, body []byte) error

type ConsumerConfig struct {
	Exchange string
	Queue    string
	Bindings []string
	Prefetch int
}

// Consume binds a durable queue to a topic exchange and processes deliveries
// until ctx is cancelled. The prefetch limit bounds how many unacknowledged
// events this consumer holds concurrently.
func Consume(ctx context.Context, conn *amqp.Connection, cfg ConsumerConfig, handler HandlerFunc) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	for _, binding := range cfg.Bindings {
		if err := ch.QueueBind(cfg.Queue, binding, cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return err
		}
		commonlog.Infof("event=mq_consumer action=bind queue=%s exchange=%s pattern=%s", cfg.Queue, cfg.Exchange, binding)
	}

	deliveries, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()

	go func() {
		for d := range deliveries {
			if err := handler(ctx, d.RoutingKey, d.Body); err != nil {
				commonlog.Errorf("event=mq_consumer action=handle status=failed queue=%s routing_key=%s error=%v", cfg.Queue, d.RoutingKey, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
		commonlog.Infof("event=mq_consumer action=stopped queue=%s", cfg.Queue)
	}()

	commonlog.Infof("event=mq_consumer action=started queue=%s prefetch=%d", cfg.Queue, prefetch)
	return nil
}
