package service

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	chatservice "arena_realtime/server/chat/service"
	"arena_realtime/server/common/infra/mq"
)

const (
	notificationQueue    = "notification-service.queue"
	notificationPrefetch = 10
)

// notificationBindings covers every event family that produces a user-facing
// notification.
var notificationBindings = []string{
	"post.*",
	"comment.*",
	"friend.*",
	"team.*",
	"report.*",
}

// NotificationConsumer binds the durable notification queue and delegates
// each delivery to the notification service.
type NotificationConsumer struct {
	notifications *chatservice.NotificationService
}

func NewNotificationConsumer(notifications *chatservice.NotificationService) *NotificationConsumer {
	return &NotificationConsumer{notifications: notifications}
}

func (c *NotificationConsumer) Start(ctx context.Context, conn *amqp.Connection) error {
	return mq.Consume(ctx, conn, mq.ConsumerConfig{
		Exchange: mq.EventsExchange,
		Queue:    notificationQueue,
		Bindings: notificationBindings,
		Prefetch: notificationPrefetch,
	}, c.notifications.HandleEvent)
}
