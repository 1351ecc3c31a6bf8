package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"arena_realtime/server/chat/repository"
	chatservice "arena_realtime/server/chat/service"
	"arena_realtime/server/common/infra/cache"
	"arena_realtime/server/common/infra/db"
	"arena_realtime/server/common/infra/mq"
	"arena_realtime/server/notifier/service"
	"arena_realtime/server/realtime/presence"
	"arena_realtime/server/realtime/relay"
)

type Server struct {
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	MQConn *amqp.Connection

	notifications *service.NotificationConsumer
	messages      *service.MessageConsumer
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := cache.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	tracker := presence.NewTracker(redisClient)
	relayBridge := relay.New(redisClient)

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)

	notificationSvc := chatservice.NewNotificationService(notifRepo, userRepo, tracker, relayBridge)

	return &Server{
		Pool:          pool,
		Redis:         redisClient,
		MQConn:        mqConn,
		notifications: service.NewNotificationConsumer(notificationSvc),
		messages:      service.NewMessageConsumer(msgRepo, convRepo, userRepo, tracker, relayBridge),
	}, nil
}

// Start launches both consumers; they run until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.notifications.Start(ctx, s.MQConn); err != nil {
		return fmt.Errorf("start notification consumer: %w", err)
	}
	if err := s.messages.Start(ctx, s.MQConn); err != nil {
		return fmt.Errorf("start message consumer: %w", err)
	}
	return nil
}

func (s *Server) Shutdown() {
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}
