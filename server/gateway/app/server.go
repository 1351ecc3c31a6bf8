package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"arena_realtime/server/chat/repository"
	chatservice "arena_realtime/server/chat/service"
	commonauth "arena_realtime/server/common/auth"
	"arena_realtime/server/common/infra/cache"
	"arena_realtime/server/common/infra/db"
	"arena_realtime/server/common/infra/mq"
	"arena_realtime/server/common/infra/object"
	"arena_realtime/server/gateway/api"
	gwservice "arena_realtime/server/gateway/service"
	"arena_realtime/server/realtime/presence"
	"arena_realtime/server/realtime/relay"
)

type Server struct {
	HTTPServer *http.Server
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *mq.Publisher
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
	publisher, err := mq.NewPublisher(mqConn)
	if err != nil {
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}

	minioClient, err := object.NewClient(object.ClientConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, minioClient, cfg.MediaBucket, cfg.MinIORegion); err != nil {
		return nil, fmt.Errorf("ensure media bucket: %w", err)
	}

	tracker := presence.NewTracker(redisClient)
	relayBridge := relay.New(redisClient)

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)

	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	userSvc := chatservice.NewUserService(userRepo)
	messageSvc := chatservice.NewMessageService(convRepo, msgRepo, userRepo, tracker, publisher)
	notificationSvc := chatservice.NewNotificationService(notifRepo, userRepo, tracker, relayBridge)
	mediaSvc := chatservice.NewMediaService(minioClient, cfg.MediaBucket, cfg.MediaPublicURL)

	subCfg := relay.DefaultSubscribeConfig()
	if cfg.RelayRetryAttempts > 0 {
		subCfg.MaxAttempts = cfg.RelayRetryAttempts
	}
	if cfg.RelayRetryBase > 0 {
		subCfg.BaseDelay = cfg.RelayRetryBase
	}
	if cfg.RelayRetryMax > 0 {
		subCfg.MaxDelay = cfg.RelayRetryMax
	}
	registry := gwservice.NewRegistry(tracker)
	realtimeSvc := gwservice.NewRealtimeService(registry, relayBridge, subCfg, messageSvc, userSvc, authSvc, publisher)

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := api.NewHandler(authSvc, userSvc, messageSvc, notificationSvc, mediaSvc, realtimeSvc, registry, tracker)
	r := gin.Default()
	h.Register(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		Pool:       pool,
		Redis:      redisClient,
		MQConn:     mqConn,
		Publisher:  publisher,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
