package main

import (
	"context"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sentinal-relay/config"
	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/handler"
	"sentinal-relay/internal/queue"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/registry"
	"sentinal-relay/internal/repository"
	"sentinal-relay/internal/repository/memory"
	"sentinal-relay/internal/server"
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/websocket"
	"sentinal-relay/pkg/database"
	"sentinal-relay/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	appLogger := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(appLogger)
	defer appLogger.Sync()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("relay exited", zap.Error(err))
		appLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, l *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		users    repository.UserRepository
		convs    repository.ConversationRepository
		messages repository.MessageRepository
		checks   []server.HealthCheck
	)

	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		l.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		users, convs, messages = store.Users(), store.Conversations(), store.Messages()
	default:
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		applied, err := database.MigrateUp(ctx, db)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			l.Info("applied migrations", zap.Strings("versions", applied))
		}
		users = repository.NewUserRepository(db)
		convs = repository.NewConversationRepository(db)
		messages = repository.NewMessageRepository(db)
		checks = append(checks, server.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		}})
	}

	var (
		redisClient *goredis.Client
		mirror      services.PresenceMirror
		limiter     *redis.RateLimiter
		msgLimiter  services.RateLimiter
		offline     queue.Queue
	)
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redis.Ping(ctx, redisClient); err != nil {
			return err
		}
		checks = append(checks, server.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redis.Ping(ctx, redisClient)
		}})

		cache := redis.NewCacheStore(redisClient, redis.CacheConfig{
			KeyTTL:          cfg.KeyCacheTTL,
			ParticipantsTTL: cfg.KeyCacheTTL,
		})
		users = redis.NewCachedUserRepository(users, cache)
		convs = redis.NewCachedConversationRepository(convs, cache)

		presence := redis.NewPresenceStore(redisClient, redis.NewPublisher(redisClient), 0)
		// nobody is connected to a process that just started
		if err := presence.Reset(ctx); err != nil {
			l.Warn("presence reset failed", zap.Error(err))
		}
		mirror = presence

		rl := redis.DefaultRateLimitConfig()
		rl.MessageLimit = cfg.RateLimitMessages
		rl.CallLimit = cfg.RateLimitCalls
		limiter = redis.NewRateLimiter(redisClient, rl)
		msgLimiter = limiter
	} else {
		l.Info("redis disabled, presence mirror and shared rate limits are off")
	}

	queueOpts := queue.Options{MaxPerUser: cfg.OfflineQueueMaxPerUser, TTL: cfg.OfflineQueueTTL}
	switch {
	case cfg.OfflineQueueBackend == config.QueueBackendRedis && redisClient != nil:
		offline = redis.NewOfflineQueue(redisClient, queueOpts)
	default:
		if cfg.OfflineQueueBackend == config.QueueBackendRedis {
			l.Warn("redis offline queue requested without redis, falling back to memory")
		}
		offline = queue.NewMemoryQueue(queueOpts)
	}

	recorder := services.NewRecorder(messages, users, mirror, cfg.RecorderWorkers, l)
	hub := engine.NewHub(registry.New(), offline, recorder, l, engine.Options{
		MaxConnectionsPerUser: cfg.WSMaxConnectionsPerUser,
	})
	recorder.SetNotifier(hub)

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()
	recorder.Start()

	auth := services.NewAuthService(users, cfg)
	crypto := services.NewEncryptionService(users, cfg.E2EAutoKeygen, l)
	delivery := services.NewDeliveryService(convs, messages, users, crypto, hub, recorder, msgLimiter, l)
	signaling := services.NewSignalingService(convs, hub, msgLimiter, l)
	gateway := services.NewGateway(hub, users, convs, crypto, delivery, signaling, l)
	conversations := services.NewConversationService(convs, users, hub, l)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:          handler.NewAuthHandler(auth),
		Messages:      handler.NewMessageHandler(delivery),
		Conversations: handler.NewConversationHandler(conversations),
		WebSocket: websocket.NewHandler(gateway, auth, websocket.HandlerOptions{
			// room for the reconnect backlog on top of live traffic
			SendBuffer: cfg.WSSendBuffer + cfg.OfflineQueueMaxPerUser + services.MissedLimit,
			Limits:     websocket.DefaultFrameLimits,
		}, l),
	}, server.RouteDeps{
		Auth:        auth,
		AuthLimiter: limiter,
		Stats:       hub.Stats,
		Checks:      checks,
	})

	err := srv.Start(ctx)

	// stop accepting work before the recorder drains
	cancel()
	<-hubDone
	recorder.Stop()
	return err
}
