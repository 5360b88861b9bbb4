package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"gameverse-api/cache"
	"gameverse-api/config"
	"gameverse-api/database"
	"gameverse-api/delivery"
	"gameverse-api/jobs"
	"gameverse-api/logger"
	"gameverse-api/middleware"
	"gameverse-api/realtime"
	"gameverse-api/repositories"
	"gameverse-api/routes"
	"gameverse-api/services"
	"gameverse-api/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		ServiceName:   cfg.Telemetry.ServiceName,
		Environment:   cfg.App.Environment,
		CollectorAddr: cfg.Telemetry.CollectorAddr,
		SampleRatio:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	// Initialize database
	dbLogLevel := gormlogger.Warn
	if cfg.IsDevelopment() {
		dbLogLevel = gormlogger.Info
	}
	db, err := database.Initialize(cfg.Database, dbLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Run migrations
	if err := database.Migrate(db, log); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Seed database with test data (development only)
	if cfg.IsDevelopment() {
		if err := database.SeedData(db, log); err != nil {
			log.Warn("Failed to seed database", zap.Error(err))
		}
	}

	// Cache, optionally backed by Redis
	var (
		redisClient *redis.Client
		store       cache.Store = cache.NewMemoryStore()
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		store = cache.NewRedisStore(redisClient, cfg.App.Name+":")
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// Repositories
	users := repositories.NewUserRepository(db)
	events := repositories.NewEventRepository(db)
	registrations := repositories.NewRegistrationRepository(db)
	notifications := repositories.NewNotificationRepository(db)
	games := repositories.NewGameRepository(db)

	tokens := services.NewTokenService(cfg.JWT)
	hub := realtime.NewHub(tokens, log.Named("realtime"))

	// Delivery channels
	dispatcher := services.NewNotificationDispatcher(services.DispatcherConfig{
		Workers:        cfg.Notification.Workers,
		QueueSize:      cfg.Notification.QueueSize,
		MaxAttempts:    cfg.Notification.MaxAttempts,
		InitialBackoff: cfg.Notification.RetryBackoff,
		DrainTimeout:   shutdownTimeout,
	}, log.Named("dispatcher"), delivery.WithPreferences(hub, users))

	if cfg.SMTP.Enabled {
		dispatcher.AddChannel(delivery.NewEmailChannel(cfg, delivery.NewDialer(cfg.SMTP), users, users))
	}

	var broker *delivery.BrokerChannel
	if cfg.Kafka.Enabled {
		broker, err = delivery.NewBrokerChannel(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.NotificationTopic)
		if err != nil {
			log.Fatal("Failed to create kafka client", zap.Error(err))
		}
		dispatcher.AddChannel(broker)
	}

	// Services
	notifier := services.NewNotificationService(notifications, users, dispatcher, store, log.Named("notifications"))
	notifier.SetUnreadPublisher(hub)
	coordinator := services.NewRegistrationService(db, events, registrations, users, notifier, log.Named("registrations"))
	eventService := services.NewEventService(db, events, registrations, coordinator, notifier, log.Named("events"))
	authService := services.NewAuthService(users, tokens, log.Named("auth"))
	gameService := services.NewGameService(db, games, users, notifier, log.Named("games"))

	var relay *realtime.RedisRelay
	if redisClient != nil {
		relay = realtime.NewRedisRelay(redisClient, hub, cfg.Notification.FailedPushTTL, log.Named("relay"))
		hub.SetRelay(relay)
		relay.Start(ctx)
	}

	dispatcher.Start(ctx)

	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		var replayer jobs.PushReplayer
		if relay != nil {
			replayer = relay
		}
		scheduler = jobs.NewScheduler(*cfg, eventService, notifier, replayer, log.Named("jobs"))
		scheduler.Start(ctx)
	}

	// Set Gin mode based on environment
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestLogger(log.Named("http")),
		middleware.CORS(cfg.App.AllowOrigins),
		middleware.SecurityHeaders(),
		middleware.ErrorHandler(log),
	)

	done := make(chan struct{})
	routes.SetupRoutes(router, cfg, routes.Dependencies{
		DB:            db,
		Tokens:        tokens,
		Auth:          authService,
		Users:         users,
		Events:        eventService,
		Registrations: coordinator,
		Notifications: notifier,
		Games:         gameService,
		Hub:           hub,
		Done:          done,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info("Starting GameVerse API server",
			zap.String("port", cfg.Server.Port),
			zap.String("environment", cfg.App.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	close(done)

	if scheduler != nil {
		scheduler.Stop()
	}
	dispatcher.Stop()
	hub.Close()
	if relay != nil {
		if err := relay.Stop(); err != nil {
			log.Warn("Failed to stop redis relay", zap.Error(err))
		}
	}
	if broker != nil {
		broker.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to flush telemetry", zap.Error(err))
	}

	log.Info("Server exited")
}
