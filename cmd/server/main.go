package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"collab-service/internal/client"
	"collab-service/internal/config"
	"collab-service/internal/database"
	"collab-service/internal/job"
	"collab-service/internal/middleware"
	"collab-service/internal/realtime"
	"collab-service/internal/repository"
	"collab-service/internal/router"
	"collab-service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Collab Service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("base_path", cfg.Server.BasePath),
	)

	// Database is optional at startup; retry in the background on failure so
	// the realtime layer can serve without persistence.
	db, err := database.NewDB(cfg)
	if err != nil {
		logger.Warn("Failed to connect to database on startup, will retry in background", zap.Error(err))
		database.NewAsync(cfg, 5*time.Second)
	} else {
		database.SetDB(db)
		logger.Info("Database connected successfully")
	}

	// Redis mirrors presence and room events; also optional.
	var redisClient *database.Redis
	if rc, err := database.NewRedis(cfg, logger); err != nil {
		logger.Warn("Redis unavailable, presence mirroring disabled", zap.Error(err))
	} else {
		redisClient = rc
	}

	// Identity verification via auth service with local JWT fallback
	identityClient := client.NewIdentityClient(
		cfg.Auth.ServiceURL,
		os.Getenv("USER_SERVICE_URL"),
		cfg.Auth.SecretKey,
		logger,
	)

	// Realtime manager
	manager := realtime.NewManager(identityClient, realtime.ManagerConfig{
		AuthTimeout:  cfg.Realtime.AuthTimeout,
		DrainTimeout: cfg.Realtime.DrainTimeout,
	}, logger)

	if redisClient != nil {
		manager.SetPresenceMirror(redisClient)
	}

	manager.Router().SetMessageObserver(func(t realtime.MessageType, rejected bool) {
		if rejected {
			middleware.RecordProtocolError()
			return
		}
		middleware.RecordMessageRouted(string(t))
	})

	// AI assistant relay
	if cfg.AI.APIKey != "" {
		manager.Router().SetAIStreamer(client.NewAIClient(cfg.AI, logger))
		logger.Info("AI assistant enabled", zap.String("model", cfg.AI.Model))
	} else {
		logger.Warn("OPENAI_API_KEY not set, AI assistant disabled")
	}

	// Persistence-backed collaborators only when the database came up
	var notificationService *service.NotificationService
	var activityService *service.ActivityService
	if gdb := database.GetDB(); gdb != nil {
		notificationRepo := repository.NewNotificationRepository(gdb)
		notificationService = service.NewNotificationService(notificationRepo, manager, logger)
		manager.Router().SetNotificationSink(notificationService)

		activityRepo := repository.NewRoomActivityRepository(gdb)
		var publisher service.RoomEventPublisher
		if redisClient != nil {
			publisher = redisClient
		}
		activityService = service.NewActivityService(activityRepo, publisher, logger)
		manager.SetEventRelay(activityService)
	} else if redisClient != nil {
		manager.SetEventRelay(redisEventRelay{redisClient})
	}

	// Housekeeping jobs
	housekeeping := job.NewHousekeeping(manager, notificationService, *cfg, logger)
	if err := housekeeping.Start(); err != nil {
		logger.Fatal("Failed to schedule housekeeping", zap.Error(err))
	}

	// Router and HTTP server
	r := router.Setup(cfg, router.Deps{
		Manager:       manager,
		Validator:     identityClient,
		Redis:         redisClient,
		Notifications: notificationService,
		Activity:      activityService,
	}, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info("Collab Service started successfully", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Drain websocket connections before closing the HTTP listener so
	// clients see user_left and server_shutdown events.
	manager.Drain()
	housekeeping.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited gracefully")
}

// redisEventRelay publishes room events without the audit trail, used when
// Redis is up but the database is not.
type redisEventRelay struct {
	redis *database.Redis
}

func (r redisEventRelay) PublishRoomEvent(ctx context.Context, roomID string, payload []byte) {
	r.redis.PublishRoomEvent(ctx, roomID, payload)
}

// initLogger initializes the zap logger with the specified level
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
