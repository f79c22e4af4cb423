package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collab-service/internal/config"
	"collab-service/internal/database"
	"collab-service/internal/handler"
	"collab-service/internal/middleware"
	"collab-service/internal/realtime"
	"collab-service/internal/service"
)

// Deps carries the composed collaborators the router wires into handlers.
// Optional entries may be nil; the affected routes then answer 501.
type Deps struct {
	Manager       *realtime.Manager
	Validator     middleware.TokenValidator
	Redis         *database.Redis
	Notifications *service.NotificationService
	Activity      *service.ActivityService
}

func Setup(cfg *config.Config, deps Deps, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS("*"))
	r.Use(middleware.MetricsMiddleware())

	wsHandler := handler.NewWSHandler(deps.Manager, logger)
	adminHandler := handler.NewAdminHandler(deps.Manager, deps.Activity, deps.Redis, logger)
	healthHandler := handler.NewHealthHandler(deps.Manager, deps.Redis)

	// Health endpoints (no auth)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", middleware.MetricsHandler())

	// API routes with base path
	api := r.Group(cfg.Server.BasePath)
	{
		api.GET("/health", healthHandler.Health)
		api.GET("/ready", healthHandler.Ready)

		// WebSocket endpoint; the token travels as a query parameter
		api.GET("/ws", wsHandler.HandleWebSocket)

		// Authenticated routes
		authenticated := api.Group("")
		authenticated.Use(middleware.AuthMiddleware(deps.Validator))
		{
			authenticated.GET("/stats", adminHandler.Stats)
			authenticated.GET("/rooms", adminHandler.Rooms)
			authenticated.GET("/rooms/:roomId/users", adminHandler.RoomUsers)
			authenticated.GET("/rooms/:roomId/activity", adminHandler.RoomActivity)
			authenticated.GET("/presence/online", adminHandler.OnlineUsers)
			authenticated.POST("/rooms/:roomId/broadcast", adminHandler.BroadcastToRoom)
			authenticated.POST("/users/:userId/notify", adminHandler.NotifyUser)
			authenticated.DELETE("/connections/:connectionId", adminHandler.ForceDisconnect)
			authenticated.POST("/shutdown", adminHandler.Shutdown)

			if deps.Notifications != nil {
				notificationHandler := handler.NewNotificationHandler(deps.Notifications, logger)
				authenticated.GET("/notifications", notificationHandler.List)
				authenticated.GET("/notifications/unread", notificationHandler.UnreadCount)
				authenticated.POST("/notifications", notificationHandler.Publish)
				authenticated.PUT("/notifications/:notificationId/read", notificationHandler.MarkRead)
			}
		}
	}

	return r
}
