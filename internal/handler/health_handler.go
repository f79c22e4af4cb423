package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"collab-service/internal/database"
	"collab-service/internal/realtime"
)

type HealthHandler struct {
	manager *realtime.Manager
	redis   *database.Redis
}

func NewHealthHandler(manager *realtime.Manager, redis *database.Redis) *HealthHandler {
	return &HealthHandler{
		manager: manager,
		redis:   redis,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	status := h.manager.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "collab-service",
		"manager_active": status.ManagerActive,
		"connections":    status.Connections,
		"error_rate":     status.ErrorRate,
	})
}

// Ready reports readiness for traffic. The realtime core works without the
// database, so only a draining manager makes the pod not ready; dependency
// states are reported informationally.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.manager.ShuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "shutting down",
		})
		return
	}

	deps := gin.H{
		"database": database.IsConnected(),
	}
	if h.redis != nil {
		deps["redis"] = h.redis.Ping(ctx) == nil
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"dependencies": deps,
	})
}
