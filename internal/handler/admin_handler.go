package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-service/internal/database"
	"collab-service/internal/middleware"
	"collab-service/internal/realtime"
	"collab-service/internal/service"
)

// AdminHandler is the REST management surface over the realtime manager.
type AdminHandler struct {
	manager  *realtime.Manager
	activity *service.ActivityService // optional
	presence *database.Redis          // optional
	logger   *zap.Logger
}

func NewAdminHandler(manager *realtime.Manager, activity *service.ActivityService, presence *database.Redis, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{manager: manager, activity: activity, presence: presence, logger: logger}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats := h.manager.Stats()
	middleware.SetActiveRooms(float64(stats.TotalRooms))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (h *AdminHandler) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.manager.RoomsSummary()})
}

func (h *AdminHandler) RoomUsers(c *gin.Context) {
	roomID := c.Param("roomId")
	snapshot, ok := h.manager.RoomUsers(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   gin.H{"code": "ROOM_NOT_FOUND", "message": "Room not found"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snapshot})
}

func (h *AdminHandler) RoomActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"success": false,
			"error":   gin.H{"code": "NOT_AVAILABLE", "message": "Activity audit is not configured"},
		})
		return
	}

	rows, err := h.activity.RecentForRoom(c.Request.Context(), c.Param("roomId"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Failed to load activity"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

// OnlineUsers lists users with a live presence key in the Redis mirror. This
// covers the whole platform, not just this instance's connections.
func (h *AdminHandler) OnlineUsers(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"success": false,
			"error":   gin.H{"code": "NOT_AVAILABLE", "message": "Presence mirror is not configured"},
		})
		return
	}

	users, err := h.presence.OnlineUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Failed to load online users"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"users": users, "count": len(users)}})
}

func (h *AdminHandler) BroadcastToRoom(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_REQUEST", "message": err.Error()},
		})
		return
	}

	sent := h.manager.BroadcastToRoom(c.Param("roomId"), req.Type, req.Fields)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"delivered": sent}})
}

func (h *AdminHandler) NotifyUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_REQUEST", "message": "Invalid user ID"},
		})
		return
	}

	var event realtime.NotificationEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_REQUEST", "message": err.Error()},
		})
		return
	}

	sent := h.manager.NotifyUser(userID, event)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"delivered": sent}})
}

func (h *AdminHandler) ForceDisconnect(c *gin.Context) {
	connID := c.Param("connectionId")
	if !h.manager.ForceDisconnect(connID) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   gin.H{"code": "CONNECTION_NOT_FOUND", "message": "Connection not found"},
		})
		return
	}
	h.logger.Info("connection force disconnected by admin", zap.String("connectionId", connID))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Shutdown starts a drain in the background so the HTTP response returns
// immediately.
func (h *AdminHandler) Shutdown(c *gin.Context) {
	go h.manager.Drain()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"status": "draining"}})
}
