package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-service/internal/service"
)

// NotificationHandler serves the stored-notification REST surface: what the
// realtime channel delivers live, this lets clients catch up on after a
// reconnect.
type NotificationHandler struct {
	notifications *service.NotificationService
	logger        *zap.Logger
}

func NewNotificationHandler(notifications *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	unreadOnly := c.Query("unread_only") == "true"

	notifications, total, err := h.notifications.ListForUser(c.Request.Context(), userID, page, limit, unreadOnly)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Failed to list notifications"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"notifications": notifications,
			"total":         total,
			"page":          page,
			"limit":         limit,
		},
	})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Failed to count notifications"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"unread": count}})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	notificationID, err := uuid.Parse(c.Param("notificationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_REQUEST", "message": "Invalid notification ID"},
		})
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), notificationID, userID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   gin.H{"code": "NOT_FOUND", "message": "Notification not found"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Publish accepts a notification from a sibling service, stores it and fans
// it out to live subscribers.
func (h *NotificationHandler) Publish(c *gin.Context) {
	var req service.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "INVALID_REQUEST", "message": err.Error()},
		})
		return
	}

	notification, delivered, err := h.notifications.Publish(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("failed to publish notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Failed to publish notification"},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    gin.H{"notification": notification, "delivered": delivered},
	})
}

// requestUserID pulls the authenticated user id set by the auth middleware.
func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "UNAUTHORIZED", "message": "Missing user context"},
		})
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "UNAUTHORIZED", "message": "Invalid user context"},
		})
		return uuid.Nil, false
	}
	return userID, true
}
