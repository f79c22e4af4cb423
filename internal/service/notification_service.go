package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-service/internal/domain"
	"collab-service/internal/realtime"
	"collab-service/internal/repository"
)

// Publisher is the realtime fan-out surface this service pushes through.
type Publisher interface {
	PublishNotification(event realtime.NotificationEvent) int
}

// NotificationService persists notifications and fans them out to connected
// subscribers. It also implements the router's NotificationSink so read
// receipts arriving over the websocket land in the database.
type NotificationService struct {
	repo      *repository.NotificationRepository
	publisher Publisher
	logger    *zap.Logger
}

func NewNotificationService(
	repo *repository.NotificationRepository,
	publisher Publisher,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// PublishRequest is the management-surface notification payload.
type PublishRequest struct {
	TargetUserID *uuid.UUID             `json:"target_user_id,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Module       string                 `json:"module,omitempty"`
	Priority     string                 `json:"priority,omitempty"`
	Title        string                 `json:"title" binding:"required"`
	Body         string                 `json:"body,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Publish stores the notification and pushes it to live connections. The
// returned count is the number of connections reached right now; offline
// users find the stored row later.
func (s *NotificationService) Publish(ctx context.Context, req PublishRequest) (*domain.Notification, int, error) {
	priority := domain.NotificationPriority(req.Priority)
	if priority == "" {
		priority = domain.PriorityNormal
	}

	notification := &domain.Notification{
		ID:           uuid.New(),
		TargetUserID: req.TargetUserID,
		Category:     req.Category,
		Module:       req.Module,
		Priority:     priority,
		Title:        req.Title,
		Body:         req.Body,
		CreatedAt:    time.Now(),
	}
	if req.Data != nil {
		raw, err := json.Marshal(req.Data)
		if err == nil {
			notification.Data = raw
		}
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, 0, err
	}

	delivered := s.publisher.PublishNotification(realtime.NotificationEvent{
		ID:           notification.ID.String(),
		Category:     notification.Category,
		Module:       notification.Module,
		Priority:     string(notification.Priority),
		Title:        notification.Title,
		Body:         notification.Body,
		Data:         req.Data,
		TargetUserID: notification.TargetUserID,
	})

	s.logger.Info("notification published",
		zap.String("id", notification.ID.String()),
		zap.String("category", notification.Category),
		zap.Int("delivered", delivered),
	)

	return notification, delivered, nil
}

// MarkRead implements realtime.NotificationSink.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	_, err := s.repo.MarkAsRead(ctx, notificationID, userID)
	return err
}

func (s *NotificationService) ListForUser(ctx context.Context, userID uuid.UUID, page, limit int, unreadOnly bool) ([]domain.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.ListForUser(ctx, userID, page, limit, unreadOnly)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// PruneRead deletes read notifications older than the retention window.
func (s *NotificationService) PruneRead(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
}
