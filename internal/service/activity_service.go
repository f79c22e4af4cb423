package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collab-service/internal/domain"
	"collab-service/internal/repository"
)

// RoomEventPublisher is the external event mirror (Redis pub/sub in
// production).
type RoomEventPublisher interface {
	PublishRoomEvent(ctx context.Context, roomID string, payload []byte)
}

// ActivityService sits on the room event relay path: every room event goes to
// the external publisher, and join/leave events additionally land in the
// audit table for usage reporting.
type ActivityService struct {
	repo      *repository.RoomActivityRepository
	publisher RoomEventPublisher // optional
	logger    *zap.Logger
}

func NewActivityService(repo *repository.RoomActivityRepository, publisher RoomEventPublisher, logger *zap.Logger) *ActivityService {
	return &ActivityService{repo: repo, publisher: publisher, logger: logger}
}

type roomEventEnvelope struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// PublishRoomEvent implements realtime.EventRelay.
func (s *ActivityService) PublishRoomEvent(ctx context.Context, roomID string, payload []byte) {
	if s.publisher != nil {
		s.publisher.PublishRoomEvent(ctx, roomID, payload)
	}

	var event roomEventEnvelope
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}
	if event.Type != "user_joined" && event.Type != "user_left" {
		return
	}
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return
	}

	activity := &domain.RoomActivity{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserID:    userID,
		Username:  event.Username,
		EventType: event.Type,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Record(ctx, activity); err != nil {
		s.logger.Warn("failed to record room activity",
			zap.String("roomId", roomID), zap.Error(err))
	}
}

// RecentForRoom lists the latest audit rows for one room.
func (s *ActivityService) RecentForRoom(ctx context.Context, roomID string, limit int) ([]domain.RoomActivity, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.RecentForRoom(ctx, roomID, limit)
}
