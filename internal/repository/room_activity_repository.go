package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"collab-service/internal/domain"
)

type RoomActivityRepository struct {
	db *gorm.DB
}

func NewRoomActivityRepository(db *gorm.DB) *RoomActivityRepository {
	return &RoomActivityRepository{db: db}
}

func (r *RoomActivityRepository) Record(ctx context.Context, activity *domain.RoomActivity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *RoomActivityRepository) RecentForRoom(ctx context.Context, roomID string, limit int) ([]domain.RoomActivity, error) {
	var activities []domain.RoomActivity
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

func (r *RoomActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.RoomActivity{})
	return result.RowsAffected, result.Error
}
