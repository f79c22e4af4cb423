package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NotificationPriority defines delivery urgency
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification is a persisted copy of a realtime notification so users who
// were offline at publish time can still read it later.
type Notification struct {
	ID           uuid.UUID            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TargetUserID *uuid.UUID           `gorm:"type:uuid;index" json:"target_user_id,omitempty"`
	Category     string               `gorm:"type:varchar(50);index" json:"category"`
	Module       string               `gorm:"type:varchar(50);index" json:"module"`
	Priority     NotificationPriority `gorm:"type:varchar(20);default:'normal'" json:"priority"`
	Title        string               `gorm:"type:varchar(255);not null" json:"title"`
	Body         string               `gorm:"type:text" json:"body"`
	Data         datatypes.JSON       `gorm:"type:jsonb" json:"data,omitempty"`
	IsRead       bool                 `gorm:"default:false;index" json:"is_read"`
	ReadAt       *time.Time           `gorm:"type:timestamptz" json:"read_at,omitempty"`
	CreatedAt    time.Time            `gorm:"type:timestamptz;not null" json:"created_at"`
	UpdatedAt    time.Time            `gorm:"type:timestamptz;not null" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// RoomActivity is an append-only audit row for room lifecycle events,
// queried by the management surface for usage reporting.
type RoomActivity struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RoomID    string    `gorm:"type:varchar(255);not null;index" json:"room_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Username  string    `gorm:"type:varchar(100);not null" json:"username"`
	EventType string    `gorm:"type:varchar(30);not null" json:"event_type"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null" json:"created_at"`
}

func (RoomActivity) TableName() string {
	return "room_activities"
}
