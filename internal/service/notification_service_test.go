package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"collab-service/internal/realtime"
	"collab-service/internal/repository"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	db.Exec(`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		target_user_id TEXT,
		category TEXT,
		module TEXT,
		priority TEXT DEFAULT 'normal',
		title TEXT NOT NULL,
		body TEXT,
		data TEXT,
		is_read INTEGER DEFAULT 0,
		read_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	db.Exec(`CREATE TABLE room_activities (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		event_type TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`)

	return db
}

type fakePublisher struct {
	events []realtime.NotificationEvent
	reach  int
}

func (p *fakePublisher) PublishNotification(event realtime.NotificationEvent) int {
	p.events = append(p.events, event)
	return p.reach
}

func TestNotificationService_PublishPersistsAndFansOut(t *testing.T) {
	db := setupServiceTestDB(t)
	repo := repository.NewNotificationRepository(db)
	publisher := &fakePublisher{reach: 3}
	svc := NewNotificationService(repo, publisher, zap.NewNop())

	target := uuid.New()
	stored, delivered, err := svc.Publish(context.Background(), PublishRequest{
		TargetUserID: &target,
		Category:     "workspace",
		Title:        "Sheet shared",
		Data:         map[string]interface{}{"sheet_id": "s-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	assert.Equal(t, "normal", string(stored.Priority), "missing priority defaults")

	require.Len(t, publisher.events, 1)
	assert.Equal(t, stored.ID.String(), publisher.events[0].ID)
	require.NotNil(t, publisher.events[0].TargetUserID)
	assert.Equal(t, target, *publisher.events[0].TargetUserID)

	// Row is durable for offline readers.
	got, err := repo.GetByID(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sheet shared", got.Title)
}

func TestNotificationService_MarkReadRoundTrip(t *testing.T) {
	db := setupServiceTestDB(t)
	repo := repository.NewNotificationRepository(db)
	svc := NewNotificationService(repo, &fakePublisher{}, zap.NewNop())

	target := uuid.New()
	stored, _, err := svc.Publish(context.Background(), PublishRequest{TargetUserID: &target, Title: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(context.Background(), stored.ID, target))

	count, err := svc.UnreadCount(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestActivityService_RecordsJoinAndLeaveOnly(t *testing.T) {
	db := setupServiceTestDB(t)
	repo := repository.NewRoomActivityRepository(db)
	svc := NewActivityService(repo, nil, zap.NewNop())
	ctx := context.Background()

	userID := uuid.New()
	join := []byte(`{"type":"user_joined","user_id":"` + userID.String() + `","username":"alice"}`)
	cursor := []byte(`{"type":"cursor_moved","user_id":"` + userID.String() + `"}`)
	garbage := []byte(`{broken`)

	svc.PublishRoomEvent(ctx, "doc1", join)
	svc.PublishRoomEvent(ctx, "doc1", cursor)
	svc.PublishRoomEvent(ctx, "doc1", garbage)

	rows, err := svc.RecentForRoom(ctx, "doc1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "user_joined", rows[0].EventType)
	assert.Equal(t, "alice", rows[0].Username)
	assert.False(t, rows[0].CreatedAt.IsZero(), "audit rows carry their event time")
}
