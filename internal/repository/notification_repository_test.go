package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"collab-service/internal/domain"
)

func setupNotificationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	// Create notifications table for SQLite compatibility
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

	return db
}

func newNotification(target *uuid.UUID, title string) *domain.Notification {
	return &domain.Notification{
		ID:           uuid.New(),
		TargetUserID: target,
		Category:     "workspace",
		Module:       "sheets",
		Priority:     domain.PriorityNormal,
		Title:        title,
	}
}

func TestNotificationRepository_CreateAndGet(t *testing.T) {
	db := setupNotificationTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	target := uuid.New()
	n := newNotification(&target, "Sheet shared with you")
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sheet shared with you", got.Title)
	assert.False(t, got.IsRead)
	require.NotNil(t, got.TargetUserID)
	assert.Equal(t, target, *got.TargetUserID)
	// Timestamps are written by the application, not a column default.
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestNotificationRepository_ListForUserIncludesBroadcasts(t *testing.T) {
	db := setupNotificationTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	require.NoError(t, repo.Create(ctx, newNotification(&alice, "for alice")))
	require.NoError(t, repo.Create(ctx, newNotification(&bob, "for bob")))
	require.NoError(t, repo.Create(ctx, newNotification(nil, "for everyone")))

	list, total, err := repo.ListForUser(ctx, alice, 1, 10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
	for _, n := range list {
		assert.NotEqual(t, "for bob", n.Title)
	}
}

func TestNotificationRepository_MarkAsRead(t *testing.T) {
	db := setupNotificationTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	n := newNotification(&alice, "mention")
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.MarkAsRead(ctx, n.ID, alice)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.NotNil(t, got.ReadAt)

	count, err := repo.UnreadCount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestNotificationRepository_MarkAsReadWrongUser(t *testing.T) {
	db := setupNotificationTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	n := newNotification(&alice, "private")
	require.NoError(t, repo.Create(ctx, n))

	_, err := repo.MarkAsRead(ctx, n.ID, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestNotificationRepository_DeleteOlderThanKeepsUnread(t *testing.T) {
	db := setupNotificationTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	alice := uuid.New()
	old := newNotification(&alice, "old and read")
	require.NoError(t, repo.Create(ctx, old))
	_, err := repo.MarkAsRead(ctx, old.ID, alice)
	require.NoError(t, err)
	db.Model(&domain.Notification{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-48*time.Hour))

	oldUnread := newNotification(&alice, "old but unread")
	require.NoError(t, repo.Create(ctx, oldUnread))
	db.Model(&domain.Notification{}).Where("id = ?", oldUnread.ID).
		Update("created_at", time.Now().Add(-48*time.Hour))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, oldUnread.ID)
	assert.NoError(t, err, "unread notifications survive retention cleanup")
}
