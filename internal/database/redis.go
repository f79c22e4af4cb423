package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"collab-service/internal/config"
)

const presenceTTL = 5 * time.Minute

// Redis mirrors user-level presence and room events into Redis so sibling
// services (and future multi-instance deployments) can observe them. All
// methods are best effort: the realtime core never depends on Redis being up.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(cfg *config.Config, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("host", cfg.Redis.Host), zap.Int("port", cfg.Redis.Port))
	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func presenceKey(userID uuid.UUID) string {
	return "presence:user:" + userID.String()
}

// SetOnline marks the user online with a TTL so a crashed instance cannot
// leave presence keys behind forever.
func (r *Redis) SetOnline(ctx context.Context, userID uuid.UUID) {
	if err := r.client.Set(ctx, presenceKey(userID), "online", presenceTTL).Err(); err != nil {
		r.logger.Warn("failed to mirror online presence", zap.String("userId", userID.String()), zap.Error(err))
	}
}

// SetOffline removes the user's presence key.
func (r *Redis) SetOffline(ctx context.Context, userID uuid.UUID) {
	if err := r.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		r.logger.Warn("failed to clear mirrored presence", zap.String("userId", userID.String()), zap.Error(err))
	}
}

// OnlineUsers lists user ids with a live presence key.
func (r *Redis) OnlineUsers(ctx context.Context) ([]string, error) {
	keys, err := r.client.Keys(ctx, "presence:user:*").Result()
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) == 3 {
			userIDs = append(userIDs, parts[2])
		}
	}
	return userIDs, nil
}

// PublishRoomEvent publishes a room event to the room's channel. This service
// only publishes; subscribers are external consumers.
func (r *Redis) PublishRoomEvent(ctx context.Context, roomID string, payload []byte) {
	channel := "room:" + roomID
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		r.logger.Warn("failed to publish room event", zap.String("roomId", roomID), zap.Error(err))
	}
}
