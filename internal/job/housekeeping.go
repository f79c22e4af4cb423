package job

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"collab-service/internal/config"
	"collab-service/internal/middleware"
	"collab-service/internal/realtime"
	"collab-service/internal/service"
)

const notificationRetention = 30 * 24 * time.Hour

// Housekeeping runs the periodic maintenance tasks: closing connections whose
// heartbeat went stale, evicting long-empty rooms and pruning old
// notification rows.
type Housekeeping struct {
	cron          *cron.Cron
	manager       *realtime.Manager
	notifications *service.NotificationService // optional
	cfg           config.Config
	logger        *zap.Logger
}

func NewHousekeeping(manager *realtime.Manager, notifications *service.NotificationService, cfg config.Config, logger *zap.Logger) *Housekeeping {
	return &Housekeeping{
		cron:          cron.New(),
		manager:       manager,
		notifications: notifications,
		cfg:           cfg,
		logger:        logger,
	}
}

func (h *Housekeeping) Start() error {
	if _, err := h.cron.AddFunc(h.cfg.Housekeeping.SweepSchedule, h.sweep); err != nil {
		return err
	}
	if h.notifications != nil {
		if _, err := h.cron.AddFunc("@daily", h.pruneNotifications); err != nil {
			return err
		}
	}
	h.cron.Start()
	h.logger.Info("housekeeping scheduled",
		zap.String("sweepSchedule", h.cfg.Housekeeping.SweepSchedule),
		zap.Duration("roomMaxIdle", h.cfg.Housekeeping.RoomMaxIdle))
	return nil
}

// Stop waits for a running job to finish.
func (h *Housekeeping) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
}

func (h *Housekeeping) sweep() {
	closed := h.manager.SweepIdle(h.cfg.Realtime.HeartbeatThreshold)
	evicted := h.manager.EvictIdleRooms(h.cfg.Housekeeping.RoomMaxIdle)
	middleware.SetActiveRooms(float64(h.manager.Stats().TotalRooms))

	if closed > 0 || evicted > 0 {
		h.logger.Info("housekeeping sweep",
			zap.Int("connectionsClosed", closed),
			zap.Int("roomsEvicted", evicted))
	}
}

func (h *Housekeeping) pruneNotifications() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := h.notifications.PruneRead(ctx, notificationRetention)
	if err != nil {
		h.logger.Warn("notification retention cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		h.logger.Info("pruned read notifications", zap.Int64("deleted", deleted))
	}
}
