package realtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentityVerifier validates a connection attempt's credentials. Used exactly
// once per connection, during the authenticating state.
type IdentityVerifier interface {
	Verify(ctx context.Context, credentials string) (*Identity, error)
}

// PresenceMirror reflects user-level online state into an external store
// (Redis keys in production). Optional; nil-safe at every call site.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID uuid.UUID)
	SetOffline(ctx context.Context, userID uuid.UUID)
}

// ManagerConfig bounds the manager's time-sensitive operations.
type ManagerConfig struct {
	AuthTimeout  time.Duration
	DrainTimeout time.Duration
}

// Stats is the aggregate snapshot served by the management surface.
type Stats struct {
	Active           bool    `json:"active"`
	TotalConnections int     `json:"total_connections"`
	TotalRooms       int     `json:"total_rooms"`
	MessagesReceived uint64  `json:"messages_received"`
	MessagesSent     uint64  `json:"messages_sent"`
	Errors           uint64  `json:"errors"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// HealthStatus is the health-probe view of the manager.
type HealthStatus struct {
	ManagerActive bool    `json:"manager_active"`
	Connections   int     `json:"connections"`
	ErrorRate     float64 `json:"error_rate"`
}

// NotificationEvent is an unsolicited message fanned out to subscribers or to
// one user's connections.
type NotificationEvent struct {
	ID           string                 `json:"id,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Module       string                 `json:"module,omitempty"`
	Priority     string                 `json:"priority,omitempty"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	TargetUserID *uuid.UUID             `json:"-"`
}

// Manager orchestrates the connection lifecycle:
// connecting -> authenticating -> active -> closing -> closed.
// It composes the registry, room directory, presence tracker, broadcaster and
// message router, and is the only facade the transport layer talks to.
type Manager struct {
	registry    *Registry
	rooms       *Directory
	tracker     *Tracker
	broadcaster *Broadcaster
	router      *Router

	verifier IdentityVerifier
	mirror   PresenceMirror // optional
	relay    EventRelay     // optional

	cfg    ManagerConfig
	logger *zap.Logger

	startedAt        time.Time
	messagesReceived atomic.Uint64
	errorsTotal      atomic.Uint64
	active           atomic.Bool
	shuttingDown     atomic.Bool
}

func NewManager(verifier IdentityVerifier, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}

	registry := NewRegistry()
	rooms := NewDirectory()
	broadcaster := NewBroadcaster(registry, rooms, logger)
	tracker := NewTracker(registry, rooms, broadcaster, logger)
	router := NewRouter(registry, rooms, tracker, broadcaster, logger)

	m := &Manager{
		registry:    registry,
		rooms:       rooms,
		tracker:     tracker,
		broadcaster: broadcaster,
		router:      router,
		verifier:    verifier,
		cfg:         cfg,
		logger:      logger,
		startedAt:   time.Now(),
	}
	m.active.Store(true)

	// A dead transport discovered mid-broadcast is cleaned up exactly like a
	// disconnect, off the broadcasting goroutine.
	broadcaster.SetFailureHandler(func(connID string) {
		m.Disconnect(connID, "send failure")
	})

	return m
}

// Router exposes the dispatcher for wiring optional collaborators
// (notification sink, AI streamer, event relay) at the composition root.
func (m *Manager) Router() *Router { return m.router }

// SetPresenceMirror wires the optional external presence store.
func (m *Manager) SetPresenceMirror(mirror PresenceMirror) { m.mirror = mirror }

// SetEventRelay wires the optional external event mirror for room events
// emitted by the manager itself (user_left on disconnect).
func (m *Manager) SetEventRelay(relay EventRelay) {
	m.relay = relay
	m.router.SetEventRelay(relay)
}

// Connect runs the accept path: authenticate, register, promote to active.
// During a drain new attempts are rejected immediately rather than accepted
// and dropped.
func (m *Manager) Connect(ctx context.Context, credentials string, sender Sender) (*Connection, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	authCtx, cancel := context.WithTimeout(ctx, m.cfg.AuthTimeout)
	defer cancel()

	identity, err := m.verifier.Verify(authCtx, credentials)
	if err != nil {
		// Nothing was registered; this failure affects no other connection.
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	c := NewConnection(*identity, sender)
	if err := m.registry.Register(c); err != nil {
		c.setState(StateClosed)
		return nil, err
	}
	c.setState(StateActive)

	if m.mirror != nil {
		m.mirror.SetOnline(ctx, c.UserID)
	}

	m.logger.Info("connection established",
		zap.String("connectionId", c.ID),
		zap.String("userId", c.UserID.String()),
		zap.String("username", c.Username),
		zap.Int("totalConnections", m.registry.Count()))

	return c, nil
}

// HandleMessage processes one inbound frame in the connection's arrival
// order. Protocol problems are answered with an error envelope to the sender
// only; the connection stays active.
func (m *Manager) HandleMessage(ctx context.Context, connID string, raw []byte) {
	c, ok := m.registry.Get(connID)
	if !ok {
		m.logger.Debug("message from unknown connection dropped", zap.String("connectionId", connID))
		return
	}
	m.messagesReceived.Add(1)

	handled, perr := m.router.Dispatch(ctx, c, raw)
	if !handled && perr != nil {
		m.errorsTotal.Add(1)
		if err := c.Send(encodeError(perr, perr.RequestID)); err != nil {
			m.logger.Debug("failed to deliver error envelope", zap.String("connectionId", connID), zap.Error(err))
		}
	}
}

// Disconnect transitions a connection through closing -> closed: unwind every
// room membership, announce user_left where the user fully left, drop the
// registration and close the transport. Idempotent; a second call for the
// same id is a no-op and emits nothing.
func (m *Manager) Disconnect(connID, reason string) bool {
	c := m.registry.Unregister(connID)
	if c == nil {
		return false
	}
	c.setState(StateClosing)

	departures := m.rooms.LeaveAll(c)
	for _, dep := range departures {
		if !dep.FullyLeft {
			continue
		}
		event := userLeftEvent{
			Envelope:   newEnvelope(TypeUserLeft),
			RoomID:     dep.RoomID,
			UserID:     c.UserID.String(),
			Username:   c.Username,
			TotalUsers: dep.UserCount,
		}
		payload := encode(event)
		m.broadcaster.ToRoom(dep.RoomID, payload, "")
		if m.relay != nil {
			m.relay.PublishRoomEvent(context.Background(), dep.RoomID, payload)
		}
	}

	if m.mirror != nil && len(m.registry.ConnectionsOfUser(c.UserID)) == 0 {
		m.mirror.SetOffline(context.Background(), c.UserID)
	}

	c.setState(StateClosed)
	if err := c.sender.Close(); err != nil {
		m.logger.Debug("transport close failed", zap.String("connectionId", connID), zap.Error(err))
	}

	m.logger.Info("connection closed",
		zap.String("connectionId", connID),
		zap.String("userId", c.UserID.String()),
		zap.String("reason", reason),
		zap.Int("roomsLeft", len(departures)))
	return true
}

// ForceDisconnect is the management-surface disconnect.
func (m *Manager) ForceDisconnect(connID string) bool {
	return m.Disconnect(connID, "force disconnect")
}

type shutdownNotice struct {
	Envelope
	Reason string `json:"reason"`
}

// Shutdown drains every connection through the normal closing path so
// observers still see user_left events, bounded by the context (callers pass
// the configured drain timeout). Remaining connections after the deadline are
// force-closed without further ceremony.
func (m *Manager) Shutdown(ctx context.Context) {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	m.logger.Info("draining realtime connections", zap.Int("connections", m.registry.Count()))

	notice := encode(shutdownNotice{Envelope: newEnvelope(TypeServerShutdown), Reason: "server is shutting down"})
	for _, c := range m.registry.All() {
		if err := c.Send(notice); err != nil {
			m.logger.Debug("shutdown notice not delivered", zap.String("connectionId", c.ID))
		}
	}

	for _, c := range m.registry.All() {
		select {
		case <-ctx.Done():
			// Drain budget exhausted; close the rest abruptly.
			m.logger.Warn("drain timeout exceeded, force closing remaining connections",
				zap.Int("remaining", m.registry.Count()))
			for _, rest := range m.registry.All() {
				rest.setState(StateClosed)
				_ = rest.sender.Close()
			}
			m.finishShutdown()
			return
		default:
		}
		m.Disconnect(c.ID, "server shutdown")
	}
	m.finishShutdown()
}

// Drain runs Shutdown bounded by the configured drain timeout.
func (m *Manager) Drain() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DrainTimeout)
	defer cancel()
	m.Shutdown(ctx)
}

func (m *Manager) finishShutdown() {
	m.registry.Clear()
	m.rooms.Clear()
	m.active.Store(false)
	m.logger.Info("realtime manager stopped")
}

// ShuttingDown reports whether a drain has started; the transport layer uses
// it to reject upgrade requests with 503.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// SweepIdle force-disconnects connections whose last heartbeat is older than
// threshold. Returns the number of connections closed.
func (m *Manager) SweepIdle(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)
	closed := 0
	for _, c := range m.registry.All() {
		if c.LastHeartbeat().Before(cutoff) {
			if m.Disconnect(c.ID, "heartbeat timeout") {
				closed++
			}
		}
	}
	return closed
}

// EvictIdleRooms removes rooms that have been empty longer than maxIdle.
func (m *Manager) EvictIdleRooms(maxIdle time.Duration) int {
	return m.rooms.EvictIdle(maxIdle)
}

type notificationFrame struct {
	Envelope
	Notification NotificationEvent `json:"notification"`
}

// PublishNotification fans an unsolicited notification out to its target:
// all of one user's connections when TargetUserID is set, otherwise every
// connection whose subscription filter matches. Returns confirmed dispatches.
func (m *Manager) PublishNotification(event NotificationEvent) int {
	payload := encode(notificationFrame{Envelope: newEnvelope(TypeNotification), Notification: event})
	if event.TargetUserID != nil {
		return m.broadcaster.ToUser(*event.TargetUserID, payload)
	}
	return m.broadcaster.ToSubscribers(payload, event.Category, event.Module, event.Priority)
}

// BroadcastToRoom is the management-surface room broadcast; the message body
// is arbitrary and wrapped in the standard envelope.
func (m *Manager) BroadcastToRoom(roomID, messageType string, fields map[string]interface{}) int {
	frame := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		frame[k] = v
	}
	frame["type"] = messageType
	frame["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return m.broadcaster.ToRoom(roomID, encode(frame), "")
}

// NotifyUser sends a notification to every connection of one user.
func (m *Manager) NotifyUser(userID uuid.UUID, event NotificationEvent) int {
	event.TargetUserID = &userID
	return m.PublishNotification(event)
}

// TouchHeartbeat records transport-level liveness (websocket pong frames).
func (m *Manager) TouchHeartbeat(connID string) {
	m.registry.TouchHeartbeat(connID)
}

// RoomsSummary lists per-room stats for the management surface.
func (m *Manager) RoomsSummary() []RoomStats {
	return m.rooms.Summary()
}

// RoomUsers returns the live presence snapshot of one room.
func (m *Manager) RoomUsers(roomID string) (RoomSnapshot, bool) {
	return m.rooms.Snapshot(roomID)
}

// ConnectionCount reports the registry's live connection count.
func (m *Manager) ConnectionCount() int {
	return m.registry.Count()
}

// Stats snapshots the process-wide counters. They are observability aids;
// approximate consistency across counters is acceptable.
func (m *Manager) Stats() Stats {
	return Stats{
		Active:           m.active.Load(),
		TotalConnections: m.registry.Count(),
		TotalRooms:       m.rooms.RoomCount(),
		MessagesReceived: m.messagesReceived.Load(),
		MessagesSent:     m.broadcaster.SentTotal(),
		Errors:           m.errorsTotal.Load(),
		UptimeSeconds:    time.Since(m.startedAt).Seconds(),
	}
}

// Health reports the probe view used by the HTTP health endpoint.
func (m *Manager) Health() HealthStatus {
	received := m.messagesReceived.Load()
	rate := 0.0
	if received > 0 {
		rate = float64(m.errorsTotal.Load()) / float64(received)
	}
	return HealthStatus{
		ManagerActive: m.active.Load(),
		Connections:   m.registry.Count(),
		ErrorRate:     rate,
	}
}
