package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(&fakeVerifier{}, ManagerConfig{AuthTimeout: time.Second, DrainTimeout: time.Second}, testLogger())
}

func connect(t *testing.T, m *Manager, credentials string) (*Connection, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	c, err := m.Connect(context.Background(), credentials, sender)
	require.NoError(t, err)
	return c, sender
}

func send(t *testing.T, m *Manager, c *Connection, frame map[string]interface{}) {
	t.Helper()
	m.HandleMessage(context.Background(), c.ID, mustJSON(frame))
}

func TestManager_ConnectRegistersActiveConnection(t *testing.T) {
	m := newTestManager(t)
	c, _ := connect(t, m, "alice")

	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, 1, m.ConnectionCount())
}

func TestManager_AuthenticationFailureRegistersNothing(t *testing.T) {
	verifier := &fakeVerifier{VerifyFunc: func(ctx context.Context, credentials string) (*Identity, error) {
		return nil, errors.New("expired token")
	}}
	m := NewManager(verifier, ManagerConfig{}, testLogger())

	_, err := m.Connect(context.Background(), "bad-token", newFakeSender())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, 0, m.ConnectionCount())
	assert.Equal(t, 0, m.Stats().TotalRooms)
}

func TestManager_RejectsConnectionsDuringShutdown(t *testing.T) {
	m := newTestManager(t)
	m.Shutdown(context.Background())

	_, err := m.Connect(context.Background(), "alice", newFakeSender())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_ProtocolErrorsGoOnlyToSender(t *testing.T) {
	m := newTestManager(t)
	a, sa := connect(t, m, "alice")
	b, sb := connect(t, m, "bob")
	send(t, m, a, map[string]interface{}{"type": "join_room", "room_id": "r1"})
	send(t, m, b, map[string]interface{}{"type": "join_room", "room_id": "r1"})

	m.HandleMessage(context.Background(), a.ID, []byte("{broken"))
	send(t, m, a, map[string]interface{}{"type": "no_such_thing", "request_id": "x"})

	errFrames := sa.framesOfType(TypeError)
	require.Len(t, errFrames, 2)
	assert.Equal(t, "x", errFrames[1]["request_id"])
	assert.Empty(t, sb.framesOfType(TypeError), "other connections never observe a peer's errors")
	assert.Equal(t, uint64(2), m.Stats().Errors)
	assert.Equal(t, StateActive, a.State(), "protocol errors keep the connection open")
}

func TestManager_DisconnectUnwindsRoomsAndAnnouncesOnce(t *testing.T) {
	m := newTestManager(t)
	a, _ := connect(t, m, "alice")
	b, sb := connect(t, m, "bob")
	send(t, m, a, map[string]interface{}{"type": "join_room", "room_id": "doc1"})
	send(t, m, b, map[string]interface{}{"type": "join_room", "room_id": "doc1"})

	require.True(t, m.Disconnect(a.ID, "test"))

	left := sb.framesOfType(TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, a.UserID.String(), left[0]["user_id"])
	assert.Equal(t, float64(1), left[0]["total_users"])
	assert.Equal(t, StateClosed, a.State())

	// Second cleanup for the same id: no error, no duplicate broadcast.
	assert.False(t, m.Disconnect(a.ID, "race"))
	assert.Len(t, sb.framesOfType(TypeUserLeft), 1)
}

func TestManager_DisconnectLastTabOnlyAnnouncesUserLeft(t *testing.T) {
	// Two tabs share one identity; a distinct observer watches the room.
	alice := uuid.New()
	m := NewManager(&fakeVerifier{VerifyFunc: func(ctx context.Context, credentials string) (*Identity, error) {
		if credentials == "alice" {
			return &Identity{UserID: alice, Username: "alice", Email: "alice@example.com"}, nil
		}
		return &Identity{UserID: uuid.New(), Username: credentials, Email: credentials + "@example.com"}, nil
	}}, ManagerConfig{}, testLogger())

	a1, _ := connect(t, m, "alice")
	a2, _ := connect(t, m, "alice")
	obs, obsSender := connect(t, m, "observer")

	send(t, m, a1, map[string]interface{}{"type": "join_room", "room_id": "doc1"})
	send(t, m, a2, map[string]interface{}{"type": "join_room", "room_id": "doc1"})
	send(t, m, obs, map[string]interface{}{"type": "join_room", "room_id": "doc1"})

	m.Disconnect(a1.ID, "tab closed")
	assert.Empty(t, obsSender.framesOfType(TypeUserLeft), "user still present through the second tab")

	m.Disconnect(a2.ID, "tab closed")
	require.Len(t, obsSender.framesOfType(TypeUserLeft), 1)
}

func TestManager_EndToEndRoomScenario(t *testing.T) {
	// Three connections join doc1, two of them for the same user.
	shared := uuid.New()
	verifier := &fakeVerifier{VerifyFunc: func(ctx context.Context, credentials string) (*Identity, error) {
		if credentials == "shared" {
			return &Identity{UserID: shared, Username: "shared", Email: "shared@example.com"}, nil
		}
		return &Identity{UserID: uuid.New(), Username: credentials, Email: credentials + "@example.com"}, nil
	}}
	m := NewManager(verifier, ManagerConfig{}, testLogger())

	c1, _ := connect(t, m, "shared")
	c2, _ := connect(t, m, "shared")
	c3, s3 := connect(t, m, "carol")

	for _, c := range []*Connection{c1, c2, c3} {
		m.HandleMessage(context.Background(), c.ID, mustJSON(map[string]interface{}{"type": "join_room", "room_id": "doc1"}))
	}

	snap, ok := m.RoomUsers("doc1")
	require.True(t, ok)
	assert.Equal(t, 2, snap.UserCount, "presence counts distinct users, not connections")

	// Dropping one of the shared user's tabs changes nothing for observers.
	require.True(t, m.ForceDisconnect(c1.ID))
	assert.Empty(t, s3.framesOfType(TypeUserLeft))
	snap, _ = m.RoomUsers("doc1")
	assert.Equal(t, 2, snap.UserCount)

	// Dropping the last tab announces user_left with the decremented count.
	require.True(t, m.ForceDisconnect(c2.ID))
	left := s3.framesOfType(TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, float64(1), left[0]["total_users"])
}

func TestManager_StatsTrackRegistryExactly(t *testing.T) {
	m := newTestManager(t)

	var conns []*Connection
	for i := 0; i < 5; i++ {
		c, _ := connect(t, m, "user")
		conns = append(conns, c)
		assert.Equal(t, m.ConnectionCount(), m.Stats().TotalConnections)
	}
	for _, c := range conns[:3] {
		m.Disconnect(c.ID, "test")
		assert.Equal(t, m.ConnectionCount(), m.Stats().TotalConnections)
	}
	assert.Equal(t, 2, m.Stats().TotalConnections)
}

func TestManager_PublishNotificationRespectsFilters(t *testing.T) {
	m := newTestManager(t)

	a, sa := connect(t, m, "alice")
	b, sb := connect(t, m, "bob")
	send(t, m, a, map[string]interface{}{"type": "subscribe_notifications", "categories": []string{"billing"}})
	send(t, m, b, map[string]interface{}{"type": "subscribe_notifications", "modules": []string{"sheets"}})

	sent := m.PublishNotification(NotificationEvent{Category: "billing", Module: "crm", Title: "Invoice due"})
	assert.Equal(t, 1, sent)
	assert.Len(t, sa.framesOfType(TypeNotification), 1)
	assert.Empty(t, sb.framesOfType(TypeNotification))

	sent = m.NotifyUser(b.UserID, NotificationEvent{Title: "direct"})
	assert.Equal(t, 1, sent)
	assert.Len(t, sb.framesOfType(TypeNotification), 1)
}

func TestManager_BroadcastToRoomAdminSurface(t *testing.T) {
	m := newTestManager(t)
	a, sa := connect(t, m, "alice")
	send(t, m, a, map[string]interface{}{"type": "join_room", "room_id": "r1"})

	sent := m.BroadcastToRoom("r1", "announcement", map[string]interface{}{"text": "maintenance at noon"})
	assert.Equal(t, 1, sent)
	frames := sa.framesOfType(MessageType("announcement"))
	require.Len(t, frames, 1)
	assert.Equal(t, "maintenance at noon", frames[0]["text"])
	assert.NotEmpty(t, frames[0]["timestamp"])
}

func TestManager_SweepIdleClosesStaleConnections(t *testing.T) {
	m := newTestManager(t)
	a, _ := connect(t, m, "alice")
	b, _ := connect(t, m, "bob")
	_ = a

	// Touch only bob; with a zero threshold alice counts as stale too, so
	// use a small sleep to separate the heartbeats.
	time.Sleep(20 * time.Millisecond)
	m.TouchHeartbeat(b.ID)

	closed := m.SweepIdle(10 * time.Millisecond)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, m.ConnectionCount())
	_, ok := m.registry.Get(b.ID)
	assert.True(t, ok)
}

func TestManager_ShutdownDrainsAndAnnounces(t *testing.T) {
	m := newTestManager(t)
	a, sa := connect(t, m, "alice")
	b, sb := connect(t, m, "bob")
	send(t, m, a, map[string]interface{}{"type": "join_room", "room_id": "r1"})
	send(t, m, b, map[string]interface{}{"type": "join_room", "room_id": "r1"})

	m.Shutdown(context.Background())

	assert.True(t, m.ShuttingDown())
	assert.Equal(t, 0, m.ConnectionCount())
	assert.Equal(t, 0, m.Stats().TotalRooms)
	assert.False(t, m.Stats().Active)
	assert.True(t, sa.isClosed())
	assert.True(t, sb.isClosed())

	// Every connection was told before being drained.
	assert.Len(t, sa.framesOfType(TypeServerShutdown), 1)
	assert.Len(t, sb.framesOfType(TypeServerShutdown), 1)
}

func TestManager_HealthReportsErrorRate(t *testing.T) {
	m := newTestManager(t)
	a, _ := connect(t, m, "alice")

	send(t, m, a, map[string]interface{}{"type": "ping"})
	m.HandleMessage(context.Background(), a.ID, []byte("{bad"))

	h := m.Health()
	assert.True(t, h.ManagerActive)
	assert.Equal(t, 1, h.Connections)
	assert.InDelta(t, 0.5, h.ErrorRate, 0.001)
}
