package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_CursorMoveExcludesSenderEverywhere(t *testing.T) {
	registry, rooms, tracker, _, _ := newTestStack()

	alice := uuid.New()
	a1, s1 := connectUser(registry, alice, "alice")
	a2, s2 := connectUser(registry, alice, "alice")
	bob, s3 := connectUser(registry, uuid.New(), "bob")

	rooms.Join("r1", a1)
	rooms.Join("r1", a2)
	rooms.Join("r1", bob)

	tracker.CursorMove(a1, "r1", CursorPosition{X: 5, Y: 9, Cell: "C3"})

	assert.Empty(t, s1.framesOfType(TypeCursorMoved), "originating connection never sees its own echo")
	require.Len(t, s2.framesOfType(TypeCursorMoved), 1, "the user's other tab does")
	events := s3.framesOfType(TypeCursorMoved)
	require.Len(t, events, 1)

	cursor, ok := events[0]["cursor"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(5), cursor["x"])
	assert.Equal(t, "C3", cursor["cell"])
	assert.Equal(t, "alice", events[0]["username"])
}

func TestTracker_CursorMoveAfterLeaveIsSilent(t *testing.T) {
	registry, rooms, tracker, _, _ := newTestStack()

	a, _ := connectUser(registry, uuid.New(), "alice")
	b, sb := connectUser(registry, uuid.New(), "bob")
	rooms.Join("r1", a)
	rooms.Join("r1", b)
	rooms.Leave("r1", a)

	tracker.CursorMove(a, "r1", CursorPosition{X: 1, Y: 1})
	assert.Empty(t, sb.framesOfType(TypeCursorMoved), "stale cursor events broadcast nothing")

	snap, _ := rooms.Snapshot("r1")
	assert.Len(t, snap.Users, 1)
}

func TestTracker_TypingEvents(t *testing.T) {
	registry, rooms, tracker, _, _ := newTestStack()

	a, sa := connectUser(registry, uuid.New(), "alice")
	b, sb := connectUser(registry, uuid.New(), "bob")
	rooms.Join("r1", a)
	rooms.Join("r1", b)

	tracker.Typing(a, "r1", "D7", true)
	require.Len(t, sb.framesOfType(TypeUserTypingStart), 1)
	assert.Empty(t, sa.framesOfType(TypeUserTypingStart))
	assert.Equal(t, "D7", sb.framesOfType(TypeUserTypingStart)[0]["cell_id"])

	tracker.Typing(a, "r1", "D7", false)
	require.Len(t, sb.framesOfType(TypeUserTypingStop), 1)

	// The typing target is ephemeral presence state.
	snap, _ := rooms.Snapshot("r1")
	for _, p := range snap.Users {
		if p.UserID == a.UserID {
			assert.Empty(t, p.TypingCell)
		}
	}
}

func TestTracker_StatusChangeBroadcastsToEveryJoinedRoom(t *testing.T) {
	registry, rooms, tracker, _, _ := newTestStack()

	a, _ := connectUser(registry, uuid.New(), "alice")
	b, sb := connectUser(registry, uuid.New(), "bob")
	c, sc := connectUser(registry, uuid.New(), "carol")

	rooms.Join("r1", a)
	rooms.Join("r1", b)
	rooms.Join("r2", a)
	rooms.Join("r2", c)

	tracker.StatusChange(a, StatusBusy)

	require.Len(t, sb.framesOfType(TypeUserStatusChanged), 1)
	require.Len(t, sc.framesOfType(TypeUserStatusChanged), 1)
	assert.Equal(t, "busy", sb.framesOfType(TypeUserStatusChanged)[0]["status"])

	snap, _ := rooms.Snapshot("r1")
	require.Len(t, snap.Users, 2)
	for _, p := range snap.Users {
		if p.UserID == a.UserID {
			assert.Equal(t, StatusBusy, p.Status, "broadcast payload comes from committed state")
		}
	}
}

func TestTracker_HeartbeatTouchesLivenessOnly(t *testing.T) {
	registry, rooms, tracker, _, _ := newTestStack()

	a, _ := connectUser(registry, uuid.New(), "alice")
	b, sb := connectUser(registry, uuid.New(), "bob")
	rooms.Join("r1", a)
	rooms.Join("r1", b)

	before := a.LastHeartbeat()
	assert.True(t, tracker.Heartbeat(a.ID))
	assert.False(t, a.LastHeartbeat().Before(before))
	assert.Equal(t, 0, sb.frameCount(), "heartbeat triggers no broadcast")
}
