package realtime

import (
	"go.uber.org/zap"
)

// Tracker is the policy layer deciding what counts as a presence-affecting
// event and which broadcast follows. State mutation and broadcast are kept
// together so the payload is always computed from the committed Presence
// record, never from the raw inbound event.
type Tracker struct {
	registry    *Registry
	rooms       *Directory
	broadcaster *Broadcaster
	logger      *zap.Logger
}

func NewTracker(registry *Registry, rooms *Directory, broadcaster *Broadcaster, logger *zap.Logger) *Tracker {
	return &Tracker{
		registry:    registry,
		rooms:       rooms,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

type cursorMovedEvent struct {
	Envelope
	RoomID   string          `json:"room_id"`
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Cursor   *CursorPosition `json:"cursor"`
}

// CursorMove merges the cursor into the user's presence and broadcasts the
// committed position to the room, excluding the originating connection.
// A stale move for a room the user already left is a silent no-op.
func (t *Tracker) CursorMove(c *Connection, roomID string, cursor CursorPosition) {
	committed, ok := t.rooms.UpdatePresence(roomID, c.UserID, PresenceUpdate{Cursor: &cursor})
	if !ok {
		t.logger.Debug("cursor move for absent presence ignored",
			zap.String("roomId", roomID),
			zap.String("userId", c.UserID.String()))
		return
	}

	event := cursorMovedEvent{
		Envelope: newEnvelope(TypeCursorMoved),
		RoomID:   roomID,
		UserID:   committed.UserID.String(),
		Username: committed.Username,
		Cursor:   committed.Cursor,
	}
	t.broadcaster.ToRoom(roomID, encode(event), c.ID)
}

type typingEvent struct {
	Envelope
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	CellID   string `json:"cell_id,omitempty"`
}

// Typing records the ephemeral typing target and broadcasts the start/stop
// event to the room, excluding the sender.
func (t *Tracker) Typing(c *Connection, roomID, cellID string, started bool) {
	target := cellID
	if !started {
		target = ""
	}
	committed, ok := t.rooms.UpdatePresence(roomID, c.UserID, PresenceUpdate{TypingCell: &target})
	if !ok {
		return
	}

	eventType := TypeUserTypingStop
	if started {
		eventType = TypeUserTypingStart
	}
	event := typingEvent{
		Envelope: newEnvelope(eventType),
		RoomID:   roomID,
		UserID:   committed.UserID.String(),
		Username: committed.Username,
		CellID:   cellID,
	}
	t.broadcaster.ToRoom(roomID, encode(event), c.ID)
}

type statusChangedEvent struct {
	Envelope
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// StatusChange applies an explicit status to the user's presence in every
// room the connection has joined and broadcasts the committed status to each.
func (t *Tracker) StatusChange(c *Connection, status PresenceStatus) {
	for _, roomID := range c.Rooms() {
		committed, ok := t.rooms.UpdatePresence(roomID, c.UserID, PresenceUpdate{Status: &status})
		if !ok {
			continue
		}
		event := statusChangedEvent{
			Envelope: newEnvelope(TypeUserStatusChanged),
			RoomID:   roomID,
			UserID:   committed.UserID.String(),
			Status:   string(committed.Status),
		}
		t.broadcaster.ToRoom(roomID, encode(event), "")
	}
}

// Heartbeat refreshes connection liveness only. It touches no Presence
// record and triggers no broadcast.
func (t *Tracker) Heartbeat(connID string) bool {
	return t.registry.TouchHeartbeat(connID)
}
