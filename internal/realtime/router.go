package realtime

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AIChunk is one unit of a streamed assistant response.
type AIChunk struct {
	Content string
	Done    bool
	Err     error
}

// AIStreamer produces assistant responses as a stream of chunks. The router
// only relays; it never computes a response inline.
type AIStreamer interface {
	Stream(ctx context.Context, prompt, contextText string) (<-chan AIChunk, error)
}

// NotificationSink marks persisted notifications as read.
type NotificationSink interface {
	MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error
}

// EventRelay mirrors room events to an external channel (Redis pub/sub).
// Publish-only: cross-process fan-in is outside this service.
type EventRelay interface {
	PublishRoomEvent(ctx context.Context, roomID string, payload []byte)
}

// MessageObserver is notified once per dispatched frame. Rejected frames
// report an empty type. Feeds the Prometheus counters without coupling this
// package to the collector.
type MessageObserver func(messageType MessageType, rejected bool)

// Router dispatches decoded inbound messages to their handlers. Unknown types
// and schema-invalid payloads come back as a *ProtocolError for the manager
// to convert into an error envelope; they are never fatal to the connection.
type Router struct {
	registry    *Registry
	rooms       *Directory
	tracker     *Tracker
	broadcaster *Broadcaster
	versions    *CellVersions

	notifications NotificationSink // optional
	ai            AIStreamer       // optional
	relay         EventRelay       // optional
	observe       MessageObserver  // optional

	logger *zap.Logger
}

func NewRouter(
	registry *Registry,
	rooms *Directory,
	tracker *Tracker,
	broadcaster *Broadcaster,
	logger *zap.Logger,
) *Router {
	return &Router{
		registry:    registry,
		rooms:       rooms,
		tracker:     tracker,
		broadcaster: broadcaster,
		versions:    NewCellVersions(),
		logger:      logger,
	}
}

// SetNotificationSink wires the optional notification persistence collaborator.
func (rt *Router) SetNotificationSink(sink NotificationSink) { rt.notifications = sink }

// SetAIStreamer wires the optional assistant collaborator.
func (rt *Router) SetAIStreamer(ai AIStreamer) { rt.ai = ai }

// SetEventRelay wires the optional external event mirror.
func (rt *Router) SetEventRelay(relay EventRelay) { rt.relay = relay }

// SetMessageObserver wires the optional per-frame metrics hook.
func (rt *Router) SetMessageObserver(obs MessageObserver) { rt.observe = obs }

// Dispatch decodes and handles one inbound frame from a connection.
// handled=false with a non-nil *ProtocolError means the caller should reply
// with an error envelope and keep the connection open.
func (rt *Router) Dispatch(ctx context.Context, c *Connection, raw []byte) (bool, *ProtocolError) {
	msg, perr := DecodeInbound(raw)
	if perr != nil {
		if rt.observe != nil {
			rt.observe("", true)
		}
		return false, perr
	}

	switch msg.Type {
	case TypeJoinRoom:
		rt.handleJoinRoom(ctx, c, msg)
	case TypeLeaveRoom:
		rt.handleLeaveRoom(ctx, c, msg)
	case TypeCursorMove:
		rt.tracker.CursorMove(c, msg.CursorMove.Room, CursorPosition{
			X:    msg.CursorMove.X,
			Y:    msg.CursorMove.Y,
			Cell: msg.CursorMove.Cell,
		})
	case TypeCellUpdate:
		rt.handleCellUpdate(ctx, c, msg)
	case TypeStatusUpdate:
		rt.tracker.StatusChange(c, PresenceStatus(msg.StatusUpdate.Status))
	case TypeTypingStart:
		rt.tracker.Typing(c, msg.Typing.Room, msg.Typing.CellID, true)
	case TypeTypingStop:
		rt.tracker.Typing(c, msg.Typing.Room, msg.Typing.CellID, false)
	case TypeAIRequest:
		rt.handleAIRequest(ctx, c, msg)
	case TypeSubscribeNotifications:
		rt.handleSubscribe(c, msg)
	case TypeUnsubscribeNotifications:
		rt.handleUnsubscribe(c, msg)
	case TypeNotificationRead:
		rt.handleNotificationRead(ctx, c, msg)
	case TypeFileUploadStart, TypeFileUploadProgress, TypeFileUploadComplete:
		rt.handleFileUpload(c, msg)
	case TypePing:
		rt.handlePing(c, msg)
	default:
		// DecodeInbound already rejects unknown types; kept for safety.
		if rt.observe != nil {
			rt.observe("", true)
		}
		return false, newProtocolError(codeUnknownType, "unknown message type %q", msg.Type)
	}

	if rt.observe != nil {
		rt.observe(msg.Type, false)
	}
	return true, nil
}

type roomJoinedReply struct {
	Envelope
	RoomSnapshot
}

type userJoinedEvent struct {
	Envelope
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	TotalUsers int    `json:"total_users"`
}

func (rt *Router) handleJoinRoom(ctx context.Context, c *Connection, msg *Inbound) {
	roomID := msg.JoinRoom.RoomID
	res := rt.rooms.Join(roomID, c)
	snap, _ := rt.rooms.Snapshot(roomID)

	reply := roomJoinedReply{Envelope: newEnvelope(TypeRoomJoined), RoomSnapshot: snap}
	reply.RequestID = msg.RequestID
	if err := c.Send(encode(reply)); err != nil {
		rt.logger.Warn("failed to send room snapshot", zap.String("connectionId", c.ID), zap.Error(err))
	}

	// Only the user's first connection in the room announces the join;
	// additional tabs are silent membership additions.
	if res.NewlyJoined {
		event := userJoinedEvent{
			Envelope:   newEnvelope(TypeUserJoined),
			RoomID:     roomID,
			UserID:     c.UserID.String(),
			Username:   c.Username,
			TotalUsers: res.UserCount,
		}
		payload := encode(event)
		rt.broadcaster.ToRoom(roomID, payload, c.ID)
		if rt.relay != nil {
			rt.relay.PublishRoomEvent(ctx, roomID, payload)
		}
	}
}

type userLeftEvent struct {
	Envelope
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	TotalUsers int    `json:"total_users"`
}

func (rt *Router) handleLeaveRoom(ctx context.Context, c *Connection, msg *Inbound) {
	roomID := msg.LeaveRoom.RoomID
	res, ok := rt.rooms.Leave(roomID, c)
	if !ok {
		return
	}
	if res.FullyLeft {
		event := userLeftEvent{
			Envelope:   newEnvelope(TypeUserLeft),
			RoomID:     roomID,
			UserID:     c.UserID.String(),
			Username:   c.Username,
			TotalUsers: res.UserCount,
		}
		payload := encode(event)
		rt.broadcaster.ToRoom(roomID, payload, c.ID)
		if rt.relay != nil {
			rt.relay.PublishRoomEvent(ctx, roomID, payload)
		}
	}
}

type cellUpdatedEvent struct {
	Envelope
	SheetID string      `json:"sheet_id"`
	CellID  string      `json:"cell_id"`
	Value   interface{} `json:"value"`
	Formula string      `json:"formula,omitempty"`
	Version int64       `json:"version"`
	UserID  string      `json:"user_id"`
}

func (rt *Router) handleCellUpdate(ctx context.Context, c *Connection, msg *Inbound) {
	p := msg.CellUpdate
	version := rt.versions.Next(p.SheetID, p.CellID)
	rt.rooms.MarkDocumentActive(p.SheetID, p.CellID)

	event := cellUpdatedEvent{
		Envelope: newEnvelope(TypeCellUpdated),
		SheetID:  p.SheetID,
		CellID:   p.CellID,
		Value:    p.Value,
		Formula:  p.Formula,
		Version:  version,
		UserID:   c.UserID.String(),
	}
	payload := encode(event)
	// The sender is included so every tab learns the assigned version.
	rt.broadcaster.ToRoom(p.SheetID, payload, "")
	if rt.relay != nil {
		rt.relay.PublishRoomEvent(ctx, p.SheetID, payload)
	}
}

type aiResponseEvent struct {
	Envelope
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (rt *Router) handleAIRequest(ctx context.Context, c *Connection, msg *Inbound) {
	requestID := msg.RequestID

	sendEvent := func(t MessageType, content, errText, code string) {
		event := aiResponseEvent{Envelope: newEnvelope(t), Content: content, Error: errText, Code: code}
		event.RequestID = requestID
		if err := c.Send(encode(event)); err != nil {
			rt.logger.Debug("dropping AI frame for dead connection",
				zap.String("connectionId", c.ID), zap.Error(err))
		}
	}

	if rt.ai == nil {
		sendEvent(TypeAIResponseError, "", "assistant is not configured", codeAIUnavailable)
		return
	}

	chunks, err := rt.ai.Stream(ctx, msg.AIRequest.Prompt, msg.AIRequest.Context)
	if err != nil {
		rt.logger.Warn("AI stream failed to start", zap.Error(err))
		sendEvent(TypeAIResponseError, "", "assistant request failed", "")
		return
	}

	// Relay runs off the connection's inbound loop so a slow assistant
	// never stalls message handling.
	go func() {
		sendEvent(TypeAIResponseStart, "", "", "")
		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				sendEvent(TypeAIResponseError, "", "assistant stream error", "")
				return
			case chunk.Done:
				sendEvent(TypeAIResponseComplete, chunk.Content, "", "")
				return
			default:
				sendEvent(TypeAIResponseProgress, chunk.Content, "", "")
			}
		}
		sendEvent(TypeAIResponseComplete, "", "", "")
	}()
}

type subscriptionUpdatedReply struct {
	Envelope
	Subscribed bool     `json:"subscribed"`
	Categories []string `json:"categories,omitempty"`
	Modules    []string `json:"modules,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
}

func (rt *Router) handleSubscribe(c *Connection, msg *Inbound) {
	p := msg.Subscribe
	c.SetSubscription(&Subscription{
		Categories: p.Categories,
		Modules:    p.Modules,
		Priorities: p.Priorities,
	})

	reply := subscriptionUpdatedReply{
		Envelope:   newEnvelope(TypeSubscriptionUpdate),
		Subscribed: true,
		Categories: p.Categories,
		Modules:    p.Modules,
		Priorities: p.Priorities,
	}
	reply.RequestID = msg.RequestID
	_ = c.Send(encode(reply))
}

func (rt *Router) handleUnsubscribe(c *Connection, msg *Inbound) {
	c.SetSubscription(nil)
	reply := subscriptionUpdatedReply{Envelope: newEnvelope(TypeSubscriptionUpdate), Subscribed: false}
	reply.RequestID = msg.RequestID
	_ = c.Send(encode(reply))
}

func (rt *Router) handleNotificationRead(ctx context.Context, c *Connection, msg *Inbound) {
	if rt.notifications == nil {
		return
	}
	id, err := uuid.Parse(msg.NotificationRead.NotificationID)
	if err != nil {
		rt.logger.Debug("notification_read with invalid id ignored",
			zap.String("notificationId", msg.NotificationRead.NotificationID))
		return
	}
	if err := rt.notifications.MarkRead(ctx, id, c.UserID); err != nil {
		rt.logger.Warn("failed to mark notification read",
			zap.String("notificationId", id.String()),
			zap.String("userId", c.UserID.String()),
			zap.Error(err))
	}
}

type fileUploadEvent struct {
	Envelope
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size,omitempty"`
	Progress int    `json:"progress,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
}

func (rt *Router) handleFileUpload(c *Connection, msg *Inbound) {
	var eventType MessageType
	switch msg.Type {
	case TypeFileUploadStart:
		eventType = TypeFileUploadStarted
	case TypeFileUploadProgress:
		eventType = TypeFileUploadProgressed
	default:
		eventType = TypeFileUploadCompleted
	}

	p := msg.FileUpload
	event := fileUploadEvent{
		Envelope: newEnvelope(eventType),
		RoomID:   p.Room,
		UserID:   c.UserID.String(),
		Username: c.Username,
		FileName: p.FileName,
		FileSize: p.FileSize,
		Progress: p.Progress,
		FileURL:  p.FileURL,
	}
	rt.rooms.TouchActivity(p.Room)
	rt.broadcaster.ToRoom(p.Room, encode(event), c.ID)
}

type pongReply struct {
	Envelope
}

func (rt *Router) handlePing(c *Connection, msg *Inbound) {
	rt.tracker.Heartbeat(c.ID)
	reply := pongReply{Envelope: newEnvelope(TypePong)}
	reply.RequestID = msg.RequestID
	_ = c.Send(encode(reply))
}
