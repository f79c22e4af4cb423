package realtime

import (
	"encoding/json"
	"time"
)

// MessageType identifies one kind of frame in the closed protocol set.
type MessageType string

// Inbound message types.
const (
	TypeJoinRoom                 MessageType = "join_room"
	TypeLeaveRoom                MessageType = "leave_room"
	TypeCursorMove               MessageType = "cursor_move"
	TypeCellUpdate               MessageType = "cell_update"
	TypeStatusUpdate             MessageType = "status_update"
	TypeTypingStart              MessageType = "typing_start"
	TypeTypingStop               MessageType = "typing_stop"
	TypeAIRequest                MessageType = "ai_request"
	TypeSubscribeNotifications   MessageType = "subscribe_notifications"
	TypeUnsubscribeNotifications MessageType = "unsubscribe_notifications"
	TypeNotificationRead         MessageType = "notification_read"
	TypeFileUploadStart          MessageType = "file_upload_start"
	TypeFileUploadProgress       MessageType = "file_upload_progress"
	TypeFileUploadComplete       MessageType = "file_upload_complete"
	TypePing                     MessageType = "ping"
)

// Outbound message types.
const (
	TypeRoomJoined           MessageType = "room_joined"
	TypeUserJoined           MessageType = "user_joined"
	TypeUserLeft             MessageType = "user_left"
	TypeCursorMoved          MessageType = "cursor_moved"
	TypeCellUpdated          MessageType = "cell_updated"
	TypeUserStatusChanged    MessageType = "user_status_changed"
	TypeUserTypingStart      MessageType = "user_typing_start"
	TypeUserTypingStop       MessageType = "user_typing_stop"
	TypeAIResponseStart      MessageType = "ai_response_start"
	TypeAIResponseProgress   MessageType = "ai_response_progress"
	TypeAIResponseComplete   MessageType = "ai_response_complete"
	TypeAIResponseError      MessageType = "ai_response_error"
	TypeNotification         MessageType = "notification"
	TypeSubscriptionUpdate   MessageType = "subscription_updated"
	TypeFileUploadStarted    MessageType = "file_upload_started"
	TypeFileUploadProgressed MessageType = "file_upload_progressed"
	TypeFileUploadCompleted  MessageType = "file_upload_completed"
	TypePong                 MessageType = "pong"
	TypeError                MessageType = "error"
	TypeServerShutdown       MessageType = "server_shutdown"
)

// Envelope is the common wrapper around every frame on the wire.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

func newEnvelope(t MessageType) Envelope {
	return Envelope{
		Type:      string(t),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Inbound is the decoded form of a client frame: a tag plus exactly one
// populated variant for the tag's payload.
type Inbound struct {
	Type      MessageType
	RequestID string

	JoinRoom         *JoinRoomPayload
	LeaveRoom        *LeaveRoomPayload
	CursorMove       *CursorMovePayload
	CellUpdate       *CellUpdatePayload
	StatusUpdate     *StatusUpdatePayload
	Typing           *TypingPayload
	AIRequest        *AIRequestPayload
	Subscribe        *SubscribePayload
	NotificationRead *NotificationReadPayload
	FileUpload       *FileUploadPayload
}

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

type CursorMovePayload struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Cell string `json:"cell,omitempty"`
	Room string `json:"room"`
}

type CellUpdatePayload struct {
	SheetID string      `json:"sheet_id"`
	CellID  string      `json:"cell_id"`
	Value   interface{} `json:"value"`
	Formula string      `json:"formula,omitempty"`
	// Version is advisory on input; the server assigns the authoritative
	// monotonically increasing version per cell (last-write-wins).
	Version *int64 `json:"version,omitempty"`
}

type StatusUpdatePayload struct {
	Status string `json:"status"`
}

type TypingPayload struct {
	CellID string `json:"cell_id"`
	Room   string `json:"room"`
}

type AIRequestPayload struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
	SheetID string `json:"sheet_id,omitempty"`
}

type SubscribePayload struct {
	Categories []string `json:"categories,omitempty"`
	Modules    []string `json:"modules,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
}

type NotificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

type FileUploadPayload struct {
	Room     string `json:"room"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size,omitempty"`
	Progress int    `json:"progress,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
}

// DecodeInbound parses a raw text frame into its typed variant. It returns a
// *ProtocolError for malformed JSON, unknown types, and schema-invalid
// payloads; those never terminate the connection.
func DecodeInbound(raw []byte) (*Inbound, *ProtocolError) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newProtocolError(codeMalformedJSON, "invalid JSON frame")
	}

	msg := &Inbound{Type: MessageType(env.Type), RequestID: env.RequestID}

	protoErr := func(code, format string, args ...interface{}) *ProtocolError {
		perr := newProtocolError(code, format, args...)
		perr.RequestID = env.RequestID
		return perr
	}

	switch msg.Type {
	case TypeJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
			return nil, protoErr(codeInvalidPayload, "join_room requires room_id")
		}
		msg.JoinRoom = &p

	case TypeLeaveRoom:
		var p LeaveRoomPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
			return nil, protoErr(codeInvalidPayload, "leave_room requires room_id")
		}
		msg.LeaveRoom = &p

	case TypeCursorMove:
		var p CursorMovePayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Room == "" {
			return nil, protoErr(codeInvalidPayload, "cursor_move requires room")
		}
		msg.CursorMove = &p

	case TypeCellUpdate:
		var p CellUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil || p.SheetID == "" || p.CellID == "" {
			return nil, protoErr(codeInvalidPayload, "cell_update requires sheet_id and cell_id")
		}
		msg.CellUpdate = &p

	case TypeStatusUpdate:
		var p StatusUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil || !ValidPresenceStatus(p.Status) {
			return nil, protoErr(codeInvalidPayload, "status must be one of online, away, busy, offline")
		}
		msg.StatusUpdate = &p

	case TypeTypingStart, TypeTypingStop:
		var p TypingPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Room == "" {
			return nil, protoErr(codeInvalidPayload, "typing events require room")
		}
		msg.Typing = &p

	case TypeAIRequest:
		var p AIRequestPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Prompt == "" {
			return nil, protoErr(codeInvalidPayload, "ai_request requires prompt")
		}
		msg.AIRequest = &p

	case TypeSubscribeNotifications:
		var p SubscribePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, protoErr(codeInvalidPayload, "invalid subscription payload")
		}
		msg.Subscribe = &p

	case TypeUnsubscribeNotifications:
		// No payload beyond the envelope.

	case TypeNotificationRead:
		var p NotificationReadPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.NotificationID == "" {
			return nil, protoErr(codeInvalidPayload, "notification_read requires notification_id")
		}
		msg.NotificationRead = &p

	case TypeFileUploadStart, TypeFileUploadProgress, TypeFileUploadComplete:
		var p FileUploadPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Room == "" {
			return nil, protoErr(codeInvalidPayload, "file upload events require room")
		}
		msg.FileUpload = &p

	case TypePing:
		// No payload beyond the envelope.

	default:
		return nil, protoErr(codeUnknownType, "unknown message type %q", env.Type)
	}

	return msg, nil
}

// errorMessage is the only error shape a connected client ever observes.
type errorMessage struct {
	Envelope
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func encodeError(perr *ProtocolError, requestID string) []byte {
	msg := errorMessage{Envelope: newEnvelope(TypeError), Error: perr.Message, Code: perr.Code}
	msg.RequestID = requestID
	payload, _ := json.Marshal(msg)
	return payload
}

func encode(v interface{}) []byte {
	payload, _ := json.Marshal(v)
	return payload
}
