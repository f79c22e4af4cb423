package handler

// BroadcastRequest is the admin room-broadcast body. Fields are wrapped into
// the standard realtime envelope verbatim.
type BroadcastRequest struct {
	Type   string                 `json:"type" binding:"required"`
	Fields map[string]interface{} `json:"fields"`
}
