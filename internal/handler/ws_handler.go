package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collab-service/internal/middleware"
	"collab-service/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsSender adapts one gorilla connection to the manager's Sender interface.
// Sends go through a buffered channel drained by the write pump; a full
// buffer counts as a delivery failure so slow consumers get disconnected
// instead of blocking broadcasts.
type wsSender struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{
		conn:   conn,
		send:   make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (s *wsSender) Send(payload []byte) error {
	select {
	case <-s.closed:
		return errors.New("connection closed")
	default:
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (s *wsSender) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

type WSHandler struct {
	manager *realtime.Manager
	logger  *zap.Logger
}

func NewWSHandler(manager *realtime.Manager, logger *zap.Logger) *WSHandler {
	return &WSHandler{manager: manager, logger: logger}
}

// HandleWebSocket upgrades the request and hands the connection to the
// realtime manager. Authentication uses the token query parameter because
// browsers cannot set headers on websocket upgrades.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	if h.manager.ShuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
		return
	}

	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	sender := newWSSender(conn)
	connection, err := h.manager.Connect(c.Request.Context(), token, sender)
	if err != nil {
		code := websocket.ClosePolicyViolation
		if errors.Is(err, realtime.ErrShuttingDown) {
			code = websocket.CloseServiceRestart
		}
		msg := websocket.FormatCloseMessage(code, "authentication failed")
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}

	middleware.RecordWebSocketConnection()

	go h.writePump(conn, sender, connection.ID)
	go h.readPump(conn, sender, connection.ID)
}

func (h *WSHandler) readPump(conn *websocket.Conn, sender *wsSender, connID string) {
	defer func() {
		h.manager.Disconnect(connID, "connection closed")
		middleware.RecordWebSocketDisconnection()
		sender.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.manager.TouchHeartbeat(connID)
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("connectionId", connID), zap.Error(err))
			}
			break
		}
		h.manager.HandleMessage(context.Background(), connID, message)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, sender *wsSender, connID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-sender.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-sender.closed:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
