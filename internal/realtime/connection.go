package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a connection's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender delivers outbound frames to one connection. Implementations must
// preserve per-connection send order and must not block the caller; the
// websocket layer backs this with a buffered per-connection queue.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Subscription is a per-connection filter for unsolicited notification
// fan-out. A nil or empty list on any dimension means match-all.
type Subscription struct {
	Categories []string
	Modules    []string
	Priorities []string
}

// Matches applies the match-all-if-absent semantics on every dimension.
func (s *Subscription) Matches(category, module, priority string) bool {
	return matchDimension(s.Categories, category) &&
		matchDimension(s.Modules, module) &&
		matchDimension(s.Priorities, priority)
}

func matchDimension(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

// Connection is one authenticated live transport session. A user may own
// several connections at once (multiple tabs); the room/presence bookkeeping
// in Directory is keyed by user, not by connection.
type Connection struct {
	ID            string
	UserID        uuid.UUID
	Username      string
	Email         string
	EstablishedAt time.Time

	sender Sender

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
	rooms         map[string]struct{}
	subscription  *Subscription
	metadata      map[string]string
}

// NewConnection builds a connection in the authenticating state. It is
// promoted to active by the manager once the registry accepts it.
func NewConnection(identity Identity, sender Sender) *Connection {
	now := time.Now()
	return &Connection{
		ID:            uuid.NewString(),
		UserID:        identity.UserID,
		Username:      identity.Username,
		Email:         identity.Email,
		EstablishedAt: now,
		sender:        sender,
		state:         StateAuthenticating,
		lastHeartbeat: now,
		rooms:         make(map[string]struct{}),
		metadata:      make(map[string]string),
	}
}

// Send enqueues one frame on the connection's ordered outbound queue.
func (c *Connection) Send(payload []byte) error {
	return c.sender.Send(payload)
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Touch records heartbeat activity for idle-timeout policies.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Rooms returns a copy of the connection's joined room ids.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Connection) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *Connection) clearRooms() {
	c.mu.Lock()
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()
}

// Subscription returns the connection's notification filter, or nil when the
// connection has not subscribed.
func (c *Connection) Subscription() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}

func (c *Connection) SetSubscription(sub *Subscription) {
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
}

// SetMetadata stores a free-form key on the connection.
func (c *Connection) SetMetadata(key, value string) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

func (c *Connection) Metadata(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Identity is the result of verifying a connection's credentials.
type Identity struct {
	UserID   uuid.UUID
	Username string
	Email    string
}
