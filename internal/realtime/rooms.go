package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a user's declared availability within a room.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

func ValidPresenceStatus(s string) bool {
	switch PresenceStatus(s) {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// CursorPosition is a user's live cursor within a room.
type CursorPosition struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Cell string `json:"cell,omitempty"`
}

// Presence is one user's live state within one room. There is exactly one
// record per (room, user) pair regardless of how many connections the user
// has in the room.
type Presence struct {
	UserID     uuid.UUID       `json:"user_id"`
	Username   string          `json:"username"`
	Email      string          `json:"email,omitempty"`
	Cursor     *CursorPosition `json:"cursor,omitempty"`
	Status     PresenceStatus  `json:"status"`
	TypingCell string          `json:"typing_cell,omitempty"`
	LastSeen   time.Time       `json:"last_seen"`
}

// PresenceUpdate merges the non-nil fields into an existing Presence record.
type PresenceUpdate struct {
	Cursor     *CursorPosition
	Status     *PresenceStatus
	TypingCell *string
}

type room struct {
	id              string
	createdAt       time.Time
	lastActivity    time.Time
	members         map[string]uuid.UUID // connection id -> user id
	presence        map[uuid.UUID]*Presence
	activeDocuments map[string]struct{}
}

func (rm *room) userConnections(userID uuid.UUID) int {
	n := 0
	for _, uid := range rm.members {
		if uid == userID {
			n++
		}
	}
	return n
}

// RoomSnapshot is the initial state sent to a freshly joined connection.
type RoomSnapshot struct {
	RoomID          string     `json:"room_id"`
	Users           []Presence `json:"users"`
	ActiveDocuments []string   `json:"active_documents"`
	UserCount       int        `json:"user_count"`
}

// RoomStats is one row of the operational rooms summary.
type RoomStats struct {
	RoomID          string    `json:"room_id"`
	UserCount       int       `json:"user_count"`
	ConnectionCount int       `json:"connection_count"`
	ActiveDocuments int       `json:"active_documents"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// JoinResult reports the outcome of adding one connection to a room.
type JoinResult struct {
	UserCount   int
	NewlyJoined bool // first connection of this user in the room
}

// LeaveResult reports the outcome of removing one connection from a room.
type LeaveResult struct {
	UserCount int
	FullyLeft bool // the user has no remaining connection in the room
}

// Departure is one room unwound by LeaveAll.
type Departure struct {
	RoomID    string
	UserCount int
	FullyLeft bool
}

// Directory exclusively owns room membership and presence records. Rooms are
// created lazily on first join and retained when empty; eviction of long-idle
// empty rooms is a housekeeping concern (see EvictIdle).
//
// A single mutex serializes every mutation, which keeps each room's membership
// set and presence map consistent and makes LeaveAll atomic with respect to
// concurrent joins.
type Directory struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*room)}
}

func (d *Directory) getOrCreate(roomID string) *room {
	rm, ok := d.rooms[roomID]
	if !ok {
		now := time.Now()
		rm = &room{
			id:              roomID,
			createdAt:       now,
			lastActivity:    now,
			members:         make(map[string]uuid.UUID),
			presence:        make(map[uuid.UUID]*Presence),
			activeDocuments: make(map[string]struct{}),
		}
		d.rooms[roomID] = rm
	}
	return rm
}

// Join adds the connection to the room and seeds a Presence record when this
// is the user's first connection there. It also records the room on the
// connection, in the same critical section, so the connection's room set and
// the directory never drift apart.
func (d *Directory) Join(roomID string, c *Connection) JoinResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	rm := d.getOrCreate(roomID)
	rm.members[c.ID] = c.UserID

	_, hadPresence := rm.presence[c.UserID]
	if !hadPresence {
		rm.presence[c.UserID] = &Presence{
			UserID:   c.UserID,
			Username: c.Username,
			Email:    c.Email,
			Status:   StatusOnline,
			LastSeen: time.Now(),
		}
	}
	rm.lastActivity = time.Now()
	c.addRoom(roomID)

	return JoinResult{UserCount: len(rm.presence), NewlyJoined: !hadPresence}
}

// Leave removes the connection's membership. When it was the user's last
// connection in the room the Presence record is dropped and FullyLeft is set.
// The connection's cached room set is updated in the same critical section.
func (d *Directory) Leave(roomID string, c *Connection) (LeaveResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.leaveLocked(roomID, c.ID)
	if ok {
		c.removeRoom(roomID)
	}
	return res, ok
}

func (d *Directory) leaveLocked(roomID, connID string) (LeaveResult, bool) {
	rm, ok := d.rooms[roomID]
	if !ok {
		return LeaveResult{}, false
	}
	userID, member := rm.members[connID]
	if !member {
		return LeaveResult{}, false
	}
	delete(rm.members, connID)

	fullyLeft := rm.userConnections(userID) == 0
	if fullyLeft {
		delete(rm.presence, userID)
	}
	rm.lastActivity = time.Now()

	return LeaveResult{UserCount: len(rm.presence), FullyLeft: fullyLeft}, true
}

// LeaveAll unwinds every membership of one connection; used on disconnect.
// The connection's cached room set is cleared in the same critical section.
func (d *Directory) LeaveAll(c *Connection) []Departure {
	d.mu.Lock()
	defer d.mu.Unlock()

	var departures []Departure
	for roomID, rm := range d.rooms {
		if _, member := rm.members[c.ID]; !member {
			continue
		}
		res, _ := d.leaveLocked(roomID, c.ID)
		departures = append(departures, Departure{
			RoomID:    roomID,
			UserCount: res.UserCount,
			FullyLeft: res.FullyLeft,
		})
	}
	c.clearRooms()
	return departures
}

// UpdatePresence merges fields into an existing Presence record. A stale
// event for a user with no presence in the room is a silent no-op; it must
// never resurrect a record after leave.
func (d *Directory) UpdatePresence(roomID string, userID uuid.UUID, update PresenceUpdate) (Presence, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rm, ok := d.rooms[roomID]
	if !ok {
		return Presence{}, false
	}
	p, ok := rm.presence[userID]
	if !ok {
		return Presence{}, false
	}

	if update.Cursor != nil {
		p.Cursor = update.Cursor
	}
	if update.Status != nil {
		p.Status = *update.Status
	}
	if update.TypingCell != nil {
		p.TypingCell = *update.TypingCell
	}
	p.LastSeen = time.Now()
	rm.lastActivity = time.Now()

	return *p, true
}

// Snapshot returns the room's current users and active documents.
func (d *Directory) Snapshot(roomID string) (RoomSnapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rm, ok := d.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}

	snap := RoomSnapshot{
		RoomID:          roomID,
		Users:           make([]Presence, 0, len(rm.presence)),
		ActiveDocuments: make([]string, 0, len(rm.activeDocuments)),
		UserCount:       len(rm.presence),
	}
	for _, p := range rm.presence {
		snap.Users = append(snap.Users, *p)
	}
	for doc := range rm.activeDocuments {
		snap.ActiveDocuments = append(snap.ActiveDocuments, doc)
	}
	sort.Strings(snap.ActiveDocuments)
	return snap, true
}

// MembersOf maps each member connection id to its user id.
func (d *Directory) MembersOf(roomID string) map[string]uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()

	rm, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make(map[string]uuid.UUID, len(rm.members))
	for connID, userID := range rm.members {
		out[connID] = userID
	}
	return out
}

// UsersOf returns the user ids currently present in the room.
func (d *Directory) UsersOf(roomID string) []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()

	rm, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(rm.presence))
	for uid := range rm.presence {
		out = append(out, uid)
	}
	return out
}

// TouchActivity bumps the room's last-activity timestamp.
func (d *Directory) TouchActivity(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rm, ok := d.rooms[roomID]; ok {
		rm.lastActivity = time.Now()
	}
}

// MarkDocumentActive records a sub-document as active in the room.
func (d *Directory) MarkDocumentActive(roomID, documentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rm, ok := d.rooms[roomID]; ok {
		rm.activeDocuments[documentID] = struct{}{}
		rm.lastActivity = time.Now()
	}
}

// Summary lists per-room stats for the operational surface.
func (d *Directory) Summary() []RoomStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]RoomStats, 0, len(d.rooms))
	for _, rm := range d.rooms {
		out = append(out, RoomStats{
			RoomID:          rm.id,
			UserCount:       len(rm.presence),
			ConnectionCount: len(rm.members),
			ActiveDocuments: len(rm.activeDocuments),
			CreatedAt:       rm.createdAt,
			LastActivity:    rm.lastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (d *Directory) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// EvictIdle removes rooms that have been empty for longer than maxIdle.
// Correctness never depends on eviction; this only bounds memory.
func (d *Directory) EvictIdle(maxIdle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	evicted := 0
	for id, rm := range d.rooms {
		if len(rm.members) == 0 && rm.lastActivity.Before(cutoff) {
			delete(d.rooms, id)
			evicted++
		}
	}
	return evicted
}

// Clear drops every room; used at the end of a process-wide drain.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = make(map[string]*room)
}
