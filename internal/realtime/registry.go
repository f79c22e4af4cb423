package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Registry owns the set of live connections and the per-user index used for
// multi-tab fan-out. It never notifies rooms itself; callers coordinate that.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[uuid.UUID]map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[uuid.UUID]map[string]*Connection),
	}
}

// Register stores a newly authenticated connection. A duplicate id is an
// invariant violation surfaced as ErrDuplicateConnection.
func (r *Registry) Register(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID]; exists {
		return ErrDuplicateConnection
	}

	r.conns[c.ID] = c
	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(map[string]*Connection)
	}
	r.byUser[c.UserID][c.ID] = c
	return nil
}

// Unregister removes a connection and returns it. Unknown ids are a no-op
// returning nil; disconnect races are expected and not an error.
func (r *Registry) Unregister(connID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	if userConns, ok := r.byUser[c.UserID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	return c
}

func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// TouchHeartbeat updates the connection's liveness timestamp.
func (r *Registry) TouchHeartbeat(connID string) bool {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.Touch()
	return true
}

// ConnectionsOfUser returns every live connection of one user.
func (r *Registry) ConnectionsOfUser(userID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Clear drops every connection; used at the end of a process-wide drain.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[string]*Connection)
	r.byUser = make(map[uuid.UUID]map[string]*Connection)
}
