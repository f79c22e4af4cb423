package realtime

import (
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcaster computes target connection sets and performs best-effort
// delivery. A failure on one connection never aborts delivery to the rest;
// the failed connection is handed to the cleanup hook as if it disconnected.
type Broadcaster struct {
	registry *Registry
	rooms    *Directory
	logger   *zap.Logger

	sentTotal atomic.Uint64

	// onSendFailure runs asynchronously for a connection whose transport
	// rejected a frame. Set by the manager to its disconnect path.
	onSendFailure func(connID string)
}

func NewBroadcaster(registry *Registry, rooms *Directory, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
	}
}

// SetFailureHandler wires the asynchronous cleanup path for dead connections.
func (b *Broadcaster) SetFailureHandler(fn func(connID string)) {
	b.onSendFailure = fn
}

// SentTotal is the monotonic count of confirmed dispatches (not receipts).
func (b *Broadcaster) SentTotal() uint64 {
	return b.sentTotal.Load()
}

// ToRoom delivers to every connection of every user present in the room,
// minus the excluded connection id. Targets are resolved through the room's
// presence map so all tabs of each present user are reached.
func (b *Broadcaster) ToRoom(roomID string, payload []byte, excludeConnID string) int {
	members := b.rooms.MembersOf(roomID)
	if members == nil {
		return 0
	}

	seen := make(map[string]struct{}, len(members))
	sent := 0
	for _, userID := range members {
		for _, c := range b.registry.ConnectionsOfUser(userID) {
			if c.ID == excludeConnID {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			if b.deliver(c, payload) {
				sent++
			}
		}
	}
	return sent
}

// ToUser delivers to every connection of one user (all tabs).
func (b *Broadcaster) ToUser(userID uuid.UUID, payload []byte) int {
	sent := 0
	for _, c := range b.registry.ConnectionsOfUser(userID) {
		if b.deliver(c, payload) {
			sent++
		}
	}
	return sent
}

// ToSubscribers delivers to every connection whose notification subscription
// matches. An absent list on any dimension means match-all.
func (b *Broadcaster) ToSubscribers(payload []byte, category, module, priority string) int {
	sent := 0
	for _, c := range b.registry.All() {
		sub := c.Subscription()
		if sub == nil {
			continue
		}
		if !sub.Matches(category, module, priority) {
			continue
		}
		if b.deliver(c, payload) {
			sent++
		}
	}
	return sent
}

func (b *Broadcaster) deliver(c *Connection, payload []byte) bool {
	if err := c.Send(payload); err != nil {
		b.logger.Warn("broadcast delivery failed, scheduling cleanup",
			zap.String("connectionId", c.ID),
			zap.String("userId", c.UserID.String()),
			zap.Error(err))
		if b.onSendFailure != nil {
			go b.onSendFailure(c.ID)
		}
		return false
	}
	b.sentTotal.Add(1)
	return true
}
