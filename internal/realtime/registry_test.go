package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	c, _ := connectUser(registry, uuid.New(), "alice")

	got, ok := registry.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, c.UserID, got.UserID)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_DuplicateIDRejected(t *testing.T) {
	registry := NewRegistry()
	c, _ := connectUser(registry, uuid.New(), "alice")

	err := registry.Register(c)
	assert.ErrorIs(t, err, ErrDuplicateConnection)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	c, _ := connectUser(registry, uuid.New(), "alice")

	assert.NotNil(t, registry.Unregister(c.ID))
	assert.Nil(t, registry.Unregister(c.ID))
	assert.Nil(t, registry.Unregister("no-such-id"))
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_ConnectionsOfUser(t *testing.T) {
	registry := NewRegistry()
	userID := uuid.New()

	c1, _ := connectUser(registry, userID, "alice")
	c2, _ := connectUser(registry, userID, "alice")
	connectUser(registry, uuid.New(), "bob")

	conns := registry.ConnectionsOfUser(userID)
	require.Len(t, conns, 2)

	registry.Unregister(c1.ID)
	conns = registry.ConnectionsOfUser(userID)
	require.Len(t, conns, 1)
	assert.Equal(t, c2.ID, conns[0].ID)

	registry.Unregister(c2.ID)
	assert.Empty(t, registry.ConnectionsOfUser(userID))
}

func TestRegistry_TouchHeartbeat(t *testing.T) {
	registry := NewRegistry()
	c, _ := connectUser(registry, uuid.New(), "alice")

	before := c.LastHeartbeat()
	assert.True(t, registry.TouchHeartbeat(c.ID))
	assert.False(t, c.LastHeartbeat().Before(before))
	assert.False(t, registry.TouchHeartbeat("no-such-id"))
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()
	connectUser(registry, uuid.New(), "alice")
	connectUser(registry, uuid.New(), "bob")

	registry.Clear()
	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.All())
}
