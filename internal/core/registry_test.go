package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndDeregister(t *testing.T) {
	reg := NewRegistry()
	a1 := NewClient("a1", 0)
	a2 := NewClient("a2", 0)

	assert.True(t, reg.Register("alice", a1), "first connection brings alice online")
	assert.False(t, reg.Register("alice", a2))
	assert.False(t, reg.Register("alice", a1), "re-registering is a no-op")

	assert.True(t, reg.IsOnline("alice"))
	assert.Len(t, reg.ConnectionsFor("alice"), 2)

	owner, offline := reg.Deregister(a1)
	assert.Equal(t, "alice", owner)
	assert.False(t, offline)
	assert.True(t, reg.IsOnline("alice"))

	owner, offline = reg.Deregister(a2)
	assert.Equal(t, "alice", owner)
	assert.True(t, offline)
	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.OnlineIdentities())
}

func TestRegistryDoubleDeregisterIsNoop(t *testing.T) {
	reg := NewRegistry()
	c := NewClient("c", 0)
	reg.Register("bob", c)

	_, offline := reg.Deregister(c)
	require.True(t, offline)

	owner, offline := reg.Deregister(c)
	assert.Empty(t, owner)
	assert.False(t, offline)

	owner, offline = reg.Deregister(NewClient("never", 0))
	assert.Empty(t, owner)
	assert.False(t, offline)
}

func TestRegistrySnapshotIsDetached(t *testing.T) {
	reg := NewRegistry()
	c := NewClient("c", 0)
	reg.Register("bob", c)

	snap := reg.ConnectionsFor("bob")
	reg.Deregister(c)

	assert.Len(t, snap, 1)
	assert.Empty(t, reg.ConnectionsFor("bob"))
}

func TestRegistryStats(t *testing.T) {
	reg := NewRegistry()
	a := NewClient("a", 0)
	b1 := NewClient("b1", 0)
	b2 := NewClient("b2", 0)
	reg.Register("alice", a)
	reg.Register("bob", b1)
	reg.Register("bob", b2)
	reg.countSent()
	reg.countSent()

	st := reg.Stats()
	assert.Equal(t, 2, st.OnlineUsers)
	assert.Equal(t, 3, st.ActiveConnections)
	assert.EqualValues(t, 3, st.TotalConnections)
	assert.EqualValues(t, 2, st.TotalMessagesSent)
	assert.Equal(t, []string{"alice", "bob"}, st.OnlineIdentities)

	reg.Deregister(b1)
	reg.Deregister(a)
	st = reg.Stats()
	assert.Equal(t, 1, st.OnlineUsers)
	assert.Equal(t, 1, st.ActiveConnections)
	assert.EqualValues(t, 3, st.TotalConnections, "lifetime counter never decreases")
}
