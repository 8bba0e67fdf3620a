package core

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry tracks which identities are reachable and through which connections.
// An identity is a key in conns iff it has at least one live connection, and
// owners always mirrors conns.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[Conn]struct{}
	owners map[Conn]string

	totalConnections atomic.Uint64
	totalSent        atomic.Uint64
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	OnlineUsers       int      `json:"total_users_online"`
	ActiveConnections int      `json:"total_active_connections"`
	TotalConnections  uint64   `json:"total_connections_lifetime"`
	TotalMessagesSent uint64   `json:"total_messages_sent"`
	OnlineIdentities  []string `json:"online_users"`
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]map[Conn]struct{}),
		owners: make(map[Conn]string),
	}
}

// Register binds conn to identity. Registering an already known connection is a
// no-op. Returns true if this made the identity go online.
func (r *Registry) Register(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[conn]; exists {
		return false
	}

	set, online := r.conns[identity]
	if !online {
		set = make(map[Conn]struct{})
		r.conns[identity] = set
	}
	set[conn] = struct{}{}
	r.owners[conn] = identity
	r.totalConnections.Add(1)

	return !online
}

// Deregister removes conn and prunes its owner's entry when it was the last one.
// Unknown connections are ignored. Returns the owner and whether the owner went offline.
func (r *Registry) Deregister(conn Conn) (identity string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.owners[conn]
	if !ok {
		return "", false
	}
	delete(r.owners, conn)

	set := r.conns[identity]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.conns, identity)
		return identity, true
	}
	return identity, false
}

// IsOnline reports whether identity has at least one live connection.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns[identity]) > 0
}

// ConnectionsFor returns a snapshot of identity's connections.
func (r *Registry) ConnectionsFor(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[identity]
	out := make([]Conn, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

// OnlineIdentities returns a sorted snapshot of online identities.
func (r *Registry) OnlineIdentities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		out = append(out, identity)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Stats returns live gauges and lifetime counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	online := make([]string, 0, len(r.conns))
	active := 0
	for identity, set := range r.conns {
		online = append(online, identity)
		active += len(set)
	}
	r.mu.RUnlock()

	sort.Strings(online)
	return Stats{
		OnlineUsers:       len(online),
		ActiveConnections: active,
		TotalConnections:  r.totalConnections.Load(),
		TotalMessagesSent: r.totalSent.Load(),
		OnlineIdentities:  online,
	}
}

// countSent records one frame handed to a connection.
func (r *Registry) countSent() {
	r.totalSent.Add(1)
}
