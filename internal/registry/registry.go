// Package registry is the process-wide source of truth for which
// identities are reachable over which live connections.
package registry

import (
	"time"

	"sync"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"go.uber.org/zap"
)

// Registry maintains the identity ↔ connection indices. An identity is
// online iff its connection set is non-empty; the first-connection and
// last-connection transitions are computed under one lock so concurrent
// (dis)connects from the same identity's devices fire each presence
// broadcast exactly once.
type Registry struct {
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	byUser map[string]map[*Conn]struct{}

	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty registry.
func New(b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[*Conn]struct{}),
		byUser: make(map[string]map[*Conn]struct{}),
		bus:    b,
		logger: logger,
	}
}

// Register binds a connection to its identity. The first live connection
// for a previously-offline identity broadcasts a came-online event to all
// connections.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; ok {
		return
	}
	set := r.byUser[c.User.ID]
	cameOnline := len(set) == 0
	if set == nil {
		set = make(map[*Conn]struct{})
		r.byUser[c.User.ID] = set
	}
	set[c] = struct{}{}
	r.conns[c] = struct{}{}

	if cameOnline {
		r.broadcastLocked(event.Envelope{
			Event:     event.UserStatus(c.User.ID),
			Timestamp: time.Now(),
			Data:      event.PresencePayload{UserID: c.User.ID, Online: true},
		})
		r.bus.Publish("presence.online", c.User.ID)
		r.logger.Info("user online", zap.String("user_id", c.User.ID))
	}
}

// Unregister removes a connection. Removing the last connection of an
// identity broadcasts a went-offline event (with a last-seen timestamp)
// exactly once. Unknown connections are a no-op, not an error.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	set := r.byUser[c.User.ID]
	delete(set, c)
	if len(set) > 0 {
		return
	}
	delete(r.byUser, c.User.ID)

	lastSeen := time.Now()
	r.broadcastLocked(event.Envelope{
		Event:     event.UserStatus(c.User.ID),
		Timestamp: lastSeen,
		Data:      event.PresencePayload{UserID: c.User.ID, Online: false, LastSeen: lastSeen.UnixMilli()},
	})
	r.bus.Publish("presence.offline", c.User.ID)
	r.logger.Info("user offline", zap.String("user_id", c.User.ID))
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// ListOnline returns the identities currently online.
func (r *Registry) ListOnline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// Connections returns a snapshot of the identity's live connections
// (possibly empty).
func (r *Registry) Connections(userID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[userID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// ConnCount returns the number of live connections.
func (r *Registry) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcast delivers an event to every live connection. Per-recipient
// failures are swallowed.
func (r *Registry) Broadcast(env event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(env)
}

func (r *Registry) broadcastLocked(env event.Envelope) {
	for c := range r.conns {
		if err := c.Deliver(env); err != nil {
			r.logger.Debug("broadcast delivery failed",
				zap.String("conn_id", c.ID), zap.Error(err))
		}
	}
}
