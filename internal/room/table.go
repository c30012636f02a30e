// Package room manages the broadcast channels live connections subscribe
// to and the authorization gate in front of them.
package room

import (
	"sync"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
)

// Table is the subscription index: room name → live subscribers, plus the
// inverse per-connection index for O(1) teardown. Subscriptions exist only
// while the owning connection is alive.
type Table struct {
	mu     sync.RWMutex
	rooms  map[string]map[*registry.Conn]struct{}
	byConn map[*registry.Conn]map[string]struct{}
}

// NewTable creates an empty subscription table.
func NewTable() *Table {
	return &Table{
		rooms:  make(map[string]map[*registry.Conn]struct{}),
		byConn: make(map[*registry.Conn]map[string]struct{}),
	}
}

// Join subscribes the connection to a room. Returns false when it was
// already subscribed.
func (t *Table) Join(c *registry.Conn, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := t.rooms[room]
	if subs == nil {
		subs = make(map[*registry.Conn]struct{})
		t.rooms[room] = subs
	}
	if _, ok := subs[c]; ok {
		return false
	}
	subs[c] = struct{}{}

	joined := t.byConn[c]
	if joined == nil {
		joined = make(map[string]struct{})
		t.byConn[c] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave unsubscribes the connection from a room. Returns false when it was
// not subscribed.
func (t *Table) Leave(c *registry.Conn, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(c, room)
}

func (t *Table) leaveLocked(c *registry.Conn, room string) bool {
	subs := t.rooms[room]
	if _, ok := subs[c]; !ok {
		return false
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(t.rooms, room)
	}
	joined := t.byConn[c]
	delete(joined, room)
	if len(joined) == 0 {
		delete(t.byConn, c)
	}
	return true
}

// LeaveAll removes every subscription of the connection and returns the
// rooms it left.
func (t *Table) LeaveAll(c *registry.Conn) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	joined := t.byConn[c]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		t.leaveLocked(c, room)
	}
	return rooms
}

// Subscribers returns a snapshot of the room's live subscribers.
func (t *Table) Subscribers(room string) []*registry.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs := t.rooms[room]
	conns := make([]*registry.Conn, 0, len(subs))
	for c := range subs {
		conns = append(conns, c)
	}
	return conns
}

// Contains reports whether the connection is subscribed to the room.
func (t *Table) Contains(c *registry.Conn, room string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[room][c]
	return ok
}
