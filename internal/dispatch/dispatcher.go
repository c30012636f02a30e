// Package dispatch delivers events to logical targets: a user, a
// conversation, or a group. Targets resolve to live connections at
// dispatch time; delivery to zero connections is not an error.
package dispatch

import (
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"go.uber.org/zap"
)

// RoomIndex resolves a room name to its live subscribers.
type RoomIndex interface {
	Subscribers(room string) []*registry.Conn
}

// membershipKinds are the group event kinds replicated to the linked
// conversation's room so clients following the conversation view stay
// consistent.
var membershipKinds = map[string]bool{
	event.MemberAdded:       true,
	event.MemberRemoved:     true,
	event.MemberLeft:        true,
	event.MemberRoleUpdated: true,
	event.GroupUpdated:      true,
	event.GroupDissolved:    true,
}

// Dispatcher fans events out to live connections. Every payload is stamped
// with a server-side timestamp at dispatch time, and per-recipient failures
// never abort delivery to the rest.
type Dispatcher struct {
	registry *registry.Registry
	rooms    RoomIndex
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates a dispatcher.
func New(reg *registry.Registry, rooms RoomIndex, db *store.DB, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		rooms:    rooms,
		db:       db,
		bus:      b,
		logger:   logger,
	}
}

// ToUser delivers to every live connection of the identity.
func (d *Dispatcher) ToUser(userID, kind string, payload any) {
	env := d.stamp(kind, payload)
	n := 0
	for _, c := range d.registry.Connections(userID) {
		if d.deliver(c, env) {
			n++
		}
	}
	d.bus.Publish("dispatch."+kind, n)
}

// ToConversation delivers to the conversation room's subscribers and,
// independently, directly to every participant's connections. The dual
// delivery exists because a participant may not have the room joined yet
// must still see the event on any live connection. Each connection
// receives the event at most once.
func (d *Dispatcher) ToConversation(conversationID, kind string, payload any) {
	env := d.stamp(kind, payload)
	delivered := make(map[*registry.Conn]bool)
	n := 0

	for _, c := range d.rooms.Subscribers(event.ConversationRoom(conversationID)) {
		if !delivered[c] {
			delivered[c] = true
			if d.deliver(c, env) {
				n++
			}
		}
	}

	participants, err := d.db.Participants(conversationID)
	if err != nil {
		// The room delivery already went out; direct delivery degrades.
		d.logger.Error("participant lookup failed during fan-out",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	for _, userID := range participants {
		for _, c := range d.registry.Connections(userID) {
			if !delivered[c] {
				delivered[c] = true
				if d.deliver(c, env) {
					n++
				}
			}
		}
	}
	d.bus.Publish("dispatch."+kind, n)
}

// ToGroup delivers to the group's room and, for membership-affecting event
// kinds, replicates to the linked conversation's room.
func (d *Dispatcher) ToGroup(groupID, kind string, payload any) {
	env := d.stamp(kind, payload)
	delivered := make(map[*registry.Conn]bool)
	n := 0

	for _, c := range d.rooms.Subscribers(event.GroupRoom(groupID)) {
		if !delivered[c] {
			delivered[c] = true
			if d.deliver(c, env) {
				n++
			}
		}
	}

	if membershipKinds[kind] {
		group, err := d.db.GetGroup(groupID)
		if err != nil {
			d.logger.Error("group lookup failed during fan-out",
				zap.String("group_id", groupID), zap.Error(err))
		}
		if group != nil {
			for _, c := range d.rooms.Subscribers(event.ConversationRoom(group.ConversationID)) {
				if !delivered[c] {
					delivered[c] = true
					if d.deliver(c, env) {
						n++
					}
				}
			}
		}
	}
	d.bus.Publish("dispatch."+kind, n)
}

// ToRoom delivers to the room's current subscribers only.
func (d *Dispatcher) ToRoom(room, kind string, payload any) {
	env := d.stamp(kind, payload)
	n := 0
	for _, c := range d.rooms.Subscribers(room) {
		if d.deliver(c, env) {
			n++
		}
	}
	d.bus.Publish("dispatch."+kind, n)
}

// ToConn delivers to a single connection (caller-only responses such as
// error events).
func (d *Dispatcher) ToConn(c *registry.Conn, kind string, payload any) {
	d.deliver(c, d.stamp(kind, payload))
}

func (d *Dispatcher) stamp(kind string, payload any) event.Envelope {
	return event.Envelope{Event: kind, Timestamp: time.Now(), Data: payload}
}

func (d *Dispatcher) deliver(c *registry.Conn, env event.Envelope) bool {
	if err := c.Deliver(env); err != nil {
		d.logger.Debug("delivery failed",
			zap.String("conn_id", c.ID),
			zap.String("event", env.Event),
			zap.Error(err))
		d.bus.Publish("dispatch.dropped", c.ID)
		return false
	}
	return true
}
