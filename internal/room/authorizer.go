package room

import (
	"sync"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/dispatch"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"go.uber.org/zap"
)

// Authorizer decides whether a connection may subscribe to a room. Every
// join re-validates membership against the store at call time; nothing is
// cached across calls. Failures are reported to the caller only, never
// broadcast.
type Authorizer struct {
	db         *store.DB
	table      *Table
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	// activeGroups tracks, per identity, which groups have at least one
	// of the identity's connections subscribed.
	mu           sync.Mutex
	activeGroups map[string]map[string]int
	connGroups   map[*registry.Conn]map[string]struct{}
}

// NewAuthorizer creates an authorizer over the given table.
func NewAuthorizer(db *store.DB, table *Table, d *dispatch.Dispatcher, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		db:           db,
		table:        table,
		dispatcher:   d,
		logger:       logger,
		activeGroups: make(map[string]map[string]int),
		connGroups:   make(map[*registry.Conn]map[string]struct{}),
	}
}

// JoinConversation subscribes the connection to a conversation room after
// re-validating that its identity is a current participant. Subscribers
// present before the join are notified with the joiner's display identity.
func (a *Authorizer) JoinConversation(c *registry.Conn, conversationID string) error {
	conv, err := a.db.GetConversation(conversationID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "conversation lookup")
	}
	if conv == nil {
		return fault.New(fault.NotFound, "conversation not found")
	}
	ok, err := a.db.IsParticipant(conversationID, c.User.ID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "participant lookup")
	}
	if !ok {
		return fault.New(fault.Authorization, "not authorized for this conversation")
	}

	room := event.ConversationRoom(conversationID)
	a.notifyJoin(c, room)
	a.table.Join(c, room)
	return nil
}

// LeaveConversation unsubscribes unconditionally (no re-check) and notifies
// the remaining room subscribers.
func (a *Authorizer) LeaveConversation(c *registry.Conn, conversationID string) {
	room := event.ConversationRoom(conversationID)
	if a.table.Leave(c, room) {
		a.dispatcher.ToRoom(room, event.UserLeft, event.RoomPresencePayload{
			Room:   room,
			UserID: c.User.ID,
		})
	}
}

// JoinGroup subscribes the connection to both the group's room and its
// linked conversation's room after re-validating current membership, and
// records the group in the identity's active-group set.
func (a *Authorizer) JoinGroup(c *registry.Conn, groupID string) error {
	group, err := a.db.GetGroup(groupID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "group lookup")
	}
	if group == nil || !group.Active {
		return fault.New(fault.NotFound, "group not found")
	}
	member, err := a.db.GetGroupMember(groupID, c.User.ID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if member == nil {
		return fault.New(fault.Authorization, "not a member of this group")
	}

	groupRoom := event.GroupRoom(groupID)
	a.notifyJoin(c, groupRoom)
	a.table.Join(c, groupRoom)
	a.table.Join(c, event.ConversationRoom(group.ConversationID))
	a.trackGroup(c, groupID)
	return nil
}

// Typing relays a typing indicator to the conversation room. The sender
// must already be subscribed; indicators are ephemeral and never persisted.
func (a *Authorizer) Typing(c *registry.Conn, conversationID string, typing bool) error {
	room := event.ConversationRoom(conversationID)
	if !a.table.Contains(c, room) {
		return fault.New(fault.Authorization, "not subscribed to this conversation")
	}
	a.dispatcher.ToRoom(room, event.TypingIndicator, event.TypingPayload{
		ConversationID: conversationID,
		UserID:         c.User.ID,
		Typing:         typing,
	})
	return nil
}

// ActiveGroups returns the groups the identity currently has subscribed
// connections in.
func (a *Authorizer) ActiveGroups(userID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := a.activeGroups[userID]
	groups := make([]string, 0, len(set))
	for id := range set {
		groups = append(groups, id)
	}
	return groups
}

// ReleaseConn deterministically drops every subscription the connection
// holds, notifying each room's remaining subscribers. Called on teardown.
func (a *Authorizer) ReleaseConn(c *registry.Conn) {
	for _, room := range a.table.LeaveAll(c) {
		a.dispatcher.ToRoom(room, event.UserLeft, event.RoomPresencePayload{
			Room:   room,
			UserID: c.User.ID,
		})
	}
	a.untrackGroups(c)
}

// notifyJoin notifies the subscribers present before the join, carrying
// the joiner's display identity for UI attribution.
func (a *Authorizer) notifyJoin(c *registry.Conn, room string) {
	a.dispatcher.ToRoom(room, event.UserJoined, event.RoomPresencePayload{
		Room:        room,
		UserID:      c.User.ID,
		DisplayName: c.User.DisplayName,
	})
}

func (a *Authorizer) trackGroup(c *registry.Conn, groupID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	groups := a.connGroups[c]
	if groups == nil {
		groups = make(map[string]struct{})
		a.connGroups[c] = groups
	}
	if _, ok := groups[groupID]; ok {
		return
	}
	groups[groupID] = struct{}{}

	active := a.activeGroups[c.User.ID]
	if active == nil {
		active = make(map[string]int)
		a.activeGroups[c.User.ID] = active
	}
	active[groupID]++
}

func (a *Authorizer) untrackGroups(c *registry.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()

	active := a.activeGroups[c.User.ID]
	for groupID := range a.connGroups[c] {
		active[groupID]--
		if active[groupID] <= 0 {
			delete(active, groupID)
		}
	}
	if len(active) == 0 {
		delete(a.activeGroups, c.User.ID)
	}
	delete(a.connGroups, c)
}
