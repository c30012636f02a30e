package dispatch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/identity"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"go.uber.org/zap"
)

// stubRooms is a fixed room index for tests.
type stubRooms map[string][]*registry.Conn

func (s stubRooms) Subscribers(room string) []*registry.Conn { return s[room] }

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(bus.New(), zap.NewNop())
}

func newConn(t *testing.T, reg *registry.Registry, userID string) *registry.Conn {
	t.Helper()
	c := registry.NewConn(identity.Identity{ID: userID, DisplayName: userID}, 16)
	reg.Register(c)
	t.Cleanup(func() { reg.Unregister(c); c.Close() })
	return c
}

func recv(t *testing.T, c *registry.Conn) event.Envelope {
	t.Helper()
	select {
	case env := <-c.Outbound():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Envelope{}
	}
}

func assertSilent(t *testing.T, c *registry.Conn) {
	t.Helper()
	select {
	case env := <-c.Outbound():
		t.Fatalf("unexpected event %q", env.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

// drainPresence discards the presence events Register queued on already
// connected peers so assertions see only dispatched events.
func drainPresence(c *registry.Conn) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

func seedDirect(t *testing.T, db *store.DB, a, b string) *store.Conversation {
	t.Helper()
	for _, id := range []string{a, b} {
		if err := db.UpsertUser(&store.User{ID: id, DisplayName: id, CreatedAt: 1}); err != nil {
			t.Fatal(err)
		}
	}
	conv, _, err := db.GetOrCreateDirect(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestToConversationReachesRoomAndDirect(t *testing.T) {
	db := testStore(t)
	reg := testRegistry(t)
	conv := seedDirect(t, db, "alice", "bob")

	aliceConn := newConn(t, reg, "alice")
	bobConn := newConn(t, reg, "bob") // participant, room not joined
	drainPresence(aliceConn)
	drainPresence(bobConn)

	rooms := stubRooms{event.ConversationRoom(conv.ID): {aliceConn}}
	d := New(reg, rooms, db, bus.New(), zap.NewNop())

	d.ToConversation(conv.ID, event.NewMessage, event.NewMessagePayload{})

	if env := recv(t, aliceConn); env.Event != event.NewMessage {
		t.Errorf("alice got %q, want %q", env.Event, event.NewMessage)
	}
	if env := recv(t, bobConn); env.Event != event.NewMessage {
		t.Errorf("bob got %q, want %q", env.Event, event.NewMessage)
	}
	// Alice is both a room subscriber and a participant; exactly one copy.
	assertSilent(t, aliceConn)
}

func TestToConversationStampsDispatchTimestamp(t *testing.T) {
	db := testStore(t)
	reg := testRegistry(t)
	conv := seedDirect(t, db, "alice", "bob")
	aliceConn := newConn(t, reg, "alice")
	drainPresence(aliceConn)

	before := time.Now()
	d := New(reg, stubRooms{}, db, bus.New(), zap.NewNop())
	d.ToConversation(conv.ID, event.NewMessage, event.NewMessagePayload{})

	env := recv(t, aliceConn)
	if env.Timestamp.Before(before) || env.Timestamp.After(time.Now()) {
		t.Errorf("timestamp %v not stamped at dispatch time", env.Timestamp)
	}
}

func TestFanoutIsolatesFailedRecipients(t *testing.T) {
	db := testStore(t)
	reg := testRegistry(t)
	conv := seedDirect(t, db, "alice", "bob")

	aliceConn := newConn(t, reg, "alice")
	bobConn := newConn(t, reg, "bob")
	drainPresence(aliceConn)
	drainPresence(bobConn)
	aliceConn.Close() // dead recipient must not abort the rest

	d := New(reg, stubRooms{}, db, bus.New(), zap.NewNop())
	d.ToConversation(conv.ID, event.NewMessage, event.NewMessagePayload{})

	if env := recv(t, bobConn); env.Event != event.NewMessage {
		t.Errorf("bob got %q, want %q", env.Event, event.NewMessage)
	}
}

func TestToGroupReplicatesMembershipKindsToConversation(t *testing.T) {
	db := testStore(t)
	reg := testRegistry(t)
	for _, id := range []string{"alice", "bob"} {
		if err := db.UpsertUser(&store.User{ID: id, DisplayName: id, CreatedAt: 1}); err != nil {
			t.Fatal(err)
		}
	}
	g := &store.Group{Name: "team", CreatorID: "alice"}
	if err := db.CreateGroup(g, []string{"bob"}); err != nil {
		t.Fatal(err)
	}

	groupConn := newConn(t, reg, "alice")
	convConn := newConn(t, reg, "bob") // follows the conversation view only
	drainPresence(groupConn)
	drainPresence(convConn)

	rooms := stubRooms{
		event.GroupRoom(g.ID):                    {groupConn},
		event.ConversationRoom(g.ConversationID): {convConn},
	}
	d := New(reg, rooms, db, bus.New(), zap.NewNop())

	d.ToGroup(g.ID, event.MemberAdded, event.MemberAddedPayload{GroupID: g.ID})
	if env := recv(t, groupConn); env.Event != event.MemberAdded {
		t.Errorf("group room got %q, want %q", env.Event, event.MemberAdded)
	}
	if env := recv(t, convConn); env.Event != event.MemberAdded {
		t.Errorf("conversation room got %q, want %q", env.Event, event.MemberAdded)
	}

	// Non-membership kinds stay in the group room.
	d.ToGroup(g.ID, event.Mention, event.MentionPayload{})
	if env := recv(t, groupConn); env.Event != event.Mention {
		t.Errorf("group room got %q, want %q", env.Event, event.Mention)
	}
	assertSilent(t, convConn)
}

func TestToUserReachesEveryConnection(t *testing.T) {
	db := testStore(t)
	reg := testRegistry(t)

	first := newConn(t, reg, "alice")
	second := newConn(t, reg, "alice")
	drainPresence(first)
	drainPresence(second)

	d := New(reg, stubRooms{}, db, bus.New(), zap.NewNop())
	d.ToUser("alice", event.GroupCreated, event.GroupPayload{})

	for _, c := range []*registry.Conn{first, second} {
		if env := recv(t, c); env.Event != event.GroupCreated {
			t.Errorf("got %q, want %q", env.Event, event.GroupCreated)
		}
	}
}
