package message

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/dispatch"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/identity"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/room"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"go.uber.org/zap"
)

type harness struct {
	db     *store.DB
	reg    *registry.Registry
	engine *Engine
}

func newHarness(t *testing.T, recallWindow time.Duration) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg := registry.New(bus.New(), zap.NewNop())
	d := dispatch.New(reg, room.NewTable(), db, bus.New(), zap.NewNop())
	return &harness{
		db:     db,
		reg:    reg,
		engine: NewEngine(db, d, recallWindow, zap.NewNop()),
	}
}

func (h *harness) seedUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := h.db.UpsertUser(&store.User{ID: id, DisplayName: id, CreatedAt: 1}); err != nil {
			t.Fatal(err)
		}
	}
}

func (h *harness) direct(t *testing.T, a, b string) *store.Conversation {
	t.Helper()
	conv, _, err := h.db.GetOrCreateDirect(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func (h *harness) group(t *testing.T, creator string, members ...string) *store.Group {
	t.Helper()
	g := &store.Group{Name: "team", CreatorID: creator}
	if err := h.db.CreateGroup(g, members); err != nil {
		t.Fatal(err)
	}
	return g
}

func (h *harness) connect(t *testing.T, userID string) *registry.Conn {
	t.Helper()
	c := registry.NewConn(identity.Identity{ID: userID, DisplayName: userID}, 16)
	h.reg.Register(c)
	t.Cleanup(func() { h.reg.Unregister(c); c.Close() })
	// Discard presence envelopes queued on registration.
	for {
		select {
		case <-c.Outbound():
		default:
			return c
		}
	}
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

func TestSendValidatesContent(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	conv := h.direct(t, "alice", "bob")

	cases := []struct {
		desc string
		in   SendInput
	}{
		{"empty text", SendInput{ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText}},
		{"image without attachments", SendInput{ConversationID: conv.ID, SenderID: "alice", Type: store.TypeImage, Content: "x"}},
		{"reserved system type", SendInput{ConversationID: conv.ID, SenderID: "alice", Type: store.TypeSystem, Content: "x"}},
		{"unknown type", SendInput{ConversationID: conv.ID, SenderID: "alice", Type: "sticker", Content: "x"}},
	}
	for _, tc := range cases {
		if _, err := h.engine.Send(tc.in); !fault.IsKind(err, fault.InvalidState) {
			t.Errorf("%s: err = %v, want invalid_state fault", tc.desc, err)
		}
	}

	// A rejected send leaves no trace.
	msgs, err := h.db.ListMessages(conv.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("rejected sends persisted %d messages", len(msgs))
	}
}

func TestSendRequiresParticipant(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob", "mallory")
	conv := h.direct(t, "alice", "bob")

	_, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "mallory", Type: store.TypeText, Content: "hi",
	})
	if !fault.IsKind(err, fault.Authorization) {
		t.Errorf("err = %v, want authorization fault", err)
	}

	_, err = h.engine.Send(SendInput{
		ConversationID: "nope", SenderID: "alice", Type: store.TypeText, Content: "hi",
	})
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("err = %v, want not_found fault", err)
	}
}

func TestSendNotifiesAndTouchesFriendship(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	if _, err := h.db.AddFriendship("alice", "bob"); err != nil {
		t.Fatal(err)
	}
	conv := h.direct(t, "alice", "bob")
	bobConn := h.connect(t, "bob")

	msg, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	env := recv(t, bobConn)
	if env.Event != event.NewMessage {
		t.Fatalf("bob got %q, want %q", env.Event, event.NewMessage)
	}
	if payload := env.Data.(event.NewMessagePayload); payload.Message.ID != msg.ID {
		t.Errorf("payload message = %s, want %s", payload.Message.ID, msg.ID)
	}

	f, err := h.db.GetFriendship("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if f.LastInteractionAt != msg.CreatedAt {
		t.Errorf("last_interaction_at = %d, want %d", f.LastInteractionAt, msg.CreatedAt)
	}
}

func TestMentionsFilteredAndNotifiedDirectly(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob", "carol", "outsider")
	g := h.group(t, "alice", "bob", "carol")
	bobConn := h.connect(t, "bob")

	msg, err := h.engine.SendWithMentions(g.ConversationID, "alice", "hey @bob",
		[]string{"bob", "bob", "outsider"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0] != "bob" {
		t.Errorf("mentions = %v, want [bob] (dedup, outsider dropped)", msg.Mentions)
	}

	// Bob gets both the conversation broadcast and the direct mention.
	seen := map[string]bool{}
	seen[recv(t, bobConn).Event] = true
	seen[recv(t, bobConn).Event] = true
	if !seen[event.NewMessage] || !seen[event.Mention] {
		t.Errorf("bob saw %v, want new_message and mention", seen)
	}
}

func TestReplyTargetMustExistInSameConversation(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob", "carol")
	conv := h.direct(t, "alice", "bob")
	other := h.direct(t, "alice", "carol")

	if _, err := h.engine.Reply(conv.ID, "alice", "re", "missing"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("missing target err = %v, want not_found fault", err)
	}

	elsewhere, err := h.engine.Send(SendInput{
		ConversationID: other.ID, SenderID: "alice", Type: store.TypeText, Content: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Reply(conv.ID, "alice", "re", elsewhere.ID); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("cross-conversation target err = %v, want not_found fault", err)
	}

	// Replying to recalled content stays permitted.
	target, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "bob", Type: store.TypeText, Content: "original",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Recall(target.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	reply, err := h.engine.Reply(conv.ID, "alice", "still replying", target.ID)
	if err != nil {
		t.Fatalf("reply to recalled message rejected: %v", err)
	}
	if reply.ReplyToID != target.ID {
		t.Errorf("reply_to = %s, want %s", reply.ReplyToID, target.ID)
	}
}

func TestForwardCopiesContentAndRejectsRetracted(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob", "carol")
	src := h.direct(t, "alice", "bob")
	dst := h.direct(t, "alice", "carol")

	original, err := h.engine.Send(SendInput{
		ConversationID: src.ID, SenderID: "alice", Type: store.TypeText, Content: "payload",
	})
	if err != nil {
		t.Fatal(err)
	}

	fwd, err := h.engine.Forward(original.ID, dst.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if fwd.Content != "payload" || fwd.ForwardedFromID != original.ID || fwd.SenderID != "alice" {
		t.Errorf("forward = %+v, want copied content with provenance", fwd)
	}

	// A message the forwarder deleted cannot travel.
	if err := h.engine.Delete(original.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Forward(original.ID, dst.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("deleted source err = %v, want invalid_state fault", err)
	}

	// Nor a recalled one.
	second, err := h.engine.Send(SendInput{
		ConversationID: src.ID, SenderID: "alice", Type: store.TypeText, Content: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Recall(second.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Forward(second.ID, dst.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("recalled source err = %v, want invalid_state fault", err)
	}
}

func TestMarkReadIdempotentAndSelfRejected(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	conv := h.direct(t, "alice", "bob")
	aliceConn := h.connect(t, "alice")

	msg, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	recv(t, aliceConn) // own new_message broadcast

	if err := h.engine.MarkRead(msg.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("self-read err = %v, want invalid_state fault", err)
	}

	if err := h.engine.MarkRead(msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if env := recv(t, aliceConn); env.Event != event.MessageRead {
		t.Errorf("sender got %q, want %q", env.Event, event.MessageRead)
	}

	// Re-reading produces no second receipt and no second event.
	if err := h.engine.MarkRead(msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	assertSilent(t, aliceConn)
	receipts, err := h.db.Receipts(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 {
		t.Errorf("receipts = %d, want 1", len(receipts))
	}
}

func TestMarkReadSurvivesRecall(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	conv := h.direct(t, "alice", "bob")

	msg, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: "gone soon",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Recall(msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	// Receipts track the read state, not the content.
	if err := h.engine.MarkRead(msg.ID, "bob"); err != nil {
		t.Errorf("read after recall rejected: %v", err)
	}
}

func TestMarkReadGroupUpdatesMemberPointer(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	g := h.group(t, "alice", "bob")

	msg, err := h.engine.Send(SendInput{
		ConversationID: g.ConversationID, SenderID: "alice", Type: store.TypeText, Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.engine.MarkRead(msg.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	m, err := h.db.GetGroupMember(g.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if m.LastReadMessageID != msg.ID {
		t.Errorf("last_read = %s, want %s", m.LastReadMessageID, msg.ID)
	}
}

func TestMarkConversationReadReportsCount(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	conv := h.direct(t, "alice", "bob")
	aliceConn := h.connect(t, "alice")

	for _, content := range []string{"one", "two"} {
		if _, err := h.engine.Send(SendInput{
			ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: content,
		}); err != nil {
			t.Fatal(err)
		}
		recv(t, aliceConn)
	}

	n, err := h.engine.MarkConversationRead(conv.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked %d, want 2", n)
	}
	env := recv(t, aliceConn)
	if env.Event != event.MessagesRead {
		t.Fatalf("got %q, want %q", env.Event, event.MessagesRead)
	}
	if payload := env.Data.(event.ConversationReadPayload); payload.Count != 2 {
		t.Errorf("count = %d, want 2", payload.Count)
	}

	// Nothing newly read, nothing broadcast.
	n, err = h.engine.MarkConversationRead(conv.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second pass marked %d, want 0", n)
	}
	assertSilent(t, aliceConn)
}

func TestRecallSenderOnlyWithinWindow(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.seedUsers(t, "alice", "bob")
	conv := h.direct(t, "alice", "bob")
	bobConn := h.connect(t, "bob")

	msg, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: "oops",
	})
	if err != nil {
		t.Fatal(err)
	}
	recv(t, bobConn) // new_message

	if _, err := h.engine.Recall(msg.ID, "bob"); !fault.IsKind(err, fault.Authorization) {
		t.Errorf("non-sender recall err = %v, want authorization fault", err)
	}

	recalled, err := h.engine.Recall(msg.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !recalled.Recalled || recalled.Content != "" || recalled.Type != store.TypeRecalled {
		t.Errorf("recalled = %+v, want cleared content", recalled)
	}
	if env := recv(t, bobConn); env.Event != event.MessageRecalled {
		t.Errorf("bob got %q, want %q", env.Event, event.MessageRecalled)
	}

	if _, err := h.engine.Recall(msg.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("double recall err = %v, want invalid_state fault", err)
	}

	// Past the window recall is refused.
	late, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: "too old",
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := h.engine.Recall(late.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("expired recall err = %v, want invalid_state fault", err)
	}
}

func TestDeleteHidesForCallerOnly(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")
	conv := h.direct(t, "alice", "bob")

	msg, err := h.engine.Send(SendInput{
		ConversationID: conv.ID, SenderID: "alice", Type: store.TypeText, Content: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Delete(msg.ID, "bob"); !fault.IsKind(err, fault.Authorization) {
		t.Errorf("non-sender delete err = %v, want authorization fault", err)
	}
	if err := h.engine.Delete(msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Delete(msg.ID, "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("double delete err = %v, want invalid_state fault", err)
	}

	forAlice, err := h.engine.History(conv.ID, "alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(forAlice) != 0 {
		t.Errorf("alice sees %d messages, want 0", len(forAlice))
	}
	forBob, err := h.engine.History(conv.ID, "bob", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(forBob) != 1 || forBob[0].Content != "hello" {
		t.Errorf("bob's view = %+v, want the original message", forBob)
	}
}

func TestOpenDirectIsIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob")

	if _, err := h.engine.OpenDirect("alice", "alice"); !fault.IsKind(err, fault.InvalidState) {
		t.Errorf("self conversation err = %v, want invalid_state fault", err)
	}
	if _, err := h.engine.OpenDirect("alice", "ghost"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("unknown user err = %v, want not_found fault", err)
	}

	first, err := h.engine.OpenDirect("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.engine.OpenDirect("bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("got two conversations %s / %s for one pair", first.ID, second.ID)
	}
}

func TestHistoryRequiresParticipant(t *testing.T) {
	h := newHarness(t, 0)
	h.seedUsers(t, "alice", "bob", "mallory")
	conv := h.direct(t, "alice", "bob")

	if _, err := h.engine.History(conv.ID, "mallory", 0, 10); !fault.IsKind(err, fault.Authorization) {
		t.Errorf("outsider history err = %v, want authorization fault", err)
	}
}
