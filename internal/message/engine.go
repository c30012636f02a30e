// Package message enforces the state machine governing a message from
// creation through read-receipt, recall, deletion, and forwarding. The
// engine is the only writer of message state transitions; it persists
// through the store, then asks the dispatcher to notify affected parties.
package message

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/dispatch"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockStripes = 64

// Engine runs message lifecycle transitions. Per-message transitions
// (read, recall, delete) are linearized per message id through striped
// locks so concurrent requests against the same message cannot interleave
// into an inconsistent state.
type Engine struct {
	db           *store.DB
	dispatcher   *dispatch.Dispatcher
	recallWindow time.Duration
	logger       *zap.Logger

	locks [lockStripes]sync.Mutex
}

// NewEngine creates the lifecycle engine. recallWindow bounds sender recall.
func NewEngine(db *store.DB, d *dispatch.Dispatcher, recallWindow time.Duration, logger *zap.Logger) *Engine {
	if recallWindow <= 0 {
		recallWindow = time.Hour
	}
	return &Engine{
		db:           db,
		dispatcher:   d,
		recallWindow: recallWindow,
		logger:       logger,
	}
}

func (e *Engine) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return &e.locks[h.Sum32()%lockStripes]
}

// SendInput describes a message to create.
type SendInput struct {
	ConversationID string
	SenderID       string
	Type           string
	Content        string
	Attachments    []store.Attachment
	ReplyToID      string
	Mentions       []string
}

// Send creates a message. The sender must be a current participant;
// content must be non-empty for text-like types and the attachment list
// non-empty for media types. Invalid mentions are silently dropped; each
// valid mention also receives a direct notification. A rejected send
// leaves no trace.
func (e *Engine) Send(in SendInput) (*store.Message, error) {
	conv, err := e.conversation(in.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := e.requireParticipant(conv.ID, in.SenderID); err != nil {
		return nil, err
	}
	if err := validateContent(in); err != nil {
		return nil, err
	}

	participants, err := e.db.Participants(conv.ID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "participant lookup")
	}

	var receiver string
	if !conv.IsGroup {
		// The implicit receiver of a 1:1 message is the other participant.
		receiver, err = otherParticipant(participants, in.SenderID)
		if err != nil {
			return nil, err
		}
	}

	if in.ReplyToID != "" {
		// The reply target must exist in the same conversation. It may be
		// recalled or deleted; such replies render gracefully.
		target, err := e.db.GetMessage(in.ReplyToID)
		if err != nil {
			return nil, fault.Wrap(fault.Upstream, err, "reply target lookup")
		}
		if target == nil || target.ConversationID != conv.ID {
			return nil, fault.New(fault.NotFound, "reply target not found in this conversation")
		}
	}

	mentions := filterMentions(in.Mentions, participants)

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        in.Content,
		Attachments:    in.Attachments,
		ReplyToID:      in.ReplyToID,
		Mentions:       mentions,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := e.db.InsertMessage(msg); err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "persist message")
	}
	if receiver != "" {
		if err := e.db.TouchFriendship(in.SenderID, receiver, msg.CreatedAt); err != nil {
			e.logger.Warn("friendship touch failed", zap.Error(err))
		}
	}

	e.dispatcher.ToConversation(conv.ID, event.NewMessage, event.NewMessagePayload{Message: msg})
	for _, userID := range mentions {
		e.dispatcher.ToUser(userID, event.Mention, event.MentionPayload{
			Message:     msg,
			MentionedBy: in.SenderID,
		})
	}
	return msg, nil
}

// Reply creates a message carrying a reply pointer to an existing message
// in the same conversation.
func (e *Engine) Reply(conversationID, senderID, content, replyToID string) (*store.Message, error) {
	if replyToID == "" {
		return nil, fault.New(fault.InvalidState, "reply target required")
	}
	return e.Send(SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           store.TypeReply,
		Content:        content,
		ReplyToID:      replyToID,
	})
}

// SendWithMentions creates a mention-carrying message.
func (e *Engine) SendWithMentions(conversationID, senderID, content string, mentions []string) (*store.Message, error) {
	return e.Send(SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           store.TypeMention,
		Content:        content,
		Mentions:       mentions,
	})
}

// Forward copies a source message's type/content/attachments into a new
// message in the destination conversation. Forwarding a recalled message,
// or one the forwarder flagged deleted, is rejected.
func (e *Engine) Forward(sourceID, destConversationID, forwarderID string) (*store.Message, error) {
	src, err := e.db.GetMessage(sourceID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "source lookup")
	}
	if src == nil {
		return nil, fault.New(fault.NotFound, "message not found")
	}
	if src.Recalled {
		return nil, fault.New(fault.InvalidState, "cannot forward a recalled message")
	}
	deleted, err := e.db.HasDeleteMarker(sourceID, forwarderID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "delete marker lookup")
	}
	if deleted {
		return nil, fault.New(fault.InvalidState, "cannot forward a deleted message")
	}

	conv, err := e.conversation(destConversationID)
	if err != nil {
		return nil, err
	}
	if err := e.requireParticipant(conv.ID, forwarderID); err != nil {
		return nil, err
	}

	var receiver string
	if !conv.IsGroup {
		participants, err := e.db.Participants(conv.ID)
		if err != nil {
			return nil, fault.Wrap(fault.Upstream, err, "participant lookup")
		}
		receiver, err = otherParticipant(participants, forwarderID)
		if err != nil {
			return nil, err
		}
	}

	msg := &store.Message{
		ID:              uuid.New().String(),
		ConversationID:  conv.ID,
		SenderID:        forwarderID,
		Type:            src.Type,
		Content:         src.Content,
		Attachments:     src.Attachments,
		ForwardedFromID: src.ID,
		CreatedAt:       time.Now().UnixMilli(),
	}
	if err := e.db.InsertMessage(msg); err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "persist message")
	}
	if receiver != "" {
		if err := e.db.TouchFriendship(forwarderID, receiver, msg.CreatedAt); err != nil {
			e.logger.Warn("friendship touch failed", zap.Error(err))
		}
	}

	e.dispatcher.ToConversation(conv.ID, event.NewMessage, event.NewMessagePayload{Message: msg})
	return msg, nil
}

// MarkRead marks one message read by the reader. Idempotent: re-marking
// produces no duplicate receipt and no duplicate event. A sender marking
// their own message is rejected. Receipts are independent of content, so a
// receipt recorded after a recall is still accepted.
func (e *Engine) MarkRead(messageID, readerID string) error {
	mu := e.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := e.db.GetMessage(messageID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "message lookup")
	}
	if msg == nil {
		return fault.New(fault.NotFound, "message not found")
	}
	if msg.SenderID == readerID {
		return fault.New(fault.InvalidState, "cannot mark own message read")
	}
	if err := e.requireParticipant(msg.ConversationID, readerID); err != nil {
		return err
	}

	readAt := time.Now().UnixMilli()
	added, err := e.db.MarkRead(messageID, readerID, readAt)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "persist receipt")
	}
	if !added {
		return nil
	}

	payload := event.ReadPayload{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		ReaderID:       readerID,
		ReadAt:         readAt,
	}
	group, err := e.db.GetGroupByConversation(msg.ConversationID)
	if err != nil {
		e.logger.Warn("group lookup after read", zap.Error(err))
	}
	if group != nil {
		if err := e.db.SetMemberLastRead(group.ID, readerID, messageID); err != nil {
			e.logger.Warn("last-read pointer update failed", zap.Error(err))
		}
		e.dispatcher.ToConversation(msg.ConversationID, event.MessageReadByMember, payload)
	} else {
		e.dispatcher.ToUser(msg.SenderID, event.MessageRead, payload)
	}
	return nil
}

// MarkConversationRead marks every unread message in the conversation read
// as of now. Returns the number of new receipts. Other participants are
// notified only when something was newly read.
func (e *Engine) MarkConversationRead(conversationID, readerID string) (int, error) {
	conv, err := e.conversation(conversationID)
	if err != nil {
		return 0, err
	}
	if err := e.requireParticipant(conv.ID, readerID); err != nil {
		return 0, err
	}

	readAt := time.Now().UnixMilli()
	count, err := e.db.MarkConversationRead(conv.ID, readerID, readAt)
	if err != nil {
		return 0, fault.Wrap(fault.Upstream, err, "persist receipts")
	}
	if count == 0 {
		return 0, nil
	}

	if conv.IsGroup && conv.LastMessageID != "" {
		group, err := e.db.GetGroupByConversation(conv.ID)
		if err != nil {
			e.logger.Warn("group lookup after bulk read", zap.Error(err))
		}
		if group != nil {
			if err := e.db.SetMemberLastRead(group.ID, readerID, conv.LastMessageID); err != nil {
				e.logger.Warn("last-read pointer update failed", zap.Error(err))
			}
		}
	}

	e.dispatcher.ToConversation(conv.ID, event.MessagesRead, event.ConversationReadPayload{
		ConversationID: conv.ID,
		ReaderID:       readerID,
		ReadAt:         readAt,
		Count:          count,
	})
	return count, nil
}

// Recall retracts a message globally. Sender-only, and only within the
// recall window of creation. On success the content and attachments are
// gone from the canonical record and every participant is notified.
func (e *Engine) Recall(messageID, senderID string) (*store.Message, error) {
	mu := e.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := e.db.GetMessage(messageID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "message lookup")
	}
	if msg == nil {
		return nil, fault.New(fault.NotFound, "message not found")
	}
	if msg.SenderID != senderID {
		return nil, fault.New(fault.Authorization, "only the sender can recall a message")
	}
	if msg.Recalled {
		return nil, fault.New(fault.InvalidState, "message already recalled")
	}
	if time.Since(time.UnixMilli(msg.CreatedAt)) > e.recallWindow {
		return nil, fault.New(fault.InvalidState, "recall window expired")
	}

	recalled, err := e.db.RecallMessage(messageID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "persist recall")
	}
	if !recalled {
		return nil, fault.New(fault.InvalidState, "message already recalled")
	}

	updated, err := e.db.GetMessage(messageID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "message lookup")
	}

	// Recall must be visible to all parties retroactively.
	e.dispatcher.ToConversation(msg.ConversationID, event.MessageRecalled, event.MessageRecalledPayload{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		RecalledBy:     senderID,
	})
	return updated, nil
}

// Delete flags the message deleted for the caller's view only; other
// participants keep the content. Sender-only. Deleting twice is rejected.
func (e *Engine) Delete(messageID, userID string) error {
	mu := e.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := e.db.GetMessage(messageID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "message lookup")
	}
	if msg == nil {
		return fault.New(fault.NotFound, "message not found")
	}
	if msg.SenderID != userID {
		return fault.New(fault.Authorization, "only the sender can delete a message")
	}

	added, err := e.db.AddDeleteMarker(messageID, userID, time.Now().UnixMilli())
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "persist delete marker")
	}
	if !added {
		return fault.New(fault.InvalidState, "message already deleted")
	}

	// Broadcast for UI consistency; the payload only flags which viewer
	// deleted it.
	e.dispatcher.ToConversation(msg.ConversationID, event.MessageDeleted, event.MessageDeletedPayload{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		DeletedBy:      userID,
	})
	return nil
}

// OpenDirect returns the single 1:1 conversation between two users,
// creating it on first use (idempotent get-or-create).
func (e *Engine) OpenDirect(userA, userB string) (*store.Conversation, error) {
	if userA == userB {
		return nil, fault.New(fault.InvalidState, "cannot open a conversation with yourself")
	}
	for _, id := range []string{userA, userB} {
		u, err := e.db.GetUser(id)
		if err != nil {
			return nil, fault.Wrap(fault.Upstream, err, "user lookup")
		}
		if u == nil {
			return nil, fault.Newf(fault.NotFound, "user %s not found", id)
		}
	}
	conv, _, err := e.db.GetOrCreateDirect(userA, userB)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "open conversation")
	}
	return conv, nil
}

// History returns the conversation's messages from the viewer's
// perspective (the viewer's soft-deleted messages are omitted).
func (e *Engine) History(conversationID, viewerID string, beforeTs int64, limit int) ([]store.Message, error) {
	if err := e.requireParticipant(conversationID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := e.db.ListVisibleMessages(conversationID, viewerID, beforeTs, limit)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "list messages")
	}
	return msgs, nil
}

func (e *Engine) conversation(id string) (*store.Conversation, error) {
	conv, err := e.db.GetConversation(id)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "conversation lookup")
	}
	if conv == nil {
		return nil, fault.New(fault.NotFound, "conversation not found")
	}
	return conv, nil
}

func (e *Engine) requireParticipant(conversationID, userID string) error {
	ok, err := e.db.IsParticipant(conversationID, userID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "participant lookup")
	}
	if !ok {
		return fault.New(fault.Authorization, "not a participant of this conversation")
	}
	return nil
}

func validateContent(in SendInput) error {
	switch in.Type {
	case store.TypeText, store.TypeEmoji, store.TypeReply, store.TypeMention:
		if in.Content == "" {
			return fault.New(fault.InvalidState, "content must not be empty")
		}
	case store.TypeImage, store.TypeImageGroup, store.TypeFile, store.TypeVideo:
		if len(in.Attachments) == 0 {
			return fault.New(fault.InvalidState, "attachment list must not be empty")
		}
	case store.TypeSystem, store.TypeDeleted, store.TypeRecalled:
		return fault.Newf(fault.InvalidState, "type %s is reserved", in.Type)
	default:
		return fault.Newf(fault.InvalidState, "unknown message type %q", in.Type)
	}
	return nil
}

// otherParticipant resolves the implicit receiver of a 1:1 message.
func otherParticipant(participants []string, senderID string) (string, error) {
	var others []string
	for _, id := range participants {
		if id != senderID {
			others = append(others, id)
		}
	}
	if len(others) != 1 {
		return "", fault.New(fault.InvalidState, "conversation membership is corrupt")
	}
	return others[0], nil
}

// filterMentions keeps only mentions of current participants, without
// duplicates, silently dropping the rest.
func filterMentions(mentions, participants []string) []string {
	if len(mentions) == 0 {
		return nil
	}
	present := make(map[string]bool, len(participants))
	for _, id := range participants {
		present[id] = true
	}
	var valid []string
	seen := make(map[string]bool, len(mentions))
	for _, id := range mentions {
		if present[id] && !seen[id] {
			seen[id] = true
			valid = append(valid, id)
		}
	}
	return valid
}
