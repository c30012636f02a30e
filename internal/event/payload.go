package event

import (
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
)

// NewMessagePayload carries a freshly created (or forwarded) message.
type NewMessagePayload struct {
	Message *store.Message `json:"message"`
}

// RoomPresencePayload announces a user joining or leaving a room.
type RoomPresencePayload struct {
	Room        string `json:"room"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// TypingPayload relays a typing indicator within a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// ReadPayload reports a single-message read receipt.
type ReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	ReadAt         int64  `json:"readAt"`
}

// ConversationReadPayload reports a bulk mark-read of a conversation.
type ConversationReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	ReadAt         int64  `json:"readAt"`
	Count          int    `json:"count"`
}

// MessageDeletedPayload flags which viewer soft-deleted a message. Other
// participants keep their copy; the flag exists for UI consistency only.
type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	DeletedBy      string `json:"deletedBy"`
}

// MessageRecalledPayload announces a global recall to every participant.
type MessageRecalledPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	RecalledBy     string `json:"recalledBy"`
}

// MentionPayload is the direct notification a mentioned user receives, in
// addition to the conversation broadcast.
type MentionPayload struct {
	Message     *store.Message `json:"message"`
	MentionedBy string         `json:"mentionedBy"`
}

// PresencePayload reports an identity's online/offline transition.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// GroupPayload carries a group record for created/updated events.
type GroupPayload struct {
	Group *store.Group `json:"group"`
}

// GroupDissolvedPayload announces a group's dissolution.
type GroupDissolvedPayload struct {
	GroupID     string `json:"groupId"`
	DissolvedBy string `json:"dissolvedBy"`
}

// MemberAddedPayload announces a new group member.
type MemberAddedPayload struct {
	GroupID string             `json:"groupId"`
	Member  *store.GroupMember `json:"member"`
	AddedBy string             `json:"addedBy"`
}

// MemberRemovedPayload announces a member's removal by a privileged actor.
type MemberRemovedPayload struct {
	GroupID   string `json:"groupId"`
	UserID    string `json:"userId"`
	RemovedBy string `json:"removedBy"`
}

// MemberLeftPayload announces a member leaving on their own.
type MemberLeftPayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// MemberRoleUpdatedPayload announces a role change.
type MemberRoleUpdatedPayload struct {
	GroupID   string     `json:"groupId"`
	UserID    string     `json:"userId"`
	Role      store.Role `json:"role"`
	UpdatedBy string     `json:"updatedBy"`
}

// ErrorPayload reports a request failure to the requesting connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client frame payloads.

// JoinConversationData asks to subscribe the connection to a conversation room.
type JoinConversationData struct {
	ConversationID string `json:"conversationId"`
}

// JoinGroupData asks to subscribe the connection to a group's rooms.
type JoinGroupData struct {
	GroupID string `json:"groupId"`
}

// TypingData reports the sender's typing state in a conversation.
type TypingData struct {
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

// MessageReadData marks one message read.
type MessageReadData struct {
	MessageID string `json:"messageId"`
}

// MessagesReadData marks a whole conversation read as of now.
type MessagesReadData struct {
	ConversationID string `json:"conversationId"`
}
