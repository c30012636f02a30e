// Package event defines the vocabulary exchanged over live connections.
// Every server push is an Envelope whose Data field is one of the payload
// structs below; payload shapes are closed here so emitter and consumer
// cannot drift.
package event

import (
	"encoding/json"
	"time"
)

// Client-originated frame kinds.
const (
	JoinConversation  = "join_conversation"
	LeaveConversation = "leave_conversation"
	Typing            = "typing"
	JoinGroup         = "join_group"
	MessageRead       = "message_read"
	MessagesRead      = "messages_read"
)

// Server-pushed event kinds.
const (
	NewMessage          = "new_message"
	UserJoined          = "user_joined"
	UserLeft            = "user_left"
	TypingIndicator     = "typing_indicator"
	MessageReadByMember = "message_read_by_member"
	MessageDeleted      = "message_deleted"
	MessageRecalled     = "message_recalled"
	Mention             = "mention"
	GroupCreated        = "group_created"
	GroupUpdated        = "group_updated"
	GroupDissolved      = "group_dissolved"
	MemberAdded         = "member_added"
	MemberRemoved       = "member_removed"
	MemberLeft          = "member_left"
	MemberRoleUpdated   = "member_role_updated"
	Error               = "error"
)

// UserStatus returns the per-identity presence event kind.
func UserStatus(userID string) string {
	return "user_status_" + userID
}

// ConversationRoom returns the broadcast room name for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// GroupRoom returns the broadcast room name for a group.
func GroupRoom(groupID string) string {
	return "group:" + groupID
}

// Envelope is one server push. Timestamp is stamped at dispatch time, not
// at creation time.
type Envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// ClientFrame is one inbound frame from a live connection.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
