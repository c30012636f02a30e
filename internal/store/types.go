package store

// Role is a group member's role. Roles are totally ordered
// member < moderator < admin.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Rank returns the position of the role in the ordering. Unknown roles rank
// below member.
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// AtLeast reports whether r is equal to or above the required role.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank()
}

// Message types. Recall rewrites a message's type to TypeRecalled; per-viewer
// deletion never changes the type.
const (
	TypeText       = "text"
	TypeEmoji      = "emoji"
	TypeImage      = "image"
	TypeImageGroup = "imageGroup"
	TypeFile       = "file"
	TypeVideo      = "video"
	TypeReply      = "reply"
	TypeMention    = "mention"
	TypeSystem     = "system"
	TypeDeleted    = "deleted"
	TypeRecalled   = "recalled"
)

// User is a stored user record.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Friendship links two users. UserA < UserB lexically (canonical pair).
type Friendship struct {
	UserA             string `json:"userA"`
	UserB             string `json:"userB"`
	CreatedAt         int64  `json:"createdAt"`
	LastInteractionAt int64  `json:"lastInteractionAt"`
}

// Conversation is a 1:1 or group conversation. For 1:1 conversations PairKey
// holds the canonical sorted participant pair so at most one exists per pair;
// group conversations leave it empty and are linked 1:1 with a Group.
type Conversation struct {
	ID             string `json:"id"`
	PairKey        string `json:"-"`
	IsGroup        bool   `json:"isGroup"`
	LastMessageID  string `json:"lastMessageId,omitempty"`
	LastActivityAt int64  `json:"lastActivityAt"`
	CreatedAt      int64  `json:"createdAt"`
}

// Group is a multi-party conversation's membership container.
type Group struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
	CreatorID       string `json:"creatorId"`
	ConversationID  string `json:"conversationId"`
	AllowMemberEdit bool   `json:"allowMemberEdit"`
	Active          bool   `json:"active"`
	CreatedAt       int64  `json:"createdAt"`
}

// GroupUpdate carries the mutable group info fields. Nil fields are left
// unchanged.
type GroupUpdate struct {
	Name            *string
	Description     *string
	AvatarURL       *string
	AllowMemberEdit *bool
}

// GroupMember is one member entry of a group.
type GroupMember struct {
	GroupID           string `json:"groupId"`
	UserID            string `json:"userId"`
	Role              Role   `json:"role"`
	AddedBy           string `json:"addedBy"`
	AddedAt           int64  `json:"addedAt"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
}

// Attachment is an already-uploaded blob reference carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a stored message. Content and Attachments are cleared the
// moment a recall commits; per-viewer delete markers leave them intact.
type Message struct {
	ID              string       `json:"id"`
	ConversationID  string       `json:"conversationId"`
	SenderID        string       `json:"senderId"`
	Type            string       `json:"type"`
	Content         string       `json:"content,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	ReplyToID       string       `json:"replyToId,omitempty"`
	ForwardedFromID string       `json:"forwardedFromId,omitempty"`
	Mentions        []string     `json:"mentions,omitempty"`
	Recalled        bool         `json:"recalled"`
	CreatedAt       int64        `json:"createdAt"`
}

// ReadReceipt marks a message read by one viewer. At most one per
// (message, viewer) pair.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ReadAt    int64  `json:"readAt"`
}

// DeleteMarker hides a message from one viewer's perspective only.
type DeleteMarker struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	DeletedAt int64  `json:"deletedAt"`
}
