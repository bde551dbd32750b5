package models

import "time"

// ConversationKind distinguishes two-party and N-party conversations.
type ConversationKind string

const (
	KindPrivate ConversationKind = "PRIVATE"
	KindGroup   ConversationKind = "GROUP"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Conversation is a private or group messaging context.
type Conversation struct {
	ID             int              `db:"id" json:"id"`
	Kind           ConversationKind `db:"kind" json:"kind"`
	DisplayName    string           `db:"display_name" json:"display_name,omitempty"`
	CreatorID      *int             `db:"creator_id" json:"creator_id,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	LastActivityAt time.Time        `db:"last_activity_at" json:"last_activity_at"`
}

// IsCreator reports whether userID created the conversation.
func (c Conversation) IsCreator(userID int) bool {
	return c.CreatorID != nil && *c.CreatorID == userID
}

// Participant is a user's membership in a conversation.
type Participant struct {
	ConversationID int        `db:"conversation_id" json:"conversation_id"`
	UserID         int        `db:"user_id" json:"user_id"`
	Role           string     `db:"role" json:"role"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// ChatListItem is the per-user view of a conversation. It is derived, never stored.
type ChatListItem struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}

// CreateStatus reports whether find-or-create produced a new conversation.
type CreateStatus string

const (
	StatusCreated CreateStatus = "CREATED"
	StatusExists  CreateStatus = "EXISTS"
)
