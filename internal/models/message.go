package models

import (
	"sort"
	"time"
)

// Message represents a unit of content posted in a conversation.
type Message struct {
	ID              int            `db:"id" json:"id"`
	ConversationID  int            `db:"conversation_id" json:"conversation_id"`
	AuthorID        int            `db:"author_id" json:"author_id"`
	Content         string         `db:"content" json:"content"`
	ClientMessageID *string        `db:"client_message_id" json:"client_message_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	EditedAt        *time.Time     `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt       *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
	Attachments     []Attachment   `db:"-" json:"attachments"`
	States          []MessageState `db:"-" json:"states"`
}

// Attachment is owned by exactly one message.
type Attachment struct {
	ID        int       `db:"id" json:"id"`
	MessageID int       `db:"message_id" json:"message_id"`
	URL       string    `db:"url" json:"url"`
	Type      *string   `db:"type" json:"type,omitempty"`
	Name      *string   `db:"name" json:"name,omitempty"`
	Size      *int64    `db:"size" json:"size,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AttachmentInput is the client-supplied part of an attachment.
type AttachmentInput struct {
	URL  string  `json:"url"`
	Type *string `json:"type,omitempty"`
	Name *string `json:"name,omitempty"`
	Size *int64  `json:"size,omitempty"`
}

// MessageState tracks delivery and read progress of one message for one recipient.
// Both flags only ever move from false to true, and Read implies Delivered.
type MessageState struct {
	MessageID   int        `db:"message_id" json:"message_id"`
	UserID      int        `db:"user_id" json:"user_id"`
	Delivered   bool       `db:"delivered" json:"delivered"`
	Read        bool       `db:"read" json:"read"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// StateFor returns the state row for userID, if any.
func (m Message) StateFor(userID int) (MessageState, bool) {
	for _, s := range m.States {
		if s.UserID == userID {
			return s, true
		}
	}
	return MessageState{}, false
}

// Before reports whether a sorts ahead of b in canonical (createdAt, id) order.
func Before(a, b Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// SortMessages orders msgs by (createdAt, id) ascending, in place.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Before(msgs[i], msgs[j]) })
}
