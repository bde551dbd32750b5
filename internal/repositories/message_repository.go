package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// NewMessage carries everything persisted atomically at send time.
type NewMessage struct {
	ConversationID  int
	AuthorID        int
	Content         string
	ClientMessageID *string
	Attachments     []models.AttachmentInput
}

// MessageRepository defines interactions for messages and their attachments.
// Returned messages are hydrated with attachments and states.
type MessageRepository interface {
	// CreateMessage stores the message, its attachments and one unread state for every
	// participant other than the author, as membership stands at insert time.
	// When ClientMessageID matches an earlier message of the same author in the same
	// conversation, that message is returned with created=false.
	CreateMessage(ctx context.Context, in NewMessage) (msg models.Message, created bool, err error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	FindByClientID(ctx context.Context, conversationID int, authorID int, clientMessageID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int) ([]models.Message, error)
	LastMessage(ctx context.Context, conversationID int) (*models.Message, error)
	UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, deletedAt time.Time) (models.Message, error)
}

const messageColumns = `id, conversation_id, author_id, content, client_message_id, created_at, edited_at, deleted_at`

const stateColumns = `message_id, user_id, delivered, read, delivered_at, read_at`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage persists a message with attachments and recipient states in one transaction.
// The conversation row is share-locked so AddParticipants, which takes it FOR UPDATE, either
// sees this message when seeding history or is seen by the recipient insert.
func (r *MessageRepo) CreateMessage(ctx context.Context, in NewMessage) (models.Message, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, false, err
	}
	defer tx.Rollback()

	var locked int
	err = tx.GetContext(ctx, &locked, `SELECT id FROM conversations WHERE id=$1 FOR SHARE`, in.ConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, ErrConversationNotFound
	}
	if err != nil {
		return models.Message{}, false, err
	}

	var msg models.Message
	err = tx.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, author_id, content, client_message_id) VALUES ($1, $2, $3, $4)
        ON CONFLICT (conversation_id, author_id, client_message_id) WHERE client_message_id IS NOT NULL DO NOTHING
        RETURNING `+messageColumns, in.ConversationID, in.AuthorID, in.Content, in.ClientMessageID)
	if errors.Is(err, sql.ErrNoRows) && in.ClientMessageID != nil {
		_ = tx.Rollback()
		existing, err := r.FindByClientID(ctx, in.ConversationID, in.AuthorID, *in.ClientMessageID)
		return existing, false, err
	}
	if err != nil {
		return models.Message{}, false, err
	}

	msg.Attachments = make([]models.Attachment, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		var att models.Attachment
		if err := tx.GetContext(ctx, &att, `INSERT INTO attachments (message_id, url, type, name, size, created_at) VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING id, message_id, url, type, name, size, created_at`, msg.ID, a.URL, a.Type, a.Name, a.Size, msg.CreatedAt); err != nil {
			return models.Message{}, false, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	msg.States = []models.MessageState{}
	if err := tx.SelectContext(ctx, &msg.States, `INSERT INTO message_states (message_id, user_id)
        SELECT $1, user_id FROM participants WHERE conversation_id=$2 AND user_id<>$3
        ON CONFLICT (message_id, user_id) DO NOTHING
        RETURNING `+stateColumns, msg.ID, in.ConversationID, in.AuthorID); err != nil {
		return models.Message{}, false, err
	}
	sort.Slice(msg.States, func(i, j int) bool { return msg.States[i].UserID < msg.States[j].UserID })

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id=$1`,
		in.ConversationID, msg.CreatedAt); err != nil {
		return models.Message{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, false, err
	}
	return msg, true, nil
}

// GetMessage retrieves a single hydrated message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return r.hydrateOne(ctx, msg)
}

// FindByClientID looks up a message by its client correlation id.
func (r *MessageRepo) FindByClientID(ctx context.Context, conversationID int, authorID int, clientMessageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND author_id=$2 AND client_message_id=$3`, conversationID, authorID, clientMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return r.hydrateOne(ctx, msg)
}

// ListMessages returns the conversation history in (created_at, id) order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC`, conversationID); err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastMessage returns the newest message of a conversation, or nil when empty.
func (r *MessageRepo) LastMessage(ctx context.Context, conversationID int) (*models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	hydrated, err := r.hydrateOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &hydrated, nil
}

// UpdateContent replaces the content of a live message.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET content=$2, edited_at=$3 WHERE id=$1 AND deleted_at IS NULL
        RETURNING `+messageColumns, messageID, content, editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return r.hydrateOne(ctx, msg)
}

// SoftDelete marks a message deleted, keeping the first deletion time.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, deletedAt time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET deleted_at = COALESCE(deleted_at, $2) WHERE id=$1
        RETURNING `+messageColumns, messageID, deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return r.hydrateOne(ctx, msg)
}

func (r *MessageRepo) hydrateOne(ctx context.Context, msg models.Message) (models.Message, error) {
	msgs := []models.Message{msg}
	if err := r.hydrate(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

func (r *MessageRepo) hydrate(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int, len(msgs))
	index := make(map[int]int, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		index[msgs[i].ID] = i
		msgs[i].Attachments = []models.Attachment{}
		msgs[i].States = []models.MessageState{}
	}

	var atts []models.Attachment
	if err := r.db.SelectContext(ctx, &atts, `SELECT id, message_id, url, type, name, size, created_at FROM attachments
        WHERE message_id = ANY($1) ORDER BY id ASC`, pq.Array(ids)); err != nil {
		return err
	}
	for _, a := range atts {
		i := index[a.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, a)
	}

	var states []models.MessageState
	if err := r.db.SelectContext(ctx, &states, `SELECT `+stateColumns+` FROM message_states
        WHERE message_id = ANY($1) ORDER BY user_id ASC`, pq.Array(ids)); err != nil {
		return err
	}
	for _, s := range states {
		i := index[s.MessageID]
		msgs[i].States = append(msgs[i].States, s)
	}
	return nil
}
