package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParticipantNotFound  = errors.New("participant not found")
)

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	FindOrCreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int) ([]models.Conversation, error)
	GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	ListParticipants(ctx context.Context, conversationID int) ([]models.Participant, error)
	AddParticipants(ctx context.Context, conversationID int, userIDs []int, joinedAt time.Time) ([]int, error)
	RemoveParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error)
	Rename(ctx context.Context, conversationID int, name string) (models.Conversation, error)
}

const conversationColumns = `id, kind, COALESCE(display_name, '') AS display_name, creator_id, created_at, last_activity_at`

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindOrCreatePrivate returns the private conversation of the unordered pair, creating it
// when missing. The pair row is the arbiter: a concurrent loser sees the conflict and reads
// the winner's conversation.
func (r *ConversationRepo) FindOrCreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, bool, error) {
	low, high := orderedPair(userA, userB)

	if conv, err := r.privateByPair(ctx, low, high); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	if err := tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind) VALUES ($1) RETURNING `+conversationColumns, models.KindPrivate); err != nil {
		return models.Conversation{}, false, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO private_pairs (user_low, user_high, conversation_id) VALUES ($1, $2, $3)
        ON CONFLICT (user_low, user_high) DO NOTHING`, low, high, conv.ID)
	if err != nil {
		return models.Conversation{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Conversation{}, false, err
	}
	if inserted == 0 {
		_ = tx.Rollback()
		existing, err := r.privateByPair(ctx, low, high)
		return existing, false, err
	}

	for _, id := range []int{low, high} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			conv.ID, id, models.RoleMember, conv.CreatedAt); err != nil {
			return models.Conversation{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, true, nil
}

func (r *ConversationRepo) privateByPair(ctx context.Context, low, high int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT c.id, c.kind, COALESCE(c.display_name, '') AS display_name, c.creator_id, c.created_at, c.last_activity_at
        FROM private_pairs p JOIN conversations c ON c.id = p.conversation_id
        WHERE p.user_low=$1 AND p.user_high=$2`, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateGroup creates a group conversation and its members atomically.
func (r *ConversationRepo) CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	if err := tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind, display_name, creator_id) VALUES ($1, $2, $3) RETURNING `+conversationColumns,
		models.KindGroup, name, creatorID); err != nil {
		return models.Conversation{}, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		conv.ID, creatorID, models.RoleAdmin, conv.CreatedAt); err != nil {
		return models.Conversation{}, err
	}
	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, id, models.RoleMember, conv.CreatedAt); err != nil {
			return models.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListForUser returns the conversations a user participates in, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT c.id, c.kind, COALESCE(c.display_name, '') AS display_name, c.creator_id, c.created_at, c.last_activity_at
        FROM conversations c INNER JOIN participants p ON p.conversation_id = c.id
        WHERE p.user_id=$1 ORDER BY c.last_activity_at DESC, c.id DESC`, userID)
	return convs, err
}

// GetParticipant fetches one membership row.
func (r *ConversationRepo) GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT conversation_id, user_id, role, joined_at, last_read_at FROM participants
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// IsParticipant checks membership.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListParticipants returns the members of a conversation ordered by join time.
func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationID int) ([]models.Participant, error) {
	var ps []models.Participant
	err := r.db.SelectContext(ctx, &ps, `SELECT conversation_id, user_id, role, joined_at, last_read_at FROM participants
        WHERE conversation_id=$1 ORDER BY joined_at ASC, user_id ASC`, conversationID)
	return ps, err
}

// AddParticipants inserts the users that are not yet members and seeds their state rows for
// the existing history as delivered and read. It returns the ids actually added.
// Holding the conversation row FOR UPDATE serializes it against CreateMessage.
func (r *ConversationRepo) AddParticipants(ctx context.Context, conversationID int, userIDs []int, joinedAt time.Time) ([]int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var locked int
	err = tx.GetContext(ctx, &locked, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	added := make([]int, 0, len(userIDs))
	for _, id := range userIDs {
		res, err := tx.ExecContext(ctx, `INSERT INTO participants (conversation_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conversationID, id, models.RoleMember, joinedAt)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO message_states (message_id, user_id, delivered, read, delivered_at, read_at)
            SELECT id, $2, TRUE, TRUE, $3, $3 FROM messages WHERE conversation_id=$1 AND author_id<>$2
            ON CONFLICT (message_id, user_id) DO NOTHING`, conversationID, id, joinedAt); err != nil {
			return nil, err
		}
		added = append(added, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveParticipants deletes memberships, never the creator's, and returns the removed ids.
func (r *ConversationRepo) RemoveParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error) {
	removed := []int{}
	err := r.db.SelectContext(ctx, &removed, `DELETE FROM participants
        WHERE conversation_id=$1 AND user_id = ANY($2)
        AND user_id NOT IN (SELECT creator_id FROM conversations WHERE id=$1 AND creator_id IS NOT NULL)
        RETURNING user_id`, conversationID, pq.Array(userIDs))
	return removed, err
}

// Rename sets a new display name.
func (r *ConversationRepo) Rename(ctx context.Context, conversationID int, name string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `UPDATE conversations SET display_name=$2 WHERE id=$1 RETURNING `+conversationColumns, conversationID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

func orderedPair(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}
