package repositories

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// StateRepository mutates and aggregates per-recipient delivery/read state.
type StateRepository interface {
	// MarkDelivered flips delivered on the (message, user) row if it is not set yet.
	MarkDelivered(ctx context.Context, messageID int, userID int, at time.Time) (bool, error)
	// MarkRead flips read (and delivered) on every unread row of userID in the conversation
	// for messages authored by someone else, optionally restricted to messageIDs.
	// It returns the message ids that changed, ascending.
	MarkRead(ctx context.Context, conversationID int, userID int, messageIDs []int, at time.Time) ([]int, error)
	UnreadCount(ctx context.Context, conversationID int, userID int) (int, error)
}

// StateRepo is a sqlx implementation of StateRepository.
type StateRepo struct {
	db *sqlx.DB
}

// NewStateRepo constructs a StateRepo.
func NewStateRepo(db *sqlx.DB) *StateRepo {
	return &StateRepo{db: db}
}

// MarkDelivered sets delivered once; later calls are no-ops.
func (r *StateRepo) MarkDelivered(ctx context.Context, messageID int, userID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE message_states SET delivered = TRUE, delivered_at = $3
        WHERE message_id=$1 AND user_id=$2 AND delivered = FALSE`, messageID, userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead only touches rows that exist when the statement runs.
func (r *StateRepo) MarkRead(ctx context.Context, conversationID int, userID int, messageIDs []int, at time.Time) ([]int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `UPDATE message_states ms
        SET read = TRUE, delivered = TRUE, read_at = $3, delivered_at = COALESCE(ms.delivered_at, $3)
        FROM messages m
        WHERE ms.message_id = m.id AND m.conversation_id=$1 AND ms.user_id=$2
        AND ms.read = FALSE AND m.author_id <> $2`
	args := []any{conversationID, userID, at}
	if messageIDs != nil {
		query += ` AND ms.message_id = ANY($4)`
		args = append(args, pq.Array(messageIDs))
	}
	query += ` RETURNING ms.message_id`

	changed := []int{}
	if err := tx.SelectContext(ctx, &changed, query, args...); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE participants SET last_read_at = $3
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sort.Ints(changed)
	return changed, nil
}

// UnreadCount is recomputed from state rows on every call.
func (r *StateRepo) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        WHERE m.conversation_id=$1 AND m.author_id <> $2
        AND NOT EXISTS (SELECT 1 FROM message_states s WHERE s.message_id = m.id AND s.user_id=$2 AND s.read)`,
		conversationID, userID)
	return count, err
}
