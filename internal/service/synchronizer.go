package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

// ReadResult describes one markRead call.
type ReadResult struct {
	ConversationID int       `json:"conversation_id"`
	MessageIDs     []int     `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// Synchronizer owns delivered/read transitions and everything derived from them.
type Synchronizer struct {
	convs        repositories.ConversationRepository
	msgs         repositories.MessageRepository
	states       repositories.StateRepository
	fanout       Fanout
	logger       *zap.Logger
	now          func() time.Time
	readReceipts bool
}

// NewSynchronizer builds a Synchronizer. With readReceipts set, every newly read message is also
// announced to the other participants as a message_read event.
func NewSynchronizer(convs repositories.ConversationRepository, msgs repositories.MessageRepository, states repositories.StateRepository, fanout Fanout, logger *zap.Logger, readReceipts bool) *Synchronizer {
	return &Synchronizer{
		convs:        convs,
		msgs:         msgs,
		states:       states,
		fanout:       orNoop(fanout),
		logger:       logger,
		now:          time.Now,
		readReceipts: readReceipts,
	}
}

// MarkDelivered flags a message as delivered to userID. It reports false when nothing changed.
func (s *Synchronizer) MarkDelivered(ctx context.Context, userID, messageID int) (bool, error) {
	msg, err := s.msgs.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return false, notFound("message not found")
	}
	if err != nil {
		return false, transient("load message", err)
	}
	if _, err := authorize(ctx, s.convs, msg.ConversationID, userID); err != nil {
		return false, err
	}

	changed, err := s.states.MarkDelivered(ctx, messageID, userID, s.now())
	if err != nil {
		return false, transient("mark delivered", err)
	}
	return changed, nil
}

// MarkRead reads every unread message of the conversation not authored by userID, or only those in
// messageIDs when it is non-nil. Messages created after the update ran stay unread.
// The result is pushed to the user's other sessions; sessionID may be empty to reach all of them.
func (s *Synchronizer) MarkRead(ctx context.Context, sessionID string, conversationID, userID int, messageIDs []int) (ReadResult, error) {
	ctx, span := tracer.Start(ctx, "synchronizer.mark_read")
	defer span.End()

	if _, err := authorize(ctx, s.convs, conversationID, userID); err != nil {
		return ReadResult{}, err
	}

	at := s.now()
	changed := []int{}
	if messageIDs == nil || len(messageIDs) > 0 {
		var err error
		changed, err = s.states.MarkRead(ctx, conversationID, userID, messageIDs, at)
		if err != nil {
			span.RecordError(err)
			return ReadResult{}, transient("mark read", err)
		}
	}

	result := ReadResult{ConversationID: conversationID, MessageIDs: changed, ReadAt: at}

	if env, ok := envelope(s.logger, models.EventConversationRead, models.ConversationRead{
		ConversationID: conversationID,
		UserID:         userID,
		MessageIDs:     changed,
		ReadAt:         at,
	}); ok {
		s.fanout.BroadcastToUser(userID, env, sessionID)
	}

	if s.readReceipts {
		for _, id := range changed {
			env, ok := envelope(s.logger, models.EventMessageRead, models.MessageRead{
				MessageID:      id,
				ConversationID: conversationID,
				UserID:         userID,
				ReadAt:         at,
			})
			if !ok {
				continue
			}
			s.fanout.BroadcastToConversation(conversationID, env, Skip{UserID: userID})
		}
	}

	s.logger.Debug("conversation read",
		zap.Int("conversation_id", conversationID), zap.Int("user_id", userID), zap.Int("changed", len(changed)))
	return result, nil
}

// UnreadCount recomputes the unread count from message states.
func (s *Synchronizer) UnreadCount(ctx context.Context, conversationID, userID int) (int, error) {
	if _, err := authorize(ctx, s.convs, conversationID, userID); err != nil {
		return 0, err
	}
	count, err := s.states.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, transient("count unread", err)
	}
	return count, nil
}

// ChatList returns the user's conversations, most recently active first.
func (s *Synchronizer) ChatList(ctx context.Context, userID int) ([]models.ChatListItem, error) {
	convs, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, transient("list conversations", err)
	}

	items := make([]models.ChatListItem, 0, len(convs))
	for _, conv := range convs {
		last, err := s.msgs.LastMessage(ctx, conv.ID)
		if err != nil {
			return nil, transient("load last message", err)
		}
		unread, err := s.states.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, transient("count unread", err)
		}
		items = append(items, models.ChatListItem{Conversation: conv, LastMessage: last, UnreadCount: unread})
	}
	return items, nil
}
