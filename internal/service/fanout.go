package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

// Skip excludes recipients from a broadcast. Zero values exclude nobody.
type Skip struct {
	SessionID string
	UserID    int
}

// Fanout pushes events to live sessions. Implementations must not block on slow sessions.
type Fanout interface {
	BroadcastToConversation(conversationID int, env models.Envelope, skip Skip) int
	BroadcastToUser(userID int, env models.Envelope, skipSessionID string) int
	Unsubscribe(conversationID int, userIDs []int)
}

type noopFanout struct{}

func (noopFanout) BroadcastToConversation(int, models.Envelope, Skip) int { return 0 }
func (noopFanout) BroadcastToUser(int, models.Envelope, string) int       { return 0 }
func (noopFanout) Unsubscribe(int, []int)                                 {}

func orNoop(f Fanout) Fanout {
	if f == nil {
		return noopFanout{}
	}
	return f
}

func envelope(logger *zap.Logger, event models.EventName, payload any) (models.Envelope, bool) {
	env, err := models.NewEnvelope(event, "", payload)
	if err != nil {
		logger.Error("encode event", zap.String("event", string(event)), zap.Error(err))
		return models.Envelope{}, false
	}
	return env, true
}

// authorize loads the conversation and checks that userID participates in it.
func authorize(ctx context.Context, convs repositories.ConversationRepository, conversationID, userID int) (models.Conversation, error) {
	conv, err := convs.GetConversation(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, notFound("conversation not found")
	}
	if err != nil {
		return models.Conversation{}, transient("load conversation", err)
	}
	member, err := convs.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return models.Conversation{}, transient("check membership", err)
	}
	if !member {
		return models.Conversation{}, forbidden("not a participant")
	}
	return conv, nil
}
