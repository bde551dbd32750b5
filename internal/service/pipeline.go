package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"conversation-service/internal/idempotency"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
)

const (
	PathLive     = "live"
	PathFallback = "fallback"
)

var tracer = otel.Tracer("conversation-service/service")

// SendInput is a send request from either path.
type SendInput struct {
	ConversationID  int
	AuthorID        int
	Content         string
	Attachments     []models.AttachmentInput
	ClientMessageID string
}

// Pipeline validates, persists and fans out messages.
type Pipeline struct {
	convs  repositories.ConversationRepository
	msgs   repositories.MessageRepository
	idem   idempotency.Store
	fanout Fanout
	logger *zap.Logger
	now    func() time.Time
}

func NewPipeline(convs repositories.ConversationRepository, msgs repositories.MessageRepository, idem idempotency.Store, fanout Fanout, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		convs:  convs,
		msgs:   msgs,
		idem:   idem,
		fanout: orNoop(fanout),
		logger: logger,
		now:    time.Now,
	}
}

// SendLive persists the message and broadcasts it to every subscribed session except the sender's.
// A retry carrying an already-used client message id returns the stored message and broadcasts it
// again; receivers merge by id.
func (p *Pipeline) SendLive(ctx context.Context, sessionID string, in SendInput) (models.Message, error) {
	msg, _, err := p.persist(ctx, PathLive, in)
	if err != nil {
		return models.Message{}, err
	}

	if env, ok := envelope(p.logger, models.EventMessage, msg); ok {
		p.fanout.BroadcastToConversation(msg.ConversationID, env, Skip{SessionID: sessionID})
	}
	return msg, nil
}

// SendFallback persists the message without any push; others see it on their next fetch.
func (p *Pipeline) SendFallback(ctx context.Context, in SendInput) (models.Message, error) {
	msg, _, err := p.persist(ctx, PathFallback, in)
	return msg, err
}

func (p *Pipeline) persist(ctx context.Context, path string, in SendInput) (models.Message, bool, error) {
	ctx, span := tracer.Start(ctx, "pipeline.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("send.path", path),
		attribute.Int("conversation.id", in.ConversationID),
		attribute.Int("user.id", in.AuthorID),
	)

	msg, created, err := p.persistTraced(ctx, path, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		return models.Message{}, false, err
	}
	span.SetAttributes(attribute.Int("message.id", msg.ID), attribute.Bool("message.created", created))
	observability.IncMessagePersisted(path, created)
	return msg, created, nil
}

func (p *Pipeline) persistTraced(ctx context.Context, path string, in SendInput) (models.Message, bool, error) {
	if _, err := authorize(ctx, p.convs, in.ConversationID, in.AuthorID); err != nil {
		return models.Message{}, false, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return models.Message{}, false, validationf("content is required")
	}
	for i, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return models.Message{}, false, validationf("attachment %d has no url", i)
		}
	}

	var key string
	if in.ClientMessageID != "" {
		key = idempotency.Key(in.ConversationID, in.AuthorID, in.ClientMessageID)
		if msg, ok := p.lookupRetry(ctx, key, in); ok {
			p.logger.Info("send retry resolved from cache",
				zap.String("path", path), zap.Int("message_id", msg.ID), zap.String("client_message_id", in.ClientMessageID))
			return msg, false, nil
		}
	}

	// Recipient states are derived by the store atomically with the insert.
	newMsg := repositories.NewMessage{
		ConversationID: in.ConversationID,
		AuthorID:       in.AuthorID,
		Content:        in.Content,
		Attachments:    in.Attachments,
	}
	if in.ClientMessageID != "" {
		clientID := in.ClientMessageID
		newMsg.ClientMessageID = &clientID
	}

	msg, created, err := p.msgs.CreateMessage(ctx, newMsg)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Message{}, false, notFound("conversation not found")
	}
	if err != nil {
		return models.Message{}, false, transient("persist message", err)
	}

	if key != "" && p.idem != nil {
		if err := p.idem.Remember(ctx, key, msg.ID); err != nil {
			p.logger.Warn("idempotency remember failed", zap.Int("message_id", msg.ID), zap.Error(err))
		}
	}

	p.logger.Debug("message persisted",
		zap.String("path", path),
		zap.Int("conversation_id", msg.ConversationID),
		zap.Int("message_id", msg.ID),
		zap.Int("user_id", msg.AuthorID),
		zap.Bool("created", created))
	return msg, created, nil
}

// lookupRetry consults the idempotency cache. Cache failures fall through to the store,
// whose unique index still resolves the retry.
func (p *Pipeline) lookupRetry(ctx context.Context, key string, in SendInput) (models.Message, bool) {
	if p.idem == nil {
		return models.Message{}, false
	}
	messageID, err := p.idem.Lookup(ctx, key)
	if errors.Is(err, idempotency.ErrMiss) {
		return models.Message{}, false
	}
	if err != nil {
		p.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return models.Message{}, false
	}

	msg, err := p.msgs.GetMessage(ctx, messageID)
	if err != nil || msg.ConversationID != in.ConversationID || msg.AuthorID != in.AuthorID {
		p.logger.Warn("stale idempotency entry", zap.String("key", key), zap.Int("message_id", messageID))
		return models.Message{}, false
	}
	return msg, true
}

// Fetch returns the full history in (createdAt, id) order.
func (p *Pipeline) Fetch(ctx context.Context, conversationID, requesterID int) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "pipeline.fetch")
	defer span.End()
	span.SetAttributes(attribute.Int("conversation.id", conversationID))

	if _, err := authorize(ctx, p.convs, conversationID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := p.msgs.ListMessages(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, transient("load messages", err)
	}
	models.SortMessages(msgs)
	return msgs, nil
}

// Edit replaces the content of the author's own message.
func (p *Pipeline) Edit(ctx context.Context, actorID, messageID int, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, validationf("content is required")
	}
	if _, err := p.ownMessage(ctx, actorID, messageID); err != nil {
		return models.Message{}, err
	}

	msg, err := p.msgs.UpdateContent(ctx, messageID, content, p.now())
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFound("message not found")
	}
	if err != nil {
		return models.Message{}, transient("edit message", err)
	}
	p.broadcastUpdate(msg)
	return msg, nil
}

// Delete marks the author's own message as deleted. Deleting twice keeps the first deletedAt.
func (p *Pipeline) Delete(ctx context.Context, actorID, messageID int) (models.Message, error) {
	if _, err := p.ownMessage(ctx, actorID, messageID); err != nil {
		return models.Message{}, err
	}

	msg, err := p.msgs.SoftDelete(ctx, messageID, p.now())
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFound("message not found")
	}
	if err != nil {
		return models.Message{}, transient("delete message", err)
	}
	p.broadcastUpdate(msg)
	return msg, nil
}

func (p *Pipeline) ownMessage(ctx context.Context, actorID, messageID int) (models.Message, error) {
	msg, err := p.msgs.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFound("message not found")
	}
	if err != nil {
		return models.Message{}, transient("load message", err)
	}
	if _, err := authorize(ctx, p.convs, msg.ConversationID, actorID); err != nil {
		return models.Message{}, err
	}
	if msg.AuthorID != actorID {
		return models.Message{}, forbidden("only the author can change a message")
	}
	return msg, nil
}

func (p *Pipeline) broadcastUpdate(msg models.Message) {
	if env, ok := envelope(p.logger, models.EventMessageUpdated, msg); ok {
		p.fanout.BroadcastToConversation(msg.ConversationID, env, Skip{})
	}
}
