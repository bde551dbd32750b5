package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// AuditEmitter publishes membership and moderation actions. A nil emitter is a no-op.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	ActorID       *int         `json:"actor_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	ConversationID int    `json:"conversation_id,omitempty"`
	Subjects       []int  `json:"subjects,omitempty"`
	Text           string `json:"text,omitempty"`
}

// AuditRecord is what callers report; the emitter fills in the envelope.
type AuditRecord struct {
	Level          string
	Action         string
	ActorID        int
	ConversationID int
	Subjects       []int
	Text           string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	level := rec.Level
	if level == "" {
		level = "INFO"
	}
	requestID := observability.RequestIDFromContext(ctx)

	var actor *int
	if rec.ActorID != 0 {
		id := rec.ActorID
		actor = &id
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		ActorID:       actor,
		Payload: AuditPayload{
			Level:          level,
			Action:         rec.Action,
			ConversationID: rec.ConversationID,
			Subjects:       rec.Subjects,
			Text:           rec.Text,
		},
	}

	e.logger.Debug("audit emit",
		zap.String("action", rec.Action),
		zap.String("request_id", requestID),
		zap.Int("actor_id", rec.ActorID),
		zap.Int("conversation_id", rec.ConversationID))

	headers := observability.BuildHeaders(requestID, observability.TraceID(ctx))
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.logger.Warn("audit publish failed", zap.String("action", rec.Action), zap.Error(err))
	}
}
