package observability

import (
	"context"

	"go.uber.org/zap"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// Publisher is the event bus seen by observability. rabbitmq.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// EventPublisher forwards lifecycle events to the bus and counts failures.
// A nil *EventPublisher drops events.
type EventPublisher struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewEventPublisher(publisher Publisher, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, logger: logger}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, routingKey string, event EventEnvelope, headers map[string]string) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, routingKey, event, headers); err != nil {
		IncAMQPPublishError()
		p.logger.Warn("publish event failed",
			zap.String("routing_key", routingKey),
			zap.String("event", event.EventName),
			zap.Error(err))
	}
}
