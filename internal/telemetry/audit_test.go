package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"conversation-service/internal/mocks"
	"conversation-service/internal/observability"
	"conversation-service/internal/telemetry"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit.conversations", "conversation-service", "test", zap.NewNop())
	ctx := observability.WithRequestID(context.Background(), "req-1")

	pub.On("Publish", ctx, "audit.conversations", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.EventType == "audit_log" &&
			env.Service == "conversation-service" &&
			env.Environment == "test" &&
			env.RequestID == "req-1" &&
			env.ActorID != nil && *env.ActorID == 4 &&
			env.Payload.Level == "INFO" &&
			env.Payload.Action == "members_removed" &&
			env.Payload.ConversationID == 9 &&
			assert.ObjectsAreEqual([]int{5}, env.Payload.Subjects)
	}), map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	emitter.Emit(ctx, telemetry.AuditRecord{Action: "members_removed", ActorID: 4, ConversationID: 9, Subjects: []int{5}})

	pub.AssertExpectations(t)
}

func TestEmitWithoutActorLeavesItUnset(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit", "svc", "test", zap.NewNop())

	pub.On("Publish", mock.Anything, "audit", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.ActorID == nil && env.Payload.Level == "WARN"
	}), mock.Anything).Return(errors.New("channel closed")).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), telemetry.AuditRecord{Level: "WARN", Action: "probe"})
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), telemetry.AuditRecord{Action: "anything"})
	})
}
