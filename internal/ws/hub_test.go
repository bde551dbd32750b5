package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/service"
)

func testSession(id string, userID int, buffer int) *Session {
	return newSession(nil, ConnInfo{ConnID: id, UserID: userID, ConnectedAt: time.Now()}, Options{
		SendBuffer: buffer,
		WriteWait:  time.Second,
		PongWait:   time.Second,
	})
}

func drain(s *Session) []models.Envelope {
	var out []models.Envelope
	for {
		select {
		case payload := <-s.send:
			var env models.Envelope
			if err := json.Unmarshal(payload, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func testEnvelope(t *testing.T) models.Envelope {
	env, err := models.NewEnvelope(models.EventMessage, "", models.Message{ID: 1, ConversationID: 10, Content: "hi"})
	require.NoError(t, err)
	return env
}

func TestHubBroadcastSkipsSenderSession(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	phone, laptop, peer := testSession("phone", 1, 4), testSession("laptop", 1, 4), testSession("peer", 2, 4)
	for _, s := range []*Session{phone, laptop, peer} {
		hub.Attach(s)
		require.True(t, hub.Join(s.ID, 10))
	}

	n := hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{SessionID: "phone"})
	assert.Equal(t, 2, n)
	assert.Empty(t, drain(phone))
	assert.Len(t, drain(laptop), 1)
	assert.Len(t, drain(peer), 1)

	n = hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{UserID: 1})
	assert.Equal(t, 1, n)
	assert.Len(t, drain(peer), 1)
	assert.Empty(t, drain(laptop))
}

func TestHubBroadcastToUserReachesOtherSessions(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	phone, laptop := testSession("phone", 1, 4), testSession("laptop", 1, 4)
	hub.Attach(phone)
	hub.Attach(laptop)

	n := hub.BroadcastToUser(1, testEnvelope(t), "phone")
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(phone))
	assert.Len(t, drain(laptop), 1)
}

func TestHubJoinIsIdempotentAndLeaveDeregisters(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	s := testSession("s", 1, 4)
	hub.Attach(s)

	assert.True(t, hub.Join("s", 10))
	assert.True(t, hub.Join("s", 10))
	assert.Equal(t, []int{10}, hub.Rooms("s"))
	assert.Equal(t, 1, hub.Stats().Rooms[10])

	assert.True(t, hub.Leave("s", 10))
	assert.False(t, hub.Leave("s", 10))
	assert.Empty(t, hub.Rooms("s"))
	assert.Equal(t, 0, hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{}))

	assert.False(t, hub.Join("unknown", 10))
}

func TestHubReleaseDropsEverySubscription(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	s := testSession("s", 1, 4)
	release := hub.Attach(s)
	hub.Join("s", 10)
	hub.Join("s", 11)

	release()
	release()

	stats := hub.Stats()
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Users)
	assert.Empty(t, stats.Rooms)
}

func TestHubUnsubscribeRemovedUsers(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	a, b := testSession("a", 1, 4), testSession("b", 2, 4)
	hub.Attach(a)
	hub.Attach(b)
	hub.Join("a", 10)
	hub.Join("b", 10)

	hub.Unsubscribe(10, []int{2})

	assert.Equal(t, 1, hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{}))
	assert.Empty(t, hub.Rooms("b"))
}

func TestSlowSessionIsClosedNotBlocking(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	slow := testSession("slow", 1, 1)
	hub.Attach(slow)
	hub.Join("slow", 10)

	assert.Equal(t, 1, hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{}))
	assert.Equal(t, 0, hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{}))

	select {
	case <-slow.Done():
	default:
		t.Fatal("expected slow session to be closed")
	}
	assert.ErrorIs(t, slow.Enqueue([]byte("late")), ErrSessionClosed)
}
