package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conversation-service/internal/auth"
	"conversation-service/internal/idempotency"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
	"conversation-service/internal/service"
)

type liveEnv struct {
	server *httptest.Server
	dir    *service.Directory
	issuer *auth.Issuer
}

func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := repositories.NewMemoryStore(nil)
	hub := NewHub(nil, logger)

	dir := service.NewDirectory(store, hub, nil, logger)
	pipe := service.NewPipeline(store, store, idempotency.NewMemoryStore(time.Minute), hub, logger)
	syncer := service.NewSynchronizer(store, store, store, hub, logger, false)
	handler := NewHandler(hub, dir, pipe, syncer, auth.NewVerifier("test-secret"), nil, logger, DefaultOptions())

	r := gin.New()
	r.GET("/ws", handler.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &liveEnv{server: srv, dir: dir, issuer: auth.NewIssuer("test-secret", time.Hour)}
}

func (e *liveEnv) dial(t *testing.T, userID int) *websocket.Conn {
	t.Helper()
	token, err := e.issuer.Issue(userID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event models.EventName, requestID string, data any) {
	t.Helper()
	env, err := models.NewEnvelope(event, requestID, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func readEvent(t *testing.T, conn *websocket.Conn, event models.EventName) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env models.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == event {
			return env
		}
	}
}

func readAck(t *testing.T, conn *websocket.Conn) (models.Envelope, models.Ack) {
	t.Helper()
	env := readEvent(t, conn, models.EventAck)
	var ack models.Ack
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	return env, ack
}

func TestLiveSendAcksSenderAndReachesPeer(t *testing.T) {
	e := newLiveEnv(t)
	conv, _, err := e.dir.CreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	alice, bob := e.dial(t, 1), e.dial(t, 2)
	for _, c := range []*websocket.Conn{alice, bob} {
		send(t, c, models.EventJoinConversation, "join", models.JoinConversation{ConversationID: conv.ID})
		_, ack := readAck(t, c)
		require.Equal(t, models.AckOK, ack.Status)
	}

	send(t, alice, models.EventSendMessage, "r-1", models.SendMessage{ConversationID: conv.ID, Content: "hola"})
	env, ack := readAck(t, alice)
	assert.Equal(t, "r-1", env.RequestID)
	require.Equal(t, models.AckOK, ack.Status)
	require.NotNil(t, ack.Message)

	pushed := readEvent(t, bob, models.EventMessage)
	var msg models.Message
	require.NoError(t, pushed.Decode(&msg))
	assert.Equal(t, ack.Message.ID, msg.ID)
	assert.Equal(t, "hola", msg.Content)
	assert.Equal(t, 1, msg.AuthorID)
}

func TestLiveSendErrorsCarryCode(t *testing.T) {
	e := newLiveEnv(t)
	conv, _, err := e.dir.CreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	stranger := e.dial(t, 3)
	send(t, stranger, models.EventSendMessage, "r-2", models.SendMessage{ConversationID: conv.ID, Content: "hey"})
	_, ack := readAck(t, stranger)
	assert.Equal(t, models.AckError, ack.Status)
	assert.Equal(t, "forbidden", ack.Code)

	alice := e.dial(t, 1)
	send(t, alice, models.EventSendMessage, "r-3", models.SendMessage{ConversationID: conv.ID, Content: " "})
	_, ack = readAck(t, alice)
	assert.Equal(t, models.AckError, ack.Status)
	assert.Equal(t, "validation", ack.Code)
}

func TestJoinByNonParticipantIsRejectedWithoutReason(t *testing.T) {
	e := newLiveEnv(t)
	conv, _, err := e.dir.CreatePrivate(context.Background(), 1, 2)
	require.NoError(t, err)

	stranger := e.dial(t, 3)
	send(t, stranger, models.EventJoinConversation, "j", models.JoinConversation{ConversationID: conv.ID})
	_, ack := readAck(t, stranger)
	assert.Equal(t, models.AckError, ack.Status)
	assert.Empty(t, ack.Reason)
}

func TestMarkReadSyncsOtherSessions(t *testing.T) {
	e := newLiveEnv(t)
	ctx := context.Background()
	conv, _, err := e.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	alice := e.dial(t, 1)
	send(t, alice, models.EventSendMessage, "s", models.SendMessage{ConversationID: conv.ID, Content: "ping"})
	readAck(t, alice)

	phone, laptop := e.dial(t, 2), e.dial(t, 2)
	// A round trip guarantees the laptop session is attached before the read happens.
	send(t, laptop, models.EventJoinConversation, "j", models.JoinConversation{ConversationID: conv.ID})
	readAck(t, laptop)

	send(t, phone, models.EventMarkRead, "m", models.MarkRead{ConversationID: conv.ID})
	_, ack := readAck(t, phone)
	require.Equal(t, models.AckOK, ack.Status)
	assert.Equal(t, 1, ack.Changed)

	env := readEvent(t, laptop, models.EventConversationRead)
	var read models.ConversationRead
	require.NoError(t, env.Decode(&read))
	assert.Equal(t, conv.ID, read.ConversationID)
	assert.Equal(t, 2, read.UserID)
}

func TestInvalidFramesAreRejectedAtBoundary(t *testing.T) {
	e := newLiveEnv(t)
	conn := e.dial(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"teleport","request_id":"x","data":{}}`)))
	env, ack := readAck(t, conn)
	assert.Equal(t, "x", env.RequestID)
	assert.Equal(t, models.AckError, ack.Status)
	assert.Equal(t, "validation", ack.Code)

	send(t, conn, models.EventJoinConversation, "y", models.JoinConversation{})
	_, ack = readAck(t, conn)
	assert.Equal(t, "validation", ack.Code)
}

func TestHandshakeRequiresToken(t *testing.T) {
	e := newLiveEnv(t)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// removedAfterCheck lets the first membership check pass and removes the user
// right after it, the way a concurrent RemoveMembers would.
type removedAfterCheck struct {
	hub   *Hub
	calls int
}

func (r *removedAfterCheck) CheckMember(ctx context.Context, conversationID, userID int) error {
	r.calls++
	if r.calls == 1 {
		r.hub.Unsubscribe(conversationID, []int{userID})
		return nil
	}
	return service.ErrForbidden
}

type alwaysMember struct{}

func (alwaysMember) CheckMember(context.Context, int, int) error { return nil }

func TestJoinRacingRemovalLeavesNoSubscription(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	s := testSession("s", 5, 4)
	hub.Attach(s)

	checker := &removedAfterCheck{hub: hub}
	h := &Handler{hub: hub, directory: checker, logger: zap.NewNop()}

	ack := h.join(context.Background(), s, 10)
	assert.Equal(t, models.AckError, ack.Status)
	assert.Empty(t, ack.Reason)
	assert.Equal(t, 2, checker.calls)
	assert.Empty(t, hub.Rooms("s"))
	assert.Equal(t, 0, hub.BroadcastToConversation(10, testEnvelope(t), service.Skip{}))
}

func TestJoinByMemberSubscribes(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	s := testSession("s", 5, 4)
	hub.Attach(s)
	h := &Handler{hub: hub, directory: alwaysMember{}, logger: zap.NewNop()}

	ack := h.join(context.Background(), s, 10)
	assert.Equal(t, models.AckOK, ack.Status)
	assert.Equal(t, []int{10}, hub.Rooms("s"))
}
