package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"conversation-service/internal/middleware"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/service"
)

// Options tunes live connections.
type Options struct {
	AckTimeout time.Duration
	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int
	ReadLimit  int64
}

func DefaultOptions() Options {
	return Options{
		AckTimeout: 5 * time.Second,
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		SendBuffer: 128,
		ReadLimit:  64 << 10,
	}
}

// MembershipChecker reports whether a user currently participates in a conversation.
type MembershipChecker interface {
	CheckMember(ctx context.Context, conversationID, userID int) error
}

// Handler upgrades authenticated requests and serves the live channel.
type Handler struct {
	hub       *Hub
	directory MembershipChecker
	pipeline  *service.Pipeline
	sync      *service.Synchronizer
	tokens    middleware.TokenValidator
	events    *observability.EventPublisher
	logger    *zap.Logger
	opts      Options
}

func NewHandler(hub *Hub, directory MembershipChecker, pipeline *service.Pipeline, sync *service.Synchronizer, tokens middleware.TokenValidator, events *observability.EventPublisher, logger *zap.Logger, opts Options) *Handler {
	return &Handler{
		hub:       hub,
		directory: directory,
		pipeline:  pipeline,
		sync:      sync,
		tokens:    tokens,
		events:    events,
		logger:    logger,
		opts:      opts,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve authenticates the bearer token, upgrades the connection and starts the session loops.
func (h *Handler) Serve(c *gin.Context) {
	ctx, span := otel.Tracer("conversation-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token := middleware.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	userID, err := h.tokens.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(c.Request.Context()),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	session := newSession(conn, info, h.opts)
	release := h.hub.Attach(session)
	session.Start()

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect", "ok")
	h.publishLifecycle(ctx, info, "ws_connect", "")
	h.logger.Info("session connected", zap.String("session_id", session.ID), zap.Int("user_id", userID))

	// The session outlives the HTTP request; keep only the trace link.
	base := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	base = observability.WithRequestID(base, info.RequestID)
	go h.readLoop(base, session, release)
}

func (h *Handler) readLoop(ctx context.Context, s *Session, release func()) {
	var closeReason string
	defer func() {
		release()
		s.Close(websocket.CloseNormalClosure, "")
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect", "ok")
		h.publishLifecycle(ctx, s.Info, "ws_disconnect", closeReason)
		h.logger.Info("session disconnected",
			zap.String("session_id", s.ID), zap.Int("user_id", s.UserID), zap.String("reason", closeReason))
	}()

	s.conn.SetReadLimit(h.opts.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error", "read")
				h.publishLifecycle(ctx, s.Info, "ws_error", closeReason)
			}
			return
		}
		h.dispatch(ctx, s, raw)
	}
}

// dispatch runs one inbound event to completion and acknowledges it.
func (h *Handler) dispatch(parent context.Context, s *Session, raw []byte) {
	ctx, cancel := context.WithTimeout(parent, h.opts.AckTimeout)
	defer cancel()

	env, payload, err := models.DecodeInbound(raw)
	if err != nil {
		observability.IncWSEvent("invalid", "rejected")
		h.reply(s, env.RequestID, models.Ack{Status: models.AckError, Code: "validation", Reason: err.Error()})
		return
	}
	ctx = observability.WithRequestID(ctx, env.RequestID)

	var ack models.Ack
	switch p := payload.(type) {
	case *models.JoinConversation:
		ack = h.join(ctx, s, p.ConversationID)
	case *models.LeaveConversation:
		h.hub.Leave(s.ID, p.ConversationID)
		ack = models.Ack{Status: models.AckOK, ConversationID: p.ConversationID}
	case *models.SendMessage:
		msg, err := h.pipeline.SendLive(ctx, s.ID, service.SendInput{
			ConversationID:  p.ConversationID,
			AuthorID:        s.UserID,
			Content:         p.Content,
			Attachments:     p.Attachments,
			ClientMessageID: p.ClientMessageID,
		})
		if err != nil {
			ack = errorAck(err)
			break
		}
		ack = models.Ack{Status: models.AckOK, ConversationID: msg.ConversationID, Message: &msg}
	case *models.MarkRead:
		result, err := h.sync.MarkRead(ctx, s.ID, p.ConversationID, s.UserID, p.MessageIDs)
		if err != nil {
			ack = errorAck(err)
			break
		}
		ack = models.Ack{Status: models.AckOK, ConversationID: p.ConversationID, Changed: len(result.MessageIDs)}
	case *models.MarkDelivered:
		changed, err := h.sync.MarkDelivered(ctx, s.UserID, p.MessageID)
		if err != nil {
			ack = errorAck(err)
			break
		}
		ack = models.Ack{Status: models.AckOK}
		if changed {
			ack.Changed = 1
		}
	}

	outcome := "ok"
	if ack.Status != models.AckOK {
		outcome = "error"
	}
	observability.IncWSEvent(string(env.Event), outcome)
	h.reply(s, env.RequestID, ack)
}

// join subscribes the session. A rejected join is logged and acknowledged without a reason.
func (h *Handler) join(ctx context.Context, s *Session, conversationID int) models.Ack {
	if err := h.directory.CheckMember(ctx, conversationID, s.UserID); err != nil {
		h.logger.Warn("join rejected",
			zap.String("session_id", s.ID),
			zap.Int("user_id", s.UserID),
			zap.Int("conversation_id", conversationID),
			zap.Error(err))
		return models.Ack{Status: models.AckError, ConversationID: conversationID}
	}
	h.hub.Join(s.ID, conversationID)
	// A removal that landed between the check and the join already ran its Unsubscribe,
	// so membership is confirmed again once the session is in the room.
	if err := h.directory.CheckMember(ctx, conversationID, s.UserID); err != nil {
		h.hub.Leave(s.ID, conversationID)
		h.logger.Warn("join revoked by concurrent removal",
			zap.String("session_id", s.ID),
			zap.Int("user_id", s.UserID),
			zap.Int("conversation_id", conversationID),
			zap.Error(err))
		return models.Ack{Status: models.AckError, ConversationID: conversationID}
	}
	return models.Ack{Status: models.AckOK, ConversationID: conversationID}
}

func (h *Handler) reply(s *Session, requestID string, ack models.Ack) {
	env, err := models.NewEnvelope(models.EventAck, requestID, ack)
	if err != nil {
		h.logger.Error("encode ack", zap.Error(err))
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encode ack", zap.Error(err))
		return
	}
	if err := s.Enqueue(payload); err != nil && !errors.Is(err, ErrSessionClosed) {
		h.logger.Warn("ack dropped", zap.String("session_id", s.ID), zap.Error(err))
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	h.events.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.lifecyclePayload(event, reason),
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func errorAck(err error) models.Ack {
	return models.Ack{Status: models.AckError, Code: service.Code(err), Reason: service.Reason(err)}
}
