package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/service"
)

const wsRoutingKey = "ws_events.sessions"

// Hub tracks live sessions and the conversations they joined.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	userSessions map[int]map[string]*Session
	rooms        map[int]map[string]*Session
	sessionRooms map[string]map[int]struct{}

	events *observability.EventPublisher
	logger *zap.Logger
}

var _ service.Fanout = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(events *observability.EventPublisher, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:     make(map[string]*Session),
		userSessions: make(map[int]map[string]*Session),
		rooms:        make(map[int]map[string]*Session),
		sessionRooms: make(map[string]map[int]struct{}),
		events:       events,
		logger:       logger,
	}
}

// Attach registers a session and returns the func that releases it together with
// every room it joined. Release is safe to call more than once.
func (h *Hub) Attach(s *Session) (release func()) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	if _, ok := h.userSessions[s.UserID]; !ok {
		h.userSessions[s.UserID] = make(map[string]*Session)
	}
	h.userSessions[s.UserID][s.ID] = s
	h.sessionRooms[s.ID] = make(map[int]struct{})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.detach(s) })
	}
}

func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conversationID := range h.sessionRooms[s.ID] {
		h.removeFromRoomLocked(conversationID, s.ID)
	}
	delete(h.sessionRooms, s.ID)
	delete(h.sessions, s.ID)
	if sessions, ok := h.userSessions[s.UserID]; ok {
		delete(sessions, s.ID)
		if len(sessions) == 0 {
			delete(h.userSessions, s.UserID)
		}
	}
}

// Join subscribes an attached session to a conversation. Joining twice is a no-op.
func (h *Hub) Join(sessionID string, conversationID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[string]*Session)
	}
	h.rooms[conversationID][sessionID] = s
	h.sessionRooms[sessionID][conversationID] = struct{}{}
	return true
}

// Leave unsubscribes a session. It reports whether the session was subscribed.
func (h *Hub) Leave(sessionID string, conversationID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.sessionRooms[sessionID]
	if !ok {
		return false
	}
	if _, joined := rooms[conversationID]; !joined {
		return false
	}
	delete(rooms, conversationID)
	h.removeFromRoomLocked(conversationID, sessionID)
	return true
}

// Unsubscribe drops every session of the given users from a conversation.
func (h *Hub) Unsubscribe(conversationID int, userIDs []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userID := range userIDs {
		for sessionID := range h.userSessions[userID] {
			if rooms, ok := h.sessionRooms[sessionID]; ok {
				delete(rooms, conversationID)
			}
			h.removeFromRoomLocked(conversationID, sessionID)
		}
	}
}

func (h *Hub) removeFromRoomLocked(conversationID int, sessionID string) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Rooms lists the conversations a session joined, ascending.
func (h *Hub) Rooms(sessionID string) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(h.sessionRooms[sessionID]))
	for id := range h.sessionRooms[sessionID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BroadcastToConversation pushes env to every session in the room not matched by skip.
// It returns the number of sessions the event was queued for.
func (h *Hub) BroadcastToConversation(conversationID int, env models.Envelope, skip service.Skip) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[conversationID]))
	for id, s := range h.rooms[conversationID] {
		if id == skip.SessionID || (skip.UserID != 0 && s.UserID == skip.UserID) {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	return h.deliver(env, targets)
}

// BroadcastToUser pushes env to every session of userID except skipSessionID.
func (h *Hub) BroadcastToUser(userID int, env models.Envelope, skipSessionID string) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.userSessions[userID]))
	for id, s := range h.userSessions[userID] {
		if id != skipSessionID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	return h.deliver(env, targets)
}

func (h *Hub) deliver(env models.Envelope, targets []*Session) int {
	if len(targets) == 0 {
		return 0
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", string(env.Event)), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, s := range targets {
		if err := s.Enqueue(payload); err != nil {
			observability.IncBroadcast(string(env.Event), "dropped")
			h.logger.Warn("broadcast dropped",
				zap.String("event", string(env.Event)),
				zap.String("session_id", s.ID),
				zap.Int("user_id", s.UserID),
				zap.Error(err))
			h.publishWSError(s, err)
			continue
		}
		observability.IncBroadcast(string(env.Event), "queued")
		delivered++
	}
	return delivered
}

func (h *Hub) publishWSError(s *Session, err error) {
	h.events.PublishEvent(context.Background(), wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   s.Info.lifecyclePayload("ws_error", err.Error()),
	}, observability.BuildHeaders(s.Info.RequestID, s.Info.TraceID))
	observability.IncWSEvent("ws_error", "broadcast")
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Sessions int         `json:"sessions"`
	Users    int         `json:"users"`
	Rooms    map[int]int `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make(map[int]int, len(h.rooms))
	for id, room := range h.rooms {
		rooms[id] = len(room)
	}
	return Stats{Sessions: len(h.sessions), Users: len(h.userSessions), Rooms: rooms}
}
