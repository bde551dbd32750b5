package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"conversation-service/internal/models"
)

type pairKey struct{ low, high int }

type participantKey struct{ conversationID, userID int }

type stateKey struct{ messageID, userID int }

type clientKey struct {
	conversationID int
	authorID       int
	clientID       string
}

// MemoryStore keeps every table in process memory behind one mutex. It implements
// ConversationRepository, MessageRepository and StateRepository with the same
// uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	nextConversationID int
	nextMessageID      int
	nextAttachmentID   int

	conversations map[int]models.Conversation
	pairs         map[pairKey]int
	participants  map[participantKey]models.Participant
	messages      map[int]models.Message
	attachments   map[int][]models.Attachment
	states        map[stateKey]models.MessageState
	clientIDs     map[clientKey]int
}

// NewMemoryStore builds an empty store. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		conversations: make(map[int]models.Conversation),
		pairs:         make(map[pairKey]int),
		participants:  make(map[participantKey]models.Participant),
		messages:      make(map[int]models.Message),
		attachments:   make(map[int][]models.Attachment),
		states:        make(map[stateKey]models.MessageState),
		clientIDs:     make(map[clientKey]int),
	}
}

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ StateRepository        = (*MemoryStore)(nil)
)

func (s *MemoryStore) FindOrCreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	low, high := orderedPair(userA, userB)
	if id, ok := s.pairs[pairKey{low, high}]; ok {
		return s.conversations[id], false, nil
	}

	conv := s.insertConversationLocked(models.KindPrivate, "", nil)
	s.pairs[pairKey{low, high}] = conv.ID
	for _, id := range []int{low, high} {
		s.participants[participantKey{conv.ID, id}] = models.Participant{
			ConversationID: conv.ID, UserID: id, Role: models.RoleMember, JoinedAt: conv.CreatedAt,
		}
	}
	return conv, true, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creator := creatorID
	conv := s.insertConversationLocked(models.KindGroup, name, &creator)
	s.participants[participantKey{conv.ID, creatorID}] = models.Participant{
		ConversationID: conv.ID, UserID: creatorID, Role: models.RoleAdmin, JoinedAt: conv.CreatedAt,
	}
	for _, id := range memberIDs {
		key := participantKey{conv.ID, id}
		if _, ok := s.participants[key]; ok {
			continue
		}
		s.participants[key] = models.Participant{
			ConversationID: conv.ID, UserID: id, Role: models.RoleMember, JoinedAt: conv.CreatedAt,
		}
	}
	return conv, nil
}

func (s *MemoryStore) insertConversationLocked(kind models.ConversationKind, name string, creatorID *int) models.Conversation {
	s.nextConversationID++
	now := s.now()
	conv := models.Conversation{
		ID:             s.nextConversationID,
		Kind:           kind,
		DisplayName:    name,
		CreatorID:      creatorID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.conversations[conv.ID] = conv
	return conv
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var convs []models.Conversation
	for key := range s.participants {
		if key.userID == userID {
			convs = append(convs, s.conversations[key.conversationID])
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastActivityAt.Equal(convs[j].LastActivityAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].LastActivityAt.After(convs[j].LastActivityAt)
	})
	return convs, nil
}

func (s *MemoryStore) GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey{conversationID, userID}]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[participantKey{conversationID, userID}]
	return ok, nil
}

func (s *MemoryStore) ListParticipants(ctx context.Context, conversationID int) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked(conversationID), nil
}

func (s *MemoryStore) participantsLocked(conversationID int) []models.Participant {
	var ps []models.Participant
	for key, p := range s.participants {
		if key.conversationID == conversationID {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].UserID < ps[j].UserID
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
	return ps
}

func (s *MemoryStore) AddParticipants(ctx context.Context, conversationID int, userIDs []int, joinedAt time.Time) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}

	added := make([]int, 0, len(userIDs))
	for _, id := range userIDs {
		key := participantKey{conversationID, id}
		if _, ok := s.participants[key]; ok {
			continue
		}
		s.participants[key] = models.Participant{
			ConversationID: conversationID, UserID: id, Role: models.RoleMember, JoinedAt: joinedAt,
		}
		for _, msg := range s.messages {
			if msg.ConversationID != conversationID || msg.AuthorID == id {
				continue
			}
			sk := stateKey{msg.ID, id}
			if _, ok := s.states[sk]; ok {
				continue
			}
			at := joinedAt
			s.states[sk] = models.MessageState{MessageID: msg.ID, UserID: id, Delivered: true, Read: true, DeliveredAt: &at, ReadAt: &at}
		}
		added = append(added, id)
	}
	return added, nil
}

func (s *MemoryStore) RemoveParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return []int{}, nil
	}

	removed := []int{}
	for _, id := range userIDs {
		if conv.IsCreator(id) {
			continue
		}
		key := participantKey{conversationID, id}
		if _, ok := s.participants[key]; ok {
			delete(s.participants, key)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Rename(ctx context.Context, conversationID int, name string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	conv.DisplayName = name
	s.conversations[conversationID] = conv
	return conv, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, in NewMessage) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ClientMessageID != nil {
		if id, ok := s.clientIDs[clientKey{in.ConversationID, in.AuthorID, *in.ClientMessageID}]; ok {
			return s.hydrateLocked(s.messages[id]), false, nil
		}
	}
	conv, ok := s.conversations[in.ConversationID]
	if !ok {
		return models.Message{}, false, ErrConversationNotFound
	}

	s.nextMessageID++
	now := s.now()
	msg := models.Message{
		ID:              s.nextMessageID,
		ConversationID:  in.ConversationID,
		AuthorID:        in.AuthorID,
		Content:         in.Content,
		ClientMessageID: in.ClientMessageID,
		CreatedAt:       now,
	}
	s.messages[msg.ID] = msg
	if in.ClientMessageID != nil {
		s.clientIDs[clientKey{in.ConversationID, in.AuthorID, *in.ClientMessageID}] = msg.ID
	}

	for _, a := range in.Attachments {
		s.nextAttachmentID++
		s.attachments[msg.ID] = append(s.attachments[msg.ID], models.Attachment{
			ID: s.nextAttachmentID, MessageID: msg.ID, URL: a.URL, Type: a.Type, Name: a.Name, Size: a.Size, CreatedAt: now,
		})
	}
	for key := range s.participants {
		if key.conversationID == in.ConversationID && key.userID != in.AuthorID {
			s.states[stateKey{msg.ID, key.userID}] = models.MessageState{MessageID: msg.ID, UserID: key.userID}
		}
	}

	if now.After(conv.LastActivityAt) {
		conv.LastActivityAt = now
		s.conversations[conv.ID] = conv
	}
	return s.hydrateLocked(msg), true, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return s.hydrateLocked(msg), nil
}

func (s *MemoryStore) FindByClientID(ctx context.Context, conversationID int, authorID int, clientMessageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.clientIDs[clientKey{conversationID, authorID, clientMessageID}]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return s.hydrateLocked(s.messages[id]), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messagesLocked(conversationID)
	for i := range msgs {
		msgs[i] = s.hydrateLocked(msgs[i])
	}
	return msgs, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, conversationID int) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messagesLocked(conversationID)
	if len(msgs) == 0 {
		return nil, nil
	}
	last := s.hydrateLocked(msgs[len(msgs)-1])
	return &last, nil
}

func (s *MemoryStore) UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.DeletedAt != nil {
		return models.Message{}, ErrMessageNotFound
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	s.messages[messageID] = msg
	return s.hydrateLocked(msg), nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, messageID int, deletedAt time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.DeletedAt == nil {
		msg.DeletedAt = &deletedAt
		s.messages[messageID] = msg
	}
	return s.hydrateLocked(msg), nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, messageID int, userID int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey{messageID, userID}
	st, ok := s.states[key]
	if !ok || st.Delivered {
		return false, nil
	}
	st.Delivered = true
	st.DeliveredAt = &at
	s.states[key] = st
	return true, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID int, userID int, messageIDs []int, at time.Time) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var only map[int]struct{}
	if messageIDs != nil {
		only = make(map[int]struct{}, len(messageIDs))
		for _, id := range messageIDs {
			only[id] = struct{}{}
		}
	}

	changed := []int{}
	for key, st := range s.states {
		if key.userID != userID || st.Read {
			continue
		}
		msg := s.messages[key.messageID]
		if msg.ConversationID != conversationID || msg.AuthorID == userID {
			continue
		}
		if only != nil {
			if _, ok := only[key.messageID]; !ok {
				continue
			}
		}
		readAt := at
		st.Read = true
		st.ReadAt = &readAt
		if !st.Delivered {
			st.Delivered = true
			st.DeliveredAt = &readAt
		}
		s.states[key] = st
		changed = append(changed, key.messageID)
	}

	pk := participantKey{conversationID, userID}
	if p, ok := s.participants[pk]; ok {
		lastRead := at
		p.LastReadAt = &lastRead
		s.participants[pk] = p
	}

	sort.Ints(changed)
	return changed, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.ConversationID != conversationID || msg.AuthorID == userID {
			continue
		}
		if st, ok := s.states[stateKey{msg.ID, userID}]; ok && st.Read {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) messagesLocked(conversationID int) []models.Message {
	var msgs []models.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	models.SortMessages(msgs)
	return msgs
}

func (s *MemoryStore) hydrateLocked(msg models.Message) models.Message {
	msg.Attachments = append([]models.Attachment{}, s.attachments[msg.ID]...)
	msg.States = []models.MessageState{}
	for key, st := range s.states {
		if key.messageID == msg.ID {
			msg.States = append(msg.States, st)
		}
	}
	sort.Slice(msg.States, func(i, j int) bool { return msg.States[i].UserID < msg.States[j].UserID })
	return msg
}
