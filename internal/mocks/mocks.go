package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"conversation-service/internal/models"
	"conversation-service/internal/service"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, bool, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error) {
	args := m.Called(ctx, name, creatorID, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListParticipants(ctx context.Context, conversationID int) ([]models.Participant, error) {
	args := m.Called(ctx, conversationID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) AddParticipants(ctx context.Context, conversationID int, userIDs []int, joinedAt time.Time) ([]int, error) {
	args := m.Called(ctx, conversationID, userIDs, joinedAt)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) RemoveParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error) {
	args := m.Called(ctx, conversationID, userIDs)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) Rename(ctx context.Context, conversationID int, name string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, name)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) CreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, models.CreateStatus, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	var status models.CreateStatus
	if val := args.Get(1); val != nil {
		status = val.(models.CreateStatus)
	}
	return conv, status, args.Error(2)
}

func (m *DirectoryMock) CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error) {
	args := m.Called(ctx, name, creatorID, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *DirectoryMock) AddMembers(ctx context.Context, actorID, conversationID int, userIDs []int) ([]int, error) {
	args := m.Called(ctx, actorID, conversationID, userIDs)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *DirectoryMock) RemoveMembers(ctx context.Context, actorID, conversationID int, userIDs []int) ([]int, error) {
	args := m.Called(ctx, actorID, conversationID, userIDs)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *DirectoryMock) RenameGroup(ctx context.Context, actorID, conversationID int, name string) (models.Conversation, error) {
	args := m.Called(ctx, actorID, conversationID, name)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *DirectoryMock) Participants(ctx context.Context, requesterID, conversationID int) ([]models.Participant, error) {
	args := m.Called(ctx, requesterID, conversationID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

type PipelineMock struct {
	mock.Mock
}

func (m *PipelineMock) SendFallback(ctx context.Context, in service.SendInput) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *PipelineMock) Fetch(ctx context.Context, conversationID, requesterID int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, requesterID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *PipelineMock) Edit(ctx context.Context, actorID, messageID int, content string) (models.Message, error) {
	args := m.Called(ctx, actorID, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *PipelineMock) Delete(ctx context.Context, actorID, messageID int) (models.Message, error) {
	args := m.Called(ctx, actorID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type SynchronizerMock struct {
	mock.Mock
}

func (m *SynchronizerMock) MarkDelivered(ctx context.Context, userID, messageID int) (bool, error) {
	args := m.Called(ctx, userID, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *SynchronizerMock) MarkRead(ctx context.Context, sessionID string, conversationID, userID int, messageIDs []int) (service.ReadResult, error) {
	args := m.Called(ctx, sessionID, conversationID, userID, messageIDs)
	var result service.ReadResult
	if val := args.Get(0); val != nil {
		result = val.(service.ReadResult)
	}
	return result, args.Error(1)
}

func (m *SynchronizerMock) UnreadCount(ctx context.Context, conversationID, userID int) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *SynchronizerMock) ChatList(ctx context.Context, userID int) ([]models.ChatListItem, error) {
	args := m.Called(ctx, userID)
	var items []models.ChatListItem
	if val := args.Get(0); val != nil {
		items = val.([]models.ChatListItem)
	}
	return items, args.Error(1)
}
