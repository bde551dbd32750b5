package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/middleware"
	"conversation-service/internal/models"
	"conversation-service/internal/service"
)

// ConversationDirectory is the part of service.Directory the HTTP API uses.
type ConversationDirectory interface {
	CreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, models.CreateStatus, error)
	CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error)
	AddMembers(ctx context.Context, actorID, conversationID int, userIDs []int) ([]int, error)
	RemoveMembers(ctx context.Context, actorID, conversationID int, userIDs []int) ([]int, error)
	RenameGroup(ctx context.Context, actorID, conversationID int, name string) (models.Conversation, error)
	Participants(ctx context.Context, requesterID, conversationID int) ([]models.Participant, error)
}

// MessagePipeline is the part of service.Pipeline the HTTP API uses.
type MessagePipeline interface {
	SendFallback(ctx context.Context, in service.SendInput) (models.Message, error)
	Fetch(ctx context.Context, conversationID, requesterID int) ([]models.Message, error)
	Edit(ctx context.Context, actorID, messageID int, content string) (models.Message, error)
	Delete(ctx context.Context, actorID, messageID int) (models.Message, error)
}

// ReadSynchronizer is the part of service.Synchronizer the HTTP API uses.
type ReadSynchronizer interface {
	MarkDelivered(ctx context.Context, userID, messageID int) (bool, error)
	MarkRead(ctx context.Context, sessionID string, conversationID, userID int, messageIDs []int) (service.ReadResult, error)
	UnreadCount(ctx context.Context, conversationID, userID int) (int, error)
	ChatList(ctx context.Context, userID int) ([]models.ChatListItem, error)
}

var (
	_ ConversationDirectory = (*service.Directory)(nil)
	_ MessagePipeline       = (*service.Pipeline)(nil)
	_ ReadSynchronizer      = (*service.Synchronizer)(nil)
)

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	label := "UNAVAILABLE"
	switch {
	case errors.Is(err, service.ErrValidation):
		status, label = http.StatusBadRequest, "INVALID"
	case errors.Is(err, service.ErrForbidden):
		status, label = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, service.ErrNotFound):
		status, label = http.StatusNotFound, "NOT_FOUND"
	}
	c.JSON(status, gin.H{"status": label, "code": service.Code(err), "error": service.Reason(err)})
}

func userID(c *gin.Context) int {
	return c.GetInt(middleware.UserIDKey)
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
