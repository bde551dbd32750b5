package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/models"
)

// ConversationHandler serves conversation directory and read-state endpoints.
type ConversationHandler struct {
	directory ConversationDirectory
	sync      ReadSynchronizer
}

func NewConversationHandler(directory ConversationDirectory, sync ReadSynchronizer) *ConversationHandler {
	return &ConversationHandler{directory: directory, sync: sync}
}

// ListConversations returns the caller's chat list with unread counts.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	items, err := h.sync.ChatList(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

// CreatePrivate finds or creates the private conversation between the caller and user_id.
func (h *ConversationHandler) CreatePrivate(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, status, err := h.directory.CreatePrivate(c.Request.Context(), userID(c), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	code := http.StatusOK
	if status == models.StatusCreated {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"status": status, "conversation": conv})
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string `json:"name"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.directory.CreateGroup(c.Request.Context(), req.Name, userID(c), req.MemberIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (h *ConversationHandler) Participants(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	participants, err := h.directory.Participants(c.Request.Context(), userID(c), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

type membersRequest struct {
	UserIDs []int `json:"user_ids" binding:"required"`
}

func (h *ConversationHandler) AddMembers(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	var req membersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.directory.AddMembers(c.Request.Context(), userID(c), conversationID, req.UserIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// RemoveMembers never removes the creator; such ids are dropped silently.
func (h *ConversationHandler) RemoveMembers(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	var req membersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.directory.RemoveMembers(c.Request.Context(), userID(c), conversationID, req.UserIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *ConversationHandler) Rename(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.directory.RenameGroup(c.Request.Context(), userID(c), conversationID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// MarkRead is the out-of-band read call, e.g. when a conversation is opened.
// Every live session of the caller is notified.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		MessageIDs []int `json:"message_ids"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.sync.MarkRead(c.Request.Context(), "", conversationID, userID(c), req.MessageIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	count, err := h.sync.UnreadCount(c.Request.Context(), conversationID, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "unread_count": count})
}
