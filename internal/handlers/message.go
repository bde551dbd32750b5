package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/models"
	"conversation-service/internal/service"
)

// MessageHandler serves the fallback message endpoints.
type MessageHandler struct {
	pipeline MessagePipeline
	sync     ReadSynchronizer
}

func NewMessageHandler(pipeline MessagePipeline, sync ReadSynchronizer) *MessageHandler {
	return &MessageHandler{pipeline: pipeline, sync: sync}
}

// ListMessages returns the whole history in (created_at, id) order.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	msgs, err := h.pipeline.Fetch(c.Request.Context(), conversationID, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "messages": msgs})
}

// PostMessage stores a message without live push. Retrying with the same
// client_message_id returns the stored message.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		Content         string                   `json:"content"`
		Attachments     []models.AttachmentInput `json:"attachments"`
		ClientMessageID string                   `json:"client_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.pipeline.SendFallback(c.Request.Context(), service.SendInput{
		ConversationID:  conversationID,
		AuthorID:        userID(c),
		Content:         req.Content,
		Attachments:     req.Attachments,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.pipeline.Edit(c.Request.Context(), userID(c), messageID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	if _, err := h.pipeline.Delete(c.Request.Context(), userID(c), messageID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	changed, err := h.sync.MarkDelivered(c.Request.Context(), userID(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}
