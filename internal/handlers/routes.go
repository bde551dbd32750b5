package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the fallback API on an authenticated group.
func RegisterRoutes(r gin.IRoutes, conversations *ConversationHandler, messages *MessageHandler) {
	r.GET("/conversations", conversations.ListConversations)
	r.POST("/conversations/private", conversations.CreatePrivate)
	r.POST("/conversations/group", conversations.CreateGroup)
	r.PATCH("/conversations/:conversation_id", conversations.Rename)
	r.GET("/conversations/:conversation_id/participants", conversations.Participants)
	r.POST("/conversations/:conversation_id/members", conversations.AddMembers)
	r.DELETE("/conversations/:conversation_id/members", conversations.RemoveMembers)
	r.POST("/conversations/:conversation_id/read", conversations.MarkRead)
	r.GET("/conversations/:conversation_id/unread", conversations.UnreadCount)

	r.GET("/conversations/:conversation_id/messages", messages.ListMessages)
	r.POST("/conversations/:conversation_id/messages", messages.PostMessage)
	r.PATCH("/messages/:message_id", messages.EditMessage)
	r.DELETE("/messages/:message_id", messages.DeleteMessage)
	r.POST("/messages/:message_id/delivered", messages.MarkDelivered)
}
