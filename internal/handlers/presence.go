package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-hub/internal/bridge"
	"chat-hub/internal/models"
	"chat-hub/internal/telemetry"
)

type PresenceHandler struct {
	bridge *bridge.Bridge
	audit  *telemetry.AuditEmitter
}

func NewPresenceHandler(b *bridge.Bridge, audit *telemetry.AuditEmitter) *PresenceHandler {
	return &PresenceHandler{bridge: b, audit: audit}
}

// GetPresence handles GET /users/:user_id/presence, filtered by the target's
// visibility setting.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, ok := intParam(c, h.audit, "user_id")
	if !ok {
		return
	}
	presence, err := h.bridge.PresenceOf(c.Request.Context(), c.GetInt("userID"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presence)
}

// UpdateStatus handles PUT /users/me/status.
func (h *PresenceHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status models.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}
	if err := h.bridge.UpdateStatus(c.Request.Context(), actorFrom(c), req.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// RegisterRoutes mounts the REST surface on an authenticated group.
func RegisterRoutes(api *gin.RouterGroup, convs *ConversationHandler, msgs *MessageHandler, presence *PresenceHandler) {
	api.GET("/conversations", convs.ListConversations)
	api.POST("/conversations/private", convs.StartPrivate)
	api.POST("/conversations/group", convs.CreateGroup)
	api.GET("/conversations/:conversation_id", convs.GetConversation)
	api.PATCH("/conversations/:conversation_id", convs.UpdateGroup)
	api.DELETE("/conversations/:conversation_id", convs.DeleteConversation)
	api.POST("/conversations/:conversation_id/participants", convs.AddParticipants)
	api.DELETE("/conversations/:conversation_id/participants/:user_id", convs.RemoveParticipant)
	api.PUT("/conversations/:conversation_id/admins/:user_id", convs.SetAdmin)
	api.PUT("/conversations/:conversation_id/flags/:flag", convs.SetFlag)
	api.POST("/conversations/:conversation_id/clear", convs.ClearHistory)

	api.GET("/conversations/:conversation_id/messages", msgs.History)
	api.GET("/conversations/:conversation_id/messages/search", msgs.Search)
	api.POST("/conversations/:conversation_id/messages", msgs.Send)
	api.POST("/conversations/:conversation_id/read", msgs.MarkRead)
	api.PATCH("/messages/:message_id", msgs.Edit)
	api.DELETE("/messages/:message_id", msgs.Delete)
	api.POST("/messages/:message_id/reactions", msgs.React)
	api.DELETE("/messages/:message_id/reactions", msgs.Unreact)
	api.POST("/messages/:message_id/pin", msgs.TogglePin)
	api.POST("/messages/:message_id/forward", msgs.Forward)

	api.GET("/users/:user_id/presence", presence.GetPresence)
	api.PUT("/users/me/status", presence.UpdateStatus)
}
