package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-hub/internal/bridge"
	"chat-hub/internal/models"
	"chat-hub/internal/telemetry"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	bridge *bridge.Bridge
	audit  *telemetry.AuditEmitter
}

func NewConversationHandler(b *bridge.Bridge, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{bridge: b, audit: audit}
}

// ListConversations handles GET /conversations?archived=true.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	archived := c.Query("archived") == "true"
	list, err := h.bridge.Conversations(c.Request.Context(), c.GetInt("userID"), archived)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// GetConversation handles GET /conversations/:conversation_id.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	conv, err := h.bridge.Conversation(c.Request.Context(), c.GetInt("userID"), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// StartPrivate handles POST /conversations/private.
func (h *ConversationHandler) StartPrivate(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	conv, err := h.bridge.StartPrivate(c.Request.Context(), actorFrom(c), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// CreateGroup handles POST /conversations/group.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req bridge.GroupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	conv, err := h.bridge.CreateGroup(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// UpdateGroup handles PATCH /conversations/:conversation_id.
func (h *ConversationHandler) UpdateGroup(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	var req models.GroupInfoUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	conv, err := h.bridge.UpdateGroup(c.Request.Context(), actorFrom(c), conversationID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// AddParticipants handles POST /conversations/:conversation_id/participants.
func (h *ConversationHandler) AddParticipants(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		UserIDs []int `json:"user_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	added, err := h.bridge.AddParticipants(c.Request.Context(), actorFrom(c), conversationID, req.UserIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added_user_ids": added})
}

// RemoveParticipant handles DELETE /conversations/:conversation_id/participants/:user_id.
// Removing oneself leaves the group.
func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	userID, ok := intParam(c, h.audit, "user_id")
	if !ok {
		return
	}

	if err := h.bridge.RemoveParticipant(c.Request.Context(), actorFrom(c), conversationID, userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetAdmin handles PUT /conversations/:conversation_id/admins/:user_id.
func (h *ConversationHandler) SetAdmin(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	userID, ok := intParam(c, h.audit, "user_id")
	if !ok {
		return
	}
	var req struct {
		Admin *bool `json:"admin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	if err := h.bridge.SetAdmin(c.Request.Context(), actorFrom(c), conversationID, userID, *req.Admin); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteConversation handles DELETE /conversations/:conversation_id.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	if err := h.bridge.DeleteConversation(c.Request.Context(), actorFrom(c), conversationID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetFlag handles PUT /conversations/:conversation_id/flags/:flag.
func (h *ConversationHandler) SetFlag(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	flag := models.ParticipantFlag(c.Param("flag"))
	if !flag.Valid() {
		badRequest(c, h.audit, "unknown flag")
		return
	}
	var req struct {
		Value *bool `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	if err := h.bridge.SetFlag(c.Request.Context(), actorFrom(c), conversationID, flag, *req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearHistory handles POST /conversations/:conversation_id/clear.
func (h *ConversationHandler) ClearHistory(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	if err := h.bridge.ClearHistory(c.Request.Context(), actorFrom(c), conversationID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
