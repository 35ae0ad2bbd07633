package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-hub/internal/bridge"
	"chat-hub/internal/models"
	"chat-hub/internal/telemetry"
)

// MessageHandler manages message endpoints. Every mutation goes through the
// bridge so REST and websocket clients see the same events.
type MessageHandler struct {
	bridge *bridge.Bridge
	audit  *telemetry.AuditEmitter
}

func NewMessageHandler(b *bridge.Bridge, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{bridge: b, audit: audit}
}

// History handles GET /conversations/:conversation_id/messages?before=&before_id=&limit=.
// before_id breaks ties between messages sharing the before timestamp.
func (h *MessageHandler) History(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}

	var before *models.HistoryCursor
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(c, h.audit, "before must be an RFC 3339 timestamp")
			return
		}
		before = &models.HistoryCursor{CreatedAt: t}
		if raw := c.Query("before_id"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				badRequest(c, h.audit, "invalid before_id")
				return
			}
			before.ID = id
		}
	}
	limit, ok := h.limitQuery(c)
	if !ok {
		return
	}

	page, err := h.bridge.History(c.Request.Context(), c.GetInt("userID"), conversationID, before, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Search handles GET /conversations/:conversation_id/messages/search?q=&limit=.
func (h *MessageHandler) Search(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	limit, ok := h.limitQuery(c)
	if !ok {
		return
	}

	msgs, err := h.bridge.Search(c.Request.Context(), c.GetInt("userID"), conversationID, c.Query("q"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) limitQuery(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, h.audit, "invalid limit")
		return 0, false
	}
	return n, true
}

// Send handles POST /conversations/:conversation_id/messages.
func (h *MessageHandler) Send(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		Type    models.MessageType `json:"type"`
		Content string             `json:"content"`
		ReplyTo *int               `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	msg, err := h.bridge.SendMessage(c.Request.Context(), actorFrom(c), bridge.SendInput{
		ConversationID: conversationID,
		Type:           req.Type,
		Content:        req.Content,
		ReplyTo:        req.ReplyTo,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Edit handles PATCH /messages/:message_id.
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := intParam(c, h.audit, "message_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	msg, err := h.bridge.EditMessage(c.Request.Context(), actorFrom(c), messageID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /messages/:message_id?for_everyone=true.
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := intParam(c, h.audit, "message_id")
	if !ok {
		return
	}
	forEveryone := c.Query("for_everyone") == "true"

	if err := h.bridge.DeleteMessage(c.Request.Context(), actorFrom(c), messageID, forEveryone); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// React handles POST /messages/:message_id/reactions.
func (h *MessageHandler) React(c *gin.Context) {
	messageID, ok := intParam(c, h.audit, "message_id")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	reaction, err := h.bridge.React(c.Request.Context(), actorFrom(c), messageID, req.Emoji)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reaction)
}

// Unreact handles DELETE /messages/:message_id/reactions.
func (h *MessageHandler) Unreact(c *gin.Context) {
	messageID, ok := intParam(c, h.audit, "message_id")
	if !ok {
		return
	}
	if err := h.bridge.Unreact(c.Request.Context(), actorFrom(c), messageID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead handles POST /conversations/:conversation_id/read. Without
// message_ids every unread message is marked.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, ok := intParam(c, h.audit, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		MessageIDs []int `json:"message_ids"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.audit, err.Error())
			return
		}
	}

	receipt, err := h.bridge.MarkRead(c.Request.Context(), actorFrom(c), conversationID, req.MessageIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// TogglePin handles POST /messages/:message_id/pin.
func (h *MessageHandler) TogglePin(c *gin.Context) {
	messageID, ok := intParam(c, h.audit, "message_id")
	if !ok {
		return
	}
	msg, err := h.bridge.TogglePin(c.Request.Context(), actorFrom(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Forward handles POST /messages/:message_id/forward.
func (h *MessageHandler) Forward(c *gin.Context) {
	messageID, ok := intParam(c, h.audit, "message_id")
	if !ok {
		return
	}
	var req struct {
		ConversationIDs []int `json:"conversation_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.audit, err.Error())
		return
	}

	forwarded, err := h.bridge.Forward(c.Request.Context(), actorFrom(c), messageID, req.ConversationIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": forwarded})
}
