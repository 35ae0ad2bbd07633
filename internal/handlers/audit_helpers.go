package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-hub/internal/apperr"
	"chat-hub/internal/bridge"
	"chat-hub/internal/log"
	"chat-hub/internal/observability"
	"chat-hub/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// actorFrom identifies the caller. X-Connection-Id names the caller's own
// socket so it is skipped when the mutation is multicast.
func actorFrom(c *gin.Context) bridge.Actor {
	return bridge.Actor{
		UserID:    c.GetInt("userID"),
		ConnID:    observability.ConnectionIDFromRequest(c.Request),
		RequestID: requestIDFromContext(c),
	}
}

// writeError maps a domain error to its HTTP status. Internal details are
// logged, never returned.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger := log.Ctx(c.Request.Context())
		logger.Error().Err(err).Str(log.FieldKind, string(kind)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err), "kind": kind})
}

func badRequest(c *gin.Context, audit *telemetry.AuditEmitter, message string) {
	audit.Emit(c.Request.Context(), "ERROR", message, requestIDFromContext(c), c.GetInt("userID"))
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "kind": apperr.KindValidationFailed})
}

func intParam(c *gin.Context, audit *telemetry.AuditEmitter, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, audit, "invalid "+name)
		return 0, false
	}
	return id, true
}
