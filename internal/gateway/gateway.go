// Package gateway terminates client websocket sessions: it authenticates the
// handshake, registers the connection, joins its rooms and dispatches inbound
// command frames through a typed handler table.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-hub/internal/apperr"
	"chat-hub/internal/auth"
	"chat-hub/internal/bridge"
	"chat-hub/internal/log"
	"chat-hub/internal/middleware"
	"chat-hub/internal/models"
	"chat-hub/internal/observability"
	"chat-hub/internal/ws"
)

type Config struct {
	Client       ws.ClientConfig
	TypingExpiry time.Duration
}

type Gateway struct {
	bridge    *bridge.Bridge
	hub       *ws.Hub
	validator middleware.TokenValidator
	cfg       Config
	upgrader  websocket.Upgrader
	handlers  map[string]handlerSpec
}

func New(b *bridge.Bridge, validator middleware.TokenValidator, cfg Config) *Gateway {
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = 5 * time.Second
	}
	g := &Gateway{
		bridge:    b,
		hub:       b.Hub(),
		validator: validator,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	g.handlers = g.commandTable()
	return g
}

func tokenFrom(c *gin.Context) string {
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	return c.Query("token")
}

// Handle authenticates and upgrades the request, then serves the session
// until the transport closes.
func (g *Gateway) Handle(c *gin.Context) {
	s := newSession()

	ctx, span := otel.Tracer("chat-hub/gateway").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	s.advance(StateAuthenticating)
	token := tokenFrom(c)
	if token == "" {
		g.reject(c, s, "missing token")
		return
	}
	userID, err := g.validator.ValidateToken(ctx, token)
	if err != nil {
		g.reject(c, s, "invalid token")
		return
	}
	span.SetAttributes(attribute.Int("chat.user_id", userID))

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.advance(StateClosed)
		logger := log.Ctx(ctx)
		logger.Warn().Err(err).Int(log.FieldUserID, userID).Msg("websocket upgrade failed")
		return
	}

	info := ws.ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	s.client = ws.NewClient(info, conn, g.cfg.Client)
	s.userID = userID
	s.logger = log.L().With().Str(log.FieldConnID, info.ConnID).Int(log.FieldUserID, userID).Logger()
	s.ctx, s.cancel = context.WithCancel(log.WithLogger(context.WithoutCancel(ctx), s.logger))

	g.activate(s)
	go g.serve(s)
}

func (g *Gateway) reject(c *gin.Context, s *session, reason string) {
	s.advance(StateClosed)
	observability.IncWSEvent(observability.WSAuthFailed)
	logger := log.Ctx(c.Request.Context())
	logger.Info().Str("reason", reason).Msg("websocket handshake rejected")
	c.JSON(http.StatusUnauthorized, gin.H{"error": reason, "kind": apperr.KindAuthFailed})
}

// activate registers the connection and joins every room of its user. Rooms
// whose membership changed while the participant list was being read are
// re-checked through the bridge so a concurrent removal is never undone.
func (g *Gateway) activate(s *session) {
	g.hub.Registry.Register(s.client)
	go s.client.WritePump()

	snap := g.hub.Rooms.Epoch()
	ids, err := g.bridge.ConversationIDs(s.ctx, s.userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("load conversations for session")
		s.send(errorEvent(err, inbound{Type: "session"}))
	}
	rooms := make([]ws.RoomID, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, ws.RoomOf(id))
	}
	stale, err := g.hub.Rooms.JoinSnapshot(s.client.ID, rooms, snap)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bulk join")
	}
	for _, room := range stale {
		if err := g.bridge.JoinRoom(s.ctx, s.actor(""), int(room)); err != nil {
			s.logger.Debug().Err(err).Int(log.FieldConversationID, int(room)).Msg("skip room")
		}
	}

	s.advance(StateActive)
	observability.IncWSActive()
	ws.PublishLifecycle(s.ctx, s.client.Info, observability.WSConnect, "")
	s.logger.Info().Int("rooms", len(rooms)).Msg("session active")
}

// serve runs the session's read loop and tears the session down when it ends.
func (g *Gateway) serve(s *session) {
	reason := ""
	defer func() { g.teardown(s, reason) }()

	err := s.client.ReadPump(func(data []byte) {
		g.dispatch(s, data)
	})
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			ws.PublishLifecycle(s.ctx, s.client.Info, observability.WSError, reason)
		}
	}
}

// teardown removes the connection from every room and from the registry
// before the session is reported closed.
func (g *Gateway) teardown(s *session, reason string) {
	if !s.advance(StateClosing) {
		return
	}
	s.cancel()
	g.hub.Rooms.DropClient(s.client)
	g.hub.Registry.Unregister(s.client.ID)
	s.client.Close()
	s.advance(StateClosed)

	observability.DecWSActive()
	ws.PublishLifecycle(context.WithoutCancel(s.ctx), s.client.Info, observability.WSDisconnect, reason)
	s.logger.Info().Str("reason", reason).Msg("session closed")
}

// dispatch handles one inbound frame. Bad frames are answered with an error
// frame and never end the session.
func (g *Gateway) dispatch(s *session, data []byte) {
	in, err := decodeFrame(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("malformed frame")
		s.send(errorEvent(err, in))
		return
	}
	h, ok := g.handlers[in.Type]
	if !ok {
		s.logger.Warn().Str(log.FieldCommand, in.Type).Msg("unknown command")
		s.send(errorEvent(apperr.Validation("unknown command"), in))
		return
	}

	result, err := h.handle(s.ctx, s, in)
	if err != nil {
		s.logger.Debug().Err(err).Str(log.FieldCommand, in.Type).Str(log.FieldKind, string(apperr.KindOf(err))).Msg("command failed")
		s.send(errorEvent(err, in))
		return
	}
	if h.reply != nil {
		s.send(*h.reply)
		return
	}
	if h.quiet && in.RequestID == "" {
		return
	}
	s.send(ackEvent(in, result))
}

var pongEvent = models.Event{Type: models.EventPong}
