// Package bridge pairs durable persistence with live multicast. Every
// client-initiated mutation, whether it arrives over REST or a socket, goes
// through the Bridge: authorize, persist under a bounded timeout, then
// multicast the persisted representation. Mutations against one conversation
// are serialized end to end; different conversations run in parallel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"chat-hub/internal/apperr"
	"chat-hub/internal/log"
	"chat-hub/internal/models"
	"chat-hub/internal/observability"
	"chat-hub/internal/repositories"
	"chat-hub/internal/telemetry"
	"chat-hub/internal/ws"
)

const defaultPersistTimeout = 5 * time.Second

type Config struct {
	PersistTimeout time.Duration
}

// Actor identifies who issued a command and from which connection, if any.
type Actor struct {
	UserID    int
	ConnID    string
	RequestID string
}

type Bridge struct {
	convs repositories.ConversationRepository
	msgs  repositories.MessageRepository
	users repositories.UserRepository
	hub   *ws.Hub
	audit *telemetry.AuditEmitter
	cfg   Config

	locks   *KeyLock
	lookups singleflight.Group
	tracer  trace.Tracer
	now     func() time.Time
}

func New(
	convs repositories.ConversationRepository,
	msgs repositories.MessageRepository,
	users repositories.UserRepository,
	hub *ws.Hub,
	audit *telemetry.AuditEmitter,
	cfg Config,
) *Bridge {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Bridge{
		convs:  convs,
		msgs:   msgs,
		users:  users,
		hub:    hub,
		audit:  audit,
		cfg:    cfg,
		locks:  NewKeyLock(),
		tracer: otel.Tracer("chat-hub/bridge"),
		now:    time.Now,
	}
}

// Hub exposes the live-connection state the bridge multicasts through.
func (b *Bridge) Hub() *ws.Hub {
	return b.hub
}

// origin excludes the connection the command came from. A connection id that
// is unknown or owned by another user is ignored.
func (b *Bridge) origin(a Actor) ws.Exclude {
	if a.ConnID == "" {
		return ws.Exclude{}
	}
	c, ok := b.hub.Registry.Get(a.ConnID)
	if !ok || c.UserID != a.UserID {
		return ws.Exclude{}
	}
	return ws.Exclude{ConnID: a.ConnID}
}

func (b *Bridge) clock() time.Time {
	return b.now().UTC()
}

// mutate runs fn under the conversation's lock (when conversationID is set)
// and records the outcome as a span, a metric and, on success, an audit entry.
func (b *Bridge) mutate(ctx context.Context, command string, actor Actor, conversationID int, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "bridge."+command, trace.WithAttributes(
		attribute.String("chat.command", command),
		attribute.Int("chat.user_id", actor.UserID),
		attribute.Int("chat.conversation_id", conversationID),
	))
	defer span.End()

	var err error
	if conversationID != 0 {
		unlock := b.locks.Lock(conversationID)
		err = fn(ctx)
		unlock()
	} else {
		err = fn(ctx)
	}

	outcome := "ok"
	logger := log.Ctx(ctx).With().
		Str(log.FieldCommand, command).
		Int(log.FieldUserID, actor.UserID).
		Int(log.FieldConversationID, conversationID).
		Logger()
	if err != nil {
		kind := apperr.KindOf(err)
		outcome = string(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if kind == apperr.KindPersistenceFailed || kind == apperr.KindInternal {
			logger.Error().Err(err).Msg("mutation failed")
		} else {
			logger.Debug().Err(err).Msg("mutation rejected")
		}
	} else {
		logger.Debug().Dur(log.FieldLatency, time.Since(start)).Msg("mutation applied")
		b.audit.Emit(ctx, "info", fmt.Sprintf("%s conversation=%d", command, conversationID), actor.RequestID, actor.UserID)
	}
	observability.ObserveMutation(command, outcome, time.Since(start))
	return err
}

// persist runs one store call under the persist timeout and translates its error.
func persist[T any](ctx context.Context, b *Bridge, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PersistTimeout)
	defer cancel()
	v, err := fn(ctx)
	return v, translate(err)
}

func persistErr(ctx context.Context, b *Bridge, fn func(ctx context.Context) error) error {
	_, err := persist(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func translate(err error) error {
	var ae *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ae):
		return err
	case errors.Is(err, repositories.ErrConversationNotFound):
		return apperr.Wrap(apperr.KindNotFound, "conversation not found", err)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperr.Wrap(apperr.KindNotFound, "message not found", err)
	case errors.Is(err, repositories.ErrNotParticipant):
		return apperr.Wrap(apperr.KindNotFound, "user is not a participant", err)
	default:
		return apperr.Persistence(err)
	}
}

func (b *Bridge) requireParticipant(ctx context.Context, conversationID, userID int) error {
	ok, err := persist(ctx, b, func(ctx context.Context) (bool, error) {
		return b.convs.IsParticipant(ctx, conversationID, userID)
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not a participant of this conversation")
	}
	return nil
}

func (b *Bridge) loadConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	return persist(ctx, b, func(ctx context.Context) (models.Conversation, error) {
		return b.convs.GetConversation(ctx, conversationID)
	})
}

func (b *Bridge) loadMessage(ctx context.Context, messageID int) (models.Message, error) {
	return persist(ctx, b, func(ctx context.Context) (models.Message, error) {
		return b.msgs.GetMessage(ctx, messageID)
	})
}
