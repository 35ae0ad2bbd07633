package bridge

import (
	"context"
	"strings"

	"chat-hub/internal/apperr"
	"chat-hub/internal/log"
	"chat-hub/internal/models"
	"chat-hub/internal/ws"
)

const maxEmojiLength = 32

// SendInput is a message as submitted by a client.
type SendInput struct {
	ConversationID int                `json:"conversation_id"`
	Type           models.MessageType `json:"type"`
	Content        string             `json:"content"`
	ReplyTo        *int               `json:"reply_to,omitempty"`
}

func validateContent(msgType models.MessageType, content string) error {
	if msgType == models.MessageText && strings.TrimSpace(content) == "" {
		return apperr.Validation("content is required")
	}
	if models.ContentLength(content) > models.MaxContentLength {
		return apperr.Validation("content is too long")
	}
	return nil
}

// SendMessage persists a message and multicasts message:new to the room,
// skipping the connection it came from.
func (b *Bridge) SendMessage(ctx context.Context, actor Actor, in SendInput) (models.Message, error) {
	if in.ConversationID <= 0 {
		return models.Message{}, apperr.Validation("conversation_id is required")
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return models.Message{}, apperr.Validation("unknown message type")
	}
	if err := validateContent(in.Type, in.Content); err != nil {
		return models.Message{}, err
	}

	var (
		msg        models.Message
		recipients []int
	)
	err := b.mutate(ctx, "message:send", actor, in.ConversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, in.ConversationID, actor.UserID); err != nil {
			return err
		}
		if in.ReplyTo != nil {
			parent, err := b.loadMessage(ctx, *in.ReplyTo)
			if apperr.Is(err, apperr.KindNotFound) || (err == nil && parent.ConversationID != in.ConversationID) {
				return apperr.Validation("reply_to must reference a message in this conversation")
			}
			if err != nil {
				return err
			}
		}

		var err error
		msg, recipients, err = b.create(ctx, actor, models.NewMessage{
			ConversationID: in.ConversationID,
			SenderID:       actor.UserID,
			Type:           in.Type,
			Content:        in.Content,
			ReplyTo:        in.ReplyTo,
		})
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	b.markDelivered(ctx, msg, recipients)
	return msg, nil
}

// create persists and multicasts one message; the caller holds the
// conversation lock. It returns the users whose connections were reached.
func (b *Bridge) create(ctx context.Context, actor Actor, in models.NewMessage) (models.Message, []int, error) {
	msg, err := persist(ctx, b, func(ctx context.Context) (models.Message, error) {
		return b.msgs.CreateMessage(ctx, in)
	})
	if err != nil {
		return models.Message{}, nil, err
	}

	room := ws.RoomOf(in.ConversationID)
	b.hub.Multicaster.ToRoom(room, models.Event{Type: models.EventMessageNew, Payload: msg}, b.origin(actor))

	seen := make(map[int]struct{})
	var recipients []int
	for _, c := range b.hub.Rooms.MembersOf(room) {
		if c.UserID == actor.UserID {
			continue
		}
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		recipients = append(recipients, c.UserID)
	}
	return msg, recipients, nil
}

// markDelivered records delivery witnesses for users reached live. Failures
// are logged only; the message itself is already durable.
func (b *Bridge) markDelivered(ctx context.Context, msg models.Message, recipients []int) {
	if len(recipients) == 0 {
		return
	}
	err := persistErr(ctx, b, func(ctx context.Context) error {
		return b.msgs.MarkDelivered(ctx, msg.ID, recipients, b.clock())
	})
	if err != nil {
		logger := log.Ctx(ctx)
		logger.Warn().Err(err).Int(log.FieldMessageID, msg.ID).Msg("record delivery witnesses")
	}
}

// EditMessage replaces the content of the caller's own message.
func (b *Bridge) EditMessage(ctx context.Context, actor Actor, messageID int, content string) (models.Message, error) {
	current, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := validateContent(models.MessageText, content); err != nil {
		return models.Message{}, err
	}

	var edited models.Message
	err = b.mutate(ctx, "message:edit", actor, current.ConversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, current.ConversationID, actor.UserID); err != nil {
			return err
		}
		msg, err := b.loadMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != actor.UserID {
			return apperr.Forbidden("only the sender can edit a message")
		}
		if msg.Deleted {
			return apperr.NotFound("message was deleted")
		}

		edited, err = persist(ctx, b, func(ctx context.Context) (models.Message, error) {
			return b.msgs.EditMessage(ctx, messageID, content, b.clock())
		})
		if err != nil {
			return err
		}
		editedAt := b.clock()
		if edited.EditedAt != nil {
			editedAt = *edited.EditedAt
		}
		b.hub.Multicaster.ToRoom(ws.RoomOf(msg.ConversationID), models.Event{
			Type: models.EventMessageEdit,
			Payload: models.MessageEdited{
				MessageID:      edited.ID,
				ConversationID: edited.ConversationID,
				Content:        edited.Content,
				EditedAt:       editedAt,
			},
		}, ws.Exclude{})
		return nil
	})
	return edited, err
}

// DeleteMessage hides the message for the caller, or, with forEveryone,
// tombstones it for the whole room. Only the sender may delete for everyone;
// deleting an existing tombstone again succeeds without a second event.
func (b *Bridge) DeleteMessage(ctx context.Context, actor Actor, messageID int, forEveryone bool) error {
	current, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}

	command := "message:delete"
	if !forEveryone {
		command = "message:hide"
	}
	return b.mutate(ctx, command, actor, current.ConversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, current.ConversationID, actor.UserID); err != nil {
			return err
		}
		if !forEveryone {
			return persistErr(ctx, b, func(ctx context.Context) error {
				return b.msgs.HideForUser(ctx, messageID, actor.UserID)
			})
		}

		msg, err := b.loadMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != actor.UserID {
			return apperr.Forbidden("only the sender can delete a message for everyone")
		}
		if msg.Deleted {
			return nil
		}

		deleted, err := persist(ctx, b, func(ctx context.Context) (models.Message, error) {
			return b.msgs.DeleteForEveryone(ctx, messageID, b.clock())
		})
		if err != nil {
			return err
		}
		deletedAt := b.clock()
		if deleted.DeletedAt != nil {
			deletedAt = *deleted.DeletedAt
		}
		b.hub.Multicaster.ToRoom(ws.RoomOf(msg.ConversationID), models.Event{
			Type: models.EventMessageDelete,
			Payload: models.MessageDeleted{
				MessageID:      deleted.ID,
				ConversationID: deleted.ConversationID,
				DeletedAt:      deletedAt,
			},
		}, ws.Exclude{})
		return nil
	})
}

// React sets the caller's single reaction on a message, replacing any previous one.
func (b *Bridge) React(ctx context.Context, actor Actor, messageID int, emoji string) (models.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || models.ContentLength(emoji) > maxEmojiLength {
		return models.Reaction{}, apperr.Validation("emoji is required")
	}
	current, err := b.loadMessage(ctx, messageID)
	if apperr.Is(err, apperr.KindNotFound) {
		return models.Reaction{}, apperr.Validation("unknown reaction target")
	}
	if err != nil {
		return models.Reaction{}, err
	}

	var reaction models.Reaction
	err = b.mutate(ctx, "message:react", actor, current.ConversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, current.ConversationID, actor.UserID); err != nil {
			return err
		}
		msg, err := b.loadMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.Deleted {
			return apperr.Validation("cannot react to a deleted message")
		}

		reaction, err = persist(ctx, b, func(ctx context.Context) (models.Reaction, error) {
			return b.msgs.SetReaction(ctx, messageID, actor.UserID, emoji, b.clock())
		})
		if err != nil {
			return err
		}
		b.hub.Multicaster.ToRoom(ws.RoomOf(msg.ConversationID), models.Event{
			Type: models.EventMessageReaction,
			Payload: models.ReactionChanged{
				MessageID:      messageID,
				ConversationID: msg.ConversationID,
				UserID:         actor.UserID,
				Emoji:          reaction.Emoji,
			},
		}, ws.Exclude{})
		return nil
	})
	return reaction, err
}

// Unreact removes the caller's reaction. Without one it is a silent no-op.
func (b *Bridge) Unreact(ctx context.Context, actor Actor, messageID int) error {
	current, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	return b.mutate(ctx, "message:unreact", actor, current.ConversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, current.ConversationID, actor.UserID); err != nil {
			return err
		}
		type removal struct {
			emoji   string
			removed bool
		}
		res, err := persist(ctx, b, func(ctx context.Context) (removal, error) {
			emoji, removed, err := b.msgs.RemoveReaction(ctx, messageID, actor.UserID)
			return removal{emoji, removed}, err
		})
		if err != nil || !res.removed {
			return err
		}
		b.hub.Multicaster.ToRoom(ws.RoomOf(current.ConversationID), models.Event{
			Type: models.EventMessageReactionRemove,
			Payload: models.ReactionChanged{
				MessageID:      messageID,
				ConversationID: current.ConversationID,
				UserID:         actor.UserID,
				Emoji:          res.emoji,
			},
		}, ws.Exclude{})
		return nil
	})
}

// MarkRead records read witnesses for messages from others not yet read by
// the caller. An empty messageIDs targets the whole conversation. One
// aggregate message:read goes to the room, excluding the reader; nothing is
// emitted when no message was newly read.
func (b *Bridge) MarkRead(ctx context.Context, actor Actor, conversationID int, messageIDs []int) (models.ReadReceipt, error) {
	if conversationID <= 0 {
		return models.ReadReceipt{}, apperr.Validation("conversation_id is required")
	}
	receipt := models.ReadReceipt{ConversationID: conversationID, ReaderID: actor.UserID, MessageIDs: []int{}}
	err := b.mutate(ctx, "message:read", actor, conversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
			return err
		}
		at := b.clock()
		marked, err := persist(ctx, b, func(ctx context.Context) ([]int, error) {
			return b.msgs.MarkRead(ctx, conversationID, actor.UserID, messageIDs, at)
		})
		if err != nil {
			return err
		}
		receipt.ReadAt = at
		if len(marked) == 0 {
			return nil
		}
		receipt.MessageIDs = marked
		b.hub.Multicaster.ToRoom(ws.RoomOf(conversationID), models.Event{
			Type:    models.EventMessageRead,
			Payload: receipt,
		}, ws.Exclude{UserID: actor.UserID})
		return nil
	})
	return receipt, err
}

// TogglePin flips the pinned flag of a message.
func (b *Bridge) TogglePin(ctx context.Context, actor Actor, messageID int) (models.Message, error) {
	current, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}

	var updated models.Message
	err = b.mutate(ctx, "message:pin", actor, current.ConversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, current.ConversationID, actor.UserID); err != nil {
			return err
		}
		msg, err := b.loadMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.Deleted {
			return apperr.Validation("cannot pin a deleted message")
		}

		updated, err = persist(ctx, b, func(ctx context.Context) (models.Message, error) {
			return b.msgs.SetPinned(ctx, messageID, !msg.Pinned, actor.UserID, b.clock())
		})
		if err != nil {
			return err
		}
		b.hub.Multicaster.ToRoom(ws.RoomOf(msg.ConversationID), models.Event{
			Type: models.EventMessagePin,
			Payload: models.PinChanged{
				MessageID:      messageID,
				ConversationID: msg.ConversationID,
				Pinned:         updated.Pinned,
				ActorID:        actor.UserID,
			},
		}, ws.Exclude{})
		return nil
	})
	return updated, err
}

// Forward copies a visible message into each target conversation the caller
// participates in. Targets the caller is not part of are skipped.
func (b *Bridge) Forward(ctx context.Context, actor Actor, messageID int, targetIDs []int) ([]models.Message, error) {
	if len(targetIDs) == 0 {
		return nil, apperr.Validation("at least one target conversation is required")
	}
	source, err := b.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := b.requireParticipant(ctx, source.ConversationID, actor.UserID); err != nil {
		return nil, err
	}
	visible, err := persist(ctx, b, func(ctx context.Context) (bool, error) {
		return b.msgs.VisibleTo(ctx, messageID, actor.UserID)
	})
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, apperr.NotFound("message not found")
	}
	if source.Deleted {
		return nil, apperr.Validation("cannot forward a deleted message")
	}

	forwarded := []models.Message{}
	seen := make(map[int]struct{}, len(targetIDs))
	for _, target := range targetIDs {
		if _, dup := seen[target]; dup || target <= 0 {
			continue
		}
		seen[target] = struct{}{}

		var (
			msg        models.Message
			recipients []int
		)
		err := b.mutate(ctx, "message:forward", actor, target, func(ctx context.Context) error {
			if err := b.requireParticipant(ctx, target, actor.UserID); err != nil {
				return err
			}
			sourceID := source.ID
			var err error
			msg, recipients, err = b.create(ctx, actor, models.NewMessage{
				ConversationID: target,
				SenderID:       actor.UserID,
				Type:           source.Type,
				Content:        source.Content,
				ForwardedFrom:  &sourceID,
			})
			return err
		})
		if apperr.Is(err, apperr.KindForbidden) {
			continue
		}
		if err != nil {
			return forwarded, err
		}
		b.markDelivered(ctx, msg, recipients)
		forwarded = append(forwarded, msg)
	}
	return forwarded, nil
}
