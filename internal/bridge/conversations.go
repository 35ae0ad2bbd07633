package bridge

import (
	"context"
	"errors"
	"strings"

	"chat-hub/internal/apperr"
	"chat-hub/internal/models"
	"chat-hub/internal/ws"
)

const maxGroupNameLength = 100

type GroupInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
	MemberIDs   []int  `json:"member_ids"`
}

func conversationEvent(t models.EventType, payload models.ConversationChanged) models.Event {
	return models.Event{Type: t, Payload: payload}
}

// StartPrivate returns the private conversation between the caller and
// otherID, creating it on first use. On creation both users' live
// connections join the room and receive conversation:new.
func (b *Bridge) StartPrivate(ctx context.Context, actor Actor, otherID int) (models.Conversation, error) {
	if otherID <= 0 {
		return models.Conversation{}, apperr.Validation("user_id is required")
	}
	if otherID == actor.UserID {
		return models.Conversation{}, apperr.Validation("cannot start a conversation with yourself")
	}

	var conv models.Conversation
	err := b.mutate(ctx, "conversation:private", actor, 0, func(ctx context.Context) error {
		type result struct {
			conv    models.Conversation
			created bool
		}
		res, err := persist(ctx, b, func(ctx context.Context) (result, error) {
			c, created, err := b.convs.FindOrCreatePrivate(ctx, actor.UserID, otherID)
			return result{c, created}, err
		})
		if err != nil {
			return err
		}
		conv = res.conv
		if !res.created {
			return nil
		}

		unlock := b.locks.Lock(conv.ID)
		defer unlock()
		b.announceNew(conv, conv.Participants, actor)
		return nil
	})
	return conv, err
}

// announceNew joins every live connection of users to the room and sends
// them conversation:new, skipping the originating connection.
func (b *Bridge) announceNew(conv models.Conversation, users []int, actor Actor) {
	room := ws.RoomOf(conv.ID)
	for _, userID := range users {
		b.hub.Rooms.JoinUser(userID, room)
	}
	snapshot := conv
	b.hub.Multicaster.ToUsers(users, conversationEvent(models.EventConversationNew, models.ConversationChanged{
		ConversationID: conv.ID,
		Conversation:   &snapshot,
	}), b.origin(actor))
}

// CreateGroup creates a group with the caller as creator and admin.
func (b *Bridge) CreateGroup(ctx context.Context, actor Actor, in GroupInput) (models.Conversation, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Conversation{}, apperr.Validation("name is required")
	}
	if models.ContentLength(name) > maxGroupNameLength {
		return models.Conversation{}, apperr.Validation("name is too long")
	}
	members := make([]int, 0, len(in.MemberIDs))
	seen := map[int]struct{}{actor.UserID: {}}
	for _, id := range in.MemberIDs {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	var conv models.Conversation
	err := b.mutate(ctx, "conversation:group", actor, 0, func(ctx context.Context) error {
		var err error
		conv, err = persist(ctx, b, func(ctx context.Context) (models.Conversation, error) {
			return b.convs.CreateGroup(ctx, actor.UserID, name, strings.TrimSpace(in.Description), strings.TrimSpace(in.Avatar), members)
		})
		if err != nil {
			return err
		}
		unlock := b.locks.Lock(conv.ID)
		defer unlock()
		b.announceNew(conv, conv.Participants, actor)
		return nil
	})
	return conv, err
}

// loadGroupAsAdmin loads a group conversation and checks that userID administers it.
func (b *Bridge) loadGroupAsAdmin(ctx context.Context, conversationID, userID int) (models.Conversation, error) {
	conv, err := b.loadConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, apperr.Forbidden("not a participant of this conversation")
	}
	if !conv.IsGroup() {
		return models.Conversation{}, apperr.Validation("only group conversations support this operation")
	}
	if !conv.HasAdmin(userID) {
		return models.Conversation{}, apperr.Forbidden("admin rights required")
	}
	return conv, nil
}

// UpdateGroup changes group metadata and notifies every participant.
func (b *Bridge) UpdateGroup(ctx context.Context, actor Actor, conversationID int, update models.GroupInfoUpdate) (models.Conversation, error) {
	if update.Empty() {
		return models.Conversation{}, apperr.Validation("nothing to update")
	}
	var changes []string
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" || models.ContentLength(name) > maxGroupNameLength {
			return models.Conversation{}, apperr.Validation("invalid name")
		}
		update.Name = &name
		changes = append(changes, "name")
	}
	if update.Description != nil {
		changes = append(changes, "description")
	}
	if update.Avatar != nil {
		changes = append(changes, "avatar")
	}

	var conv models.Conversation
	err := b.mutate(ctx, "conversation:update", actor, conversationID, func(ctx context.Context) error {
		if _, err := b.loadGroupAsAdmin(ctx, conversationID, actor.UserID); err != nil {
			return err
		}
		var err error
		conv, err = persist(ctx, b, func(ctx context.Context) (models.Conversation, error) {
			return b.convs.UpdateGroupInfo(ctx, conversationID, update)
		})
		if err != nil {
			return err
		}
		snapshot := conv
		b.hub.Multicaster.ToUsers(conv.Participants, conversationEvent(models.EventConversationUpdate, models.ConversationChanged{
			ConversationID: conv.ID,
			Conversation:   &snapshot,
			Changes:        changes,
		}), ws.Exclude{})
		return nil
	})
	return conv, err
}

// AddParticipants adds users to a group. New participants receive
// conversation:new and their live connections join the room; existing
// participants receive conversation:update.
func (b *Bridge) AddParticipants(ctx context.Context, actor Actor, conversationID int, userIDs []int) ([]int, error) {
	if len(userIDs) == 0 {
		return nil, apperr.Validation("user_ids is required")
	}
	var added []int
	err := b.mutate(ctx, "conversation:add", actor, conversationID, func(ctx context.Context) error {
		before, err := b.loadGroupAsAdmin(ctx, conversationID, actor.UserID)
		if err != nil {
			return err
		}
		added, err = persist(ctx, b, func(ctx context.Context) ([]int, error) {
			return b.convs.AddParticipants(ctx, conversationID, userIDs)
		})
		if err != nil || len(added) == 0 {
			return err
		}
		conv, err := b.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}

		b.announceNew(conv, added, Actor{})
		snapshot := conv
		b.hub.Multicaster.ToUsers(before.Participants, conversationEvent(models.EventConversationUpdate, models.ConversationChanged{
			ConversationID: conv.ID,
			Conversation:   &snapshot,
			Changes:        []string{"participants"},
			AddedUserIDs:   added,
		}), ws.Exclude{})
		return nil
	})
	return added, err
}

// RemoveParticipant removes userID from a group. Admins may remove others;
// anyone may remove themselves. The creator can never be removed. The
// removed user's connections leave the room before any later event for the
// conversation can be multicast.
func (b *Bridge) RemoveParticipant(ctx context.Context, actor Actor, conversationID int, userID int) error {
	return b.mutate(ctx, "conversation:remove", actor, conversationID, func(ctx context.Context) error {
		conv, err := b.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(actor.UserID) {
			return apperr.Forbidden("not a participant of this conversation")
		}
		if !conv.IsGroup() {
			return apperr.Validation("only group conversations support this operation")
		}
		if userID != actor.UserID && !conv.HasAdmin(actor.UserID) {
			return apperr.Forbidden("admin rights required")
		}
		if userID == conv.CreatedBy {
			return apperr.Forbidden("the group creator cannot be removed")
		}
		if !conv.HasParticipant(userID) {
			return apperr.NotFound("user is not a participant")
		}

		if err := persistErr(ctx, b, func(ctx context.Context) error {
			return b.convs.RemoveParticipant(ctx, conversationID, userID)
		}); err != nil {
			return err
		}

		room := ws.RoomOf(conversationID)
		b.hub.Rooms.EvictUser(room, userID)

		reason := "removed"
		if userID == actor.UserID {
			reason = "left"
		}
		b.hub.Multicaster.ToUser(userID, conversationEvent(models.EventConversationDeleted, models.ConversationChanged{
			ConversationID: conversationID,
			RemovedUserID:  userID,
			Reason:         reason,
		}))

		remaining := make([]int, 0, len(conv.Participants))
		for _, id := range conv.Participants {
			if id != userID {
				remaining = append(remaining, id)
			}
		}
		b.hub.Multicaster.ToUsers(remaining, conversationEvent(models.EventConversationUpdate, models.ConversationChanged{
			ConversationID: conversationID,
			Changes:        []string{"participants"},
			RemovedUserID:  userID,
			Reason:         reason,
		}), ws.Exclude{})
		return nil
	})
}

// SetAdmin grants or revokes admin rights. The creator is always an admin.
func (b *Bridge) SetAdmin(ctx context.Context, actor Actor, conversationID int, userID int, admin bool) error {
	return b.mutate(ctx, "conversation:admin", actor, conversationID, func(ctx context.Context) error {
		conv, err := b.loadGroupAsAdmin(ctx, conversationID, actor.UserID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(userID) {
			return apperr.NotFound("user is not a participant")
		}
		if !admin && userID == conv.CreatedBy {
			return apperr.Forbidden("the group creator is always an admin")
		}

		if err := persistErr(ctx, b, func(ctx context.Context) error {
			return b.convs.SetAdmin(ctx, conversationID, userID, admin)
		}); err != nil {
			return err
		}
		updated, err := b.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		b.hub.Multicaster.ToUsers(updated.Participants, conversationEvent(models.EventConversationUpdate, models.ConversationChanged{
			ConversationID: conversationID,
			Conversation:   &updated,
			Changes:        []string{"admins"},
		}), ws.Exclude{})
		return nil
	})
}

// DeleteConversation deletes a group for everyone (admins only) or hides a
// private conversation for the caller.
func (b *Bridge) DeleteConversation(ctx context.Context, actor Actor, conversationID int) error {
	return b.mutate(ctx, "conversation:delete", actor, conversationID, func(ctx context.Context) error {
		conv, err := b.loadConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(actor.UserID) {
			return apperr.Forbidden("not a participant of this conversation")
		}

		if !conv.IsGroup() {
			if err := persistErr(ctx, b, func(ctx context.Context) error {
				return b.convs.SetParticipantFlag(ctx, conversationID, actor.UserID, models.FlagDeleted, true)
			}); err != nil {
				return err
			}
			b.hub.Multicaster.ToUsers([]int{actor.UserID}, conversationEvent(models.EventConversationDeleted, models.ConversationChanged{
				ConversationID: conversationID,
				Reason:         "hidden",
			}), b.origin(actor))
			return nil
		}

		if !conv.HasAdmin(actor.UserID) {
			return apperr.Forbidden("admin rights required")
		}
		if err := persistErr(ctx, b, func(ctx context.Context) error {
			return b.convs.DeleteConversation(ctx, conversationID)
		}); err != nil {
			return err
		}
		b.hub.Rooms.DropRoom(ws.RoomOf(conversationID))
		b.hub.Multicaster.ToUsers(conv.Participants, conversationEvent(models.EventConversationDeleted, models.ConversationChanged{
			ConversationID: conversationID,
			Reason:         "deleted",
		}), ws.Exclude{})
		return nil
	})
}

// SetFlag toggles a per-user pinned/muted/archived/deleted flag. Nothing is multicast.
func (b *Bridge) SetFlag(ctx context.Context, actor Actor, conversationID int, flag models.ParticipantFlag, value bool) error {
	if !flag.Valid() {
		return apperr.Validation("unknown flag")
	}
	return b.mutate(ctx, "conversation:flag", actor, conversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
			return err
		}
		return persistErr(ctx, b, func(ctx context.Context) error {
			return b.convs.SetParticipantFlag(ctx, conversationID, actor.UserID, flag, value)
		})
	})
}

// ClearHistory hides every current message of the conversation for the caller.
func (b *Bridge) ClearHistory(ctx context.Context, actor Actor, conversationID int) error {
	return b.mutate(ctx, "conversation:clear", actor, conversationID, func(ctx context.Context) error {
		if err := b.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
			return err
		}
		return persistErr(ctx, b, func(ctx context.Context) error {
			return b.convs.ClearHistory(ctx, conversationID, actor.UserID, b.clock())
		})
	})
}

// JoinRoom subscribes the actor's connection with a fresh participation
// check, serialized with membership changes of the conversation.
func (b *Bridge) JoinRoom(ctx context.Context, actor Actor, conversationID int) error {
	if actor.ConnID == "" {
		return apperr.Validation("a live connection is required")
	}
	unlock := b.locks.Lock(conversationID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PersistTimeout)
	defer cancel()
	err := b.hub.Rooms.Join(ctx, actor.ConnID, ws.RoomOf(conversationID))
	if errors.Is(err, ws.ErrUnknownConnection) {
		return apperr.Validation("connection is closed")
	}
	return translate(err)
}

func (b *Bridge) LeaveRoom(actor Actor, conversationID int) {
	b.hub.Rooms.Leave(actor.ConnID, ws.RoomOf(conversationID))
}

// UpdateStatus persists a manual status and announces it while the user is online.
func (b *Bridge) UpdateStatus(ctx context.Context, actor Actor, status models.Status) error {
	if !status.Manual() {
		return apperr.Validation("status must be online, away or busy")
	}
	return b.mutate(ctx, "user:status", actor, 0, func(ctx context.Context) error {
		if err := persistErr(ctx, b, func(ctx context.Context) error {
			return b.users.SetStatus(ctx, actor.UserID, status)
		}); err != nil {
			return err
		}
		if !b.hub.Presence.Online(actor.UserID) {
			return nil
		}
		return persistErr(ctx, b, func(ctx context.Context) error {
			return b.hub.Presence.Announce(ctx, actor.UserID, status)
		})
	})
}
