package gateway

import (
	"context"
	"encoding/json"

	"chat-hub/internal/apperr"
	"chat-hub/internal/log"
	"chat-hub/internal/models"
	"chat-hub/internal/ws"
)

// Typing, call and WebRTC frames are relayed without being persisted.

type callPayload struct {
	ConversationID int    `json:"conversation_id"`
	TargetUserID   int    `json:"target_user_id"`
	CallType       string `json:"type"`
}

type callAnswerPayload struct {
	ConversationID int `json:"conversation_id"`
	CallerID       int `json:"caller_id"`
}

type rtcPayload struct {
	ConversationID int             `json:"conversation_id"`
	TargetUserID   int             `json:"target_user_id"`
	Payload        json.RawMessage `json:"payload"`
}

func (g *Gateway) typingStart(ctx context.Context, s *session, in inbound, p conversationRef) (any, error) {
	return nil, g.typing(s, models.EventTypingStart, p)
}

func (g *Gateway) typingStop(ctx context.Context, s *session, in inbound, p conversationRef) (any, error) {
	return nil, g.typing(s, models.EventTypingStop, p)
}

// typing relays an indicator to the other users in the room. Only a
// connection that is itself in the room may emit one.
func (g *Gateway) typing(s *session, t models.EventType, p conversationRef) error {
	if err := p.validate(); err != nil {
		return err
	}
	room := ws.RoomOf(p.ConversationID)
	if !g.hub.Rooms.IsMember(s.client.ID, room) {
		return apperr.Forbidden("not subscribed to this conversation")
	}
	payload := models.Typing{ConversationID: p.ConversationID, UserID: s.userID}
	if t == models.EventTypingStart {
		payload.ExpiresInMs = g.cfg.TypingExpiry.Milliseconds()
	}
	g.hub.Multicaster.ToRoom(room, models.Event{Type: t, Payload: payload}, ws.Exclude{UserID: s.userID})
	return nil
}

// requireBoth checks that the caller and the other party share the conversation.
func (g *Gateway) requireBoth(ctx context.Context, conversationID, userID, otherID int) error {
	if conversationID <= 0 {
		return apperr.Validation("conversation_id is required")
	}
	if otherID <= 0 || otherID == userID {
		return apperr.Validation("a different target user is required")
	}
	for _, id := range []int{userID, otherID} {
		ok, err := g.bridge.IsParticipant(ctx, conversationID, id)
		if err != nil {
			return err
		}
		if !ok {
			if id == userID {
				return apperr.Forbidden("not a participant of this conversation")
			}
			return apperr.NotFound("user is not a participant of this conversation")
		}
	}
	return nil
}

func (g *Gateway) callInitiate(ctx context.Context, s *session, in inbound, p callPayload) (any, error) {
	if err := g.requireBoth(ctx, p.ConversationID, s.userID, p.TargetUserID); err != nil {
		return nil, err
	}
	if p.CallType == "" {
		p.CallType = "audio"
	}
	delivered := g.hub.Multicaster.ToUser(p.TargetUserID, models.Event{
		Type: models.EventCallIncoming,
		Payload: models.CallSignal{
			ConversationID: p.ConversationID,
			CallerID:       s.userID,
			UserID:         p.TargetUserID,
			CallType:       p.CallType,
		},
	})
	s.logger.Debug().Int(log.FieldConversationID, p.ConversationID).Int("target_user_id", p.TargetUserID).Int("delivered", delivered).Msg("call initiated")
	return map[string]any{"delivered": delivered}, nil
}

// callAnswer relays an accept or reject back to the caller's connections.
func (g *Gateway) callAnswer(t models.EventType) func(ctx context.Context, s *session, in inbound, p callAnswerPayload) (any, error) {
	return func(ctx context.Context, s *session, in inbound, p callAnswerPayload) (any, error) {
		if err := g.requireBoth(ctx, p.ConversationID, s.userID, p.CallerID); err != nil {
			return nil, err
		}
		g.hub.Multicaster.ToUser(p.CallerID, models.Event{Type: t, Payload: models.CallSignal{
			ConversationID: p.ConversationID,
			CallerID:       p.CallerID,
			UserID:         s.userID,
		}})
		return nil, nil
	}
}

func (g *Gateway) callEnd(ctx context.Context, s *session, in inbound, p conversationRef) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	participants, err := g.bridge.Participants(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}
	member := false
	for _, id := range participants {
		if id == s.userID {
			member = true
			break
		}
	}
	if !member {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	g.hub.Multicaster.ToUsers(participants, models.Event{Type: models.EventCallEnded, Payload: models.CallSignal{
		ConversationID: p.ConversationID,
		UserID:         s.userID,
	}}, ws.Exclude{UserID: s.userID})
	return nil, nil
}

// relayRTC forwards an opaque signaling payload to the target user verbatim.
func (g *Gateway) relayRTC(t models.EventType) func(ctx context.Context, s *session, in inbound, p rtcPayload) (any, error) {
	return func(ctx context.Context, s *session, in inbound, p rtcPayload) (any, error) {
		if len(p.Payload) == 0 {
			return nil, apperr.Validation("payload is required")
		}
		if err := g.requireBoth(ctx, p.ConversationID, s.userID, p.TargetUserID); err != nil {
			return nil, err
		}
		g.hub.Multicaster.ToUser(p.TargetUserID, models.Event{Type: t, Payload: models.RTCSignal{
			ConversationID: p.ConversationID,
			FromUserID:     s.userID,
			Payload:        p.Payload,
		}})
		return nil, nil
	}
}
