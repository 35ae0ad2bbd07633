package gateway

import (
	"context"

	"chat-hub/internal/apperr"
	"chat-hub/internal/bridge"
	"chat-hub/internal/models"
)

type handlerFunc func(ctx context.Context, s *session, in inbound) (any, error)

// handlerSpec describes one client command. Quiet commands are acknowledged
// only when the client asked for correlation with a request id. A fixed
// reply replaces the ack.
type handlerSpec struct {
	handle handlerFunc
	quiet  bool
	reply  *models.Event
}

type conversationRef struct {
	ConversationID int `json:"conversation_id"`
}

func (r conversationRef) validate() error {
	if r.ConversationID <= 0 {
		return apperr.Validation("conversation_id is required")
	}
	return nil
}

type messageRef struct {
	MessageID int `json:"message_id"`
}

func (r messageRef) validate() error {
	if r.MessageID <= 0 {
		return apperr.Validation("message_id is required")
	}
	return nil
}

type editPayload struct {
	messageRef
	Content string `json:"content"`
}

type deletePayload struct {
	messageRef
	ForEveryone bool `json:"for_everyone"`
}

type reactPayload struct {
	messageRef
	Emoji string `json:"emoji"`
}

type readPayload struct {
	conversationRef
	MessageIDs []int `json:"message_ids,omitempty"`
}

type forwardPayload struct {
	messageRef
	ConversationIDs []int `json:"conversation_ids"`
}

type statusPayload struct {
	Status models.Status `json:"status"`
}

// typed adapts a handler taking a decoded payload into a table entry.
func typed[T any](fn func(ctx context.Context, s *session, in inbound, p T) (any, error)) handlerFunc {
	return func(ctx context.Context, s *session, in inbound) (any, error) {
		p, err := decodePayload[T](in.Payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, s, in, p)
	}
}

func (g *Gateway) commandTable() map[string]handlerSpec {
	return map[string]handlerSpec{
		"conversation:join":  {handle: typed(g.joinConversation)},
		"conversation:leave": {handle: typed(g.leaveConversation)},

		"message:send":            {handle: typed(g.sendMessage)},
		"message:edit":            {handle: typed(g.editMessage)},
		"message:delete":          {handle: typed(g.deleteMessage)},
		"message:react":           {handle: typed(g.react)},
		"message:reaction:remove": {handle: typed(g.unreact)},
		"message:read":            {handle: typed(g.markRead)},
		"message:pin":             {handle: typed(g.togglePin)},
		"message:forward":         {handle: typed(g.forward)},

		"user:status:update": {handle: typed(g.updateStatus)},

		"typing:start": {handle: typed(g.typingStart), quiet: true},
		"typing:stop":  {handle: typed(g.typingStop), quiet: true},

		"call:initiate": {handle: typed(g.callInitiate)},
		"call:accept":   {handle: typed(g.callAnswer(models.EventCallAccepted))},
		"call:reject":   {handle: typed(g.callAnswer(models.EventCallRejected))},
		"call:end":      {handle: typed(g.callEnd)},

		"webrtc:offer":         {handle: typed(g.relayRTC(models.EventWebRTCOffer)), quiet: true},
		"webrtc:answer":        {handle: typed(g.relayRTC(models.EventWebRTCAnswer)), quiet: true},
		"webrtc:ice-candidate": {handle: typed(g.relayRTC(models.EventWebRTCICECandidate)), quiet: true},

		"ping": {handle: func(context.Context, *session, inbound) (any, error) { return nil, nil }, reply: &pongEvent},
	}
}

func (g *Gateway) joinConversation(ctx context.Context, s *session, in inbound, p conversationRef) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := g.bridge.JoinRoom(ctx, s.actor(in.RequestID), p.ConversationID); err != nil {
		if apperr.Is(err, apperr.KindNotAuthorized) {
			return nil, apperr.Forbidden("not a participant of this conversation")
		}
		return nil, err
	}
	return p, nil
}

func (g *Gateway) leaveConversation(_ context.Context, s *session, in inbound, p conversationRef) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	g.bridge.LeaveRoom(s.actor(in.RequestID), p.ConversationID)
	return p, nil
}

func (g *Gateway) sendMessage(ctx context.Context, s *session, in inbound, p bridge.SendInput) (any, error) {
	return g.bridge.SendMessage(ctx, s.actor(in.RequestID), p)
}

func (g *Gateway) editMessage(ctx context.Context, s *session, in inbound, p editPayload) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return g.bridge.EditMessage(ctx, s.actor(in.RequestID), p.MessageID, p.Content)
}

func (g *Gateway) deleteMessage(ctx context.Context, s *session, in inbound, p deletePayload) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := g.bridge.DeleteMessage(ctx, s.actor(in.RequestID), p.MessageID, p.ForEveryone); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gateway) react(ctx context.Context, s *session, in inbound, p reactPayload) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return g.bridge.React(ctx, s.actor(in.RequestID), p.MessageID, p.Emoji)
}

func (g *Gateway) unreact(ctx context.Context, s *session, in inbound, p messageRef) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := g.bridge.Unreact(ctx, s.actor(in.RequestID), p.MessageID); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gateway) markRead(ctx context.Context, s *session, in inbound, p readPayload) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return g.bridge.MarkRead(ctx, s.actor(in.RequestID), p.ConversationID, p.MessageIDs)
}

func (g *Gateway) togglePin(ctx context.Context, s *session, in inbound, p messageRef) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return g.bridge.TogglePin(ctx, s.actor(in.RequestID), p.MessageID)
}

func (g *Gateway) forward(ctx context.Context, s *session, in inbound, p forwardPayload) (any, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(p.ConversationIDs) == 0 {
		return nil, apperr.Validation("conversation_ids is required")
	}
	return g.bridge.Forward(ctx, s.actor(in.RequestID), p.MessageID, p.ConversationIDs)
}

func (g *Gateway) updateStatus(ctx context.Context, s *session, in inbound, p statusPayload) (any, error) {
	if err := g.bridge.UpdateStatus(ctx, s.actor(in.RequestID), p.Status); err != nil {
		return nil, err
	}
	return p, nil
}
