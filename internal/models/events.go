package models

import (
	"encoding/json"
	"time"
)

// EventType names an event delivered to client connections.
type EventType string

const (
	EventMessageNew            EventType = "message:new"
	EventMessageEdit           EventType = "message:edit"
	EventMessageDelete         EventType = "message:delete"
	EventMessageReaction       EventType = "message:reaction"
	EventMessageReactionRemove EventType = "message:reaction:remove"
	EventMessageRead           EventType = "message:read"
	EventMessagePin            EventType = "message:pin"
	EventTypingStart           EventType = "typing:start"
	EventTypingStop            EventType = "typing:stop"
	EventPresenceChanged       EventType = "presence:changed"
	EventConversationNew       EventType = "conversation:new"
	EventConversationUpdate    EventType = "conversation:update"
	EventConversationDeleted   EventType = "conversation:deleted"
	EventCallIncoming          EventType = "call:incoming"
	EventCallAccepted          EventType = "call:accepted"
	EventCallRejected          EventType = "call:rejected"
	EventCallEnded             EventType = "call:ended"
	EventWebRTCOffer           EventType = "webrtc:offer"
	EventWebRTCAnswer          EventType = "webrtc:answer"
	EventWebRTCICECandidate    EventType = "webrtc:ice-candidate"

	EventAck   EventType = "ack"
	EventError EventType = "error"
	EventPong  EventType = "pong"
)

// Event is the outbound frame written to client connections.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type MessageEdited struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	DeletedAt      time.Time `json:"deleted_at"`
}

type ReactionChanged struct {
	MessageID      int    `json:"message_id"`
	ConversationID int    `json:"conversation_id"`
	UserID         int    `json:"user_id"`
	Emoji          string `json:"emoji"`
}

type PinChanged struct {
	MessageID      int  `json:"message_id"`
	ConversationID int  `json:"conversation_id"`
	Pinned         bool `json:"pinned"`
	ActorID        int  `json:"actor_id"`
}

// Typing is relayed only. Clients drop the indicator after ExpiresInMs
// unless it is refreshed.
type Typing struct {
	ConversationID int   `json:"conversation_id"`
	UserID         int   `json:"user_id"`
	ExpiresInMs    int64 `json:"expires_in_ms,omitempty"`
}

type PresenceChanged struct {
	UserID   int        `json:"user_id"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ConversationChanged struct {
	ConversationID int           `json:"conversation_id"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Changes        []string      `json:"changes,omitempty"`
	AddedUserIDs   []int         `json:"added_user_ids,omitempty"`
	RemovedUserID  int           `json:"removed_user_id,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

type CallSignal struct {
	ConversationID int    `json:"conversation_id"`
	CallerID       int    `json:"caller_id"`
	UserID         int    `json:"user_id"`
	CallType       string `json:"call_type,omitempty"`
}

// RTCSignal carries an opaque signaling payload between two users.
type RTCSignal struct {
	ConversationID int             `json:"conversation_id"`
	FromUserID     int             `json:"from_user_id"`
	Payload        json.RawMessage `json:"payload"`
}
