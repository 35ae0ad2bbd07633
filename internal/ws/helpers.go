package ws

import (
	"encoding/json"

	"chat-hub/internal/models"
)

// RoomID identifies the live-delivery group of one conversation.
type RoomID int

func RoomOf(conversationID int) RoomID {
	return RoomID(conversationID)
}

// Encode serialises an outbound frame.
func Encode(ev models.Event) ([]byte, error) {
	return json.Marshal(ev)
}
