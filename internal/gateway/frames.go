package gateway

import (
	"encoding/json"

	"chat-hub/internal/apperr"
	"chat-hub/internal/models"
)

// inbound is a client command frame.
type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Command   string      `json:"command,omitempty"`
}

type ackPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Command   string `json:"command"`
	Data      any    `json:"data,omitempty"`
}

func errorEvent(err error, in inbound) models.Event {
	return models.Event{Type: models.EventError, Payload: errorPayload{
		Kind:      apperr.KindOf(err),
		Message:   apperr.MessageOf(err),
		RequestID: in.RequestID,
		Command:   in.Type,
	}}
}

func ackEvent(in inbound, data any) models.Event {
	return models.Event{Type: models.EventAck, Payload: ackPayload{
		RequestID: in.RequestID,
		Command:   in.Type,
		Data:      data,
	}}
}

// decodeFrame parses a raw frame. On failure the returned frame still carries
// whatever type and request id could be read so the error can be correlated.
func decodeFrame(data []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, apperr.Wrap(apperr.KindValidationFailed, "malformed frame", err)
	}
	if in.Type == "" {
		return in, apperr.Validation("frame type is required")
	}
	return in, nil
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, apperr.Validation("payload is required")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperr.Wrap(apperr.KindValidationFailed, "malformed payload", err)
	}
	return v, nil
}
