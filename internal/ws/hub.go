package ws

import (
	"context"
	"time"

	"chat-hub/internal/observability"
)

// Hub bundles the shared live-connection state.
type Hub struct {
	Registry    *Registry
	Rooms       *Rooms
	Multicaster *Multicaster
	Presence    *Presence
}

type HubConfig struct {
	PresenceGrace time.Duration
	IOTimeout     time.Duration
}

// NewHub wires the registry, room index, multicaster and presence tracker.
// Run must be started for presence transitions to be processed.
func NewHub(cfg HubConfig, authorize Authorizer, store PresenceStore, mirror PresenceMirror) *Hub {
	registry := NewRegistry()
	rooms := NewRooms(registry, authorize)
	mc := NewMulticaster(registry, rooms)
	presence := NewPresence(registry, mc, store, mirror, PresenceConfig{
		Grace:     cfg.PresenceGrace,
		IOTimeout: cfg.IOTimeout,
	})
	registry.OnChange(presence.Notify)

	return &Hub{
		Registry:    registry,
		Rooms:       rooms,
		Multicaster: mc,
		Presence:    presence,
	}
}

func (h *Hub) Run(ctx context.Context) error {
	return h.Presence.Run(ctx)
}

// CloseAll closes every live transport; each session then tears itself down.
func (h *Hub) CloseAll() int {
	clients := h.Registry.All()
	for _, c := range clients {
		c.CloseTransport()
	}
	return len(clients)
}

// PublishLifecycle emits a session lifecycle envelope. Durations are reported
// for every event after the connect.
func PublishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	duration := int64(0)
	if event != observability.WSConnect {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWSEvents, observability.EventEnvelope{
		EventType:  "ws_events",
		EventName:  event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
