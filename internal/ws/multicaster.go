package ws

import (
	"chat-hub/internal/log"
	"chat-hub/internal/models"
	"chat-hub/internal/observability"
)

// Exclude suppresses delivery to one connection and/or every connection of one user.
type Exclude struct {
	ConnID string
	UserID int
}

func (e Exclude) matches(c *Client) bool {
	return (e.ConnID != "" && c.ID == e.ConnID) || (e.UserID != 0 && c.UserID == e.UserID)
}

// Multicaster fans typed events out to connection buffers. Delivery never
// blocks and targets without live connections are skipped silently.
type Multicaster struct {
	registry *Registry
	rooms    *Rooms
}

func NewMulticaster(registry *Registry, rooms *Rooms) *Multicaster {
	return &Multicaster{registry: registry, rooms: rooms}
}

// ToUser delivers to every live connection of userID.
func (m *Multicaster) ToUser(userID int, ev models.Event) int {
	return m.deliver(m.registry.ConnectionsFor(userID), ev, Exclude{})
}

// ToUsers delivers once to every live connection of each distinct user.
func (m *Multicaster) ToUsers(userIDs []int, ev models.Event, ex Exclude) int {
	seen := make(map[int]struct{}, len(userIDs))
	var targets []*Client
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		targets = append(targets, m.registry.ConnectionsFor(userID)...)
	}
	return m.deliver(targets, ev, ex)
}

// ToRoom delivers to every connection subscribed to room.
func (m *Multicaster) ToRoom(room RoomID, ev models.Event, ex Exclude) int {
	return m.deliver(m.rooms.MembersOf(room), ev, ex)
}

// ToConn delivers to a single connection.
func (m *Multicaster) ToConn(connID string, ev models.Event) bool {
	c, ok := m.registry.Get(connID)
	if !ok {
		return false
	}
	return m.deliver([]*Client{c}, ev, Exclude{}) == 1
}

// Broadcast delivers to every live connection.
func (m *Multicaster) Broadcast(ev models.Event, ex Exclude) int {
	return m.deliver(m.registry.All(), ev, ex)
}

func (m *Multicaster) deliver(targets []*Client, ev models.Event, ex Exclude) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := Encode(ev)
	if err != nil {
		logger := log.L()
		logger.Error().Err(err).Str(log.FieldEvent, string(ev.Type)).Msg("encode event")
		return 0
	}

	delivered, dropped := 0, 0
	for _, c := range targets {
		if ex.matches(c) {
			continue
		}
		ok, displaced := c.Enqueue(frame)
		if ok {
			delivered++
		}
		if displaced > 0 {
			dropped += displaced
			logger := log.L()
			logger.Warn().
				Str(log.FieldConnID, c.ID).
				Int(log.FieldUserID, c.UserID).
				Str(log.FieldEvent, string(ev.Type)).
				Int("displaced", displaced).
				Msg("connection buffer full, dropped oldest frames")
		}
	}
	observability.ObserveMulticast(string(ev.Type), delivered, dropped)
	return delivered
}
