package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-hub/internal/models"
)

func newTestFanout() (*Registry, *Rooms, *Multicaster) {
	reg := NewRegistry()
	rooms := NewRooms(reg, allowAll)
	return reg, rooms, NewMulticaster(reg, rooms)
}

func TestMulticasterToRoomExcludesSenderConnection(t *testing.T) {
	reg, rooms, mc := newTestFanout()
	a1, a2, b := newTestClient(1, 4), newTestClient(1, 4), newTestClient(2, 4)
	for _, c := range []*Client{a1, a2, b} {
		reg.Register(c)
		rooms.JoinTrusted(c.ID, 9)
	}

	ev := models.Event{Type: models.EventMessageNew, Payload: models.Message{ID: 1, ConversationID: 9}}
	n := mc.ToRoom(9, ev, Exclude{ConnID: a1.ID})

	assert.Equal(t, 2, n)
	assert.Empty(t, drain(t, a1))
	assert.Equal(t, []string{"message:new"}, types(drain(t, a2)))
	assert.Equal(t, []string{"message:new"}, types(drain(t, b)))
}

func TestMulticasterToUsersDeduplicatesAndExcludesUser(t *testing.T) {
	reg, _, mc := newTestFanout()
	a, b := newTestClient(1, 4), newTestClient(2, 4)
	reg.Register(a)
	reg.Register(b)

	ev := models.Event{Type: models.EventMessageRead}
	n := mc.ToUsers([]int{1, 2, 2, 3}, ev, Exclude{UserID: 1})

	assert.Equal(t, 1, n)
	assert.Empty(t, drain(t, a))
	assert.Len(t, drain(t, b), 1)
}

func TestMulticasterSlowConsumerDoesNotBlockOthers(t *testing.T) {
	reg, rooms, mc := newTestFanout()
	slow, fast := newTestClient(1, 2), newTestClient(2, 16)
	for _, c := range []*Client{slow, fast} {
		reg.Register(c)
		rooms.JoinTrusted(c.ID, 1)
	}

	for i := 1; i <= 5; i++ {
		mc.ToRoom(1, models.Event{Type: models.EventMessageNew, Payload: models.Message{ID: i}}, Exclude{})
	}

	assert.Len(t, drain(t, fast), 5)

	kept := drain(t, slow)
	require.Len(t, kept, 2)
	var last models.Message
	require.NoError(t, json.Unmarshal(kept[1].Payload, &last))
	assert.Equal(t, 5, last.ID)
}

func TestMulticasterSkipsClosedAndAbsentTargets(t *testing.T) {
	reg, _, mc := newTestFanout()
	c := newTestClient(1, 4)
	reg.Register(c)
	c.Close()

	assert.Zero(t, mc.ToUser(1, models.Event{Type: models.EventTypingStart}))
	assert.Zero(t, mc.ToUser(42, models.Event{Type: models.EventTypingStart}))
	assert.False(t, mc.ToConn("ghost", models.Event{Type: models.EventPong}))
}

func TestMulticasterBroadcastExcludesUser(t *testing.T) {
	reg, _, mc := newTestFanout()
	a, b, c := newTestClient(1, 4), newTestClient(2, 4), newTestClient(3, 4)
	for _, cl := range []*Client{a, b, c} {
		reg.Register(cl)
	}

	n := mc.Broadcast(models.Event{Type: models.EventPresenceChanged}, Exclude{UserID: 1})
	assert.Equal(t, 2, n)
	assert.Empty(t, drain(t, a))
}
