package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"chat-hub/internal/apperr"
)

const roomShards = 64

var ErrUnknownConnection = errors.New("unknown connection")

// Authorizer reports whether userID currently participates in room.
type Authorizer func(ctx context.Context, room RoomID, userID int) (bool, error)

// Rooms maps conversations to the connections subscribed to them.
//
// Every removal of a user from a room advances a global epoch and stamps the
// room with it. A bulk join started from a participant snapshot taken at an
// older epoch skips rooms stamped after the snapshot; the caller re-verifies
// those through the serialized path.
type Rooms struct {
	registry  *Registry
	authorize Authorizer
	shards    [roomShards]roomShard
	epoch     atomic.Uint64
}

type roomShard struct {
	mu      sync.RWMutex
	members map[RoomID]map[string]*Client
	changed map[RoomID]uint64
}

func NewRooms(registry *Registry, authorize Authorizer) *Rooms {
	r := &Rooms{registry: registry, authorize: authorize}
	for i := range r.shards {
		r.shards[i].members = make(map[RoomID]map[string]*Client)
		r.shards[i].changed = make(map[RoomID]uint64)
	}
	return r
}

func (r *Rooms) shard(room RoomID) *roomShard {
	return &r.shards[uint(room)%roomShards]
}

// Epoch returns the current membership epoch.
func (r *Rooms) Epoch() uint64 {
	return r.epoch.Load()
}

// Join subscribes the connection after checking that its user is a current
// participant. Joining twice is a no-op.
func (r *Rooms) Join(ctx context.Context, connID string, room RoomID) error {
	c, ok := r.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	allowed, err := r.authorize(ctx, room, c.UserID)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.KindNotAuthorized, "not a participant of this conversation")
	}
	r.add(c, room, nil)
	return nil
}

// JoinTrusted subscribes without an authorization check. The caller must
// already hold a persisted membership fact.
func (r *Rooms) JoinTrusted(connID string, room RoomID) bool {
	c, ok := r.registry.Get(connID)
	if !ok {
		return false
	}
	return r.add(c, room, nil)
}

// JoinUser subscribes every live connection of userID and returns how many joined.
func (r *Rooms) JoinUser(userID int, room RoomID) int {
	n := 0
	for _, c := range r.registry.ConnectionsFor(userID) {
		if r.add(c, room, nil) {
			n++
		}
	}
	return n
}

// JoinSnapshot bulk-joins rooms read from the store at epoch snap. Rooms whose
// membership changed after snap are returned instead of joined.
func (r *Rooms) JoinSnapshot(connID string, rooms []RoomID, snap uint64) ([]RoomID, error) {
	c, ok := r.registry.Get(connID)
	if !ok {
		return nil, ErrUnknownConnection
	}
	var stale []RoomID
	for _, room := range rooms {
		if !r.add(c, room, &snap) {
			stale = append(stale, room)
		}
	}
	return stale, nil
}

// add reports false when the client is already dropped or, given a snapshot
// epoch, when the room changed after it.
func (r *Rooms) add(c *Client, room RoomID, snap *uint64) bool {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	if c.dropped {
		return false
	}

	s := r.shard(room)
	s.mu.Lock()
	if snap != nil {
		if stamp, ok := s.changed[room]; ok && stamp > *snap {
			s.mu.Unlock()
			return false
		}
	}
	set, ok := s.members[room]
	if !ok {
		set = make(map[string]*Client)
		s.members[room] = set
	}
	set[c.ID] = c
	s.mu.Unlock()

	c.rooms[room] = struct{}{}
	return true
}

// Leave unsubscribes the connection. Leaving a room not joined is a no-op.
func (r *Rooms) Leave(connID string, room RoomID) {
	c, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	r.removeMember(room, c.ID)
	delete(c.rooms, room)
}

// DropConnection removes the connection from every room and refuses further
// joins for it. It must run before the connection is unregistered.
func (r *Rooms) DropConnection(connID string) {
	c, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	r.DropClient(c)
}

func (r *Rooms) DropClient(c *Client) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.dropped = true
	for room := range c.rooms {
		r.removeMember(room, c.ID)
	}
	c.rooms = make(map[RoomID]struct{})
}

// EvictUser removes every connection of userID from room and returns their ids.
func (r *Rooms) EvictUser(room RoomID, userID int) []string {
	s := r.shard(room)
	s.mu.Lock()
	s.changed[room] = r.epoch.Add(1)
	var evicted []*Client
	for id, c := range s.members[room] {
		if c.UserID == userID {
			evicted = append(evicted, c)
			delete(s.members[room], id)
		}
	}
	if len(s.members[room]) == 0 {
		delete(s.members, room)
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, c := range evicted {
		c.roomsMu.Lock()
		delete(c.rooms, room)
		c.roomsMu.Unlock()
		ids = append(ids, c.ID)
	}
	return ids
}

// DropRoom removes every member of room, used when the conversation is deleted.
func (r *Rooms) DropRoom(room RoomID) {
	s := r.shard(room)
	s.mu.Lock()
	s.changed[room] = r.epoch.Add(1)
	members := s.members[room]
	delete(s.members, room)
	s.mu.Unlock()

	for _, c := range members {
		c.roomsMu.Lock()
		delete(c.rooms, room)
		c.roomsMu.Unlock()
	}
}

// MembersOf returns a snapshot of the room's connections.
func (r *Rooms) MembersOf(room RoomID) []*Client {
	s := r.shard(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.members[room]
	list := make([]*Client, 0, len(set))
	for _, c := range set {
		list = append(list, c)
	}
	return list
}

func (r *Rooms) MemberIDs(room RoomID) []string {
	members := r.MembersOf(room)
	ids := make([]string, 0, len(members))
	for _, c := range members {
		ids = append(ids, c.ID)
	}
	return ids
}

func (r *Rooms) IsMember(connID string, room RoomID) bool {
	s := r.shard(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[room][connID]
	return ok
}

func (r *Rooms) RoomsOf(connID string) []RoomID {
	c, ok := r.registry.Get(connID)
	if !ok {
		return nil
	}
	return c.roomList()
}

func (r *Rooms) removeMember(room RoomID, connID string) {
	s := r.shard(room)
	s.mu.Lock()
	if set, ok := s.members[room]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(s.members, room)
		}
	}
	s.mu.Unlock()
}
