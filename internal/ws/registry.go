package ws

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const registryShards = 32

// Registry owns the set of live connections, indexed by user and by id.
// Users and connection ids are spread over independent shards so that
// unrelated users never contend on one lock.
type Registry struct {
	users [registryShards]userShard
	conns [registryShards]connShard

	obsMu     sync.RWMutex
	observers []func(userID int)
}

type userShard struct {
	mu sync.RWMutex
	m  map[int]map[string]*Client
}

type connShard struct {
	mu sync.RWMutex
	m  map[string]*Client
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.users {
		r.users[i].m = make(map[int]map[string]*Client)
		r.conns[i].m = make(map[string]*Client)
	}
	return r
}

// OnChange registers fn to be called, outside any registry lock, after every
// registration or unregistration of a user's connection.
func (r *Registry) OnChange(fn func(userID int)) {
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

func (r *Registry) userShard(userID int) *userShard {
	return &r.users[uint(userID)%registryShards]
}

func (r *Registry) connShard(connID string) *connShard {
	return &r.conns[xxhash.Sum64String(connID)%registryShards]
}

// Register adds c and returns its connection id.
func (r *Registry) Register(c *Client) string {
	us := r.userShard(c.UserID)
	us.mu.Lock()
	set, ok := us.m[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		us.m[c.UserID] = set
	}
	set[c.ID] = c
	us.mu.Unlock()

	cs := r.connShard(c.ID)
	cs.mu.Lock()
	cs.m[c.ID] = c
	cs.mu.Unlock()

	r.notify(c.UserID)
	return c.ID
}

// Unregister removes the connection. Unknown ids are ignored; the result
// reports whether anything was removed.
func (r *Registry) Unregister(connID string) bool {
	cs := r.connShard(connID)
	cs.mu.Lock()
	c, ok := cs.m[connID]
	if ok {
		delete(cs.m, connID)
	}
	cs.mu.Unlock()
	if !ok {
		return false
	}

	us := r.userShard(c.UserID)
	us.mu.Lock()
	if set, ok := us.m[c.UserID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(us.m, c.UserID)
		}
	}
	us.mu.Unlock()

	r.notify(c.UserID)
	return true
}

func (r *Registry) Get(connID string) (*Client, bool) {
	cs := r.connShard(connID)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.m[connID]
	return c, ok
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID int) []*Client {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	set := us.m[userID]
	list := make([]*Client, 0, len(set))
	for _, c := range set {
		list = append(list, c)
	}
	return list
}

func (r *Registry) ConnectionIDsFor(userID int) []string {
	clients := r.ConnectionsFor(userID)
	ids := make([]string, 0, len(clients))
	for _, c := range clients {
		ids = append(ids, c.ID)
	}
	return ids
}

func (r *Registry) Count(userID int) int {
	us := r.userShard(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.m[userID])
}

func (r *Registry) IsOnline(userID int) bool {
	return r.Count(userID) > 0
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Client {
	var list []*Client
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		for _, c := range cs.m {
			list = append(list, c)
		}
		cs.mu.RUnlock()
	}
	return list
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		n += len(cs.m)
		cs.mu.RUnlock()
	}
	return n
}

func (r *Registry) notify(userID int) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()
	for _, fn := range observers {
		fn(userID)
	}
}
