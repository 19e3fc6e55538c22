package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is one live duplex connection. Send must not block: it either hands
// the frame to the connection's writer or reports the connection stale.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	Send(frame []byte) error
	Close()
}

// Registry maps users to their live connections and conversations to the
// connections joined to their broadcast group.
type Registry struct {
	mu sync.RWMutex

	// users maps user ID to connections in registration order
	users map[uuid.UUID][]Conn

	// groups maps conversation ID to the set of joined connections
	groups map[uuid.UUID]map[string]Conn

	// joined maps connection ID to the conversations it joined
	joined map[string]map[uuid.UUID]struct{}
}

func New() *Registry {
	return &Registry{
		users:  make(map[uuid.UUID][]Conn),
		groups: make(map[uuid.UUID]map[string]Conn),
		joined: make(map[string]map[uuid.UUID]struct{}),
	}
}

// Register adds conn and reports whether it is the user's first connection.
func (r *Registry) Register(conn Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := conn.UserID()
	for _, c := range r.users[userID] {
		if c.ID() == conn.ID() {
			return false
		}
	}
	first = len(r.users[userID]) == 0
	r.users[userID] = append(r.users[userID], conn)
	return first
}

// Unregister removes conn and its group memberships. last reports whether
// the user has no connections left; removed is false if conn was unknown.
func (r *Registry) Unregister(conn Conn) (last bool, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := conn.UserID()
	conns := r.users[userID]
	for i, c := range conns {
		if c.ID() != conn.ID() {
			continue
		}
		conns = append(conns[:i:i], conns[i+1:]...)
		removed = true
		break
	}
	if !removed {
		return false, false
	}

	for convID := range r.joined[conn.ID()] {
		r.leaveLocked(conn, convID)
	}
	delete(r.joined, conn.ID())

	if len(conns) == 0 {
		delete(r.users, userID)
		return true, true
	}
	r.users[userID] = conns
	return false, true
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) Count(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Connections returns a snapshot of the user's connections, oldest first.
func (r *Registry) Connections(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Conn(nil), r.users[userID]...)
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Conn
	for _, conns := range r.users {
		all = append(all, conns...)
	}
	return all
}

// Stale is a connection that refused a frame.
type Stale struct {
	Conn
	Err error
}

// Send fans frame out to every connection of userID. When hold reports true
// for a connection the caller has kept the frame back for it; that still
// counts as reached. Connections that refuse the frame are returned as
// stale and the caller decides what to do.
func (r *Registry) Send(userID uuid.UUID, frame []byte, hold func(Conn) bool) (reached int, stale []Stale) {
	for _, c := range r.Connections(userID) {
		if hold != nil && hold(c) {
			reached++
			continue
		}
		if err := c.Send(frame); err != nil {
			stale = append(stale, Stale{Conn: c, Err: err})
			continue
		}
		reached++
	}
	return reached, stale
}

// Join adds conn to the conversation's broadcast group.
func (r *Registry) Join(conn Conn, conversationID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[conversationID]; !ok {
		r.groups[conversationID] = make(map[string]Conn)
	}
	r.groups[conversationID][conn.ID()] = conn

	if _, ok := r.joined[conn.ID()]; !ok {
		r.joined[conn.ID()] = make(map[uuid.UUID]struct{})
	}
	r.joined[conn.ID()][conversationID] = struct{}{}
}

// Leave removes conn from the group and reports whether it was a member.
func (r *Registry) Leave(conn Conn, conversationID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn, conversationID)
}

func (r *Registry) leaveLocked(conn Conn, conversationID uuid.UUID) bool {
	members, ok := r.groups[conversationID]
	if !ok {
		return false
	}
	if _, ok := members[conn.ID()]; !ok {
		return false
	}
	delete(members, conn.ID())
	if len(members) == 0 {
		delete(r.groups, conversationID)
	}
	if convs, ok := r.joined[conn.ID()]; ok {
		delete(convs, conversationID)
	}
	return true
}

// Members returns a snapshot of the group's connections.
func (r *Registry) Members(conversationID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]Conn, 0, len(r.groups[conversationID]))
	for _, c := range r.groups[conversationID] {
		members = append(members, c)
	}
	return members
}

func (r *Registry) InGroup(conn Conn, conversationID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[conversationID][conn.ID()]
	return ok
}

// UserInGroup reports whether any connection of userID joined the group.
func (r *Registry) UserInGroup(userID, conversationID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.groups[conversationID] {
		if c.UserID() == userID {
			return true
		}
	}
	return false
}

// Groups returns the conversations conn has joined.
func (r *Registry) Groups(conn Conn) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	convs := make([]uuid.UUID, 0, len(r.joined[conn.ID()]))
	for id := range r.joined[conn.ID()] {
		convs = append(convs, id)
	}
	return convs
}

// OnlineUsers returns the IDs of every user with at least one connection.
func (r *Registry) OnlineUsers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}
