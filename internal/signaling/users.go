package signaling

import (
	"strings"
	"sync"
)

// User is one logged-in connection. The Out handle is a non-owning reference;
// the transport layer owns the underlying socket.
type User struct {
	PeerID  string
	Name    string
	Out     Outbox
	RoomKey string // empty when not in a room
}

// UserRegistry tracks all logged-in users. Display names are unique
// case-insensitively across all live users.
//
// UserRegistry is safe for concurrent use.
type UserRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*User
	byName map[string]*User // key is the lower-cased name
}

// NewUserRegistry creates an empty registry.
func NewUserRegistry() *UserRegistry {
	return &UserRegistry{
		byID:   make(map[string]*User),
		byName: make(map[string]*User),
	}
}

// Register inserts a user. It reports conflict=true, without inserting, when
// another live user already holds the same name compared case-insensitively.
// Registering an already-known peer ID renames it, releasing the old name and
// keeping the room association.
func (r *UserRegistry) Register(peerID, name string, out Outbox) (conflict bool) {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[key]; ok && existing.PeerID != peerID {
		return true
	}
	u := &User{PeerID: peerID, Name: name, Out: out}
	if prev, ok := r.byID[peerID]; ok {
		delete(r.byName, strings.ToLower(prev.Name))
		u.RoomKey = prev.RoomKey
	}
	r.byID[peerID] = u
	r.byName[key] = u
	return false
}

// Unregister removes the user. Unknown peer IDs are a no-op.
func (r *UserRegistry) Unregister(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[peerID]
	if !ok {
		return
	}
	delete(r.byID, peerID)
	delete(r.byName, strings.ToLower(u.Name))
}

// FindByID returns a snapshot of the user with the given peer ID.
func (r *UserRegistry) FindByID(peerID string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[peerID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// FindByName returns a snapshot of the user with the given name, compared
// case-insensitively.
func (r *UserRegistry) FindByName(name string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// SetRoom records the room the user is currently in; pass the empty string
// to clear it. Unknown peer IDs are a no-op.
func (r *UserRegistry) SetRoom(peerID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.byID[peerID]; ok {
		u.RoomKey = roomKey
	}
}

// List returns a snapshot of all current users in unspecified order.
func (r *UserRegistry) List() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, *u)
	}
	return users
}

// Names returns the display names of all current users in unspecified order.
func (r *UserRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byID))
	for _, u := range r.byID {
		names = append(names, u.Name)
	}
	return names
}

// Count returns the number of logged-in users.
func (r *UserRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
