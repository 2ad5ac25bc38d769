package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/voicesync/voicesync/internal/roomkey"
	"github.com/voicesync/voicesync/pkg/types"
)

// Member is one participant of a room. The Out handle is non-owning.
type Member struct {
	PeerID string
	Name   string
	Out    Outbox
}

// Room is a transient multi-peer group. Members are kept in join order; the
// host is the first member. Rooms are mutated only through [RoomRegistry],
// which deletes them as soon as the member set empties.
type Room struct {
	Key        string
	HostPeerID string
	CreatedAt  time.Time

	members []Member // join order
}

// Members returns a copy of the membership in join order.
func (r *Room) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// MembersExcept returns a copy of the membership without the given peer.
func (r *Room) MembersExcept(peerID string) []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		if m.PeerID != peerID {
			out = append(out, m)
		}
	}
	return out
}

// Has reports whether the peer is a member of the room.
func (r *Room) Has(peerID string) bool {
	for _, m := range r.members {
		if m.PeerID == peerID {
			return true
		}
	}
	return false
}

// Size returns the current member count.
func (r *Room) Size() int {
	return len(r.members)
}

// RoomRegistry tracks all live rooms keyed by room key. Every room in the
// registry has at least one member.
//
// RoomRegistry is safe for concurrent use.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	// now is replaceable in tests.
	now func() time.Time
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Create generates a fresh unique key, inserts the host as the sole member,
// and returns a snapshot of the new room. Key collisions against live rooms
// are retried; with a key space of 27^9 they are effectively theoretical.
func (r *RoomRegistry) Create(hostPeerID, hostName string, out Outbox) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key string
	for {
		k := roomkey.Generate()
		if _, taken := r.rooms[k]; !taken {
			key = k
			break
		}
	}

	room := &Room{
		Key:        key,
		HostPeerID: hostPeerID,
		CreatedAt:  r.now(),
		members:    []Member{{PeerID: hostPeerID, Name: hostName, Out: out}},
	}
	r.rooms[key] = room
	return snapshot(room), nil
}

// Join adds the peer to the room with the given key and returns a snapshot of
// the room after insertion. It fails with ROOM_NOT_FOUND for unknown keys and
// ALREADY_IN_ROOM when the peer is already a member.
func (r *RoomRegistry) Join(key, peerID, name string, out Outbox) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		return Room{}, types.NewRoomError(types.CodeRoomNotFound, fmt.Sprintf("room %s not found", key))
	}
	if room.Has(peerID) {
		return Room{}, types.NewRoomError(types.CodeAlreadyInRoom, "already in this room")
	}
	room.members = append(room.members, Member{PeerID: peerID, Name: name, Out: out})
	return snapshot(room), nil
}

// Leave removes the peer from the room. When the member set empties, the room
// is deleted and wasEmpty is true. The returned snapshot reflects the state
// after removal; ok is false for unknown keys.
func (r *RoomRegistry) Leave(key, peerID string) (room Room, wasEmpty, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, found := r.rooms[key]
	if !found {
		return Room{}, true, false
	}
	for i, m := range rm.members {
		if m.PeerID == peerID {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}
	if len(rm.members) == 0 {
		delete(r.rooms, key)
		return snapshot(rm), true, true
	}
	return snapshot(rm), false, true
}

// Get returns a snapshot of the room with the given key.
func (r *RoomRegistry) Get(key string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[key]
	if !ok {
		return Room{}, false
	}
	return snapshot(room), true
}

// List returns snapshots of all live rooms in unspecified order.
func (r *RoomRegistry) List() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, snapshot(room))
	}
	return out
}

// Count returns the number of live rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// snapshot copies a room so callers can read membership without holding the
// registry lock.
func snapshot(r *Room) Room {
	return Room{
		Key:        r.Key,
		HostPeerID: r.HostPeerID,
		CreatedAt:  r.CreatedAt,
		members:    r.Members(),
	}
}
