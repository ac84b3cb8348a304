// Package room maintains room membership, per-room state scratchpads, and the
// room event bus that fans events out to server-side handlers and remote
// subscriber sockets.
package room

import (
	"sync"
	"time"
)

// Room is a named membership set of component instances plus an in-memory
// state scratchpad. Rooms are created implicitly on first join and destroyed
// after a grace period once the last member leaves.
type Room struct {
	id string

	mu           sync.Mutex
	members      map[string]struct{}
	state        map[string]any
	createdAt    time.Time
	updatedAt    time.Time
	destroyTimer *time.Timer
}

func newRoom(id string) *Room {
	now := time.Now()
	return &Room{
		id:        id,
		members:   make(map[string]struct{}),
		state:     make(map[string]any),
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Members returns a snapshot of the member component ids. Iterating the
// snapshot is safe while joins and leaves proceed concurrently.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the current number of members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Get reads one scratchpad key.
func (r *Room) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state[key]
	return v, ok
}

// Set writes one scratchpad key.
func (r *Room) Set(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[key] = value
	r.updatedAt = time.Now()
}

// Update applies fn to the scratchpad under the room lock. fn must not block;
// it runs while membership operations on this room wait.
func (r *Room) Update(fn func(state map[string]any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
	r.updatedAt = time.Now()
}

// StateKeys returns the number of scratchpad keys currently set.
func (r *Room) StateKeys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state)
}

func (r *Room) add(componentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[componentID] = struct{}{}
	r.updatedAt = time.Now()
	if r.destroyTimer != nil {
		r.destroyTimer.Stop()
		r.destroyTimer = nil
	}
}

// remove drops a member and reports whether the room is now empty.
func (r *Room) remove(componentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, componentID)
	r.updatedAt = time.Now()
	return len(r.members) == 0
}
