package room

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stats describes one room for the stats endpoint.
type Stats struct {
	Members   int `json:"members"`
	StateKeys int `json:"stateKeys"`
}

// Manager owns the room table. Rooms appear on first join and disappear a
// grace period after their last member leaves; a join during the grace window
// cancels the pending destruction and preserves the scratchpad.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	grace time.Duration
	log   zerolog.Logger
}

// NewManager creates a room manager with the given destruction grace period.
func NewManager(grace time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		grace: grace,
		log:   log.With().Str("component", "rooms").Logger(),
	}
}

// Join subscribes a component to a room, creating the room if needed. Join is
// idempotent and cancels any destruction pending on the room. The membership
// add happens under the manager lock: the grace-expiry sweep also holds it,
// so a join can never land on a room the sweep is deleting.
func (m *Manager) Join(roomID, componentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		m.rooms[roomID] = r
		m.log.Debug().Str("room", roomID).Msg("room created")
	}
	r.add(componentID)
}

// Leave unsubscribes a component from a room. When the last member leaves,
// destruction is scheduled after the grace period.
func (m *Manager) Leave(roomID, componentID string) {
	m.mu.RLock()
	r, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if empty := r.remove(componentID); empty {
		m.scheduleDestruction(r)
	}
}

func (m *Manager) scheduleDestruction(r *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) != 0 {
		return
	}
	if r.destroyTimer != nil {
		r.destroyTimer.Stop()
	}
	r.destroyTimer = time.AfterFunc(m.grace, func() { m.destroyIfEmpty(r) })
	m.log.Debug().Str("room", r.id).Dur("grace", m.grace).Msg("room destruction scheduled")
}

// destroyIfEmpty removes target from the table when it is still registered,
// still the same Room object, and still empty. The identity check keeps a
// stale timer from tearing down a successor room reusing the id.
func (m *Manager) destroyIfEmpty(target *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[target.id]
	if !ok || r != target {
		return
	}
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if !empty {
		return
	}
	delete(m.rooms, target.id)
	m.log.Debug().Str("room", target.id).Msg("room destroyed")
}

// Get returns the room if it currently exists.
func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// Members returns a snapshot of a room's member component ids. A room that
// does not exist has no members.
func (m *Manager) Members(roomID string) []string {
	r, ok := m.Get(roomID)
	if !ok {
		return nil
	}
	return r.Members()
}

// State returns the room's scratchpad, creating the room if needed so that
// external producers can seed shared state before any member joins. A room
// created this way is scheduled for destruction immediately; the first join
// cancels it.
func (m *Manager) State(roomID string) *Room {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		m.rooms[roomID] = r
	}
	m.mu.Unlock()

	if !ok {
		m.scheduleDestruction(r)
	}
	return r
}

// Snapshot returns per-room stats for every live room.
func (m *Manager) Snapshot() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.rooms))
	for id, r := range m.rooms {
		out[id] = Stats{Members: r.MemberCount(), StateKeys: r.StateKeys()}
	}
	return out
}
