package live

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/protocol"
	"github.com/fluxstack/fluxlive/internal/room"
)

// Conn is the connection surface the runtime needs: the two outbound lanes
// and the mutable auth context. Send is the droppable lane for STATE_UPDATE
// and BROADCAST frames; SendResponse is the reserved lane for correlated
// ACTION_RESPONSE and ERROR frames.
type Conn interface {
	ID() string
	Send(frame []byte) bool
	SendResponse(frame []byte) bool
	AuthContext() *auth.Context
	SetAuthContext(authCtx *auth.Context)
}

type pendingEmit struct {
	roomID  string
	event   string
	payload json.RawMessage
}

// Instance is one mounted component: its state, its owning connection, its
// room subscriptions, and the serial queue its actions run on.
type Instance struct {
	id     string
	name   string
	def    *Definition
	comp   Component
	conn   Conn
	userID string
	log    zerolog.Logger

	rooms *room.Manager
	bus   *room.Bus

	mu          sync.Mutex
	state       State
	roomID      string
	joinedRooms map[string]struct{}
	destroyed   bool
	suppress    bool
	batching    bool
	dirty       bool
	emits       []pendingEmit
	unsubs      []func()
	history     []State
	maxHistory  int

	jobs chan func()
}

const jobQueueDepth = 256

func newInstance(id string, def *Definition, comp Component, conn Conn, roomID, userID string, rooms *room.Manager, bus *room.Bus, maxHistory int, log zerolog.Logger) *Instance {
	inst := &Instance{
		id:          id,
		name:        def.Name,
		def:         def,
		comp:        comp,
		conn:        conn,
		userID:      userID,
		rooms:       rooms,
		bus:         bus,
		roomID:      roomID,
		joinedRooms: make(map[string]struct{}),
		state:       def.DefaultState.Clone(),
		maxHistory:  maxHistory,
		jobs:        make(chan func(), jobQueueDepth),
		log: log.With().
			Str("component", def.Name).
			Str("instanceId", id).
			Logger(),
	}
	go inst.runJobs()
	return inst
}

// runJobs drains the serial action queue. One goroutine per instance gives
// FIFO execution of actions and property updates, so overlapping requests
// respond in arrival order.
func (i *Instance) runJobs() {
	for job := range i.jobs {
		job()
	}
}

// enqueue schedules a job on the serial queue. It reports false when the
// instance is destroyed or the queue is saturated.
func (i *Instance) enqueue(job func()) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.destroyed {
		return false
	}
	select {
	case i.jobs <- job:
		return true
	default:
		return false
	}
}

// ID returns the process-wide unique instance id.
func (i *Instance) ID() string { return i.id }

// Name returns the component type name.
func (i *Instance) Name() string { return i.name }

// UserID returns the user identity supplied at mount, if any.
func (i *Instance) UserID() string { return i.userID }

// RoomID returns the primary room supplied at mount, or empty.
func (i *Instance) RoomID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.roomID
}

// AuthContext returns the owning connection's current auth context.
func (i *Instance) AuthContext() *auth.Context {
	if i.conn == nil {
		return auth.Anonymous()
	}
	return i.conn.AuthContext()
}

// Get reads one state key.
func (i *Instance) Get(key string) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.state[key]
	return v, ok
}

// StateSnapshot returns a shallow copy of the current state.
func (i *Instance) StateSnapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state.Clone()
}

// SetState merges delta into the state and flushes a STATE_UPDATE to the
// owning connection. Inside an action the flush is coalesced: at most one
// frame per action, none when nothing changed. On a destroyed instance
// SetState is a no-op.
func (i *Instance) SetState(delta State) {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	changed := i.state.Merge(delta)
	if changed {
		i.recordHistory()
	}
	if i.batching {
		if changed {
			i.dirty = true
		}
		i.mu.Unlock()
		return
	}
	var frame []byte
	if changed {
		frame = i.stateFrameLocked()
	}
	i.mu.Unlock()

	if frame != nil {
		i.conn.Send(frame)
	}
}

// SetStateSilently merges delta without emitting a STATE_UPDATE. Components
// use it when the client already learned the change through another frame,
// such as a BROADCAST it is about to apply itself.
func (i *Instance) SetStateSilently(delta State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.destroyed {
		return
	}
	if i.state.Merge(delta) {
		i.recordHistory()
	}
}

// recordHistory appends a state snapshot to the bounded history ring.
// Caller holds i.mu.
func (i *Instance) recordHistory() {
	if i.maxHistory <= 0 {
		return
	}
	i.history = append(i.history, i.state.Clone())
	if len(i.history) > i.maxHistory {
		i.history = i.history[len(i.history)-i.maxHistory:]
	}
}

// History returns the retained state snapshots, oldest first.
func (i *Instance) History() []State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]State(nil), i.history...)
}

// stateFrameLocked serializes the current state into a STATE_UPDATE frame.
// Caller holds i.mu.
func (i *Instance) stateFrameLocked() []byte {
	if i.suppress || i.conn == nil {
		return nil
	}
	frame, err := protocol.NewStateUpdateFrame(i.id, i.state.Clone())
	if err != nil {
		i.log.Error().Err(err).Msg("state frame marshal failed")
		return nil
	}
	return frame
}

// EmitRoomEvent emits a named event into the instance's primary room. Inside
// an action the emission is deferred until after the coalesced state flush,
// so remote subscribers can observe the emitter's post-state. Without a room,
// or on a destroyed instance, it is a no-op.
func (i *Instance) EmitRoomEvent(event string, payload any) {
	i.EmitTo(i.RoomID(), event, payload)
}

// EmitTo emits a named event into an arbitrary room.
func (i *Instance) EmitTo(roomID, event string, payload any) {
	if roomID == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		i.log.Error().Err(err).Str("event", event).Msg("room event payload marshal failed")
		return
	}

	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	if i.batching {
		i.emits = append(i.emits, pendingEmit{roomID: roomID, event: event, payload: raw})
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	i.bus.Emit(roomID, event, raw, i.id)
}

// EmitRoomEventWithState atomically applies a local state delta and emits the
// event. The delta goes through SetState, so inside an action it coalesces
// into the single end-of-action STATE_UPDATE, flushed before the emission.
func (i *Instance) EmitRoomEventWithState(event string, payload any, delta State) {
	i.SetState(delta)
	i.EmitRoomEvent(event, payload)
}

// OnRoomEvent registers a handler for an event in the instance's primary room
// and returns its unsubscribe function. Handlers run on the bus dispatch path
// and must not block. On a destroyed instance the registration is a no-op.
func (i *Instance) OnRoomEvent(event string, fn func(payload json.RawMessage, emitterID string)) func() {
	return i.onRoomEventIn(i.RoomID(), event, fn)
}

func (i *Instance) onRoomEventIn(roomID, event string, fn func(payload json.RawMessage, emitterID string)) func() {
	if roomID == "" {
		return func() {}
	}
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return func() {}
	}
	i.mu.Unlock()

	unsub := i.bus.Subscribe(roomID, event, i.id, func(_ string, payload json.RawMessage, emitterID string) {
		fn(payload, emitterID)
	})

	i.mu.Lock()
	i.unsubs = append(i.unsubs, unsub)
	i.mu.Unlock()
	return unsub
}

// RoomRef addresses one room on behalf of an instance, mirroring the
// join/leave/emit/on helper quartet.
type RoomRef struct {
	inst   *Instance
	roomID string
}

// Room returns a handle on an arbitrary room.
func (i *Instance) Room(roomID string) RoomRef {
	return RoomRef{inst: i, roomID: roomID}
}

// RoomState returns the scratchpad of a room, creating the room if needed.
// The scratchpad is the only sanctioned state channel between instances.
func (i *Instance) RoomState(roomID string) *room.Room {
	return i.rooms.State(roomID)
}

// Join subscribes the instance to the room.
func (r RoomRef) Join() {
	r.inst.mu.Lock()
	if r.inst.destroyed {
		r.inst.mu.Unlock()
		return
	}
	r.inst.joinedRooms[r.roomID] = struct{}{}
	r.inst.mu.Unlock()
	r.inst.rooms.Join(r.roomID, r.inst.id)
}

// Leave unsubscribes the instance from the room.
func (r RoomRef) Leave() {
	r.inst.mu.Lock()
	delete(r.inst.joinedRooms, r.roomID)
	r.inst.mu.Unlock()
	r.inst.rooms.Leave(r.roomID, r.inst.id)
}

// Emit emits an event into the room.
func (r RoomRef) Emit(event string, payload any) {
	r.inst.EmitTo(r.roomID, event, payload)
}

// On registers an event handler in the room.
func (r RoomRef) On(event string, fn func(payload json.RawMessage, emitterID string)) func() {
	return r.inst.onRoomEventIn(r.roomID, event, fn)
}

// beginBatch opens the per-action coalescing window.
func (i *Instance) beginBatch() {
	i.mu.Lock()
	i.batching = true
	i.dirty = false
	i.emits = nil
	i.mu.Unlock()
}

// endBatch closes the window: it flushes at most one STATE_UPDATE covering
// every mutation of the action, then performs the deferred emissions in
// order.
func (i *Instance) endBatch() {
	i.mu.Lock()
	i.batching = false
	var frame []byte
	if i.dirty {
		frame = i.stateFrameLocked()
		i.dirty = false
	}
	emits := i.emits
	i.emits = nil
	i.mu.Unlock()

	if frame != nil {
		i.conn.Send(frame)
	}
	for _, e := range emits {
		i.bus.Emit(e.roomID, e.event, e.payload, i.id)
	}
}

// destroy tears the instance down: the component's Destroy hook runs first
// (a final room event from it is still delivered), then the instance is
// marked destroyed, its handlers are unsubscribed, its rooms left, and its
// job queue closed.
func (i *Instance) destroy() {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	if d, ok := i.comp.(Destroyer); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					i.log.Error().Any("panic", r).Msg("destroy hook panicked")
				}
			}()
			d.Destroy(i)
		}()
	}

	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	i.destroyed = true
	unsubs := i.unsubs
	i.unsubs = nil
	joined := make([]string, 0, len(i.joinedRooms)+1)
	if i.roomID != "" {
		joined = append(joined, i.roomID)
	}
	for id := range i.joinedRooms {
		if id != i.roomID {
			joined = append(joined, id)
		}
	}
	i.joinedRooms = nil
	close(i.jobs)
	i.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, roomID := range joined {
		i.rooms.Leave(roomID, i.id)
	}
}

// suppressFrames stops all outbound traffic for the instance. Used during
// disconnect cleanup, when the socket is already gone.
func (i *Instance) suppressFrames() {
	i.mu.Lock()
	i.suppress = true
	i.mu.Unlock()
}

// isLive reports whether the instance can still receive fanout frames.
func (i *Instance) isLive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.destroyed && !i.suppress
}

// respondError sends a correlated ERROR frame on the reserved response lane.
func (i *Instance) respondError(responseID string, code protocol.Code, message string) {
	if i.conn == nil {
		return
	}
	frame, err := protocol.NewErrorFrame(i.id, responseID, code, message)
	if err != nil {
		i.log.Error().Err(err).Msg("error frame marshal failed")
		return
	}
	i.conn.SendResponse(frame)
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s[%s]", i.name, i.id)
}
