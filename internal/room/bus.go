package room

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/protocol"
)

// Sender is the outbound half of a subscriber's connection. Send enqueues a
// serialized frame without blocking and reports whether it was accepted.
type Sender interface {
	Send(frame []byte) bool
}

// Resolver maps a member component id to the sender of its owning connection.
// Destroyed or unknown components resolve to false.
type Resolver func(componentID string) (Sender, bool)

// Handler is a server-side room event listener. Handlers run synchronously on
// the dispatch path and must not block.
type Handler func(event string, payload json.RawMessage, emitterID string)

type handlerEntry struct {
	seq     uint64
	ownerID string
	fn      Handler
}

// EventStats are the bus delivery counters exposed by the stats endpoint.
type EventStats struct {
	Emitted   int64 `json:"emitted"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Bus dispatches room events along two paths: synchronously to server-side
// handlers registered by component instances, and as BROADCAST frames to the
// sockets of every other member of the room. Delivery is at-most-once; frames
// for degraded or closed connections are dropped, never buffered.
type Bus struct {
	rooms   *Manager
	resolve Resolver
	log     zerolog.Logger

	mu       sync.RWMutex
	nextSeq  uint64
	handlers map[string][]handlerEntry // roomID \x00 event

	emitted   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus over the given room manager. The resolver is installed
// later by the registry, which owns the component index.
func NewBus(rooms *Manager, log zerolog.Logger) *Bus {
	return &Bus{
		rooms:    rooms,
		handlers: make(map[string][]handlerEntry),
		log:      log.With().Str("component", "bus").Logger(),
	}
}

// SetResolver installs the component-id resolver. Must be called before the
// first Emit.
func (b *Bus) SetResolver(r Resolver) {
	b.resolve = r
}

func handlerKey(roomID, event string) string {
	return roomID + "\x00" + event
}

// Subscribe registers a handler for (roomID, event) on behalf of the component
// ownerID and returns its unsubscribe function. Handlers fire in registration
// order.
func (b *Bus) Subscribe(roomID, event, ownerID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	seq := b.nextSeq
	key := handlerKey(roomID, event)
	b.handlers[key] = append(b.handlers[key], handlerEntry{seq: seq, ownerID: ownerID, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[key]
		for i, e := range entries {
			if e.seq == seq {
				b.handlers[key] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(b.handlers[key]) == 0 {
			delete(b.handlers, key)
		}
	}
}

// Emit dispatches an event emitted by the component emitterID into roomID and
// returns the number of remote subscribers whose connections accepted the
// frame. The emitter's own handlers and socket are excluded; its setState is
// the sole authoritative local effect of its own emission.
func (b *Bus) Emit(roomID, event string, payload json.RawMessage, emitterID string) int {
	b.emitted.Add(1)

	// Snapshot handlers so an unsubscribe from inside a handler cannot
	// perturb this dispatch.
	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[handlerKey(roomID, event)]...)
	b.mu.RUnlock()

	for _, e := range entries {
		if e.ownerID == emitterID {
			continue
		}
		b.invoke(e, roomID, event, payload, emitterID)
	}

	frame, err := protocol.NewBroadcastFrame(emitterID, roomID, event, payload)
	if err != nil {
		b.log.Error().Err(err).Str("room", roomID).Str("event", event).Msg("broadcast frame marshal failed")
		return 0
	}

	notified := 0
	for _, memberID := range b.rooms.Members(roomID) {
		if memberID == emitterID {
			continue
		}
		sender, ok := b.resolve(memberID)
		if !ok {
			continue
		}
		if sender.Send(frame) {
			b.delivered.Add(1)
			notified++
		} else {
			b.dropped.Add(1)
		}
	}
	return notified
}

// Inject dispatches a server-originated event into roomID with no emitter
// exclusion. Frames carry the reserved room-relay component id so clients know
// the event is not tied to a component instance.
func (b *Bus) Inject(roomID, event string, payload json.RawMessage) int {
	return b.Emit(roomID, event, payload, protocol.RoomRelay)
}

// invoke runs one handler with panic isolation so a throwing listener cannot
// abort sibling delivery.
func (b *Bus) invoke(e handlerEntry, roomID, event string, payload json.RawMessage, emitterID string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("room", roomID).
				Str("event", event).
				Str("handlerOwner", e.ownerID).
				Any("panic", r).
				Msg("room event handler panicked")
		}
	}()
	e.fn(event, payload, emitterID)
}

// Stats returns the cumulative delivery counters.
func (b *Bus) Stats() EventStats {
	return EventStats{
		Emitted:   b.emitted.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}
