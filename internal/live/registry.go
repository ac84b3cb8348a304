package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/protocol"
	"github.com/fluxstack/fluxlive/internal/room"
)

// Registry owns the component definition table, the process-wide instance
// index, and the per-connection mount sets. All inbound wire traffic routes
// through it.
type Registry struct {
	gate         *Gate
	rooms        *room.Manager
	bus          *room.Bus
	guard        auth.Guard
	guardTimeout time.Duration
	maxHistory   int
	development  bool
	log          zerolog.Logger

	mu        sync.RWMutex
	defs      map[string]*Definition
	instances map[string]*Instance
	mounts    map[string]map[string]*Instance // connection id -> instance id
}

// NewRegistry creates an empty registry.
func NewRegistry(gate *Gate, rooms *room.Manager, bus *room.Bus, guard auth.Guard, guardTimeout time.Duration, maxHistory int, development bool, log zerolog.Logger) *Registry {
	return &Registry{
		gate:         gate,
		rooms:        rooms,
		bus:          bus,
		guard:        guard,
		guardTimeout: guardTimeout,
		maxHistory:   maxHistory,
		development:  development,
		log:          log.With().Str("component", "registry").Logger(),
		defs:         make(map[string]*Definition),
		instances:    make(map[string]*Instance),
		mounts:       make(map[string]map[string]*Instance),
	}
}

// Register adds a component definition to the name table. Registration
// happens once at startup, before the first connection is accepted.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("component %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Resolver returns the component-id resolver the bus uses for remote fanout.
// Destroyed and frame-suppressed instances are unreachable.
func (r *Registry) Resolver() room.Resolver {
	return func(componentID string) (room.Sender, bool) {
		r.mu.RLock()
		inst, ok := r.instances[componentID]
		r.mu.RUnlock()
		if !ok || !inst.isLive() {
			return nil, false
		}
		return inst.conn, true
	}
}

// Mount creates a component instance for a connection. The instance id is the
// client-minted componentId from the envelope; a collision with a live
// instance rejects the mount.
func (r *Registry) Mount(conn Conn, env *protocol.Envelope) {
	var p protocol.MountPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeInvalidPayload, "malformed mount payload")
		return
	}

	r.mu.RLock()
	def, ok := r.defs[p.Component]
	r.mu.RUnlock()
	if !ok {
		r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeComponentNotFound, fmt.Sprintf("unknown component %q", p.Component))
		return
	}

	if werr := r.gate.CheckMount(def, conn.AuthContext()); werr != nil {
		r.sendError(conn, env.ComponentID, env.RequestID, werr.Code, werr.Message)
		return
	}

	userID := p.UserID
	if env.UserID != "" {
		userID = env.UserID
	}
	roomID := p.Room
	if env.Room != "" {
		roomID = env.Room
	}

	// Validate props and claim the componentId before constructing anything:
	// newInstance starts the instance's job goroutine, so every rejection past
	// that point would have to unwind it.
	var props State
	if len(p.Props) > 0 {
		if err := json.Unmarshal(p.Props, &props); err != nil {
			r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeInvalidPayload, "malformed mount props")
			return
		}
	}

	r.mu.Lock()
	if _, taken := r.instances[env.ComponentID]; taken {
		r.mu.Unlock()
		r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeInvalidPayload, "componentId already in use")
		return
	}
	comp := def.New()
	inst := newInstance(env.ComponentID, def, comp, conn, roomID, userID, r.rooms, r.bus, r.maxHistory, r.log)
	r.instances[inst.id] = inst
	set, ok := r.mounts[conn.ID()]
	if !ok {
		set = make(map[string]*Instance)
		r.mounts[conn.ID()] = set
	}
	set[inst.id] = inst
	r.mu.Unlock()

	if len(props) > 0 {
		inst.SetStateSilently(props)
	}

	if roomID != "" {
		r.rooms.Join(roomID, inst.id)
	}

	if init, ok := comp.(Initializer); ok {
		if err := init.Init(inst); err != nil {
			r.log.Error().Err(err).Str("component", def.Name).Msg("component init failed")
			r.removeInstance(conn.ID(), inst)
			inst.destroy()
			r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeActionFailed, "component initialization failed")
			return
		}
	}

	if frame, err := protocol.NewStateUpdateFrame(inst.id, inst.StateSnapshot()); err == nil {
		conn.Send(frame)
	}

	if env.ExpectResponse {
		r.sendResponse(conn, inst.id, env.RequestID, map[string]string{"componentId": inst.id})
	}

	inst.log.Debug().Str("room", roomID).Msg("component mounted")
}

// Unmount destroys an instance owned by the connection. Unmounting an unknown
// or already-gone instance is a no-op, acknowledged all the same.
func (r *Registry) Unmount(conn Conn, env *protocol.Envelope) {
	r.mu.RLock()
	inst, ok := r.instances[env.ComponentID]
	r.mu.RUnlock()

	if ok && inst.conn.ID() == conn.ID() {
		r.removeInstance(conn.ID(), inst)
		inst.destroy()
		inst.log.Debug().Msg("component unmounted")
	}

	if env.ExpectResponse {
		r.sendResponse(conn, env.ComponentID, env.RequestID, map[string]bool{"unmounted": true})
	}
}

func (r *Registry) removeInstance(connID string, inst *Instance) {
	r.mu.Lock()
	delete(r.instances, inst.id)
	if set, ok := r.mounts[connID]; ok {
		delete(set, inst.id)
		if len(set) == 0 {
			delete(r.mounts, connID)
		}
	}
	r.mu.Unlock()
}

// DispatchAction routes a CALL_ACTION to the owning instance's serial queue.
// The allow-list and auth checks run on the queue too, so every outcome for
// one instance reaches the client in arrival order.
func (r *Registry) DispatchAction(ctx context.Context, conn Conn, env *protocol.Envelope) {
	inst, werr := r.ownedInstance(conn, env.ComponentID)
	if werr != nil {
		r.sendError(conn, env.ComponentID, env.RequestID, werr.Code, werr.Message)
		return
	}

	ok := inst.enqueue(func() {
		r.runAction(ctx, inst, env)
	})
	if !ok {
		code := protocol.CodeActionFailed
		msg := "action queue saturated"
		if !inst.isLive() {
			code = protocol.CodeComponentNotFound
			msg = "component is gone"
		}
		r.sendError(conn, env.ComponentID, env.RequestID, code, msg)
	}
}

func (r *Registry) runAction(ctx context.Context, inst *Instance, env *protocol.Envelope) {
	if !inst.def.ActionPublic(env.Action) {
		inst.respondError(env.RequestID, protocol.CodeActionNotPublic, fmt.Sprintf("action %q is not public", env.Action))
		return
	}
	if werr := r.gate.CheckAction(inst.def, env.Action, inst.AuthContext()); werr != nil {
		inst.respondError(env.RequestID, werr.Code, werr.Message)
		return
	}

	inst.beginBatch()
	result, err := r.invokeAction(ctx, inst, env.Action, env.Payload)
	inst.endBatch()

	if err != nil {
		var werr *protocol.WireError
		if errors.As(err, &werr) {
			inst.respondError(env.RequestID, werr.Code, werr.Message)
			return
		}
		inst.log.Error().
			Err(err).
			Str("action", env.Action).
			Str("requestId", env.RequestID).
			Str("userId", inst.userID).
			Msg("action failed")
		inst.respondError(env.RequestID, protocol.CodeActionFailed, r.clientMessage(err))
		return
	}

	if env.ExpectResponse {
		frame, ferr := protocol.NewActionResponseFrame(inst.id, env.RequestID, result)
		if ferr != nil {
			inst.respondError(env.RequestID, protocol.CodeInternal, "response serialization failed")
			return
		}
		inst.conn.SendResponse(frame)
	}
}

// invokeAction calls the component handler with panic isolation. A panicking
// handler fails only its own action; the instance and connection survive.
func (r *Registry) invokeAction(ctx context.Context, inst *Instance, action string, payload json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			inst.log.Error().
				Str("action", action).
				Any("panic", rec).
				Msg("action handler panicked")
			err = fmt.Errorf("action handler panicked: %v", rec)
		}
	}()
	return inst.comp.HandleAction(ctx, inst, action, payload)
}

// DispatchProperty routes a PROPERTY_UPDATE as the synthetic setValue action:
// same queue, same auth discipline, key validated against the declared state
// shape.
func (r *Registry) DispatchProperty(conn Conn, env *protocol.Envelope) {
	inst, werr := r.ownedInstance(conn, env.ComponentID)
	if werr != nil {
		r.sendError(conn, env.ComponentID, env.RequestID, werr.Code, werr.Message)
		return
	}

	var p protocol.PropertyPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeInvalidPayload, "malformed property payload")
		return
	}

	ok := inst.enqueue(func() {
		r.runPropertyUpdate(inst, env, p)
	})
	if !ok {
		r.sendError(conn, env.ComponentID, env.RequestID, protocol.CodeComponentNotFound, "component is gone")
	}
}

func (r *Registry) runPropertyUpdate(inst *Instance, env *protocol.Envelope, p protocol.PropertyPayload) {
	if !inst.def.HasStateKey(p.Key) {
		inst.respondError(env.RequestID, protocol.CodeInvalidPayload, fmt.Sprintf("unknown state key %q", p.Key))
		return
	}
	if werr := r.gate.CheckAction(inst.def, "setValue", inst.AuthContext()); werr != nil {
		inst.respondError(env.RequestID, werr.Code, werr.Message)
		return
	}

	var value any
	if err := json.Unmarshal(p.Value, &value); err != nil {
		inst.respondError(env.RequestID, protocol.CodeInvalidPayload, "malformed property value")
		return
	}

	inst.beginBatch()
	inst.SetState(State{p.Key: value})
	inst.endBatch()

	if env.ExpectResponse {
		r.sendResponse(inst.conn, inst.id, env.RequestID, map[string]any{"key": p.Key, "value": value})
	}
}

// HandleAuth validates an AUTH frame's token against the guard. On success
// the connection's auth context is replaced and every mounted instance whose
// component observes auth changes is notified on its serial queue. On any
// failure the prior context is preserved.
func (r *Registry) HandleAuth(ctx context.Context, conn Conn, env *protocol.Envelope) {
	var p protocol.AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		r.sendError(conn, protocol.System, env.RequestID, protocol.CodeInvalidPayload, "malformed auth payload")
		return
	}

	authCtx, err := auth.ValidateWithTimeout(ctx, r.guard, p.Token, r.guardTimeout)
	if err != nil {
		if errors.Is(err, auth.ErrGuardTimeout) {
			r.sendError(conn, protocol.System, env.RequestID, protocol.CodeAuthTimeout, "guard validation timed out")
			return
		}
		r.sendError(conn, protocol.System, env.RequestID, protocol.CodeAuthInvalid, "invalid token")
		return
	}

	conn.SetAuthContext(authCtx)

	r.mu.RLock()
	mounted := make([]*Instance, 0, len(r.mounts[conn.ID()]))
	for _, inst := range r.mounts[conn.ID()] {
		mounted = append(mounted, inst)
	}
	r.mu.RUnlock()

	for _, inst := range mounted {
		obs, ok := inst.comp.(AuthObserver)
		if !ok {
			continue
		}
		inst.enqueue(func() {
			inst.beginBatch()
			obs.AuthChanged(inst, authCtx)
			inst.endBatch()
		})
	}

	if frame, ferr := protocol.NewAuthAckFrame(env.RequestID, authCtx.Subject); ferr == nil {
		conn.SendResponse(frame)
	}
}

// CleanupConnection unmounts everything the connection had mounted, with
// outbound frames suppressed since the socket is gone. Final room events from
// destroy hooks still fan out to surviving members.
func (r *Registry) CleanupConnection(conn Conn) {
	r.mu.Lock()
	set := r.mounts[conn.ID()]
	delete(r.mounts, conn.ID())
	for id := range set {
		delete(r.instances, id)
	}
	r.mu.Unlock()

	for _, inst := range set {
		inst.suppressFrames()
		inst.destroy()
	}

	if len(set) > 0 {
		r.log.Debug().Str("connectionId", conn.ID()).Int("instances", len(set)).Msg("connection cleaned up")
	}
}

// InstanceCount returns the number of live instances of one component type.
func (r *Registry) InstanceCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, inst := range r.instances {
		if inst.name == name {
			n++
		}
	}
	return n
}

// ownedInstance resolves a componentId to an instance owned by conn. Foreign
// instances are indistinguishable from missing ones.
func (r *Registry) ownedInstance(conn Conn, componentID string) (*Instance, *protocol.WireError) {
	r.mu.RLock()
	inst, ok := r.instances[componentID]
	r.mu.RUnlock()
	if !ok || inst.conn.ID() != conn.ID() {
		return nil, protocol.Errf(protocol.CodeComponentNotFound, "unknown component instance %q", componentID)
	}
	return inst, nil
}

// clientMessage maps an internal error to the message sent to the client:
// the real error in development, a generic one in production.
func (r *Registry) clientMessage(err error) string {
	if r.development {
		return err.Error()
	}
	return "action failed"
}

func (r *Registry) sendError(conn Conn, componentID, responseID string, code protocol.Code, message string) {
	frame, err := protocol.NewErrorFrame(componentID, responseID, code, message)
	if err != nil {
		r.log.Error().Err(err).Msg("error frame marshal failed")
		return
	}
	conn.SendResponse(frame)
}

func (r *Registry) sendResponse(conn Conn, componentID, responseID string, result any) {
	frame, err := protocol.NewActionResponseFrame(componentID, responseID, result)
	if err != nil {
		r.log.Error().Err(err).Msg("response frame marshal failed")
		return
	}
	conn.SendResponse(frame)
}
