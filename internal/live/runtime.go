package live

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/protocol"
	"github.com/fluxstack/fluxlive/internal/room"
)

// Options configure a Runtime.
type Options struct {
	Guard            auth.Guard
	GuardTimeout     time.Duration
	RoomGrace        time.Duration
	MaxStateHistory  int
	AdminEscapeHatch bool
	Development      bool
}

// Runtime owns the registry, room manager, and event bus. The transport layer
// holds a reference and feeds it decoded frames; tests instantiate a private
// runtime per case.
type Runtime struct {
	Registry *Registry
	Rooms    *room.Manager
	Bus      *room.Bus
	log      zerolog.Logger
}

// NewRuntime wires a runtime together: rooms, bus, gate, registry, and the
// bus resolver over the registry's instance index.
func NewRuntime(opts Options, log zerolog.Logger) *Runtime {
	rooms := room.NewManager(opts.RoomGrace, log)
	bus := room.NewBus(rooms, log)
	gate := NewGate(opts.AdminEscapeHatch)
	registry := NewRegistry(gate, rooms, bus, opts.Guard, opts.GuardTimeout, opts.MaxStateHistory, opts.Development, log)
	bus.SetResolver(registry.Resolver())

	return &Runtime{
		Registry: registry,
		Rooms:    rooms,
		Bus:      bus,
		log:      log.With().Str("component", "runtime").Logger(),
	}
}

// Register adds a component definition.
func (rt *Runtime) Register(def *Definition) error {
	return rt.Registry.Register(def)
}

// HandleFrame decodes one inbound frame and routes it. Malformed frames earn
// a correlated ERROR; they never close the connection.
func (rt *Runtime) HandleFrame(ctx context.Context, conn Conn, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		werr, ok := err.(*protocol.WireError)
		if !ok {
			werr = protocol.Errf(protocol.CodeInvalidPayload, "invalid frame")
		}
		if frame, ferr := protocol.NewErrorFrame(protocol.System, "", werr.Code, werr.Message); ferr == nil {
			conn.SendResponse(frame)
		}
		return
	}

	switch env.Kind {
	case protocol.KindMount:
		rt.Registry.Mount(conn, env)
	case protocol.KindUnmount:
		rt.Registry.Unmount(conn, env)
	case protocol.KindCallAction:
		rt.Registry.DispatchAction(ctx, conn, env)
	case protocol.KindPropertyUpdate:
		rt.Registry.DispatchProperty(conn, env)
	case protocol.KindAuth:
		rt.Registry.HandleAuth(ctx, conn, env)
	}
}

// Disconnect runs registry cleanup for a closed connection.
func (rt *Runtime) Disconnect(conn Conn) {
	rt.Registry.CleanupConnection(conn)
}
