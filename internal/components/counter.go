// Package components holds the built-in live components registered by the
// server: Counter, AdminPanel, and RoomChat.
package components

import (
	"context"
	"encoding/json"

	"github.com/fluxstack/fluxlive/internal/live"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// CountChangedEvent is the room event Counter emits on every mutation.
const CountChangedEvent = "COUNT_CHANGED"

type countChangedPayload struct {
	Count         float64 `json:"count"`
	LastUpdatedBy string  `json:"lastUpdatedBy,omitempty"`
}

// Counter is a room-shared counter. Every mutation updates local state and
// broadcasts the new value; siblings adopt broadcast counts silently, since
// their clients learn the change from the BROADCAST frame itself.
type Counter struct{}

// NewCounterDefinition returns the Counter component definition.
func NewCounterDefinition() *live.Definition {
	return &live.Definition{
		Name: "Counter",
		DefaultState: live.State{
			"count":         float64(0),
			"lastUpdatedBy": "",
		},
		Actions: []string{"increment", "decrement", "reset"},
		New:     func() live.Component { return &Counter{} },
	}
}

// Init adopts counts broadcast by sibling instances in the same room.
func (c *Counter) Init(inst *live.Instance) error {
	inst.OnRoomEvent(CountChangedEvent, func(payload json.RawMessage, _ string) {
		var p countChangedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		inst.SetStateSilently(live.State{"count": p.Count, "lastUpdatedBy": p.LastUpdatedBy})
	})
	return nil
}

// HandleAction implements live.Component.
func (c *Counter) HandleAction(_ context.Context, inst *live.Instance, action string, _ json.RawMessage) (any, error) {
	var next float64
	switch action {
	case "increment":
		next = c.current(inst) + 1
	case "decrement":
		next = c.current(inst) - 1
	case "reset":
		next = 0
	default:
		return nil, protocol.Errf(protocol.CodeActionNotPublic, "unknown action %q", action)
	}

	who := inst.UserID()
	inst.EmitRoomEventWithState(CountChangedEvent,
		countChangedPayload{Count: next, LastUpdatedBy: who},
		live.State{"count": next, "lastUpdatedBy": who},
	)
	return map[string]any{"count": next}, nil
}

func (c *Counter) current(inst *live.Instance) float64 {
	v, _ := inst.Get("count")
	return asFloat(v)
}

// asFloat coerces the numeric representations that survive a JSON round trip.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
