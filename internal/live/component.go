// Package live implements the runtime core: the component model, mounted
// instances, the registry that routes wire messages, and the auth gate.
package live

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/fluxstack/fluxlive/internal/auth"
)

// State is a component's structured state mapping.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge applies delta on top of s and reports whether any key actually
// changed. Comparison is shallow; non-comparable values always count as a
// change.
func (s State) Merge(delta State) bool {
	changed := false
	for k, v := range delta {
		old, ok := s[k]
		if !ok || !shallowEqual(old, v) {
			changed = true
		}
		s[k] = v
	}
	return changed
}

func shallowEqual(a, b any) bool {
	defer func() { _ = recover() }()
	return a == b
}

// Policy is a declarative auth requirement attached to a component or to one
// of its actions.
type Policy struct {
	Required    bool
	Roles       []string
	Permissions []string
}

// empty reports whether the policy imposes no requirement at all.
func (p Policy) empty() bool {
	return !p.Required && len(p.Roles) == 0 && len(p.Permissions) == 0
}

// Definition declares a component type: its name, initial state shape, the
// closed set of wire-reachable actions, and its auth policies. The action
// allow-list is the only path from the wire into component code; anything not
// listed is unreachable.
type Definition struct {
	Name         string
	DefaultState State
	Actions      []string
	Auth         Policy
	ActionAuth   map[string]Policy
	New          func() Component
}

// ActionPublic reports whether the action appears in the declared allow-list.
func (d *Definition) ActionPublic(action string) bool {
	return slices.Contains(d.Actions, action)
}

// HasStateKey reports whether key is part of the declared state shape.
func (d *Definition) HasStateKey(key string) bool {
	_, ok := d.DefaultState[key]
	return ok
}

// Component is the behavior of one component type. HandleAction dispatches on
// the closed action set declared in the Definition; the registry has already
// verified the action is public and authorized before calling it. The context
// is scoped to the owning connection and cancels on disconnect.
type Component interface {
	HandleAction(ctx context.Context, inst *Instance, action string, payload json.RawMessage) (any, error)
}

// Initializer is implemented by components that register room event handlers
// or otherwise set up resources at mount time.
type Initializer interface {
	Init(inst *Instance) error
}

// Destroyer is implemented by components that release resources on unmount.
// The hook runs before the instance is marked destroyed, so a final room
// event emitted from it is still delivered.
type Destroyer interface {
	Destroy(inst *Instance)
}

// AuthObserver is implemented by components that want to react when the
// owning connection re-authenticates mid-session.
type AuthObserver interface {
	AuthChanged(inst *Instance, authCtx *auth.Context)
}
