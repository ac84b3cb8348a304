package live

import (
	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// Gate evaluates the declarative auth policies attached to components and
// actions against a connection's auth context.
type Gate struct {
	// adminEscapeHatch lets the literal "admin" permission satisfy any
	// permission requirement. Off unless the deployment enables it.
	adminEscapeHatch bool
}

// NewGate creates a gate. adminEscapeHatch enables the "admin" permission
// override.
func NewGate(adminEscapeHatch bool) *Gate {
	return &Gate{adminEscapeHatch: adminEscapeHatch}
}

// CheckMount evaluates the component-level policy for a mount attempt.
func (g *Gate) CheckMount(def *Definition, authCtx *auth.Context) *protocol.WireError {
	return g.check(def.Auth, authCtx)
}

// CheckAction evaluates the policy for one action. A missing per-action entry
// inherits the component policy.
func (g *Gate) CheckAction(def *Definition, action string, authCtx *auth.Context) *protocol.WireError {
	policy, ok := def.ActionAuth[action]
	if !ok {
		policy = def.Auth
	}
	return g.check(policy, authCtx)
}

func (g *Gate) check(policy Policy, authCtx *auth.Context) *protocol.WireError {
	if policy.empty() {
		return nil
	}
	if authCtx == nil || !authCtx.Authenticated {
		return protocol.Errf(protocol.CodeAuthRequired, "authentication required")
	}
	if !authCtx.HasAllRoles(policy.Roles) {
		return protocol.Errf(protocol.CodeAuthDenied, "missing required role")
	}
	if !authCtx.HasAllPermissions(policy.Permissions, g.adminEscapeHatch) {
		return protocol.Errf(protocol.CodeAuthDenied, "missing required permission")
	}
	return nil
}
