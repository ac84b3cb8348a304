package components

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/fluxstack/fluxlive/internal/audit"
	"github.com/fluxstack/fluxlive/internal/live"
	"github.com/fluxstack/fluxlive/internal/protocol"
	"github.com/fluxstack/fluxlive/internal/user"
)

// AdminPanel exposes user administration to admin-role connections. Deleting
// a user additionally requires the users.delete permission and writes one
// audit entry.
type AdminPanel struct {
	users user.Repository
	audit audit.Recorder
}

// NewAdminPanelDefinition returns the AdminPanel component definition.
func NewAdminPanelDefinition(users user.Repository, recorder audit.Recorder) *live.Definition {
	return &live.Definition{
		Name: "AdminPanel",
		DefaultState: live.State{
			"users": []userRow{},
		},
		Actions: []string{"loadUsers", "deleteUser"},
		Auth: live.Policy{
			Required: true,
			Roles:    []string{"admin"},
		},
		ActionAuth: map[string]live.Policy{
			"deleteUser": {
				Required:    true,
				Roles:       []string{"admin"},
				Permissions: []string{"users.delete"},
			},
		},
		New: func() live.Component {
			return &AdminPanel{users: users, audit: recorder}
		},
	}
}

type userRow struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type deleteUserPayload struct {
	UserID string `json:"userId"`
}

// HandleAction implements live.Component.
func (a *AdminPanel) HandleAction(ctx context.Context, inst *live.Instance, action string, payload json.RawMessage) (any, error) {
	switch action {
	case "loadUsers":
		return a.loadUsers(ctx, inst)
	case "deleteUser":
		return a.deleteUser(ctx, inst, payload)
	default:
		return nil, protocol.Errf(protocol.CodeActionNotPublic, "unknown action %q", action)
	}
}

func (a *AdminPanel) loadUsers(ctx context.Context, inst *live.Instance) (any, error) {
	users, err := a.users.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, userRow{
			ID:       u.ID.String(),
			Email:    u.Email,
			Username: u.Username,
			Roles:    u.Roles,
		})
	}
	inst.SetState(live.State{"users": rows})
	return map[string]int{"count": len(rows)}, nil
}

func (a *AdminPanel) deleteUser(ctx context.Context, inst *live.Instance, payload json.RawMessage) (any, error) {
	var p deleteUserPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		return nil, protocol.Errf(protocol.CodeInvalidPayload, "deleteUser requires a userId")
	}
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, protocol.Errf(protocol.CodeInvalidPayload, "malformed userId")
	}

	if err := a.users.Delete(ctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, protocol.Errf(protocol.CodeActionFailed, "user %s not found", p.UserID)
		}
		return nil, err
	}

	actor := inst.AuthContext().Subject
	if err := a.audit.Record(ctx, actor, "user.delete", p.UserID, nil); err != nil {
		return nil, err
	}

	a.dropRow(inst, p.UserID)
	return map[string]bool{"deleted": true}, nil
}

// dropRow removes the user from the cached state list, if loadUsers populated
// it earlier in this mount.
func (a *AdminPanel) dropRow(inst *live.Instance, userID string) {
	v, ok := inst.Get("users")
	if !ok {
		return
	}
	rows, ok := v.([]userRow)
	if !ok {
		return
	}
	kept := make([]userRow, 0, len(rows))
	for _, r := range rows {
		if r.ID != userID {
			kept = append(kept, r)
		}
	}
	inst.SetState(live.State{"users": kept})
}
