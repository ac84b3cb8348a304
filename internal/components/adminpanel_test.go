package components

import (
	"context"
	"fmt"
	"testing"

	"github.com/fluxstack/fluxlive/internal/audit"
	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/protocol"
	"github.com/fluxstack/fluxlive/internal/user"
)

func adminContext(perms ...string) *auth.Context {
	return &auth.Context{
		Subject:       "admin-1",
		Roles:         []string{"admin"},
		Permissions:   perms,
		Authenticated: true,
	}
}

func seedUsers(t *testing.T, repo *user.MemoryRepository, n int) []*user.User {
	t.Helper()
	out := make([]*user.User, 0, n)
	for i := 0; i < n; i++ {
		u, err := repo.Create(context.Background(), &user.User{
			Email:    fmt.Sprintf("user%d@example.com", i),
			Username: fmt.Sprintf("user%d", i),
			Roles:    []string{"user"},
		})
		if err != nil {
			t.Fatalf("seed user %d: %v", i, err)
		}
		out = append(out, u)
	}
	return out
}

func TestAdminPanelMountRequiresAdminRole(t *testing.T) {
	t.Parallel()

	repo := user.NewMemoryRepository()
	rt := newComponentRuntime(t, NewAdminPanelDefinition(repo, audit.NewMemoryRecorder()))

	anon := newTestConn("c1")
	mount(t, rt, anon, "panel-1", "AdminPanel", "")
	if n := rt.Registry.InstanceCount("AdminPanel"); n != 0 {
		t.Errorf("anonymous mount created %d instances", n)
	}

	plain := newTestConn("c2")
	plain.SetAuthContext(&auth.Context{Subject: "u1", Roles: []string{"user"}, Authenticated: true})
	mount(t, rt, plain, "panel-2", "AdminPanel", "")
	if n := rt.Registry.InstanceCount("AdminPanel"); n != 0 {
		t.Errorf("non-admin mount created %d instances", n)
	}

	admin := newTestConn("c3")
	admin.SetAuthContext(adminContext())
	mount(t, rt, admin, "panel-3", "AdminPanel", "")
	if n := rt.Registry.InstanceCount("AdminPanel"); n != 1 {
		t.Errorf("admin mount: InstanceCount = %d, want 1", n)
	}
}

func TestLoadUsersPopulatesState(t *testing.T) {
	t.Parallel()

	repo := user.NewMemoryRepository()
	seedUsers(t, repo, 3)
	rt := newComponentRuntime(t, NewAdminPanelDefinition(repo, audit.NewMemoryRecorder()))

	conn := newTestConn("c1")
	conn.SetAuthContext(adminContext())
	mount(t, rt, conn, "panel-1", "AdminPanel", "")

	callAction(rt, conn, "panel-1", "loadUsers", "rq-1", "")

	responses := conn.waitResponses(t, 1)
	if result := resultOf(t, responses[0]); result["count"] != float64(3) {
		t.Errorf("loadUsers count = %v, want 3", result["count"])
	}

	waitFor(t, func() bool {
		return len(conn.framesOfKind(protocol.KindStateUpdate)) >= 2
	}, "no STATE_UPDATE after loadUsers")
}

func TestDeleteUserRequiresPermission(t *testing.T) {
	t.Parallel()

	repo := user.NewMemoryRepository()
	seeded := seedUsers(t, repo, 1)
	rt := newComponentRuntime(t, NewAdminPanelDefinition(repo, audit.NewMemoryRecorder()))

	// Admin role alone is not enough for deleteUser.
	conn := newTestConn("c1")
	conn.SetAuthContext(adminContext())
	mount(t, rt, conn, "panel-1", "AdminPanel", "")

	callAction(rt, conn, "panel-1", "deleteUser", "rq-1", fmt.Sprintf(`{"userId":%q}`, seeded[0].ID))

	responses := conn.waitResponses(t, 1)
	if responses[0].Kind != protocol.KindError {
		t.Fatalf("kind = %q, want ERROR", responses[0].Kind)
	}
	if _, err := repo.GetByID(context.Background(), seeded[0].ID); err != nil {
		t.Error("user deleted despite missing permission")
	}
}

func TestDeleteUserRemovesAndAudits(t *testing.T) {
	t.Parallel()

	repo := user.NewMemoryRepository()
	seeded := seedUsers(t, repo, 2)
	recorder := audit.NewMemoryRecorder()
	rt := newComponentRuntime(t, NewAdminPanelDefinition(repo, recorder))

	conn := newTestConn("c1")
	conn.SetAuthContext(adminContext("users.delete"))
	mount(t, rt, conn, "panel-1", "AdminPanel", "")

	callAction(rt, conn, "panel-1", "deleteUser", "rq-1", fmt.Sprintf(`{"userId":%q}`, seeded[0].ID))

	responses := conn.waitResponses(t, 1)
	if result := resultOf(t, responses[0]); result["deleted"] != true {
		t.Errorf("deleteUser result = %v, want deleted true", result)
	}

	if _, err := repo.GetByID(context.Background(), seeded[0].ID); err == nil {
		t.Error("user still present after delete")
	}
	if _, err := repo.GetByID(context.Background(), seeded[1].ID); err != nil {
		t.Error("unrelated user removed")
	}

	entries := recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Actor != "admin-1" || e.Action != "user.delete" || e.Target != seeded[0].ID.String() {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestDeleteUserErrors(t *testing.T) {
	t.Parallel()

	repo := user.NewMemoryRepository()
	recorder := audit.NewMemoryRecorder()
	rt := newComponentRuntime(t, NewAdminPanelDefinition(repo, recorder))

	conn := newTestConn("c1")
	conn.SetAuthContext(adminContext("users.delete"))
	mount(t, rt, conn, "panel-1", "AdminPanel", "")

	callAction(rt, conn, "panel-1", "deleteUser", "rq-1", `{"userId":"not-a-uuid"}`)
	callAction(rt, conn, "panel-1", "deleteUser", "rq-2", `{"userId":"3e2f0d33-41a4-4c2b-8e55-000000000000"}`)

	responses := conn.waitResponses(t, 2)
	for i, want := range []protocol.MessageKind{protocol.KindError, protocol.KindError} {
		if responses[i].Kind != want {
			t.Errorf("response %d kind = %q, want %q", i, responses[i].Kind, want)
		}
	}
	if n := len(recorder.Entries()); n != 0 {
		t.Errorf("audit entries = %d, want 0 for failed deletes", n)
	}
}
