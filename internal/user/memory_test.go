package user

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryRepositoryCreateAndGet(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, &User{
		Email:    "a@example.com",
		Username: "alice",
		Roles:    []string{"user"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == uuid.Nil {
		t.Error("Create() did not assign an id")
	}
	if created.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}

	byID, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Email != "a@example.com" {
		t.Errorf("email = %q", byID.Email)
	}

	byEmail, err := repo.GetByEmail(ctx, "A@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if byEmail.ID != created.ID {
		t.Error("GetByEmail() resolved a different user")
	}
}

func TestMemoryRepositoryUniqueness(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Create(ctx, &User{Email: "a@example.com", Username: "alice"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Create(ctx, &User{Email: "A@example.com", Username: "other"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate email error = %v, want ErrAlreadyExists", err)
	}
	if _, err := repo.Create(ctx, &User{Email: "b@example.com", Username: "ALICE"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate username error = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryRepositoryClonesResults(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, &User{Email: "a@example.com", Username: "alice", Roles: []string{"user"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	created.Roles[0] = "tampered"
	reloaded, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if reloaded.Roles[0] != "user" {
		t.Error("mutating a returned user leaked into the store")
	}
}

func TestMemoryRepositoryListDeleteUpdate(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	u1, _ := repo.Create(ctx, &User{Email: "a@example.com", Username: "alice"})
	u2, _ := repo.Create(ctx, &User{Email: "b@example.com", Username: "bob"})

	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("List() returned %d users, want 2", len(users))
	}

	if err := repo.Delete(ctx, u1.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, u1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	if err := repo.UpdatePasswordHash(ctx, u2.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}
	reloaded, _ := repo.GetByID(ctx, u2.ID)
	if reloaded.PasswordHash != "new-hash" {
		t.Errorf("hash = %q, want new-hash", reloaded.PasswordHash)
	}
	if err := repo.UpdatePasswordHash(ctx, u1.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePasswordHash() on deleted user error = %v, want ErrNotFound", err)
	}
}

func TestToModelOmitsPasswordHash(t *testing.T) {
	t.Parallel()

	u := &User{
		ID:           uuid.New(),
		Email:        "a@example.com",
		Username:     "alice",
		PasswordHash: "secret",
		Roles:        []string{"user"},
	}
	m := u.ToModel()
	if m.Email != u.Email || m.Username != u.Username || m.ID != u.ID {
		t.Errorf("ToModel() = %+v", m)
	}
}
