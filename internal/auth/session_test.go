package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, &Context{
		Subject:       "u1",
		Roles:         []string{"user"},
		Permissions:   []string{"rooms.post"},
		Authenticated: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Authenticated || got.Subject != "u1" {
		t.Errorf("Get() = %+v, want authenticated u1", got)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "user" {
		t.Errorf("Roles = %v, want [user]", got.Roles)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != "rooms.post" {
		t.Errorf("Permissions = %v, want [rooms.post]", got.Permissions)
	}
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	store := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, &Context{Subject: "u1", Authenticated: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionGetSlidesExpiry(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	store := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, &Context{Subject: "u1", Authenticated: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Read just before expiry; the TTL should slide and keep the session alive
	// past the original deadline.
	mr.FastForward(50 * time.Second)
	if _, err := store.Get(ctx, id); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}
	mr.FastForward(50 * time.Second)
	if _, err := store.Get(ctx, id); err != nil {
		t.Errorf("Get() after slide error = %v, want session still alive", err)
	}
}

func TestSessionDelete(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, &Context{Subject: "u1", Authenticated: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete() of missing session error = %v, want nil", err)
	}
}

func TestSessionGuard(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	guard := NewSessionGuard(store)
	ctx := context.Background()

	id, err := store.Create(ctx, &Context{Subject: "u1", Authenticated: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	authCtx, err := guard.Validate(ctx, id)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if authCtx.Subject != "u1" {
		t.Errorf("Subject = %q, want u1", authCtx.Subject)
	}

	if _, err := guard.Validate(ctx, "unknown-session"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown session error = %v, want ErrInvalidToken", err)
	}
}
