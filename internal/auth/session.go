package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Valkey key pattern:
//
//	session:{id} → JSON sessionData (STRING with TTL)

func sessionKey(id string) string {
	return "session:" + id
}

// sessionData is the JSON structure persisted in Valkey for an HTTP session.
type sessionData struct {
	Subject     string   `json:"subject"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

// SessionStore manages cookie-backed HTTP sessions in Valkey. Sessions expire
// after the configured lifetime; reads refresh the TTL so active users stay
// logged in.
type SessionStore struct {
	rdb      *redis.Client
	lifetime time.Duration
}

// NewSessionStore creates a session store backed by the given Valkey client.
func NewSessionStore(rdb *redis.Client, lifetime time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, lifetime: lifetime}
}

// Create persists a new session for the given identity and returns its id.
func (s *SessionStore) Create(ctx context.Context, authCtx *Context) (string, error) {
	id := uuid.New().String()
	data, err := json.Marshal(sessionData{
		Subject:     authCtx.Subject,
		Roles:       authCtx.Roles,
		Permissions: authCtx.Permissions,
		CreatedAt:   time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(id), data, s.lifetime).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

// Get loads a session and slides its expiry. Returns ErrSessionNotFound when
// the session does not exist or has expired.
func (s *SessionStore) Get(ctx context.Context, id string) (*Context, error) {
	raw, err := s.rdb.GetEx(ctx, sessionKey(id), s.lifetime).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sd sessionData
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &Context{
		Subject:       sd.Subject,
		Roles:         sd.Roles,
		Permissions:   sd.Permissions,
		Authenticated: true,
	}, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SessionGuard resolves session ids presented as gateway tokens. It lets
// browser clients authenticate the WebSocket with the same cookie value the
// HTTP surface issued.
type SessionGuard struct {
	store *SessionStore
}

// NewSessionGuard creates a guard backed by the given session store.
func NewSessionGuard(store *SessionStore) *SessionGuard {
	return &SessionGuard{store: store}
}

// Validate implements Guard.
func (g *SessionGuard) Validate(ctx context.Context, token string) (*Context, error) {
	authCtx, err := g.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return authCtx, nil
}

// ChainGuard tries each guard in order and returns the first successful
// context. Only ErrInvalidToken falls through to the next guard; transport
// errors abort immediately.
type ChainGuard struct {
	guards []Guard
}

// NewChainGuard creates a guard that accepts any token its members accept.
func NewChainGuard(guards ...Guard) *ChainGuard {
	return &ChainGuard{guards: guards}
}

// Validate implements Guard.
func (g *ChainGuard) Validate(ctx context.Context, token string) (*Context, error) {
	for _, guard := range g.guards {
		authCtx, err := guard.Validate(ctx, token)
		if err == nil {
			return authCtx, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
	}
	return nil, ErrInvalidToken
}
