package auth

import (
	"context"
	"time"
)

// Guard validates an opaque token presented over the wire and resolves it into
// an AuthContext. Implementations may block on I/O (session lookups, remote
// identity providers); callers bound them with ValidateWithTimeout.
type Guard interface {
	Validate(ctx context.Context, token string) (*Context, error)
}

// JWTGuard validates bearer JWTs minted by this server.
type JWTGuard struct {
	secret string
	issuer string
}

// NewJWTGuard creates a guard that validates HS256 tokens against the given
// secret and issuer.
func NewJWTGuard(secret, issuer string) *JWTGuard {
	return &JWTGuard{secret: secret, issuer: issuer}
}

// Validate implements Guard.
func (g *JWTGuard) Validate(_ context.Context, token string) (*Context, error) {
	claims, err := ValidateAccessToken(token, g.secret, g.issuer)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Context{
		Subject:       claims.Subject,
		Roles:         claims.Roles,
		Permissions:   claims.Permissions,
		Authenticated: true,
	}, nil
}

// guardResult pairs a Validate return for delivery over a channel.
type guardResult struct {
	authCtx *Context
	err     error
}

// ValidateWithTimeout runs the guard with a deadline. On expiry it returns
// ErrGuardTimeout; the guard's goroutine is abandoned to finish against the
// cancelled context.
func ValidateWithTimeout(ctx context.Context, g Guard, token string, timeout time.Duration) (*Context, error) {
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan guardResult, 1)
	go func() {
		ac, err := g.Validate(vctx, token)
		ch <- guardResult{authCtx: ac, err: err}
	}()

	select {
	case <-vctx.Done():
		return nil, ErrGuardTimeout
	case res := <-ch:
		return res.authCtx, res.err
	}
}
