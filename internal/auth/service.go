package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/config"
	"github.com/fluxstack/fluxlive/internal/user"
)

// Service implements authentication business logic, keeping HTTP handlers
// thin and focused on request parsing and response formatting.
type Service struct {
	users    user.Repository
	sessions *SessionStore
	throttle *Throttle
	cfg      *config.Config
	pwParams PasswordParams
	log      zerolog.Logger
	// dummyHash is a precomputed argon2id hash used to keep login timing
	// constant when a user is not found, preventing email enumeration via
	// response-time analysis.
	dummyHash string
}

// NewService creates an authentication service.
func NewService(users user.Repository, sessions *SessionStore, throttle *Throttle, cfg *config.Config, logger zerolog.Logger) *Service {
	params := PasswordParamsFromConfig(cfg)
	// Precompute the dummy hash so VerifyPassword always runs against a real
	// argon2id hash even when the user does not exist.
	dummy, err := HashPassword("fluxlive-dummy-password", params)
	if err != nil {
		dummy = "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0$placeholder"
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		throttle:  throttle,
		cfg:       cfg,
		pwParams:  params,
		log:       logger.With().Str("component", "auth").Logger(),
		dummyHash: dummy,
	}
}

// RegisterRequest is the input for Service.Register.
type RegisterRequest struct {
	Email    string
	Username string
	Password string
}

// LoginRequest is the input for Service.Login.
type LoginRequest struct {
	Email    string
	Password string
	IP       string
}

// AuthResult is the output of Register and Login: the user, a bearer token
// for the gateway, and the id of the HTTP session backing the cookie.
type AuthResult struct {
	User        user.Model
	AccessToken string
	SessionID   string
}

// Register validates inputs, hashes the password, and creates the user.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.pwParams)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.users.Create(ctx, &user.User{
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
		Roles:        []string{"user"},
		Permissions:  []string{},
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issue(ctx, created)
}

// Login verifies credentials under the per-key throttle and issues a token
// and session. The throttle key combines email and caller IP so one abusive
// address cannot lock a victim out entirely.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	allowed, err := s.throttle.Allow(ctx, email+":"+req.IP)
	if err != nil {
		return nil, fmt.Errorf("login throttle: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Burn the same hashing cost as a real verification.
			_, _ = VerifyPassword(req.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	match, err := VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(u.PasswordHash, s.pwParams) {
		if hash, herr := HashPassword(req.Password, s.pwParams); herr == nil {
			if uerr := s.users.UpdatePasswordHash(ctx, u.ID, hash); uerr != nil {
				s.log.Warn().Err(uerr).Str("userId", u.ID.String()).Msg("password rehash failed")
			}
		}
	}

	if err := s.throttle.Reset(ctx, email+":"+req.IP); err != nil {
		s.log.Warn().Err(err).Msg("throttle reset failed")
	}

	return s.issue(ctx, u)
}

// Logout destroys the HTTP session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// Identify resolves a session id into an auth context.
func (s *Service) Identify(ctx context.Context, sessionID string) (*Context, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *Service) issue(ctx context.Context, u *user.User) (*AuthResult, error) {
	token, err := NewAccessToken(u.ID, u.Roles, u.Permissions, s.cfg.JWTSecret, s.cfg.JWTAccessTTL, s.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	sessionID, err := s.sessions.Create(ctx, &Context{
		Subject:       u.ID.String(),
		Roles:         u.Roles,
		Permissions:   u.Permissions,
		Authenticated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &AuthResult{User: u.ToModel(), AccessToken: token, SessionID: sessionID}, nil
}
