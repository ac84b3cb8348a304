// Package api contains the HTTP handlers: auth endpoints, room injection and
// stats, the WebSocket upgrade, and health.
package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/config"
	"github.com/fluxstack/fluxlive/internal/httputil"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// AuthHandler serves the authentication endpoints.
type AuthHandler struct {
	svc   *auth.Service
	guard auth.Guard
	cfg   *config.Config
	log   zerolog.Logger
}

// NewAuthHandler creates an auth handler. The guard resolves bearer tokens and
// session cookies for GET /auth/me.
func NewAuthHandler(svc *auth.Service, guard auth.Guard, cfg *config.Config, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, guard: guard, cfg: cfg, log: logger.With().Str("component", "api.auth").Logger()}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User        any    `json:"user"`
	AccessToken string `json:"accessToken"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "invalid request body")
	}

	result, err := h.svc.Register(c, auth.RegisterRequest{
		Email:    body.Email,
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	h.setSessionCookie(c, result.SessionID)
	return httputil.SuccessStatus(c, fiber.StatusCreated, authResponse{User: result.User, AccessToken: result.AccessToken})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "invalid request body")
	}

	result, err := h.svc.Login(c, auth.LoginRequest{
		Email:    body.Email,
		Password: body.Password,
		IP:       c.IP(),
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	h.setSessionCookie(c, result.SessionID)
	return httputil.Success(c, authResponse{User: result.User, AccessToken: result.AccessToken})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	if sessionID := c.Cookies(h.cfg.SessionCookieName); sessionID != "" {
		if err := h.svc.Logout(c, sessionID); err != nil {
			h.log.Warn().Err(err).Msg("session delete failed")
		}
	}
	h.clearSessionCookie(c)
	return httputil.Success(c, fiber.Map{"loggedOut": true})
}

// Me handles GET /api/v1/auth/me. It accepts a bearer token or the session
// cookie.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		token = c.Cookies(h.cfg.SessionCookieName)
	}
	if token == "" {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.CodeAuthRequired, "authentication required")
	}

	authCtx, err := h.guard.Validate(c, token)
	if err != nil {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.CodeAuthInvalid, "invalid or expired credentials")
	}

	return httputil.Success(c, authCtx)
}

func bearerToken(c fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

func (h *AuthHandler) setSessionCookie(c fiber.Ctx, sessionID string) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionID,
		Expires:  time.Now().Add(h.cfg.SessionLifetime),
		HTTPOnly: true,
		Secure:   !h.cfg.IsDevelopment(),
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

func (h *AuthHandler) clearSessionCookie(c fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   !h.cfg.IsDevelopment(),
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

// mapAuthError converts service sentinel errors into structured HTTP
// responses. Unexpected errors are logged and masked.
func (h *AuthHandler) mapAuthError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrUsernameLength),
		errors.Is(err, auth.ErrUsernameInvalidChars),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken):
		return httputil.Fail(c, fiber.StatusConflict, protocol.CodeInvalidPayload, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.CodeAuthInvalid, err.Error())
	case errors.Is(err, auth.ErrRateLimited):
		return httputil.Fail(c, fiber.StatusTooManyRequests, protocol.CodeRateLimited, err.Error())
	default:
		h.log.Error().Err(err).Msg("auth request failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.CodeInternal, "an internal error occurred")
	}
}
