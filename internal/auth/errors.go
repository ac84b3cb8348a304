package auth

import "errors"

// Sentinel errors for the auth package.
var (
	ErrInvalidEmail         = errors.New("invalid email format")
	ErrUsernameLength       = errors.New("username must be between 2 and 32 characters")
	ErrUsernameInvalidChars = errors.New("username may only contain letters, digits, underscores, and periods")
	ErrPasswordTooShort     = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong      = errors.New("password must be at most 128 characters")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrEmailAlreadyTaken    = errors.New("email or username already taken")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrGuardTimeout         = errors.New("guard validation timed out")
	ErrSessionNotFound      = errors.New("session not found or expired")
	ErrRateLimited          = errors.New("too many attempts, try again later")
)
