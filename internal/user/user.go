// Package user holds the account model and repository used by the auth
// surface and by guards resolving websocket identities.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a user cannot be located.
	ErrNotFound = errors.New("user not found")
	// ErrAlreadyExists is returned when the email or username is taken.
	ErrAlreadyExists = errors.New("user already exists")
)

// User is an account row. PasswordHash never leaves the server; ToModel
// strips it before the struct is serialized toward a client.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	Permissions  []string  `json:"permissions"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Model is the client-facing view of a user.
type Model struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ToModel converts a User into its client-facing representation.
func (u *User) ToModel() Model {
	return Model{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		Roles:       u.Roles,
		Permissions: u.Permissions,
		CreatedAt:   u.CreatedAt,
	}
}

// Repository abstracts user persistence.
type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}
