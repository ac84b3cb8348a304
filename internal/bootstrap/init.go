// Package bootstrap seeds the database on first run.
package bootstrap

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/config"
)

var sanitizeUsername = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// IsFirstRun returns true when the users table has no rows.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit seeds the initial admin account from INIT_ADMIN_EMAIL and
// INIT_ADMIN_PASSWORD. The account carries the admin role and the
// users.delete permission so the AdminPanel component is usable out of the
// box.
func RunFirstInit(ctx context.Context, db *pgxpool.Pool, cfg *config.Config) error {
	if cfg.InitAdminEmail == "" || cfg.InitAdminPassword == "" {
		return fmt.Errorf("INIT_ADMIN_EMAIL and INIT_ADMIN_PASSWORD must be set for first-run initialization")
	}

	adminEmail, err := auth.ValidateEmail(cfg.InitAdminEmail)
	if err != nil {
		return fmt.Errorf("invalid INIT_ADMIN_EMAIL: %w", err)
	}
	if err := auth.ValidatePassword(cfg.InitAdminPassword); err != nil {
		return fmt.Errorf("invalid INIT_ADMIN_PASSWORD: %w", err)
	}

	hash, err := auth.HashPassword(cfg.InitAdminPassword, auth.PasswordParamsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	// Derive username from the email local part, stripping invalid characters.
	username := adminEmail
	if idx := strings.Index(username, "@"); idx > 0 {
		username = username[:idx]
	}
	username = sanitizeUsername.ReplaceAllString(username, "")
	if err := auth.ValidateUsername(username); err != nil {
		return fmt.Errorf("derived admin username %q from email is invalid: %w", username, err)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO users (email, username, password_hash, roles, permissions)
		 VALUES ($1, $2, $3, $4, $5)`,
		adminEmail, username, hash,
		[]string{"admin", "user"}, []string{"users.delete"},
	)
	if err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}

	return nil
}
