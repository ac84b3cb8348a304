package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/fluxstack/fluxlive/internal/config"
)

// PasswordParams bundles the argon2id cost parameters. Hashes created under
// one parameter set verify fine under another; NeedsRehash is how old hashes
// migrate to the current set.
type PasswordParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordParamsFromConfig extracts the configured argon2id parameters.
func PasswordParamsFromConfig(cfg *config.Config) PasswordParams {
	return PasswordParams{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  cfg.Argon2SaltLength,
		KeyLength:   cfg.Argon2KeyLength,
	}
}

// HashPassword derives an argon2id hash of password under p.
func HashPassword(password string, p PasswordParams) (string, error) {
	hash, err := argon2id.CreateHash(password, &argon2id.Params{
		Memory:      p.Memory,
		Iterations:  p.Iterations,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	})
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(password, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	return match, nil
}

// NeedsRehash reports whether hash was produced under parameters other than
// p. Undecodable hashes return false; those fail verification instead.
func NeedsRehash(hash string, p PasswordParams) bool {
	decoded, salt, key, err := argon2id.DecodeHash(hash)
	if err != nil {
		return false
	}
	return decoded.Memory != p.Memory ||
		decoded.Iterations != p.Iterations ||
		decoded.Parallelism != p.Parallelism ||
		uint32(len(salt)) != p.SaltLength ||
		uint32(len(key)) != p.KeyLength
}
