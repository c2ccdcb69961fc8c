package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

const (
	DefaultAdminUsername = "admin"
	seedPasswordBytes    = 12
)

// SeedAdmin creates the first admin account when no users exist. An empty
// username takes DefaultAdminUsername. When password is empty a random one
// is generated and logged once. It returns the password used, or "" when
// users already existed.
func SeedAdmin(ctx context.Context, users UserRepository, username, password string, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	if username == "" {
		username = DefaultAdminUsername
	}
	if !IsValidUsername(username) {
		return "", ErrInvalidUsername
	}

	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
	}
	if err := ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}
	admin := &User{
		Username:     username,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated {
		logger.Warn("seed admin account created",
			"username", username,
			"password", password,
			"action_required", "change this password after first login",
		)
	} else {
		logger.Info("seed admin account created", "username", username)
	}
	return password, nil
}
