package auth

import (
	"context"
	"errors"
	"sync"
)

// dummyHash is verified for unknown usernames so both failure paths cost
// one Argon2id derivation.
var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("dummy-password") //nolint:errcheck // timing only
	return h
})

// Authenticate checks username and password. Unknown users and wrong
// passwords both return ErrInvalidCredentials; a deactivated account
// returns ErrUserInactive once the password matched.
func Authenticate(ctx context.Context, users UserRepository, username, password string) (*User, error) {
	user, err := users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyPassword(password, dummyHash()) //nolint:errcheck // timing only
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}
