package auth

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// IsValidUsername reports whether username is 3-64 characters of letters,
// digits, dots, hyphens and underscores.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidatePassword checks a new plaintext password.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	return nil
}

// Role is a user's authorisation tier.
type Role string

const (
	// RoleOperator works on assigned machines only.
	RoleOperator Role = "operator"

	// RoleAdmin manages machines, tools and users and sees every machine.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles a user account may have.
var ValidRoles = []Role{RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// User is a login account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SeesAllMachines reports whether machine assignments are ignored for u.
func (u *User) SeesAllMachines() bool {
	return u != nil && u.Role == RoleAdmin
}

// MachineGrant is one row of a user's machine assignment.
type MachineGrant struct {
	UserID    string    `json:"user_id"`
	MachineID string    `json:"machine_id"`
	GrantedBy string    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserInactive       = errors.New("auth: user account is inactive")
	ErrUsernameExists     = errors.New("auth: username already exists")
	ErrInvalidUsername    = errors.New("auth: invalid username")
	ErrWeakPassword       = errors.New("auth: password too short")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: insufficient permissions")
	ErrSelfModification   = errors.New("auth: cannot modify own account in this way")
	ErrUnknownMachine     = errors.New("auth: unknown machine in assignment")
)
