package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an identity, independent of the method used to sign in.
type User struct {
	ID                  uuid.UUID
	Email               string
	EmailVerified       bool
	Name                *string
	FirstName           string
	LastName            string
	UserCode            string
	IsAdmin             bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsLocked returns true if the account is currently locked.
func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}

// DisplayName returns the best available name for the user.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}

// UserPassword stores password credentials separately from user profile.
type UserPassword struct {
	UserID            uuid.UUID
	PasswordHash      string
	PasswordUpdatedAt time.Time
}

// UserIdentity stores external identities (Google, etc.).
type UserIdentity struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Provider        string
	ProviderSubject string
	Email           *string
	CreatedAt       time.Time
}

// IdentityProvider constants
const (
	ProviderGoogle = "google"
)
