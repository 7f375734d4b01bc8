package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthMethodKind is the closed set of ways an identity can authenticate.
type AuthMethodKind string

const (
	AuthMethodPassword  AuthMethodKind = "password"
	AuthMethodFederated AuthMethodKind = "federated"
)

// DefaultAuthMethod is used when nothing else is known about an identity.
const DefaultAuthMethod = AuthMethodPassword

// Valid reports whether k is a known method.
func (k AuthMethodKind) Valid() bool {
	switch k {
	case AuthMethodPassword, AuthMethodFederated:
		return true
	}
	return false
}

func (k AuthMethodKind) String() string { return string(k) }

// ParseAuthMethodKind maps registry and provider values onto a method kind.
// Provider names ("google", "oauth") map to federated.
func ParseAuthMethodKind(s string) (AuthMethodKind, error) {
	switch s {
	case "password", "email":
		return AuthMethodPassword, nil
	case "federated", "oauth", ProviderGoogle:
		return AuthMethodFederated, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAuthMethod, s)
}

// AuthMethod is one registered method for an identity.
// Rows are soft-deleted only.
type AuthMethod struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Kind       AuthMethodKind
	Provider   string
	IsPrimary  bool
	IsDeleted  bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
