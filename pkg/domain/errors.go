package domain

import "errors"

// Authentication errors
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUserAlreadyExists     = errors.New("user already exists")
	ErrUserCodeTaken         = errors.New("user code already taken")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account locked due to too many failed login attempts")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrSessionRevoked        = errors.New("session revoked")
	ErrInvalidToken          = errors.New("invalid token")
	ErrIdentityNotFound      = errors.New("identity not found")
	ErrIdentityAlreadyLinked = errors.New("identity already linked to another user")
)

// Auth method errors
var (
	ErrAuthMethodNotFound      = errors.New("auth method not found")
	ErrInvalidAuthMethod       = errors.New("invalid auth method")
	ErrPasswordAuthUnavailable = errors.New("password authentication not available")
	ErrVerifierUnavailable     = errors.New("credential verifier unavailable")
	ErrLastAuthMethod          = errors.New("cannot remove the only auth method")
)

// Lock errors
var (
	ErrSessionLocked        = errors.New("session locked")
	ErrNotLocked            = errors.New("session is not locked")
	ErrUnlockBlocked        = errors.New("unlock blocked after too many failed attempts")
	ErrVerificationInFlight = errors.New("verification already in progress")
	ErrWrongUnlockMethod    = errors.New("unlock method not allowed for this session")
	ErrIllegalTransition    = errors.New("illegal lock state transition")
	ErrSignedOut            = errors.New("session signed out")
)

// OAuth errors
var (
	ErrOAuthStateNotFound = errors.New("oauth state not found or expired")
	ErrOAuthProvider      = errors.New("oauth provider error")
	ErrIdentityMismatch   = errors.New("federated identity does not match locked identity")
)

// Tenant errors
var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrNoTenants          = errors.New("identity has no available tenants")
	ErrTenantForbidden    = errors.New("tenant not available to identity")
)

// Storage errors
var (
	ErrStorageUnavailable = errors.New("storage backend unavailable")
	ErrKeyNotFound        = errors.New("key not found")
)

// Validation errors
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrWeakPassword = errors.New("password does not meet requirements")
)
