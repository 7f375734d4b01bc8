package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/repository"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// Account lockout for full logins. Unlocking a locked session has its own
// counter.
const (
	maxFailedLoginAttempts = 5
	loginLockoutDuration   = 15 * time.Minute
)

// PasswordService handles password authentication.
type PasswordService struct {
	users           *repository.UsersRepository
	creds           *repository.CredentialsRepository
	provisioner     *Provisioner
	policy          *PasswordPolicy
	blockDisposable bool
}

// NewPasswordService creates a new password service.
func NewPasswordService(
	users *repository.UsersRepository,
	creds *repository.CredentialsRepository,
	provisioner *Provisioner,
	policy *PasswordPolicy,
	blockDisposable bool,
) *PasswordService {
	return &PasswordService{
		users:           users,
		creds:           creds,
		provisioner:     provisioner,
		policy:          policy,
		blockDisposable: blockDisposable,
	}
}

// Register creates a new identity with password credentials and a personal
// workspace.
func (s *PasswordService) Register(ctx context.Context, email, password, name string) (*domain.User, error) {
	if err := ValidateEmail(email, s.blockDisposable); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)

	if s.policy != nil {
		if err := s.policy.ValidatePassword(password); err != nil {
			return nil, err
		}
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	profile := SynthesizeProfile(ProviderProfile{Email: email, FullName: name})
	now := time.Now()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      &profile.Name,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cred := &domain.UserPassword{
		UserID:            user.ID,
		PasswordHash:      hash,
		PasswordUpdatedAt: now,
	}

	err = s.provisioner.CreateIdentity(ctx, user, func(tx *sql.Tx) error {
		return s.creds.CreateTx(ctx, tx, cred)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies email and password and returns the user ID.
// Accounts lock for 15 minutes after 5 failed attempts.
func (s *PasswordService) Authenticate(ctx context.Context, email, password string) (uuid.UUID, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return uuid.Nil, domain.ErrInvalidCredentials
		}
		return uuid.Nil, err
	}

	if user.IsLocked() {
		return uuid.Nil, domain.ErrAccountLocked
	}

	cred, err := s.creds.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrPasswordAuthUnavailable) {
			return uuid.Nil, domain.ErrInvalidCredentials
		}
		return uuid.Nil, err
	}

	if !VerifyPassword(password, cred.PasswordHash) {
		_ = s.users.IncrementFailedLoginAttempts(ctx, user.ID, loginLockoutDuration, maxFailedLoginAttempts)
		return uuid.Nil, domain.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.users.ResetFailedLoginAttempts(ctx, user.ID)
	}

	return user.ID, nil
}

// VerifyForUser checks a password for an already identified user. It
// returns domain.ErrPasswordAuthUnavailable when the user has no password.
// Failures do not count toward the login lockout.
func (s *PasswordService) VerifyForUser(ctx context.Context, userID uuid.UUID, password string) (bool, error) {
	cred, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return VerifyPassword(password, cred.PasswordHash), nil
}

// GetUserByID retrieves a user by ID.
func (s *PasswordService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := randomBytes(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// Encode as: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return encodeArgon2Hash(hash, salt, argon2Time, argon2Memory, argon2Threads), nil
}

// VerifyPassword verifies a password against an Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	hash, salt, time, memory, threads, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(hash)))
	return constantTimeCompare(hash, computed)
}
