package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// CredentialsRepository handles password credential persistence.
type CredentialsRepository struct {
	db *sql.DB
}

// NewCredentialsRepository creates a new credentials repository.
func NewCredentialsRepository(db *sql.DB) *CredentialsRepository {
	return &CredentialsRepository{db: db}
}

// CreateTx stores a password hash within a transaction.
func (r *CredentialsRepository) CreateTx(ctx context.Context, q Querier, cred *domain.UserPassword) error {
	query := `
		INSERT INTO user_password (user_id, password_hash, password_updated_at)
		VALUES ($1, $2, $3)
	`
	_, err := q.ExecContext(ctx, query, cred.UserID, cred.PasswordHash, cred.PasswordUpdatedAt)
	return err
}

// GetByUserID retrieves the password credential for a user.
// Returns domain.ErrPasswordAuthUnavailable if the user has no password.
func (r *CredentialsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserPassword, error) {
	query := `
		SELECT user_id, password_hash, password_updated_at
		FROM user_password
		WHERE user_id = $1
	`
	var cred domain.UserPassword
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&cred.UserID, &cred.PasswordHash, &cred.PasswordUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPasswordAuthUnavailable
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
