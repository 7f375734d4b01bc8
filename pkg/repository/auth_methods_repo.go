package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// AuthMethodsRepository handles the per-identity auth method registry.
type AuthMethodsRepository struct {
	db *sql.DB
}

// NewAuthMethodsRepository creates a new auth methods repository.
func NewAuthMethodsRepository(db *sql.DB) *AuthMethodsRepository {
	return &AuthMethodsRepository{db: db}
}

// ListByUser returns the non-deleted methods for a user, primary first,
// then most recently used.
func (r *AuthMethodsRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.AuthMethod, error) {
	query := `
		SELECT id, user_id, auth_type, provider, is_primary, is_deleted, last_used_at, created_at, updated_at
		FROM user_auth_methods
		WHERE user_id = $1 AND is_deleted = FALSE
		ORDER BY is_primary DESC, last_used_at DESC NULLS LAST, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*domain.AuthMethod
	for rows.Next() {
		var (
			m        domain.AuthMethod
			authType string
		)
		if err := rows.Scan(
			&m.ID, &m.UserID, &authType, &m.Provider, &m.IsPrimary, &m.IsDeleted,
			&m.LastUsedAt, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		kind, err := domain.ParseAuthMethodKind(authType)
		if err != nil {
			// Unknown rows are skipped rather than failing the whole lookup.
			continue
		}
		m.Kind = kind
		methods = append(methods, &m)
	}
	return methods, rows.Err()
}

// RecordUse registers a successful sign-in with the given method.
// The first method ever registered for a user becomes primary.
func (r *AuthMethodsRepository) RecordUse(ctx context.Context, userID uuid.UUID, kind domain.AuthMethodKind, provider string, at time.Time) error {
	if !kind.Valid() {
		return domain.ErrInvalidAuthMethod
	}
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		updateQuery := `
			UPDATE user_auth_methods
			SET last_used_at = $4, updated_at = $4
			WHERE user_id = $1 AND auth_type = $2 AND provider = $3 AND is_deleted = FALSE
		`
		result, err := tx.ExecContext(ctx, updateQuery, userID, string(kind), provider, at)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		var hasPrimary bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM user_auth_methods WHERE user_id = $1 AND is_primary AND is_deleted = FALSE)`,
			userID,
		).Scan(&hasPrimary)
		if err != nil {
			return err
		}

		insertQuery := `
			INSERT INTO user_auth_methods (id, user_id, auth_type, provider, is_primary, is_deleted, last_used_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6, $6)
		`
		_, err = tx.ExecContext(ctx, insertQuery, uuid.New(), userID, string(kind), provider, !hasPrimary, at)
		return err
	})
}

// SetPrimary marks one method primary and clears the flag on every other
// method of the same user.
func (r *AuthMethodsRepository) SetPrimary(ctx context.Context, userID, methodID uuid.UUID) error {
	return Tx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE user_auth_methods SET is_primary = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_primary`,
			userID,
		)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE user_auth_methods SET is_primary = TRUE, updated_at = NOW() WHERE id = $1 AND user_id = $2 AND is_deleted = FALSE`,
			methodID, userID,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrAuthMethodNotFound
		}
		return nil
	})
}

// SoftDelete marks a method deleted. A deleted method is never primary.
func (r *AuthMethodsRepository) SoftDelete(ctx context.Context, userID, methodID uuid.UUID) error {
	query := `
		UPDATE user_auth_methods
		SET is_deleted = TRUE, is_primary = FALSE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_deleted = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, methodID, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAuthMethodNotFound
	}
	return nil
}
