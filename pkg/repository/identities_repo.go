package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// IdentitiesRepository handles external identity links.
type IdentitiesRepository struct {
	db *sql.DB
}

// NewIdentitiesRepository creates a new identities repository.
func NewIdentitiesRepository(db *sql.DB) *IdentitiesRepository {
	return &IdentitiesRepository{db: db}
}

// CreateTx links an external identity within a transaction.
func (r *IdentitiesRepository) CreateTx(ctx context.Context, q Querier, identity *domain.UserIdentity) error {
	query := `
		INSERT INTO user_identities (id, user_id, provider, provider_subject, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.ExecContext(ctx, query,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderSubject, identity.Email, identity.CreatedAt,
	)
	if isUniqueViolation(err, "") {
		return domain.ErrIdentityAlreadyLinked
	}
	return err
}

// GetByProviderSubject finds the identity link for a provider account.
func (r *IdentitiesRepository) GetByProviderSubject(ctx context.Context, provider, subject string) (*domain.UserIdentity, error) {
	query := `
		SELECT id, user_id, provider, provider_subject, email, created_at
		FROM user_identities
		WHERE provider = $1 AND provider_subject = $2
	`
	var identity domain.UserIdentity
	err := r.db.QueryRowContext(ctx, query, provider, subject).Scan(
		&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderSubject,
		&identity.Email, &identity.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// ProvidersForUser lists the external providers linked to a user.
func (r *IdentitiesRepository) ProvidersForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `
		SELECT DISTINCT provider
		FROM user_identities
		WHERE user_id = $1
		ORDER BY provider
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
