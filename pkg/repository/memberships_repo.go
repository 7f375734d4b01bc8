package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// MembershipsRepository handles membership data persistence.
type MembershipsRepository struct {
	db *sql.DB
}

// NewMembershipsRepository creates a new memberships repository.
func NewMembershipsRepository(db *sql.DB) *MembershipsRepository {
	return &MembershipsRepository{db: db}
}

// Create creates a new membership.
func (r *MembershipsRepository) Create(ctx context.Context, membership *domain.Membership) error {
	return r.CreateTx(ctx, r.db, membership)
}

// CreateTx creates a new membership within a transaction.
func (r *MembershipsRepository) CreateTx(ctx context.Context, q Querier, membership *domain.Membership) error {
	query := `
		INSERT INTO memberships (id, tenant_id, user_id, status, is_admin, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.ExecContext(ctx, query,
		membership.ID,
		membership.TenantID,
		membership.UserID,
		membership.Status,
		membership.IsAdmin,
		membership.IsDefault,
		membership.CreatedAt,
		membership.UpdatedAt,
	)
	return err
}

// GetByUserAndTenant retrieves a membership for a user in a tenant.
func (r *MembershipsRepository) GetByUserAndTenant(ctx context.Context, userID, tenantID uuid.UUID) (*domain.Membership, error) {
	query := `
		SELECT id, tenant_id, user_id, status, is_admin, is_default, created_at, updated_at, deleted_at
		FROM memberships
		WHERE user_id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`

	var membership domain.Membership
	err := r.db.QueryRowContext(ctx, query, userID, tenantID).Scan(
		&membership.ID,
		&membership.TenantID,
		&membership.UserID,
		&membership.Status,
		&membership.IsAdmin,
		&membership.IsDefault,
		&membership.CreatedAt,
		&membership.UpdatedAt,
		&membership.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}

	return &membership, nil
}

// ListForIdentity returns every tenant the user holds an active membership
// in, annotated with the user's admin, default and owner flags.
func (r *MembershipsRepository) ListForIdentity(ctx context.Context, userID uuid.UUID) ([]domain.TenantAccess, error) {
	query := `
		SELECT
			t.id, t.name, t.workspace_code, t.owner_id, t.created_at, t.updated_at, t.deleted_at,
			m.is_admin, m.is_default
		FROM memberships m
		INNER JOIN tenants t ON m.tenant_id = t.id
		WHERE m.user_id = $1
			AND m.status = 'active'
			AND m.deleted_at IS NULL
			AND t.deleted_at IS NULL
		ORDER BY m.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.TenantAccess
	for rows.Next() {
		var access domain.TenantAccess
		err := rows.Scan(
			&access.Tenant.ID,
			&access.Tenant.Name,
			&access.Tenant.WorkspaceCode,
			&access.Tenant.OwnerID,
			&access.Tenant.CreatedAt,
			&access.Tenant.UpdatedAt,
			&access.Tenant.DeletedAt,
			&access.IsAdmin,
			&access.IsDefault,
		)
		if err != nil {
			return nil, err
		}
		access.IsOwner = access.Tenant.OwnerID != nil && *access.Tenant.OwnerID == userID
		results = append(results, access)
	}

	return results, rows.Err()
}
