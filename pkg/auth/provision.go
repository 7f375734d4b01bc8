package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/repository"
)

const maxUserCodeAttempts = 5

// Provisioner creates identities together with their personal workspace.
type Provisioner struct {
	db          *sql.DB
	users       *repository.UsersRepository
	tenants     *repository.TenantsRepository
	memberships *repository.MembershipsRepository
	logger      *slog.Logger
}

// NewProvisioner creates a provisioner.
func NewProvisioner(
	db *sql.DB,
	users *repository.UsersRepository,
	tenants *repository.TenantsRepository,
	memberships *repository.MembershipsRepository,
	logger *slog.Logger,
) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{db: db, users: users, tenants: tenants, memberships: memberships, logger: logger}
}

// CreateIdentity inserts user with a fresh unique code and a personal
// workspace it owns, then runs extra inside the same transaction. The code
// is regenerated when it collides.
func (p *Provisioner) CreateIdentity(ctx context.Context, user *domain.User, extra func(tx *sql.Tx) error) error {
	for attempt := 1; attempt <= maxUserCodeAttempts; attempt++ {
		code, err := GenerateUserCode()
		if err != nil {
			return err
		}
		taken, err := p.users.ExistsByUserCode(ctx, code)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		user.UserCode = code

		err = repository.Tx(ctx, p.db, func(tx *sql.Tx) error {
			if err := p.users.CreateTx(ctx, tx, user); err != nil {
				return err
			}
			if _, err := p.createWorkspaceTx(ctx, tx, user); err != nil {
				return err
			}
			if extra != nil {
				return extra(tx)
			}
			return nil
		})
		if errors.Is(err, domain.ErrUserCodeTaken) {
			p.logger.Debug("user code collision, retrying", "attempt", attempt)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: gave up after %d attempts", domain.ErrUserCodeTaken, maxUserCodeAttempts)
}

// createWorkspaceTx creates the personal workspace of user and an admin,
// default membership in it.
func (p *Provisioner) createWorkspaceTx(ctx context.Context, q repository.Querier, user *domain.User) (*domain.Tenant, error) {
	now := time.Now()
	owner := user.ID
	tenant := &domain.Tenant{
		ID:            uuid.New(),
		Name:          workspaceName(user),
		WorkspaceCode: strings.ToLower(user.UserCode),
		OwnerID:       &owner,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.tenants.CreateTx(ctx, q, tenant); err != nil {
		return nil, err
	}
	membership := &domain.Membership{
		ID:        uuid.New(),
		TenantID:  tenant.ID,
		UserID:    user.ID,
		Status:    domain.MembershipStatusActive,
		IsAdmin:   true,
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.memberships.CreateTx(ctx, q, membership); err != nil {
		return nil, err
	}
	return tenant, nil
}

func workspaceName(user *domain.User) string {
	if user.FirstName != "" {
		return user.FirstName + "'s workspace"
	}
	return user.DisplayName() + "'s workspace"
}

// EnsureWorkspace creates a personal workspace for an existing identity that
// has lost access to every tenant.
func (p *Provisioner) EnsureWorkspace(ctx context.Context, user *domain.User) (*domain.Tenant, error) {
	var tenant *domain.Tenant
	err := repository.Tx(ctx, p.db, func(tx *sql.Tx) error {
		var err error
		tenant, err = p.createWorkspaceTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("personal workspace created", "user_id", user.ID, "tenant_id", tenant.ID)
	return tenant, nil
}
