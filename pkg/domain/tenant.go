package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a workspace an identity can act within.
type Tenant struct {
	ID            uuid.UUID
	Name          string
	WorkspaceCode string
	OwnerID       *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// TenantAccess is a tenant annotated relative to one identity.
type TenantAccess struct {
	Tenant    Tenant
	IsAdmin   bool
	IsDefault bool
	IsOwner   bool
}

// ID is a shorthand for the tenant id.
func (a TenantAccess) ID() uuid.UUID { return a.Tenant.ID }
