package tenant

import (
	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// MaxRecent bounds the recent-tenants list.
const MaxRecent = 3

// Select picks a tenant when the identity has made no explicit choice:
// an owned workspace, then the default one, then for non-admin identities
// the first workspace they are not admin of, then the first.
func Select(tenants []domain.TenantAccess, identityIsAdmin bool) (domain.TenantAccess, bool) {
	if len(tenants) == 0 {
		return domain.TenantAccess{}, false
	}
	for _, t := range tenants {
		if t.IsOwner {
			return t, true
		}
	}
	for _, t := range tenants {
		if t.IsDefault {
			return t, true
		}
	}
	if !identityIsAdmin {
		for _, t := range tenants {
			if !t.IsAdmin {
				return t, true
			}
		}
	}
	return tenants[0], true
}

// Find returns the tenant with id from tenants.
func Find(tenants []domain.TenantAccess, id uuid.UUID) (domain.TenantAccess, bool) {
	for _, t := range tenants {
		if t.ID() == id {
			return t, true
		}
	}
	return domain.TenantAccess{}, false
}

// PushRecent moves id to the front of recent, dropping duplicates and
// anything past MaxRecent. recent is not modified.
func PushRecent(recent []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, MaxRecent)
	out = append(out, id)
	for _, r := range recent {
		if len(out) == MaxRecent {
			break
		}
		if r != id && r != uuid.Nil {
			out = append(out, r)
		}
	}
	return out
}
