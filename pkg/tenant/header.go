package tenant

import (
	"sync"

	"github.com/google/uuid"
)

// HeaderName carries the active tenant on tenant-scoped requests.
const HeaderName = "X-Tenant-Id"

// HeaderState holds the tenant id sent on outbound requests. It is safe
// for concurrent use.
type HeaderState struct {
	mu       sync.RWMutex
	tenantID uuid.UUID
}

// Set replaces the tenant id.
func (h *HeaderState) Set(id uuid.UUID) {
	h.mu.Lock()
	h.tenantID = id
	h.mu.Unlock()
}

// Clear removes the tenant id.
func (h *HeaderState) Clear() {
	h.Set(uuid.Nil)
}

// Value returns the header value, or "" when no tenant is set.
func (h *HeaderState) Value() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.tenantID == uuid.Nil {
		return ""
	}
	return h.tenantID.String()
}

// TenantID returns the current tenant id.
func (h *HeaderState) TenantID() uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tenantID
}
