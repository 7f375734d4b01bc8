// Package tenant resolves the workspaces an identity may act within and
// manages which one is current.
package tenant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// LandingPath is where clients go after a switch so every tenant-scoped
// view reloads.
const LandingPath = "/dashboard"

const (
	selectionKeyPrefix = "tenant:current:"
	recentKeyPrefix    = "tenant:recent:"
)

// Source lists an identity's tenants.
type Source interface {
	ListForIdentity(ctx context.Context, userID uuid.UUID) ([]domain.TenantAccess, error)
}

// SessionBinder moves a session to another tenant and returns a token
// carrying it.
type SessionBinder interface {
	SwitchTenant(ctx context.Context, sessionID, tenantID uuid.UUID) (*domain.TokenPair, error)
}

// WorkspaceProvisioner creates a personal workspace for an identity that
// has none.
type WorkspaceProvisioner interface {
	EnsureWorkspace(ctx context.Context, user *domain.User) (*domain.Tenant, error)
}

// Selection is the persisted explicit tenant choice of an identity.
type Selection struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	Name          string    `json:"name"`
	WorkspaceCode string    `json:"workspace_code"`
	SelectedAt    time.Time `json:"selected_at"`
}

// SessionContext is the session a switch applies to.
type SessionContext struct {
	SessionID  uuid.UUID
	UserID     uuid.UUID
	TenantID   uuid.UUID
	Durability domain.Durability
}

// SwitchResult reports what SwitchTo did. Redirect is empty when nothing
// changed.
type SwitchResult struct {
	Changed  bool
	Tenant   domain.TenantAccess
	Tokens   *domain.TokenPair
	Recent   []uuid.UUID
	Redirect string
}

// Event is sent to subscribers after a switch.
type Event struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	From      uuid.UUID
	To        uuid.UUID
	At        time.Time
}

// Switcher manages tenant selection.
type Switcher struct {
	source      Source
	binder      SessionBinder
	store       storage.Store
	provisioner WorkspaceProvisioner
	logger      *slog.Logger
	now         func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	nextSub int
	subs    map[int]func(Event)
}

// NewSwitcher creates a switcher. provisioner may be nil.
func NewSwitcher(source Source, binder SessionBinder, store storage.Store, provisioner WorkspaceProvisioner, logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{
		source:      source,
		binder:      binder,
		store:       store,
		provisioner: provisioner,
		logger:      logger,
		now:         time.Now,
		subs:        make(map[int]func(Event)),
	}
}

// ResolveAvailableTenants returns every tenant the identity may act within.
// Concurrent calls for one identity share a single lookup, which does not
// end when the first caller's context is cancelled.
func (s *Switcher) ResolveAvailableTenants(ctx context.Context, userID uuid.UUID) ([]domain.TenantAccess, error) {
	v, err, _ := s.group.Do(userID.String(), func() (interface{}, error) {
		return s.source.ListForIdentity(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	tenants := v.([]domain.TenantAccess)
	out := make([]domain.TenantAccess, len(tenants))
	copy(out, tenants)
	return out, nil
}

// Restore returns the identity's persisted choice if it is still
// available, else the tenant Select picks.
func (s *Switcher) Restore(ctx context.Context, user *domain.User) (domain.TenantAccess, error) {
	tenants, err := s.ResolveAvailableTenants(ctx, user.ID)
	if err != nil {
		return domain.TenantAccess{}, err
	}
	if len(tenants) == 0 {
		return domain.TenantAccess{}, domain.ErrNoTenants
	}

	if sel, ok := s.selection(ctx, user.ID); ok {
		if t, ok := Find(tenants, sel.TenantID); ok {
			return t, nil
		}
		s.logger.Info("persisted tenant no longer available", "user_id", user.ID, "tenant_id", sel.TenantID)
	}

	t, _ := Select(tenants, user.IsAdmin)
	return t, nil
}

// ResolveLoginTenant is Restore for a fresh sign-in. An identity with no
// tenants gets a personal workspace.
func (s *Switcher) ResolveLoginTenant(ctx context.Context, user *domain.User) (domain.TenantAccess, error) {
	t, err := s.Restore(ctx, user)
	if !errors.Is(err, domain.ErrNoTenants) || s.provisioner == nil {
		return t, err
	}
	ws, err := s.provisioner.EnsureWorkspace(ctx, user)
	if err != nil {
		return domain.TenantAccess{}, err
	}
	return domain.TenantAccess{Tenant: *ws, IsAdmin: true, IsDefault: true, IsOwner: true}, nil
}

// Authorize returns the tenant if the identity may act within it.
func (s *Switcher) Authorize(ctx context.Context, userID, tenantID uuid.UUID) (domain.TenantAccess, error) {
	tenants, err := s.ResolveAvailableTenants(ctx, userID)
	if err != nil {
		return domain.TenantAccess{}, err
	}
	t, ok := Find(tenants, tenantID)
	if !ok {
		return domain.TenantAccess{}, domain.ErrTenantForbidden
	}
	return t, nil
}

// SwitchTo makes tenantID current for the session. Switching to the
// current tenant does nothing. Otherwise the session is rebound first and
// only then is the choice persisted. A persistence failure is logged and
// the rebound session stays authoritative.
func (s *Switcher) SwitchTo(ctx context.Context, sc SessionContext, tenantID uuid.UUID) (*SwitchResult, error) {
	if tenantID == sc.TenantID {
		return &SwitchResult{Changed: false}, nil
	}

	target, err := s.Authorize(ctx, sc.UserID, tenantID)
	if err != nil {
		return nil, err
	}

	tokens, err := s.binder.SwitchTenant(ctx, sc.SessionID, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sel := Selection{
		TenantID:      target.ID(),
		Name:          target.Tenant.Name,
		WorkspaceCode: target.Tenant.WorkspaceCode,
		SelectedAt:    now,
	}
	if err := storage.SetJSON(ctx, s.store, selectionKeyPrefix+sc.UserID.String(), sel, sc.Durability); err != nil {
		s.logger.Warn("persist tenant selection failed", "user_id", sc.UserID, "tenant_id", tenantID, "error", err)
	}

	recent := PushRecent(s.Recent(ctx, sc.UserID), tenantID)
	if err := storage.SetJSON(ctx, s.store, recentKeyPrefix+sc.UserID.String(), recent, sc.Durability); err != nil {
		s.logger.Warn("persist recent tenants failed", "user_id", sc.UserID, "error", err)
	}

	s.logger.Info("tenant switched", "user_id", sc.UserID, "session_id", sc.SessionID, "from", sc.TenantID, "to", tenantID)
	s.publish(Event{UserID: sc.UserID, SessionID: sc.SessionID, From: sc.TenantID, To: tenantID, At: now})

	return &SwitchResult{
		Changed:  true,
		Tenant:   target,
		Tokens:   tokens,
		Recent:   recent,
		Redirect: LandingPath,
	}, nil
}

// Recent returns the identity's recent tenants, most recent first.
func (s *Switcher) Recent(ctx context.Context, userID uuid.UUID) []uuid.UUID {
	var recent []uuid.UUID
	err := storage.GetJSON(ctx, s.store, recentKeyPrefix+userID.String(), &recent)
	if err != nil && !storage.IsNotFound(err) {
		s.logger.Warn("read recent tenants failed", "user_id", userID, "error", err)
	}
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}
	return recent
}

// Subscribe registers fn for switch events and returns a function that
// removes it.
func (s *Switcher) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Switcher) publish(e Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (s *Switcher) selection(ctx context.Context, userID uuid.UUID) (Selection, bool) {
	var sel Selection
	err := storage.GetJSON(ctx, s.store, selectionKeyPrefix+userID.String(), &sel)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("read tenant selection failed", "user_id", userID, "error", err)
		}
		return Selection{}, false
	}
	return sel, sel.TenantID != uuid.Nil
}
