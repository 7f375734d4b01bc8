package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	tenants []domain.TenantAccess
	calls   atomic.Int32
	delay   time.Duration
	err     error
}

func (f *fakeSource) ListForIdentity(context.Context, uuid.UUID) ([]domain.TenantAccess, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.tenants, f.err
}

type fakeBinder struct {
	mu    sync.Mutex
	bound []uuid.UUID
	err   error
}

func (f *fakeBinder) SwitchTenant(_ context.Context, _ uuid.UUID, tenantID uuid.UUID) (*domain.TokenPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.bound = append(f.bound, tenantID)
	f.mu.Unlock()
	return &domain.TokenPair{AccessToken: "access-" + tenantID.String()}, nil
}

type fakeProvisioner struct{ calls int }

func (f *fakeProvisioner) EnsureWorkspace(_ context.Context, user *domain.User) (*domain.Tenant, error) {
	f.calls++
	return &domain.Tenant{ID: uuid.New(), Name: "Personal", OwnerID: &user.ID}, nil
}

type brokenStore struct{ storage.Store }

func (brokenStore) Set(context.Context, string, []byte, domain.Durability) error {
	return domain.ErrStorageUnavailable
}

func access(name string, admin, def, owner bool) domain.TenantAccess {
	return domain.TenantAccess{
		Tenant:    domain.Tenant{ID: uuid.New(), Name: name, WorkspaceCode: name},
		IsAdmin:   admin,
		IsDefault: def,
		IsOwner:   owner,
	}
}

func TestSelect(t *testing.T) {
	owned := access("owned", true, false, true)
	def := access("default", true, true, false)
	member := access("member", false, false, false)
	admin := access("admin", true, false, false)

	tests := []struct {
		name    string
		tenants []domain.TenantAccess
		isAdmin bool
		want    string
	}{
		{"owned wins", []domain.TenantAccess{member, def, owned}, false, "owned"},
		{"default next", []domain.TenantAccess{admin, member, def}, false, "default"},
		{"non-admin prefers member tenant", []domain.TenantAccess{admin, member}, false, "member"},
		{"admin takes first", []domain.TenantAccess{admin, member}, true, "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.tenants, tt.isAdmin)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Tenant.Name)
		})
	}

	_, ok := Select(nil, false)
	assert.False(t, ok)
}

func TestPushRecent(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	assert.Equal(t, []uuid.UUID{a}, PushRecent(nil, a))
	assert.Equal(t, []uuid.UUID{b, a}, PushRecent([]uuid.UUID{a}, b))
	assert.Equal(t, []uuid.UUID{a, c, b}, PushRecent([]uuid.UUID{c, a, b}, a))
	assert.Equal(t, []uuid.UUID{d, c, b}, PushRecent([]uuid.UUID{c, b, a}, d))

	in := []uuid.UUID{a, b}
	_ = PushRecent(in, c)
	assert.Equal(t, []uuid.UUID{a, b}, in)
}

func newSwitcher(t *testing.T, tenants ...domain.TenantAccess) (*Switcher, *fakeSource, *fakeBinder, storage.Store) {
	t.Helper()
	src := &fakeSource{tenants: tenants}
	binder := &fakeBinder{}
	store := storage.NewMemoryStore(storage.TTLConfig{})
	return NewSwitcher(src, binder, store, nil, nil), src, binder, store
}

func TestSwitcher_SwitchToCurrentIsNoop(t *testing.T) {
	a := access("a", true, true, true)
	s, src, binder, store := newSwitcher(t, a)
	sc := SessionContext{SessionID: uuid.New(), UserID: uuid.New(), TenantID: a.ID()}

	res, err := s.SwitchTo(context.Background(), sc, a.ID())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Redirect)
	assert.Empty(t, binder.bound)
	assert.Zero(t, src.calls.Load())

	_, err = store.Get(context.Background(), selectionKeyPrefix+sc.UserID.String())
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestSwitcher_SwitchTo(t *testing.T) {
	a := access("a", true, true, true)
	b := access("b", false, false, false)
	s, _, binder, _ := newSwitcher(t, a, b)
	ctx := context.Background()
	user := &domain.User{ID: uuid.New()}
	sc := SessionContext{SessionID: uuid.New(), UserID: user.ID, TenantID: a.ID()}

	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })
	defer unsubscribe()

	res, err := s.SwitchTo(ctx, sc, b.ID())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, LandingPath, res.Redirect)
	assert.Equal(t, "b", res.Tenant.Tenant.Name)
	assert.Equal(t, "access-"+b.ID().String(), res.Tokens.AccessToken)
	assert.Equal(t, []uuid.UUID{b.ID()}, res.Recent)
	assert.Equal(t, []uuid.UUID{b.ID()}, binder.bound)

	require.Len(t, events, 1)
	assert.Equal(t, a.ID(), events[0].From)
	assert.Equal(t, b.ID(), events[0].To)

	// the explicit choice now wins over the owned workspace
	got, err := s.Restore(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, b.ID(), got.ID())

	sc.TenantID = b.ID()
	res, err = s.SwitchTo(ctx, sc, a.ID())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID(), b.ID()}, res.Recent)
	assert.Equal(t, []uuid.UUID{a.ID(), b.ID()}, s.Recent(ctx, user.ID))
}

func TestSwitcher_SwitchToUnavailableTenant(t *testing.T) {
	a := access("a", true, true, true)
	s, _, binder, _ := newSwitcher(t, a)
	sc := SessionContext{SessionID: uuid.New(), UserID: uuid.New(), TenantID: a.ID()}

	_, err := s.SwitchTo(context.Background(), sc, uuid.New())
	require.ErrorIs(t, err, domain.ErrTenantForbidden)
	assert.Empty(t, binder.bound)
}

func TestSwitcher_BindFailureLeavesSelectionUntouched(t *testing.T) {
	a := access("a", true, true, true)
	b := access("b", false, false, false)
	s, _, binder, store := newSwitcher(t, a, b)
	binder.err = errors.New("db down")
	sc := SessionContext{SessionID: uuid.New(), UserID: uuid.New(), TenantID: a.ID()}

	_, err := s.SwitchTo(context.Background(), sc, b.ID())
	require.Error(t, err)

	_, err = store.Get(context.Background(), selectionKeyPrefix+sc.UserID.String())
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestSwitcher_PersistFailureStillSwitches(t *testing.T) {
	a := access("a", true, true, true)
	b := access("b", false, false, false)
	src := &fakeSource{tenants: []domain.TenantAccess{a, b}}
	binder := &fakeBinder{}
	s := NewSwitcher(src, binder, brokenStore{storage.NewMemoryStore(storage.TTLConfig{})}, nil, nil)
	sc := SessionContext{SessionID: uuid.New(), UserID: uuid.New(), TenantID: a.ID()}

	res, err := s.SwitchTo(context.Background(), sc, b.ID())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []uuid.UUID{b.ID()}, binder.bound)
}

func TestSwitcher_RestoreIgnoresRevokedSelection(t *testing.T) {
	a := access("a", false, false, false)
	b := access("b", false, true, false)
	s, src, _, store := newSwitcher(t, a, b)
	ctx := context.Background()
	user := &domain.User{ID: uuid.New()}

	err := storage.SetJSON(ctx, store, selectionKeyPrefix+user.ID.String(), Selection{TenantID: uuid.New()}, domain.DurabilityEphemeral)
	require.NoError(t, err)

	got, err := s.Restore(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, b.ID(), got.ID())

	src.tenants = nil
	_, err = s.Restore(ctx, user)
	assert.ErrorIs(t, err, domain.ErrNoTenants)
}

func TestSwitcher_ResolveLoginTenantProvisions(t *testing.T) {
	prov := &fakeProvisioner{}
	s := NewSwitcher(&fakeSource{}, &fakeBinder{}, storage.NewMemoryStore(storage.TTLConfig{}), prov, nil)
	user := &domain.User{ID: uuid.New()}

	got, err := s.ResolveLoginTenant(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, got.IsOwner)
	assert.True(t, got.IsDefault)
	assert.Equal(t, 1, prov.calls)
}

func TestSwitcher_ConcurrentLookupsShareOneCall(t *testing.T) {
	a := access("a", true, true, true)
	s, src, _, _ := newSwitcher(t, a)
	src.delay = 50 * time.Millisecond
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tenants, err := s.ResolveAvailableTenants(context.Background(), userID)
			assert.NoError(t, err)
			assert.Len(t, tenants, 1)
		}()
	}
	wg.Wait()
	assert.Less(t, src.calls.Load(), int32(5))
}

type ctxSource struct {
	tenants []domain.TenantAccess
	ctxErr  error
}

func (c *ctxSource) ListForIdentity(ctx context.Context, _ uuid.UUID) ([]domain.TenantAccess, error) {
	c.ctxErr = ctx.Err()
	return c.tenants, c.ctxErr
}

func TestSwitcher_SharedLookupIgnoresCallerCancel(t *testing.T) {
	src := &ctxSource{tenants: []domain.TenantAccess{access("a", true, true, true)}}
	s := NewSwitcher(src, &fakeBinder{}, storage.NewMemoryStore(storage.TTLConfig{}), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tenants, err := s.ResolveAvailableTenants(ctx, uuid.New())
	require.NoError(t, err)
	assert.NoError(t, src.ctxErr)
	assert.Len(t, tenants, 1)
}

func TestHeaderState(t *testing.T) {
	var h HeaderState
	assert.Empty(t, h.Value())

	id := uuid.New()
	h.Set(id)
	assert.Equal(t, id.String(), h.Value())
	assert.Equal(t, id, h.TenantID())

	h.Clear()
	assert.Empty(t, h.Value())
}
