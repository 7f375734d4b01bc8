package google

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/oauthbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	initiated oauthbridge.InitiateRequest
	params    oauthbridge.CallbackParams
	result    *oauthbridge.Result
	err       error
}

func (f *fakeBridge) Initiate(_ context.Context, req oauthbridge.InitiateRequest) (string, error) {
	f.initiated = req
	return "https://accounts.example/auth?state=s", nil
}

func (f *fakeBridge) Complete(_ context.Context, p oauthbridge.CallbackParams) (*oauthbridge.Result, error) {
	f.params = p
	return f.result, f.err
}

type fakeLocks struct {
	completed []lock.SessionRef
	signedOut []lock.SessionRef
	err       error
}

func (f *fakeLocks) CompleteFederatedUnlock(_ context.Context, ref lock.SessionRef, _ lock.Continuation) (*lock.Result, error) {
	f.completed = append(f.completed, ref)
	if f.err != nil {
		return nil, f.err
	}
	return &lock.Result{Outcome: lock.OutcomeUnlocked}, nil
}

func (f *fakeLocks) SignOut(_ context.Context, ref lock.SessionRef) error {
	f.signedOut = append(f.signedOut, ref)
	return nil
}

type fakeSessions struct{ revoked []uuid.UUID }

func (f *fakeSessions) RevokeAllSessions(_ context.Context, userID uuid.UUID) error {
	f.revoked = append(f.revoked, userID)
	return nil
}

func newTestHandler(b *fakeBridge, l *fakeLocks, s *fakeSessions) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(logger, b, l, s, httputil.TokenWriter{Cookies: httputil.DefaultCookieConfig()})
}

func TestStart(t *testing.T) {
	b := &fakeBridge{}
	h := newTestHandler(b, &fakeLocks{}, &fakeSessions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/google?remember_me=true&redirect_uri=https://evil.example", nil)
	rec := httptest.NewRecorder()
	h.Start(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example/auth?state=s", rec.Header().Get("Location"))
	assert.Equal(t, oauthbridge.FlowLogin, b.initiated.Flow)
	assert.Equal(t, domain.DurabilityRemembered, b.initiated.Durability)
	assert.Equal(t, "/dashboard", b.initiated.RedirectURI)
}

func TestStart_NotConfigured(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil, nil, httputil.TokenWriter{})
	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCallback_Login(t *testing.T) {
	b := &fakeBridge{result: &oauthbridge.Result{
		Flow:        oauthbridge.FlowLogin,
		RedirectURI: "/contracts",
		Tokens:      &domain.TokenPair{AccessToken: "a", RefreshToken: "r", Durability: domain.DurabilityEphemeral},
	}}
	h := newTestHandler(b, &fakeLocks{}, &fakeSessions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s&code=c", nil)
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/contracts", rec.Header().Get("Location"))
	assert.Equal(t, "s", b.params.State)
	assert.Equal(t, "c", b.params.Code)

	names := map[string]string{}
	for _, c := range rec.Result().Cookies() {
		names[c.Name] = c.Value
	}
	assert.Equal(t, "a", names["access_token"])
	assert.Equal(t, "r", names["refresh_token"])
}

func TestCallback_ReplayedRedirectsWithoutCookies(t *testing.T) {
	b := &fakeBridge{result: &oauthbridge.Result{Replayed: true, RedirectURI: "/contracts"}}
	l := &fakeLocks{}
	h := newTestHandler(b, l, &fakeSessions{})

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s&code=c", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/contracts", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, l.completed)
}

func TestCallback_Unlock(t *testing.T) {
	sid, uid := uuid.New(), uuid.New()
	b := &fakeBridge{result: &oauthbridge.Result{
		Flow:        oauthbridge.FlowUnlock,
		RedirectURI: "/contracts/7",
		SessionID:   sid,
		UserID:      uid,
		Durability:  domain.DurabilityRemembered,
	}}
	l := &fakeLocks{}
	h := newTestHandler(b, l, &fakeSessions{})

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s&id_token=t", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/contracts/7", rec.Header().Get("Location"))
	require.Len(t, l.completed, 1)
	assert.Equal(t, lock.SessionRef{SessionID: sid, UserID: uid, Durability: domain.DurabilityRemembered}, l.completed[0])
	assert.Equal(t, "t", b.params.IDToken)
}

func TestCallback_UnlockRejected(t *testing.T) {
	b := &fakeBridge{result: &oauthbridge.Result{Flow: oauthbridge.FlowUnlock, RedirectURI: "/x", SessionID: uuid.New(), UserID: uuid.New()}}
	h := newTestHandler(b, &fakeLocks{err: domain.ErrSignedOut}, &fakeSessions{})

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s&code=c", nil))

	assert.Equal(t, "/x?error=unlock_failed", rec.Header().Get("Location"))
}

func TestCallback_UnlockProviderErrorReturnsToLockScreen(t *testing.T) {
	sid := uuid.New()
	b := &fakeBridge{
		result: &oauthbridge.Result{Flow: oauthbridge.FlowUnlock, RedirectURI: "/contracts/7", SessionID: sid, UserID: uuid.New()},
		err:    errors.Join(domain.ErrOAuthProvider, errors.New("access_denied")),
	}
	l := &fakeLocks{}
	s := &fakeSessions{}
	h := newTestHandler(b, l, s)

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s&error=access_denied", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/contracts/7?error=unlock_failed", rec.Header().Get("Location"))
	assert.Equal(t, "access_denied", b.params.Error)
	assert.Empty(t, l.completed)
	assert.Empty(t, l.signedOut)
	assert.Empty(t, s.revoked)
	assert.Empty(t, rec.Result().Cookies())
}

func TestCallback_IdentityMismatchEndsSessions(t *testing.T) {
	sid, locked := uuid.New(), uuid.New()
	b := &fakeBridge{
		result: &oauthbridge.Result{Flow: oauthbridge.FlowUnlock, RedirectURI: "/contracts/7", SessionID: sid, UserID: locked},
		err:    &oauthbridge.MismatchError{SessionID: sid, LockedIdentityID: locked},
	}
	l := &fakeLocks{}
	s := &fakeSessions{}
	h := newTestHandler(b, l, s)

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s&code=c", nil))

	assert.Equal(t, "/login?error=identity_mismatch", rec.Header().Get("Location"))
	assert.Equal(t, []uuid.UUID{locked}, s.revoked)
	require.Len(t, l.signedOut, 1)
	assert.Equal(t, sid, l.signedOut[0].SessionID)
	for _, c := range rec.Result().Cookies() {
		assert.Negative(t, c.MaxAge, c.Name)
	}
}

func TestCallback_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unknown state", domain.ErrOAuthStateNotFound, "/login?error=invalid_state"},
		{"provider error", errors.Join(domain.ErrOAuthProvider, errors.New("access_denied")), "/login?error=provider_error"},
		{"other", errors.New("boom"), "/login?error=oauth_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeBridge{err: tt.err}, &fakeLocks{}, &fakeSessions{})
			rec := httptest.NewRecorder()
			h.Callback(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback?state=s", nil))
			assert.Equal(t, tt.want, rec.Header().Get("Location"))
		})
	}
}
