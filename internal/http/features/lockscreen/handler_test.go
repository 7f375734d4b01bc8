package lockscreen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/auth"
	"github.com/kamalcharan/contractnest-auth/pkg/broadcast"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodPassword = "correct horse"

type fixedMethod domain.AuthMethodKind

func (m fixedMethod) Resolve(context.Context, uuid.UUID, string) domain.AuthMethodKind {
	return domain.AuthMethodKind(m)
}

type fakeFederated struct{ redirect string }

func (f *fakeFederated) InitiateUnlock(_ context.Context, _, _ uuid.UUID, _ domain.Durability, redirectURI string) (string, error) {
	f.redirect = redirectURI
	return "https://accounts.example/auth", nil
}

type fakeSessions struct{ revoked []uuid.UUID }

func (f *fakeSessions) RevokeSessionByID(_ context.Context, id uuid.UUID) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fixture struct {
	handler   *Handler
	locks     *lock.Controller
	hub       *broadcast.Hub
	sessions  *fakeSessions
	federated *fakeFederated
	sessionID uuid.UUID
	userID    uuid.UUID
}

func newFixture(t *testing.T, method domain.AuthMethodKind) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := broadcast.NewHub()
	fed := &fakeFederated{}
	verifier := lock.LocalVerifier(func(_ context.Context, _ uuid.UUID, pw string) (bool, error) {
		return pw == goodPassword, nil
	})
	ctrl := lock.NewController(
		lock.Config{Policy: lock.Policy{MaxAttempts: 2, BlockDuration: time.Minute}},
		storage.NewMemoryStore(storage.TTLConfig{}),
		fixedMethod(method),
		verifier,
		fed,
		hub,
		logger,
	)
	sessions := &fakeSessions{}
	return &fixture{
		handler:   NewHandler(logger, ctrl, hub, sessions, httputil.TokenWriter{Cookies: httputil.DefaultCookieConfig()}),
		locks:     ctrl,
		hub:       hub,
		sessions:  sessions,
		federated: fed,
		sessionID: uuid.New(),
		userID:    uuid.New(),
	}
}

func (f *fixture) withSession(r *http.Request) *http.Request {
	claims := &auth.AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{ID: f.sessionID.String(), Subject: f.userID.String()},
		Durability:       domain.DurabilityEphemeral,
	}
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, f.userID)
	ctx = context.WithValue(ctx, middleware.SessionIDKey, f.sessionID)
	ctx = context.WithValue(ctx, middleware.ClaimsKey, claims)
	return r.WithContext(ctx)
}

func (f *fixture) do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := f.withSession(httptest.NewRequest(method, target, rdr))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) lock.Status {
	t.Helper()
	var st lock.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	return st
}

func TestStatusAndLock(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)

	rec := f.do(f.handler.Status, http.MethodGet, "/v1/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lock.KindUnlocked, decodeStatus(t, rec).State)

	rec = f.do(f.handler.Lock, http.MethodPost, "/v1/lock", `{"reason":"inactivity"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeStatus(t, rec)
	assert.Equal(t, lock.KindLocked, st.State)
	assert.Equal(t, lock.ReasonInactivity, st.Reason)
	assert.Equal(t, domain.AuthMethodPassword, st.Method)
	assert.Contains(t, st.Actions, lock.ActionSubmitPassword)

	rec = f.do(f.handler.Lock, http.MethodPost, "/v1/lock", `{"reason":"bored"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnlock_PasswordFlow(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)

	rec := f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"x"}`)
	require.Equal(t, http.StatusConflict, rec.Code, "unlocking an unlocked session")

	f.do(f.handler.Lock, http.MethodPost, "/v1/lock", "")

	rec = f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var res UnlockResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, lock.OutcomeInvalid, res.Outcome)
	assert.Equal(t, 1, res.Status.FailedAttempts)

	rec = f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"`+goodPassword+`","return_to":"/contracts/9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = UnlockResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, lock.OutcomeUnlocked, res.Outcome)
	assert.Equal(t, "/contracts/9", res.Redirect)
}

func TestUnlock_BlockedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)
	f.do(f.handler.Lock, http.MethodPost, "/v1/lock", "")

	f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"wrong"}`)
	rec := f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"wrong"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"`+goodPassword+`"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "correct password is refused while blocked")
}

func TestUnlock_Validation(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing password", `{"return_to":"/x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUnlock_FederatedSessionRejectsPassword(t *testing.T) {
	f := newFixture(t, domain.AuthMethodFederated)
	f.do(f.handler.Lock, http.MethodPost, "/v1/lock", "")

	rec := f.do(f.handler.Unlock, http.MethodPost, "/v1/lock/unlock", `{"password":"`+goodPassword+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthStart(t *testing.T) {
	f := newFixture(t, domain.AuthMethodFederated)
	f.do(f.handler.Lock, http.MethodPost, "/v1/lock", "")

	rec := f.do(f.handler.OAuthStart, http.MethodGet, "/v1/lock/oauth/start?return_to=//evil.example", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example/auth", rec.Header().Get("Location"))
	assert.Equal(t, "/dashboard", f.federated.redirect)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)
	f.do(f.handler.Lock, http.MethodPost, "/v1/lock", "")

	rec := f.do(f.handler.SignOut, http.MethodPost, "/v1/lock/signout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{f.sessionID}, f.sessions.revoked)
	for _, c := range rec.Result().Cookies() {
		assert.Negative(t, c.MaxAge, c.Name)
	}
}

func TestEvents_StreamsLockNotifications(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.handler.Events(w, f.withSession(r))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.hub.Subscribers(f.sessionID.String()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.hub.NotifyLock(context.Background(), f.sessionID.String()))

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	assert.Equal(t, "lock", event)
	m, err := broadcast.Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, f.sessionID.String(), m.SessionID)
}

func TestEvents_EndsOnServerShutdown(t *testing.T) {
	f := newFixture(t, domain.AuthMethodPassword)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.handler.Events(w, f.withSession(r))
	}))
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.Config.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.Config.RegisterOnShutdown(cancelBase)
	srv.Start()
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers(f.sessionID.String()) == 1 }, time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Config.Shutdown(shutdownCtx))

	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 0, f.hub.Subscribers(f.sessionID.String()))
}
