package password

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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
)

type fakePasswords struct {
	user     *domain.User
	password string
	hasCred  bool
}

func (f *fakePasswords) Register(_ context.Context, email, _, _ string) (*domain.User, error) {
	if email == f.user.Email {
		return nil, domain.ErrUserAlreadyExists
	}
	return &domain.User{ID: uuid.New(), Email: email}, nil
}

func (f *fakePasswords) Authenticate(_ context.Context, email, password string) (uuid.UUID, error) {
	if email != f.user.Email || password != f.password {
		return uuid.Nil, domain.ErrInvalidCredentials
	}
	return f.user.ID, nil
}

func (f *fakePasswords) VerifyForUser(_ context.Context, _ uuid.UUID, password string) (bool, error) {
	if !f.hasCred {
		return false, domain.ErrPasswordAuthUnavailable
	}
	return password == f.password, nil
}

func (f *fakePasswords) GetUserByID(context.Context, uuid.UUID) (*domain.User, error) {
	return f.user, nil
}

type fakeIssuer struct{ opts []auth.IssueSessionOpts }

func (f *fakeIssuer) IssueSession(_ context.Context, _ uuid.UUID, opts auth.IssueSessionOpts) (*domain.TokenPair, error) {
	f.opts = append(f.opts, opts)
	return &domain.TokenPair{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		ExpiresIn:    900,
		Durability:   opts.Durability,
	}, nil
}

type fakeMethods struct{ kinds []domain.AuthMethodKind }

func (f *fakeMethods) RecordUse(_ context.Context, _ uuid.UUID, kind domain.AuthMethodKind, _ string) error {
	f.kinds = append(f.kinds, kind)
	return nil
}

type fakeTenants struct{ tenantID uuid.UUID }

func (f fakeTenants) ResolveLoginTenant(context.Context, *domain.User) (domain.TenantAccess, error) {
	return domain.TenantAccess{Tenant: domain.Tenant{ID: f.tenantID}}, nil
}

type fixture struct {
	handler   *Handler
	passwords *fakePasswords
	issuer    *fakeIssuer
	methods   *fakeMethods
	locks     *lock.Controller
	tenantID  uuid.UUID
	claims    *auth.AccessTokenClaims
}

func newFixture() *fixture {
	f := &fixture{
		passwords: &fakePasswords{
			user:     &domain.User{ID: uuid.New(), Email: "ada@example.com"},
			password: "Secret123",
			hasCred:  true,
		},
		issuer:   &fakeIssuer{},
		methods:  &fakeMethods{},
		tenantID: uuid.New(),
		claims: &auth.AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ID: uuid.NewString()},
			TenantID:         uuid.NewString(),
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.locks = lock.NewController(
		lock.Config{Policy: lock.Policy{MaxAttempts: 3, BlockDuration: time.Minute}},
		storage.NewMemoryStore(storage.TTLConfig{}),
		nil,
		lock.LocalVerifier(f.passwords.VerifyForUser),
		nil,
		broadcast.NewHub(),
		logger,
	)
	f.handler = NewHandler(
		logger,
		f.passwords,
		f.issuer,
		f.methods,
		fakeTenants{tenantID: f.tenantID},
		f.locks,
		httputil.TokenWriter{Cookies: httputil.DefaultCookieConfig(), AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
	)
	return f
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		wantDurability domain.Durability
	}{
		{"invalid json", `{invalid}`, http.StatusBadRequest, ""},
		{"missing password", `{"email":"ada@example.com"}`, http.StatusBadRequest, ""},
		{"wrong password", `{"email":"ada@example.com","password":"nope"}`, http.StatusUnauthorized, ""},
		{"ephemeral", `{"email":"ada@example.com","password":"Secret123"}`, http.StatusOK, domain.DurabilityEphemeral},
		{"remembered", `{"email":"ada@example.com","password":"Secret123","remember_me":true}`, http.StatusOK, domain.DurabilityRemembered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/password/login", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			f.handler.Login(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("Status code = %d, want %d", rec.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				if len(f.issuer.opts) != 0 {
					t.Error("no session should be issued")
				}
				return
			}

			if len(f.issuer.opts) != 1 {
				t.Fatalf("issued %d sessions, want 1", len(f.issuer.opts))
			}
			opts := f.issuer.opts[0]
			if opts.Durability != tt.wantDurability {
				t.Errorf("Durability = %q, want %q", opts.Durability, tt.wantDurability)
			}
			if opts.TenantID != f.tenantID {
				t.Errorf("TenantID = %v, want %v", opts.TenantID, f.tenantID)
			}
			if opts.AuthMethod != domain.AuthMethodPassword {
				t.Errorf("AuthMethod = %q", opts.AuthMethod)
			}
			if len(f.methods.kinds) != 1 || f.methods.kinds[0] != domain.AuthMethodPassword {
				t.Errorf("recorded methods = %v", f.methods.kinds)
			}
			if n := len(rec.Result().Cookies()); n != 2 {
				t.Errorf("got %d cookies, want 2", n)
			}
		})
	}
}

func TestLogin_MobileGetsTokensInBody(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/password/login", bytes.NewBufferString(`{"email":"ada@example.com","password":"Secret123"}`))
	req.Header.Set("X-Client-Type", "mobile")
	rec := httptest.NewRecorder()

	f.handler.Login(rec, req)

	var resp httputil.TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken != "access" || resp.RefreshToken != "refresh" {
		t.Errorf("tokens = %+v", resp)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("mobile clients should not get cookies")
	}
}

func TestRegister_Conflict(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/password/register", bytes.NewBufferString(`{"email":"ada@example.com","password":"Secret123"}`))
	rec := httptest.NewRecorder()

	f.handler.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestRegister_Created(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/password/register", bytes.NewBufferString(`{"email":"new@example.com","password":"Secret123","name":"New"}`))
	rec := httptest.NewRecorder()

	f.handler.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusCreated)
	}
	if len(f.issuer.opts) != 1 {
		t.Errorf("issued %d sessions, want 1", len(f.issuer.opts))
	}
}

func (f *fixture) authed(h http.HandlerFunc) http.Handler {
	return middleware.Auth(staticValidator{f.claims})(h)
}

func (f *fixture) ref() lock.SessionRef {
	return lock.SessionRef{
		SessionID: uuid.MustParse(f.claims.ID),
		UserID:    uuid.MustParse(f.claims.Subject),
	}
}

func (f *fixture) verify(t *testing.T, password string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/verify-password", bytes.NewBufferString(`{"password":"`+password+`"}`))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	f.authed(f.handler.VerifyPassword).ServeHTTP(rec, req)
	return rec
}

type staticValidator struct{ claims *auth.AccessTokenClaims }

func (s staticValidator) ValidateAccessToken(string) (*auth.AccessTokenClaims, error) {
	return s.claims, nil
}

func TestVerifyPassword(t *testing.T) {
	tests := []struct {
		name           string
		hasCred        bool
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{"valid", true, `{"password":"Secret123"}`, http.StatusOK, `{"valid":true}`},
		{"invalid", true, `{"password":"nope"}`, http.StatusOK, `{"valid":false}`},
		{"no password credential", false, `{"password":"x"}`, http.StatusBadRequest, `{"error":"password_auth_not_available"}`},
		{"empty", true, `{"password":""}`, http.StatusBadRequest, `{"error":"password is required"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.passwords.hasCred = tt.hasCred

			req := httptest.NewRequest(http.MethodPost, "/v1/auth/verify-password", bytes.NewBufferString(tt.body))
			req.Header.Set("Authorization", "Bearer token")
			rec := httptest.NewRecorder()

			f.authed(f.handler.VerifyPassword).ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("Status code = %d, want %d", rec.Code, tt.expectedStatus)
			}
			if got := string(bytes.TrimSpace(rec.Body.Bytes())); got != tt.expectedBody {
				t.Errorf("body = %s, want %s", got, tt.expectedBody)
			}
		})
	}
}

func TestVerifyPassword_LockedSessionCountsFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.locks.Lock(ctx, f.ref(), lock.ReasonInactivity); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := f.verify(t, "nope")
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := f.verify(t, "Secret123")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("blocked session: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	st, err := f.locks.Status(ctx, f.ref())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != lock.KindBlocked || st.FailedAttempts != 3 {
		t.Errorf("status = %s with %d attempts, want blocked with 3", st.State, st.FailedAttempts)
	}
}

func TestVerifyPassword_SignedOutSession(t *testing.T) {
	f := newFixture()
	if err := f.locks.SignOut(context.Background(), f.ref()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	rec := f.verify(t, "Secret123")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
