// Package oauthbridge runs the provider round trip for federated sign-in
// and for unlocking a locked session with a federated identity.
package oauthbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/auth"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
)

const (
	stateKeyPrefix     = "oauth:state:"
	processedKeyPrefix = "oauth:processed:"

	// StateTTL bounds how long a callback may take to arrive.
	StateTTL = 10 * time.Minute
	// processedTTL outlives the state so late replays are still recognised.
	processedTTL = 2 * StateTTL
)

// Flow is what the round trip was started for.
type Flow string

const (
	FlowLogin  Flow = "login"
	FlowUnlock Flow = "unlock"
)

// Phase is the progress of one round trip.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRedirecting      Phase = "redirecting"
	PhaseAwaitingCallback Phase = "awaiting_callback"
	PhaseCompleting       Phase = "completing"
	PhaseSuccess          Phase = "success"
	PhaseFailure          Phase = "failure"
)

// Provider talks to the identity provider.
type Provider interface {
	AuthCodeURL(state, nonce, loginHint string) string
	Exchange(ctx context.Context, code string) (string, error)
	Verify(ctx context.Context, idToken, nonce string) (*auth.ExternalIdentity, error)
}

// Accounts maps provider identities onto local identities.
type Accounts interface {
	// Lookup returns domain.ErrIdentityNotFound when nothing is linked.
	Lookup(ctx context.Context, ext *auth.ExternalIdentity) (uuid.UUID, error)
	Provision(ctx context.Context, ext *auth.ExternalIdentity) (uuid.UUID, bool, error)
}

// UserLookup loads identities.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// MethodRecorder updates the auth method registry after a sign-in.
type MethodRecorder interface {
	RecordUse(ctx context.Context, identityID uuid.UUID, kind domain.AuthMethodKind, provider string) error
}

// LoginTenants picks the tenant a fresh session starts in.
type LoginTenants interface {
	ResolveLoginTenant(ctx context.Context, user *domain.User) (domain.TenantAccess, error)
}

// SessionIssuer creates sessions.
type SessionIssuer interface {
	IssueSession(ctx context.Context, userID uuid.UUID, opts auth.IssueSessionOpts) (*domain.TokenPair, error)
}

// Recorder observes callback outcomes.
type Recorder interface {
	OAuthCallback(flow Flow, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) OAuthCallback(Flow, string) {}

// Callback outcomes passed to Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeReplayed = "replayed"
	OutcomeMismatch = "mismatch"
)

// InitiateRequest starts a round trip.
type InitiateRequest struct {
	Flow Flow
	// SessionID and LockedIdentityID are required for FlowUnlock.
	SessionID        uuid.UUID
	LockedIdentityID uuid.UUID
	LoginHint        string
	RedirectURI      string
	Durability       domain.Durability
}

// CallbackParams is what the provider sent back.
type CallbackParams struct {
	State     string
	Code      string
	IDToken   string
	Error     string
	IP        string
	UserAgent string
}

// Result describes a completed round trip. A replayed callback carries only
// Flow, Replayed and RedirectURI.
type Result struct {
	Flow        Flow
	Replayed    bool
	RedirectURI string
	Durability  domain.Durability

	UserID    uuid.UUID
	SessionID uuid.UUID

	// Login flow only.
	Created bool
	Tenant  domain.TenantAccess
	Tokens  *domain.TokenPair
}

// MismatchError reports an unlock completed by a different identity than
// the one that was locked. The caller must end every session of the locked
// identity.
type MismatchError struct {
	SessionID        uuid.UUID
	LockedIdentityID uuid.UUID
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, domain.ErrIdentityMismatch)
}

func (e *MismatchError) Unwrap() error { return domain.ErrIdentityMismatch }

type stateRecord struct {
	Flow             Flow              `json:"flow"`
	Phase            Phase             `json:"phase"`
	Nonce            string            `json:"nonce"`
	SessionID        uuid.UUID         `json:"session_id,omitempty"`
	LockedIdentityID uuid.UUID         `json:"locked_identity_id,omitempty"`
	RedirectURI      string            `json:"redirect_uri"`
	Durability       domain.Durability `json:"durability"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Bridge runs provider round trips.
type Bridge struct {
	provider Provider
	accounts Accounts
	users    UserLookup
	methods  MethodRecorder
	tenants  LoginTenants
	sessions SessionIssuer
	store    storage.Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Deps are the collaborators of a Bridge.
type Deps struct {
	Provider Provider
	Accounts Accounts
	Users    UserLookup
	Methods  MethodRecorder
	Tenants  LoginTenants
	Sessions SessionIssuer
	Store    storage.Store
	Recorder Recorder
	Logger   *slog.Logger
}

// New creates a bridge.
func New(d Deps) *Bridge {
	b := &Bridge{
		provider: d.Provider,
		accounts: d.Accounts,
		users:    d.Users,
		methods:  d.Methods,
		tenants:  d.Tenants,
		sessions: d.Sessions,
		store:    d.Store,
		recorder: d.Recorder,
		logger:   d.Logger,
		now:      time.Now,
	}
	if b.recorder == nil {
		b.recorder = nopRecorder{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Initiate stores a state record and returns the provider URL.
func (b *Bridge) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	switch req.Flow {
	case FlowLogin:
	case FlowUnlock:
		if req.SessionID == uuid.Nil || req.LockedIdentityID == uuid.Nil {
			return "", errors.New("unlock flow requires a session and locked identity")
		}
	default:
		return "", fmt.Errorf("unknown oauth flow %q", req.Flow)
	}
	if req.Durability == "" {
		req.Durability = domain.DurabilityEphemeral
	}

	state, err := auth.GenerateToken(32)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := auth.GenerateToken(32)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	rec := &stateRecord{
		Flow:             req.Flow,
		Phase:            PhaseRedirecting,
		Nonce:            nonce,
		SessionID:        req.SessionID,
		LockedIdentityID: req.LockedIdentityID,
		RedirectURI:      req.RedirectURI,
		Durability:       req.Durability,
		CreatedAt:        b.now().UTC(),
	}
	b.logPhase(rec, PhaseIdle)

	authURL := b.provider.AuthCodeURL(state, nonce, req.LoginHint)

	prev := rec.Phase
	rec.Phase = PhaseAwaitingCallback
	if err := b.saveState(ctx, state, rec); err != nil {
		return "", err
	}
	b.logPhase(rec, prev)
	return authURL, nil
}

// InitiateUnlock starts an unlock round trip for a locked session, hinting
// the provider with the locked identity's email.
func (b *Bridge) InitiateUnlock(ctx context.Context, sessionID, identityID uuid.UUID, durability domain.Durability, redirectURI string) (string, error) {
	user, err := b.users.GetByID(ctx, identityID)
	if err != nil {
		return "", err
	}
	return b.Initiate(ctx, InitiateRequest{
		Flow:             FlowUnlock,
		SessionID:        sessionID,
		LockedIdentityID: identityID,
		LoginHint:        user.Email,
		RedirectURI:      redirectURI,
		Durability:       durability,
	})
}

// Complete handles a provider callback. Each state is completed at most
// once; later callbacks with the same state return a replayed Result and
// have no side effects. When a known state fails, the returned Result still
// carries the flow, session and redirect of the round trip.
func (b *Bridge) Complete(ctx context.Context, p CallbackParams) (*Result, error) {
	if p.State == "" {
		return nil, domain.ErrOAuthStateNotFound
	}

	rec, err := b.loadState(ctx, p.State)
	if errors.Is(err, domain.ErrOAuthStateNotFound) {
		if res, ok := b.replayed(ctx, p.State); ok {
			return res, nil
		}
	}
	if err != nil {
		return nil, err
	}

	won, err := b.store.Acquire(ctx, processedKeyPrefix+p.State, []byte(rec.RedirectURI), processedTTL)
	if err != nil {
		return nil, err
	}
	if !won {
		b.recorder.OAuthCallback(rec.Flow, OutcomeReplayed)
		b.logger.Info("oauth callback replayed", "flow", rec.Flow)
		return &Result{Flow: rec.Flow, Replayed: true, RedirectURI: rec.RedirectURI}, nil
	}

	b.advance(ctx, p.State, rec, PhaseCompleting)
	res, err := b.complete(ctx, p, rec)
	if err != nil {
		b.advance(ctx, p.State, rec, PhaseFailure)
		outcome := OutcomeFailure
		if errors.Is(err, domain.ErrIdentityMismatch) {
			outcome = OutcomeMismatch
		}
		b.recorder.OAuthCallback(rec.Flow, outcome)
		b.logger.Warn("oauth callback failed", "flow", rec.Flow, "error", err)
		res = &Result{
			Flow:        rec.Flow,
			RedirectURI: rec.RedirectURI,
			Durability:  rec.Durability,
			UserID:      rec.LockedIdentityID,
			SessionID:   rec.SessionID,
		}
	} else {
		prev := rec.Phase
		rec.Phase = PhaseSuccess
		b.logPhase(rec, prev)
		b.recorder.OAuthCallback(rec.Flow, OutcomeSuccess)
	}

	if err := b.store.Delete(ctx, stateKeyPrefix+p.State); err != nil {
		b.logger.Warn("delete oauth state failed", "error", err)
	}
	return res, err
}

func (b *Bridge) complete(ctx context.Context, p CallbackParams, rec *stateRecord) (*Result, error) {
	if p.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrOAuthProvider, p.Error)
	}

	idToken := p.IDToken
	if idToken == "" {
		if p.Code == "" {
			return nil, fmt.Errorf("%w: callback carried no code or id token", domain.ErrOAuthProvider)
		}
		var err error
		idToken, err = b.provider.Exchange(ctx, p.Code)
		if err != nil {
			return nil, err
		}
	}

	ext, err := b.provider.Verify(ctx, idToken, rec.Nonce)
	if err != nil {
		return nil, err
	}

	switch rec.Flow {
	case FlowUnlock:
		return b.completeUnlock(ctx, ext, rec)
	case FlowLogin:
		return b.completeLogin(ctx, p, ext, rec)
	}
	return nil, fmt.Errorf("unknown oauth flow %q", rec.Flow)
}

func (b *Bridge) completeUnlock(ctx context.Context, ext *auth.ExternalIdentity, rec *stateRecord) (*Result, error) {
	userID, err := b.accounts.Lookup(ctx, ext)
	if err != nil && !errors.Is(err, domain.ErrIdentityNotFound) {
		return nil, err
	}
	if userID != rec.LockedIdentityID {
		return nil, &MismatchError{SessionID: rec.SessionID, LockedIdentityID: rec.LockedIdentityID}
	}
	return &Result{
		Flow:        FlowUnlock,
		RedirectURI: rec.RedirectURI,
		Durability:  rec.Durability,
		UserID:      userID,
		SessionID:   rec.SessionID,
	}, nil
}

func (b *Bridge) completeLogin(ctx context.Context, p CallbackParams, ext *auth.ExternalIdentity, rec *stateRecord) (*Result, error) {
	userID, created, err := b.accounts.Provision(ctx, ext)
	if err != nil {
		return nil, err
	}
	if err := b.methods.RecordUse(ctx, userID, domain.AuthMethodFederated, ext.Provider); err != nil {
		b.logger.Warn("record auth method use failed", "user_id", userID, "error", err)
	}

	user, err := b.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	tenant, err := b.tenants.ResolveLoginTenant(ctx, user)
	if err != nil {
		return nil, err
	}

	tokens, err := b.sessions.IssueSession(ctx, userID, auth.IssueSessionOpts{
		TenantID:   tenant.ID(),
		Durability: rec.Durability,
		AuthMethod: domain.AuthMethodFederated,
		IP:         p.IP,
		UserAgent:  p.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("federated login", "user_id", userID, "tenant_id", tenant.ID(), "created", created)
	return &Result{
		Flow:        FlowLogin,
		RedirectURI: rec.RedirectURI,
		Durability:  rec.Durability,
		UserID:      userID,
		SessionID:   tokens.SessionID,
		Created:     created,
		Tenant:      tenant,
		Tokens:      tokens,
	}, nil
}

func (b *Bridge) replayed(ctx context.Context, state string) (*Result, bool) {
	v, err := b.store.Get(ctx, processedKeyPrefix+state)
	if err != nil {
		return nil, false
	}
	b.recorder.OAuthCallback("", OutcomeReplayed)
	b.logger.Info("oauth callback replayed after completion")
	return &Result{Replayed: true, RedirectURI: string(v)}, true
}

func (b *Bridge) loadState(ctx context.Context, state string) (*stateRecord, error) {
	var rec stateRecord
	if err := storage.GetJSON(ctx, b.store, stateKeyPrefix+state, &rec); err != nil {
		if storage.IsNotFound(err) {
			return nil, domain.ErrOAuthStateNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (b *Bridge) saveState(ctx context.Context, state string, rec *stateRecord) error {
	return storage.SetTTLJSON(ctx, b.store, stateKeyPrefix+state, rec, StateTTL)
}

// advance records a phase change. A failed write is logged; the callback
// guard, not the record, decides what runs.
func (b *Bridge) advance(ctx context.Context, state string, rec *stateRecord, to Phase) {
	prev := rec.Phase
	rec.Phase = to
	if err := b.saveState(ctx, state, rec); err != nil {
		b.logger.Warn("save oauth state failed", "phase", to, "error", err)
	}
	b.logPhase(rec, prev)
}

func (b *Bridge) logPhase(rec *stateRecord, from Phase) {
	b.logger.Debug("oauth phase", "flow", rec.Flow, "from", from, "to", rec.Phase)
}
