package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/broadcast"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
)

const (
	stateKeyPrefix    = "lock:state:"
	inflightKeyPrefix = "lock:inflight:"

	DefaultVerifyTimeout = 30 * time.Second
	DefaultSignedOutTTL  = time.Hour
)

// SessionRef identifies the session being locked or unlocked.
type SessionRef struct {
	SessionID  uuid.UUID
	UserID     uuid.UUID
	Durability domain.Durability
	// AccessToken is forwarded to remote verifiers.
	AccessToken string
	// MethodHint is the amr claim recorded at login.
	MethodHint string
}

// MethodResolver picks the unlock method for an identity.
type MethodResolver interface {
	Resolve(ctx context.Context, identityID uuid.UUID, hint string) domain.AuthMethodKind
}

// CredentialVerifier checks a password for the identity behind a session.
// It returns domain.ErrPasswordAuthUnavailable when the identity has no
// password credential.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, ref SessionRef, password string) (bool, error)
}

// LocalVerifier adapts an in-process password check to CredentialVerifier.
type LocalVerifier func(ctx context.Context, userID uuid.UUID, password string) (bool, error)

// VerifyPassword implements CredentialVerifier.
func (f LocalVerifier) VerifyPassword(ctx context.Context, ref SessionRef, password string) (bool, error) {
	return f(ctx, ref.UserID, password)
}

// FederatedInitiator starts a provider round trip that comes back to
// CompleteFederatedUnlock.
type FederatedInitiator interface {
	InitiateUnlock(ctx context.Context, sessionID, identityID uuid.UUID, durability domain.Durability, redirectURI string) (string, error)
}

// Continuation runs once after a successful unlock.
type Continuation func(ctx context.Context, ref SessionRef)

// Outcome classifies an unlock attempt.
type Outcome string

const (
	OutcomeUnlocked       Outcome = "unlocked"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeBlocked        Outcome = "blocked"
	OutcomeMethodMismatch Outcome = "method_mismatch"
	OutcomeError          Outcome = "error"
	OutcomeRejected       Outcome = "rejected"
)

// Recorder receives lock metrics.
type Recorder interface {
	Transition(from, to Kind)
	UnlockAttempt(method domain.AuthMethodKind, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) Transition(Kind, Kind) {}

func (nopRecorder) UnlockAttempt(domain.AuthMethodKind, Outcome) {}

// Action is something the user can do from the current state.
type Action string

const (
	ActionSubmitPassword Action = "submit_password"
	ActionReauthenticate Action = "reauthenticate"
	ActionWait           Action = "wait"
	ActionSignOut        Action = "sign_out"
)

// Status describes a session's lock state for presentation.
type Status struct {
	State            Kind                  `json:"state"`
	Method           domain.AuthMethodKind `json:"method,omitempty"`
	Reason           Reason                `json:"reason,omitempty"`
	FailedAttempts   int                   `json:"failed_attempts"`
	MaxAttempts      int                   `json:"max_attempts"`
	BlockedUntil     *time.Time            `json:"blocked_until,omitempty"`
	RemainingSeconds int                   `json:"remaining_seconds,omitempty"`
	Actions          []Action              `json:"actions"`
}

// Result is the outcome of an unlock attempt.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Status  Status  `json:"status"`
}

// Config holds controller settings.
type Config struct {
	Policy        Policy
	VerifyTimeout time.Duration
	// SignedOutTTL is how long a signed out session stays refused. It must
	// cover the lifetime of the session's access tokens.
	SignedOutTTL time.Duration
}

// Controller drives the lock state machine for sessions. State is shared
// through storage so every instance and tab sees the same lock.
type Controller struct {
	config    Config
	store     storage.Store
	fallback  storage.Store
	resolver  MethodResolver
	verifier  CredentialVerifier
	federated FederatedInitiator
	notifier  broadcast.Notifier
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewController creates a lock controller.
func NewController(
	config Config,
	store storage.Store,
	resolver MethodResolver,
	verifier CredentialVerifier,
	federated FederatedInitiator,
	notifier broadcast.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	config.Policy = config.Policy.withDefaults()
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = DefaultVerifyTimeout
	}
	if config.SignedOutTTL <= 0 {
		config.SignedOutTTL = DefaultSignedOutTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		config:    config,
		store:     store,
		fallback:  storage.NewMemoryStore(storage.TTLConfig{}),
		resolver:  resolver,
		verifier:  verifier,
		federated: federated,
		notifier:  notifier,
		recorder:  nopRecorder{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the active lockout policy.
func (c *Controller) Policy() Policy {
	return c.config.Policy
}

// State returns the current state of a session, applying any elapsed block.
func (c *Controller) State(ctx context.Context, ref SessionRef) (State, error) {
	rec := c.load(ctx, ref)
	st := c.tick(ctx, ref, rec)
	if st.Kind() == KindLocked && c.verificationInFlight(ctx, ref) {
		s := st.(Locked)
		return Verifying{Reason: s.Reason, FailedAttempts: s.FailedAttempts, Method: c.method(ctx, ref, rec)}, nil
	}
	return st, nil
}

// Status returns the presentable lock status of a session.
func (c *Controller) Status(ctx context.Context, ref SessionRef) (Status, error) {
	rec := c.load(ctx, ref)
	st := c.tick(ctx, ref, rec)
	var method domain.AuthMethodKind
	if IsGated(st) {
		method = c.method(ctx, ref, rec)
		if st.Kind() == KindLocked && c.verificationInFlight(ctx, ref) {
			s := st.(Locked)
			st = Verifying{Method: method, Reason: s.Reason, FailedAttempts: s.FailedAttempts}
		}
	}
	return c.status(st, method), nil
}

// Lock moves an unlocked session to locked. Locking a locked or blocked
// session changes nothing.
func (c *Controller) Lock(ctx context.Context, ref SessionRef, reason Reason) (Status, error) {
	rec := c.load(ctx, ref)
	cur := c.tick(ctx, ref, rec)

	next, err := Transition(cur, LockRequested{Reason: reason}, c.now(), c.config.Policy)
	if err != nil {
		return Status{}, err
	}
	if cur.Kind() == KindUnlocked {
		rec = c.record(ref, next, rec)
		c.save(ctx, ref, rec)
		c.recorder.Transition(cur.Kind(), next.Kind())
		c.logger.Info("session locked", "session_id", ref.SessionID, "user_id", ref.UserID, "reason", reasonOr(reason))
		if err := c.notifier.NotifyLock(ctx, ref.SessionID.String()); err != nil {
			c.logger.Warn("lock broadcast failed", "session_id", ref.SessionID, "error", err)
		}
	}
	return c.status(next, c.method(ctx, ref, rec)), nil
}

// SubmitPassword verifies a password and unlocks the session on success.
// Blocked sessions are rejected without contacting the verifier.
func (c *Controller) SubmitPassword(ctx context.Context, ref SessionRef, password string, onUnlock Continuation) (*Result, error) {
	rec := c.load(ctx, ref)
	cur := c.tick(ctx, ref, rec)
	if err := gate(cur, c.now()); err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return nil, err
	}

	method := c.method(ctx, ref, rec)
	switch method {
	case domain.AuthMethodFederated:
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return nil, domain.ErrWrongUnlockMethod
	case domain.AuthMethodPassword:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAuthMethod, method)
	}

	release, err := c.acquire(ctx, ref)
	if err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return nil, err
	}
	defer release()

	// Re-read under the guard so an attempt finished by another instance
	// is not counted twice.
	rec = c.load(ctx, ref)
	cur = c.tick(ctx, ref, rec)
	verifying, err := Transition(cur, VerificationStarted{Method: domain.AuthMethodPassword}, c.now(), c.config.Policy)
	if err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, c.config.VerifyTimeout)
	ok, verr := c.verifier.VerifyPassword(vctx, ref, password)
	cancel()

	switch {
	case errors.Is(verr, domain.ErrPasswordAuthUnavailable):
		next, _ := Transition(verifying, MethodMismatch{}, c.now(), c.config.Policy)
		rec = c.record(ref, next, rec)
		rec.MethodOverride = domain.AuthMethodFederated
		c.save(ctx, ref, rec)
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeMethodMismatch)
		c.logger.Info("unlock method reclassified", "session_id", ref.SessionID, "method", domain.AuthMethodFederated)
		return &Result{Outcome: OutcomeMethodMismatch, Status: c.status(next, domain.AuthMethodFederated)}, nil

	case verr != nil:
		next, _ := Transition(verifying, VerificationErrored{}, c.now(), c.config.Policy)
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeError)
		c.logger.Warn("password verification failed", "session_id", ref.SessionID, "state", next.Kind(), "error", verr)
		if errors.Is(verr, domain.ErrVerifierUnavailable) {
			return nil, verr
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrVerifierUnavailable, verr)

	case !ok:
		next, err := Transition(verifying, VerificationFailed{}, c.now(), c.config.Policy)
		if err != nil {
			return nil, err
		}
		rec = c.record(ref, next, rec)
		c.save(ctx, ref, rec)
		c.recorder.Transition(verifying.Kind(), next.Kind())
		outcome := OutcomeInvalid
		if next.Kind() == KindBlocked {
			outcome = OutcomeBlocked
			c.logger.Warn("session unlock blocked", "session_id", ref.SessionID, "user_id", ref.UserID,
				"failed_attempts", FailedAttempts(next), "blocked_until", next.(Blocked).Until())
		}
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, outcome)
		return &Result{Outcome: outcome, Status: c.status(next, method)}, nil
	}

	next, err := Transition(verifying, VerificationSucceeded{}, c.now(), c.config.Policy)
	if err != nil {
		return nil, err
	}
	c.unlocked(ctx, ref, verifying.Kind(), onUnlock)
	c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeUnlocked)
	return &Result{Outcome: OutcomeUnlocked, Status: c.status(next, "")}, nil
}

// CheckPassword verifies a password for a session without unlocking it.
// Unlocked sessions are checked directly. Failures from a locked session
// count toward its block, and blocked or signed out sessions are rejected
// without contacting the verifier.
func (c *Controller) CheckPassword(ctx context.Context, ref SessionRef, password string) (bool, error) {
	rec := c.load(ctx, ref)
	cur := c.tick(ctx, ref, rec)
	if _, ok := cur.(Unlocked); ok {
		vctx, cancel := context.WithTimeout(ctx, c.config.VerifyTimeout)
		defer cancel()
		return c.verifier.VerifyPassword(vctx, ref, password)
	}
	if err := gate(cur, c.now()); err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return false, err
	}

	release, err := c.acquire(ctx, ref)
	if err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return false, err
	}
	defer release()

	rec = c.load(ctx, ref)
	cur = c.tick(ctx, ref, rec)
	verifying, err := Transition(cur, VerificationStarted{Method: domain.AuthMethodPassword}, c.now(), c.config.Policy)
	if err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodPassword, OutcomeRejected)
		return false, err
	}

	vctx, cancel := context.WithTimeout(ctx, c.config.VerifyTimeout)
	ok, err := c.verifier.VerifyPassword(vctx, ref, password)
	cancel()
	if err != nil || ok {
		return ok, err
	}

	next, err := Transition(verifying, VerificationFailed{}, c.now(), c.config.Policy)
	if err != nil {
		return false, err
	}
	c.save(ctx, ref, c.record(ref, next, rec))
	c.recorder.Transition(verifying.Kind(), next.Kind())
	outcome := OutcomeInvalid
	if next.Kind() == KindBlocked {
		outcome = OutcomeBlocked
		c.logger.Warn("session unlock blocked", "session_id", ref.SessionID, "user_id", ref.UserID,
			"failed_attempts", FailedAttempts(next), "blocked_until", next.(Blocked).Until())
	}
	c.recorder.UnlockAttempt(domain.AuthMethodPassword, outcome)
	return false, nil
}

// BeginFederatedUnlock starts a provider re-authentication for a session
// whose unlock method is federated. It returns the provider URL.
func (c *Controller) BeginFederatedUnlock(ctx context.Context, ref SessionRef, redirectURI string) (string, error) {
	rec := c.load(ctx, ref)
	cur := c.tick(ctx, ref, rec)
	if err := gate(cur, c.now()); err != nil {
		return "", err
	}

	switch m := c.method(ctx, ref, rec); m {
	case domain.AuthMethodPassword:
		return "", domain.ErrWrongUnlockMethod
	case domain.AuthMethodFederated:
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAuthMethod, m)
	}

	if c.federated == nil {
		return "", fmt.Errorf("%w: federated unlock not configured", domain.ErrVerifierUnavailable)
	}

	release, err := c.acquire(ctx, ref)
	if err != nil {
		return "", err
	}
	defer release()

	verifying, err := Transition(cur, VerificationStarted{Method: domain.AuthMethodFederated}, c.now(), c.config.Policy)
	if err != nil {
		return "", err
	}

	authURL, err := c.federated.InitiateUnlock(ctx, ref.SessionID, ref.UserID, ref.Durability, redirectURI)
	if err != nil {
		next, _ := Transition(verifying, VerificationErrored{}, c.now(), c.config.Policy)
		c.recorder.UnlockAttempt(domain.AuthMethodFederated, OutcomeError)
		c.logger.Warn("federated unlock initiation failed", "session_id", ref.SessionID, "state", next.Kind(), "error", err)
		return "", err
	}
	c.logger.Info("federated unlock started", "session_id", ref.SessionID)
	return authURL, nil
}

// CompleteFederatedUnlock unlocks a session after the provider confirmed the
// locked identity. Identity matching is the caller's job.
func (c *Controller) CompleteFederatedUnlock(ctx context.Context, ref SessionRef, onUnlock Continuation) (*Result, error) {
	release, err := c.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := c.load(ctx, ref)
	cur := c.tick(ctx, ref, rec)
	verifying, err := Transition(cur, VerificationStarted{Method: domain.AuthMethodFederated}, c.now(), c.config.Policy)
	if err != nil {
		c.recorder.UnlockAttempt(domain.AuthMethodFederated, OutcomeRejected)
		return nil, err
	}
	next, err := Transition(verifying, VerificationSucceeded{}, c.now(), c.config.Policy)
	if err != nil {
		return nil, err
	}
	c.unlocked(ctx, ref, verifying.Kind(), onUnlock)
	c.recorder.UnlockAttempt(domain.AuthMethodFederated, OutcomeUnlocked)
	return &Result{Outcome: OutcomeUnlocked, Status: c.status(next, "")}, nil
}

// SignOut ends the lock from any state. The session stays signed out for
// SignedOutTTL so its outstanding access tokens are refused. Revoking the
// session itself is the caller's job.
func (c *Controller) SignOut(ctx context.Context, ref SessionRef) error {
	rec := c.load(ctx, ref)
	cur := c.stateOf(rec)
	next, _ := Transition(cur, SignOutRequested{}, c.now(), c.config.Policy)

	c.tombstone(ctx, ref, c.record(ref, next, rec))
	if cur.Kind() != next.Kind() {
		c.recorder.Transition(cur.Kind(), next.Kind())
	}
	if err := c.notifier.NotifySignOut(ctx, ref.SessionID.String()); err != nil {
		c.logger.Warn("sign out broadcast failed", "session_id", ref.SessionID, "error", err)
	}
	c.logger.Info("session signed out from lock", "session_id", ref.SessionID, "from", cur.Kind())
	return nil
}

// unlocked runs the unlock side effects. Callers hold the in-flight guard,
// so this runs once per unlock.
func (c *Controller) unlocked(ctx context.Context, ref SessionRef, from Kind, onUnlock Continuation) {
	c.clear(ctx, ref)
	c.recorder.Transition(from, KindUnlocked)
	if err := c.notifier.NotifyUnlock(ctx, ref.SessionID.String()); err != nil {
		c.logger.Warn("unlock broadcast failed", "session_id", ref.SessionID, "error", err)
	}
	c.logger.Info("session unlocked", "session_id", ref.SessionID, "user_id", ref.UserID)
	if onUnlock != nil {
		onUnlock(ctx, ref)
	}
}

func gate(s State, now time.Time) error {
	switch st := s.(type) {
	case Unlocked:
		return domain.ErrNotLocked
	case SignedOut:
		return domain.ErrSignedOut
	case Blocked:
		if now.Before(st.Until()) {
			return domain.ErrUnlockBlocked
		}
	}
	return nil
}

func (c *Controller) acquire(ctx context.Context, ref SessionRef) (func(), error) {
	key := inflightKeyPrefix + ref.SessionID.String()
	won, err := c.store.Acquire(ctx, key, []byte(c.now().UTC().Format(time.RFC3339)), c.config.VerifyTimeout)
	if err != nil {
		c.logger.Warn("in-flight guard unavailable, using local guard", "session_id", ref.SessionID, "error", err)
		won, _ = c.fallback.Acquire(ctx, key, nil, c.config.VerifyTimeout)
		if !won {
			return nil, domain.ErrVerificationInFlight
		}
		return func() { _ = c.fallback.Delete(context.WithoutCancel(ctx), key) }, nil
	}
	if !won {
		return nil, domain.ErrVerificationInFlight
	}
	return func() {
		if err := c.store.Delete(context.WithoutCancel(ctx), key); err != nil {
			c.logger.Warn("release in-flight guard", "session_id", ref.SessionID, "error", err)
		}
	}, nil
}

func (c *Controller) verificationInFlight(ctx context.Context, ref SessionRef) bool {
	_, err := c.store.Get(ctx, inflightKeyPrefix+ref.SessionID.String())
	return err == nil
}

func (c *Controller) method(ctx context.Context, ref SessionRef, rec *domain.LockState) domain.AuthMethodKind {
	if rec != nil && rec.MethodOverride.Valid() {
		return rec.MethodOverride
	}
	if c.resolver == nil {
		return domain.DefaultAuthMethod
	}
	return c.resolver.Resolve(ctx, ref.UserID, ref.MethodHint)
}

// tick applies time-driven transitions and persists the result if it changed.
func (c *Controller) tick(ctx context.Context, ref SessionRef, rec *domain.LockState) State {
	cur := c.stateOf(rec)
	next, err := Transition(cur, Tick{}, c.now(), c.config.Policy)
	if err != nil || next.Kind() == cur.Kind() {
		return cur
	}
	c.save(ctx, ref, c.record(ref, next, rec))
	c.recorder.Transition(cur.Kind(), next.Kind())
	c.logger.Info("unlock block expired", "session_id", ref.SessionID, "failed_attempts", FailedAttempts(next))
	return next
}

func (c *Controller) status(s State, method domain.AuthMethodKind) Status {
	st := Status{
		State:          s.Kind(),
		FailedAttempts: FailedAttempts(s),
		MaxAttempts:    c.config.Policy.MaxAttempts,
		Actions:        []Action{},
	}
	switch v := s.(type) {
	case Locked:
		st.Reason = v.Reason
		st.Method = method
		switch method {
		case domain.AuthMethodFederated:
			st.Actions = []Action{ActionReauthenticate, ActionSignOut}
		case domain.AuthMethodPassword:
			st.Actions = []Action{ActionSubmitPassword, ActionSignOut}
		}
	case Verifying:
		st.Reason = v.Reason
		st.Method = method
		st.Actions = []Action{ActionSignOut}
	case Blocked:
		until := v.Until()
		st.Reason = v.Reason()
		st.Method = method
		st.BlockedUntil = &until
		st.RemainingSeconds = int((v.Remaining(c.now()) + time.Second - 1) / time.Second)
		st.Actions = []Action{ActionWait, ActionSignOut}
	case Unlocked, SignedOut:
	}
	return st
}
