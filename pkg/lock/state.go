// Package lock implements the session lock state machine and the controller
// that drives it from HTTP requests.
package lock

import (
	"fmt"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// Kind names a lock state.
type Kind string

const (
	KindUnlocked  Kind = "unlocked"
	KindLocked    Kind = "locked"
	KindVerifying Kind = "verifying"
	KindBlocked   Kind = "blocked"
	KindSignedOut Kind = "signed_out"
)

// Reason records why a session was locked.
type Reason string

const (
	ReasonInactivity Reason = "inactivity"
	ReasonManual     Reason = "manual"
)

// Policy holds the lockout limits.
type Policy struct {
	MaxAttempts   int
	BlockDuration time.Duration
}

// DefaultPolicy blocks for 60 seconds after 5 failures.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BlockDuration: 60 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BlockDuration <= 0 {
		p.BlockDuration = d.BlockDuration
	}
	return p
}

// State is one of Unlocked, Locked, Verifying, Blocked or SignedOut.
type State interface {
	Kind() Kind
	isState()
}

type Unlocked struct{}

type Locked struct {
	Reason         Reason
	FailedAttempts int
}

type Verifying struct {
	Method         domain.AuthMethodKind
	Reason         Reason
	FailedAttempts int
}

// Blocked can only be built with NewBlocked, which rejects zero attempts.
type Blocked struct {
	reason         Reason
	failedAttempts int
	until          time.Time
}

type SignedOut struct{}

// NewBlocked builds a Blocked state.
func NewBlocked(reason Reason, failedAttempts int, until time.Time) (Blocked, error) {
	if failedAttempts <= 0 {
		return Blocked{}, fmt.Errorf("%w: blocked with %d failed attempts", domain.ErrIllegalTransition, failedAttempts)
	}
	if until.IsZero() {
		return Blocked{}, fmt.Errorf("%w: blocked without deadline", domain.ErrIllegalTransition)
	}
	return Blocked{reason: reason, failedAttempts: failedAttempts, until: until}, nil
}

func (b Blocked) Reason() Reason      { return b.reason }
func (b Blocked) FailedAttempts() int { return b.failedAttempts }
func (b Blocked) Until() time.Time    { return b.until }

// Remaining returns the time left until the block ends, never negative.
func (b Blocked) Remaining(now time.Time) time.Duration {
	if d := b.until.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (Unlocked) Kind() Kind  { return KindUnlocked }
func (Locked) Kind() Kind    { return KindLocked }
func (Verifying) Kind() Kind { return KindVerifying }
func (Blocked) Kind() Kind   { return KindBlocked }
func (SignedOut) Kind() Kind { return KindSignedOut }

func (Unlocked) isState()  {}
func (Locked) isState()    {}
func (Verifying) isState() {}
func (Blocked) isState()   {}
func (SignedOut) isState() {}

// FailedAttempts returns the failure counter carried by s.
func FailedAttempts(s State) int {
	switch st := s.(type) {
	case Locked:
		return st.FailedAttempts
	case Verifying:
		return st.FailedAttempts
	case Blocked:
		return st.failedAttempts
	}
	return 0
}

// IsGated reports whether protected routes must be refused in state s.
func IsGated(s State) bool {
	switch s.(type) {
	case Locked, Verifying, Blocked:
		return true
	}
	return false
}

// Event is an input to Transition.
type Event interface {
	isEvent()
}

type LockRequested struct{ Reason Reason }
type VerificationStarted struct{ Method domain.AuthMethodKind }
type VerificationSucceeded struct{}
type VerificationFailed struct{}

// MethodMismatch means the verifier reported that the session cannot use
// the attempted method. It does not count as a failure.
type MethodMismatch struct{}

// VerificationErrored means the verifier could not be reached.
type VerificationErrored struct{}

// Tick advances time-driven transitions.
type Tick struct{}

type SignOutRequested struct{}

func (LockRequested) isEvent()         {}
func (VerificationStarted) isEvent()   {}
func (VerificationSucceeded) isEvent() {}
func (VerificationFailed) isEvent()    {}
func (MethodMismatch) isEvent()        {}
func (VerificationErrored) isEvent()   {}
func (Tick) isEvent()                  {}
func (SignOutRequested) isEvent()      {}

// Transition returns the state that follows s on event e at time now.
// It has no side effects.
func Transition(s State, e Event, now time.Time, p Policy) (State, error) {
	p = p.withDefaults()

	if _, ok := e.(SignOutRequested); ok {
		return SignedOut{}, nil
	}

	switch st := s.(type) {
	case Unlocked:
		switch ev := e.(type) {
		case LockRequested:
			return Locked{Reason: reasonOr(ev.Reason)}, nil
		case Tick:
			return st, nil
		}
		return st, domain.ErrNotLocked

	case Locked:
		switch ev := e.(type) {
		case LockRequested, Tick:
			return st, nil
		case VerificationStarted:
			if !ev.Method.Valid() {
				return st, domain.ErrInvalidAuthMethod
			}
			return Verifying{Method: ev.Method, Reason: st.Reason, FailedAttempts: st.FailedAttempts}, nil
		}
		return st, illegal(st, e)

	case Verifying:
		switch e.(type) {
		case VerificationSucceeded:
			return Unlocked{}, nil
		case VerificationFailed:
			attempts := st.FailedAttempts + 1
			if attempts >= p.MaxAttempts {
				return NewBlocked(st.Reason, attempts, now.Add(p.BlockDuration))
			}
			return Locked{Reason: st.Reason, FailedAttempts: attempts}, nil
		case MethodMismatch, VerificationErrored:
			return Locked{Reason: st.Reason, FailedAttempts: st.FailedAttempts}, nil
		case LockRequested, Tick:
			return st, nil
		case VerificationStarted:
			return st, domain.ErrVerificationInFlight
		}
		return st, illegal(st, e)

	case Blocked:
		expired := !now.Before(st.until)
		switch ev := e.(type) {
		case Tick:
			if expired {
				// The counter survives the block.
				return Locked{Reason: st.reason, FailedAttempts: st.failedAttempts}, nil
			}
			return st, nil
		case LockRequested:
			return st, nil
		case VerificationStarted:
			if !expired {
				return st, domain.ErrUnlockBlocked
			}
			return Transition(Locked{Reason: st.reason, FailedAttempts: st.failedAttempts}, ev, now, p)
		}
		return st, illegal(st, e)

	case SignedOut:
		return st, domain.ErrSignedOut
	}
	return s, fmt.Errorf("%w: unknown state %T", domain.ErrIllegalTransition, s)
}

func reasonOr(r Reason) Reason {
	if r == "" {
		return ReasonInactivity
	}
	return r
}

func illegal(s State, e Event) error {
	return fmt.Errorf("%w: %T in %s", domain.ErrIllegalTransition, e, s.Kind())
}
