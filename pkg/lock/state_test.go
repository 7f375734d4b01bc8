package lock

import (
	"testing"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustTransition(t *testing.T, s State, e Event, now time.Time) State {
	t.Helper()
	next, err := Transition(s, e, now, DefaultPolicy())
	require.NoError(t, err)
	return next
}

func failOnce(t *testing.T, s State, now time.Time) State {
	t.Helper()
	v := mustTransition(t, s, VerificationStarted{Method: domain.AuthMethodPassword}, now)
	return mustTransition(t, v, VerificationFailed{}, now)
}

func TestTransition_FailuresBelowCeilingStayLocked(t *testing.T) {
	var s State = Locked{Reason: ReasonInactivity}
	for i := 1; i < 5; i++ {
		s = failOnce(t, s, t0)
		require.Equal(t, KindLocked, s.Kind())
		require.Equal(t, i, FailedAttempts(s))
	}
}

func TestTransition_FifthFailureBlocksForSixtySeconds(t *testing.T) {
	var s State = Locked{Reason: ReasonInactivity}
	for i := 0; i < 5; i++ {
		s = failOnce(t, s, t0)
	}
	b, ok := s.(Blocked)
	require.True(t, ok, "got %s", s.Kind())
	require.Equal(t, 5, b.FailedAttempts())
	require.Equal(t, t0.Add(60*time.Second), b.Until())
	require.Equal(t, 60*time.Second, b.Remaining(t0))
}

func TestTransition_BlockedRejectsVerification(t *testing.T) {
	b, err := NewBlocked(ReasonInactivity, 5, t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = Transition(b, VerificationStarted{Method: domain.AuthMethodPassword}, t0.Add(59*time.Second), DefaultPolicy())
	require.ErrorIs(t, err, domain.ErrUnlockBlocked)

	_, err = Transition(b, VerificationStarted{Method: domain.AuthMethodFederated}, t0, DefaultPolicy())
	require.ErrorIs(t, err, domain.ErrUnlockBlocked)
}

func TestTransition_BlockExpiryKeepsCounter(t *testing.T) {
	b, err := NewBlocked(ReasonInactivity, 5, t0.Add(time.Minute))
	require.NoError(t, err)

	s := mustTransition(t, b, Tick{}, t0.Add(30*time.Second))
	require.Equal(t, KindBlocked, s.Kind())

	s = mustTransition(t, b, Tick{}, t0.Add(time.Minute))
	require.Equal(t, Locked{Reason: ReasonInactivity, FailedAttempts: 5}, s)

	// one more failure blocks again
	s = failOnce(t, s, t0.Add(2*time.Minute))
	require.Equal(t, KindBlocked, s.Kind())
	require.Equal(t, 6, FailedAttempts(s))
}

func TestTransition_ExpiredBlockAcceptsVerification(t *testing.T) {
	b, err := NewBlocked(ReasonManual, 5, t0)
	require.NoError(t, err)

	s := mustTransition(t, b, VerificationStarted{Method: domain.AuthMethodPassword}, t0)
	require.Equal(t, Verifying{Method: domain.AuthMethodPassword, Reason: ReasonManual, FailedAttempts: 5}, s)
}

func TestTransition_SuccessClearsCounter(t *testing.T) {
	var s State = Locked{Reason: ReasonInactivity}
	s = failOnce(t, s, t0)
	s = failOnce(t, s, t0)

	v := mustTransition(t, s, VerificationStarted{Method: domain.AuthMethodPassword}, t0)
	s = mustTransition(t, v, VerificationSucceeded{}, t0)
	require.Equal(t, Unlocked{}, s)
	require.Zero(t, FailedAttempts(s))
}

func TestTransition_MismatchAndErrorsDoNotCount(t *testing.T) {
	for _, ev := range []Event{MethodMismatch{}, VerificationErrored{}} {
		v := Verifying{Method: domain.AuthMethodPassword, Reason: ReasonInactivity, FailedAttempts: 2}
		s := mustTransition(t, v, ev, t0)
		require.Equal(t, Locked{Reason: ReasonInactivity, FailedAttempts: 2}, s)
	}
}

func TestTransition_LockIsNotReentrant(t *testing.T) {
	s := mustTransition(t, Unlocked{}, LockRequested{}, t0)
	require.Equal(t, Locked{Reason: ReasonInactivity}, s)

	locked := Locked{Reason: ReasonInactivity, FailedAttempts: 3}
	require.Equal(t, locked, mustTransition(t, locked, LockRequested{Reason: ReasonManual}, t0))

	b, err := NewBlocked(ReasonInactivity, 5, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, b, mustTransition(t, b, LockRequested{}, t0))
}

func TestTransition_SecondVerificationInFlight(t *testing.T) {
	v := Verifying{Method: domain.AuthMethodPassword}
	_, err := Transition(v, VerificationStarted{Method: domain.AuthMethodPassword}, t0, DefaultPolicy())
	require.ErrorIs(t, err, domain.ErrVerificationInFlight)
}

func TestTransition_SignOutFromAnyState(t *testing.T) {
	b, err := NewBlocked(ReasonInactivity, 5, t0.Add(time.Minute))
	require.NoError(t, err)

	states := []State{
		Unlocked{},
		Locked{Reason: ReasonInactivity},
		Verifying{Method: domain.AuthMethodFederated},
		b,
		SignedOut{},
	}
	for _, s := range states {
		t.Run(string(s.Kind()), func(t *testing.T) {
			require.Equal(t, SignedOut{}, mustTransition(t, s, SignOutRequested{}, t0))
		})
	}
}

func TestTransition_IllegalEvents(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
		want  error
	}{
		{"unlocked verify", Unlocked{}, VerificationStarted{Method: domain.AuthMethodPassword}, domain.ErrNotLocked},
		{"locked success", Locked{}, VerificationSucceeded{}, domain.ErrIllegalTransition},
		{"locked failure", Locked{}, VerificationFailed{}, domain.ErrIllegalTransition},
		{"locked bad method", Locked{}, VerificationStarted{Method: "sms"}, domain.ErrInvalidAuthMethod},
		{"signed out lock", SignedOut{}, LockRequested{}, domain.ErrSignedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transition(tt.state, tt.event, t0, DefaultPolicy())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewBlocked_RejectsZeroAttempts(t *testing.T) {
	_, err := NewBlocked(ReasonInactivity, 0, t0)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = NewBlocked(ReasonInactivity, 5, time.Time{})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestPolicy_CustomCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 2, BlockDuration: 10 * time.Second}
	v := Verifying{Method: domain.AuthMethodPassword, FailedAttempts: 1}
	s, err := Transition(v, VerificationFailed{}, t0, p)
	require.NoError(t, err)
	require.Equal(t, t0.Add(10*time.Second), s.(Blocked).Until())
}
