package auth

import "time"

// LockoutState is the per-account failed-attempt counter and lock expiry.
// The authoritative copy lives on the account row; this value type only
// moves through LockoutPolicy transitions.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutPolicy decides when repeated failed logins lock an account.
// Transitions are pure; persistence is the account store's problem.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// OnFailedAttempt increments the counter and, once it reaches MaxAttempts,
// sets the lock expiry. The counter is never decremented here: only a
// successful attempt resets it.
func (p LockoutPolicy) OnFailedAttempt(state LockoutState, now time.Time) LockoutState {
	next := LockoutState{
		FailedAttempts: state.FailedAttempts + 1,
		LockedUntil:    state.LockedUntil,
	}
	if next.FailedAttempts >= p.MaxAttempts {
		until := now.Add(p.LockDuration)
		next.LockedUntil = &until
	}
	return next
}

func (p LockoutPolicy) OnSuccessfulAttempt(state LockoutState) LockoutState {
	return LockoutState{}
}

// IsLocked reports whether the lock expiry is strictly in the future.
// A lock expiring exactly now no longer blocks; expiry is re-evaluated,
// never actively cleared.
func (p LockoutPolicy) IsLocked(state LockoutState, now time.Time) bool {
	return state.LockedUntil != nil && state.LockedUntil.After(now)
}
