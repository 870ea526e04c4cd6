package policy

import "time"

// LockoutState is the per-account failed-login bookkeeping. A zero
// LockoutEnd means no lockout has been set.
type LockoutState struct {
	FailedAttempts int
	LockoutEnd     time.Time
}

type Status int

const (
	Unlocked Status = iota
	Locked
)

func (s Status) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

type LockoutRule struct {
	MaxFailedAttempts  int
	Duration           time.Duration
	AllowedForNewUsers bool
}

func (r LockoutRule) Status(s LockoutState, now time.Time) Status {
	if !s.LockoutEnd.IsZero() && now.Before(s.LockoutEnd) {
		return Locked
	}
	return Unlocked
}

func (r LockoutRule) IsLocked(s LockoutState, now time.Time) bool {
	return r.Status(s, now) == Locked
}

// Current folds an expired lockout back to the initial state.
func (r LockoutRule) Current(s LockoutState, now time.Time) LockoutState {
	if !s.LockoutEnd.IsZero() && !now.Before(s.LockoutEnd) {
		return LockoutState{}
	}
	return s
}

// RegisterFailure is the transition for one failed credential check. While
// locked the state is left untouched; otherwise the counter grows and the
// lockout window opens once it reaches MaxFailedAttempts.
//
// Callers must apply it inside the store's per-account atomic section.
func (r LockoutRule) RegisterFailure(s LockoutState, now time.Time) LockoutState {
	if r.IsLocked(s, now) {
		return s
	}

	next := r.Current(s, now)
	next.FailedAttempts++
	if next.FailedAttempts >= r.MaxFailedAttempts {
		next.LockoutEnd = now.UTC().Add(r.Duration)
	}
	return next
}

// RegisterSuccess resets the counter unless the account is locked, in which
// case the state is returned unchanged and the login must be refused.
func (r LockoutRule) RegisterSuccess(s LockoutState, now time.Time) LockoutState {
	if r.IsLocked(s, now) {
		return s
	}
	return LockoutState{}
}
