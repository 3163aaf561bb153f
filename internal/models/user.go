package models

import (
	"time"
)

// User is the persisted credential record for one identity.
type User struct {
	ID             string
	Email          string // normalized, unique
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time // Temporary account lock expiration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LockExpired reports whether the record carries a lockout that has already lapsed.
func (u *User) LockExpired(now time.Time) bool {
	return u.LockedUntil != nil && !now.Before(*u.LockedUntil)
}

// LockoutPolicy sets when consecutive failures lock an account.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// AttemptState is the failure counter and lock written by one RegisterFailure.
type AttemptState struct {
	FailedAttempts int
	LockedUntil    *time.Time
	// LockStarted is set only on the failure that crossed the threshold.
	LockStarted bool
}

// RegisterFailure applies one failed password check to the record and returns
// the new state. A counter left over from an expired lockout starts again
// from zero. A lock already in force is kept as is.
func (u *User) RegisterFailure(now time.Time, policy LockoutPolicy) AttemptState {
	if u.IsLocked(now) {
		u.FailedAttempts++
		return AttemptState{FailedAttempts: u.FailedAttempts, LockedUntil: u.LockedUntil}
	}
	if u.LockExpired(now) {
		u.FailedAttempts = 0
	}
	u.FailedAttempts++
	u.LockedUntil = nil

	state := AttemptState{FailedAttempts: u.FailedAttempts}
	if u.FailedAttempts >= policy.Threshold {
		until := now.Add(policy.Duration)
		u.LockedUntil = &until
		state.LockedUntil = &until
		state.LockStarted = true
	}
	return state
}
