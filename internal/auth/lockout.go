// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"time"
)

// Lockout policy constants.
const (
	// LockoutThreshold is the number of consecutive failures that locks
	// an account.
	LockoutThreshold = 3

	// LockoutDuration is how long an account stays locked. Expiry is the
	// only unlock transition; there is no explicit unlock.
	LockoutDuration = 30 * time.Minute
)

// IsLockedOut returns true if the lockout timestamp is set and after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// RemainingLockMinutes returns the whole minutes until the lock expires,
// rounded up. Always at least 1 while the lock is active, 0 otherwise.
func RemainingLockMinutes(lockedUntil *time.Time, now time.Time) int {
	if !IsLockedOut(lockedUntil, now) {
		return 0
	}
	remaining := lockedUntil.Sub(now)
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// NextFailureState computes the counter/lock transition for one more failed
// attempt given the current counter. The counter resets to zero exactly when
// a lock is imposed. This mirrors the conditional update the account store
// applies; it exists for decision logic and tests, not for persistence.
func NextFailureState(attempts int, now time.Time) LoginFailureState {
	next := attempts + 1
	if next >= LockoutThreshold {
		until := now.Add(LockoutDuration)
		return LoginFailureState{Attempts: 0, LockedUntil: &until}
	}
	return LoginFailureState{Attempts: next}
}
