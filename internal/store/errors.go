// Package store defines the sentinel errors shared by the account and
// contest-state stores. Callers should use errors.Is to match these values.
package store

import "errors"

var (
	// Roster errors.
	ErrNotFound = errors.New("no such account")
	ErrConflict = errors.New("account already exists")

	// Validation errors. A mutation that would violate a record invariant
	// (malformed date, bad slot index, close before open) fails with this
	// value and leaves the stored record unchanged.
	ErrValidation  = errors.New("validation error")
	ErrInvalidSlot = errors.New("invalid slot number")

	// Authentication-specific errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("login disabled")
	ErrGraceExpired       = errors.New("password change grace period expired")

	// ErrLockTimeout means the store is busy. The operation did not run and
	// may be retried.
	ErrLockTimeout = errors.New("store busy: lock acquisition timed out")

	// ErrSchema means an on-disk store file could not be decoded into a
	// valid record set. This is never routine input validation: it signals
	// disk corruption or a concurrent-write bug and must be surfaced
	// loudly rather than auto-repaired.
	ErrSchema = errors.New("store file failed schema validation")
)
