// Package common defines shared constants and sentinel errors used across
// the store, ledger and bookkeeping layers. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Store lifecycle errors.
	ErrLocked         = errors.New("store is locked")
	ErrWrongSecret    = errors.New("wrong secret")
	ErrNotInitialized = errors.New("store not initialized")
	ErrCorrupt        = errors.New("store file is corrupt")

	// Record-level errors.
	ErrNotFound = errors.New("not found")

	// Posting errors. ErrPreconditionFailed guarantees no writes happened;
	// ErrPostingFailed guarantees compensation has already been run.
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrPostingFailed      = errors.New("posting failed")
)
