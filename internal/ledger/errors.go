package ledger

import "errors"

// Validation errors: rejected synchronously, nothing changed.
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrUnknownUser   = errors.New("unknown user")
)

// Conflict errors: rejected synchronously, safe to retry after the caller
// observes current state.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateBet        = errors.New("duplicate bet")
	ErrNoActiveBet         = errors.New("no active bet")
	ErrRoundNotRunning     = errors.New("round not running")
)

// ErrStoreUnavailable marks a durable-store failure. The in-memory state
// stays consistent; writes are retried asynchronously.
var ErrStoreUnavailable = errors.New("store unavailable")
