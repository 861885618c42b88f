package domain

import "errors"

// Validation errors: caller-side mistakes, rejected before any state
// mutation. Recoverable by correcting the input.
var (
	ErrInvalidTimes        = errors.New("invalid times: start_time must precede end_time")
	ErrInvalidReserve      = errors.New("invalid reserve: must be positive")
	ErrInvalidIncrement    = errors.New("invalid min_increment: must be positive")
	ErrInvalidExtendWindow = errors.New("invalid extend_window: must be non-zero")
	ErrInvalidExtendSecs   = errors.New("invalid extend_secs: must be non-zero")
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
)

// State errors: operation attempted in the wrong auction state. No retry
// without a state change.
var (
	ErrNotFound             = errors.New("auction not found")
	ErrAlreadySettled       = errors.New("auction already settled")
	ErrNotStarted           = errors.New("auction not started")
	ErrEnded                = errors.New("auction ended")
	ErrNotEnded             = errors.New("auction not ended")
	ErrCannotCancelWithBids = errors.New("cannot cancel auction with bids after start")
)

// Economic errors: bid rejected on business rules; the caller may resubmit
// with a higher amount.
var (
	ErrBelowReserve          = errors.New("bid total below reserve")
	ErrInsufficientIncrement = errors.New("bid total below leading total plus min increment")
)

// Infrastructure errors.
var (
	ErrLockHeld = errors.New("lock already held")
)
