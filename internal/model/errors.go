package model

import "errors"

// Failure kinds. Every operation returns either success or one of these,
// usually wrapped with detail via fmt.Errorf("%w: ...").
var (
	ErrNotAuthorized       = errors.New("ledger: not authorized")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInsufficientAsset   = errors.New("ledger: insufficient asset")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrUserNotFound        = errors.New("ledger: user not found")
	ErrTradeNotFound       = errors.New("ledger: trade not found")
	ErrTradeExpired        = errors.New("ledger: trade expired")
	ErrAlreadyProcessed    = errors.New("ledger: trade already processed")

	// ErrInvalidTransition guards the trade state machine against being
	// asked to move to a non-terminal state.
	ErrInvalidTransition = errors.New("ledger: invalid trade transition")
)
