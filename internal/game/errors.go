package game

import "errors"

// ErrorCode is the user-visible outcome of a rejected stake or cash-out.
type ErrorCode string

const (
	CodeInvalidAmount       ErrorCode = "InvalidAmount"
	CodeInsufficientFunds   ErrorCode = "InsufficientFunds"
	CodeDuplicateStake      ErrorCode = "DuplicateStake"
	CodeNoActiveStake       ErrorCode = "NoActiveStake"
	CodeAlreadySettled      ErrorCode = "AlreadySettled"
	CodeRoundAlreadyCrashed ErrorCode = "RoundAlreadyCrashed"
	CodeStaleRound          ErrorCode = "StaleRound"
	CodeLedgerUnavailable   ErrorCode = "LedgerUnavailable"
)

var (
	ErrInvalidAmount       = errors.New("stake must be positive with at most two decimal places")
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrDuplicateStake      = errors.New("stake already placed for this round")
	ErrNoActiveStake       = errors.New("no stake in this round")
	ErrAlreadySettled      = errors.New("already cashed out")
	ErrRoundAlreadyCrashed = errors.New("round already crashed")
	ErrStaleRound          = errors.New("round is not open")
	// ErrLedgerUnavailable wraps balance store failures. Nothing is recorded
	// when it is returned.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// CodeOf maps a ledger error to its wire code.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrDuplicateStake):
		return CodeDuplicateStake
	case errors.Is(err, ErrNoActiveStake):
		return CodeNoActiveStake
	case errors.Is(err, ErrAlreadySettled):
		return CodeAlreadySettled
	case errors.Is(err, ErrRoundAlreadyCrashed):
		return CodeRoundAlreadyCrashed
	case errors.Is(err, ErrStaleRound):
		return CodeStaleRound
	default:
		return CodeLedgerUnavailable
	}
}
