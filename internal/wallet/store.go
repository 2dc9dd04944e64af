// Package wallet holds participant balances behind an atomic
// conditional-debit / credit contract. Amounts are kept in whole cents.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive with at most two decimal places")
	ErrBalanceOverflow   = errors.New("balance out of range")
	// ErrReferenceClosed is returned for a debit whose reference was already
	// refunded.
	ErrReferenceClosed = errors.New("reference already refunded")
)

// Store is the balance collaborator used by the round ledger. Both mutations
// are atomic per participant; accounts are opened on first use.
//
// Every mutation carries a reference. Replaying a mutation with a reference
// that was already applied changes nothing and returns the current balance,
// so a caller that lost the outcome of a call can safely repeat it.
type Store interface {
	// DebitIfSufficient removes amount when the balance covers it and returns
	// the new balance, or ErrInsufficientFunds without touching the balance.
	DebitIfSufficient(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error)
	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error)
	// Refund returns the debit made under ref, if any, and closes ref so that
	// a debit arriving later under the same reference is refused.
	Refund(ctx context.Context, participantID, ref string) (decimal.Decimal, error)
	Balance(ctx context.Context, participantID string) (decimal.Decimal, error)
}

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// ToCents converts a positive amount with at most two decimal places that
// fits in an int64 number of cents.
func ToCents(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	cents := amount.Mul(hundred)
	if cents.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return cents.IntPart(), nil
}

// addCents adds two non-negative cent counts, refusing to wrap.
func addCents(balance, cents int64) (int64, error) {
	if balance > math.MaxInt64-cents {
		return 0, ErrBalanceOverflow
	}
	return balance + cents, nil
}

// FromCents converts whole cents back to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func openingCents(opening decimal.Decimal) int64 {
	cents, err := ToCents(opening.Truncate(2))
	if err != nil {
		return 0
	}
	return cents
}
