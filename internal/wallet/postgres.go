package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore keeps balances in the accounts table (balance_cents) and
// mutation references in wallet_refs. The debit is a conditional UPDATE in
// the same transaction that claims the reference, so the check, the
// decrement and the reference are one step.
type PostgresStore struct {
	pool    *pgxpool.Pool
	opening int64
}

func NewPostgresStore(pool *pgxpool.Pool, opening decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, opening: openingCents(opening)}
}

const (
	openAccountSQL = `INSERT INTO accounts (participant_id, balance_cents) VALUES ($1, $2)
		ON CONFLICT (participant_id) DO NOTHING`

	claimRefSQL = `INSERT INTO wallet_refs (participant_id, ref, kind, amount_cents) VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_id, ref) DO NOTHING`

	lockRefSQL = `SELECT kind, amount_cents FROM wallet_refs
		WHERE participant_id = $1 AND ref = $2 FOR UPDATE`

	closeRefSQL = `UPDATE wallet_refs SET kind = 'refunded' WHERE participant_id = $1 AND ref = $2`

	debitSQL = `UPDATE accounts SET balance_cents = balance_cents - $2, updated_at = now()
		WHERE participant_id = $1 AND balance_cents >= $2
		RETURNING balance_cents`

	creditSQL = `UPDATE accounts SET balance_cents = balance_cents + $2::bigint, updated_at = now()
		WHERE participant_id = $1
		RETURNING balance_cents`

	balanceSQL = `SELECT balance_cents FROM accounts WHERE participant_id = $1`
)

func (s *PostgresStore) DebitIfSufficient(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Zero, err
	}

	var balance int64
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		claimed, err := s.claim(ctx, tx, participantID, ref, "debit", cents)
		if err != nil {
			return err
		}
		if !claimed {
			kind, _, err := s.lockRef(ctx, tx, participantID, ref)
			if err != nil {
				return err
			}
			if kind == "refunded" {
				return ErrReferenceClosed
			}
			return tx.QueryRow(ctx, balanceSQL, participantID).Scan(&balance)
		}
		return tx.QueryRow(ctx, debitSQL, participantID, cents).Scan(&balance)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		bal, balErr := s.Balance(ctx, participantID)
		if balErr != nil {
			return decimal.Zero, ErrInsufficientFunds
		}
		return bal, ErrInsufficientFunds
	}
	if errors.Is(err, ErrReferenceClosed) {
		return decimal.Zero, err
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres debit: %w", err)
	}
	return FromCents(balance), nil
}

func (s *PostgresStore) Credit(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Zero, err
	}

	var balance int64
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		claimed, err := s.claim(ctx, tx, participantID, ref, "credit", cents)
		if err != nil {
			return err
		}
		if !claimed {
			return tx.QueryRow(ctx, balanceSQL, participantID).Scan(&balance)
		}
		return tx.QueryRow(ctx, creditSQL, participantID, cents).Scan(&balance)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres credit: %w", err)
	}
	return FromCents(balance), nil
}

func (s *PostgresStore) Refund(ctx context.Context, participantID, ref string) (decimal.Decimal, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		claimed, err := s.claim(ctx, tx, participantID, ref, "refunded", 0)
		if err != nil {
			return err
		}
		if !claimed {
			kind, cents, err := s.lockRef(ctx, tx, participantID, ref)
			if err != nil {
				return err
			}
			if kind == "debit" {
				if _, err := tx.Exec(ctx, closeRefSQL, participantID, ref); err != nil {
					return err
				}
				return tx.QueryRow(ctx, creditSQL, participantID, cents).Scan(&balance)
			}
		}
		return tx.QueryRow(ctx, balanceSQL, participantID).Scan(&balance)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres refund: %w", err)
	}
	return FromCents(balance), nil
}

func (s *PostgresStore) Balance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, balanceSQL, participantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return FromCents(s.opening), nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres balance: %w", err)
	}
	return FromCents(balance), nil
}

// claim opens the account and records ref. It reports false when ref was
// already recorded for the participant.
func (s *PostgresStore) claim(ctx context.Context, tx pgx.Tx, participantID, ref, kind string, cents int64) (bool, error) {
	if _, err := tx.Exec(ctx, openAccountSQL, participantID, s.opening); err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, claimRefSQL, participantID, ref, kind, cents)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) lockRef(ctx context.Context, tx pgx.Tx, participantID, ref string) (string, int64, error) {
	var (
		kind  string
		cents int64
	)
	if err := tx.QueryRow(ctx, lockRefSQL, participantID, ref).Scan(&kind, &cents); err != nil {
		return "", 0, fmt.Errorf("lock reference: %v", err)
	}
	return kind, cents, nil
}
