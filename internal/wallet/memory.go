package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RefTTL is how long a store remembers a mutation reference.
	RefTTL = 24 * time.Hour

	pruneRefsAbove = 1024
)

type refKind int

const (
	refDebit refKind = iota + 1
	refCredit
	refRefunded
)

type refEntry struct {
	kind  refKind
	cents int64
	at    time.Time
}

// MemoryStore keeps balances in process. Each account has its own mutex, so
// participants never contend with each other.
type MemoryStore struct {
	opening  int64
	mu       sync.RWMutex
	accounts map[string]*account
}

type account struct {
	mu    sync.Mutex
	cents int64
	refs  map[string]*refEntry
}

func NewMemoryStore(opening decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		opening:  openingCents(opening),
		accounts: make(map[string]*account),
	}
}

func (s *MemoryStore) account(participantID string) *account {
	s.mu.RLock()
	acc, ok := s.accounts[participantID]
	s.mu.RUnlock()
	if ok {
		return acc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok = s.accounts[participantID]; !ok {
		acc = &account{cents: s.opening, refs: make(map[string]*refEntry)}
		s.accounts[participantID] = acc
	}
	return acc
}

func (s *MemoryStore) DebitIfSufficient(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	acc := s.account(participantID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if seen, ok := acc.refs[ref]; ok {
		if seen.kind == refRefunded {
			return FromCents(acc.cents), ErrReferenceClosed
		}
		return FromCents(acc.cents), nil
	}
	if acc.cents < cents {
		return FromCents(acc.cents), ErrInsufficientFunds
	}
	acc.cents -= cents
	acc.remember(ref, refDebit, cents)
	return FromCents(acc.cents), nil
}

func (s *MemoryStore) Credit(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	acc := s.account(participantID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if _, ok := acc.refs[ref]; ok {
		return FromCents(acc.cents), nil
	}
	total, err := addCents(acc.cents, cents)
	if err != nil {
		return FromCents(acc.cents), err
	}
	acc.cents = total
	acc.remember(ref, refCredit, cents)
	return FromCents(acc.cents), nil
}

func (s *MemoryStore) Refund(ctx context.Context, participantID, ref string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	acc := s.account(participantID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	seen, ok := acc.refs[ref]
	switch {
	case !ok:
		acc.remember(ref, refRefunded, 0)
	case seen.kind == refDebit:
		total, err := addCents(acc.cents, seen.cents)
		if err != nil {
			return FromCents(acc.cents), err
		}
		acc.cents = total
		seen.kind = refRefunded
	}
	return FromCents(acc.cents), nil
}

func (s *MemoryStore) Balance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	acc := s.account(participantID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return FromCents(acc.cents), nil
}

// remember records ref; the caller holds acc.mu.
func (acc *account) remember(ref string, kind refKind, cents int64) {
	now := time.Now()
	if len(acc.refs) >= pruneRefsAbove {
		for k, e := range acc.refs {
			if now.Sub(e.at) > RefTTL {
				delete(acc.refs, k)
			}
		}
	}
	acc.refs[ref] = &refEntry{kind: kind, cents: cents, at: now}
}
