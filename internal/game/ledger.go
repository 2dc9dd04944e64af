package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashloop/internal/wallet"
)

// Ledger arbitrates stakes and cash-outs for the current round.
//
// Each round has a gate: participant operations hold it shared while they
// decide and record, and sealing holds it exclusively. A participant entry
// has its own mutex so that different participants never wait on each other,
// only on the balance store.
type Ledger struct {
	store   wallet.Store
	clock   Clock
	now     func() time.Time
	log     *zap.Logger
	current atomic.Pointer[book]

	// resolveInterval is the first delay before a balance operation whose
	// outcome was lost is retried in the background.
	resolveInterval time.Duration
}

const (
	compensateTimeout      = 500 * time.Millisecond
	resolveBudget          = 30 * time.Second
	defaultResolveInterval = 100 * time.Millisecond
)

type book struct {
	gate    sync.RWMutex
	round   Round // ID is immutable, the rest is guarded by gate
	sealed  bool
	settled bool
	entries sync.Map // participant id -> *entry
}

type entry struct {
	mu      sync.Mutex
	stake   *Stake
	cashOut *CashOut
	pending *CashOut // decided, credit not yet confirmed
}

func NewLedger(store wallet.Store, clock Clock) *Ledger {
	return &Ledger{
		store:           store,
		clock:           clock,
		now:             time.Now,
		log:             zap.NewNop(),
		resolveInterval: defaultResolveInterval,
	}
}

// Open makes r the current round in the Pending state. The previous round,
// if any, is sealed.
func (l *Ledger) Open(r Round) {
	r.State = RoundPending
	if r.OpenedAt.IsZero() {
		r.OpenedAt = l.now()
	}
	prev := l.current.Swap(&book{round: r})
	if prev != nil {
		prev.gate.Lock()
		prev.sealed = true
		prev.gate.Unlock()
	}
}

// Begin moves the round to Running at the given instant and fixes its crash
// instant.
func (l *Ledger) Begin(roundID uint64, at time.Time) (Round, error) {
	b := l.current.Load()
	if b == nil || b.round.ID != roundID {
		return Round{}, ErrStaleRound
	}
	b.gate.Lock()
	defer b.gate.Unlock()

	if b.round.State != RoundPending || b.sealed {
		return Round{}, fmt.Errorf("round %d is %s: %w", roundID, b.round.State, ErrStaleRound)
	}
	b.round.State = RoundRunning
	b.round.StartedAt = at
	b.round.CrashAt = at.Add(l.clock.TimeToCrash(b.round.CrashMultiplier))
	return b.round, nil
}

// Seal closes the round. It waits for in-flight arbitrations to finish, and
// every later stake or cash-out against the round is rejected.
func (l *Ledger) Seal(roundID uint64, at time.Time) (Round, error) {
	b := l.current.Load()
	if b == nil || b.round.ID != roundID {
		return Round{}, ErrStaleRound
	}
	b.gate.Lock()
	defer b.gate.Unlock()

	if !b.sealed {
		b.sealed = true
		b.round.State = RoundCrashed
		b.round.CrashedAt = at
	}
	return b.round, nil
}

// SettleLosses marks every live stake of the round lost and returns them.
// The round is sealed first if needed. A second call returns nothing.
func (l *Ledger) SettleLosses(roundID uint64) []Stake {
	b := l.current.Load()
	if b == nil || b.round.ID != roundID {
		return nil
	}
	b.gate.Lock()
	defer b.gate.Unlock()

	if b.settled {
		return nil
	}
	if !b.sealed {
		b.sealed = true
		b.round.State = RoundCrashed
		b.round.CrashedAt = l.now()
	}
	b.settled = true

	var lost []Stake
	b.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.stake != nil && e.stake.Status == StakeLive {
			e.stake.Status = StakeLost
			lost = append(lost, *e.stake)
		}
		e.mu.Unlock()
		return true
	})
	return lost
}

// PlaceStake debits amount and records the stake. Nothing is recorded
// unless the debit is confirmed, and a debit whose outcome is unknown is
// refunded.
func (l *Ledger) PlaceStake(ctx context.Context, participantID string, roundID uint64, amount decimal.Decimal) (Stake, decimal.Decimal, error) {
	b := l.current.Load()
	if b == nil || b.round.ID != roundID {
		return Stake{}, decimal.Zero, ErrStaleRound
	}
	b.gate.RLock()
	defer b.gate.RUnlock()

	if !b.acceptsStakes(l.now()) {
		return Stake{}, decimal.Zero, ErrStaleRound
	}
	if _, err := wallet.ToCents(amount); err != nil {
		return Stake{}, decimal.Zero, ErrInvalidAmount
	}

	e := b.entry(participantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stake != nil {
		return Stake{}, decimal.Zero, ErrDuplicateStake
	}

	stakeID := uuid.NewString()
	balance, err := l.store.DebitIfSufficient(ctx, participantID, stakeID, amount)
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return Stake{}, decimal.Zero, ErrInsufficientFunds
	case errors.Is(err, wallet.ErrInvalidAmount):
		return Stake{}, decimal.Zero, ErrInvalidAmount
	case err != nil:
		l.unwindDebit(participantID, stakeID)
		return Stake{}, decimal.Zero, fmt.Errorf("%w: debit: %v", ErrLedgerUnavailable, err)
	}

	e.stake = &Stake{
		ID:            stakeID,
		ParticipantID: participantID,
		RoundID:       roundID,
		Amount:        amount,
		Status:        StakeLive,
		PlacedAt:      l.now(),
	}
	return *e.stake, balance, nil
}

// CashOut settles the participant's live stake at the multiplier of the
// moment it is arbitrated. It is rejected once that moment is at or past the
// crash instant, whether or not the round has been sealed yet.
func (l *Ledger) CashOut(ctx context.Context, participantID string, roundID uint64) (CashOut, decimal.Decimal, error) {
	b := l.current.Load()
	if b == nil || b.round.ID != roundID {
		return CashOut{}, decimal.Zero, ErrStaleRound
	}
	b.gate.RLock()
	defer b.gate.RUnlock()

	if b.round.State == RoundPending {
		return CashOut{}, decimal.Zero, ErrStaleRound
	}

	v, ok := b.entries.Load(participantID)
	if !ok {
		return CashOut{}, decimal.Zero, ErrNoActiveStake
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stake == nil {
		return CashOut{}, decimal.Zero, ErrNoActiveStake
	}
	if e.cashOut != nil {
		return CashOut{}, decimal.Zero, ErrAlreadySettled
	}
	if e.pending != nil {
		// Decided before the crash; only the credit is still unconfirmed.
		return l.settle(ctx, e, *e.pending)
	}
	now := l.now()
	if b.sealed || !now.Before(b.round.CrashAt) {
		return CashOut{}, decimal.Zero, ErrRoundAlreadyCrashed
	}

	m := l.clock.Multiplier(now.Sub(b.round.StartedAt), b.round.CrashMultiplier)
	return l.settle(ctx, e, CashOut{
		ID:            uuid.NewString(),
		StakeID:       e.stake.ID,
		ParticipantID: participantID,
		RoundID:       roundID,
		Multiplier:    m,
		Winnings:      e.stake.Amount.Mul(m.Sub(one)).Truncate(2),
		SettledAt:     now,
	})
}

// settle credits the winnings of co and records it once the credit is
// confirmed. A credit whose outcome is unknown is replayed under the same
// reference; if that fails too the cash-out stays pending and is confirmed
// later, by the participant's next request or in the background.
// The caller holds e.mu.
func (l *Ledger) settle(ctx context.Context, e *entry, co CashOut) (CashOut, decimal.Decimal, error) {
	balance, err := l.credit(ctx, co)
	if err != nil && !definite(err) {
		cctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
		balance, err = l.credit(cctx, co)
		cancel()
	}
	if err != nil {
		if !definite(err) && e.pending == nil {
			e.pending = &co
			e.stake.Status = StakeSettling
			l.confirmLater(e)
		}
		return CashOut{}, decimal.Zero, fmt.Errorf("%w: credit: %v", ErrLedgerUnavailable, err)
	}

	e.record(co)
	return co, balance, nil
}

func (l *Ledger) credit(ctx context.Context, co CashOut) (decimal.Decimal, error) {
	if !co.Winnings.IsPositive() {
		return l.store.Balance(ctx, co.ParticipantID)
	}
	return l.store.Credit(ctx, co.ParticipantID, co.StakeID+":cashout", co.Winnings)
}

// unwindDebit refunds a debit whose outcome is unknown. No stake was
// recorded for it, so it must not stand.
func (l *Ledger) unwindDebit(participantID, stakeID string) {
	refund := func(ctx context.Context) error {
		_, err := l.store.Refund(ctx, participantID, stakeID)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	err := refund(ctx)
	cancel()
	if err == nil {
		return
	}
	l.resolve("refund", participantID, stakeID, refund)
}

// confirmLater keeps crediting a pending cash-out until it is confirmed.
func (l *Ledger) confirmLater(e *entry) {
	co := *e.pending
	l.resolve("cash-out credit", co.ParticipantID, co.StakeID, func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.pending == nil {
			return nil
		}
		_, err := l.credit(ctx, *e.pending)
		if err != nil {
			if definite(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		e.record(*e.pending)
		l.log.Info("pending cash-out confirmed",
			zap.String("participant_id", co.ParticipantID),
			zap.String("stake_id", co.StakeID),
		)
		return nil
	})
}

// resolve retries op in the background with exponential backoff, starting
// after resolveInterval.
func (l *Ledger) resolve(what, participantID, stakeID string, op func(context.Context) error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.resolveInterval
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = resolveBudget

	go func() {
		time.Sleep(l.resolveInterval)
		err := backoff.Retry(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
			defer cancel()
			return op(ctx)
		}, b)
		if err != nil {
			l.log.Error("balance operation unresolved",
				zap.String("operation", what),
				zap.String("participant_id", participantID),
				zap.String("stake_id", stakeID),
				zap.Error(err),
			)
		}
	}()
}

// definite reports store errors after which the balance is known to be
// unchanged.
func definite(err error) bool {
	return errors.Is(err, wallet.ErrInvalidAmount) || errors.Is(err, wallet.ErrBalanceOverflow)
}

func (e *entry) record(co CashOut) {
	e.cashOut = &co
	e.pending = nil
	e.stake.Status = StakeCashedOut
}

// Current returns a copy of the current round.
func (l *Ledger) Current() (Round, bool) {
	b := l.current.Load()
	if b == nil {
		return Round{}, false
	}
	b.gate.RLock()
	defer b.gate.RUnlock()
	return b.round, true
}

// CurrentRoundID returns 0 before the first round opens.
func (l *Ledger) CurrentRoundID() uint64 {
	b := l.current.Load()
	if b == nil {
		return 0
	}
	return b.round.ID
}

// Stakes lists the stakes of the current round in no particular order.
func (l *Ledger) Stakes() []Stake {
	b := l.current.Load()
	if b == nil {
		return nil
	}
	stakes := []Stake{}
	b.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.stake != nil {
			stakes = append(stakes, *e.stake)
		}
		e.mu.Unlock()
		return true
	})
	return stakes
}

// Multiplier is the multiplier of the current round at instant at.
func (l *Ledger) Multiplier(r Round, at time.Time) decimal.Decimal {
	switch r.State {
	case RoundPending:
		return one
	case RoundCrashed:
		return r.CrashMultiplier
	}
	return l.clock.Multiplier(at.Sub(r.StartedAt), r.CrashMultiplier)
}

func (b *book) acceptsStakes(now time.Time) bool {
	if b.sealed {
		return false
	}
	switch b.round.State {
	case RoundPending:
		return true
	case RoundRunning:
		return now.Before(b.round.CrashAt)
	}
	return false
}

func (b *book) entry(participantID string) *entry {
	v, _ := b.entries.LoadOrStore(participantID, &entry{})
	return v.(*entry)
}
