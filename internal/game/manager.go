package game

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashloop/internal/audit"
	"crashloop/internal/metrics"
	"crashloop/internal/wallet"
)

const (
	defaultRequestTimeout = 2 * time.Second
	mirrorTimeout         = time.Second
)

type Options struct {
	Clock          Clock
	Drawer         Drawer
	Scheduler      SchedulerConfig
	RequestTimeout time.Duration
}

type Option func(*Manager)

func WithAudit(p audit.Publisher) Option {
	return func(m *Manager) { m.audit = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithHistoryMirror(mirror HistoryMirror) Option {
	return func(m *Manager) { m.mirror = mirror }
}

// Manager is the entry point for participants. It owns the ledger and the
// round loop and reports every accepted operation to observers and audit.
type Manager struct {
	opts    Options
	ledger  *Ledger
	history *History
	sched   *Scheduler
	events  Broadcaster
	audit   audit.Publisher
	metrics *metrics.Metrics
	mirror  HistoryMirror
	log     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(opts Options, events Broadcaster, store wallet.Store, log *zap.Logger, options ...Option) *Manager {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	m := &Manager{
		opts:    opts,
		ledger:  NewLedger(store, opts.Clock),
		history: NewHistory(),
		events:  events,
		audit:   audit.Nop{},
		log:     log.Named("game"),
	}
	for _, o := range options {
		o(m)
	}
	m.ledger.log = m.log.Named("ledger")
	m.sched = NewScheduler(opts.Scheduler, m.ledger, m.history, opts.Drawer, events, m.log)
	m.sched.OnCrash = m.roundCrashed
	return m
}

// Start seeds the history from the mirror, if any, and starts the round loop.
func (m *Manager) Start(ctx context.Context) {
	if m.mirror != nil {
		loadCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		saved, err := m.mirror.Load(loadCtx)
		cancel()
		if err != nil {
			m.log.Warn("could not load crash history", zap.Error(err))
		}
		for i := len(saved) - 1; i >= 0; i-- {
			m.history.Record(saved[i])
		}
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.sched.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current round to crash.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Manager) PlaceStake(ctx context.Context, participantID string, req StakeRequest) StakeResponse {
	roundID := req.RoundID
	if roundID == 0 {
		roundID = m.ledger.CurrentRoundID()
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	defer cancel()

	stake, balance, err := m.ledger.PlaceStake(ctx, participantID, roundID, req.Amount)
	if err != nil {
		code := CodeOf(err)
		m.metrics.StakeResult(string(code))
		m.logRejection("stake rejected", participantID, roundID, code, err)
		return StakeResponse{RoundID: roundID, Error: code, Message: err.Error()}
	}

	m.metrics.StakeResult("accepted")
	m.audit.Publish(audit.Event{
		Type:          audit.TypeStake,
		ParticipantID: participantID,
		RoundID:       roundID,
		Amount:        audit.Dec(stake.Amount),
		Balance:       audit.Dec(balance),
		Details:       map[string]string{"stake_id": stake.ID},
	})
	m.events.Broadcast(WSMessage{
		Type: EventStakePlaced,
		Data: StakePlacedMessage{ParticipantID: participantID, RoundID: roundID, Amount: stake.Amount},
	})
	m.log.Info("stake placed",
		zap.String("participant_id", participantID),
		zap.Uint64("round_id", roundID),
		zap.Stringer("amount", stake.Amount),
	)

	return StakeResponse{
		Success: true,
		RoundID: roundID,
		StakeID: stake.ID,
		Amount:  stake.Amount,
		Balance: balance,
	}
}

func (m *Manager) CashOut(ctx context.Context, participantID string, req CashOutRequest) CashOutResponse {
	roundID := req.RoundID
	if roundID == 0 {
		roundID = m.ledger.CurrentRoundID()
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	defer cancel()

	co, balance, err := m.ledger.CashOut(ctx, participantID, roundID)
	if err != nil {
		code := CodeOf(err)
		m.metrics.CashOutResult(string(code))
		m.logRejection("cash-out rejected", participantID, roundID, code, err)
		return CashOutResponse{RoundID: roundID, Error: code, Message: err.Error()}
	}

	m.metrics.CashOutResult("accepted")
	m.audit.Publish(audit.Event{
		Type:          audit.TypeCashOut,
		ParticipantID: participantID,
		RoundID:       roundID,
		Amount:        audit.Dec(co.Winnings),
		Multiplier:    audit.Dec(co.Multiplier),
		Balance:       audit.Dec(balance),
		Details:       map[string]string{"stake_id": co.StakeID},
	})
	m.events.Broadcast(WSMessage{
		Type: EventCashedOut,
		Data: CashedOutMessage{
			ParticipantID: participantID,
			RoundID:       roundID,
			Multiplier:    co.Multiplier,
			Winnings:      co.Winnings,
		},
	})
	m.log.Info("cashed out",
		zap.String("participant_id", participantID),
		zap.Uint64("round_id", roundID),
		zap.Stringer("multiplier", co.Multiplier),
		zap.Stringer("winnings", co.Winnings),
	)

	return CashOutResponse{
		Success:    true,
		RoundID:    roundID,
		Multiplier: co.Multiplier,
		Winnings:   co.Winnings,
		Balance:    balance,
	}
}

// Snapshot is the public state of the current round. Crash point and seed
// are included only once the round has crashed.
func (m *Manager) Snapshot() RoundView {
	view := RoundView{
		Multiplier: one,
		History:    m.history.Snapshot(),
		Stakes:     m.ledger.Stakes(),
	}
	if view.Stakes == nil {
		view.Stakes = []Stake{}
	}

	r, ok := m.ledger.Current()
	if !ok {
		return view
	}
	view.RoundID = r.ID
	view.State = r.State
	view.Commitment = r.Commitment
	view.Multiplier = m.ledger.Multiplier(r, time.Now())
	if r.State != RoundPending {
		started := r.StartedAt
		view.StartedAt = &started
	}
	if r.State == RoundCrashed {
		crash := r.CrashMultiplier
		view.CrashMultiplier = &crash
		view.Seed = r.Seed
	}
	return view
}

func (m *Manager) History() []decimal.Decimal {
	return m.history.Snapshot()
}

func (m *Manager) roundCrashed(r Round, lost []Stake) {
	m.metrics.RoundCrashed(r.CrashMultiplier.InexactFloat64(), len(lost))

	m.audit.Publish(audit.Event{
		Type:       audit.TypeRound,
		RoundID:    r.ID,
		Multiplier: audit.Dec(r.CrashMultiplier),
		Details: map[string]string{
			"seed":       r.Seed,
			"commitment": r.Commitment,
			"lost":       strconv.Itoa(len(lost)),
		},
		At: r.CrashedAt,
	})
	for _, s := range lost {
		m.audit.Publish(audit.Event{
			Type:          audit.TypeLoss,
			ParticipantID: s.ParticipantID,
			RoundID:       r.ID,
			Amount:        audit.Dec(s.Amount),
			Details:       map[string]string{"stake_id": s.ID},
			At:            r.CrashedAt,
		})
	}

	if m.mirror != nil {
		go func(crash decimal.Decimal) {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := m.mirror.Push(ctx, crash); err != nil {
				m.log.Warn("could not mirror crash history", zap.Uint64("round_id", r.ID), zap.Error(err))
			}
		}(r.CrashMultiplier)
	}
}

func (m *Manager) logRejection(msg, participantID string, roundID uint64, code ErrorCode, err error) {
	fields := []zap.Field{
		zap.String("participant_id", participantID),
		zap.Uint64("round_id", roundID),
		zap.String("code", string(code)),
	}
	if code == CodeLedgerUnavailable {
		m.log.Error(msg, append(fields, zap.Error(err))...)
		return
	}
	m.log.Debug(msg, fields...)
}
