package game

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Broadcaster fans events out to connected observers without blocking.
type Broadcaster interface {
	Broadcast(message interface{})
}

type SchedulerConfig struct {
	BettingWindow time.Duration
	Pause         time.Duration
	TickInterval  time.Duration // zero disables round_tick
}

// Scheduler drives the round lifecycle from a single goroutine.
type Scheduler struct {
	cfg     SchedulerConfig
	ledger  *Ledger
	history *History
	drawer  Drawer
	events  Broadcaster
	log     *zap.Logger
	now     func() time.Time
	nextID  uint64

	OnStart func(Round)
	OnCrash func(Round, []Stake)
}

func NewScheduler(cfg SchedulerConfig, ledger *Ledger, history *History, drawer Drawer, events Broadcaster, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		ledger:  ledger,
		history: history,
		drawer:  drawer,
		events:  events,
		log:     log,
		now:     time.Now,
	}
}

// Run plays rounds until ctx is done. A round that has opened always runs to
// its crash, so Run may return up to one full round after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.playRound(ctx)
		if err := s.sleep(ctx, s.cfg.Pause); err != nil {
			s.log.Info("round loop stopped", zap.Uint64("last_round", s.nextID))
			return err
		}
	}
}

func (s *Scheduler) playRound(ctx context.Context) {
	s.nextID++
	id := s.nextID
	draw := s.drawer.Draw(id)

	s.ledger.Open(Round{
		ID:              id,
		CrashMultiplier: draw.Multiplier,
		Seed:            draw.Seed,
		Commitment:      draw.Commitment,
		OpenedAt:        s.now(),
	})
	s.events.Broadcast(WSMessage{
		Type: EventRoundPending,
		Data: RoundPendingMessage{RoundID: id, Commitment: draw.Commitment},
	})
	s.log.Debug("round pending", zap.Uint64("round_id", id), zap.String("commitment", draw.Commitment))

	// Cancellation only shortens the betting window.
	_ = s.sleep(ctx, s.cfg.BettingWindow)

	round, err := s.ledger.Begin(id, s.now())
	if err != nil {
		s.log.Error("failed to start round", zap.Uint64("round_id", id), zap.Error(err))
		return
	}
	s.events.Broadcast(WSMessage{
		Type: EventRoundStart,
		Data: RoundStartMessage{RoundID: id, History: s.history.Snapshot(), Commitment: round.Commitment},
	})
	s.log.Info("round started",
		zap.Uint64("round_id", id),
		zap.Duration("time_to_crash", round.CrashAt.Sub(round.StartedAt)),
	)
	if s.OnStart != nil {
		s.OnStart(round)
	}

	crash := time.NewTimer(time.Until(round.CrashAt))
	defer crash.Stop()

	var tick <-chan time.Time
	if s.cfg.TickInterval > 0 {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

running:
	for {
		select {
		case <-crash.C:
			break running
		case <-tick:
			now := s.now()
			if !now.Before(round.CrashAt) {
				continue
			}
			s.events.Broadcast(WSMessage{
				Type: EventRoundTick,
				Data: RoundTickMessage{RoundID: id, Multiplier: s.ledger.Multiplier(round, now)},
			})
		}
	}

	crashed, err := s.ledger.Seal(id, s.now())
	if err != nil {
		s.log.Error("failed to seal round", zap.Uint64("round_id", id), zap.Error(err))
		return
	}
	lost := s.ledger.SettleLosses(id)
	s.history.Record(crashed.CrashMultiplier)

	s.events.Broadcast(WSMessage{
		Type: EventRoundCrash,
		Data: RoundCrashMessage{RoundID: id, CrashMultiplier: crashed.CrashMultiplier, Seed: crashed.Seed},
	})
	s.log.Info("round crashed",
		zap.Uint64("round_id", id),
		zap.String("crash_multiplier", crashed.CrashMultiplier.StringFixed(2)),
		zap.Int("lost_stakes", len(lost)),
	)
	if s.OnCrash != nil {
		s.OnCrash(crashed, lost)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
