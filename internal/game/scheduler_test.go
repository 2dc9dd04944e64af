package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"crashloop/internal/wallet"
)

// recorder is a Broadcaster that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []WSMessage
	ch   chan WSMessage
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan WSMessage, 1024)}
}

func (r *recorder) Broadcast(message interface{}) {
	msg := message.(WSMessage)
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	select {
	case r.ch <- msg:
	default:
	}
}

func (r *recorder) waitFor(t *testing.T, typ string) WSMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-r.ch:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.Type != EventRoundTick {
			out = append(out, m.Type)
		}
	}
	return out
}

func newTestScheduler(cfg SchedulerConfig, rec *recorder, crashes ...string) (*Scheduler, *Ledger, *History) {
	drawer := &FixedDrawer{}
	for _, c := range crashes {
		drawer.points = append(drawer.points, d(c))
	}
	ledger := NewLedger(wallet.NewMemoryStore(d("100")), NewClock(d("0.01")))
	history := NewHistory()
	return NewScheduler(cfg, ledger, history, drawer, rec, zap.NewNop()), ledger, history
}

func TestScheduler_RoundLifecycle(t *testing.T) {
	rec := newRecorder()
	sched, _, history := newTestScheduler(SchedulerConfig{
		Pause:        20 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
	}, rec, "1.30", "1.20")

	var mu sync.Mutex
	var crashed []Round
	sched.OnCrash = func(r Round, _ []Stake) {
		mu.Lock()
		crashed = append(crashed, r)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	pending := rec.waitFor(t, EventRoundPending).Data.(RoundPendingMessage)
	if pending.RoundID != 1 {
		t.Fatalf("first round id = %d, want 1", pending.RoundID)
	}
	start := rec.waitFor(t, EventRoundStart).Data.(RoundStartMessage)
	if len(start.History) != 0 || start.Commitment != pending.Commitment {
		t.Errorf("round_start = %+v", start)
	}
	crash := rec.waitFor(t, EventRoundCrash).Data.(RoundCrashMessage)
	if crash.RoundID != 1 || !crash.CrashMultiplier.Equal(d("1.30")) {
		t.Errorf("round_crash = %+v, want round 1 at 1.30", crash)
	}
	if HashCommitment(crash.Seed) != pending.Commitment {
		t.Error("revealed seed does not match commitment")
	}

	rec.waitFor(t, EventRoundPending)
	start2 := rec.waitFor(t, EventRoundStart).Data.(RoundStartMessage)
	if start2.RoundID != 2 {
		t.Errorf("second round id = %d, want 2", start2.RoundID)
	}
	if len(start2.History) != 1 || !start2.History[0].Equal(d("1.30")) {
		t.Errorf("second round_start history = %v, want [1.30]", start2.History)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	got := history.Snapshot()
	if len(got) < 2 || !got[0].Equal(d("1.20")) || !got[len(got)-1].Equal(d("1.30")) {
		t.Errorf("history = %v, want 1.20 first and 1.30 last", got)
	}

	want := []string{EventRoundPending, EventRoundStart, EventRoundCrash, EventRoundPending, EventRoundStart, EventRoundCrash}
	types := rec.types()
	if len(types) < len(want) {
		t.Fatalf("events = %v, want prefix %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(crashed) < 2 || crashed[0].State != RoundCrashed || crashed[0].CrashedAt.IsZero() {
		t.Errorf("OnCrash rounds = %+v", crashed)
	}
}

func TestScheduler_TicksStayBelowCrash(t *testing.T) {
	rec := newRecorder()
	sched, _, _ := newTestScheduler(SchedulerConfig{
		Pause:        time.Hour,
		TickInterval: 2 * time.Millisecond,
	}, rec, "1.40")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	rec.waitFor(t, EventRoundCrash)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	ticks := 0
	for _, m := range rec.msgs {
		if m.Type != EventRoundTick {
			continue
		}
		ticks++
		tick := m.Data.(RoundTickMessage)
		if !tick.Multiplier.LessThan(d("1.40")) {
			t.Errorf("tick multiplier %v reached the crash point", tick.Multiplier)
		}
	}
	if ticks == 0 {
		t.Error("no round_tick events")
	}
}

func TestScheduler_SettlesLosses(t *testing.T) {
	rec := newRecorder()
	sched, ledger, _ := newTestScheduler(SchedulerConfig{
		BettingWindow: 200 * time.Millisecond,
		Pause:         time.Hour,
	}, rec, "1.10")

	lostCh := make(chan []Stake, 1)
	sched.OnCrash = func(_ Round, lost []Stake) { lostCh <- lost }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	rec.waitFor(t, EventRoundPending)
	if _, _, err := ledger.PlaceStake(context.Background(), "alice", 1, d("5")); err != nil {
		t.Fatalf("PlaceStake() error = %v", err)
	}

	select {
	case lost := <-lostCh:
		if len(lost) != 1 || lost[0].ParticipantID != "alice" {
			t.Errorf("lost = %+v, want alice", lost)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("round never crashed")
	}
}

func TestScheduler_CancelDuringBettingWindowStillCrashes(t *testing.T) {
	rec := newRecorder()
	sched, _, _ := newTestScheduler(SchedulerConfig{
		BettingWindow: time.Hour,
		Pause:         time.Hour,
	}, rec, "1.05")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	rec.waitFor(t, EventRoundPending)
	cancel()
	rec.waitFor(t, EventRoundCrash)

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestWSMessage_JSON(t *testing.T) {
	msg := WSMessage{
		Type: EventRoundCrash,
		Data: RoundCrashMessage{RoundID: 4, CrashMultiplier: d("2.35"), Seed: "abc"},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"round_crash","data":{"round_id":4,"crash_multiplier":"2.35","seed":"abc"}}`
	if string(raw) != want {
		t.Errorf("Marshal() = %s, want %s", raw, want)
	}
}
