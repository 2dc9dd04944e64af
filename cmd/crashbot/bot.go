package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashloop/internal/game"
)

type botConfig struct {
	wsURL   string
	apiURL  string
	stake   decimal.Decimal
	target  decimal.Decimal
	growth  decimal.Decimal
	deposit decimal.Decimal
	rounds  int
}

type counts struct {
	stakes   int64
	cashOuts int64
	rejected int64
	winnings decimal.Decimal
}

type tally struct {
	mu sync.Mutex
	counts
}

func (t *tally) snapshot() counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

type bot struct {
	id    string
	cfg   botConfig
	stats *tally
	log   *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func newBot(id string, cfg botConfig, stats *tally, log *zap.Logger) *bot {
	return &bot{id: id, cfg: cfg, stats: stats, log: log.With(zap.String("participant_id", id))}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (b *bot) run(ctx context.Context) error {
	if b.cfg.deposit.IsPositive() {
		if err := b.topUp(ctx); err != nil {
			return err
		}
	}

	u, err := url.Parse(b.cfg.wsURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("participant_id", b.id)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%s dial: %w", b.id, err)
	}
	b.conn = conn
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	wait := game.NewClock(b.cfg.growth).TimeToCrash(b.cfg.target)
	var cashOut *time.Timer
	played := 0

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s read: %w", b.id, err)
		}

		switch f.Type {
		case game.EventRoundPending:
			var msg game.RoundPendingMessage
			json.Unmarshal(f.Data, &msg)
			b.send(map[string]interface{}{"type": "place_stake", "round_id": msg.RoundID, "amount": b.cfg.stake})

		case game.EventRoundStart:
			var msg game.RoundStartMessage
			json.Unmarshal(f.Data, &msg)
			roundID := msg.RoundID
			cashOut = time.AfterFunc(wait, func() {
				b.send(map[string]interface{}{"type": "cash_out", "round_id": roundID})
			})

		case game.EventRoundCrash:
			if cashOut != nil {
				cashOut.Stop()
			}
			var msg game.RoundCrashMessage
			json.Unmarshal(f.Data, &msg)
			b.log.Debug("round crashed", zap.Uint64("round_id", msg.RoundID), zap.Stringer("crash", msg.CrashMultiplier))
			played++
			if b.cfg.rounds > 0 && played >= b.cfg.rounds {
				return nil
			}

		case game.EventStakeResult:
			var resp game.StakeResponse
			json.Unmarshal(f.Data, &resp)
			b.record(resp.Success, resp.Error, func(t *tally) { t.stakes++ })

		case game.EventCashOutResult:
			var resp game.CashOutResponse
			json.Unmarshal(f.Data, &resp)
			b.record(resp.Success, resp.Error, func(t *tally) {
				t.cashOuts++
				t.winnings = t.winnings.Add(resp.Winnings)
			})
			if resp.Success {
				b.log.Info("cashed out", zap.Stringer("multiplier", resp.Multiplier), zap.Stringer("balance", resp.Balance))
			}
		}
	}
}

func (b *bot) send(msg interface{}) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := b.conn.WriteJSON(msg); err != nil {
		b.log.Warn("write failed", zap.Error(err))
	}
}

func (b *bot) record(ok bool, code game.ErrorCode, apply func(*tally)) {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	if !ok {
		b.stats.rejected++
		b.log.Debug("rejected", zap.String("code", string(code)))
		return
	}
	apply(b.stats)
}

func (b *bot) topUp(ctx context.Context) error {
	body, _ := json.Marshal(map[string]decimal.Decimal{"amount": b.cfg.deposit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.apiURL+"/deposit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Participant-ID", b.id)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s deposit: %w", b.id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s deposit: status %d", b.id, resp.StatusCode)
	}
	return nil
}
