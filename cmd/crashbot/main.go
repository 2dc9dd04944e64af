// Command crashbot connects simulated participants to a crashloop server.
// Each bot stakes every round and cashes out when its target multiplier is
// due, computed from the configured growth rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crashloop/internal/logger"
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
		apiURL  = flag.String("api", "http://localhost:8080/api/v1", "HTTP API base, used for deposits")
		bots    = flag.Int("bots", 5, "number of participants")
		prefix  = flag.String("prefix", "bot", "participant id prefix")
		stake   = flag.String("stake", "1.00", "stake per round")
		target  = flag.String("target", "2.00", "cash-out multiplier")
		growth  = flag.String("growth", "0.0002", "server growth rate per millisecond")
		deposit = flag.String("deposit", "0", "amount each bot deposits before playing")
		rounds  = flag.Int("rounds", 0, "stop after this many rounds, 0 runs until interrupted")
		env     = flag.String("env", "local", "logger environment")
	)
	flag.Parse()

	log, err := logger.New("crashbot", *env, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := botConfig{
		wsURL:  *wsURL,
		apiURL: *apiURL,
		rounds: *rounds,
	}
	for name, raw := range map[string]string{"stake": *stake, "target": *target, "growth": *growth, "deposit": *deposit} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			log.Fatal("invalid flag", zap.String("flag", name), zap.String("value", raw), zap.Error(err))
		}
		switch name {
		case "stake":
			cfg.stake = v
		case "target":
			cfg.target = v
		case "growth":
			cfg.growth = v
		case "deposit":
			cfg.deposit = v
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := &tally{}
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= *bots; i++ {
		b := newBot(fmt.Sprintf("%s-%d", *prefix, i), cfg, stats, log)
		g.Go(func() error {
			return b.run(gctx)
		})
	}

	err = g.Wait()
	snapshot := stats.snapshot()
	log.Info("bots finished",
		zap.Int64("stakes", snapshot.stakes),
		zap.Int64("cash_outs", snapshot.cashOuts),
		zap.Int64("rejected", snapshot.rejected),
		zap.String("winnings", snapshot.winnings.StringFixed(2)),
	)
	if err != nil && ctx.Err() == nil {
		log.Error("bot failed", zap.Error(err))
		os.Exit(1)
	}
}
