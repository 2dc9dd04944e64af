package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var maxCrashLimit = decimal.NewFromInt(1_000_000)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	growth, err := decimal.NewFromString(c.Game.GrowthRate)
	if err != nil {
		return fmt.Errorf("game.growth_rate: %w", err)
	}
	if !growth.IsPositive() {
		return errors.New("game.growth_rate must be > 0")
	}

	minCrash, err := decimal.NewFromString(c.Game.MinCrash)
	if err != nil {
		return fmt.Errorf("game.min_crash: %w", err)
	}
	maxCrash, err := decimal.NewFromString(c.Game.MaxCrash)
	if err != nil {
		return fmt.Errorf("game.max_crash: %w", err)
	}
	if minCrash.LessThan(decimal.NewFromInt(1)) {
		return errors.New("game.min_crash must be >= 1.00")
	}
	if maxCrash.LessThan(minCrash) {
		return errors.New("game.max_crash must be >= game.min_crash")
	}
	// Crash points are drawn in hundredths, so the range must hold at least one.
	if minCrash.Shift(2).Ceil().GreaterThan(maxCrash.Shift(2).Floor()) {
		return fmt.Errorf("game.min_crash %s and game.max_crash %s must include a whole hundredth", minCrash, maxCrash)
	}
	if maxCrash.GreaterThan(maxCrashLimit) {
		return fmt.Errorf("game.max_crash must be <= %s", maxCrashLimit)
	}

	if c.Game.BettingWindow < 0 || c.Game.Pause < 0 || c.Game.TickInterval < 0 {
		return errors.New("game durations must not be negative")
	}
	if c.Game.RequestTimeout <= 0 {
		return errors.New("game.request_timeout must be > 0")
	}
	if c.Game.ClientQueue < 1 {
		return errors.New("game.client_queue must be >= 1")
	}

	switch c.Wallet.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("wallet.driver must be memory, redis or postgres, got %q", c.Wallet.Driver)
	}
	opening, err := decimal.NewFromString(c.Wallet.OpeningBalance)
	if err != nil {
		return fmt.Errorf("wallet.opening_balance: %w", err)
	}
	if opening.IsNegative() {
		return errors.New("wallet.opening_balance must be >= 0")
	}

	if c.Wallet.Driver == "postgres" {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Audit.BufferSize < 1 {
		return errors.New("audit.buffer_size must be >= 1")
	}

	return nil
}

func (db *DatabaseConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, db.Port)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns must be <= max_conns", prefix)
	}
	return nil
}
