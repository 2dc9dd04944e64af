package config

import "time"

// Default returns a config with every field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.AllowOrigins == "" {
		c.Server.AllowOrigins = "*"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.RateWindow == 0 {
		c.Server.RateWindow = time.Minute
	}

	if c.Game.GrowthRate == "" {
		c.Game.GrowthRate = "0.0002"
	}
	if c.Game.MinCrash == "" {
		c.Game.MinCrash = "1.00"
	}
	if c.Game.MaxCrash == "" {
		c.Game.MaxCrash = "10.00"
	}
	if c.Game.Pause == 0 {
		c.Game.Pause = 5 * time.Second
	}
	if c.Game.RequestTimeout == 0 {
		c.Game.RequestTimeout = 2 * time.Second
	}
	if c.Game.ClientQueue == 0 {
		c.Game.ClientQueue = 64
	}

	if c.Wallet.Driver == "" {
		c.Wallet.Driver = "memory"
	}
	if c.Wallet.OpeningBalance == "" {
		c.Wallet.OpeningBalance = "0"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "crashdb"
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Password == "" {
		c.Database.Password = "postgres"
	}
	if c.Database.Schema == "" {
		c.Database.Schema = "public"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 1
	}

	if c.Audit.KafkaTopic == "" {
		c.Audit.KafkaTopic = "crash.audit"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1024
	}
}
