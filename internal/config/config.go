package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration for a crashloop server.
type Config struct {
	Env      string         `yaml:"env"`       // "local", "dev", "prod"
	LogLevel string         `yaml:"log_level"` // zap level name, empty keeps the env default
	Server   ServerConfig   `yaml:"server"`
	Game     GameConfig     `yaml:"game"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig holds the fiber HTTP/websocket listener settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	AllowOrigins string        `yaml:"allow_origins"`
	RateLimit    int           `yaml:"rate_limit"` // requests per RateWindow per client
	RateWindow   time.Duration `yaml:"rate_window"`
}

// GameConfig holds round timing and multiplier parameters. Decimal values are
// kept as strings so that "0.0002" survives YAML without float rounding.
type GameConfig struct {
	GrowthRate     string        `yaml:"growth_rate"` // multiplier growth per millisecond
	MinCrash       string        `yaml:"min_crash"`
	MaxCrash       string        `yaml:"max_crash"`
	BettingWindow  time.Duration `yaml:"betting_window"`
	Pause          time.Duration `yaml:"pause"`
	TickInterval   time.Duration `yaml:"tick_interval"` // 0 disables round_tick events
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ClientQueue    int           `yaml:"client_queue"`
}

// WalletConfig selects the balance store driver.
type WalletConfig struct {
	Driver         string `yaml:"driver"` // memory, redis, postgres
	OpeningBalance string `yaml:"opening_balance"`
}

// RedisConfig holds the Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// AuditConfig configures the audit event fan-out. An empty broker list keeps
// audit events in the process log only.
type AuditConfig struct {
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
	BufferSize   int    `yaml:"buffer_size"`
}

// URL returns the Postgres connection URL.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode, d.Schema)
}

// Growth returns the parsed growth rate. Call after Validate.
func (g GameConfig) Growth() decimal.Decimal { return decimal.RequireFromString(g.GrowthRate) }

// CrashRange returns the parsed crash bounds. Call after Validate.
func (g GameConfig) CrashRange() (decimal.Decimal, decimal.Decimal) {
	return decimal.RequireFromString(g.MinCrash), decimal.RequireFromString(g.MaxCrash)
}

// Opening returns the parsed opening balance. Call after Validate.
func (w WalletConfig) Opening() decimal.Decimal { return decimal.RequireFromString(w.OpeningBalance) }
