package config

import (
	"fmt"
	"os"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands ${VAR} environment variables.
// An empty path yields a zero config, so env overrides and defaults apply alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config, applies environment overrides, then defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies overrides and defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv lets the usual deployment variables win over the file.
func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)

	c.Wallet.Driver = getEnv("WALLET_DRIVER", c.Wallet.Driver)
	c.Wallet.OpeningBalance = getEnv("WALLET_OPENING_BALANCE", c.Wallet.OpeningBalance)

	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.Database.Host = getEnv("BLUEPRINT_DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("BLUEPRINT_DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("BLUEPRINT_DB_DATABASE", c.Database.Name)
	c.Database.User = getEnv("BLUEPRINT_DB_USERNAME", c.Database.User)
	c.Database.Password = getEnv("BLUEPRINT_DB_PASSWORD", c.Database.Password)
	c.Database.Schema = getEnv("BLUEPRINT_DB_SCHEMA", c.Database.Schema)

	c.Audit.KafkaBrokers = getEnv("KAFKA_BROKERS", c.Audit.KafkaBrokers)
	c.Audit.KafkaTopic = getEnv("KAFKA_TOPIC_AUDIT", c.Audit.KafkaTopic)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
