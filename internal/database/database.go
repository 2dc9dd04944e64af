package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"crashloop/internal/config"
)

// Service represents a service that interacts with the accounts database.
type Service interface {
	Pool() *pgxpool.Pool
	// Health returns a map of health status information.
	Health() map[string]string
	Close()
}

type service struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New creates a connection pool and pings it.
func New(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (Service, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Named("database").Info("postgres connected",
		zap.String("host", cfg.Host), zap.String("database", cfg.Name))
	return &service{pool: pool, log: log.Named("database")}, nil
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.Itoa(int(poolStats.TotalConns()))
	stats["idle_conns"] = strconv.Itoa(int(poolStats.IdleConns()))
	stats["acquired_conns"] = strconv.Itoa(int(poolStats.AcquiredConns()))
	stats["max_conns"] = strconv.Itoa(int(poolStats.MaxConns()))
	stats["empty_acquire_count"] = strconv.FormatInt(poolStats.EmptyAcquireCount(), 10)

	if poolStats.AcquiredConns() == poolStats.MaxConns() {
		stats["message"] = "The pool is fully acquired, expect slow queries."
	}

	return stats
}

func (s *service) Close() {
	s.log.Info("disconnecting from postgres")
	s.pool.Close()
}
