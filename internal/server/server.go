package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"crashloop/internal/audit"
	"crashloop/internal/cache"
	"crashloop/internal/config"
	"crashloop/internal/database"
	"crashloop/internal/game"
	"crashloop/internal/metrics"
	"crashloop/internal/wallet"
)

type FiberServer struct {
	*fiber.App

	cfg         *config.Config
	log         *zap.Logger
	db          database.Service
	cache       cache.Service
	store       wallet.Store
	gameManager *game.Manager
	gameHub     *game.Hub
	audit       *audit.Dispatcher
	registry    *prometheus.Registry
	cancel      context.CancelFunc
}

// Deps are the collaborators a server runs on. DB and Cache are optional.
type Deps struct {
	DB     database.Service
	Cache  cache.Service
	Store  wallet.Store
	Drawer game.Drawer // nil draws from the configured crash range
	Sinks  []audit.Sink
}

// New connects the backing services selected by cfg and builds the server.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*FiberServer, error) {
	var deps Deps

	if cfg.Wallet.Driver == "postgres" {
		db, err := database.New(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		deps.DB = db
	}

	redisService, err := cache.New(ctx, cfg.Redis, log)
	switch {
	case err != nil && cfg.Wallet.Driver == "redis":
		closeDeps(deps)
		return nil, err
	case err != nil:
		log.Warn("running without redis", zap.Error(err))
	default:
		deps.Cache = redisService
	}

	switch cfg.Wallet.Driver {
	case "redis":
		deps.Store = wallet.NewRedisStore(deps.Cache.GetClient(), cfg.Wallet.Opening())
	case "postgres":
		deps.Store = wallet.NewPostgresStore(deps.DB.Pool(), cfg.Wallet.Opening())
	default:
		deps.Store = wallet.NewMemoryStore(cfg.Wallet.Opening())
	}

	deps.Sinks = append(deps.Sinks, audit.NewLogSink(log))
	if cfg.Audit.KafkaBrokers != "" {
		w := audit.NewKafkaWriter(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		deps.Sinks = append(deps.Sinks, audit.NewKafkaSink(w))
		log.Info("audit events go to kafka", zap.String("topic", cfg.Audit.KafkaTopic))
	}

	return NewWithDeps(cfg, log, deps), nil
}

func NewWithDeps(cfg *config.Config, log *zap.Logger, deps Deps) *FiberServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	dispatcher := audit.NewDispatcher(cfg.Audit.BufferSize, log, deps.Sinks...)
	dispatcher.OnDrop(m.AuditDropped)

	drawer := deps.Drawer
	if drawer == nil {
		drawer = game.NewSeededDrawer(cfg.Game.CrashRange())
	}

	hub := game.NewHub(cfg.Game.ClientQueue, log, m)
	options := []game.Option{game.WithAudit(dispatcher), game.WithMetrics(m)}
	if deps.Cache != nil {
		options = append(options, game.WithHistoryMirror(cache.NewHistoryMirror(deps.Cache.GetClient(), game.HistorySize)))
	}
	manager := game.NewManager(game.Options{
		Clock:  game.NewClock(cfg.Game.Growth()),
		Drawer: drawer,
		Scheduler: game.SchedulerConfig{
			BettingWindow: cfg.Game.BettingWindow,
			Pause:         cfg.Game.Pause,
			TickInterval:  cfg.Game.TickInterval,
		},
		RequestTimeout: cfg.Game.RequestTimeout,
	}, hub, deps.Store, log, options...)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:          "crashloop",
			AppName:               "crashloop",
			ReadTimeout:           cfg.Server.ReadTimeout,
			WriteTimeout:          cfg.Server.WriteTimeout,
			IdleTimeout:           cfg.Server.IdleTimeout,
			StrictRouting:         false,
			DisableStartupMessage: true,
		}),

		cfg:         cfg,
		log:         log.Named("server"),
		db:          deps.DB,
		cache:       deps.Cache,
		store:       deps.Store,
		gameManager: manager,
		gameHub:     hub,
		audit:       dispatcher,
		registry:    registry,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit,
		Expiration: cfg.Server.RateWindow,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws" || c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))
	server.RegisterFiberRoutes()

	return server
}

// Start runs the hub, the audit dispatcher and the round loop.
func (s *FiberServer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.audit.Run(ctx)
	go s.gameHub.Run(ctx)
	s.gameManager.Start(ctx)
	s.log.Info("game started",
		zap.String("wallet", s.cfg.Wallet.Driver),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("postgres", s.db != nil),
	)
}

// Shutdown lets the current round crash, disconnects clients, stops the
// listener and closes the backing services.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	done := make(chan struct{})
	go func() {
		s.gameManager.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("round still running at shutdown deadline")
	}

	if s.cancel != nil {
		s.cancel()
		if err := s.audit.Close(); err != nil {
			s.log.Warn("closing audit sinks", zap.Error(err))
		}
	}

	err := s.App.ShutdownWithContext(ctx)
	closeDeps(Deps{DB: s.db, Cache: s.cache})
	if err != nil {
		return fmt.Errorf("fiber shutdown: %w", err)
	}
	return nil
}

// ListenConfigured serves on the configured port until Shutdown.
func (s *FiberServer) ListenConfigured() error {
	return s.App.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

func (s *FiberServer) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	timeout := s.cfg.Game.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(c.UserContext(), timeout)
}

func closeDeps(deps Deps) {
	if deps.Cache != nil {
		deps.Cache.Close()
	}
	if deps.DB != nil {
		deps.DB.Close()
	}
}
