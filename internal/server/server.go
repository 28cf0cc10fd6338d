package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crashpit/internal/cache"
	"crashpit/internal/config"
	"crashpit/internal/database"
	"crashpit/internal/game"
	"crashpit/internal/history"
	"crashpit/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	cfg config.Config
	log *zap.Logger

	db    database.Service
	cache cache.Service

	ledger      *ledger.Ledger
	machine     *game.Machine
	selector    *game.Selector
	hub         *game.Hub
	history     *history.Service
	leaderboard *game.Leaderboard

	cancel context.CancelFunc
}

// New wires the whole engine: stores, ledger, selector, machine, hub,
// history and leaderboard, then the HTTP app on top.
func New(cfg config.Config, log *zap.Logger) *FiberServer {
	db := database.New()
	redisService := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)

	// Postgres is the durable store; without it the engine still runs on
	// the in-memory store with persistence disabled, mirroring how the
	// cache layer degrades.
	var store ledger.Store
	if err := db.DB().Ping(); err != nil {
		log.Warn("postgres unavailable, running on in-memory store", zap.Error(err))
		store = ledger.NewMemStore()
	} else {
		store = ledger.NewPostgresStore(db.DB())
	}

	hub := game.NewHub(log)
	led := ledger.New(store, cfg.Game, log)
	hist := history.New(store, clientOrNil(redisService), cfg.Game.HistoryWindow, log)
	selector := game.NewSelector(cfg.Game, time.Now().UnixNano())
	machine := game.NewMachine(cfg.Game, led, selector, hub, hist, log)
	lb := game.NewLeaderboard(led, hub, cfg.Game.LeaderboardSize, cfg.Game.LeaderboardInterval, log)

	led.BindRound(machine.LedgerView())
	led.BindNotifier(hub)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashpit",
			AppName:       "crashpit",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		cfg:         cfg,
		log:         log,
		db:          db,
		cache:       redisService,
		ledger:      led,
		machine:     machine,
		selector:    selector,
		hub:         hub,
		history:     hist,
		leaderboard: lb,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	server.cancel = cancel

	go hub.Run()
	led.Start(ctx)
	hist.Start(ctx)
	machine.Start()
	lb.Start()

	log.Info("round engine started")

	return server
}

// clientOrNil unwraps the optional cache service.
func clientOrNil(s cache.Service) *redis.Client {
	if s == nil {
		return nil
	}
	return s.GetClient()
}

// Healthy reports whether the durable store is reachable.
func (s *FiberServer) Healthy(ctx context.Context) error {
	return s.db.DB().PingContext(ctx)
}

// Shutdown stops the engine components then the HTTP app.
func (s *FiberServer) Shutdown() error {
	s.log.Info("shutting down")

	s.machine.Stop()
	s.leaderboard.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}

	return s.App.Shutdown()
}
