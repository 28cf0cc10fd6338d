package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	"crashpit/internal/game"
	"crashpit/internal/ledger"
	"crashpit/internal/money"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/round", s.roundStateHandler)
	api.Get("/history", s.historyHandler)
	api.Get("/leaderboard", s.leaderboardHandler)
	api.Post("/bet", s.placeBetHandler)
	api.Post("/cashout", s.cashOutHandler)
	api.Get("/user/:username/balance", s.getBalanceHandler)
	api.Post("/user/:username/balance", s.setBalanceHandler)

	admin := api.Group("/admin")
	admin.Post("/crash-override", s.crashOverrideHandler)
	admin.Post("/force-crash", s.forceCrashHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"game": fiber.Map{
			"status":            "running",
			"phase":             s.machine.Snapshot().Phase,
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) roundStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.machine.Snapshot())
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	return c.JSON(game.HistoryPayload{Entries: s.history.Recent()})
}

func (s *FiberServer) leaderboardHandler(c *fiber.Ctx) error {
	return c.JSON(game.LeaderboardPayload{Rows: s.leaderboard.Compute()})
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.PlaceBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Username is required"})
	}

	bet, balance, err := s.ledger.PlaceBet(c.Context(), req.Username, money.FromFloat(req.Amount))
	if err != nil {
		return s.rejection(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":      true,
		"betId":   bet.ID,
		"balance": balance,
	})
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	var req game.CashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Username is required"})
	}

	payout, balance, err := s.ledger.CashOut(c.Context(), req.Username)
	if err != nil {
		return s.rejection(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":      true,
		"payout":  payout,
		"balance": balance,
	})
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	username := c.Params("username")
	balance, err := s.ledger.ValidateUser(c.Context(), username)
	if err != nil {
		return s.rejection(c, err)
	}
	return c.JSON(fiber.Map{
		"username": username,
		"balance":  balance,
	})
}

// setBalanceHandler seeds an account (admin/testing surface).
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	username := c.Params("username")

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := s.ledger.SetBalance(c.Context(), username, money.FromFloat(body.Balance)); err != nil {
		return s.rejection(c, err)
	}
	return c.JSON(fiber.Map{
		"username": username,
		"balance":  money.FromFloat(body.Balance),
	})
}

// crashOverrideHandler stages a fixed crash point for the next round.
func (s *FiberServer) crashOverrideHandler(c *fiber.Ctx) error {
	var body struct {
		CrashPoint float64 `json:"crashPoint"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := s.selector.StageOverride(money.FromFloat(body.CrashPoint)); err != nil {
		return s.rejection(c, err)
	}
	s.log.Info("crash override staged", zap.Float64("crash_point", body.CrashPoint))
	return c.JSON(fiber.Map{"ok": true})
}

// forceCrashHandler crashes the live round at its current multiplier.
func (s *FiberServer) forceCrashHandler(c *fiber.Ctx) error {
	s.selector.ForceCrash()
	s.log.Info("force crash requested")
	return c.JSON(fiber.Map{"ok": true})
}

// rejection maps ledger errors onto HTTP statuses: validation 400,
// conflicts 409, store trouble 503.
func (s *FiberServer) rejection(c *fiber.Ctx, err error) error {
	status := fiber.StatusConflict
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrUnknownUser):
		status = fiber.StatusBadRequest
	case errors.Is(err, ledger.ErrStoreUnavailable):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"ok":    false,
		"error": game.ErrorCode(err),
	})
}
