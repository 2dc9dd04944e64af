package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const participantKey = "participant_id"

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.Server.AllowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type,Idempotency-Key,X-Participant-ID",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := s.App.Group("/api/v1")
	api.Get("/game/state", s.getGameStateHandler)
	api.Get("/game/history", s.getHistoryHandler)

	api.Post("/game/stake", requireParticipant, s.placeStakeHandler)
	api.Post("/game/cashout", requireParticipant, s.cashOutHandler)
	api.Get("/balance", requireParticipant, s.getBalanceHandler)
	api.Post("/deposit", requireParticipant, s.depositHandler)
	api.Post("/log", requireParticipant, s.clientLogHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return requireParticipant(c)
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

// requireParticipant takes the participant id set by the identity layer in
// front of this service.
func requireParticipant(c *fiber.Ctx) error {
	id := c.Get("X-Participant-ID")
	if id == "" {
		id = c.Query("participant_id")
	}
	if id == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Participant ID is required",
		})
	}
	c.Locals(participantKey, id)
	return c.Next()
}

func participantID(c *fiber.Ctx) string {
	id, _ := c.Locals(participantKey).(string)
	return id
}
