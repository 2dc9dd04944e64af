package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashloop/internal/audit"
	"crashloop/internal/game"
	"crashloop/internal/wallet"
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"wallet": s.cfg.Wallet.Driver,
		"game": fiber.Map{
			"status":            "running",
			"round_id":          s.gameManager.Snapshot().RoundID,
			"connected_clients": s.gameHub.GetClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	state := s.gameManager.Snapshot()
	if state.RoundID == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active game round",
		})
	}
	return c.JSON(state)
}

func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"history": s.gameManager.History(),
	})
}

func (s *FiberServer) placeStakeHandler(c *fiber.Ctx) error {
	var req game.StakeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp := s.gameManager.PlaceStake(c.UserContext(), participantID(c), req)
	if !resp.Success {
		return c.Status(statusFor(resp.Error)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	var req game.CashOutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	resp := s.gameManager.CashOut(c.UserContext(), participantID(c), req)
	if !resp.Success {
		return c.Status(statusFor(resp.Error)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	id := participantID(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	balance, err := s.store.Balance(ctx, id)
	if err != nil {
		s.log.Error("balance lookup failed", zap.String("participant_id", id), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": string(game.CodeLedgerUnavailable),
		})
	}

	return c.JSON(fiber.Map{
		"participant_id": id,
		"balance":        balance,
	})
}

// depositHandler credits a positive amount and withdraws a negative one.
func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.Amount.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": string(game.CodeInvalidAmount),
		})
	}

	id := participantID(c)
	ref := c.Get("Idempotency-Key")
	if ref == "" {
		ref = uuid.NewString()
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	direction := "deposit"
	var (
		balance decimal.Decimal
		err     error
	)
	if body.Amount.IsPositive() {
		balance, err = s.store.Credit(ctx, id, "deposit:"+ref, body.Amount)
	} else {
		direction = "withdraw"
		balance, err = s.store.DebitIfSufficient(ctx, id, "withdraw:"+ref, body.Amount.Neg())
	}

	switch {
	case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrBalanceOverflow):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": string(game.CodeInvalidAmount),
		})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error": string(game.CodeInsufficientFunds),
		})
	case err != nil:
		s.log.Error("deposit failed", zap.String("participant_id", id), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": string(game.CodeLedgerUnavailable),
		})
	}

	s.audit.Publish(audit.Event{
		Type:          audit.TypeDeposit,
		ParticipantID: id,
		Amount:        audit.Dec(body.Amount),
		Balance:       audit.Dec(balance),
		Details:       map[string]string{"direction": direction, "ref": ref},
	})

	return c.JSON(fiber.Map{
		"participant_id": id,
		"balance":        balance,
	})
}

// clientLogHandler forwards a client-side log line to the audit trail.
func (s *FiberServer) clientLogHandler(c *fiber.Ctx) error {
	var body struct {
		Level   string            `json:"level"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	if err := c.BodyParser(&body); err != nil || body.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message is required",
		})
	}

	details := make(map[string]string, len(body.Fields)+2)
	for k, v := range body.Fields {
		details[k] = v
	}
	details["message"] = body.Message
	if body.Level != "" {
		details["level"] = body.Level
	}
	s.audit.Publish(audit.Event{
		Type:          audit.TypeClient,
		ParticipantID: participantID(c),
		Details:       details,
	})

	return c.SendStatus(fiber.StatusAccepted)
}

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	id, _ := conn.Locals(participantKey).(string)
	s.gameHub.ServeClient(conn, id, s.gameManager)
}

func statusFor(code game.ErrorCode) int {
	switch code {
	case game.CodeInvalidAmount:
		return fiber.StatusBadRequest
	case game.CodeInsufficientFunds:
		return fiber.StatusPaymentRequired
	case game.CodeNoActiveStake:
		return fiber.StatusNotFound
	case game.CodeDuplicateStake, game.CodeAlreadySettled, game.CodeRoundAlreadyCrashed, game.CodeStaleRound:
		return fiber.StatusConflict
	default:
		return fiber.StatusServiceUnavailable
	}
}
