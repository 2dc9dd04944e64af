package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundState string

const (
	RoundPending RoundState = "PENDING"
	RoundRunning RoundState = "RUNNING"
	RoundCrashed RoundState = "CRASHED"
)

// Round is the server-side view of a round. CrashMultiplier and Seed must
// not leave the process before the round crashes.
type Round struct {
	ID              uint64
	CrashMultiplier decimal.Decimal
	Seed            string
	Commitment      string
	State           RoundState
	OpenedAt        time.Time
	StartedAt       time.Time
	CrashAt         time.Time
	CrashedAt       time.Time
}

type StakeStatus string

const (
	StakeLive      StakeStatus = "LIVE"
	StakeCashedOut StakeStatus = "CASHED_OUT"
	StakeLost      StakeStatus = "LOST"
	// StakeSettling is a cash-out that was decided while the credit is
	// still being confirmed. It is never settled as lost.
	StakeSettling StakeStatus = "SETTLING"
)

type Stake struct {
	ID            string          `json:"stake_id"`
	ParticipantID string          `json:"participant_id"`
	RoundID       uint64          `json:"round_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        StakeStatus     `json:"status"`
	PlacedAt      time.Time       `json:"placed_at"`
}

type CashOut struct {
	ID            string          `json:"cash_out_id"`
	StakeID       string          `json:"stake_id"`
	ParticipantID string          `json:"participant_id"`
	RoundID       uint64          `json:"round_id"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Winnings      decimal.Decimal `json:"winnings"`
	SettledAt     time.Time       `json:"settled_at"`
}

// StakeRequest with RoundID 0 targets the round current on arrival.
type StakeRequest struct {
	RoundID uint64          `json:"round_id,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

type StakeResponse struct {
	Success bool            `json:"success"`
	RoundID uint64          `json:"round_id"`
	StakeID string          `json:"stake_id,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
	Error   ErrorCode       `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type CashOutRequest struct {
	RoundID uint64 `json:"round_id,omitempty"`
}

type CashOutResponse struct {
	Success    bool            `json:"success"`
	RoundID    uint64          `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Winnings   decimal.Decimal `json:"winnings"`
	Balance    decimal.Decimal `json:"balance"`
	Error      ErrorCode       `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// RoundView is the public projection of the current round.
type RoundView struct {
	RoundID         uint64            `json:"round_id"`
	State           RoundState        `json:"state"`
	Commitment      string            `json:"commitment"`
	Multiplier      decimal.Decimal   `json:"multiplier"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CrashMultiplier *decimal.Decimal  `json:"crash_multiplier"`
	Seed            string            `json:"seed,omitempty"`
	History         []decimal.Decimal `json:"history"`
	Stakes          []Stake           `json:"stakes"`
}

const (
	EventRoundPending  = "round_pending"
	EventRoundStart    = "round_start"
	EventRoundTick     = "round_tick"
	EventRoundCrash    = "round_crash"
	EventStakePlaced   = "stake_placed"
	EventCashedOut     = "cashed_out"
	EventInitialState  = "initial_state"
	EventStakeResult   = "stake_result"
	EventCashOutResult = "cashout_result"
	EventPong          = "pong"
	EventError         = "error"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type RoundPendingMessage struct {
	RoundID    uint64 `json:"round_id"`
	Commitment string `json:"commitment"`
}

type RoundStartMessage struct {
	RoundID    uint64            `json:"round_id"`
	History    []decimal.Decimal `json:"history"`
	Commitment string            `json:"commitment"`
}

type RoundTickMessage struct {
	RoundID    uint64          `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type RoundCrashMessage struct {
	RoundID         uint64          `json:"round_id"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
	Seed            string          `json:"seed"`
}

type StakePlacedMessage struct {
	ParticipantID string          `json:"participant_id"`
	RoundID       uint64          `json:"round_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type CashedOutMessage struct {
	ParticipantID string          `json:"participant_id"`
	RoundID       uint64          `json:"round_id"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Winnings      decimal.Decimal `json:"winnings"`
}

// ClientMessage is an inbound websocket frame.
type ClientMessage struct {
	Type    string          `json:"type"`
	RoundID uint64          `json:"round_id,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}
