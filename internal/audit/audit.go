package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeStake   = "stake"
	TypeCashOut = "cash_out"
	TypeLoss    = "loss"
	TypeRound   = "round"
	TypeDeposit = "deposit"
	TypeClient  = "client_log"
)

// Event is one audit record. Fields that do not apply are left empty.
type Event struct {
	Type          string            `json:"type"`
	ParticipantID string            `json:"participant_id,omitempty"`
	RoundID       uint64            `json:"round_id,omitempty"`
	Amount        *decimal.Decimal  `json:"amount,omitempty"`
	Multiplier    *decimal.Decimal  `json:"multiplier,omitempty"`
	Balance       *decimal.Decimal  `json:"balance,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	At            time.Time         `json:"ts"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Sink is a destination for audit events.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Dec is a shorthand for optional decimal fields.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}
