package game

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// HistorySize is the number of crash points kept.
const HistorySize = 7

// History is the bounded record of recent crash points, most recent first.
type History struct {
	mu      sync.RWMutex
	entries []decimal.Decimal
}

// NewHistory seeds the history; extra entries beyond HistorySize are dropped.
func NewHistory(seed ...decimal.Decimal) *History {
	h := &History{entries: make([]decimal.Decimal, 0, HistorySize+1)}
	for i := len(seed) - 1; i >= 0; i-- {
		h.Record(seed[i])
	}
	return h
}

// Record inserts at the front and evicts the oldest entry past capacity.
func (h *History) Record(crash decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, decimal.Decimal{})
	copy(h.entries[1:], h.entries)
	h.entries[0] = crash
	if len(h.entries) > HistorySize {
		h.entries = h.entries[:HistorySize]
	}
}

// Snapshot returns a copy, front = most recent.
func (h *History) Snapshot() []decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]decimal.Decimal, len(h.entries))
	copy(out, h.entries)
	return out
}

// HistoryMirror persists the history outside the process.
type HistoryMirror interface {
	Push(ctx context.Context, crash decimal.Decimal) error
	Load(ctx context.Context) ([]decimal.Decimal, error)
}
