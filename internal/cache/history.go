package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const RedisKeyHistory = "crash:history"

// HistoryMirror keeps the recent crash points in a capped Redis list,
// most recent first, so a restarted server can show them again.
type HistoryMirror struct {
	client *redis.Client
	size   int64
}

func NewHistoryMirror(client *redis.Client, size int) *HistoryMirror {
	return &HistoryMirror{client: client, size: int64(size)}
}

func (m *HistoryMirror) Push(ctx context.Context, crash decimal.Decimal) error {
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, RedisKeyHistory, crash.StringFixed(2))
	pipe.LTrim(ctx, RedisKeyHistory, 0, m.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push crash history: %w", err)
	}
	return nil
}

func (m *HistoryMirror) Load(ctx context.Context) ([]decimal.Decimal, error) {
	vals, err := m.client.LRange(ctx, RedisKeyHistory, 0, m.size-1).Result()
	if err != nil {
		return nil, fmt.Errorf("load crash history: %w", err)
	}
	out := make([]decimal.Decimal, 0, len(vals))
	for _, v := range vals {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse crash history entry %q: %w", v, err)
		}
		out = append(out, d)
	}
	return out, nil
}
