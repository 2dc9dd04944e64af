package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	RedisKeyBalancePrefix = "crash:balance:"
	RedisKeyRefPrefix     = "crash:ref:"
)

// debitScript opens the account if needed, then decrements only when the
// balance covers the amount and the reference is unused. Replies with
// {status, balance}: 0 applied or replayed, -1 insufficient, -2 refunded.
var debitScript = redis.NewScript(`
local bal = redis.call('GET', KEYS[1])
if not bal then
	bal = ARGV[2]
	redis.call('SET', KEYS[1], bal)
end
local seen = redis.call('GET', KEYS[2])
if seen then
	if seen == 'refunded' then
		return {-2, tonumber(bal)}
	end
	return {0, tonumber(bal)}
end
if tonumber(bal) < tonumber(ARGV[1]) then
	return {-1, tonumber(bal)}
end
local left = redis.call('DECRBY', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], 'debit:' .. ARGV[1], 'EX', ARGV[3])
return {0, left}
`)

var creditScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('SET', KEYS[1], ARGV[2])
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return tonumber(redis.call('GET', KEYS[1]))
end
local bal = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], 'credit', 'EX', ARGV[3])
return bal
`)

// refundScript gives back a debit recorded under KEYS[2] and marks the
// reference refunded. An unknown reference is closed without a balance change.
var refundScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('SET', KEYS[1], ARGV[1])
end
local seen = redis.call('GET', KEYS[2])
local debited = seen and string.sub(seen, 1, 6) == 'debit:'
if debited then
	redis.call('INCRBY', KEYS[1], string.sub(seen, 7))
end
if not seen or debited then
	redis.call('SET', KEYS[2], 'refunded', 'EX', ARGV[2])
end
return tonumber(redis.call('GET', KEYS[1]))
`)

// RedisStore keeps balances as integer cents under crash:balance:<id> and
// mutation references under crash:ref:<id>:<ref>. Every mutation is a single
// Lua script, so it is atomic on the server.
type RedisStore struct {
	client  *redis.Client
	opening int64
}

func NewRedisStore(client *redis.Client, opening decimal.Decimal) *RedisStore {
	return &RedisStore{client: client, opening: openingCents(opening)}
}

func (s *RedisStore) keys(participantID, ref string) []string {
	return []string{RedisKeyBalancePrefix + participantID, RedisKeyRefPrefix + participantID + ":" + ref}
}

func (s *RedisStore) DebitIfSufficient(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Zero, err
	}

	res, err := debitScript.Run(ctx, s.client, s.keys(participantID, ref), cents, s.opening, int64(RefTTL.Seconds())).Int64Slice()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis debit: %w", err)
	}
	if len(res) != 2 {
		return decimal.Zero, fmt.Errorf("redis debit: unexpected reply %v", res)
	}
	switch res[0] {
	case -1:
		return FromCents(res[1]), ErrInsufficientFunds
	case -2:
		return FromCents(res[1]), ErrReferenceClosed
	}
	return FromCents(res[1]), nil
}

func (s *RedisStore) Credit(ctx context.Context, participantID, ref string, amount decimal.Decimal) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Zero, err
	}

	res, err := creditScript.Run(ctx, s.client, s.keys(participantID, ref), cents, s.opening, int64(RefTTL.Seconds())).Int64()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis credit: %w", err)
	}
	return FromCents(res), nil
}

func (s *RedisStore) Refund(ctx context.Context, participantID, ref string) (decimal.Decimal, error) {
	res, err := refundScript.Run(ctx, s.client, s.keys(participantID, ref), s.opening, int64(RefTTL.Seconds())).Int64()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis refund: %w", err)
	}
	return FromCents(res), nil
}

func (s *RedisStore) Balance(ctx context.Context, participantID string) (decimal.Decimal, error) {
	cents, err := s.client.Get(ctx, RedisKeyBalancePrefix+participantID).Int64()
	if errors.Is(err, redis.Nil) {
		return FromCents(s.opening), nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis balance: %w", err)
	}
	return FromCents(cents), nil
}
