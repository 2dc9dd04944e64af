package game

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	one      = decimal.NewFromInt(1)
	thousand = decimal.NewFromInt(1000)
)

// Clock maps elapsed round time to a multiplier. It holds no state beyond
// the growth rate, which is expressed per millisecond.
type Clock struct {
	growth decimal.Decimal
}

func NewClock(growthPerMs decimal.Decimal) Clock {
	return Clock{growth: growthPerMs}
}

// Multiplier returns min(1 + t·k, crash) where t is elapsed whole milliseconds.
func (c Clock) Multiplier(elapsed time.Duration, crash decimal.Decimal) decimal.Decimal {
	ms := elapsed.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	m := one.Add(decimal.NewFromInt(ms).Mul(c.growth))
	if m.GreaterThan(crash) {
		return crash
	}
	return m
}

// TimeToCrash is (crash − 1) / k, rounded up to the microsecond so that the
// multiplier has reached crash by the returned instant.
func (c Clock) TimeToCrash(crash decimal.Decimal) time.Duration {
	if !crash.GreaterThan(one) {
		return 0
	}
	us := crash.Sub(one).Div(c.growth).Mul(thousand).Ceil().IntPart()
	return time.Duration(us) * time.Microsecond
}
