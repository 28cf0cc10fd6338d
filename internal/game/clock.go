package game

import (
	"github.com/shopspring/decimal"

	"crashpit/internal/money"
)

// Clock advances the displayed multiplier by a fixed step per tick.
// Values are two-place decimals, strictly increasing, starting at 1.00.
// The clock only runs while the round is Running; entering Running
// resets it.
type Clock struct {
	step    decimal.Decimal
	current decimal.Decimal
}

func NewClock(step decimal.Decimal) *Clock {
	if !step.IsPositive() {
		step = decimal.New(1, -2) // 0.01
	}
	c := &Clock{step: money.Round(step)}
	c.Reset()
	return c
}

// Reset returns the clock to exactly 1.00.
func (c *Clock) Reset() {
	c.current = money.One.Round(money.Places)
}

// Tick advances one step and returns the new multiplier.
func (c *Clock) Tick() decimal.Decimal {
	c.current = money.Round(c.current.Add(c.step))
	return c.current
}

// Current returns the multiplier without advancing.
func (c *Clock) Current() decimal.Decimal {
	return c.current
}
