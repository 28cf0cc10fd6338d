package game

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"crashpit/internal/config"
	"crashpit/internal/ledger"
	"crashpit/internal/money"
)

// Exposure is the slice of the ledger the selector reads. It never
// mutates anything through it.
type Exposure interface {
	PendingTotal(roundID string) decimal.Decimal
	DistinctPendingBettors(roundID string) int
	PotentialPayout(roundID string, multiplier decimal.Decimal) decimal.Decimal
}

// Selector chooses the round's crash point and revises it while the
// round runs, bounding the house's per-round loss. Operators can stage a
// fixed crash point for the next round (which disables the adaptive
// path) or force the live round to crash at the current multiplier.
type Selector struct {
	cfg config.GameConfig
	rng *rand.Rand

	mu          sync.Mutex
	override    decimal.Decimal
	hasOverride bool
	forceCrash  bool
}

func NewSelector(cfg config.GameConfig, seed int64) *Selector {
	return &Selector{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// StageOverride fixes the next round's crash point. Values below 1.00
// are rejected.
func (s *Selector) StageOverride(crashPoint decimal.Decimal) error {
	crashPoint = money.Round(crashPoint)
	if crashPoint.LessThan(money.One) {
		return ledger.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = crashPoint
	s.hasOverride = true
	return nil
}

// ForceCrash requests an immediate crash of the live round at its
// current multiplier; consumed on the next tick.
func (s *Selector) ForceCrash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceCrash = true
}

// TakeOverride consumes a staged override at Running entry.
func (s *Selector) TakeOverride() (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasOverride {
		return decimal.Zero, false
	}
	v := s.override
	s.override = decimal.Zero
	s.hasOverride = false
	return v, true
}

// TakeForceCrash consumes a pending force-crash request.
func (s *Selector) TakeForceCrash() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.forceCrash
	s.forceCrash = false
	return v
}

// Baseline draws the provisional crash point at Running entry,
// conditioned on the round's exposure at that moment. The value is never
// revealed to clients.
//
// Buckets: no money down gets a wide range (fast crash is harmless with
// zero exposure); one or two bettors get a tight near-1.0 range; a small
// pot gets a slightly higher ceiling; anything bigger draws from the
// widest range that is still capped.
func (s *Selector) Baseline(total decimal.Decimal, bettors int) decimal.Decimal {
	switch {
	case total.IsZero():
		return s.draw(s.cfg.DrawIdleCeiling)
	case bettors == 1 || bettors == 2:
		return s.draw(s.cfg.DrawFewCeiling)
	case total.LessThanOrEqual(s.cfg.SmallPotThreshold):
		return s.draw(s.cfg.DrawSmallCeiling)
	default:
		return s.draw(s.cfg.DrawLargeCeiling)
	}
}

// ShouldCrash is the per-tick adaptive check, evaluated at the live
// multiplier. wageredAtStart is the pending total captured when Running
// began, used when the snapshot denominator policy is configured.
func (s *Selector) ShouldCrash(roundID string, multiplier decimal.Decimal, exp Exposure, wageredAtStart decimal.Decimal) bool {
	bettors := exp.DistinctPendingBettors(roundID)

	if bettors > 1 {
		denom := exp.PendingTotal(roundID)
		if s.cfg.RiskDenominator == config.DenominatorSnapshot {
			denom = wageredAtStart
		}
		if denom.IsPositive() {
			payout := exp.PotentialPayout(roundID, multiplier)
			if payout.Div(denom).GreaterThan(s.cfg.RiskThreshold) {
				return true
			}
		}
	}

	if bettors == 1 && multiplier.GreaterThanOrEqual(s.cfg.SingleBettorFloor) {
		return true
	}
	return false
}

// draw picks uniformly from [1.00, ceiling) and rounds to two places.
func (s *Selector) draw(ceiling decimal.Decimal) decimal.Decimal {
	span, _ := ceiling.Sub(money.One).Float64()
	if span <= 0 {
		return money.One.Round(money.Places)
	}
	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()
	return money.Round(money.One.Add(decimal.NewFromFloat(r * span)))
}
