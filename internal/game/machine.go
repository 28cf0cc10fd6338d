package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashpit/internal/config"
	"crashpit/internal/history"
	"crashpit/internal/ledger"
	"crashpit/internal/metrics"
	"crashpit/internal/money"
)

// Broadcaster is the slice of the hub the machine drives.
type Broadcaster interface {
	Broadcast(message any)
	BroadcastReliable(message any)
}

// LedgerOps is what the machine needs from the ledger: exposure reads
// for the selector plus settlement. The machine never touches balances
// or individual bets.
type LedgerOps interface {
	Exposure
	SettleLoss(ctx context.Context, roundID string, crashPoint decimal.Decimal)
	PruneRounds()
}

// HistoryView records crashed rounds and serves the recent window.
type HistoryView interface {
	Append(roundID string, crashPoint decimal.Decimal)
	Recent() []history.Entry
}

// Machine owns the round. A single tick loop drives every phase
// transition; concurrent bet and cashout requests only ever read the
// round through Snapshot, they never write it.
type Machine struct {
	cfg      config.GameConfig
	ledger   LedgerOps
	selector *Selector
	clock    *Clock
	hub      Broadcaster
	history  HistoryView
	log      *zap.Logger

	mu    sync.RWMutex
	round *Round

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewMachine(cfg config.GameConfig, led LedgerOps, sel *Selector, hub Broadcaster, hist HistoryView, log *zap.Logger) *Machine {
	return &Machine{
		cfg:      cfg,
		ledger:   led,
		selector: sel,
		clock:    NewClock(cfg.MultiplierStep),
		hub:      hub,
		history:  hist,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (m *Machine) Start() {
	go m.loop()
}

func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Snapshot returns a copy of the current round state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.round == nil {
		return Snapshot{Phase: PhaseWaiting, Multiplier: money.One.Round(money.Places)}
	}
	return Snapshot{
		RoundID:    m.round.ID,
		Phase:      m.round.Phase,
		Multiplier: m.round.Multiplier,
	}
}

// LedgerView adapts Snapshot for the ledger: phase observed at the
// instant a request reaches it.
func (m *Machine) LedgerView() ledger.RoundView {
	return func() ledger.RoundSnapshot {
		s := m.Snapshot()
		return ledger.RoundSnapshot{
			RoundID:    s.RoundID,
			Open:       s.Phase == PhaseWaiting || s.Phase == PhaseRunning,
			Running:    s.Phase == PhaseRunning,
			Multiplier: s.Multiplier,
		}
	}
}

func (m *Machine) loop() {
	for {
		select {
		case <-m.stopChan:
			m.log.Info("round loop stopped")
			return
		default:
			m.runRound()
		}
	}
}

func (m *Machine) runRound() {
	roundID := uuid.NewString()

	m.mu.Lock()
	m.round = &Round{
		ID:         roundID,
		Phase:      PhaseWaiting,
		Multiplier: money.One.Round(money.Places),
	}
	m.mu.Unlock()
	m.ledger.PruneRounds()

	m.broadcastPhase(PhaseWaiting, money.One.Round(money.Places))
	if !m.pause(m.cfg.WaitingDelay) {
		return
	}

	// Entering Running: reset the clock and fix the provisional crash
	// point from the exposure at this instant, unless an operator staged
	// one for this round.
	crashPoint, overridden := m.selector.TakeOverride()
	wageredAtStart := m.ledger.PendingTotal(roundID)
	if !overridden {
		bettors := m.ledger.DistinctPendingBettors(roundID)
		crashPoint = m.selector.Baseline(wageredAtStart, bettors)
	}

	m.clock.Reset()
	m.mu.Lock()
	m.round.Phase = PhaseRunning
	m.round.Multiplier = m.clock.Current()
	m.round.CrashPoint = crashPoint
	m.round.StartedAt = time.Now()
	m.mu.Unlock()

	m.log.Info("round running",
		zap.String("round_id", roundID),
		zap.Bool("overridden", overridden),
		zap.String("wagered", wageredAtStart.String()))

	m.broadcastPhase(PhaseRunning, m.clock.Current())

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			current := m.clock.Current()

			// Operator force-crash fires regardless of the override;
			// the adaptive rules are skipped while an override is
			// active.
			crashNow := m.selector.TakeForceCrash()
			if !crashNow && !overridden {
				crashNow = m.selector.ShouldCrash(roundID, current, m.ledger, wageredAtStart)
			}
			if crashNow {
				m.crash(roundID, current)
				return
			}

			next := m.clock.Tick()
			m.mu.Lock()
			m.round.Multiplier = next
			m.mu.Unlock()
			metrics.CurrentMultiplier.Set(next.InexactFloat64())

			if next.GreaterThanOrEqual(crashPoint) {
				m.crash(roundID, next)
				return
			}

			m.hub.Broadcast(Message{Type: MsgMultiplierTick, Data: MultiplierTickPayload{
				Multiplier: next,
			}})
		}
	}
}

// crash ends the round at the given multiplier, which becomes the
// immutable crash point, settles outstanding bets as lost and archives
// the round. The crash event goes out before any Waiting broadcast.
func (m *Machine) crash(roundID string, at decimal.Decimal) {
	m.mu.Lock()
	m.round.Phase = PhaseCrashed
	m.round.CrashPoint = at
	m.round.Multiplier = at
	m.mu.Unlock()

	metrics.RoundsTotal.Inc()
	metrics.CrashPoint.Observe(at.InexactFloat64())
	metrics.CurrentMultiplier.Set(0)

	m.log.Info("round crashed",
		zap.String("round_id", roundID),
		zap.String("crash_point", at.String()))

	m.hub.BroadcastReliable(Message{Type: MsgRoundCrashed, Data: RoundCrashedPayload{
		CrashPoint: at,
	}})

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CrashCooldown)
	defer cancel()
	m.ledger.SettleLoss(ctx, roundID, at)

	m.history.Append(roundID, at)
	m.hub.BroadcastReliable(Message{Type: MsgHistory, Data: HistoryPayload{
		Entries: m.history.Recent(),
	}})

	m.broadcastPhase(PhaseCrashed, at)
	m.pause(m.cfg.CrashCooldown)
}

func (m *Machine) broadcastPhase(phase Phase, multiplier decimal.Decimal) {
	m.hub.BroadcastReliable(Message{Type: MsgRoundState, Data: RoundStatePayload{
		Phase:      phase,
		Multiplier: multiplier,
	}})
}

// pause waits stop-aware; false means the machine is shutting down.
func (m *Machine) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.stopChan:
		return false
	case <-t.C:
		return true
	}
}
