// Package ledger owns account balances and the bet lifecycle. It is the
// only component allowed to mutate either. State is held in memory and
// mirrored to a durable Store through an asynchronous persister, so the
// game loop never waits on the database.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashpit/internal/config"
	"crashpit/internal/metrics"
	"crashpit/internal/money"
)

type BetStatus string

const (
	StatusPending BetStatus = "pending"
	StatusWon     BetStatus = "won"
	StatusLost    BetStatus = "lost"
)

type Bet struct {
	ID                string          `json:"betId"`
	RoundID           string          `json:"roundId"`
	Username          string          `json:"username"`
	Wager             decimal.Decimal `json:"wager"`
	Status            BetStatus       `json:"status"`
	CashoutMultiplier decimal.Decimal `json:"cashoutMultiplier"`
	Payout            decimal.Decimal `json:"payout"`
	PlacedAt          time.Time       `json:"placedAt"`
}

// RoundSnapshot is what the ledger observes about the current round at
// the instant a request reaches it.
type RoundSnapshot struct {
	RoundID    string
	Open       bool // accepting bets (Waiting or Running)
	Running    bool
	Multiplier decimal.Decimal
}

// RoundView yields the live round snapshot; provided by the state machine.
type RoundView func() RoundSnapshot

// Notifier receives bet-accepted events for fan-out.
type Notifier interface {
	BetAccepted(username string, amount decimal.Decimal)
}

type account struct {
	mu      sync.Mutex
	balance decimal.Decimal
	bets    map[string]*Bet // pending bet per roundID, at most one
}

// Ledger serializes mutations per account: every balance or bet-status
// change for a user happens under that user's lock, never a global one.
// Bet status moves exactly once out of StatusPending; cashout and crash
// settlement both go through the same per-account lock, so whichever
// arrives second observes a terminal bet and fails cleanly.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
	rounds   map[string][]*Bet // bets per round, for settlement and views
	roundSeq []string

	store     Store
	persister *persister
	roundView RoundView
	notifier  Notifier

	cfg config.GameConfig
	log *zap.Logger
}

const roundRetention = 50

func New(store Store, cfg config.GameConfig, log *zap.Logger) *Ledger {
	l := &Ledger{
		accounts:  make(map[string]*account),
		rounds:    make(map[string][]*Bet),
		store:     store,
		persister: newPersister(log),
		roundView: func() RoundSnapshot { return RoundSnapshot{} },
		cfg:       cfg,
		log:       log,
	}
	return l
}

// BindRound wires the live round view; must happen before requests flow.
func (l *Ledger) BindRound(view RoundView) { l.roundView = view }

// BindNotifier wires bet-accepted fan-out.
func (l *Ledger) BindNotifier(n Notifier) { l.notifier = n }

func (l *Ledger) Start(ctx context.Context) { go l.persister.run(ctx) }

// ValidateUser resolves a username to its balance, loading the account
// from the store on first sight.
func (l *Ledger) ValidateUser(ctx context.Context, username string) (decimal.Decimal, error) {
	if username == "" {
		return decimal.Zero, ErrUnknownUser
	}
	acc, err := l.loadAccount(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance, nil
}

// SetBalance seeds or overwrites an account balance (admin surface).
func (l *Ledger) SetBalance(ctx context.Context, username string, balance decimal.Decimal) error {
	if username == "" {
		return ErrUnknownUser
	}
	if balance.IsNegative() {
		return ErrInvalidAmount
	}
	balance = money.Round(balance)

	l.mu.Lock()
	acc, ok := l.accounts[username]
	if !ok {
		acc = &account{bets: make(map[string]*Bet)}
		l.accounts[username] = acc
	}
	l.mu.Unlock()

	acc.mu.Lock()
	acc.balance = balance
	acc.mu.Unlock()

	l.persister.enqueue("upsert account", l.persistBalance(username))
	return nil
}

// PlaceBet debits the wager and creates the round's pending bet for the
// user. At most one pending bet may exist per (username, roundID).
func (l *Ledger) PlaceBet(ctx context.Context, username string, amount decimal.Decimal) (*Bet, decimal.Decimal, error) {
	amount = money.Round(amount)
	if amount.LessThan(l.cfg.MinBet) || amount.GreaterThan(l.cfg.MaxBet) {
		metrics.BetsRejectedTotal.WithLabelValues("invalid_amount").Inc()
		return nil, decimal.Zero, ErrInvalidAmount
	}

	snap := l.roundView()
	if snap.RoundID == "" || !snap.Open {
		metrics.BetsRejectedTotal.WithLabelValues("round_not_running").Inc()
		return nil, decimal.Zero, ErrRoundNotRunning
	}

	acc, err := l.loadAccount(ctx, username)
	if err != nil {
		metrics.BetsRejectedTotal.WithLabelValues("unknown_user").Inc()
		return nil, decimal.Zero, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if _, dup := acc.bets[snap.RoundID]; dup {
		metrics.BetsRejectedTotal.WithLabelValues("duplicate_bet").Inc()
		return nil, acc.balance, ErrDuplicateBet
	}
	if acc.balance.LessThan(amount) {
		metrics.BetsRejectedTotal.WithLabelValues("insufficient_balance").Inc()
		return nil, acc.balance, ErrInsufficientBalance
	}

	acc.balance = acc.balance.Sub(amount)
	bet := &Bet{
		ID:       uuid.NewString(),
		RoundID:  snap.RoundID,
		Username: username,
		Wager:    amount,
		Status:   StatusPending,
		PlacedAt: time.Now(),
	}
	acc.bets[snap.RoundID] = bet

	l.mu.Lock()
	l.indexRound(snap.RoundID)
	l.rounds[snap.RoundID] = append(l.rounds[snap.RoundID], bet)
	l.mu.Unlock()

	record := toRecord(bet)
	writeBalance := l.persistBalance(username)
	l.persister.enqueue("place bet", func(ctx context.Context) error {
		if err := writeBalance(ctx); err != nil {
			return err
		}
		return l.store.InsertBet(ctx, record)
	})

	if l.notifier != nil {
		l.notifier.BetAccepted(username, amount)
	}
	metrics.BetsPlacedTotal.Inc()
	l.log.Info("bet placed",
		zap.String("username", username),
		zap.String("round_id", snap.RoundID),
		zap.String("amount", amount.String()))

	return bet, acc.balance, nil
}

// CashOut settles the user's pending bet of the current round as won at
// the multiplier observed when the request reaches the ledger, and
// credits the payout. Racing the crash settlement is resolved by the bet
// status check under the account lock: only one of them wins.
func (l *Ledger) CashOut(ctx context.Context, username string) (payout, balance decimal.Decimal, err error) {
	snap := l.roundView()
	if !snap.Running {
		return decimal.Zero, decimal.Zero, ErrRoundNotRunning
	}

	acc, err := l.loadAccount(ctx, username)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	bet, ok := acc.bets[snap.RoundID]
	if !ok || bet.Status != StatusPending {
		return decimal.Zero, acc.balance, ErrNoActiveBet
	}

	payout = money.Payout(bet.Wager, snap.Multiplier, l.cfg.Rake)
	bet.Status = StatusWon
	bet.CashoutMultiplier = snap.Multiplier
	bet.Payout = payout
	delete(acc.bets, snap.RoundID)

	acc.balance = acc.balance.Add(payout)

	betID := bet.ID
	multCents := money.Cents(snap.Multiplier)
	writeBalance := l.persistBalance(username)
	l.persister.enqueue("cashout", func(ctx context.Context) error {
		if err := l.store.SettleBet(ctx, betID, StatusWon, multCents); err != nil {
			return err
		}
		return writeBalance(ctx)
	})

	metrics.CashoutsTotal.Inc()
	l.log.Info("cashout",
		zap.String("username", username),
		zap.String("round_id", snap.RoundID),
		zap.String("multiplier", snap.Multiplier.String()),
		zap.String("payout", payout.String()))

	return payout, acc.balance, nil
}

// SettleLoss marks every remaining pending bet of the round lost at the
// crash point. Idempotent: already-settled bets are skipped.
func (l *Ledger) SettleLoss(ctx context.Context, roundID string, crashPoint decimal.Decimal) {
	l.mu.RLock()
	bets := append([]*Bet(nil), l.rounds[roundID]...)
	l.mu.RUnlock()

	settled := 0
	for _, bet := range bets {
		l.mu.RLock()
		acc := l.accounts[bet.Username]
		l.mu.RUnlock()
		if acc == nil {
			continue
		}

		acc.mu.Lock()
		if bet.Status == StatusPending {
			bet.Status = StatusLost
			bet.CashoutMultiplier = crashPoint
			delete(acc.bets, roundID)
			settled++
		}
		acc.mu.Unlock()
	}

	if settled > 0 {
		crashCents := money.Cents(crashPoint)
		l.persister.enqueue("settle round", func(ctx context.Context) error {
			return l.store.SettleRoundLost(ctx, roundID, crashCents)
		})
		metrics.LossesSettledTotal.Add(float64(settled))
	}
	l.log.Info("round settled",
		zap.String("round_id", roundID),
		zap.String("crash_point", crashPoint.String()),
		zap.Int("lost_bets", settled))
}

// PendingTotal is the summed wager of the round's pending bets.
func (l *Ledger) PendingTotal(roundID string) decimal.Decimal {
	total := decimal.Zero
	l.eachPending(roundID, func(b *Bet) {
		total = total.Add(b.Wager)
	})
	return total
}

// DistinctPendingBettors counts users with a pending bet in the round.
func (l *Ledger) DistinctPendingBettors(roundID string) int {
	seen := make(map[string]struct{})
	l.eachPending(roundID, func(b *Bet) {
		seen[b.Username] = struct{}{}
	})
	return len(seen)
}

// PotentialPayout is what the house would owe if every pending bet of the
// round cashed out at the given multiplier, net of rake.
func (l *Ledger) PotentialPayout(roundID string, multiplier decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	l.eachPending(roundID, func(b *Bet) {
		total = total.Add(money.Payout(b.Wager, multiplier, l.cfg.Rake))
	})
	return total
}

// SettledWonBets returns won bets of retained rounds, for the
// leaderboard view. Bet fields are only stable under the owning
// account's lock, so each bet is copied under it.
func (l *Ledger) SettledWonBets() []Bet {
	l.mu.RLock()
	var all []*Bet
	for _, bets := range l.rounds {
		all = append(all, bets...)
	}
	l.mu.RUnlock()

	var out []Bet
	for _, b := range all {
		acc := l.accountFor(b.Username)
		if acc == nil {
			continue
		}
		acc.mu.Lock()
		if b.Status == StatusWon {
			out = append(out, *b)
		}
		acc.mu.Unlock()
	}
	return out
}

// PruneRounds drops bet indexes for rounds beyond the retention window.
// Called by the machine when a new round starts.
func (l *Ledger) PruneRounds() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.roundSeq) > roundRetention {
		old := l.roundSeq[0]
		l.roundSeq = l.roundSeq[1:]
		delete(l.rounds, old)
	}
}

func (l *Ledger) eachPending(roundID string, fn func(*Bet)) {
	l.mu.RLock()
	bets := append([]*Bet(nil), l.rounds[roundID]...)
	l.mu.RUnlock()

	for _, b := range bets {
		acc := l.accountFor(b.Username)
		if acc == nil {
			continue
		}
		acc.mu.Lock()
		if b.Status == StatusPending {
			fn(b)
		}
		acc.mu.Unlock()
	}
}

func (l *Ledger) accountFor(username string) *account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[username]
}

// persistBalance builds a durable balance write that reads the live
// in-memory balance when it executes, not when it was enqueued. Retried
// or re-queued ops therefore always land the newest balance; a stale op
// completing late cannot overwrite a newer durable value.
func (l *Ledger) persistBalance(username string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		acc := l.accountFor(username)
		if acc == nil {
			return nil
		}
		acc.mu.Lock()
		cents := money.Cents(acc.balance)
		acc.mu.Unlock()
		return l.store.UpsertAccount(ctx, username, cents)
	}
}

// loadAccount returns the in-memory account, faulting it in from the
// store on first access.
func (l *Ledger) loadAccount(ctx context.Context, username string) (*account, error) {
	if acc := l.accountFor(username); acc != nil {
		return acc, nil
	}

	cents, err := l.store.GetAccount(ctx, username)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[username]; ok {
		return acc, nil
	}
	acc := &account{
		balance: money.FromCents(cents),
		bets:    make(map[string]*Bet),
	}
	l.accounts[username] = acc
	return acc, nil
}

// indexRound records round order for retention; caller holds l.mu.
func (l *Ledger) indexRound(roundID string) {
	if _, ok := l.rounds[roundID]; !ok {
		l.roundSeq = append(l.roundSeq, roundID)
	}
}

func toRecord(b *Bet) BetRecord {
	return BetRecord{
		ID:          b.ID,
		RoundID:     b.RoundID,
		Username:    b.Username,
		AmountCents: money.Cents(b.Wager),
		Status:      b.Status,
		PlacedAt:    b.PlacedAt,
	}
}
