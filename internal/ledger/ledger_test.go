package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashpit/internal/config"
)

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		MultiplierStep:    decimal.RequireFromString("0.01"),
		Rake:              decimal.RequireFromString("0.02"),
		RiskThreshold:     decimal.RequireFromString("0.70"),
		RiskDenominator:   config.DenominatorLive,
		SingleBettorFloor: decimal.RequireFromString("1.20"),
		SmallPotThreshold: decimal.NewFromInt(100),
		MinBet:            decimal.NewFromInt(1),
		MaxBet:            decimal.NewFromInt(10000),
		HistoryWindow:     10,
	}
}

// roundStub lets tests drive what the ledger observes about the round.
type roundStub struct {
	mu   sync.Mutex
	snap RoundSnapshot
}

func (r *roundStub) set(snap RoundSnapshot) {
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
}

func (r *roundStub) view() RoundView {
	return func() RoundSnapshot {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snap
	}
}

func newTestLedger(t *testing.T) (*Ledger, *MemStore, *roundStub) {
	t.Helper()
	store := NewMemStore()
	l := New(store, testGameConfig(), zap.NewNop())
	round := &roundStub{}
	l.BindRound(round.view())
	return l, store, round
}

func running(roundID, multiplier string) RoundSnapshot {
	return RoundSnapshot{
		RoundID:    roundID,
		Open:       true,
		Running:    true,
		Multiplier: decimal.RequireFromString(multiplier),
	}
}

func TestValidateUser(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ValidateUser(ctx, ""); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("empty username: got %v, want ErrUnknownUser", err)
	}
	if _, err := l.ValidateUser(ctx, "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown user: got %v, want ErrUnknownUser", err)
	}

	// Accounts fault in from the store on first sight.
	if err := store.UpsertAccount(ctx, "carol", 2500); err != nil {
		t.Fatal(err)
	}
	balance, err := l.ValidateUser(ctx, "carol")
	if err != nil {
		t.Fatalf("ValidateUser: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("balance = %s, want 25", balance)
	}
}

func TestSetBalance(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative balance: got %v, want ErrInvalidAmount", err)
	}
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	balance, err := l.ValidateUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want 100", balance)
	}
}

func TestPlaceBet(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	t.Run("round closed", func(t *testing.T) {
		round.set(RoundSnapshot{RoundID: "r0", Open: false})
		_, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(10))
		if !errors.Is(err, ErrRoundNotRunning) {
			t.Fatalf("got %v, want ErrRoundNotRunning", err)
		}
	})

	round.set(running("r1", "1.00"))

	t.Run("amount bounds", func(t *testing.T) {
		if _, _, err := l.PlaceBet(ctx, "alice", decimal.RequireFromString("0.50")); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("below min: got %v, want ErrInvalidAmount", err)
		}
		if _, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(20000)); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("above max: got %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("debits wager", func(t *testing.T) {
		bet, balance, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(50))
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if bet.Status != StatusPending {
			t.Fatalf("status = %s, want pending", bet.Status)
		}
		if !balance.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("balance = %s, want 50", balance)
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		_, balance, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(10))
		if !errors.Is(err, ErrDuplicateBet) {
			t.Fatalf("got %v, want ErrDuplicateBet", err)
		}
		if !balance.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("balance moved on rejection: %s", balance)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		if err := l.SetBalance(ctx, "bob", decimal.NewFromInt(10)); err != nil {
			t.Fatal(err)
		}
		_, balance, err := l.PlaceBet(ctx, "bob", decimal.NewFromInt(60))
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("got %v, want ErrInsufficientBalance", err)
		}
		if !balance.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("balance moved on rejection: %s", balance)
		}
	})
}

func TestPlaceBet_ConcurrentDuplicate(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(1000)); err != nil {
		t.Fatal(err)
	}
	round.set(running("r1", "1.00"))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(50))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrDuplicateBet):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted %d bets for one (user, round), want exactly 1", accepted)
	}

	balance, err := l.ValidateUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !balance.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("balance = %s, want 950 (one wager debited)", balance)
	}
}

func TestCashOut(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	round.set(running("r1", "1.00"))
	if _, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(50)); err != nil {
		t.Fatal(err)
	}

	// 50 x 1.50 x 0.98 = 73.50
	round.set(running("r1", "1.50"))
	payout, balance, err := l.CashOut(ctx, "alice")
	if err != nil {
		t.Fatalf("CashOut: %v", err)
	}
	if !payout.Equal(decimal.RequireFromString("73.50")) {
		t.Fatalf("payout = %s, want 73.50", payout)
	}
	if !balance.Equal(decimal.RequireFromString("123.50")) {
		t.Fatalf("balance = %s, want 123.50", balance)
	}

	if _, _, err := l.CashOut(ctx, "alice"); !errors.Is(err, ErrNoActiveBet) {
		t.Fatalf("second cashout: got %v, want ErrNoActiveBet", err)
	}

	round.set(RoundSnapshot{RoundID: "r1", Open: false, Running: false})
	if _, _, err := l.CashOut(ctx, "alice"); !errors.Is(err, ErrRoundNotRunning) {
		t.Fatalf("cashout outside Running: got %v, want ErrRoundNotRunning", err)
	}
}

// TestCashOutSettleRace pits a cashout against the crash settlement for
// the same bet. Whatever the interleaving, the bet must leave pending
// exactly once and the balance must reflect exactly one outcome.
func TestCashOutSettleRace(t *testing.T) {
	for i := 0; i < 25; i++ {
		l, _, round := newTestLedger(t)
		ctx := context.Background()
		if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(100)); err != nil {
			t.Fatal(err)
		}

		round.set(running("r1", "1.00"))
		bet, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(10))
		if err != nil {
			t.Fatal(err)
		}

		round.set(running("r1", "1.50"))
		var wg sync.WaitGroup
		var cashErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, cashErr = l.CashOut(ctx, "alice")
		}()
		go func() {
			defer wg.Done()
			l.SettleLoss(ctx, "r1", decimal.RequireFromString("1.50"))
		}()
		wg.Wait()

		balance, err := l.ValidateUser(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case cashErr == nil:
			if bet.Status != StatusWon {
				t.Fatalf("cashout won the race but status = %s", bet.Status)
			}
			if !balance.Equal(decimal.RequireFromString("104.70")) {
				t.Fatalf("balance = %s, want 104.70 after winning cashout", balance)
			}
		case errors.Is(cashErr, ErrNoActiveBet):
			if bet.Status != StatusLost {
				t.Fatalf("settlement won the race but status = %s", bet.Status)
			}
			if !balance.Equal(decimal.NewFromInt(90)) {
				t.Fatalf("balance = %s, want 90 after loss", balance)
			}
		default:
			t.Fatalf("unexpected cashout error: %v", cashErr)
		}
	}
}

func TestSettleLoss_Idempotent(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		if err := l.SetBalance(ctx, user, decimal.NewFromInt(100)); err != nil {
			t.Fatal(err)
		}
	}

	round.set(running("r1", "1.00"))
	betA, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(10))
	if err != nil {
		t.Fatal(err)
	}
	betB, _, err := l.PlaceBet(ctx, "bob", decimal.NewFromInt(20))
	if err != nil {
		t.Fatal(err)
	}

	crash := decimal.RequireFromString("1.35")
	l.SettleLoss(ctx, "r1", crash)
	l.SettleLoss(ctx, "r1", crash)

	for _, bet := range []*Bet{betA, betB} {
		if bet.Status != StatusLost {
			t.Fatalf("bet %s status = %s, want lost", bet.Username, bet.Status)
		}
		if !bet.CashoutMultiplier.Equal(crash) {
			t.Fatalf("bet %s multiplier = %s, want %s", bet.Username, bet.CashoutMultiplier, crash)
		}
	}

	balance, err := l.ValidateUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !balance.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("alice balance = %s, want 90 (wager debited once)", balance)
	}
}

func TestExposureViews(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	wagers := map[string]int64{"alice": 10, "bob": 20, "carol": 30}
	for user, amount := range wagers {
		if err := l.SetBalance(ctx, user, decimal.NewFromInt(100)); err != nil {
			t.Fatal(err)
		}
		round.set(running("r1", "1.00"))
		if _, _, err := l.PlaceBet(ctx, user, decimal.NewFromInt(amount)); err != nil {
			t.Fatal(err)
		}
	}

	if total := l.PendingTotal("r1"); !total.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("PendingTotal = %s, want 60", total)
	}
	if n := l.DistinctPendingBettors("r1"); n != 3 {
		t.Fatalf("DistinctPendingBettors = %d, want 3", n)
	}
	// (10+20+30) x 2.00 x 0.98 = 117.60
	if p := l.PotentialPayout("r1", decimal.NewFromInt(2)); !p.Equal(decimal.RequireFromString("117.60")) {
		t.Fatalf("PotentialPayout = %s, want 117.60", p)
	}

	// A cashout shrinks the pending exposure and feeds the won-bets view.
	round.set(running("r1", "1.10"))
	if _, _, err := l.CashOut(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if total := l.PendingTotal("r1"); !total.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("PendingTotal after cashout = %s, want 40", total)
	}
	if n := l.DistinctPendingBettors("r1"); n != 2 {
		t.Fatalf("DistinctPendingBettors after cashout = %d, want 2", n)
	}

	won := l.SettledWonBets()
	if len(won) != 1 || won[0].Username != "bob" {
		t.Fatalf("SettledWonBets = %+v, want bob's bet only", won)
	}
}

// The leaderboard goroutine reads settled bets while cashouts and
// settlements mutate them; both sides must meet on the account lock.
// Run with -race.
func TestSettledWonBets_ConcurrentWithCashOut(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(100000)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				for _, b := range l.SettledWonBets() {
					if b.Status != StatusWon {
						t.Errorf("non-won bet %s in settled view", b.ID)
					}
				}
			}
		}
	}()

	for i := 0; i < 200; i++ {
		roundID := "race-" + decimal.NewFromInt(int64(i)).String()
		round.set(running(roundID, "1.00"))
		if _, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(10)); err != nil {
			t.Fatal(err)
		}
		round.set(running(roundID, "1.25"))
		if i%2 == 0 {
			if _, _, err := l.CashOut(ctx, "alice"); err != nil {
				t.Fatal(err)
			}
		} else {
			l.SettleLoss(ctx, roundID, decimal.RequireFromString("1.25"))
		}
	}
	close(done)
	wg.Wait()
}

func TestPruneRounds(t *testing.T) {
	l, _, round := newTestLedger(t)
	ctx := context.Background()
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(1000000)); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < roundRetention+10; i++ {
		roundID := "round-" + string(rune('a'+i%26)) + "-" + decimal.NewFromInt(int64(i)).String()
		round.set(running(roundID, "1.00"))
		if _, _, err := l.PlaceBet(ctx, "alice", decimal.NewFromInt(1)); err != nil {
			t.Fatal(err)
		}
		l.SettleLoss(ctx, roundID, decimal.RequireFromString("1.01"))
	}

	l.PruneRounds()
	l.mu.RLock()
	retained := len(l.rounds)
	l.mu.RUnlock()
	if retained > roundRetention {
		t.Fatalf("retained %d rounds, want at most %d", retained, roundRetention)
	}
}
