package game

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashpit/internal/ledger"
)

// Row is one leaderboard line, derived from a settled won bet.
type Row struct {
	Username          string          `json:"username"`
	CashoutMultiplier decimal.Decimal `json:"cashoutMultiplier"`
	Wager             decimal.Decimal `json:"wager"`
	Profit            decimal.Decimal `json:"profit"`
}

// WonBetsSource yields the settled won bets the view derives from.
type WonBetsSource interface {
	SettledWonBets() []ledger.Bet
}

// Leaderboard periodically derives the top-K won bets by profit and
// publishes them. Purely a read-only view over the ledger; it holds no
// state of its own beyond the last computed rows.
type Leaderboard struct {
	src      WonBetsSource
	hub      Broadcaster
	size     int
	interval time.Duration
	log      *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewLeaderboard(src WonBetsSource, hub Broadcaster, size int, interval time.Duration, log *zap.Logger) *Leaderboard {
	if size <= 0 {
		size = 10
	}
	return &Leaderboard{
		src:      src,
		hub:      hub,
		size:     size,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (lb *Leaderboard) Start() {
	go lb.run()
}

func (lb *Leaderboard) Stop() {
	lb.stopOnce.Do(func() { close(lb.stopChan) })
}

func (lb *Leaderboard) run() {
	ticker := time.NewTicker(lb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-lb.stopChan:
			return
		case <-ticker.C:
			lb.hub.Broadcast(Message{Type: MsgLeaderboard, Data: LeaderboardPayload{
				Rows: lb.Compute(),
			}})
		}
	}
}

// Compute ranks won bets by profit descending, top K.
func (lb *Leaderboard) Compute() []Row {
	bets := lb.src.SettledWonBets()

	rows := make([]Row, 0, len(bets))
	for _, b := range bets {
		rows = append(rows, Row{
			Username:          b.Username,
			CashoutMultiplier: b.CashoutMultiplier,
			Wager:             b.Wager,
			Profit:            b.Payout.Sub(b.Wager),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Profit.GreaterThan(rows[j].Profit)
	})

	if len(rows) > lb.size {
		rows = rows[:lb.size]
	}
	return rows
}
