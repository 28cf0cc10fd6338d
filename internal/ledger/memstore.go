package ledger

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store. It backs tests and lets the server run
// without Postgres, the same way the cache layer degrades when Redis is
// absent.
type MemStore struct {
	mu       sync.Mutex
	accounts map[string]int64
	bets     map[string]BetRecord
	history  []HistoryRecord
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]int64),
		bets:     make(map[string]BetRecord),
	}
}

func (m *MemStore) GetAccount(_ context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cents, ok := m.accounts[username]
	if !ok {
		return 0, ErrUnknownUser
	}
	return cents, nil
}

func (m *MemStore) UpsertAccount(_ context.Context, username string, balanceCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[username] = balanceCents
	return nil
}

func (m *MemStore) InsertBet(_ context.Context, bet BetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bets[bet.ID]; !exists {
		m.bets[bet.ID] = bet
	}
	return nil
}

func (m *MemStore) SettleBet(_ context.Context, betID string, status BetStatus, multiplierCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bet, ok := m.bets[betID]
	if !ok || bet.Status != StatusPending {
		return nil
	}
	bet.Status = status
	bet.MultiplierCents = multiplierCents
	m.bets[betID] = bet
	return nil
}

func (m *MemStore) SettleRoundLost(_ context.Context, roundID string, crashPointCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, bet := range m.bets {
		if bet.RoundID == roundID && bet.Status == StatusPending {
			bet.Status = StatusLost
			bet.MultiplierCents = crashPointCents
			m.bets[id] = bet
		}
	}
	return nil
}

func (m *MemStore) AppendHistory(_ context.Context, roundID string, crashPointCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.history {
		if h.RoundID == roundID {
			return nil
		}
	}
	m.history = append(m.history, HistoryRecord{
		RoundID:         roundID,
		CrashPointCents: crashPointCents,
		CreatedAt:       time.Now(),
	})
	return nil
}

func (m *MemStore) RecentHistory(_ context.Context, limit int) ([]HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryRecord, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

func (m *MemStore) Health(context.Context) error { return nil }

// Bet exposes a stored bet record to tests.
func (m *MemStore) Bet(betID string) (BetRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bet, ok := m.bets[betID]
	return bet, ok
}
