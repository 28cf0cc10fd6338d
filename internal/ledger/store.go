package ledger

import (
	"context"
	"time"
)

// BetRecord is the durable shape of a bet. Money travels as integer
// cents; the multiplier as integer hundredths.
type BetRecord struct {
	ID              string
	RoundID         string
	Username        string
	AmountCents     int64
	Status          BetStatus
	MultiplierCents int64
	PlacedAt        time.Time
}

// HistoryRecord is one archived round.
type HistoryRecord struct {
	RoundID         string
	CrashPointCents int64
	CreatedAt       time.Time
}

// Store is the durable collaborator behind the ledger. Implementations
// must be idempotent for the settlement paths: re-running a write after a
// delayed retry may not corrupt state.
type Store interface {
	GetAccount(ctx context.Context, username string) (balanceCents int64, err error)
	UpsertAccount(ctx context.Context, username string, balanceCents int64) error

	InsertBet(ctx context.Context, bet BetRecord) error
	// SettleBet moves a single bet out of pending; a no-op if the bet is
	// already terminal.
	SettleBet(ctx context.Context, betID string, status BetStatus, multiplierCents int64) error
	// SettleRoundLost marks every still-pending bet of the round lost.
	SettleRoundLost(ctx context.Context, roundID string, crashPointCents int64) error

	AppendHistory(ctx context.Context, roundID string, crashPointCents int64) error
	RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error)

	Health(ctx context.Context) error
}
