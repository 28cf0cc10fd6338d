package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists accounts, bets and round history. Every query
// is parameterized; settlement updates are guarded on the pending status
// so a retried write is a no-op.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetAccount(ctx context.Context, username string) (int64, error) {
	var cents int64
	err := p.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM accounts WHERE username = $1`, username).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get account: %v", ErrStoreUnavailable, err)
	}
	return cents, nil
}

func (p *PostgresStore) UpsertAccount(ctx context.Context, username string, balanceCents int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (username, balance_cents)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET balance_cents = EXCLUDED.balance_cents`,
		username, balanceCents)
	if err != nil {
		return fmt.Errorf("%w: upsert account: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) InsertBet(ctx context.Context, bet BetRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bets (id, round_id, username, amount_cents, status, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		bet.ID, bet.RoundID, bet.Username, bet.AmountCents, string(bet.Status), bet.PlacedAt)
	if err != nil {
		return fmt.Errorf("%w: insert bet: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) SettleBet(ctx context.Context, betID string, status BetStatus, multiplierCents int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bets SET status = $2, cashout_multiplier_cents = $3
		WHERE id = $1 AND status = 'pending'`,
		betID, string(status), multiplierCents)
	if err != nil {
		return fmt.Errorf("%w: settle bet: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) SettleRoundLost(ctx context.Context, roundID string, crashPointCents int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bets SET status = 'lost', cashout_multiplier_cents = $2
		WHERE round_id = $1 AND status = 'pending'`,
		roundID, crashPointCents)
	if err != nil {
		return fmt.Errorf("%w: settle round: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) AppendHistory(ctx context.Context, roundID string, crashPointCents int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO round_history (round_id, crash_point_cents)
		VALUES ($1, $2)
		ON CONFLICT (round_id) DO NOTHING`,
		roundID, crashPointCents)
	if err != nil {
		return fmt.Errorf("%w: append history: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT round_id, crash_point_cents, created_at
		FROM round_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent history: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		if err := rows.Scan(&rec.RoundID, &rec.CrashPointCents, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan history: %v", ErrStoreUnavailable, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
