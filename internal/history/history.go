// Package history keeps the recent-rounds window clients render after a
// crash. The in-memory ring is authoritative for reads; appends are
// mirrored to the durable store and, best-effort, to Redis so the window
// survives restarts even through a store outage.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashpit/internal/ledger"
	"crashpit/internal/money"
)

const redisKey = "crashpit:history"

type Entry struct {
	RoundID    string          `json:"roundId"`
	CrashPoint decimal.Decimal `json:"crashPoint"`
}

// Store is the durable slice of the ledger store this service needs.
type Store interface {
	AppendHistory(ctx context.Context, roundID string, crashPointCents int64) error
	RecentHistory(ctx context.Context, limit int) ([]ledger.HistoryRecord, error)
}

type Service struct {
	mu      sync.RWMutex
	entries []Entry // newest first
	window  int

	store  Store
	rdb    *redis.Client // optional
	writes chan Entry
	log    *zap.Logger
}

func New(store Store, rdb *redis.Client, window int, log *zap.Logger) *Service {
	if window <= 0 {
		window = 10
	}
	return &Service{
		window: window,
		store:  store,
		rdb:    rdb,
		writes: make(chan Entry, 64),
		log:    log,
	}
}

// Start loads the window and begins draining durable writes.
func (s *Service) Start(ctx context.Context) {
	s.load(ctx)
	go s.writeLoop(ctx)
}

// Append records a crashed round. The ring updates synchronously; the
// durable and Redis writes are dispatched so the caller (the tick loop)
// never waits on them.
func (s *Service) Append(roundID string, crashPoint decimal.Decimal) {
	entry := Entry{RoundID: roundID, CrashPoint: money.Round(crashPoint)}

	s.mu.Lock()
	s.entries = append([]Entry{entry}, s.entries...)
	if len(s.entries) > s.window {
		s.entries = s.entries[:s.window]
	}
	s.mu.Unlock()

	select {
	case s.writes <- entry:
	default:
		s.log.Warn("history write queue full", zap.String("round_id", roundID))
	}
}

// Recent returns the newest-first window.
func (s *Service) Recent() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

func (s *Service) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-s.writes:
			s.persist(ctx, entry)
		}
	}
}

func (s *Service) persist(ctx context.Context, entry Entry) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.store.AppendHistory(writeCtx, entry.RoundID, money.Cents(entry.CrashPoint)); err != nil {
		s.log.Warn("history append failed", zap.String("round_id", entry.RoundID), zap.Error(err))
	}

	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.LPush(writeCtx, redisKey, payload)
	pipe.LTrim(writeCtx, redisKey, 0, int64(s.window-1))
	if _, err := pipe.Exec(writeCtx); err != nil {
		s.log.Debug("history redis mirror failed", zap.Error(err))
	}
}

// load seeds the ring from the store, falling back to the Redis mirror.
func (s *Service) load(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if records, err := s.store.RecentHistory(loadCtx, s.window); err == nil {
		entries := make([]Entry, 0, len(records))
		for _, r := range records {
			entries = append(entries, Entry{
				RoundID:    r.RoundID,
				CrashPoint: money.FromCents(r.CrashPointCents),
			})
		}
		s.mu.Lock()
		s.entries = entries
		s.mu.Unlock()
		return
	}

	if s.rdb == nil {
		return
	}
	raw, err := s.rdb.LRange(loadCtx, redisKey, 0, int64(s.window-1)).Result()
	if err != nil {
		s.log.Warn("history load failed from both store and redis")
		return
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if json.Unmarshal([]byte(item), &e) == nil {
			entries = append(entries, e)
		}
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}
