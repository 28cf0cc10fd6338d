package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// flakyStore fails the first n account writes, then behaves like the
// wrapped store. Models a store coming back from an outage.
type flakyStore struct {
	*MemStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) UpsertAccount(ctx context.Context, username string, balanceCents int64) error {
	f.mu.Lock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	}
	f.mu.Unlock()
	return f.MemStore.UpsertAccount(ctx, username, balanceCents)
}

func (f *flakyStore) upsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPersister_RetriesThroughOutage(t *testing.T) {
	store := &flakyStore{MemStore: NewMemStore(), failures: 2}
	l := New(store, testGameConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(75)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		cents, err := store.MemStore.GetAccount(ctx, "alice")
		if err == nil {
			if cents != 7500 {
				t.Fatalf("persisted %d cents, want 7500", cents)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("write never reached the store despite retries")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// A balance write that exhausts every attempt is re-queued behind newer
// writes for the same account. Since balance ops read the live balance
// when they run, the late op must land the newest value, never the one
// current at enqueue time.
func TestPersister_RequeuedWriteCannotRegressBalance(t *testing.T) {
	store := &flakyStore{MemStore: NewMemStore(), failures: persistMaxAttempts}
	l := New(store, testGameConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	// First write burns all its attempts against the outage; the second
	// is queued behind it and succeeds once the store recovers.
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(20)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(30 * time.Second)
	for store.upsertCalls() < persistMaxAttempts+2 {
		select {
		case <-deadline:
			t.Fatalf("re-queued write never drained, %d upsert calls", store.upsertCalls())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cents, err := store.MemStore.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if cents != 2000 {
		t.Fatalf("durable balance = %d cents after recovery, want 2000", cents)
	}
}

func TestPersister_WriteOrderPreserved(t *testing.T) {
	store := NewMemStore()
	l := New(store, testGameConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	// Later balance writes for the same account must win.
	for i := int64(1); i <= 5; i++ {
		if err := l.SetBalance(ctx, "alice", decimal.NewFromInt(i*10)); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		cents, err := store.GetAccount(ctx, "alice")
		if err == nil && cents == 5000 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("final balance never persisted, last read %d cents (err %v)", cents, err)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
