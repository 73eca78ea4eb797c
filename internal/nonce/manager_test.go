package nonce

import (
	"context"
	"errors"
	"testing"

	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage/memory"
)

const account = domain.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func TestSyncOrdering(t *testing.T) {
	m := NewManager(memory.New())
	ctx := context.Background()

	// nonce 1 before 0 must fail regardless of submission order in time.
	if err := m.Consume(ctx, account, 1, intent.NonceSync); !errors.Is(err, ErrNonceOutOfOrder) {
		t.Fatalf("expected ErrNonceOutOfOrder, got %v", err)
	}

	if err := m.Consume(ctx, account, 0, intent.NonceSync); err != nil {
		t.Fatalf("consume 0: %v", err)
	}
	if err := m.Consume(ctx, account, 1, intent.NonceSync); err != nil {
		t.Fatalf("consume 1: %v", err)
	}

	// Replay of an already consumed value is out of order.
	if err := m.Consume(ctx, account, 1, intent.NonceSync); !errors.Is(err, ErrNonceOutOfOrder) {
		t.Fatalf("expected ErrNonceOutOfOrder on replay, got %v", err)
	}

	next, err := m.NextSync(ctx, account)
	if err != nil {
		t.Fatalf("next sync: %v", err)
	}
	if next != 2 {
		t.Fatalf("counter should be 2, got %d", next)
	}
}

func TestAsyncIndependence(t *testing.T) {
	m := NewManager(memory.New())
	ctx := context.Background()

	for _, value := range []uint64{7, 3, 99} {
		if err := m.Consume(ctx, account, value, intent.NonceAsync); err != nil {
			t.Fatalf("consume %d: %v", value, err)
		}
	}

	for _, value := range []uint64{7, 3, 99} {
		if err := m.Consume(ctx, account, value, intent.NonceAsync); !errors.Is(err, ErrNonceAlreadyUsed) {
			t.Fatalf("expected ErrNonceAlreadyUsed for %d, got %v", value, err)
		}
		used, err := m.AsyncUsed(ctx, account, value)
		if err != nil {
			t.Fatalf("async used: %v", err)
		}
		if !used {
			t.Fatalf("nonce %d should be marked used", value)
		}
	}

	// Async consumption leaves the sync counter untouched.
	next, err := m.NextSync(ctx, account)
	if err != nil {
		t.Fatalf("next sync: %v", err)
	}
	if next != 0 {
		t.Fatalf("sync counter should be untouched, got %d", next)
	}
}

func TestModesAreIsolatedPerAccount(t *testing.T) {
	m := NewManager(memory.New())
	ctx := context.Background()
	other := domain.Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	if err := m.Consume(ctx, account, 5, intent.NonceAsync); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// Same value for a different account is still fresh.
	if err := m.Consume(ctx, other, 5, intent.NonceAsync); err != nil {
		t.Fatalf("other account consume: %v", err)
	}
}

func TestUnknownModeRejected(t *testing.T) {
	m := NewManager(memory.New())
	if err := m.Consume(context.Background(), account, 0, intent.NonceMode("parallel")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCheckExecutor(t *testing.T) {
	submitter := domain.Address("0xcccccccccccccccccccccccccccccccccccccccc")

	if err := CheckExecutor("", submitter); err != nil {
		t.Fatalf("empty restriction should accept any submitter: %v", err)
	}
	if err := CheckExecutor(submitter, submitter); err != nil {
		t.Fatalf("matching executor rejected: %v", err)
	}
	if err := CheckExecutor(account, submitter); !errors.Is(err, ErrInvalidExecutor) {
		t.Fatalf("expected ErrInvalidExecutor, got %v", err)
	}
}
