package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
)

var account = ledger.Address("0x1111111111111111111111111111111111111111")

func TestBalances(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.GetBalance(ctx, account, ledger.AssetNative)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 0 {
		t.Fatalf("absent balance should be zero, got %d", got)
	}

	if err := s.SetBalance(ctx, account, ledger.AssetNative, 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = s.GetBalance(ctx, account, ledger.AssetNative)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 42 {
		t.Fatalf("balance: got %d, want 42", got)
	}

	if err := s.SetBalance(ctx, account, ledger.AssetNative, -1); err == nil {
		t.Fatal("negative balance accepted")
	}
}

func TestJournalOrderAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		entry, err := s.AppendJournal(ctx, ledger.JournalEntry{
			Account: account,
			Asset:   ledger.AssetNative,
			Amount:  i,
			Type:    ledger.EntryTransfer,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if entry.ID == "" || entry.CreatedAt.IsZero() {
			t.Fatal("append did not assign id and timestamp")
		}
	}

	entries, err := s.ListJournal(ctx, account, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("limit ignored: got %d entries", len(entries))
	}
	// Limit returns the most recent entries.
	if entries[0].Amount != 4 || entries[1].Amount != 5 {
		t.Fatalf("unexpected tail: %d, %d", entries[0].Amount, entries[1].Amount)
	}
}

func TestNonces(t *testing.T) {
	s := New()
	ctx := context.Background()

	next, err := s.NextSyncNonce(ctx, account)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != 0 {
		t.Fatalf("fresh account counter: got %d", next)
	}
	if err := s.SetSyncNonce(ctx, account, 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	next, err = s.NextSyncNonce(ctx, account)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != 3 {
		t.Fatalf("counter: got %d, want 3", next)
	}

	used, err := s.IsAsyncNonceUsed(ctx, account, 9)
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if used {
		t.Fatal("fresh async nonce reported used")
	}
	if err := s.MarkAsyncNonceUsed(ctx, account, 9); err != nil {
		t.Fatalf("mark: %v", err)
	}
	used, err = s.IsAsyncNonceUsed(ctx, account, 9)
	if err != nil {
		t.Fatalf("used: %v", err)
	}
	if !used {
		t.Fatal("marked async nonce reported fresh")
	}
}

func TestMetadataRequiresSeeding(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetMetadata(ctx); !errors.Is(err, storage.ErrMetadataNotFound) {
		t.Fatalf("expected ErrMetadataNotFound, got %v", err)
	}
	if err := s.PutMetadata(ctx, ledger.Metadata{InstanceID: "evvm-test", BaseReward: 100}); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta, err := s.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if meta.InstanceID != "evvm-test" || meta.BaseReward != 100 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}
