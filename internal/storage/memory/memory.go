// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
)

type balanceKey struct {
	account ledger.Address
	asset   ledger.Asset
}

type asyncNonceKey struct {
	account ledger.Address
	nonce   uint64
}

// Store is the in-memory store. The async-nonce set is a sparse map keyed by
// (account, nonce); used values are never removed.
type Store struct {
	mu          sync.RWMutex
	balances    map[balanceKey]int64
	journal     map[ledger.Address][]ledger.JournalEntry
	syncNonces  map[ledger.Address]uint64
	asyncNonces map[asyncNonceKey]struct{}
	stakers     map[ledger.Address]bool
	contracts   map[ledger.Address]bool
	identities  map[string]ledger.Address
	metadata    ledger.Metadata
	hasMetadata bool
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.NonceStore = (*Store)(nil)
var _ storage.FlagStore = (*Store)(nil)
var _ storage.IdentityStore = (*Store)(nil)
var _ storage.MetadataStore = (*Store)(nil)
var _ storage.Atomic = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances:    make(map[balanceKey]int64),
		journal:     make(map[ledger.Address][]ledger.JournalEntry),
		syncNonces:  make(map[ledger.Address]uint64),
		asyncNonces: make(map[asyncNonceKey]struct{}),
		stakers:     make(map[ledger.Address]bool),
		contracts:   make(map[ledger.Address]bool),
		identities:  make(map[string]ledger.Address),
	}
}

// Atomically implements storage.Atomic. The in-memory maps cannot fail
// between mutations, so fn runs directly; the executor's lock provides the
// operation ordering.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetBalance(_ context.Context, account ledger.Address, asset ledger.Asset) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[balanceKey{account, asset}], nil
}

func (s *Store) SetBalance(_ context.Context, account ledger.Address, asset ledger.Asset, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("balance for %s/%s cannot be negative", account, asset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{account, asset}] = amount
	return nil
}

func (s *Store) AppendJournal(_ context.Context, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.journal[entry.Account] = append(s.journal[entry.Account], entry)
	return entry, nil
}

func (s *Store) ListJournal(_ context.Context, account ledger.Address, limit int) ([]ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.journal[account]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]ledger.JournalEntry(nil), entries...), nil
}

// NonceStore implementation ---------------------------------------------------

func (s *Store) NextSyncNonce(_ context.Context, account ledger.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncNonces[account], nil
}

func (s *Store) SetSyncNonce(_ context.Context, account ledger.Address, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncNonces[account] = next
	return nil
}

func (s *Store) IsAsyncNonceUsed(_ context.Context, account ledger.Address, nonce uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, used := s.asyncNonces[asyncNonceKey{account, nonce}]
	return used, nil
}

func (s *Store) MarkAsyncNonceUsed(_ context.Context, account ledger.Address, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncNonces[asyncNonceKey{account, nonce}] = struct{}{}
	return nil
}

// FlagStore implementation ----------------------------------------------------

func (s *Store) IsStaker(_ context.Context, account ledger.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stakers[account], nil
}

func (s *Store) SetStaker(_ context.Context, account ledger.Address, staker bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if staker {
		s.stakers[account] = true
	} else {
		delete(s.stakers, account)
	}
	return nil
}

func (s *Store) IsContract(_ context.Context, account ledger.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contracts[account], nil
}

func (s *Store) SetContract(_ context.Context, account ledger.Address, contract bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contract {
		s.contracts[account] = true
	} else {
		delete(s.contracts, account)
	}
	return nil
}

// IdentityStore implementation ------------------------------------------------

func (s *Store) RegisterIdentity(_ context.Context, name string, account ledger.Address) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("identity name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.identities[key]; ok && existing != account {
		return fmt.Errorf("identity %s already registered to %s", name, existing)
	}
	s.identities[key] = account
	return nil
}

func (s *Store) ResolveIdentity(_ context.Context, name string) (ledger.Address, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.identities[strings.ToLower(strings.TrimSpace(name))]
	return account, ok, nil
}

// MetadataStore implementation ------------------------------------------------

func (s *Store) GetMetadata(_ context.Context) (ledger.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasMetadata {
		return ledger.Metadata{}, storage.ErrMetadataNotFound
	}
	return s.metadata, nil
}

func (s *Store) PutMetadata(_ context.Context, meta ledger.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = meta
	s.hasMetadata = true
	return nil
}
