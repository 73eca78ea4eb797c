// Package storage declares the persistence interfaces consumed by the
// settlement engine. Implementations live in the memory and postgres
// subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
)

// ErrMetadataNotFound is returned by GetMetadata when the instance has never
// been seeded. Callers must not treat other errors as absence: a transient
// store failure is not a fresh instance.
var ErrMetadataNotFound = errors.New("instance metadata not found")

// Atomic is implemented by stores that can scope fn to a single transaction:
// every store call made with the context fn receives commits or rolls back as
// one unit. The settlement executor runs each operation's mutation phase
// through it so a store failure mid-operation cannot leave partial state.
type Atomic interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// LedgerStore persists the balance table and the mutation journal.
type LedgerStore interface {
	// GetBalance returns the balance for (account, asset), zero if the entry
	// does not exist.
	GetBalance(ctx context.Context, account ledger.Address, asset ledger.Asset) (int64, error)
	SetBalance(ctx context.Context, account ledger.Address, asset ledger.Asset, amount int64) error

	AppendJournal(ctx context.Context, entry ledger.JournalEntry) (ledger.JournalEntry, error)
	ListJournal(ctx context.Context, account ledger.Address, limit int) ([]ledger.JournalEntry, error)
}

// NonceStore persists both replay-protection disciplines: the per-account
// sequential counter and the per-account set of consumed one-time values.
type NonceStore interface {
	NextSyncNonce(ctx context.Context, account ledger.Address) (uint64, error)
	SetSyncNonce(ctx context.Context, account ledger.Address, next uint64) error

	IsAsyncNonceUsed(ctx context.Context, account ledger.Address, nonce uint64) (bool, error)
	MarkAsyncNonceUsed(ctx context.Context, account ledger.Address, nonce uint64) error
}

// FlagStore persists account classification flags: staker status (mutated
// only by the stake registry) and contract-class status (delegated services).
type FlagStore interface {
	IsStaker(ctx context.Context, account ledger.Address) (bool, error)
	SetStaker(ctx context.Context, account ledger.Address, staker bool) error

	IsContract(ctx context.Context, account ledger.Address) (bool, error)
	SetContract(ctx context.Context, account ledger.Address, contract bool) error
}

// IdentityStore persists the name-to-account registry behind the identity
// resolver.
type IdentityStore interface {
	RegisterIdentity(ctx context.Context, name string, account ledger.Address) error
	ResolveIdentity(ctx context.Context, name string) (ledger.Address, bool, error)
}

// MetadataStore persists the instance reward metadata. There is exactly one
// row per instance.
type MetadataStore interface {
	GetMetadata(ctx context.Context) (ledger.Metadata, error)
	PutMetadata(ctx context.Context, meta ledger.Metadata) error
}
