// Package nonce implements both replay-protection disciplines: the strictly
// sequential sync counter and the one-time-use async value set.
package nonce

import (
	"context"
	"errors"
	"fmt"

	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
)

var (
	// ErrNonceOutOfOrder is returned when a sync nonce does not equal the
	// account's next expected value.
	ErrNonceOutOfOrder = errors.New("nonce out of order")
	// ErrNonceAlreadyUsed is returned when an async nonce was consumed
	// before. Consumption is permanent.
	ErrNonceAlreadyUsed = errors.New("nonce already used")
	// ErrInvalidExecutor is returned when an intent restricts the submitter
	// and someone else submits it.
	ErrInvalidExecutor = errors.New("invalid executor")
)

// Manager checks and consumes nonces against the store.
type Manager struct {
	store storage.NonceStore
}

// NewManager creates a nonce manager.
func NewManager(store storage.NonceStore) *Manager {
	return &Manager{store: store}
}

// Check verifies that the nonce would be accepted without consuming it.
func (m *Manager) Check(ctx context.Context, account domain.Address, nonce uint64, mode intent.NonceMode) error {
	switch mode {
	case intent.NonceSync:
		next, err := m.store.NextSyncNonce(ctx, account)
		if err != nil {
			return err
		}
		if nonce != next {
			return fmt.Errorf("%w: account %s expects %d, got %d", ErrNonceOutOfOrder, account, next, nonce)
		}
		return nil
	case intent.NonceAsync:
		used, err := m.store.IsAsyncNonceUsed(ctx, account, nonce)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("%w: account %s nonce %d", ErrNonceAlreadyUsed, account, nonce)
		}
		return nil
	default:
		return fmt.Errorf("unknown nonce mode %q", mode)
	}
}

// Consume checks the nonce and marks it consumed: sync counters advance by
// exactly one, async values become permanently unusable.
func (m *Manager) Consume(ctx context.Context, account domain.Address, nonce uint64, mode intent.NonceMode) error {
	if err := m.Check(ctx, account, nonce, mode); err != nil {
		return err
	}
	switch mode {
	case intent.NonceSync:
		return m.store.SetSyncNonce(ctx, account, nonce+1)
	default:
		return m.store.MarkAsyncNonceUsed(ctx, account, nonce)
	}
}

// NextSync returns the next expected sync nonce for an account.
func (m *Manager) NextSync(ctx context.Context, account domain.Address) (uint64, error) {
	return m.store.NextSyncNonce(ctx, account)
}

// AsyncUsed reports whether an async nonce has been consumed.
func (m *Manager) AsyncUsed(ctx context.Context, account domain.Address, nonce uint64) (bool, error) {
	return m.store.IsAsyncNonceUsed(ctx, account, nonce)
}

// CheckExecutor enforces the executor restriction: a non-empty restriction
// means only that account may submit the operation.
func CheckExecutor(restriction, submitter domain.Address) error {
	if restriction.IsZero() {
		return nil
	}
	if restriction != submitter {
		return fmt.Errorf("%w: restricted to %s, submitted by %s", ErrInvalidExecutor, restriction, submitter)
	}
	return nil
}
