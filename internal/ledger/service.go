// Package ledger implements the balance ledger: the sole owner of the
// (account, asset) balance table together with its mutation journal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
	"github.com/evvm-network/settlement_layer/pkg/logger"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the current
	// balance of its entry.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnauthorizedCaller is returned when a restricted operation is
	// invoked by an account other than its designated owner.
	ErrUnauthorizedCaller = errors.New("unauthorized caller")
)

// Service performs balance reads and writes. Credits and debits issued by the
// settlement executor come in matched pairs, so transfers conserve per-asset
// supply; only reward disbursement mints.
type Service struct {
	store    storage.LedgerStore
	treasury domain.Address
	log      *logger.Logger
}

// New creates a ledger service. The treasury address is the only caller
// allowed to deposit or withdraw externally-settled funds.
func New(store storage.LedgerStore, treasury domain.Address, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, treasury: treasury, log: log}
}

// BalanceOf returns the balance for (account, asset), zero for absent entries.
func (s *Service) BalanceOf(ctx context.Context, account domain.Address, asset domain.Asset) (int64, error) {
	return s.store.GetBalance(ctx, account, asset)
}

// Credit adds amount to the entry and journals the mutation.
func (s *Service) Credit(ctx context.Context, account domain.Address, asset domain.Asset, amount int64, entryType string, counterparty domain.Address, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	balance, err := s.store.GetBalance(ctx, account, asset)
	if err != nil {
		return err
	}
	if balance > math.MaxInt64-amount {
		return fmt.Errorf("credit overflows balance for %s/%s", account, asset)
	}

	newBalance := balance + amount
	if err := s.store.SetBalance(ctx, account, asset, newBalance); err != nil {
		return err
	}
	return s.journal(ctx, account, counterparty, asset, amount, newBalance, entryType, reference)
}

// Debit removes amount from the entry, failing with ErrInsufficientBalance if
// the entry would go negative. Nothing is written on failure.
func (s *Service) Debit(ctx context.Context, account domain.Address, asset domain.Asset, amount int64, entryType string, counterparty domain.Address, reference string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	balance, err := s.store.GetBalance(ctx, account, asset)
	if err != nil {
		return err
	}
	if amount > balance {
		return fmt.Errorf("%w: account %s has %d %s, needs %d", ErrInsufficientBalance, account, balance, asset, amount)
	}

	newBalance := balance - amount
	if err := s.store.SetBalance(ctx, account, asset, newBalance); err != nil {
		return err
	}
	return s.journal(ctx, account, counterparty, asset, -amount, newBalance, entryType, reference)
}

// CanDebit reports whether a debit of amount would succeed. The executor uses
// it to fail operations before any state is touched.
func (s *Service) CanDebit(ctx context.Context, account domain.Address, asset domain.Asset, amount int64) error {
	balance, err := s.store.GetBalance(ctx, account, asset)
	if err != nil {
		return err
	}
	if amount > balance {
		return fmt.Errorf("%w: account %s has %d %s, needs %d", ErrInsufficientBalance, account, balance, asset, amount)
	}
	return nil
}

// Deposit credits externally-settled funds. Restricted to the treasury.
func (s *Service) Deposit(ctx context.Context, caller, account domain.Address, asset domain.Asset, amount int64, reference string) error {
	if caller != s.treasury {
		return fmt.Errorf("%w: deposit is restricted to the treasury", ErrUnauthorizedCaller)
	}
	if err := s.Credit(ctx, account, asset, amount, domain.EntryDeposit, s.treasury, reference); err != nil {
		return err
	}
	s.log.WithField("account", account).WithField("asset", asset).
		WithField("amount", amount).Info("treasury deposit settled")
	return nil
}

// Withdraw debits funds for external settlement. Restricted to the treasury.
func (s *Service) Withdraw(ctx context.Context, caller, account domain.Address, asset domain.Asset, amount int64, reference string) error {
	if caller != s.treasury {
		return fmt.Errorf("%w: withdraw is restricted to the treasury", ErrUnauthorizedCaller)
	}
	if err := s.Debit(ctx, account, asset, amount, domain.EntryWithdrawal, s.treasury, reference); err != nil {
		return err
	}
	s.log.WithField("account", account).WithField("asset", asset).
		WithField("amount", amount).Info("treasury withdrawal settled")
	return nil
}

// Journal returns the most recent mutations for an account.
func (s *Service) Journal(ctx context.Context, account domain.Address, limit int) ([]domain.JournalEntry, error) {
	return s.store.ListJournal(ctx, account, limit)
}

func (s *Service) journal(ctx context.Context, account, counterparty domain.Address, asset domain.Asset, amount, balanceAfter int64, entryType, reference string) error {
	_, err := s.store.AppendJournal(ctx, domain.JournalEntry{
		Account:      account,
		Counterparty: counterparty,
		Asset:        asset,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Type:         entryType,
		Reference:    reference,
	})
	return err
}
