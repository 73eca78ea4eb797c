// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
)

// Store implements the storage interfaces over a PostgreSQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.NonceStore = (*Store)(nil)
var _ storage.FlagStore = (*Store)(nil)
var _ storage.IdentityStore = (*Store)(nil)
var _ storage.MetadataStore = (*Store)(nil)
var _ storage.Atomic = (*Store)(nil)

type txKey struct{}

// ext returns the executor for ctx: the transaction carried by the context
// when inside Atomically, the plain handle otherwise.
func (s *Store) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// Atomically implements storage.Atomic over one database transaction. Nested
// calls join the enclosing transaction.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the settlement tables if they do not exist. The DDL is
// idempotent so the daemon can run it on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS balances (
	account      TEXT   NOT NULL,
	asset        TEXT   NOT NULL,
	amount       BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
	PRIMARY KEY (account, asset)
);
CREATE TABLE IF NOT EXISTS balance_journal (
	id            TEXT        PRIMARY KEY,
	account       TEXT        NOT NULL,
	counterparty  TEXT        NOT NULL DEFAULT '',
	asset         TEXT        NOT NULL,
	amount        BIGINT      NOT NULL,
	balance_after BIGINT      NOT NULL,
	entry_type    TEXT        NOT NULL,
	reference     TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS balance_journal_account_idx ON balance_journal (account, created_at);
CREATE TABLE IF NOT EXISTS sync_nonces (
	account    TEXT   PRIMARY KEY,
	next_nonce BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS async_nonces (
	account TEXT   NOT NULL,
	nonce   BIGINT NOT NULL,
	PRIMARY KEY (account, nonce)
);
CREATE TABLE IF NOT EXISTS account_flags (
	account     TEXT    PRIMARY KEY,
	is_staker   BOOLEAN NOT NULL DEFAULT FALSE,
	is_contract BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS identities (
	name    TEXT PRIMARY KEY,
	account TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS instance_metadata (
	instance_id     TEXT        PRIMARY KEY,
	base_reward     BIGINT      NOT NULL,
	era             INTEGER     NOT NULL DEFAULT 0,
	total_minted    BIGINT      NOT NULL DEFAULT 0,
	next_era_at     BIGINT      NOT NULL,
	proposed_reward BIGINT      NOT NULL DEFAULT 0,
	proposed_at     TIMESTAMPTZ,
	eligible_at     TIMESTAMPTZ
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, account ledger.Address, asset ledger.Asset) (int64, error) {
	var amount int64
	err := sqlx.GetContext(ctx, s.ext(ctx), &amount, `
		SELECT amount FROM balances WHERE account = $1 AND asset = $2
	`, account, asset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *Store) SetBalance(ctx context.Context, account ledger.Address, asset ledger.Asset, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("balance for %s/%s cannot be negative", account, asset)
	}
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO balances (account, asset, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, asset) DO UPDATE SET amount = EXCLUDED.amount
	`, account, asset, amount)
	return err
}

func (s *Store) AppendJournal(ctx context.Context, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO balance_journal (id, account, counterparty, asset, amount, balance_after, entry_type, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.Account, entry.Counterparty, entry.Asset, entry.Amount,
		entry.BalanceAfter, entry.Type, entry.Reference, entry.CreatedAt)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListJournal(ctx context.Context, account ledger.Address, limit int) ([]ledger.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []ledger.JournalEntry
	err := sqlx.SelectContext(ctx, s.ext(ctx), &entries, `
		SELECT id, account, counterparty, asset, amount, balance_after, entry_type, reference, created_at
		FROM balance_journal
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// NonceStore implementation ---------------------------------------------------

func (s *Store) NextSyncNonce(ctx context.Context, account ledger.Address) (uint64, error) {
	var next int64
	err := sqlx.GetContext(ctx, s.ext(ctx), &next, `
		SELECT next_nonce FROM sync_nonces WHERE account = $1
	`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(next), nil
}

func (s *Store) SetSyncNonce(ctx context.Context, account ledger.Address, next uint64) error {
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO sync_nonces (account, next_nonce)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET next_nonce = EXCLUDED.next_nonce
	`, account, int64(next))
	return err
}

func (s *Store) IsAsyncNonceUsed(ctx context.Context, account ledger.Address, nonce uint64) (bool, error) {
	var used bool
	err := sqlx.GetContext(ctx, s.ext(ctx), &used, `
		SELECT EXISTS (SELECT 1 FROM async_nonces WHERE account = $1 AND nonce = $2)
	`, account, int64(nonce))
	if err != nil {
		return false, err
	}
	return used, nil
}

func (s *Store) MarkAsyncNonceUsed(ctx context.Context, account ledger.Address, nonce uint64) error {
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO async_nonces (account, nonce)
		VALUES ($1, $2)
		ON CONFLICT (account, nonce) DO NOTHING
	`, account, int64(nonce))
	return err
}

// FlagStore implementation ----------------------------------------------------

func (s *Store) IsStaker(ctx context.Context, account ledger.Address) (bool, error) {
	return s.getFlag(ctx, account, "is_staker")
}

func (s *Store) SetStaker(ctx context.Context, account ledger.Address, staker bool) error {
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO account_flags (account, is_staker)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET is_staker = EXCLUDED.is_staker
	`, account, staker)
	return err
}

func (s *Store) IsContract(ctx context.Context, account ledger.Address) (bool, error) {
	return s.getFlag(ctx, account, "is_contract")
}

func (s *Store) SetContract(ctx context.Context, account ledger.Address, contract bool) error {
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO account_flags (account, is_contract)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET is_contract = EXCLUDED.is_contract
	`, account, contract)
	return err
}

func (s *Store) getFlag(ctx context.Context, account ledger.Address, column string) (bool, error) {
	// column is one of the two fixed flag names, never caller input.
	var flag bool
	err := sqlx.GetContext(ctx, s.ext(ctx), &flag,
		`SELECT `+column+` FROM account_flags WHERE account = $1`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag, nil
}

// IdentityStore implementation ------------------------------------------------

func (s *Store) RegisterIdentity(ctx context.Context, name string, account ledger.Address) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("identity name is required")
	}
	result, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO identities (name, account)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET account = EXCLUDED.account
			WHERE identities.account = EXCLUDED.account
	`, key, account)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("identity %s already registered", name)
	}
	return nil
}

func (s *Store) ResolveIdentity(ctx context.Context, name string) (ledger.Address, bool, error) {
	var account ledger.Address
	err := sqlx.GetContext(ctx, s.ext(ctx), &account, `
		SELECT account FROM identities WHERE name = $1
	`, strings.ToLower(strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return account, true, nil
}

// MetadataStore implementation ------------------------------------------------

func (s *Store) GetMetadata(ctx context.Context) (ledger.Metadata, error) {
	row := s.ext(ctx).QueryRowxContext(ctx, `
		SELECT instance_id, base_reward, era, total_minted, next_era_at, proposed_reward, proposed_at, eligible_at
		FROM instance_metadata
		LIMIT 1
	`)

	var (
		meta       ledger.Metadata
		proposedAt sql.NullTime
		eligibleAt sql.NullTime
	)
	err := row.Scan(&meta.InstanceID, &meta.BaseReward, &meta.Era, &meta.TotalMinted,
		&meta.NextEraAt, &meta.ProposedReward, &proposedAt, &eligibleAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Metadata{}, storage.ErrMetadataNotFound
	}
	if err != nil {
		return ledger.Metadata{}, err
	}
	if proposedAt.Valid {
		meta.ProposedAt = proposedAt.Time
	}
	if eligibleAt.Valid {
		meta.EligibleAt = eligibleAt.Time
	}
	return meta, nil
}

func (s *Store) PutMetadata(ctx context.Context, meta ledger.Metadata) error {
	var proposedAt, eligibleAt interface{}
	if meta.HasProposal() {
		proposedAt = meta.ProposedAt
		eligibleAt = meta.EligibleAt
	}
	_, err := s.ext(ctx).ExecContext(ctx, `
		INSERT INTO instance_metadata (instance_id, base_reward, era, total_minted, next_era_at, proposed_reward, proposed_at, eligible_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_id) DO UPDATE SET
			base_reward = EXCLUDED.base_reward,
			era = EXCLUDED.era,
			total_minted = EXCLUDED.total_minted,
			next_era_at = EXCLUDED.next_era_at,
			proposed_reward = EXCLUDED.proposed_reward,
			proposed_at = EXCLUDED.proposed_at,
			eligible_at = EXCLUDED.eligible_at
	`, meta.InstanceID, meta.BaseReward, meta.Era, meta.TotalMinted, meta.NextEraAt,
		meta.ProposedReward, proposedAt, eligibleAt)
	return err
}
