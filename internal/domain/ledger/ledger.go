// Package ledger defines the value types shared by the balance ledger.
package ledger

import (
	"regexp"
	"strings"
	"time"
)

// Asset identifies a fungible value type tracked by the ledger.
type Asset string

const (
	// AssetNative is the host network's native value.
	AssetNative Asset = "native"
	// AssetReward is the protocol's own reward/utility asset. Reward
	// disbursement is the only operation allowed to mint it.
	AssetReward Asset = "reward"
)

// Address is a ledger participant identifier: 0x-prefixed, 20 bytes hex,
// always lowercase in canonical form.
type Address string

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lowercases and trims an address string.
func NormalizeAddress(raw string) Address {
	return Address(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether the address is well formed.
func (a Address) Valid() bool {
	return addressPattern.MatchString(string(a))
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == "" }

// Entry types recorded in the balance journal.
const (
	EntryTransfer   = "transfer"
	EntryDeposit    = "deposit"
	EntryWithdrawal = "withdrawal"
	EntryReward     = "reward"
	EntryFee        = "fee"
)

// JournalEntry records a single balance mutation. Entries are append-only and
// exist for audit; the balance table is authoritative.
type JournalEntry struct {
	ID           string    `json:"id" db:"id"`
	Account      Address   `json:"account" db:"account"`
	Counterparty Address   `json:"counterparty,omitempty" db:"counterparty"`
	Asset        Asset     `json:"asset" db:"asset"`
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Type         string    `json:"type" db:"entry_type"`
	Reference    string    `json:"reference,omitempty" db:"reference"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Metadata is the instance reference data read by the incentive module. The
// base reward halves every era; an era ends when TotalMinted crosses
// NextEraAt, at which point the threshold doubles.
type Metadata struct {
	InstanceID  string `json:"instance_id" db:"instance_id"`
	BaseReward  int64  `json:"base_reward" db:"base_reward"`
	Era         uint32 `json:"era" db:"era"`
	TotalMinted int64  `json:"total_minted" db:"total_minted"`
	NextEraAt   int64  `json:"next_era_at" db:"next_era_at"`

	// Pending reward-change proposal; zero ProposedAt means none.
	ProposedReward int64     `json:"proposed_reward,omitempty" db:"proposed_reward"`
	ProposedAt     time.Time `json:"proposed_at,omitempty" db:"proposed_at"`
	EligibleAt     time.Time `json:"eligible_at,omitempty" db:"eligible_at"`
}

// HasProposal reports whether a reward-change proposal is pending.
func (m Metadata) HasProposal() bool { return !m.ProposedAt.IsZero() }

// CurrentReward returns the per-operation base reward for the active era.
func (m Metadata) CurrentReward() int64 {
	reward := m.BaseReward >> m.Era
	if reward < 0 {
		return 0
	}
	return reward
}
