// Package intent defines the transient payment shapes accepted by the
// settlement executor. Intents are constructed off-ledger by the payer,
// consumed exactly once by the authorization gate, then discarded; nothing in
// this package is persisted.
package intent

import (
	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
)

// NonceMode selects the replay-protection discipline for an intent.
type NonceMode string

const (
	// NonceSync requires the account's next sequential counter value and
	// totally orders the account's sync-mode operations.
	NonceSync NonceMode = "sync"
	// NonceAsync accepts any previously unused value and permits unordered
	// parallel submission.
	NonceAsync NonceMode = "async"
)

// Valid reports whether the mode is one of the two supported disciplines.
func (m NonceMode) Valid() bool { return m == NonceSync || m == NonceAsync }

// Payment is a single-transfer intent. Exactly one of Recipient and Identity
// is set: Identity routes through the identity resolver.
type Payment struct {
	Payer       ledger.Address `json:"payer"`
	Recipient   ledger.Address `json:"recipient,omitempty"`
	Identity    string         `json:"identity,omitempty"`
	Asset       ledger.Asset   `json:"asset"`
	Amount      int64          `json:"amount"`
	PriorityFee int64          `json:"priority_fee"`
	Executor    ledger.Address `json:"executor,omitempty"`
	Nonce       uint64         `json:"nonce"`
	NonceMode   NonceMode      `json:"nonce_mode"`
	Signature   []byte         `json:"signature"`
}

// DisperseRecipient is one leg of a disperse payment. As with Payment, an
// identity may stand in for the account.
type DisperseRecipient struct {
	Recipient ledger.Address `json:"recipient,omitempty"`
	Identity  string         `json:"identity,omitempty"`
	Amount    int64          `json:"amount"`
}

// Disperse is a one-signature, many-recipient intent. The signature covers
// Total; the per-recipient amounts must sum to it exactly.
type Disperse struct {
	Payer       ledger.Address      `json:"payer"`
	Recipients  []DisperseRecipient `json:"recipients"`
	Asset       ledger.Asset        `json:"asset"`
	Total       int64               `json:"total"`
	PriorityFee int64               `json:"priority_fee"`
	Executor    ledger.Address      `json:"executor,omitempty"`
	Nonce       uint64              `json:"nonce"`
	NonceMode   NonceMode           `json:"nonce_mode"`
	Signature   []byte              `json:"signature"`
}

// BatchOutcome reports the result of one batch item. Items fail
// independently; Err is empty on success.
type BatchOutcome struct {
	Index   int    `json:"index"`
	ItemID  string `json:"item_id"`
	Applied bool   `json:"applied"`
	Err     string `json:"error,omitempty"`
}
