// Package engine implements the settlement executor: the payment shapes
// applied to the ledger behind the authorization gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evvm-network/settlement_layer/internal/crypto"
	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/identity"
	ledgersvc "github.com/evvm-network/settlement_layer/internal/ledger"
	"github.com/evvm-network/settlement_layer/internal/metrics"
	"github.com/evvm-network/settlement_layer/internal/nonce"
	"github.com/evvm-network/settlement_layer/internal/rewards"
	"github.com/evvm-network/settlement_layer/internal/storage"
	"github.com/evvm-network/settlement_layer/pkg/logger"
)

// ErrAssetNotPermitted is returned when the instance's asset allow-list
// rejects the payment asset.
var ErrAssetNotPermitted = errors.New("asset not permitted")

// Config carries the per-instance settings of the engine.
type Config struct {
	InstanceID string
	// AllowedAssets restricts which assets settle; empty means all.
	AllowedAssets []domain.Asset
	// Atomic scopes each operation's mutation phase to one store
	// transaction. Nil means the store commits every call immediately
	// (the in-memory store, which cannot fail between mutations).
	Atomic storage.Atomic
}

// Receipt describes a settled operation.
type Receipt struct {
	Reference string         `json:"reference"`
	Payer     domain.Address `json:"payer"`
	Asset     domain.Asset   `json:"asset"`
	Amount    int64          `json:"amount"`
	Fee       int64          `json:"fee"`
}

// Engine applies settlement operations under a single total order: every
// operation holds the engine lock from validation through disbursement, so a
// rejection never leaves partial state and no two operations interleave.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	gate     *Gate
	ledger   *ledgersvc.Service
	rewards  *rewards.Service
	resolver identity.Resolver
	log      *logger.Logger

	allowed map[domain.Asset]bool
}

// New creates a settlement engine.
func New(cfg Config, gate *Gate, ledger *ledgersvc.Service, rewardsSvc *rewards.Service,
	resolver identity.Resolver, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	var allowed map[domain.Asset]bool
	if len(cfg.AllowedAssets) > 0 {
		allowed = make(map[domain.Asset]bool, len(cfg.AllowedAssets))
		for _, asset := range cfg.AllowedAssets {
			allowed[asset] = true
		}
	}
	return &Engine{
		cfg:      cfg,
		gate:     gate,
		ledger:   ledger,
		rewards:  rewardsSvc,
		resolver: resolver,
		log:      log,
		allowed:  allowed,
	}
}

// Gate exposes the authorization gate for delegated services.
func (e *Engine) Gate() *Gate { return e.gate }

// atomically runs the mutation phase of one operation as a single store
// transaction when the store supports it.
func (e *Engine) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.cfg.Atomic == nil {
		return fn(ctx)
	}
	return e.cfg.Atomic.Atomically(ctx, fn)
}

// Pay settles a single signed transfer and rewards the submitter.
func (e *Engine) Pay(ctx context.Context, submitter domain.Address, p intent.Payment) (Receipt, error) {
	start := time.Now()
	e.mu.Lock()
	receipt, err := e.payLocked(ctx, submitter, p)
	e.mu.Unlock()
	metrics.RecordSettlement("pay", errLabel(err), time.Since(start))
	return receipt, err
}

// payLocked applies one payment under the engine lock. The ordering matters:
// every check that can fail runs before the nonce is consumed, and the nonce
// is consumed before any balance moves. A failure therefore mutates nothing,
// and a success cannot fail halfway.
func (e *Engine) payLocked(ctx context.Context, submitter domain.Address, p intent.Payment) (Receipt, error) {
	if err := e.checkCommon(p.Asset, p.Amount, p.PriorityFee); err != nil {
		return Receipt{}, err
	}

	recipient, err := e.resolveRecipient(ctx, p.Recipient, p.Identity)
	if err != nil {
		return Receipt{}, err
	}

	total := p.Amount + p.PriorityFee
	payloadHash := crypto.PayPayloadHash(p)
	if err := e.gate.Validate(ctx, CoreService, p.Payer, payloadHash, p.Executor, p.Nonce, p.NonceMode, p.Signature, submitter); err != nil {
		return Receipt{}, err
	}
	if err := e.ledger.CanDebit(ctx, p.Payer, p.Asset, total); err != nil {
		return Receipt{}, err
	}
	ref := uuid.NewString()
	err = e.atomically(ctx, func(ctx context.Context) error {
		if err := e.gate.ConsumeNonce(ctx, p.Payer, p.Nonce, p.NonceMode); err != nil {
			return err
		}
		if err := e.ledger.Debit(ctx, p.Payer, p.Asset, total, domain.EntryTransfer, recipient, ref); err != nil {
			return err
		}
		if err := e.ledger.Credit(ctx, recipient, p.Asset, p.Amount, domain.EntryTransfer, p.Payer, ref); err != nil {
			return err
		}
		return e.rewards.Disburse(ctx, submitter, p.Payer, p.Asset, p.PriorityFee, ref)
	})
	if err != nil {
		return Receipt{}, err
	}

	e.log.WithField("reference", ref).
		WithField("payer", p.Payer).
		WithField("recipient", recipient).
		WithField("asset", p.Asset).
		WithField("amount", p.Amount).
		Info("payment settled")
	return Receipt{Reference: ref, Payer: p.Payer, Asset: p.Asset, Amount: p.Amount, Fee: p.PriorityFee}, nil
}

// BatchPay applies N independent payments. Items fail in isolation: each
// outcome reports its own result, a failed item rolls back entirely (nonce
// included) and does not abort its siblings.
func (e *Engine) BatchPay(ctx context.Context, submitter domain.Address, items []intent.Payment) []intent.BatchOutcome {
	start := time.Now()
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		metrics.RecordSettlement("batch_pay", "applied", time.Since(start))
	}()

	outcomes := make([]intent.BatchOutcome, len(items))
	for i, item := range items {
		receipt, err := e.payLocked(ctx, submitter, item)
		outcomes[i] = intent.BatchOutcome{Index: i, ItemID: receipt.Reference, Applied: err == nil}
		if err != nil {
			outcomes[i].Err = err.Error()
		}
	}
	return outcomes
}

// DispersePay fans one signed total out to many recipients. Any unresolvable
// recipient, or sub-amounts that do not sum to the signed total, aborts the
// whole operation: what settles is exactly the split the payer signed.
func (e *Engine) DispersePay(ctx context.Context, submitter domain.Address, d intent.Disperse) (Receipt, error) {
	start := time.Now()
	e.mu.Lock()
	receipt, err := e.disperseLocked(ctx, submitter, d)
	e.mu.Unlock()
	metrics.RecordSettlement("disperse_pay", errLabel(err), time.Since(start))
	return receipt, err
}

func (e *Engine) disperseLocked(ctx context.Context, submitter domain.Address, d intent.Disperse) (Receipt, error) {
	if err := e.checkCommon(d.Asset, d.Total, d.PriorityFee); err != nil {
		return Receipt{}, err
	}
	if len(d.Recipients) == 0 {
		return Receipt{}, fmt.Errorf("disperse requires at least one recipient")
	}

	recipients := make([]domain.Address, len(d.Recipients))
	var sum int64
	for i, r := range d.Recipients {
		if r.Amount <= 0 {
			return Receipt{}, fmt.Errorf("recipient %d amount must be positive, got %d", i, r.Amount)
		}
		account, err := e.resolveRecipient(ctx, r.Recipient, r.Identity)
		if err != nil {
			return Receipt{}, err
		}
		recipients[i] = account
		if sum > math.MaxInt64-r.Amount {
			return Receipt{}, fmt.Errorf("disperse amounts overflow")
		}
		sum += r.Amount
	}
	if sum != d.Total {
		return Receipt{}, fmt.Errorf("disperse amounts sum to %d, signed total is %d", sum, d.Total)
	}

	total := d.Total + d.PriorityFee
	payloadHash := crypto.DispersePayloadHash(d)
	if err := e.gate.Validate(ctx, CoreService, d.Payer, payloadHash, d.Executor, d.Nonce, d.NonceMode, d.Signature, submitter); err != nil {
		return Receipt{}, err
	}
	if err := e.ledger.CanDebit(ctx, d.Payer, d.Asset, total); err != nil {
		return Receipt{}, err
	}
	ref := uuid.NewString()
	err := e.atomically(ctx, func(ctx context.Context) error {
		if err := e.gate.ConsumeNonce(ctx, d.Payer, d.Nonce, d.NonceMode); err != nil {
			return err
		}
		if err := e.ledger.Debit(ctx, d.Payer, d.Asset, total, domain.EntryTransfer, "", ref); err != nil {
			return err
		}
		for i, account := range recipients {
			if err := e.ledger.Credit(ctx, account, d.Asset, d.Recipients[i].Amount, domain.EntryTransfer, d.Payer, ref); err != nil {
				return err
			}
		}
		return e.rewards.Disburse(ctx, submitter, d.Payer, d.Asset, d.PriorityFee, ref)
	})
	if err != nil {
		return Receipt{}, err
	}

	e.log.WithField("reference", ref).
		WithField("payer", d.Payer).
		WithField("recipients", len(recipients)).
		WithField("total", d.Total).
		Info("disperse payment settled")
	return Receipt{Reference: ref, Payer: d.Payer, Asset: d.Asset, Amount: d.Total, Fee: d.PriorityFee}, nil
}

// CAPay settles a direct transfer authorized by the caller's contract-class
// identity. No signature or nonce: the caller's on-ledger classification is
// the authorization. This is also the only payment path to non-stakers that
// services control explicitly.
func (e *Engine) CAPay(ctx context.Context, caller, recipient domain.Address, asset domain.Asset, amount int64) (Receipt, error) {
	start := time.Now()
	e.mu.Lock()
	receipt, err := e.caPayLocked(ctx, caller, recipient, asset, amount)
	e.mu.Unlock()
	metrics.RecordSettlement("ca_pay", errLabel(err), time.Since(start))
	return receipt, err
}

func (e *Engine) caPayLocked(ctx context.Context, caller, recipient domain.Address, asset domain.Asset, amount int64) (Receipt, error) {
	if err := e.checkCommon(asset, amount, 0); err != nil {
		return Receipt{}, err
	}
	contract, err := e.rewards.IsContract(ctx, caller)
	if err != nil {
		return Receipt{}, err
	}
	if !contract {
		return Receipt{}, fmt.Errorf("%w: caPay requires a contract-class caller", ledgersvc.ErrUnauthorizedCaller)
	}
	if err := e.ledger.CanDebit(ctx, caller, asset, amount); err != nil {
		return Receipt{}, err
	}

	ref := uuid.NewString()
	err = e.atomically(ctx, func(ctx context.Context) error {
		if err := e.ledger.Debit(ctx, caller, asset, amount, domain.EntryTransfer, recipient, ref); err != nil {
			return err
		}
		return e.ledger.Credit(ctx, recipient, asset, amount, domain.EntryTransfer, caller, ref)
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: ref, Payer: caller, Asset: asset, Amount: amount}, nil
}

// ValidateAndConsumeNonce is the gate exported to delegated services. The
// caller must be contract-class; it supplies its own serviceID and payload
// hash over its function-specific parameters.
func (e *Engine) ValidateAndConsumeNonce(ctx context.Context, caller domain.Address, serviceID string,
	payer domain.Address, payloadHash string, executor domain.Address, nonceValue uint64,
	mode intent.NonceMode, signature []byte, submitter domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	contract, err := e.rewards.IsContract(ctx, caller)
	if err != nil {
		return err
	}
	if !contract {
		return fmt.Errorf("%w: delegated gate access requires a contract-class caller", ledgersvc.ErrUnauthorizedCaller)
	}
	return e.gate.ValidateAndConsume(ctx, serviceID, payer, payloadHash, executor, nonceValue, mode, signature, submitter)
}

func (e *Engine) checkCommon(asset domain.Asset, amount, fee int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	if fee < 0 {
		return fmt.Errorf("priority fee cannot be negative, got %d", fee)
	}
	if amount > math.MaxInt64-fee {
		return fmt.Errorf("amount plus fee overflows")
	}
	if e.allowed != nil && !e.allowed[asset] {
		return fmt.Errorf("%w: %s", ErrAssetNotPermitted, asset)
	}
	return nil
}

func (e *Engine) resolveRecipient(ctx context.Context, recipient domain.Address, name string) (domain.Address, error) {
	if name != "" {
		if e.resolver == nil {
			return "", fmt.Errorf("%w: no identity resolver configured", identity.ErrUnknownIdentity)
		}
		return e.resolver.ResolveStrict(ctx, name)
	}
	if recipient.IsZero() {
		return "", fmt.Errorf("recipient or identity is required")
	}
	return recipient, nil
}

func errLabel(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, crypto.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, nonce.ErrNonceOutOfOrder):
		return "nonce_out_of_order"
	case errors.Is(err, nonce.ErrNonceAlreadyUsed):
		return "nonce_already_used"
	case errors.Is(err, nonce.ErrInvalidExecutor):
		return "invalid_executor"
	case errors.Is(err, ledgersvc.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledgersvc.ErrUnauthorizedCaller):
		return "unauthorized_caller"
	case errors.Is(err, identity.ErrUnknownIdentity):
		return "unknown_identity"
	case errors.Is(err, ErrAssetNotPermitted):
		return "asset_not_permitted"
	default:
		return "rejected"
	}
}
