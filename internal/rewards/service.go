// Package rewards implements the incentive module: staker status, the
// era-halving base reward, and relayer disbursement after settled transfers.
package rewards

import (
	"context"
	"fmt"
	"time"

	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	ledgersvc "github.com/evvm-network/settlement_layer/internal/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
	"github.com/evvm-network/settlement_layer/pkg/logger"
)

// Service computes and disburses relayer rewards. Base rewards mint new
// supply of the reward asset; every other flow is a conserving transfer.
type Service struct {
	flags  storage.FlagStore
	meta   storage.MetadataStore
	ledger *ledgersvc.Service

	registry      domain.Address
	admin         domain.Address
	proposalDelay time.Duration

	log *logger.Logger
}

// New creates the incentive module. registry is the only account allowed to
// mutate staker flags; admin owns contract-class flags and reward proposals.
func New(flags storage.FlagStore, meta storage.MetadataStore, ledger *ledgersvc.Service,
	registry, admin domain.Address, proposalDelay time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	if proposalDelay <= 0 {
		proposalDelay = 24 * time.Hour
	}
	return &Service{
		flags:         flags,
		meta:          meta,
		ledger:        ledger,
		registry:      registry,
		admin:         admin,
		proposalDelay: proposalDelay,
		log:           log,
	}
}

// IsStaker reports whether the account is flagged for enhanced rewards.
func (s *Service) IsStaker(ctx context.Context, account domain.Address) (bool, error) {
	return s.flags.IsStaker(ctx, account)
}

// SetStakerFlag flips an account's staker status. Restricted to the stake
// registry; end users can never reach this.
func (s *Service) SetStakerFlag(ctx context.Context, caller, account domain.Address, staker bool) error {
	if caller != s.registry {
		return fmt.Errorf("%w: staker flags are owned by the stake registry", ledgersvc.ErrUnauthorizedCaller)
	}
	if err := s.flags.SetStaker(ctx, account, staker); err != nil {
		return err
	}
	s.log.WithField("account", account).WithField("staker", staker).Info("staker flag updated")
	return nil
}

// IsContract reports whether the account is a contract-class participant.
func (s *Service) IsContract(ctx context.Context, account domain.Address) (bool, error) {
	return s.flags.IsContract(ctx, account)
}

// SetContractFlag marks an account as contract-class. Restricted to the admin.
func (s *Service) SetContractFlag(ctx context.Context, caller, account domain.Address, contract bool) error {
	if caller != s.admin {
		return fmt.Errorf("%w: contract flags are owned by the admin", ledgersvc.ErrUnauthorizedCaller)
	}
	if err := s.flags.SetContract(ctx, account, contract); err != nil {
		return err
	}
	s.log.WithField("account", account).WithField("contract", contract).Info("contract flag updated")
	return nil
}

// Disburse pays the submitting relayer after a settled transfer: the payer's
// priority fee, already debited by the executor, in the payment asset, plus
// the era base reward (minted). Stakers only; a non-staker submitter receives
// nothing, and the debited fee stays out of circulation.
func (s *Service) Disburse(ctx context.Context, submitter, payer domain.Address, asset domain.Asset, priorityFee int64, reference string) error {
	staker, err := s.flags.IsStaker(ctx, submitter)
	if err != nil {
		return err
	}
	if !staker {
		return nil
	}

	if priorityFee > 0 {
		if err := s.ledger.Credit(ctx, submitter, asset, priorityFee, domain.EntryFee, payer, reference); err != nil {
			return fmt.Errorf("credit priority fee: %w", err)
		}
	}
	return s.mintBaseReward(ctx, submitter, reference)
}

// ServiceShare routes a basis-point cut of amount from a contract-class
// service's own balance to the relayer. Conserving: nothing is minted.
func (s *Service) ServiceShare(ctx context.Context, service, submitter domain.Address, asset domain.Asset, amount int64, shareBps int64, reference string) error {
	if shareBps < 0 || shareBps > 10_000 {
		return fmt.Errorf("share must be within [0, 10000] bps, got %d", shareBps)
	}
	contract, err := s.flags.IsContract(ctx, service)
	if err != nil {
		return err
	}
	if !contract {
		return fmt.Errorf("%w: service shares require a contract-class caller", ledgersvc.ErrUnauthorizedCaller)
	}

	share := amount / 10_000 * shareBps
	if rem := amount % 10_000; rem > 0 {
		share += rem * shareBps / 10_000
	}
	if share == 0 {
		return nil
	}
	if err := s.ledger.Debit(ctx, service, asset, share, domain.EntryFee, submitter, reference); err != nil {
		return err
	}
	return s.ledger.Credit(ctx, submitter, asset, share, domain.EntryFee, service, reference)
}

func (s *Service) mintBaseReward(ctx context.Context, submitter domain.Address, reference string) error {
	meta, err := s.meta.GetMetadata(ctx)
	if err != nil {
		return err
	}

	reward := meta.CurrentReward()
	if reward == 0 {
		return nil
	}
	if err := s.ledger.Credit(ctx, submitter, domain.AssetReward, reward, domain.EntryReward, "", reference); err != nil {
		return err
	}

	meta.TotalMinted += reward
	if meta.TotalMinted >= meta.NextEraAt {
		meta.Era++
		meta.NextEraAt *= 2
		s.log.WithField("era", meta.Era).WithField("total_minted", meta.TotalMinted).
			Info("reward era advanced, base reward halved")
	}
	return s.meta.PutMetadata(ctx, meta)
}

// Metadata returns the current instance metadata.
func (s *Service) Metadata(ctx context.Context) (domain.Metadata, error) {
	return s.meta.GetMetadata(ctx)
}

// ProposeReward stages a base-reward change that becomes acceptable after the
// proposal delay. Admin only.
func (s *Service) ProposeReward(ctx context.Context, caller domain.Address, value int64) error {
	if caller != s.admin {
		return fmt.Errorf("%w: reward proposals are owned by the admin", ledgersvc.ErrUnauthorizedCaller)
	}
	if value <= 0 {
		return fmt.Errorf("proposed reward must be positive, got %d", value)
	}
	meta, err := s.meta.GetMetadata(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	meta.ProposedReward = value
	meta.ProposedAt = now
	meta.EligibleAt = now.Add(s.proposalDelay)
	if err := s.meta.PutMetadata(ctx, meta); err != nil {
		return err
	}
	s.log.WithField("value", value).WithField("eligible_at", meta.EligibleAt).Info("reward change proposed")
	return nil
}

// AcceptReward applies a pending proposal once its eligibility time passes.
func (s *Service) AcceptReward(ctx context.Context, caller domain.Address) error {
	if caller != s.admin {
		return fmt.Errorf("%w: reward proposals are owned by the admin", ledgersvc.ErrUnauthorizedCaller)
	}
	meta, err := s.meta.GetMetadata(ctx)
	if err != nil {
		return err
	}
	if !meta.HasProposal() {
		return fmt.Errorf("no reward proposal pending")
	}
	if time.Now().UTC().Before(meta.EligibleAt) {
		return fmt.Errorf("reward proposal not eligible until %s", meta.EligibleAt)
	}

	meta.BaseReward = meta.ProposedReward
	meta.ProposedReward = 0
	meta.ProposedAt = time.Time{}
	meta.EligibleAt = time.Time{}
	if err := s.meta.PutMetadata(ctx, meta); err != nil {
		return err
	}
	s.log.WithField("base_reward", meta.BaseReward).Info("reward change accepted")
	return nil
}

// RejectReward discards a pending proposal.
func (s *Service) RejectReward(ctx context.Context, caller domain.Address) error {
	if caller != s.admin {
		return fmt.Errorf("%w: reward proposals are owned by the admin", ledgersvc.ErrUnauthorizedCaller)
	}
	meta, err := s.meta.GetMetadata(ctx)
	if err != nil {
		return err
	}
	if !meta.HasProposal() {
		return fmt.Errorf("no reward proposal pending")
	}

	meta.ProposedReward = 0
	meta.ProposedAt = time.Time{}
	meta.EligibleAt = time.Time{}
	return s.meta.PutMetadata(ctx, meta)
}
