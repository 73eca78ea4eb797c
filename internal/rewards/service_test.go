package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	ledgersvc "github.com/evvm-network/settlement_layer/internal/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage/memory"
)

var (
	treasury = domain.Address("0x00000000000000000000000000000000000000aa")
	registry = domain.Address("0x00000000000000000000000000000000000000bb")
	admin    = domain.Address("0x00000000000000000000000000000000000000cc")
	relayer  = domain.Address("0x3333333333333333333333333333333333333333")
	payer    = domain.Address("0x4444444444444444444444444444444444444444")
)

func newService(t *testing.T, baseReward, eraThreshold int64, delay time.Duration) (*Service, *ledgersvc.Service) {
	t.Helper()
	store := memory.New()
	if err := store.PutMetadata(context.Background(), domain.Metadata{
		InstanceID: "evvm-test",
		BaseReward: baseReward,
		NextEraAt:  eraThreshold,
	}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	ledger := ledgersvc.New(store, treasury, nil)
	return New(store, store, ledger, registry, admin, delay, nil), ledger
}

func TestStakerFlagRestrictedToRegistry(t *testing.T) {
	s, _ := newService(t, 1000, 1<<40, time.Hour)
	ctx := context.Background()

	if err := s.SetStakerFlag(ctx, admin, relayer, true); !errors.Is(err, ledgersvc.ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller, got %v", err)
	}
	if err := s.SetStakerFlag(ctx, registry, relayer, true); err != nil {
		t.Fatalf("registry set: %v", err)
	}
	staker, err := s.IsStaker(ctx, relayer)
	if err != nil {
		t.Fatalf("is staker: %v", err)
	}
	if !staker {
		t.Fatal("flag not set")
	}

	if err := s.SetStakerFlag(ctx, registry, relayer, false); err != nil {
		t.Fatalf("registry unset: %v", err)
	}
	staker, err = s.IsStaker(ctx, relayer)
	if err != nil {
		t.Fatalf("is staker: %v", err)
	}
	if staker {
		t.Fatal("flag not cleared")
	}
}

func TestContractFlagRestrictedToAdmin(t *testing.T) {
	s, _ := newService(t, 1000, 1<<40, time.Hour)
	ctx := context.Background()

	if err := s.SetContractFlag(ctx, registry, relayer, true); !errors.Is(err, ledgersvc.ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller, got %v", err)
	}
	if err := s.SetContractFlag(ctx, admin, relayer, true); err != nil {
		t.Fatalf("admin set: %v", err)
	}
}

func TestDisbursePaysOnlyStakers(t *testing.T) {
	s, ledger := newService(t, 1000, 1<<40, time.Hour)
	ctx := context.Background()

	// A non-staker submitter receives neither the base reward nor the fee.
	if err := s.Disburse(ctx, relayer, payer, domain.AssetNative, 5, "ref-1"); err != nil {
		t.Fatalf("disburse non-staker: %v", err)
	}
	for _, asset := range []domain.Asset{domain.AssetNative, domain.AssetReward} {
		got, err := ledger.BalanceOf(ctx, relayer, asset)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if got != 0 {
			t.Fatalf("non-staker credited %d %s", got, asset)
		}
	}

	if err := s.SetStakerFlag(ctx, registry, relayer, true); err != nil {
		t.Fatalf("set staker: %v", err)
	}
	if err := s.Disburse(ctx, relayer, payer, domain.AssetNative, 5, "ref-2"); err != nil {
		t.Fatalf("disburse staker: %v", err)
	}
	got, err := ledger.BalanceOf(ctx, relayer, domain.AssetReward)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 1000 {
		t.Fatalf("staker reward: got %d, want 1000", got)
	}
	got, err = ledger.BalanceOf(ctx, relayer, domain.AssetNative)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 5 {
		t.Fatalf("staker fee: got %d, want 5", got)
	}
}

func TestEraHalving(t *testing.T) {
	// Threshold of 2000 with a 1000 base reward: era 0 ends after two mints,
	// then rewards halve to 500 and the threshold doubles to 4000.
	s, ledger := newService(t, 1000, 2000, time.Hour)
	ctx := context.Background()
	if err := s.SetStakerFlag(ctx, registry, relayer, true); err != nil {
		t.Fatalf("set staker: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Disburse(ctx, relayer, payer, domain.AssetNative, 0, "ref"); err != nil {
			t.Fatalf("disburse %d: %v", i, err)
		}
	}

	meta, err := s.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Era != 1 {
		t.Fatalf("era: got %d, want 1", meta.Era)
	}
	if meta.NextEraAt != 4000 {
		t.Fatalf("next era threshold: got %d, want 4000", meta.NextEraAt)
	}
	if meta.TotalMinted != 2500 {
		t.Fatalf("total minted: got %d, want 2500", meta.TotalMinted)
	}
	if meta.CurrentReward() != 500 {
		t.Fatalf("current reward: got %d, want 500", meta.CurrentReward())
	}

	got, err := ledger.BalanceOf(ctx, relayer, domain.AssetReward)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 2500 {
		t.Fatalf("reward balance: got %d, want 2500", got)
	}
}

func TestServiceShare(t *testing.T) {
	s, ledger := newService(t, 1000, 1<<40, time.Hour)
	ctx := context.Background()
	service := domain.Address("0x5555555555555555555555555555555555555555")

	if err := ledger.Credit(ctx, service, domain.AssetNative, 10_000, domain.EntryDeposit, treasury, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Only contract-class services pay shares.
	if err := s.ServiceShare(ctx, service, relayer, domain.AssetNative, 10_000, 250, "ref"); !errors.Is(err, ledgersvc.ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller, got %v", err)
	}
	if err := s.SetContractFlag(ctx, admin, service, true); err != nil {
		t.Fatalf("set contract: %v", err)
	}

	if err := s.ServiceShare(ctx, service, relayer, domain.AssetNative, 10_000, 10_001, "ref"); err == nil {
		t.Fatal("share above 10000 bps accepted")
	}

	// 250 bps of 10000 = 250, conserved between service and relayer.
	if err := s.ServiceShare(ctx, service, relayer, domain.AssetNative, 10_000, 250, "ref"); err != nil {
		t.Fatalf("service share: %v", err)
	}
	serviceBalance, err := ledger.BalanceOf(ctx, service, domain.AssetNative)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	relayerBalance, err := ledger.BalanceOf(ctx, relayer, domain.AssetNative)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if serviceBalance != 9750 || relayerBalance != 250 {
		t.Fatalf("split: service %d, relayer %d", serviceBalance, relayerBalance)
	}
}

func TestRewardProposalLifecycle(t *testing.T) {
	s, _ := newService(t, 1000, 1<<40, 50*time.Millisecond)
	ctx := context.Background()

	if err := s.ProposeReward(ctx, registry, 2000); !errors.Is(err, ledgersvc.ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller, got %v", err)
	}
	if err := s.AcceptReward(ctx, admin); err == nil {
		t.Fatal("accept with no pending proposal accepted")
	}

	if err := s.ProposeReward(ctx, admin, 2000); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := s.AcceptReward(ctx, admin); err == nil {
		t.Fatal("accept before eligibility accepted")
	}

	time.Sleep(60 * time.Millisecond)
	if err := s.AcceptReward(ctx, admin); err != nil {
		t.Fatalf("accept after delay: %v", err)
	}

	meta, err := s.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.BaseReward != 2000 {
		t.Fatalf("base reward: got %d, want 2000", meta.BaseReward)
	}
	if meta.HasProposal() {
		t.Fatal("accepted proposal still pending")
	}
}

func TestRewardProposalReject(t *testing.T) {
	s, _ := newService(t, 1000, 1<<40, time.Hour)
	ctx := context.Background()

	if err := s.ProposeReward(ctx, admin, 2000); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := s.RejectReward(ctx, admin); err != nil {
		t.Fatalf("reject: %v", err)
	}

	meta, err := s.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.BaseReward != 1000 {
		t.Fatalf("base reward changed on reject: %d", meta.BaseReward)
	}
	if meta.HasProposal() {
		t.Fatal("rejected proposal still pending")
	}
}
