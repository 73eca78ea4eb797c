// Package app wires the settlement services together.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/evvm-network/settlement_layer/internal/config"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/engine"
	"github.com/evvm-network/settlement_layer/internal/identity"
	ledgersvc "github.com/evvm-network/settlement_layer/internal/ledger"
	"github.com/evvm-network/settlement_layer/internal/nonce"
	"github.com/evvm-network/settlement_layer/internal/rewards"
	"github.com/evvm-network/settlement_layer/internal/storage"
	"github.com/evvm-network/settlement_layer/internal/storage/memory"
	"github.com/evvm-network/settlement_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Ledger     storage.LedgerStore
	Nonces     storage.NonceStore
	Flags      storage.FlagStore
	Identities storage.IdentityStore
	Metadata   storage.MetadataStore
}

// Application ties the settlement services together.
type Application struct {
	log *logger.Logger

	Ledger   *ledgersvc.Service
	Nonces   *nonce.Manager
	Identity *identity.Registry
	Rewards  *rewards.Service
	Engine   *engine.Engine
}

// New builds a fully initialised application for one instance. Missing
// instance metadata is seeded from the configuration.
func New(cfg config.InstanceConfig, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Nonces == nil {
		stores.Nonces = mem
	}
	if stores.Flags == nil {
		stores.Flags = mem
	}
	if stores.Identities == nil {
		stores.Identities = mem
	}
	if stores.Metadata == nil {
		stores.Metadata = mem
	}

	if err := seedMetadata(stores.Metadata, cfg); err != nil {
		return nil, err
	}

	treasury := domain.NormalizeAddress(cfg.Treasury)
	registry := domain.NormalizeAddress(cfg.StakeRegistry)
	admin := domain.NormalizeAddress(cfg.Admin)

	ledgerService := ledgersvc.New(stores.Ledger, treasury, log)
	nonceManager := nonce.NewManager(stores.Nonces)
	identityRegistry := identity.NewRegistry(stores.Identities, log)
	rewardService := rewards.New(stores.Flags, stores.Metadata, ledgerService,
		registry, admin, cfg.ProposalDelay(), log)

	allowed := make([]domain.Asset, 0, len(cfg.AllowedAssets))
	for _, asset := range cfg.AllowedAssets {
		allowed = append(allowed, domain.Asset(asset))
	}

	// A store that supports transactions scopes each operation's mutation
	// phase; the in-memory default does not need one.
	atomic, _ := stores.Ledger.(storage.Atomic)

	gate := engine.NewGate(cfg.ID, nonceManager)
	settlementEngine := engine.New(engine.Config{
		InstanceID:    cfg.ID,
		AllowedAssets: allowed,
		Atomic:        atomic,
	}, gate, ledgerService, rewardService, identityRegistry, log)

	return &Application{
		log:      log,
		Ledger:   ledgerService,
		Nonces:   nonceManager,
		Identity: identityRegistry,
		Rewards:  rewardService,
		Engine:   settlementEngine,
	}, nil
}

// seedMetadata writes the initial instance metadata for a fresh store. An
// existing row is never overwritten, and a failing store aborts startup
// rather than reseeding a live instance.
func seedMetadata(store storage.MetadataStore, cfg config.InstanceConfig) error {
	ctx := context.Background()
	_, err := store.GetMetadata(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrMetadataNotFound) {
		return fmt.Errorf("read instance metadata: %w", err)
	}
	if err := store.PutMetadata(ctx, domain.Metadata{
		InstanceID: cfg.ID,
		BaseReward: cfg.BaseReward,
		NextEraAt:  cfg.EraThreshold,
	}); err != nil {
		return fmt.Errorf("seed instance metadata: %w", err)
	}
	return nil
}
