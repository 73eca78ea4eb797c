// Package identity maps human-readable names to ledger accounts. The full
// name marketplace lives outside the settlement layer; this package carries
// just enough registry to settle identity-addressed payments.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/storage"
	"github.com/evvm-network/settlement_layer/pkg/logger"
)

// ErrUnknownIdentity is returned when a name has no registered account.
var ErrUnknownIdentity = errors.New("unknown identity")

// Resolver is the narrow capability the settlement executor depends on.
type Resolver interface {
	// ResolveStrict returns the account for a name, failing with
	// ErrUnknownIdentity if unregistered.
	ResolveStrict(ctx context.Context, name string) (domain.Address, error)
	// Exists reports whether the name is registered.
	Exists(ctx context.Context, name string) (bool, error)
}

// Registry is the store-backed Resolver implementation.
type Registry struct {
	store storage.IdentityStore
	log   *logger.Logger
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates a registry over the identity store.
func NewRegistry(store storage.IdentityStore, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Registry{store: store, log: log}
}

// Register binds a name to an account. Names are case-insensitive.
func (r *Registry) Register(ctx context.Context, name string, account domain.Address) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("identity name is required")
	}
	if !account.Valid() {
		return fmt.Errorf("account %q is not a valid address", account)
	}
	if err := r.store.RegisterIdentity(ctx, name, account); err != nil {
		return err
	}
	r.log.WithField("name", name).WithField("account", account).Info("identity registered")
	return nil
}

// ResolveStrict implements Resolver.
func (r *Registry) ResolveStrict(ctx context.Context, name string) (domain.Address, error) {
	account, ok, err := r.store.ResolveIdentity(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownIdentity, name)
	}
	return account, nil
}

// Exists implements Resolver.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, ok, err := r.store.ResolveIdentity(ctx, name)
	return ok, err
}
