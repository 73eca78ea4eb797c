package engine

import (
	"context"
	"fmt"

	"github.com/evvm-network/settlement_layer/internal/crypto"
	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
	"github.com/evvm-network/settlement_layer/internal/nonce"
)

// CoreService is the serviceId carried in the envelope for payments settled
// by the engine itself. Delegated services sign with their own serviceId.
const CoreService = "core"

// Gate composes the canonicalizer, signature verifier and nonce manager into
// the single validate-and-consume step every signed operation passes through.
type Gate struct {
	instanceID string
	nonces     *nonce.Manager
}

// NewGate creates the authorization gate for one instance.
func NewGate(instanceID string, nonces *nonce.Manager) *Gate {
	return &Gate{instanceID: instanceID, nonces: nonces}
}

func (g *Gate) envelope(serviceID, payloadHash string, executor domain.Address, nonceValue uint64, mode intent.NonceMode) crypto.Envelope {
	return crypto.Envelope{
		InstanceID:  g.instanceID,
		ServiceID:   serviceID,
		PayloadHash: payloadHash,
		Executor:    executor,
		Nonce:       nonceValue,
		NonceMode:   mode,
	}
}

// Validate runs the authorization checks without consuming the nonce:
// signature recovery, executor restriction, then nonce availability, in that
// order, short-circuiting on the first failure. Nothing is mutated.
func (g *Gate) Validate(ctx context.Context, serviceID string, payer domain.Address, payloadHash string,
	executor domain.Address, nonceValue uint64, mode intent.NonceMode, signature []byte, submitter domain.Address) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown nonce mode %q", mode)
	}
	env := g.envelope(serviceID, payloadHash, executor, nonceValue, mode)
	if err := crypto.VerifySigner(env, signature, payer); err != nil {
		return err
	}
	if err := nonce.CheckExecutor(executor, submitter); err != nil {
		return err
	}
	return g.nonces.Check(ctx, payer, nonceValue, mode)
}

// ConsumeNonce marks a previously validated nonce as spent. The executor
// calls it only after every other failure mode of the operation has been
// ruled out, so a rejection never leaves a consumed nonce behind.
func (g *Gate) ConsumeNonce(ctx context.Context, payer domain.Address, nonceValue uint64, mode intent.NonceMode) error {
	return g.nonces.Consume(ctx, payer, nonceValue, mode)
}

// ValidateAndConsume is the composed operation: validate, then consume the
// nonce. This is also the form exported to delegated services, which hash
// their own parameters into payloadHash.
func (g *Gate) ValidateAndConsume(ctx context.Context, serviceID string, payer domain.Address, payloadHash string,
	executor domain.Address, nonceValue uint64, mode intent.NonceMode, signature []byte, submitter domain.Address) error {
	if err := g.Validate(ctx, serviceID, payer, payloadHash, executor, nonceValue, mode, signature, submitter); err != nil {
		return err
	}
	return g.ConsumeNonce(ctx, payer, nonceValue, mode)
}
