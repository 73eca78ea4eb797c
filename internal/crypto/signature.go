package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
)

// ErrInvalidSignature is returned when a signature is malformed or the
// recovered signer does not match the claimed payer.
var ErrInvalidSignature = errors.New("invalid signature")

// CompactSignatureSize is the length of a recoverable signature:
// one recovery byte followed by 32-byte R and S.
const CompactSignatureSize = 65

// AddressFromPublicKey derives the ledger address from a public key: the last
// 20 bytes of the keccak-256 of the uncompressed point, without the format
// byte.
func AddressFromPublicKey(pub *secp256k1.PublicKey) ledger.Address {
	raw := pub.SerializeUncompressed()
	digest := Keccak256(raw[1:])
	return ledger.Address("0x" + hex.EncodeToString(digest[12:]))
}

// Sign produces a recoverable compact signature over the envelope digest.
// Intended for tests and client tooling; the engine only ever verifies.
func Sign(priv *secp256k1.PrivateKey, e Envelope) []byte {
	return ecdsa.SignCompact(priv, DigestFor(e), false)
}

// RecoverSigner recovers the address that signed the envelope. It fails with
// ErrInvalidSignature if the signature is malformed or unrecoverable.
func RecoverSigner(e Envelope, signature []byte) (ledger.Address, error) {
	if len(signature) != CompactSignatureSize {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, CompactSignatureSize, len(signature))
	}
	pub, _, err := ecdsa.RecoverCompact(signature, DigestFor(e))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return AddressFromPublicKey(pub), nil
}

// VerifySigner recovers the signer and checks it against the claimed payer.
func VerifySigner(e Envelope, signature []byte, claimed ledger.Address) error {
	recovered, err := RecoverSigner(e, signature)
	if err != nil {
		return err
	}
	if recovered != ledger.NormalizeAddress(string(claimed)) {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrInvalidSignature, recovered, claimed)
	}
	return nil
}

// GeneratePrivateKey creates a fresh secp256k1 private key. Test helper.
func GeneratePrivateKey() (*secp256k1.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, nil
}
