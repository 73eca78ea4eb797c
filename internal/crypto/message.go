// Package crypto implements the canonical signed-message envelope and the
// hash-then-sign scheme used to authorize settlement operations. Every
// operation hashes its own parameters into a payload hash, wraps it in the
// shared envelope, and signs that; one recovery routine then serves all
// operation shapes.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	"github.com/evvm-network/settlement_layer/internal/domain/ledger"
)

// signPrefix is prepended, with the message length, before hashing. Signing
// over the prefixed form keeps envelope signatures distinct from raw
// transaction signatures.
const signPrefix = "\x19EVVM Signed Message:\n"

// Envelope is the authorization header common to every signed operation.
type Envelope struct {
	InstanceID  string
	ServiceID   string
	PayloadHash string
	Executor    ledger.Address
	Nonce       uint64
	NonceMode   intent.NonceMode
}

// Canonical returns the deterministic comma-delimited serialization that is
// signed and verified:
//
//	<instanceId>,<serviceId>,<payloadHash>,<executorRestriction>,<nonce>,<nonceMode>
func (e Envelope) Canonical() string {
	return strings.Join([]string{
		e.InstanceID,
		e.ServiceID,
		e.PayloadHash,
		string(e.Executor),
		strconv.FormatUint(e.Nonce, 10),
		string(e.NonceMode),
	}, ",")
}

// Keccak256 returns the keccak-256 digest of data.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// DigestFor returns the hash that is actually signed: keccak-256 over the
// length-prefixed canonical envelope.
func DigestFor(e Envelope) []byte {
	msg := e.Canonical()
	prefixed := signPrefix + strconv.Itoa(len(msg)) + msg
	return Keccak256([]byte(prefixed))
}

// HashPayload hashes an operation's parameter fields into the payload hash
// carried by the envelope. Fields are comma-joined ASCII, so any single-byte
// change to a parameter changes the hash.
func HashPayload(fields ...string) string {
	return "0x" + hex.EncodeToString(Keccak256([]byte(strings.Join(fields, ","))))
}

// PayPayloadHash computes the payload hash for a single-transfer intent.
func PayPayloadHash(p intent.Payment) string {
	to := string(p.Recipient)
	if p.Identity != "" {
		to = p.Identity
	}
	return HashPayload(
		"pay",
		to,
		string(p.Asset),
		strconv.FormatInt(p.Amount, 10),
		strconv.FormatInt(p.PriorityFee, 10),
	)
}

// DispersePayloadHash computes the payload hash for a disperse intent. The
// recipient list is part of the hash, so the signature covers the exact split.
func DispersePayloadHash(d intent.Disperse) string {
	fields := make([]string, 0, 2*len(d.Recipients)+4)
	fields = append(fields, "disperse")
	for _, r := range d.Recipients {
		to := string(r.Recipient)
		if r.Identity != "" {
			to = r.Identity
		}
		fields = append(fields, to, strconv.FormatInt(r.Amount, 10))
	}
	fields = append(fields,
		string(d.Asset),
		strconv.FormatInt(d.Total, 10),
		strconv.FormatInt(d.PriorityFee, 10),
	)
	return HashPayload(fields...)
}

// DecodeHex decodes a 0x-prefixed or bare hex string.
func DecodeHex(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("hex value is required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("value must be hex: %w", err)
	}
	return decoded, nil
}
