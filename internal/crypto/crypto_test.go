package crypto

import (
	"strings"
	"testing"

	"github.com/evvm-network/settlement_layer/internal/domain/intent"
	domain "github.com/evvm-network/settlement_layer/internal/domain/ledger"
)

func testEnvelope(payloadHash string) Envelope {
	return Envelope{
		InstanceID:  "evvm-test",
		ServiceID:   "core",
		PayloadHash: payloadHash,
		Executor:    "",
		Nonce:       7,
		NonceMode:   intent.NonceAsync,
	}
}

func TestEnvelopeCanonicalForm(t *testing.T) {
	env := Envelope{
		InstanceID:  "evvm-test",
		ServiceID:   "core",
		PayloadHash: "0xabc",
		Executor:    domain.Address("0x1111111111111111111111111111111111111111"),
		Nonce:       42,
		NonceMode:   intent.NonceSync,
	}
	got := env.Canonical()
	want := "evvm-test,core,0xabc,0x1111111111111111111111111111111111111111,42,sync"
	if got != want {
		t.Fatalf("canonical form mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestSignAndRecover(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := AddressFromPublicKey(priv.PubKey())
	if !signer.Valid() {
		t.Fatalf("derived address is malformed: %s", signer)
	}

	env := testEnvelope(HashPayload("pay", "bob", "native", "100", "1"))
	sig := Sign(priv, env)
	if len(sig) != CompactSignatureSize {
		t.Fatalf("unexpected signature length: %d", len(sig))
	}

	recovered, err := RecoverSigner(env, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer {
		t.Fatalf("recovered %s, want %s", recovered, signer)
	}
	if err := VerifySigner(env, sig, signer); err != nil {
		t.Fatalf("verify against signer: %v", err)
	}
}

func TestVerifyRejectsWrongClaimant(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env := testEnvelope(HashPayload("pay", "bob", "native", "100", "1"))
	sig := Sign(priv, env)

	other := domain.Address("0x2222222222222222222222222222222222222222")
	if err := VerifySigner(env, sig, other); err == nil {
		t.Fatal("expected verification failure for wrong claimant")
	}
}

// Changing any payload byte without re-signing must break verification, even
// when the envelope nonce fields are unchanged.
func TestSignatureBindsPayload(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := AddressFromPublicKey(priv.PubKey())

	env := testEnvelope(HashPayload("pay", "bob", "native", "100", "1"))
	sig := Sign(priv, env)

	tampered := env
	tampered.PayloadHash = HashPayload("pay", "bob", "native", "101", "1")
	if err := VerifySigner(tampered, sig, signer); err == nil {
		t.Fatal("expected verification failure after payload tamper")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	env := testEnvelope("0xabc")
	if _, err := RecoverSigner(env, []byte("short")); err == nil {
		t.Fatal("expected failure for truncated signature")
	}
}

func TestPayloadHashDeterministic(t *testing.T) {
	p := intent.Payment{
		Recipient:   domain.Address("0x3333333333333333333333333333333333333333"),
		Asset:       domain.AssetNative,
		Amount:      100,
		PriorityFee: 1,
	}
	first := PayPayloadHash(p)
	second := PayPayloadHash(p)
	if first != second {
		t.Fatalf("hash not deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "0x") || len(first) != 66 {
		t.Fatalf("unexpected hash encoding: %s", first)
	}

	p.Amount = 101
	if PayPayloadHash(p) == first {
		t.Fatal("hash did not change with amount")
	}
}

func TestDisperseHashCoversSplit(t *testing.T) {
	d := intent.Disperse{
		Asset: domain.AssetNative,
		Total: 300,
		Recipients: []intent.DisperseRecipient{
			{Recipient: "0x4444444444444444444444444444444444444444", Amount: 100},
			{Identity: "alice", Amount: 200},
		},
	}
	first := DispersePayloadHash(d)

	d.Recipients[0].Amount = 150
	d.Recipients[1].Amount = 150
	if DispersePayloadHash(d) == first {
		t.Fatal("hash did not change with split")
	}
}

func TestDecodeHex(t *testing.T) {
	decoded, err := DecodeHex("0xdeadbeef")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("unexpected length: %d", len(decoded))
	}
	if _, err := DecodeHex("zz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := DecodeHex(""); err == nil {
		t.Fatal("expected error for empty input")
	}
}
