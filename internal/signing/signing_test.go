package signing

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/paritytech/stps-go/internal/domain"
)

func testEthKey(seed byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = seed
	}
	key[31] ^= 0x01 // avoid the all-zero scalar
	return key
}

func TestEthereumAccountIdMatchesKeccakDerivation(t *testing.T) {
	priv := testEthKey(7)
	s, err := NewEthereumSigner(priv)
	if err != nil {
		t.Fatalf("NewEthereumSigner: %v", err)
	}

	key, err := crypto.ToECDSA(priv)
	if err != nil {
		t.Fatalf("ToECDSA: %v", err)
	}
	pub := crypto.FromECDSAPub(&key.PublicKey)
	want := crypto.Keccak256(pub[1:])[12:32]

	if !bytes.Equal(s.AccountId().Bytes(), want) {
		t.Errorf("account id = %x, want keccak256(pub[1:65])[12:32] = %x", s.AccountId().Bytes(), want)
	}
}

func TestEthereumSignatureIs65Bytes(t *testing.T) {
	s, err := NewEthereumSigner(testEthKey(3))
	if err != nil {
		t.Fatalf("NewEthereumSigner: %v", err)
	}
	sig, err := s.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig.Bytes) != 65 {
		t.Errorf("signature length = %d, want 65", len(sig.Bytes))
	}
	if sig.Chain != domain.ChainEthereum {
		t.Errorf("signature chain = %v, want ethereum", sig.Chain)
	}
	if v := sig.Bytes[64]; v != 27 && v != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", v)
	}
}

func TestPolkadotSignatureIs64Bytes(t *testing.T) {
	var seed [32]byte
	seed[0] = 9
	s, err := NewPolkadotSigner(seed)
	if err != nil {
		t.Fatalf("NewPolkadotSigner: %v", err)
	}
	sig, err := s.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig.Bytes) != 64 {
		t.Errorf("signature length = %d, want 64", len(sig.Bytes))
	}
	if sig.Chain != domain.ChainPolkadot {
		t.Errorf("signature chain = %v, want polkadot", sig.Chain)
	}
	if len(s.AccountId().Bytes()) != 32 {
		t.Errorf("account id length = %d, want 32", len(s.AccountId().Bytes()))
	}
}

func TestSignersFromSameKeyShareAccountId(t *testing.T) {
	a, err := NewEthereumSigner(testEthKey(5))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEthereumSigner(testEthKey(5))
	if err != nil {
		t.Fatal(err)
	}
	if a.AccountId().String() != b.AccountId().String() {
		t.Errorf("same key produced different account ids: %s vs %s", a.AccountId(), b.AccountId())
	}

	var seed [32]byte
	seed[5] = 1
	p1, err := NewPolkadotSigner(seed)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := NewPolkadotSigner(seed)
	if err != nil {
		t.Fatal(err)
	}
	if p1.AccountId().String() != p2.AccountId().String() {
		t.Errorf("same seed produced different account ids: %s vs %s", p1.AccountId(), p2.AccountId())
	}
}

func TestEthereumAddressChecksumCase(t *testing.T) {
	s, err := NewEthereumSigner(testEthKey(11))
	if err != nil {
		t.Fatal(err)
	}
	addr := s.AccountId().String()
	if len(addr) != 42 || addr[:2] != "0x" {
		t.Fatalf("address %q: want 0x-prefixed 40 hex chars", addr)
	}
	// EIP-55 checksumming must agree with go-ethereum's own rendering.
	key, err := crypto.ToECDSA(testEthKey(11))
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if addr != want {
		t.Errorf("checksummed address = %s, want %s", addr, want)
	}
}

func TestDecodeAccountIdDispatchesOnLength(t *testing.T) {
	id32, err := DecodeAccountId(make([]byte, 32))
	if err != nil {
		t.Fatalf("decode 32-byte id: %v", err)
	}
	if id32.Chain() != domain.ChainPolkadot {
		t.Errorf("32-byte id chain = %v, want polkadot", id32.Chain())
	}

	id20, err := DecodeAccountId(make([]byte, 20))
	if err != nil {
		t.Fatalf("decode 20-byte id: %v", err)
	}
	if id20.Chain() != domain.ChainEthereum {
		t.Errorf("20-byte id chain = %v, want ethereum", id20.Chain())
	}

	if _, err := DecodeAccountId(make([]byte, 33)); err == nil {
		t.Error("expected error for 33-byte account id")
	}
}
