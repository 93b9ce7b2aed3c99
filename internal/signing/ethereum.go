// Package signing implements the cross-chain signing abstraction: one
// Signer per supported chain, sharing the domain.Signer interface so the
// worker pool and transaction builder never need to branch on chain kind
// themselves.
package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/paritytech/stps-go/internal/domain"
)

// EthereumAccountId is a 20-byte Keccak-derived address: the last 20
// bytes of Keccak256 of the 64-byte uncompressed public key (x||y, no
// leading 0x04 prefix byte).
type EthereumAccountId [20]byte

func (a EthereumAccountId) Bytes() []byte { return a[:] }
func (a EthereumAccountId) Chain() domain.Chain { return domain.ChainEthereum }

// String renders an EIP-55 checksummed hex address: each hex nibble of
// the lowercase address is uppercased when the corresponding nibble of
// Keccak256(lowercase hex address) is >= 8.
func (a EthereumAccountId) String() string {
	const hexDigits = "0123456789abcdef"
	lower := make([]byte, 40)
	for i, b := range a {
		lower[i*2] = hexDigits[b>>4]
		lower[i*2+1] = hexDigits[b&0xf]
	}
	hash := crypto.Keccak256(lower)

	out := make([]byte, 42)
	out[0], out[1] = '0', 'x'
	for i, c := range lower {
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0xf
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			out[2+i] = c - ('a' - 'A')
		} else {
			out[2+i] = c
		}
	}
	return string(out)
}

// ethereumAccountIdFromPubkey derives an EthereumAccountId from an ECDSA
// public key: Keccak256 of the 64-byte uncompressed public key (dropping
// the leading format byte), last 20 bytes.
func ethereumAccountIdFromPubkey(pub *ecdsa.PublicKey) EthereumAccountId {
	// crypto.FromECDSAPub returns the 65-byte uncompressed form prefixed
	// with 0x04; drop that leading byte before hashing.
	full := crypto.FromECDSAPub(pub)
	hash := crypto.Keccak256(full[1:])

	var id EthereumAccountId
	copy(id[:], hash[12:32])
	return id
}

// EthereumSigner signs payloads with a secp256k1 key by hashing with
// Keccak-256 and producing a 65-byte recoverable signature.
type EthereumSigner struct {
	key       *ecdsa.PrivateKey
	accountID EthereumAccountId
}

// NewEthereumSigner builds an EthereumSigner from raw secp256k1 private
// key bytes (as produced by the derivation package).
func NewEthereumSigner(priv []byte) (*EthereumSigner, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("signing: ethereum: invalid private key: %w", err)
	}
	return &EthereumSigner{
		key:       key,
		accountID: ethereumAccountIdFromPubkey(&key.PublicKey),
	}, nil
}

func (s *EthereumSigner) AccountId() domain.AccountId { return s.accountID }

// Sign hashes payload with Keccak-256 and produces a 65-byte r||s||v
// signature with v normalized to {27,28}, the go-ethereum convention.
func (s *EthereumSigner) Sign(payload []byte) (domain.Signature, error) {
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("signing: ethereum: %w: %v", domain.ErrSigningFailed, err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return domain.Signature{Chain: domain.ChainEthereum, Bytes: sig}, nil
}
