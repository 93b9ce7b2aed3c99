package signing

import (
	"fmt"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/paritytech/stps-go/internal/domain"
)

// substrateSigningContext is the transcript label Substrate's sr25519
// signature scheme uses for extrinsic signing.
const substrateSigningContext = "substrate"

// PolkadotAccountId wraps a 32-byte AccountId32, the sr25519 public key
// bytes themselves (Substrate accounts are their public key).
type PolkadotAccountId [32]byte

func (a PolkadotAccountId) Bytes() []byte       { return a[:] }
func (a PolkadotAccountId) Chain() domain.Chain { return domain.ChainPolkadot }

// String renders the raw AccountId32 as 0x-prefixed hex. Rendering the
// SS58 checksummed form requires a network-specific address prefix this
// package deliberately does not hardcode; callers that need SS58 can wrap
// this AccountId with their own encoder.
func (a PolkadotAccountId) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 2+64)
	out[0], out[1] = '0', 'x'
	for i, b := range a {
		out[2+i*2] = hexDigits[b>>4]
		out[2+i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}

// PolkadotSigner signs payloads with sr25519 via Schnorrkel. No hashing
// happens before signing; the Schnorrkel transcript absorbs the message
// directly.
type PolkadotSigner struct {
	sec       *schnorrkel.SecretKey
	accountID PolkadotAccountId
}

// NewPolkadotSigner builds a PolkadotSigner from a 32-byte mini-secret
// seed, as produced by the derivation package's seed-hash step.
func NewPolkadotSigner(seed [32]byte) (*PolkadotSigner, error) {
	msk, err := schnorrkel.NewMiniSecretKeyFromRaw(seed)
	if err != nil {
		return nil, fmt.Errorf("signing: polkadot: derive mini secret: %w", err)
	}

	var id PolkadotAccountId
	pub := msk.Public().Encode()
	copy(id[:], pub[:])

	return &PolkadotSigner{sec: msk.ExpandEd25519(), accountID: id}, nil
}

func (s *PolkadotSigner) AccountId() domain.AccountId { return s.accountID }

// Sign produces a raw 64-byte sr25519 signature over payload using the
// "substrate" signing context, matching Substrate's extrinsic-signing
// convention. The caller is responsible for wrapping the result as
// MultiSignature::Sr25519 on the wire.
func (s *PolkadotSigner) Sign(payload []byte) (domain.Signature, error) {
	transcript := schnorrkel.NewSigningContext([]byte(substrateSigningContext), payload)
	sig, err := s.sec.Sign(transcript)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("signing: polkadot: %w: %v", domain.ErrSigningFailed, err)
	}
	enc := sig.Encode()
	return domain.Signature{Chain: domain.ChainPolkadot, Bytes: enc[:]}, nil
}
