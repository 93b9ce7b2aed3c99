// Package accounts derives batches of sender/receiver accounts from a
// single seed phrase, the way a load test needs many funded accounts
// without requiring the operator to hand them all in individually.
package accounts

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
	"github.com/paritytech/stps-go/internal/signing"
	"golang.org/x/crypto/blake2b"
)

// DerivationFormat returns the per-chain derivation string for account
// i given a base seed: sr25519 uses "seed/i" (a soft junction), ecdsa
// uses "seedi" (plain string concatenation, since secp256k1 keys have
// no junction syntax).
func DerivationFormat(chain domain.Chain, seed string, i int) string {
	switch chain {
	case domain.ChainPolkadot:
		return fmt.Sprintf("%s/%d", seed, i)
	case domain.ChainEthereum:
		return fmt.Sprintf("%s%d", seed, i)
	default:
		return fmt.Sprintf("%s/%d", seed, i)
	}
}

// seedMaterial hashes a derivation string down to 32 bytes of sr25519
// key material with blake2b-256. It turns an arbitrary SURI-style
// string into fixed-size seed bytes but does not reproduce Schnorrkel's
// transcript-based HDKD (hard and soft junctions over ristretto), so
// the resulting addresses differ from substrate-derived ones for the
// same SURI. It is deterministic and collision-free enough in practice
// for distinct derivation strings.
func seedMaterial(derivation string) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(derivation))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// devPhraseSeed is the 32-byte secret seed substrate derives from its
// well-known development phrase ("bottom drive obey lake curtain smoke
// basement") with an empty password. SURIs that carry no explicit
// phrase, like "//Sender0", derive from it.
var devPhraseSeed = [32]byte{
	0xfa, 0xc7, 0x95, 0x9d, 0xbf, 0xe7, 0x2f, 0x05,
	0x2e, 0x5a, 0x0c, 0x3c, 0x8d, 0x65, 0x30, 0xf2,
	0x02, 0xb0, 0x2f, 0xd8, 0xf9, 0xf5, 0xca, 0x35,
	0x80, 0xec, 0x8d, 0xeb, 0x77, 0x97, 0x47, 0x9e,
}

// secp256k1HDKDTag labels the hard-junction hash, matching the tag the
// substrate ecdsa scheme feeds into blake2b.
const secp256k1HDKDTag = "Secp256k1HDKD"

type junction struct {
	name string
	hard bool
}

// splitSURI separates a derivation string into its leading phrase and
// the junction path: "//Sender0" has an empty phrase and one hard
// junction "Sender0"; "0xSEED//a/b" has a hex-seed phrase, a hard
// junction "a", and a soft junction "b".
func splitSURI(s string) (phrase string, junctions []junction, err error) {
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return s, nil, nil
	}
	phrase = s[:idx]
	rest := s[idx:]
	for rest != "" {
		hard := false
		if strings.HasPrefix(rest, "//") {
			hard = true
			rest = rest[2:]
		} else {
			rest = rest[1:]
		}
		var name string
		if end := strings.IndexByte(rest, '/'); end >= 0 {
			name, rest = rest[:end], rest[end:]
		} else {
			name, rest = rest, ""
		}
		if name == "" {
			return "", nil, fmt.Errorf("accounts: empty junction in %q", s)
		}
		junctions = append(junctions, junction{name: name, hard: hard})
	}
	return phrase, junctions, nil
}

// junctionChainCode encodes a junction into its 32-byte chain code: a
// decimal junction is SCALE-encoded as a u64, anything else as a
// compact-length-prefixed string; the encoding is zero-padded to 32
// bytes, or blake2b-256 hashed down when longer.
func junctionChainCode(name string) [32]byte {
	var enc []byte
	if n, err := strconv.ParseUint(name, 10, 64); err == nil {
		enc = nodeclient.EncodeU64(n)
	} else {
		enc = append(nodeclient.EncodeCompact(uint64(len(name))), name...)
	}

	var cc [32]byte
	if len(enc) > 32 {
		h, _ := blake2b.New256(nil)
		h.Write(enc)
		copy(cc[:], h.Sum(nil))
	} else {
		copy(cc[:], enc)
	}
	return cc
}

// hardJunction advances a secp256k1 secret seed through one hard
// junction: blake2b-256 over the SCALE tuple (tag, seed, chain code).
func hardJunction(seed [32]byte, name string) [32]byte {
	cc := junctionChainCode(name)

	msg := append(nodeclient.EncodeCompact(uint64(len(secp256k1HDKDTag))), secp256k1HDKDTag...)
	msg = append(msg, seed[:]...)
	msg = append(msg, cc[:]...)

	h, _ := blake2b.New256(nil)
	h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ecdsaSeedFromSURI derives a secp256k1 secret seed from a SURI-style
// derivation string, reproducing the substrate ecdsa scheme: start from
// the development-phrase seed (or an explicit 0x-prefixed 32-byte hex
// seed), then apply one hardJunction pass per path element. Soft
// junctions have no secp256k1 analogue and are rejected, as are
// mnemonic phrases (no BIP-39 wordlist is shipped).
func ecdsaSeedFromSURI(suri string) ([32]byte, error) {
	phrase, junctions, err := splitSURI(suri)
	if err != nil {
		return [32]byte{}, err
	}

	seed := devPhraseSeed
	if phrase != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(phrase, "0x"))
		if err != nil || len(raw) != 32 {
			return [32]byte{}, fmt.Errorf("accounts: %q: only the empty (development) phrase or a 32-byte hex seed is supported", suri)
		}
		copy(seed[:], raw)
	}

	for _, j := range junctions {
		if !j.hard {
			return [32]byte{}, fmt.Errorf("accounts: %q: soft junctions are not supported for ecdsa", suri)
		}
		seed = hardJunction(seed, j.name)
	}
	return seed, nil
}

// DeriveKeys derives n accounts for the given chain from seed, running
// across min(n, GOMAXPROCS) worker goroutines with round-robin index
// assignment, then sorting the results by index before returning so
// the output order is independent of the parallel schedule.
func DeriveKeys(chain domain.Chain, seed string, n int) ([]domain.KeyPair, error) {
	if n <= 0 {
		return nil, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]domain.KeyPair, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < n; i += workers {
				kp, err := deriveOne(chain, seed, i)
				results[i] = kp
				errs[i] = err
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

func deriveOne(chain domain.Chain, seed string, i int) (domain.KeyPair, error) {
	derivation := DerivationFormat(chain, seed, i)

	switch chain {
	case domain.ChainPolkadot:
		s, err := signing.NewPolkadotSigner(seedMaterial(derivation))
		if err != nil {
			return domain.KeyPair{}, fmt.Errorf("accounts: derive %d: %w", i, err)
		}
		return domain.KeyPair{Index: i, AccountId: s.AccountId(), Signer: s}, nil

	case domain.ChainEthereum:
		seedBytes, err := ecdsaSeedFromSURI(derivation)
		if err != nil {
			return domain.KeyPair{}, fmt.Errorf("accounts: derive %d: %w", i, err)
		}
		s, err := signing.NewEthereumSigner(seedBytes[:])
		if err != nil {
			return domain.KeyPair{}, fmt.Errorf("accounts: derive %d: %w", i, err)
		}
		return domain.KeyPair{Index: i, AccountId: s.AccountId(), Signer: s}, nil

	default:
		return domain.KeyPair{}, fmt.Errorf("accounts: derive %d: %w", i, domain.ErrInvalidChain)
	}
}
