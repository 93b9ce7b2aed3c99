package signing

import (
	"fmt"

	"github.com/paritytech/stps-go/internal/domain"
)

// DecodeAccountId reconstructs an AccountId from its raw wire bytes.
// The two supported chains' addresses never collide in length: a
// Polkadot AccountId32 is always 32 bytes, an Ethereum H160 is always
// 20, so length alone is enough to dispatch; used by internal/decoder
// to recover the owner address carried in an Nfts.Created event.
func DecodeAccountId(b []byte) (domain.AccountId, error) {
	switch len(b) {
	case 32:
		var id PolkadotAccountId
		copy(id[:], b)
		return id, nil
	case 20:
		var id EthereumAccountId
		copy(id[:], b)
		return id, nil
	default:
		return nil, fmt.Errorf("signing: decode account id: unexpected length %d", len(b))
	}
}
