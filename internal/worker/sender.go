// Package worker implements the per-sender submission pool: one logical
// sender per derived account, each holding its own nonce counter and
// submitting extrinsics independently of the others.
package worker

import (
	"sync/atomic"

	"github.com/paritytech/stps-go/internal/domain"
)

// Sender owns one account's nonce sequence and signing capability. Its
// nonce is only ever advanced by NextNonce (an atomic fetch-and-add) or
// reset wholesale by SetNonce during failure recovery.
type Sender struct {
	ID        int
	accountID domain.AccountId
	Signer    domain.Signer
	nonce     atomic.Uint64
}

// NewSender creates a Sender bound to kp's account/signer, starting at
// startNonce (normally fetched from the node before the run begins).
func NewSender(id int, kp domain.KeyPair, startNonce domain.Nonce) *Sender {
	s := &Sender{ID: id, accountID: kp.AccountId, Signer: kp.Signer}
	s.nonce.Store(startNonce)
	return s
}

// AccountId returns the sender's account identity.
func (s *Sender) AccountId() domain.AccountId { return s.accountID }

// NextNonce atomically claims the next nonce for this sender and
// advances the counter, so concurrent submissions (if ever issued
// without waiting for the prior one) never reuse a nonce.
func (s *Sender) NextNonce() domain.Nonce {
	return s.nonce.Add(1) - 1
}

// CurrentNonce reads the sender's nonce without advancing it.
func (s *Sender) CurrentNonce() domain.Nonce {
	return s.nonce.Load()
}

// SetNonce overwrites the sender's nonce, used during failure recovery
// when the node reports a nonce mismatch and the sender must resync
// against the chain's view of its account.
func (s *Sender) SetNonce(n domain.Nonce) {
	s.nonce.Store(n)
}
