// Package seeder implements the optional one-shot pre-funding step run
// before measurement begins. It is not required: callers that already
// have funded accounts (via an upstream chain-spec generator or a prior
// seeding run) never construct one.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
	"github.com/paritytech/stps-go/internal/txbuilder"
)

// Seeder funds a set of accounts from a faucet account before a load
// test starts. It does not read account balances: every account it is
// given receives one transfer of the builder's configured amount.
type Seeder struct {
	node    nodeclient.NodeClient
	builder *txbuilder.Builder
	faucet  domain.Signer
	logger  *slog.Logger
}

// New creates a Seeder that funds accounts from faucet's account using
// builder to construct the transfer extrinsics.
func New(node nodeclient.NodeClient, builder *txbuilder.Builder, faucet domain.Signer, logger *slog.Logger) *Seeder {
	return &Seeder{
		node:    node,
		builder: builder,
		faucet:  faucet,
		logger:  logger.With(slog.String("component", "seeder")),
	}
}

// inclusionTimeout bounds how long the seeder waits for its sentinel
// funding transfer to land in a block before giving up.
const inclusionTimeout = 2 * time.Minute

// EnsureFunded submits one TransferKeepAlive from the faucet account to
// every account in accounts, advancing the faucet's nonce once per
// submission. The last transfer is submitted through the node's
// submit-and-watch stream and awaited to inclusion: faucet nonces are
// strictly sequential, so once the final transfer is in a block every
// earlier one has been decided too. minBalance is only logged; it is not
// compared against any balance and does not set the transfer amount.
func (s *Seeder) EnsureFunded(ctx context.Context, accounts []domain.AccountId, minBalance uint64) error {
	if len(accounts) == 0 {
		return nil
	}

	nonce, err := s.node.AccountNonce(ctx, s.faucet.AccountId())
	if err != nil {
		return fmt.Errorf("seeder: fetch faucet nonce: %w", err)
	}

	s.logger.InfoContext(ctx, "seeding accounts",
		slog.Int("count", len(accounts)),
		slog.Uint64("min_balance", minBalance),
	)

	last := len(accounts) - 1
	for i, acc := range accounts[:last] {
		tx, err := s.builder.BuildSingleTransfer(s.faucet, nonce+uint64(i), acc)
		if err != nil {
			return fmt.Errorf("seeder: build transfer %d: %w", i, err)
		}
		if _, err := s.node.SubmitExtrinsic(ctx, tx.Encoded); err != nil {
			return fmt.Errorf("seeder: submit transfer %d: %w", i, err)
		}
	}

	tx, err := s.builder.BuildSingleTransfer(s.faucet, nonce+uint64(last), accounts[last])
	if err != nil {
		return fmt.Errorf("seeder: build transfer %d: %w", last, err)
	}
	statuses, err := s.node.SubmitAndWatch(ctx, tx.Encoded)
	if err != nil {
		return fmt.Errorf("seeder: submit transfer %d: %w", last, err)
	}

	s.logger.InfoContext(ctx, "seeding submitted, waiting for inclusion")
	deadline := time.After(inclusionTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("seeder: timed out waiting for funding inclusion")
		case status, ok := <-statuses:
			if !ok {
				return fmt.Errorf("seeder: watch stream ended before inclusion")
			}
			switch status.Kind {
			case nodeclient.StatusInBlock, nodeclient.StatusFinalized:
				s.logger.InfoContext(ctx, "funding transfers included")
				return nil
			case nodeclient.StatusInvalid, nodeclient.StatusDropped, nodeclient.StatusError:
				return fmt.Errorf("seeder: funding transfer rejected by node")
			}
		}
	}
}
