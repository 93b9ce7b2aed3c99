package nodeclient

import (
	"context"

	"github.com/paritytech/stps-go/internal/domain"
)

// NodeClient is the opaque capability the rest of the system consumes to
// talk to a chain node. Core never constructs raw RPC requests directly;
// everything funnels through this interface so the worker pool,
// supervisor, and decoder stay transport-agnostic. The concrete
// implementation in this package is a JSON-RPC-over-WebSocket adapter,
// but a test double or an HTTP-polling implementation could satisfy the
// same interface.
type NodeClient interface {
	// AccountNonce fetches the current nonce for account from the node's
	// System.Account storage, read against the chain's current best
	// block.
	AccountNonce(ctx context.Context, account domain.AccountId) (domain.Nonce, error)

	// SubmitExtrinsic submits an already-signed, SCALE-encoded extrinsic
	// and returns its transaction hash. It does not wait for inclusion.
	SubmitExtrinsic(ctx context.Context, encoded []byte) ([32]byte, error)

	// SubmitAndWatch submits a signed extrinsic and streams its lifecycle
	// statuses (Ready, Broadcast, InBlock, Finalized, ...) until a
	// terminal status arrives or ctx is cancelled. The worker pool's hot
	// path uses SubmitExtrinsic instead; this is for flows that need to
	// confirm a specific submission (seeding, diagnostics).
	SubmitAndWatch(ctx context.Context, encoded []byte) (<-chan SubmissionStatus, error)

	// GenesisHash returns the chain's genesis block hash, a stable
	// identity check for the node the client is pointed at.
	GenesisHash(ctx context.Context) ([32]byte, error)

	// SubscribeBestBlocks streams best-block head notifications until ctx
	// is cancelled or the client is closed, at which point the returned
	// channel is closed.
	SubscribeBestBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error)

	// SubscribeFinalizedBlocks streams finalized-block head notifications,
	// the feed the Measurement Engine decodes.
	SubscribeFinalizedBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error)

	// BlockExtrinsics fetches the raw SCALE-encoded extrinsics and events
	// for a given block hash, for the decoder to parse.
	BlockExtrinsics(ctx context.Context, blockHash [32]byte) (BlockBody, error)

	// Close releases the underlying transport.
	Close() error
}

// SubmissionStatus is one transaction-status notification from the
// node's submit-and-watch stream. Terminal statuses end the stream.
type SubmissionStatus struct {
	Kind     SubmissionStatusKind
	Block    [32]byte // set for InBlock/Finalized
	Terminal bool
}

// SubmissionStatusKind enumerates the node's transaction status variants.
type SubmissionStatusKind int

const (
	StatusFuture SubmissionStatusKind = iota
	StatusReady
	StatusBroadcast
	StatusInBlock
	StatusFinalized
	StatusInvalid
	StatusDropped
	StatusError
)

// BlockBody is the raw material the decoder needs for one block: its
// extrinsics (still SCALE-encoded, pallet/call index plus call data) and
// its events. The block's timestamp is not a field here; the decoder
// reads it out of the Timestamp.set inherent among the extrinsics.
type BlockBody struct {
	Number     uint64
	Hash       [32]byte
	Extrinsics [][]byte
	// Events holds the block's System.Events record, one entry per
	// event, each still in the wire layout internal/decoder parses
	// (pallet byte, variant byte, then event-specific args). Nil when
	// the node didn't return an events entry for this block.
	Events [][]byte
}
