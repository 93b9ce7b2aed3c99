// Package domain holds the chain-agnostic data model shared by every
// component: account identities, nonces, transaction payloads, and the
// measurement types produced while a load test runs.
package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Chain selects which signing/account scheme a run uses. The two values
// are mutually exclusive and determine the concrete Signer and AccountId
// implementations the rest of the system is built against.
type Chain int

const (
	ChainPolkadot Chain = iota
	ChainEthereum
)

func (c Chain) String() string {
	switch c {
	case ChainPolkadot:
		return "polkadot"
	case ChainEthereum:
		return "ethereum"
	default:
		return "unknown"
	}
}

// ParseChain maps a configuration string onto a Chain value.
func ParseChain(s string) (Chain, error) {
	switch s {
	case "polkadot", "substrate", "sr25519":
		return ChainPolkadot, nil
	case "ethereum", "eth", "ecdsa":
		return ChainEthereum, nil
	default:
		return 0, fmt.Errorf("domain: %w: %q", ErrInvalidChain, s)
	}
}

// AccountId identifies a chain account. PolkadotAccountId wraps a 32-byte
// AccountId32; EthereumAccountId wraps a 20-byte Keccak-derived address.
// Both satisfy this interface so the rest of the system can stay
// chain-polymorphic.
type AccountId interface {
	fmt.Stringer
	Bytes() []byte
	Chain() Chain
}

// Nonce is a monotonically increasing per-account sequence number.
type Nonce = uint64

// KeyPair is the derivation result for a single account: its index in the
// requested batch, its AccountId, and an opaque Signer bound to the
// matching private key material.
type KeyPair struct {
	Index     int
	AccountId AccountId
	Signer    Signer
}

// Signer abstracts over the two supported signature schemes. Sign takes
// the exact bytes that must be hashed/signed per the scheme's rules (the
// Ethereum implementation hashes with Keccak-256 before signing; the
// Polkadot implementation signs the raw payload directly) and returns a
// scheme-specific signature encoding ready to embed in a transaction.
type Signer interface {
	AccountId() AccountId
	Sign(payload []byte) (Signature, error)
}

// Signature carries a signature together with the scheme that produced
// it, since the wire encoding differs (MultiSignature::Sr25519 wrapper vs.
// a raw 65-byte r||s||v encoding).
type Signature struct {
	Chain Chain
	Bytes []byte
}

// TransactionKind enumerates the extrinsic shapes the Transaction Builder
// can produce.
type TransactionKind int

const (
	KindSingleTransfer TransactionKind = iota
	KindBatchTransfer
	KindNftTransfer
	KindMarketplace
)

func (k TransactionKind) String() string {
	switch k {
	case KindSingleTransfer:
		return "single_transfer"
	case KindBatchTransfer:
		return "batch_transfer"
	case KindNftTransfer:
		return "nft_transfer"
	case KindMarketplace:
		return "marketplace"
	default:
		return "unknown"
	}
}

// TransactionPayload is a signed, ready-to-submit extrinsic together with
// the bookkeeping needed to correlate its submission with later
// inclusion/finalization.
type TransactionPayload struct {
	Kind      TransactionKind
	Sender    AccountId
	Nonce     Nonce
	Encoded   []byte
	Signature Signature
	BuiltAt   time.Time

	// BatchSize is the number of calls packed into the extrinsic: 1 for
	// single-call kinds, n for a batch of n transfers. The worker pool
	// scales its Sent accounting by it.
	BatchSize int
}

// BestBlockSlot identifies a single best or finalized block observed by
// the Node Client Adapter.
type BestBlockSlot struct {
	Number    uint64
	Hash      [32]byte
	Timestamp time.Time
	Finalized bool
}

// TpsWindow is a fixed-size rolling window of per-block transaction
// counts and block times, used to compute a smoothed transactions-per-
// second figure and drive early-stop detection.
type TpsWindow struct {
	Size       int
	blockTxs   []uint64
	blockMs    []uint64
	next       int
	filled     int
}

// NewTpsWindow creates a TpsWindow holding the last size blocks.
func NewTpsWindow(size int) *TpsWindow {
	if size <= 0 {
		size = 1
	}
	return &TpsWindow{
		Size:     size,
		blockTxs: make([]uint64, size),
		blockMs:  make([]uint64, size),
	}
}

// Push records one finalized block's transaction count and block time in
// milliseconds, evicting the oldest sample once the window is full.
func (w *TpsWindow) Push(txCount, blockTimeMs uint64) {
	w.blockTxs[w.next] = txCount
	w.blockMs[w.next] = blockTimeMs
	w.next = (w.next + 1) % w.Size
	if w.filled < w.Size {
		w.filled++
	}
}

// TPS returns the window's transactions-per-second: total transactions
// observed across the filled portion of the window divided by total
// elapsed block time. Returns 0 if no block time has been recorded yet.
func (w *TpsWindow) TPS() float64 {
	var totalTx, totalMs uint64
	for i := 0; i < w.filled; i++ {
		totalTx += w.blockTxs[i]
		totalMs += w.blockMs[i]
	}
	if totalMs == 0 {
		return 0
	}
	return float64(totalTx) / (float64(totalMs) / 1000.0)
}

// Full reports whether the window has accumulated Size samples.
func (w *TpsWindow) Full() bool {
	return w.filled == w.Size
}

// BackpressureCounters tracks submission/inclusion/failure counts for a
// single run using atomics, so the Worker Pool (which updates Sent,
// Failed, and InFlight as it submits) and the Decoder (which updates
// Included as it confirms transactions landed in a finalized block) can
// share one set of counters without a lock. The Worker Pool throttles
// new submissions once Sent-Included exceeds a configured backlog
// threshold.
type BackpressureCounters struct {
	sent     atomic.Uint64
	included atomic.Uint64
	failed   atomic.Uint64
	inFlight atomic.Uint64
}

func (c *BackpressureCounters) AddSent(n uint64)     { c.sent.Add(n) }
func (c *BackpressureCounters) AddIncluded(n uint64) { c.included.Add(n) }
func (c *BackpressureCounters) AddFailed(n uint64)   { c.failed.Add(n) }

func (c *BackpressureCounters) IncInFlight() { c.inFlight.Add(1) }
func (c *BackpressureCounters) DecInFlight() { c.inFlight.Add(^uint64(0)) }

func (c *BackpressureCounters) Sent() uint64     { return c.sent.Load() }
func (c *BackpressureCounters) Included() uint64 { return c.included.Load() }
func (c *BackpressureCounters) Failed() uint64   { return c.failed.Load() }
func (c *BackpressureCounters) InFlight() uint64 { return c.inFlight.Load() }

// Snapshot returns a point-in-time read of the counters.
func (c *BackpressureCounters) Snapshot() BackpressureSnapshot {
	return BackpressureSnapshot{
		InFlight: c.inFlight.Load(),
		Failed:   c.failed.Load(),
		Sent:     c.sent.Load(),
		Included: c.included.Load(),
	}
}

// BackpressureSnapshot is a point-in-time read of BackpressureCounters.
type BackpressureSnapshot struct {
	InFlight uint64
	Failed   uint64
	Sent     uint64
	Included uint64
}

// Sample is one windowed measurement emitted by the Supervisor to a
// SampleSink after each finalized block.
type Sample struct {
	RunID        string
	BlockNumber  uint64
	BlockTxCount uint64
	BlockTimeMs  uint64
	BlockTPS     float64
	WindowTPS    float64
	MaxTPS       float64
	TotalTxCount uint64
	ObservedAt   time.Time
}

// RunSummary is the final report persisted to the JSON sidecar and,
// optionally, to an archiver, once a run ends.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	Chain         string    `json:"chain"`
	Senders       int       `json:"senders"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	TotalTxCount  uint64    `json:"total_tx_count"`
	MaxTPS        float64   `json:"max_tps"`
	AverageTPS    float64   `json:"average_tps"`
	StoppedEarly  bool      `json:"stopped_early"`
	StopReason    string    `json:"stop_reason,omitempty"`
	BlocksSampled uint64    `json:"blocks_sampled"`
	ReachedExpectedTotal bool `json:"reached_expected_total,omitempty"`
}
