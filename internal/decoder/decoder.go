// Package decoder turns raw finalized-block extrinsics and events into
// the measurement signal the Supervisor needs: a per-block transaction
// count and block time, fed into a rolling TPS window.
package decoder

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
	"github.com/paritytech/stps-go/internal/signing"
	"github.com/paritytech/stps-go/internal/txbuilder"
)

// Config selects which pallet/call pairs count toward the measured
// transaction rate purely from being present in a block, the early-stop
// sensitivity relative to the run's target TPS, and the default block
// time applied to the first observed block.
type Config struct {
	// CountedCalls are extrinsics counted as one transaction simply by
	// being present in a block, because no confirmation event is
	// modeled for them; today that's Nfts.transfer. Balances transfers
	// (single or batched) are counted instead via the Balances.Transfer
	// event below, since a submitted transfer extrinsic can still fail
	// or revert and an extrinsic-only count would overstate throughput.
	CountedCalls []txbuilder.PalletCall

	WindowSize int // rolling TPS window, in blocks

	// EarlyStopFraction is the fraction of TPSTarget the rolling window
	// average must fall below, once the window is full, to trigger an
	// early stop (e.g. 0.25 means "average < tps_target/4").
	EarlyStopFraction float64
	TPSTarget         int

	// DefaultBlockTimeMs is used as the block time for the first
	// observed block, when there is no prior timestamp to diff against.
	DefaultBlockTimeMs uint64

	// Counters, if set, receives an Included bump for every transaction
	// this decoder confirms, so the Worker Pool's backlog throttle
	// (Sent-Included) has real inclusion data to throttle against.
	Counters *domain.BackpressureCounters
}

// DefaultConfig counts Nfts.transfer extrinsics directly, uses a
// 12-block window, a quarter of tps_target as the early-stop floor, and
// a 6-second default block time.
func DefaultConfig() Config {
	return Config{
		CountedCalls: []txbuilder.PalletCall{
			txbuilder.CallNftsTransfer,
		},
		WindowSize:         12,
		EarlyStopFraction:  0.25,
		DefaultBlockTimeMs: 6000,
	}
}

// NftCreated is delivered when an Nfts.Created event names owner as the
// collection's creator, letting the NFT flow's mint phase learn the
// collection id the chain assigned.
type NftCreated struct {
	CollectionID uint32
	Owner        domain.AccountId
}

// NftIssued is delivered when an Nfts.Issued event confirms a mint for
// CollectionID landed, letting the NFT flow proceed to its transfer
// phase.
type NftIssued struct {
	CollectionID uint32
}

// Decoder accumulates block-by-block measurements into a TpsWindow,
// tracks the running maximum TPS observed (reporting only; early-stop
// compares against TPSTarget, not this max), and fans out NFT
// create/mint confirmation events to whichever goroutine is waiting on
// them.
type Decoder struct {
	cfg    Config
	logger *slog.Logger
	window *domain.TpsWindow
	maxTPS float64

	haveBlock   bool
	prevBlockMs uint64
	totalTxs    uint64

	nftMu      sync.Mutex
	nftCreated map[string]chan NftCreated
	nftIssued  map[uint32]chan NftIssued
}

func New(cfg Config, logger *slog.Logger) *Decoder {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 12
	}
	if cfg.DefaultBlockTimeMs == 0 {
		cfg.DefaultBlockTimeMs = 6000
	}
	if cfg.EarlyStopFraction <= 0 {
		cfg.EarlyStopFraction = 0.25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "decoder")),
		window:     domain.NewTpsWindow(cfg.WindowSize),
		nftCreated: make(map[string]chan NftCreated),
		nftIssued:  make(map[uint32]chan NftIssued),
	}
}

// Result is what DecodeBlock reports for one finalized block.
type Result struct {
	Sample     domain.Sample
	ShouldStop bool
	StopReason string
}

// DecodeBlock counts the transactions confirmed in body (extrinsics
// matching a configured always-counted call, plus events confirming a
// transfer landed), derives a block time from the gap between
// consecutive block timestamps (extracted from each block's
// Timestamp.set inherent, falling back to the configured default on the
// first block), pushes the measurement into the rolling window, and
// evaluates the early-stop condition against the run's target TPS.
func (d *Decoder) DecodeBlock(runID string, body nodeclient.BlockBody, observedAt uint64) (Result, error) {
	var txCount uint64
	var blockTimestampMs uint64
	sawTimestamp := false

	for _, raw := range body.Extrinsics {
		pallet, call, args, err := decodeCallIndex(raw)
		if err != nil {
			continue // not every extrinsic need be decodable (e.g. unknown inherents)
		}

		if pallet == txbuilder.CallTimestampSet.Pallet && call == txbuilder.CallTimestampSet.Call {
			ts, ok := decodeTimestampArg(args)
			if ok {
				blockTimestampMs = ts
				sawTimestamp = true
			}
			continue
		}

		if d.isCounted(pallet, call) {
			txCount++
		}
	}

	for _, raw := range body.Events {
		pallet, variant, args, err := decodeEventIndex(raw)
		if err != nil {
			continue
		}
		switch {
		case pallet == txbuilder.EventBalancesTransfer.Pallet && variant == txbuilder.EventBalancesTransfer.Variant:
			txCount++
		case pallet == txbuilder.EventNftsCreated.Pallet && variant == txbuilder.EventNftsCreated.Variant:
			d.dispatchNftCreated(args)
		case pallet == txbuilder.EventNftsIssued.Pallet && variant == txbuilder.EventNftsIssued.Variant:
			d.dispatchNftIssued(args)
		}
	}

	if !sawTimestamp {
		blockTimestampMs = observedAt
	}

	var blockTimeMs uint64
	switch {
	case !d.haveBlock:
		blockTimeMs = d.cfg.DefaultBlockTimeMs
	case blockTimestampMs > d.prevBlockMs:
		blockTimeMs = blockTimestampMs - d.prevBlockMs
	}
	d.prevBlockMs = blockTimestampMs
	d.haveBlock = true

	d.totalTxs += txCount
	if blockTimeMs > 0 {
		d.window.Push(txCount, blockTimeMs)
	}
	if d.cfg.Counters != nil {
		d.cfg.Counters.AddIncluded(txCount)
	}

	blockTPS := 0.0
	if blockTimeMs > 0 {
		blockTPS = float64(txCount) / float64(blockTimeMs) * 1000
	}

	windowTPS := d.window.TPS()
	if windowTPS > d.maxTPS {
		d.maxTPS = windowTPS
	}

	sample := domain.Sample{
		RunID:        runID,
		BlockNumber:  body.Number,
		BlockTxCount: txCount,
		BlockTimeMs:  blockTimeMs,
		BlockTPS:     blockTPS,
		WindowTPS:    windowTPS,
		MaxTPS:       d.maxTPS,
		TotalTxCount: d.totalTxs,
		ObservedAt:   time.Now(),
	}

	result := Result{Sample: sample}
	if d.window.Full() && d.cfg.TPSTarget > 0 {
		threshold := float64(d.cfg.TPSTarget) * d.cfg.EarlyStopFraction
		if windowTPS < threshold {
			result.ShouldStop = true
			result.StopReason = fmt.Sprintf("window TPS %.2f fell below %.0f%% of target TPS %d (%.2f)",
				windowTPS, d.cfg.EarlyStopFraction*100, d.cfg.TPSTarget, threshold)
		}
	}

	return result, nil
}

// MaxTPS returns the running maximum window TPS observed so far.
func (d *Decoder) MaxTPS() float64 { return d.maxTPS }

// TotalTxCount returns the cumulative counted-transaction total.
func (d *Decoder) TotalTxCount() uint64 { return d.totalTxs }

// AwaitNftCreated registers interest in the Nfts.Created event naming
// owner as the collection creator and returns a channel that receives
// it once decoded. The registration is consumed on delivery; call this
// again to wait for a second event.
func (d *Decoder) AwaitNftCreated(owner domain.AccountId) <-chan NftCreated {
	ch := make(chan NftCreated, 1)
	d.nftMu.Lock()
	d.nftCreated[owner.String()] = ch
	d.nftMu.Unlock()
	return ch
}

// AwaitNftIssued registers interest in the Nfts.Issued event for
// collectionID and returns a channel that receives it once decoded.
func (d *Decoder) AwaitNftIssued(collectionID uint32) <-chan NftIssued {
	ch := make(chan NftIssued, 1)
	d.nftMu.Lock()
	d.nftIssued[collectionID] = ch
	d.nftMu.Unlock()
	return ch
}

func (d *Decoder) dispatchNftCreated(args []byte) {
	if len(args) < 4 {
		return
	}
	collectionID := binary.LittleEndian.Uint32(args[:4])
	ownerBytes, _, err := nodeclient.DecodeBytesWithLength(args[4:])
	if err != nil {
		return
	}
	owner, err := signing.DecodeAccountId(ownerBytes)
	if err != nil {
		return
	}

	d.nftMu.Lock()
	ch, ok := d.nftCreated[owner.String()]
	if ok {
		delete(d.nftCreated, owner.String())
	}
	d.nftMu.Unlock()

	if ok {
		select {
		case ch <- NftCreated{CollectionID: collectionID, Owner: owner}:
		default:
		}
	}
}

func (d *Decoder) dispatchNftIssued(args []byte) {
	if len(args) < 4 {
		return
	}
	collectionID := binary.LittleEndian.Uint32(args[:4])

	d.nftMu.Lock()
	ch, ok := d.nftIssued[collectionID]
	if ok {
		delete(d.nftIssued, collectionID)
	}
	d.nftMu.Unlock()

	if ok {
		select {
		case ch <- NftIssued{CollectionID: collectionID}:
		default:
		}
	}
}

func (d *Decoder) isCounted(pallet, call byte) bool {
	for _, pc := range d.cfg.CountedCalls {
		if pc.Pallet == pallet && pc.Call == call {
			return true
		}
	}
	return false
}

// decodeCallIndex strips the signed-extrinsic envelope internal/txbuilder
// writes (version byte, address, signature, era, nonce, tip) and returns
// the pallet index, call index, and remaining call-argument bytes. It
// also accepts a bare unsigned call (no envelope), which is how
// Timestamp.set is submitted as an inherent by block producers.
func decodeCallIndex(raw []byte) (pallet, call byte, args []byte, err error) {
	if len(raw) < 2 {
		return 0, 0, nil, fmt.Errorf("decoder: extrinsic too short")
	}

	version := raw[0]
	signed := version&0x80 != 0
	if !signed {
		// Bare call: version byte, then pallet/call index directly.
		if len(raw) < 3 {
			return 0, 0, nil, fmt.Errorf("decoder: unsigned extrinsic too short")
		}
		return raw[1], raw[2], raw[3:], nil
	}

	i := 1
	if i >= len(raw) {
		return 0, 0, nil, fmt.Errorf("decoder: truncated address tag")
	}
	addrTag := raw[i]
	i++
	addrLen := 32
	if addrTag == 0x01 {
		addrLen = 20
	}
	i += addrLen
	if i >= len(raw) {
		return 0, 0, nil, fmt.Errorf("decoder: truncated signature tag")
	}

	sigTag := raw[i]
	i++
	sigLen := 64
	if sigTag == 0x02 {
		sigLen = 65
	}
	i += sigLen
	if i >= len(raw) {
		return 0, 0, nil, fmt.Errorf("decoder: truncated era")
	}

	i++ // immortal era, single byte

	nonce, n, err := nodeclient.DecodeCompact(raw[i:])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decoder: nonce: %w", err)
	}
	_ = nonce
	i += n

	_, n, err = nodeclient.DecodeCompact(raw[i:])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("decoder: tip: %w", err)
	}
	i += n

	if i+2 > len(raw) {
		return 0, 0, nil, fmt.Errorf("decoder: truncated call index")
	}
	return raw[i], raw[i+1], raw[i+2:], nil
}

// decodeTimestampArg reads the compact-encoded millisecond timestamp
// Timestamp.set carries as its sole argument.
func decodeTimestampArg(args []byte) (uint64, bool) {
	ts, _, err := nodeclient.DecodeCompact(args)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// decodeEventIndex reads an event blob's pallet byte, variant byte, and
// remaining argument bytes. Unlike decodeCallIndex, events carry no
// signed envelope to strip; each blob is already exactly one event
// (see nodeclient.WSClient.fetchEvents).
func decodeEventIndex(raw []byte) (pallet, variant byte, args []byte, err error) {
	if len(raw) < 2 {
		return 0, 0, nil, fmt.Errorf("decoder: event too short")
	}
	return raw[0], raw[1], raw[2:], nil
}
