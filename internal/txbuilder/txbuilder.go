// Package txbuilder constructs signed, SCALE-encoded extrinsics for every
// transaction kind the system supports: single transfers, batch
// transfers, NFT mint/transfer stages, and marketplace listing/buy calls.
package txbuilder

import (
	"fmt"
	"time"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
)

// PalletCall identifies one runtime call by its pallet and call index,
// the unit the decoder's counted-calls configuration is expressed in.
// These index values are the conventional ones for the reference runtime
// this tool targets; callers targeting a different runtime pass their
// own counted set through decoder.Config. txbuilder.Config has no
// call-index fields: the builder always encodes the package variables.
type PalletCall struct {
	Pallet byte
	Call   byte
}

var (
	CallBalancesTransferKeepAlive = PalletCall{Pallet: 5, Call: 3}
	CallUtilityBatchAll           = PalletCall{Pallet: 26, Call: 2}
	CallTimestampSet              = PalletCall{Pallet: 3, Call: 0}
	CallNftsCreate                = PalletCall{Pallet: 40, Call: 0}
	CallNftsMint                  = PalletCall{Pallet: 40, Call: 3}
	CallNftsTransfer              = PalletCall{Pallet: 40, Call: 6}
	CallMarketplaceCreateOrder    = PalletCall{Pallet: 50, Call: 0}
)

// PalletEvent identifies one runtime event by its pallet and variant
// index, the event-side counterpart of PalletCall and the same
// reference-runtime convention (illustrative indices, overridable by a
// caller targeting a different runtime's metadata). internal/decoder
// matches these against the events it pulls out of System.Events to
// confirm a transfer actually landed, rather than trusting that a
// submitted extrinsic succeeded.
type PalletEvent struct {
	Pallet  byte
	Variant byte
}

var (
	EventBalancesTransfer = PalletEvent{Pallet: 5, Variant: 2}
	EventNftsCreated      = PalletEvent{Pallet: 40, Variant: 0}
	EventNftsIssued       = PalletEvent{Pallet: 40, Variant: 2}
)

// Config parameterizes a Builder: the transfer amount to use, which
// chain-specific address tag to embed in the signed extrinsic envelope,
// and the designated fee signer whose off-chain signature marketplace
// orders carry.
type Config struct {
	Chain          domain.Chain
	TransferAmount uint64 // defaults to 1, the existential-deposit fallback

	// FeeSigner attests marketplace orders off-chain; required only for
	// BuildMarketplaceOrder.
	FeeSigner domain.Signer
}

// Builder produces signed extrinsics for one chain/config combination.
// It has no mutable state of its own; every Build call is independent,
// which is what lets the worker pool call it concurrently from multiple
// sender goroutines.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	if cfg.TransferAmount == 0 {
		cfg.TransferAmount = 1
	}
	return &Builder{cfg: cfg}
}

// BuildSingleTransfer constructs a Balances.transfer_keep_alive extrinsic
// from sender to recipient at the given nonce.
func (b *Builder) BuildSingleTransfer(signer domain.Signer, nonce domain.Nonce, recipient domain.AccountId) (domain.TransactionPayload, error) {
	call := append([]byte{CallBalancesTransferKeepAlive.Pallet, CallBalancesTransferKeepAlive.Call}, encodeAccountId(recipient)...)
	call = append(call, nodeclient.EncodeU128(b.cfg.TransferAmount)...)
	return b.sign(signer, nonce, domain.KindSingleTransfer, call, 1)
}

// BuildBatchTransfer constructs a Utility.batch_all extrinsic wrapping
// one Balances.transfer_keep_alive call per recipient.
func (b *Builder) BuildBatchTransfer(signer domain.Signer, nonce domain.Nonce, recipients []domain.AccountId) (domain.TransactionPayload, error) {
	if len(recipients) < 2 {
		return domain.TransactionPayload{}, fmt.Errorf("txbuilder: batch transfer requires at least 2 recipients, got %d", len(recipients))
	}

	body := nodeclient.EncodeCompact(uint64(len(recipients)))
	for _, r := range recipients {
		inner := append([]byte{CallBalancesTransferKeepAlive.Pallet, CallBalancesTransferKeepAlive.Call}, encodeAccountId(r)...)
		inner = append(inner, nodeclient.EncodeU128(b.cfg.TransferAmount)...)
		body = append(body, nodeclient.EncodeBytesWithLength(inner)...)
	}

	call := append([]byte{CallUtilityBatchAll.Pallet, CallUtilityBatchAll.Call}, body...)
	return b.sign(signer, nonce, domain.KindBatchTransfer, call, len(recipients))
}

// NftStage enumerates the three extrinsics the NFT flow submits per
// sender, consuming three consecutive nonces.
type NftStage int

const (
	NftStageCreate NftStage = iota
	NftStageMint
	NftStageTransfer
)

// BuildNftTransfer constructs the extrinsic for one stage of the NFT
// mint/transfer flow (create collection -> mint -> transfer to
// recipient), each call consuming the next sequential nonce.
func (b *Builder) BuildNftTransfer(signer domain.Signer, nonce domain.Nonce, stage NftStage, collectionID uint32, recipient domain.AccountId) (domain.TransactionPayload, error) {
	var call []byte
	switch stage {
	case NftStageCreate:
		call = append([]byte{CallNftsCreate.Pallet, CallNftsCreate.Call}, encodeAccountId(signer.AccountId())...)
	case NftStageMint:
		call = append([]byte{CallNftsMint.Pallet, CallNftsMint.Call}, nodeclient.EncodeU32(collectionID)...)
		call = append(call, encodeAccountId(signer.AccountId())...)
	case NftStageTransfer:
		call = append([]byte{CallNftsTransfer.Pallet, CallNftsTransfer.Call}, nodeclient.EncodeU32(collectionID)...)
		call = append(call, encodeAccountId(recipient)...)
	default:
		return domain.TransactionPayload{}, fmt.Errorf("txbuilder: unknown nft stage %d", stage)
	}
	return b.sign(signer, nonce, domain.KindNftTransfer, call, 1)
}

// OrderSide selects whether a marketplace order sells (Ask) or buys
// (Bid) the named item.
type OrderSide byte

const (
	OrderSideAsk OrderSide = iota
	OrderSideBid
)

// OrderExecution selects how the chain treats an order with no
// immediate match: AllowCreation stores it in the order book, Force
// rejects it unless it executes at once.
type OrderExecution byte

const (
	ExecutionAllowCreation OrderExecution = iota
	ExecutionForce
)

// MarketplaceOrder describes one Marketplace.create_order call. The
// escrow agent is always None. NonceStr deduplicates otherwise
// identical orders; callers must keep it unique per (signer, nonce).
type MarketplaceOrder struct {
	Side       OrderSide
	Collection uint32
	Item       uint32
	Price      uint64
	ExpiresAt  uint32 // block number; 0 means no expiry
	Fee        uint64
	NonceStr   string
}

// OrderMessage is the SCALE encoding of the order fields the fee signer
// attests to off-chain: collection, item, price, expires_at, fee, the
// always-None escrow agent, and the dedup nonce string. The pallet
// recomputes this message to verify the embedded signature.
func OrderMessage(o MarketplaceOrder) []byte {
	msg := nodeclient.EncodeU32(o.Collection)
	msg = append(msg, nodeclient.EncodeU32(o.Item)...)
	msg = append(msg, nodeclient.EncodeU128(o.Price)...)
	msg = append(msg, nodeclient.EncodeU32(o.ExpiresAt)...)
	msg = append(msg, nodeclient.EncodeU128(o.Fee)...)
	msg = append(msg, 0x00) // escrow_agent: None
	msg = append(msg, nodeclient.EncodeBytesWithLength([]byte(o.NonceStr))...)
	return msg
}

// BuildMarketplaceOrder constructs a Marketplace.create_order extrinsic:
// the order struct (side, collection, item, price, expires_at, fee, an
// always-None escrow agent, and signature_data carrying the configured
// fee signer's off-chain signature over OrderMessage plus the dedup
// nonce string) followed by the execution mode. A zero Price falls back
// to the configured transfer amount.
func (b *Builder) BuildMarketplaceOrder(signer domain.Signer, nonce domain.Nonce, order MarketplaceOrder, execution OrderExecution) (domain.TransactionPayload, error) {
	if b.cfg.FeeSigner == nil {
		return domain.TransactionPayload{}, fmt.Errorf("txbuilder: marketplace order requires a fee signer")
	}
	if order.Price == 0 {
		order.Price = b.cfg.TransferAmount
	}

	feeSig, err := b.cfg.FeeSigner.Sign(OrderMessage(order))
	if err != nil {
		return domain.TransactionPayload{}, fmt.Errorf("txbuilder: fee signer: %w", err)
	}

	call := []byte{CallMarketplaceCreateOrder.Pallet, CallMarketplaceCreateOrder.Call}
	call = append(call, byte(order.Side))
	call = append(call, nodeclient.EncodeU32(order.Collection)...)
	call = append(call, nodeclient.EncodeU32(order.Item)...)
	call = append(call, nodeclient.EncodeU128(order.Price)...)
	call = append(call, nodeclient.EncodeU32(order.ExpiresAt)...)
	call = append(call, nodeclient.EncodeU128(order.Fee)...)
	call = append(call, 0x00) // escrow_agent: None
	call = append(call, nodeclient.EncodeBytesWithLength(feeSig.Bytes)...)
	call = append(call, nodeclient.EncodeBytesWithLength([]byte(order.NonceStr))...)
	call = append(call, byte(execution))
	return b.sign(signer, nonce, domain.KindMarketplace, call, 1)
}

// sign wraps a call payload in the signed-extrinsic envelope: version
// byte, sender address, signature, an immortal era, nonce, and a zero
// tip, then signs the call bytes with signer. calls is the number of
// inner calls the extrinsic carries, recorded for Sent accounting. This
// is a simplified envelope relative to a real runtime's SignedExtra set
// (it omits transaction-payment-asset-id-style extensions a specific
// runtime might add) but is internally consistent between this builder
// and internal/decoder, which is what end-to-end measurement needs.
func (b *Builder) sign(signer domain.Signer, nonce domain.Nonce, kind domain.TransactionKind, call []byte, calls int) (domain.TransactionPayload, error) {
	sig, err := signer.Sign(call)
	if err != nil {
		return domain.TransactionPayload{}, fmt.Errorf("txbuilder: sign: %w", err)
	}

	const versionSigned = 0x80 | 4
	env := []byte{versionSigned}
	env = append(env, addressTag(b.cfg.Chain))
	env = append(env, encodeAccountId(signer.AccountId())...)
	env = append(env, signatureTag(sig.Chain))
	env = append(env, sig.Bytes...)
	env = append(env, 0x00) // immortal era
	env = append(env, nodeclient.EncodeCompact(nonce)...)
	env = append(env, nodeclient.EncodeCompact(0)...) // tip
	env = append(env, call...)

	return domain.TransactionPayload{
		Kind:      kind,
		Sender:    signer.AccountId(),
		Nonce:     nonce,
		Encoded:   env,
		Signature: sig,
		BuiltAt:   time.Now(),
		BatchSize: calls,
	}, nil
}

func addressTag(c domain.Chain) byte {
	if c == domain.ChainEthereum {
		return 0x01
	}
	return 0x00
}

func signatureTag(c domain.Chain) byte {
	if c == domain.ChainEthereum {
		return 0x02
	}
	return 0x01
}

func encodeAccountId(a domain.AccountId) []byte {
	return a.Bytes()
}
