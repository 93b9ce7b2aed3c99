package txbuilder

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
	"github.com/paritytech/stps-go/internal/signing"
)

func mustEthSigner(t *testing.T, seed byte) domain.Signer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = seed
	}
	key[31] ^= 0x01
	s, err := signing.NewEthereumSigner(key)
	if err != nil {
		t.Fatalf("NewEthereumSigner: %v", err)
	}
	return s
}

func mustPolkadotSigner(t *testing.T, seed byte) domain.Signer {
	t.Helper()
	var raw [32]byte
	raw[0] = seed
	s, err := signing.NewPolkadotSigner(raw)
	if err != nil {
		t.Fatalf("NewPolkadotSigner: %v", err)
	}
	return s
}

func TestSingleTransferEnvelope(t *testing.T) {
	b := NewBuilder(Config{Chain: domain.ChainEthereum, TransferAmount: 42})
	signer := mustEthSigner(t, 1)
	recipient := mustEthSigner(t, 2).AccountId()

	tx, err := b.BuildSingleTransfer(signer, 9, recipient)
	if err != nil {
		t.Fatalf("BuildSingleTransfer: %v", err)
	}

	if tx.Kind != domain.KindSingleTransfer {
		t.Errorf("Kind = %v, want KindSingleTransfer", tx.Kind)
	}
	if tx.Nonce != 9 {
		t.Errorf("Nonce = %d, want 9", tx.Nonce)
	}
	if tx.Sender.String() != signer.AccountId().String() {
		t.Errorf("Sender = %s, want %s", tx.Sender, signer.AccountId())
	}

	enc := tx.Encoded
	if enc[0] != 0x80|4 {
		t.Errorf("version byte = %#x, want signed v4 (0x84)", enc[0])
	}
	if enc[1] != 0x01 {
		t.Errorf("address tag = %#x, want 0x01 (ethereum H160)", enc[1])
	}
	if !bytes.Equal(enc[2:22], signer.AccountId().Bytes()) {
		t.Error("envelope does not carry the sender's 20-byte address")
	}
	if enc[22] != 0x02 {
		t.Errorf("signature tag = %#x, want 0x02 (ecdsa)", enc[22])
	}
	// 65-byte signature, immortal era, compact nonce 9, compact tip 0,
	// then the call itself.
	call := enc[22+1+65+1+1+1:]
	if call[0] != CallBalancesTransferKeepAlive.Pallet || call[1] != CallBalancesTransferKeepAlive.Call {
		t.Errorf("call index = %d/%d, want Balances.transfer_keep_alive", call[0], call[1])
	}
	if !bytes.Equal(call[2:22], recipient.Bytes()) {
		t.Error("call does not carry the recipient address")
	}
	if !bytes.Equal(call[22:38], nodeclient.EncodeU128(42)) {
		t.Error("call does not carry the configured transfer amount")
	}
}

func TestPolkadotEnvelopeUsesSr25519Tags(t *testing.T) {
	b := NewBuilder(Config{Chain: domain.ChainPolkadot})
	signer := mustPolkadotSigner(t, 1)
	recipient := mustPolkadotSigner(t, 2).AccountId()

	tx, err := b.BuildSingleTransfer(signer, 0, recipient)
	if err != nil {
		t.Fatalf("BuildSingleTransfer: %v", err)
	}

	enc := tx.Encoded
	if enc[1] != 0x00 {
		t.Errorf("address tag = %#x, want 0x00 (AccountId32)", enc[1])
	}
	if !bytes.Equal(enc[2:34], signer.AccountId().Bytes()) {
		t.Error("envelope does not carry the sender's 32-byte account id")
	}
	if enc[34] != 0x01 {
		t.Errorf("signature tag = %#x, want 0x01 (sr25519)", enc[34])
	}
	if len(tx.Signature.Bytes) != 64 {
		t.Errorf("signature length = %d, want 64", len(tx.Signature.Bytes))
	}
}

func TestBatchTransferRejectsFewerThanTwoRecipients(t *testing.T) {
	b := NewBuilder(Config{Chain: domain.ChainEthereum})
	signer := mustEthSigner(t, 1)

	if _, err := b.BuildBatchTransfer(signer, 0, []domain.AccountId{signer.AccountId()}); err == nil {
		t.Fatal("expected error for a batch of 1")
	}
}

func TestBatchTransferWrapsOneCallPerRecipient(t *testing.T) {
	b := NewBuilder(Config{Chain: domain.ChainEthereum, TransferAmount: 1})
	signer := mustEthSigner(t, 1)
	recipients := []domain.AccountId{
		mustEthSigner(t, 2).AccountId(),
		mustEthSigner(t, 3).AccountId(),
		mustEthSigner(t, 4).AccountId(),
	}

	tx, err := b.BuildBatchTransfer(signer, 0, recipients)
	if err != nil {
		t.Fatalf("BuildBatchTransfer: %v", err)
	}
	if tx.Kind != domain.KindBatchTransfer {
		t.Errorf("Kind = %v, want KindBatchTransfer", tx.Kind)
	}

	// Past the envelope (version, tag+20-byte address, tag+65-byte
	// signature, era, nonce, tip) sits Utility.batch_all and a compact
	// count of the inner calls.
	call := tx.Encoded[1+21+66+1+1+1:]
	if call[0] != CallUtilityBatchAll.Pallet || call[1] != CallUtilityBatchAll.Call {
		t.Errorf("call index = %d/%d, want Utility.batch_all", call[0], call[1])
	}
	count, _, err := nodeclient.DecodeCompact(call[2:])
	if err != nil {
		t.Fatalf("decode inner-call count: %v", err)
	}
	if count != 3 {
		t.Errorf("inner call count = %d, want 3", count)
	}
}

func TestNftStagesUseDistinctCalls(t *testing.T) {
	b := NewBuilder(Config{Chain: domain.ChainEthereum})
	signer := mustEthSigner(t, 1)
	recipient := mustEthSigner(t, 2).AccountId()

	stages := []struct {
		stage NftStage
		want  PalletCall
	}{
		{NftStageCreate, CallNftsCreate},
		{NftStageMint, CallNftsMint},
		{NftStageTransfer, CallNftsTransfer},
	}
	for _, tc := range stages {
		tx, err := b.BuildNftTransfer(signer, 0, tc.stage, 7, recipient)
		if err != nil {
			t.Fatalf("stage %v: %v", tc.stage, err)
		}
		call := tx.Encoded[1+21+66+1+1+1:]
		if call[0] != tc.want.Pallet || call[1] != tc.want.Call {
			t.Errorf("stage %v: call index = %d/%d, want %d/%d", tc.stage, call[0], call[1], tc.want.Pallet, tc.want.Call)
		}
	}

	if _, err := b.BuildNftTransfer(signer, 0, NftStage(99), 0, recipient); err == nil {
		t.Error("expected error for unknown nft stage")
	}
}

func TestMarketplaceOrderRequiresFeeSigner(t *testing.T) {
	b := NewBuilder(Config{Chain: domain.ChainEthereum})
	signer := mustEthSigner(t, 1)

	if _, err := b.BuildMarketplaceOrder(signer, 0, MarketplaceOrder{NonceStr: "x"}, ExecutionAllowCreation); err == nil {
		t.Fatal("expected error when no fee signer is configured")
	}
}

// TestMarketplaceOrderEncoding walks the full create_order call layout:
// order_type, collection, item, price, expires_at, fee, the None escrow
// agent, the signature_data pair, and the trailing execution mode, then
// recovers the fee signer from the embedded off-chain signature.
func TestMarketplaceOrderEncoding(t *testing.T) {
	feeSigner := mustEthSigner(t, 9)
	b := NewBuilder(Config{Chain: domain.ChainEthereum, TransferAmount: 1, FeeSigner: feeSigner})
	signer := mustEthSigner(t, 1)

	order := MarketplaceOrder{
		Side:       OrderSideBid,
		Collection: 3,
		Item:       4,
		Price:      1000,
		ExpiresAt:  500,
		Fee:        10,
		NonceStr:   "order-1",
	}
	tx, err := b.BuildMarketplaceOrder(signer, 2, order, ExecutionForce)
	if err != nil {
		t.Fatalf("BuildMarketplaceOrder: %v", err)
	}
	if tx.Kind != domain.KindMarketplace {
		t.Errorf("Kind = %v, want KindMarketplace", tx.Kind)
	}

	call := tx.Encoded[1+21+66+1+1+1:]
	if call[0] != CallMarketplaceCreateOrder.Pallet || call[1] != CallMarketplaceCreateOrder.Call {
		t.Fatalf("call index = %d/%d, want Marketplace.create_order", call[0], call[1])
	}

	i := 2
	if OrderSide(call[i]) != OrderSideBid {
		t.Errorf("order_type = %d, want bid", call[i])
	}
	i++
	if got := binary.LittleEndian.Uint32(call[i:]); got != 3 {
		t.Errorf("collection = %d, want 3", got)
	}
	i += 4
	if got := binary.LittleEndian.Uint32(call[i:]); got != 4 {
		t.Errorf("item = %d, want 4", got)
	}
	i += 4
	if got := binary.LittleEndian.Uint64(call[i:]); got != 1000 {
		t.Errorf("price = %d, want 1000", got)
	}
	i += 16
	if got := binary.LittleEndian.Uint32(call[i:]); got != 500 {
		t.Errorf("expires_at = %d, want 500", got)
	}
	i += 4
	if got := binary.LittleEndian.Uint64(call[i:]); got != 10 {
		t.Errorf("fee = %d, want 10", got)
	}
	i += 16
	if call[i] != 0x00 {
		t.Errorf("escrow_agent tag = %#x, want None", call[i])
	}
	i++

	sig, n, err := nodeclient.DecodeBytesWithLength(call[i:])
	if err != nil {
		t.Fatalf("decode signature_data.signature: %v", err)
	}
	i += n
	nonceStr, n, err := nodeclient.DecodeBytesWithLength(call[i:])
	if err != nil {
		t.Fatalf("decode signature_data.nonce_str: %v", err)
	}
	i += n
	if string(nonceStr) != "order-1" {
		t.Errorf("nonce_str = %q, want order-1", nonceStr)
	}
	if OrderExecution(call[i]) != ExecutionForce {
		t.Errorf("execution = %d, want force", call[i])
	}
	if i+1 != len(call) {
		t.Errorf("trailing bytes after execution: call length %d, consumed %d", len(call), i+1)
	}

	// The off-chain signature must recover the designated fee signer,
	// not the extrinsic's own sender.
	if len(sig) != 65 {
		t.Fatalf("fee signature length = %d, want 65", len(sig))
	}
	rec := make([]byte, 65)
	copy(rec, sig)
	rec[64] -= 27
	pub, err := crypto.SigToPub(crypto.Keccak256(OrderMessage(order)), rec)
	if err != nil {
		t.Fatalf("recover fee signer: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub).Hex(); got != feeSigner.AccountId().String() {
		t.Errorf("recovered fee signer = %s, want %s", got, feeSigner.AccountId())
	}
}
