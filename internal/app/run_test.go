package app

import (
	"bytes"
	"testing"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/txbuilder"
	"github.com/paritytech/stps-go/internal/worker"
)

type fakeAccountId struct{ id string }

func (f fakeAccountId) String() string      { return f.id }
func (f fakeAccountId) Bytes() []byte       { return []byte(f.id) }
func (f fakeAccountId) Chain() domain.Chain { return domain.ChainEthereum }

type fakeSigner struct{ id string }

func (f fakeSigner) AccountId() domain.AccountId { return fakeAccountId{f.id} }
func (f fakeSigner) Sign(payload []byte) (domain.Signature, error) {
	return domain.Signature{Chain: domain.ChainEthereum, Bytes: payload}, nil
}

func testSender() *worker.Sender {
	kp := domain.KeyPair{Index: 0, AccountId: fakeAccountId{"sender"}, Signer: fakeSigner{"sender"}}
	return worker.NewSender(0, kp, 0)
}

func testRecipients(n int) []domain.AccountId {
	out := make([]domain.AccountId, n)
	for i := range out {
		out[i] = fakeAccountId{id: "recipient-" + string(rune('0'+i))}
	}
	return out
}

func TestBuildFnSingleTransferCyclesRecipients(t *testing.T) {
	builder := txbuilder.NewBuilder(txbuilder.Config{Chain: domain.ChainEthereum, TransferAmount: 1})
	build := buildFn(builder, "transfer", 1, testRecipients(2), txbuilder.OrderSideAsk)

	sender := testSender()
	first, err := build(sender, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := build(sender, 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.Contains(first.Encoded, []byte("recipient-0")) {
		t.Fatal("first transfer is not addressed to recipient-0")
	}
	if !bytes.Contains(second.Encoded, []byte("recipient-1")) {
		t.Fatal("second transfer is not addressed to recipient-1")
	}
}

func TestBuildFnBatchPacksBatchSizeRecipients(t *testing.T) {
	builder := txbuilder.NewBuilder(txbuilder.Config{Chain: domain.ChainEthereum, TransferAmount: 1})
	build := buildFn(builder, "transfer", 3, testRecipients(3), txbuilder.OrderSideAsk)

	sender := testSender()
	payload, err := build(sender, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if payload.Kind != domain.KindBatchTransfer {
		t.Fatalf("payload.Kind = %v, want KindBatchTransfer", payload.Kind)
	}
	if payload.BatchSize != 3 {
		t.Fatalf("payload.BatchSize = %d, want 3", payload.BatchSize)
	}
}

func TestBuildFnMarketplaceKind(t *testing.T) {
	builder := txbuilder.NewBuilder(txbuilder.Config{
		Chain:          domain.ChainEthereum,
		TransferAmount: 1,
		FeeSigner:      fakeSigner{"fee"},
	})
	build := buildFn(builder, "marketplace", 1, testRecipients(1), txbuilder.OrderSideBid)

	sender := testSender()
	payload, err := build(sender, 7)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if payload.Kind != domain.KindMarketplace {
		t.Fatalf("payload.Kind = %v, want KindMarketplace", payload.Kind)
	}

	// The fake fee signer echoes its input, so the encoded extrinsic
	// must carry the order message (item and dedup nonce string both
	// track the sender's nonce, price fell back to the transfer amount)
	// as the embedded signature_data.signature.
	want := txbuilder.OrderMessage(txbuilder.MarketplaceOrder{
		Side:       txbuilder.OrderSideBid,
		Collection: 1,
		Item:       7,
		Price:      1,
		NonceStr:   "0-7",
	})
	if !bytes.Contains(payload.Encoded, want) {
		t.Fatal("encoded extrinsic does not carry the fee-signed order message")
	}
}
