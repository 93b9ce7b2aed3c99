package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paritytech/stps-go/internal/decoder"
	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
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

type fakeNode struct {
	finalized chan domain.BestBlockSlot
	blockNum  uint64
}

func (f *fakeNode) AccountNonce(ctx context.Context, account domain.AccountId) (domain.Nonce, error) {
	return 0, nil
}
func (f *fakeNode) SubmitExtrinsic(ctx context.Context, encoded []byte) ([32]byte, error) {
	return [32]byte{}, nil
}
func (f *fakeNode) SubmitAndWatch(ctx context.Context, encoded []byte) (<-chan nodeclient.SubmissionStatus, error) {
	ch := make(chan nodeclient.SubmissionStatus)
	close(ch)
	return ch, nil
}
func (f *fakeNode) GenesisHash(ctx context.Context) ([32]byte, error) {
	return [32]byte{}, nil
}
func (f *fakeNode) SubscribeBestBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error) {
	return nil, nil
}
func (f *fakeNode) SubscribeFinalizedBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error) {
	return f.finalized, nil
}
func (f *fakeNode) BlockExtrinsics(ctx context.Context, blockHash [32]byte) (nodeclient.BlockBody, error) {
	f.blockNum++
	return nodeclient.BlockBody{Number: f.blockNum, Extrinsics: nil}, nil
}
func (f *fakeNode) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisorRunStopsOnDuration(t *testing.T) {
	senders := []*worker.Sender{
		worker.NewSender(0, domain.KeyPair{Index: 0, AccountId: fakeAccountId{"a"}, Signer: fakeSigner{"a"}}, 0),
	}
	node := &fakeNode{finalized: make(chan domain.BestBlockSlot, 4)}
	build := func(s *worker.Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
		return domain.TransactionPayload{Encoded: []byte{1}}, nil
	}
	pool := worker.NewPool(senders, node, build, &domain.BackpressureCounters{}, 0, 0, testLogger())

	var samples []domain.Sample
	onSample := func(s domain.Sample) { samples = append(samples, s) }

	cfg := Config{
		RunID:      "run-1",
		Chain:      domain.ChainEthereum,
		TickPeriod: 10 * time.Millisecond,
		Duration:   60 * time.Millisecond,
		DecoderCfg: decoder.DefaultConfig(),
	}
	sup := New(cfg, pool, node, onSample, testLogger())

	go func() {
		for i := 0; i < 3; i++ {
			node.finalized <- domain.BestBlockSlot{Number: uint64(i), Timestamp: time.Now()}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	summary, err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", summary.RunID)
	}
	if summary.Senders != 1 {
		t.Errorf("Senders = %d, want 1", summary.Senders)
	}
	if summary.EndedAt.Before(summary.StartedAt) {
		t.Errorf("EndedAt before StartedAt")
	}
}

func TestSupervisorRunStopsOnFeedClose(t *testing.T) {
	senders := []*worker.Sender{
		worker.NewSender(0, domain.KeyPair{Index: 0, AccountId: fakeAccountId{"a"}, Signer: fakeSigner{"a"}}, 0),
	}
	node := &fakeNode{finalized: make(chan domain.BestBlockSlot)}
	build := func(s *worker.Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
		return domain.TransactionPayload{Encoded: []byte{1}}, nil
	}
	pool := worker.NewPool(senders, node, build, &domain.BackpressureCounters{}, 0, 0, testLogger())

	cfg := Config{
		RunID:      "run-2",
		Chain:      domain.ChainEthereum,
		TickPeriod: 10 * time.Millisecond,
		DecoderCfg: decoder.DefaultConfig(),
	}
	sup := New(cfg, pool, node, nil, testLogger())

	close(node.finalized)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	summary, err := sup.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RunID != "run-2" {
		t.Errorf("RunID = %q, want run-2", summary.RunID)
	}
}
