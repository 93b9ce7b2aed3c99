package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
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

type fakeNodeClient struct {
	submitCount atomic.Int64
	failNext    atomic.Bool
	nonces      map[string]domain.Nonce
}

func (f *fakeNodeClient) AccountNonce(ctx context.Context, account domain.AccountId) (domain.Nonce, error) {
	return f.nonces[account.String()], nil
}
func (f *fakeNodeClient) SubmitExtrinsic(ctx context.Context, encoded []byte) ([32]byte, error) {
	if f.failNext.CompareAndSwap(true, false) {
		return [32]byte{}, errors.New("simulated nonce conflict")
	}
	f.submitCount.Add(1)
	return [32]byte{}, nil
}
func (f *fakeNodeClient) SubmitAndWatch(ctx context.Context, encoded []byte) (<-chan nodeclient.SubmissionStatus, error) {
	ch := make(chan nodeclient.SubmissionStatus)
	close(ch)
	return ch, nil
}
func (f *fakeNodeClient) GenesisHash(ctx context.Context) ([32]byte, error) {
	return [32]byte{}, nil
}
func (f *fakeNodeClient) SubscribeBestBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error) {
	return nil, nil
}
func (f *fakeNodeClient) SubscribeFinalizedBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error) {
	return nil, nil
}
func (f *fakeNodeClient) BlockExtrinsics(ctx context.Context, blockHash [32]byte) (nodeclient.BlockBody, error) {
	return nodeclient.BlockBody{}, nil
}
func (f *fakeNodeClient) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolTickSubmitsOncePerSender(t *testing.T) {
	senders := []*Sender{
		NewSender(0, domain.KeyPair{Index: 0, AccountId: fakeAccountId{"a"}, Signer: fakeSigner{"a"}}, 5),
		NewSender(1, domain.KeyPair{Index: 1, AccountId: fakeAccountId{"b"}, Signer: fakeSigner{"b"}}, 9),
	}
	node := &fakeNodeClient{nonces: map[string]domain.Nonce{"a": 5, "b": 9}}
	build := func(s *Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
		return domain.TransactionPayload{Sender: s.AccountId(), Nonce: nonce, Encoded: []byte{1}}, nil
	}

	pool := NewPool(senders, node, build, &domain.BackpressureCounters{}, 0, 0, testLogger())
	submitted, err := pool.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if submitted != 2 {
		t.Errorf("submitted = %d, want 2", submitted)
	}
	if senders[0].CurrentNonce() != 6 {
		t.Errorf("sender 0 nonce = %d, want 6", senders[0].CurrentNonce())
	}
	if senders[1].CurrentNonce() != 10 {
		t.Errorf("sender 1 nonce = %d, want 10", senders[1].CurrentNonce())
	}
}

func TestPoolTickCountsBatchedCalls(t *testing.T) {
	senders := []*Sender{
		NewSender(0, domain.KeyPair{Index: 0, AccountId: fakeAccountId{"a"}, Signer: fakeSigner{"a"}}, 0),
		NewSender(1, domain.KeyPair{Index: 1, AccountId: fakeAccountId{"b"}, Signer: fakeSigner{"b"}}, 0),
	}
	node := &fakeNodeClient{nonces: map[string]domain.Nonce{}}
	build := func(s *Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
		return domain.TransactionPayload{Encoded: []byte{1}, BatchSize: 5}, nil
	}

	pool := NewPool(senders, node, build, &domain.BackpressureCounters{}, 0, 0, testLogger())
	for tick := 0; tick < 20; tick++ {
		if _, err := pool.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", tick, err)
		}
	}

	// 2 workers x 20 ticks x one batch-of-5 each: Sent counts calls,
	// not extrinsics.
	if got := pool.Counters.Sent(); got != 200 {
		t.Errorf("Sent = %d, want 200", got)
	}
}

func TestPoolTickBacklogThrottle(t *testing.T) {
	senders := make([]*Sender, 5)
	for i := range senders {
		senders[i] = NewSender(i, domain.KeyPair{Index: i, AccountId: fakeAccountId{string(rune('a' + i))}, Signer: fakeSigner{}}, 0)
	}
	node := &fakeNodeClient{nonces: map[string]domain.Nonce{}}
	build := func(s *Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
		return domain.TransactionPayload{Encoded: []byte{1}}, nil
	}

	counters := &domain.BackpressureCounters{}
	counters.AddSent(100) // far beyond the backlog threshold, nothing included yet

	pool := NewPool(senders, node, build, counters, 10, time.Millisecond, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	submitted, err := pool.Tick(ctx)
	if err == nil {
		t.Fatalf("Tick: expected backlog throttle to block until context deadline, got nil error with submitted=%d", submitted)
	}
	if submitted != 0 {
		t.Errorf("submitted = %d, want 0 (blocked by backlog threshold)", submitted)
	}
}

func TestPoolOnFailureResyncsNonce(t *testing.T) {
	senders := []*Sender{
		NewSender(0, domain.KeyPair{Index: 0, AccountId: fakeAccountId{"a"}, Signer: fakeSigner{"a"}}, 3),
	}
	node := &fakeNodeClient{nonces: map[string]domain.Nonce{"a": 7}}
	node.failNext.Store(true)
	build := func(s *Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
		return domain.TransactionPayload{Encoded: []byte{1}}, nil
	}

	pool := NewPool(senders, node, build, &domain.BackpressureCounters{}, 0, 0, testLogger())
	if _, err := pool.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if senders[0].CurrentNonce() != 7 {
		t.Errorf("nonce after resync = %d, want 7", senders[0].CurrentNonce())
	}
	if pool.Counters.Snapshot().Failed != 1 {
		t.Errorf("failed counter = %d, want 1", pool.Counters.Snapshot().Failed)
	}
}
