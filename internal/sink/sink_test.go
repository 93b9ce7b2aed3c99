package sink

import (
	"context"
	"testing"

	"github.com/paritytech/stps-go/internal/domain"
)

func TestChannelSinkDeliversSample(t *testing.T) {
	s := NewChannelSink(4)
	s.Accept(context.Background(), domain.Sample{RunID: "run-1", BlockNumber: 1})

	select {
	case got := <-s.Samples():
		if got.RunID != "run-1" {
			t.Errorf("RunID = %q, want run-1", got.RunID)
		}
	default:
		t.Fatal("expected a buffered sample")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	ctx := context.Background()
	s.Accept(ctx, domain.Sample{BlockNumber: 1})
	s.Accept(ctx, domain.Sample{BlockNumber: 2}) // should drop, buffer full

	got := <-s.Samples()
	if got.BlockNumber != 1 {
		t.Errorf("BlockNumber = %d, want 1", got.BlockNumber)
	}
	select {
	case extra := <-s.Samples():
		t.Fatalf("expected no second sample, got %+v", extra)
	default:
	}
}

type countingSink struct {
	count int
	closed bool
}

func (c *countingSink) Accept(ctx context.Context, sample domain.Sample) { c.count++ }
func (c *countingSink) Close() error                                     { c.closed = true; return nil }

func TestMultiFansOutAndCloses(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := NewMulti(a, b)

	m.Accept(context.Background(), domain.Sample{})
	if a.count != 1 || b.count != 1 {
		t.Fatalf("expected both sinks to receive one sample, got a=%d b=%d", a.count, b.count)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("expected both sinks closed")
	}
}
