// Package sink delivers measurement samples produced by the Supervisor
// to one or more destinations: an in-process channel for a live CLI
// display, and optionally a Redis stream for external consumers.
package sink

import (
	"context"

	"github.com/paritytech/stps-go/internal/domain"
)

// SampleSink receives one Sample at a time. Implementations must not
// block indefinitely; a slow sink would otherwise stall the
// Supervisor's measurement loop.
type SampleSink interface {
	Accept(ctx context.Context, sample domain.Sample)
	Close() error
}

// Multi fans a single sample out to every configured sink. A sink whose
// Accept panics or blocks is the sink's own responsibility to guard
// against; Multi applies no additional isolation.
type Multi struct {
	sinks []SampleSink
}

func NewMulti(sinks ...SampleSink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Accept(ctx context.Context, sample domain.Sample) {
	for _, s := range m.sinks {
		s.Accept(ctx, sample)
	}
}

func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChannelSink delivers samples to a buffered channel, the shape a CLI
// progress display or a test consumes directly. Samples are dropped
// (not blocked on) once the buffer fills, since a live display is only
// interested in recent state.
type ChannelSink struct {
	ch chan domain.Sample
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan domain.Sample, buffer)}
}

func (c *ChannelSink) Accept(ctx context.Context, sample domain.Sample) {
	select {
	case c.ch <- sample:
	default:
	}
}

func (c *ChannelSink) Close() error {
	close(c.ch)
	return nil
}

func (c *ChannelSink) Samples() <-chan domain.Sample {
	return c.ch
}
