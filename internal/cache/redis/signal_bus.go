package redis

import (
	"context"
	"encoding/json"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length for the samples stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SampleStream publishes measurement samples onto a Redis stream via
// XADD: an append-only, externally consumable sample feed for dashboards
// and other out-of-process consumers.
type SampleStream struct {
	rdb    *redis.Client
	stream string
}

// NewSampleStream creates a SampleStream backed by the given Client,
// appending every accepted sample to stream.
func NewSampleStream(c *Client, stream string) *SampleStream {
	return &SampleStream{rdb: c.Underlying(), stream: stream}
}

// Accept appends sample to the stream as JSON. Errors are not returned
// (SampleSink.Accept has no error path); they are swallowed after a
// best-effort XADD, matching the supervisor's measurement loop's
// tolerance for a slow or unavailable external sink.
func (s *SampleStream) Accept(ctx context.Context, sample domain.Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		return
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	_ = s.rdb.XAdd(ctx, args).Err()
}

// Close is a no-op; the underlying *redis.Client outlives the sink and
// is closed by whoever constructed the Client.
func (s *SampleStream) Close() error { return nil }
