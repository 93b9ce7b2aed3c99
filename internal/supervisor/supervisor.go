// Package supervisor orchestrates one end-to-end load-test run: it paces
// the worker pool's ticks, drives the measurement engine off the node's
// finalized-block feed, watches for the early-stop condition, and
// assembles the final run summary.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paritytech/stps-go/internal/decoder"
	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
	"github.com/paritytech/stps-go/internal/worker"
)

// defaultWallClockCap is the run's hard time ceiling when the caller
// doesn't configure one.
const defaultWallClockCap = 5 * time.Minute

// Config parameterizes one run.
type Config struct {
	RunID      string
	Chain      domain.Chain
	TickPeriod time.Duration // pacing between worker pool ticks; derived from NWorkers/BatchSize/TPSTarget if unset
	Duration   time.Duration // 0 means run until early-stop, ExpectedTotal, wall-clock cap, or ctx cancellation
	DecoderCfg decoder.Config

	// WallClockCap bounds every run regardless of Duration, defaulting
	// to 5 minutes. The effective ceiling is min(Duration, WallClockCap)
	// when Duration is set, else WallClockCap alone.
	WallClockCap time.Duration

	// ExpectedTotal, when non-zero, stops the run once the decoder has
	// confirmed this many transactions included, a bounded-run stop
	// condition independent of early-stop and the wall-clock cap.
	ExpectedTotal uint64

	// NWorkers, BatchSize, and TPSTarget feed the pacing formula
	// (1000 * NWorkers * BatchSize / TPSTarget milliseconds between
	// ticks) used to derive TickPeriod when it isn't set explicitly.
	NWorkers  int
	BatchSize int
	TPSTarget int
}

// pacingTickPeriod computes the sleep between ticks:
// worker_sleep_ms = 1000 * n_workers * batch_size / tps_target. Each
// tick submits one batch (BatchSize transactions) per worker, so
// spacing ticks this way keeps aggregate submission at tps_target
// transactions per second. Falls back to 500ms if any input is
// non-positive (can't derive a rate).
func pacingTickPeriod(nWorkers, batchSize, tpsTarget int) time.Duration {
	if nWorkers <= 0 || batchSize <= 0 || tpsTarget <= 0 {
		return 500 * time.Millisecond
	}
	ms := 1000 * nWorkers * batchSize / tpsTarget
	if ms <= 0 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// SampleFn receives one measurement sample per finalized block. The
// Supervisor is agnostic to where samples end up (internal/sink adapts
// this into channel/Redis delivery); this keeps the orchestration logic
// free of any sink-specific import.
type SampleFn func(domain.Sample)

// Supervisor ties a worker pool, a node client's block feed, and a
// decoder together for the lifetime of one run.
type Supervisor struct {
	cfg      Config
	pool     *worker.Pool
	node     nodeclient.NodeClient
	dec      *decoder.Decoder
	logger   *slog.Logger
	onSample SampleFn
}

func New(cfg Config, pool *worker.Pool, node nodeclient.NodeClient, onSample SampleFn, logger *slog.Logger) *Supervisor {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = pacingTickPeriod(cfg.NWorkers, cfg.BatchSize, cfg.TPSTarget)
	}
	if cfg.WallClockCap <= 0 {
		cfg.WallClockCap = defaultWallClockCap
	}
	return &Supervisor{
		cfg:      cfg,
		pool:     pool,
		node:     node,
		dec:      decoder.New(cfg.DecoderCfg, logger),
		logger:   logger.With(slog.String("component", "supervisor"), slog.String("run_id", cfg.RunID)),
		onSample: onSample,
	}
}

// Decoder exposes the run's decoder so callers that need to coordinate
// with on-chain confirmations directly (the NFT flow's create/mint/
// transfer staging) can register interest in specific events.
func (s *Supervisor) Decoder() *decoder.Decoder {
	return s.dec
}

// Run drives the worker pool's tick loop and the finalized-block
// measurement loop concurrently, stopping when ctx is cancelled, the
// wall-clock cap elapses, the configured ExpectedTotal is reached, or
// the decoder signals an early stop. It returns the assembled
// RunSummary.
func (s *Supervisor) Run(ctx context.Context) (domain.RunSummary, error) {
	return s.run(ctx, true)
}

// RunMeasureOnly drives only the finalized-block measurement loop,
// without the worker pool's tick loop. It's used by transaction kinds
// whose submission timing isn't a fixed-rate tick (the NFT flow submits
// three sequential, event-gated stages per sender instead), letting
// those flows submit on their own schedule while still sharing this
// Supervisor's decoder, sample delivery, and stop conditions.
func (s *Supervisor) RunMeasureOnly(ctx context.Context) (domain.RunSummary, error) {
	return s.run(ctx, false)
}

func (s *Supervisor) run(ctx context.Context, withTickLoop bool) (domain.RunSummary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ceiling := s.cfg.WallClockCap
	if s.cfg.Duration > 0 && s.cfg.Duration < ceiling {
		ceiling = s.cfg.Duration
	}
	var durCancel context.CancelFunc
	runCtx, durCancel = context.WithTimeout(runCtx, ceiling)
	defer durCancel()

	summary := domain.RunSummary{
		RunID:     s.cfg.RunID,
		Chain:     s.cfg.Chain.String(),
		Senders:   len(s.pool.Senders()),
		StartedAt: time.Now(),
	}

	finalized, err := s.node.SubscribeFinalizedBlocks(runCtx)
	if err != nil {
		return summary, fmt.Errorf("supervisor: subscribe finalized blocks: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)

	if withTickLoop {
		g.Go(func() error {
			return s.tickLoop(gctx, cancel)
		})
	}

	g.Go(func() error {
		return s.measureLoop(gctx, finalized, cancel, &summary)
	})

	waitErr := g.Wait()

	summary.EndedAt = time.Now()
	summary.TotalTxCount = s.dec.TotalTxCount()
	summary.MaxTPS = s.dec.MaxTPS()
	if summary.BlocksSampled > 0 {
		elapsed := summary.EndedAt.Sub(summary.StartedAt).Seconds()
		if elapsed > 0 {
			summary.AverageTPS = float64(summary.TotalTxCount) / elapsed
		}
	}

	if waitErr != nil && waitErr != context.Canceled && waitErr != context.DeadlineExceeded {
		return summary, waitErr
	}
	return summary, nil
}

// tickLoop paces the worker pool: Tick, measure elapsed time, sleep the
// remainder of TickPeriod (saturating at zero if the tick itself ran
// long), repeat until cancelled.
func (s *Supervisor) tickLoop(ctx context.Context, stop context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := time.Now()
		submitted, err := s.pool.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "pool tick error", slog.String("error", err.Error()))
		}
		elapsed := time.Since(start)

		s.logger.DebugContext(ctx, "tick complete",
			slog.Int("submitted", submitted),
			slog.Duration("elapsed", elapsed),
		)

		remaining := s.cfg.TickPeriod - elapsed
		if remaining < 0 {
			remaining = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(remaining):
		}
	}
}

// measureLoop consumes the finalized-block feed, decodes each block, and
// forwards samples to onSample. It cancels stop once the decoder signals
// an early stop, ExpectedTotal confirmed transactions are reached, or
// the feed closes.
func (s *Supervisor) measureLoop(ctx context.Context, finalized <-chan domain.BestBlockSlot, stop context.CancelFunc, summary *domain.RunSummary) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case slot, ok := <-finalized:
			if !ok {
				stop()
				return nil
			}

			body, err := s.node.BlockExtrinsics(ctx, slot.Hash)
			if err != nil {
				s.logger.WarnContext(ctx, "block fetch failed", slog.String("error", err.Error()))
				continue
			}

			result, err := s.dec.DecodeBlock(s.cfg.RunID, body, uint64(slot.Timestamp.UnixMilli()))
			if err != nil {
				s.logger.WarnContext(ctx, "decode failed", slog.String("error", err.Error()))
				continue
			}

			summary.BlocksSampled++
			if s.onSample != nil {
				s.onSample(result.Sample)
			}

			if s.cfg.ExpectedTotal > 0 && result.Sample.TotalTxCount >= s.cfg.ExpectedTotal {
				summary.ReachedExpectedTotal = true
				s.logger.InfoContext(ctx, "expected total reached",
					slog.Uint64("expected_total", s.cfg.ExpectedTotal),
					slog.Uint64("total_tx_count", result.Sample.TotalTxCount),
				)
				stop()
				return nil
			}

			if result.ShouldStop {
				summary.StoppedEarly = true
				summary.StopReason = result.StopReason
				s.logger.InfoContext(ctx, "early stop triggered", slog.String("reason", result.StopReason))
				stop()
				return nil
			}
		}
	}
}
