package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/nodeclient"
)

// State enumerates the worker pool's lifecycle phases.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

// BuildFn constructs and signs one transaction for sender at the given
// nonce. The implementation used by runs is internal/app's buildFn,
// built on internal/txbuilder; the pool is agnostic to transaction shape.
type BuildFn func(sender *Sender, nonce domain.Nonce) (domain.TransactionPayload, error)

// Pool runs a fixed set of Senders, submitting one transaction per
// sender per Tick subject to the backlog throttle: once Sent-Included
// exceeds BacklogThreshold, Tick blocks (re-checking every
// RetryThrottle) rather than submitting further, letting the chain catch
// up before more load is added. Pacing between ticks is the Supervisor's
// responsibility (see internal/supervisor).
type Pool struct {
	senders          []*Sender
	node             nodeclient.NodeClient
	build            BuildFn
	backlogThreshold uint64
	retryThrottle    time.Duration
	logger           *slog.Logger

	mu    sync.Mutex
	state State

	Counters *domain.BackpressureCounters
}

// NewPool creates a Pool over the given senders. counters is shared with
// the Decoder so the backlog check (Sent-Included) reflects real
// confirmed inclusions rather than just submissions; a nil counters
// allocates a private one (useful in tests that don't exercise the
// decoder side). backlogThreshold defaults to 100000 and retryThrottle
// to 10ms when non-positive.
func NewPool(senders []*Sender, node nodeclient.NodeClient, build BuildFn, counters *domain.BackpressureCounters, backlogThreshold uint64, retryThrottle time.Duration, logger *slog.Logger) *Pool {
	if counters == nil {
		counters = &domain.BackpressureCounters{}
	}
	if backlogThreshold == 0 {
		backlogThreshold = 100_000
	}
	if retryThrottle <= 0 {
		retryThrottle = 10 * time.Millisecond
	}
	return &Pool{
		senders:          senders,
		node:             node,
		build:            build,
		backlogThreshold: backlogThreshold,
		retryThrottle:    retryThrottle,
		logger:           logger.With(slog.String("component", "worker_pool")),
		state:            StateIdle,
		Counters:         counters,
	}
}

// State returns the pool's current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// backlogExceeded reports whether the number of transactions sent but
// not yet confirmed included exceeds the configured threshold.
func (p *Pool) backlogExceeded() bool {
	sent := p.Counters.Sent()
	included := p.Counters.Included()
	if sent <= included {
		return false
	}
	return sent-included > p.backlogThreshold
}

// Tick waits out the backlog throttle if the pool is currently over its
// backlog threshold, then submits one transaction per sender, and
// returns the number of transactions actually submitted this tick. It
// blocks until every submission attempted this tick has completed
// (success or failure), so the Supervisor's pacing sleep always measures
// real elapsed work.
func (p *Pool) Tick(ctx context.Context) (submitted int, err error) {
	p.setState(StateRunning)

	for p.backlogExceeded() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(p.retryThrottle):
		}
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var wg sync.WaitGroup
	var submittedCount atomic.Int64

	for _, s := range p.senders {
		p.Counters.IncInFlight()
		wg.Add(1)
		go func(s *Sender) {
			defer wg.Done()
			defer p.Counters.DecInFlight()

			nonce := s.NextNonce()
			tx, buildErr := p.build(s, nonce)
			if buildErr != nil {
				p.onFailure(ctx, s, fmt.Errorf("build: %w", buildErr))
				return
			}

			if _, subErr := p.node.SubmitExtrinsic(ctx, tx.Encoded); subErr != nil {
				p.onFailure(ctx, s, fmt.Errorf("submit: %w", subErr))
				return
			}

			// Sent counts calls, not extrinsics: a batch of n transfers
			// moves the backlog by n, the same unit the decoder's
			// Included side confirms them in.
			calls := uint64(tx.BatchSize)
			if calls == 0 {
				calls = 1
			}
			p.Counters.AddSent(calls)
			submittedCount.Add(1)
		}(s)
	}

	wg.Wait()
	return int(submittedCount.Load()), nil
}

// onFailure records a failed submission and attempts nonce recovery: it
// re-fetches the sender's nonce from the node so the next Tick resumes
// from the chain's actual view of the account rather than drifting
// further out of sync.
func (p *Pool) onFailure(ctx context.Context, s *Sender, err error) {
	p.Counters.AddFailed(1)
	p.logger.WarnContext(ctx, "submission failed, resyncing nonce",
		slog.Int("sender_id", s.ID),
		slog.String("account", s.AccountId().String()),
		slog.String("error", err.Error()),
	)

	fresh, nErr := p.node.AccountNonce(ctx, s.AccountId())
	if nErr != nil {
		p.logger.WarnContext(ctx, "nonce resync failed",
			slog.Int("sender_id", s.ID),
			slog.String("error", nErr.Error()),
		)
		return
	}
	s.SetNonce(fresh)
}

// Drain marks the pool as draining; callers should stop issuing new
// Ticks after calling this and instead wait for any already-launched
// Tick's WaitGroup to finish (Tick itself already blocks until its own
// goroutines finish, so no further action is required here beyond the
// state transition for observability).
func (p *Pool) Drain() {
	p.setState(StateDraining)
}

// Stop marks the pool as stopped.
func (p *Pool) Stop() {
	p.setState(StateStopped)
}

// Senders returns the pool's senders; the Supervisor reports their count
// in the run summary.
func (p *Pool) Senders() []*Sender {
	return p.senders
}
