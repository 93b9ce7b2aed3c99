package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/paritytech/stps-go/internal/accounts"
	"github.com/paritytech/stps-go/internal/archive"
	"github.com/paritytech/stps-go/internal/decoder"
	"github.com/paritytech/stps-go/internal/domain"
	"github.com/paritytech/stps-go/internal/seeder"
	"github.com/paritytech/stps-go/internal/sink"
	"github.com/paritytech/stps-go/internal/supervisor"
	"github.com/paritytech/stps-go/internal/txbuilder"
	"github.com/paritytech/stps-go/internal/worker"
)

// RunMode derives sender/receiver accounts, builds a worker pool and
// supervisor for the configured chain and transaction kind, runs the
// load test to completion, and archives the resulting summary through
// whichever sinks Wire enabled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	logger := a.logger

	chain, err := domain.ParseChain(cfg.Run.Chain)
	if err != nil {
		return fmt.Errorf("app: run mode: %w", err)
	}

	workers, err := a.workerCount()
	if err != nil {
		return fmt.Errorf("app: run mode: %w", err)
	}

	senderKeys, err := accounts.DeriveKeys(chain, cfg.Run.SenderSeed, workers)
	if err != nil {
		return fmt.Errorf("app: derive sender accounts: %w", err)
	}
	receiverKeys, err := accounts.DeriveKeys(chain, cfg.Run.ReceiverSeed, workers)
	if err != nil {
		return fmt.Errorf("app: derive receiver accounts: %w", err)
	}

	recipients := make([]domain.AccountId, len(receiverKeys))
	for i, kp := range receiverKeys {
		recipients[i] = kp.AccountId
	}

	builderCfg := txbuilder.Config{
		Chain:          chain,
		TransferAmount: cfg.Builder.TransferAmount,
	}
	if cfg.Run.TxKind == "marketplace" {
		feeKeys, err := accounts.DeriveKeys(chain, cfg.Builder.FeeSignerSeed, 1)
		if err != nil {
			return fmt.Errorf("app: derive fee signer: %w", err)
		}
		builderCfg.FeeSigner = feeKeys[0].Signer
	}
	builder := txbuilder.NewBuilder(builderCfg)

	// Optional one-shot pre-funding before measurement begins; funding
	// must land before the senders' starting nonces are read.
	if cfg.Seeder.Enabled {
		faucetKeys, err := accounts.DeriveKeys(chain, cfg.Seeder.FaucetSeed, 1)
		if err != nil {
			return fmt.Errorf("app: derive faucet account: %w", err)
		}
		all := make([]domain.AccountId, 0, len(senderKeys)+len(receiverKeys))
		for _, kp := range senderKeys {
			all = append(all, kp.AccountId)
		}
		all = append(all, recipients...)
		s := seeder.New(deps.Node, builder, faucetKeys[0].Signer, logger)
		if err := s.EnsureFunded(ctx, all, cfg.Seeder.MinBalance); err != nil {
			return fmt.Errorf("app: pre-funding: %w", err)
		}
	}

	senders, err := bootstrapSenders(ctx, deps.Node, senderKeys, cfg.Run.RampSlotMs)
	if err != nil {
		return fmt.Errorf("app: bootstrap senders: %w", err)
	}

	counters := &domain.BackpressureCounters{}

	runID := uuid.NewString()

	var sinks []sink.SampleSink
	channelSink := sink.NewChannelSink(256)
	sinks = append(sinks, channelSink)
	if deps.RedisSink != nil {
		sinks = append(sinks, deps.RedisSink)
	}
	multi := sink.NewMulti(sinks...)
	defer multi.Close()

	// Adapt the sink fan-out to the Supervisor's SampleFn shape; the
	// run's root context is the right lifetime for sink delivery.
	onSample := func(sample domain.Sample) { multi.Accept(ctx, sample) }

	go drainChannelSink(channelSink, logger)

	decoderCfg := decoder.DefaultConfig()
	decoderCfg.WindowSize = cfg.Decoder.WindowSize
	decoderCfg.EarlyStopFraction = cfg.Decoder.EarlyStopFraction
	decoderCfg.DefaultBlockTimeMs = cfg.Decoder.DefaultBlockTimeMs
	decoderCfg.TPSTarget = cfg.Run.TPSTarget
	decoderCfg.Counters = counters

	supCfg := supervisor.Config{
		RunID:         runID,
		Chain:         chain,
		Duration:      cfg.Run.Duration.Duration,
		WallClockCap:  cfg.Run.WallClockCap.Duration,
		ExpectedTotal: cfg.Run.ExpectedTotal,
		NWorkers:      workers,
		BatchSize:     cfg.Run.Batch,
		TPSTarget:     cfg.Run.TPSTarget,
		DecoderCfg:    decoderCfg,
	}

	retryThrottle := time.Duration(cfg.Run.RetryThrottleMs) * time.Millisecond

	var summary domain.RunSummary
	if cfg.Run.TxKind == "nft" {
		noTickBuild := func(s *worker.Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
			return domain.TransactionPayload{}, fmt.Errorf("app: nft kind submits through its own flow, not the tick loop")
		}
		pool := worker.NewPool(senders, deps.Node, noTickBuild, counters, cfg.Run.BacklogThreshold, retryThrottle, logger)
		sup := supervisor.New(supCfg, pool, deps.Node, onSample, logger)
		summary, err = runNftFlow(ctx, sup, deps.Node, builder, senders, recipients, logger)
	} else {
		build := buildFn(builder, cfg.Run.TxKind, cfg.Run.Batch, recipients, orderSide(cfg.Run.MarketplaceSide))
		pool := worker.NewPool(senders, deps.Node, build, counters, cfg.Run.BacklogThreshold, retryThrottle, logger)
		sup := supervisor.New(supCfg, pool, deps.Node, onSample, logger)
		summary, err = sup.Run(ctx)
	}
	if err != nil {
		return fmt.Errorf("app: run: %w", err)
	}
	summary.RunID = runID

	logger.InfoContext(ctx, "run complete",
		slog.Float64("max_tps", summary.MaxTPS),
		slog.Float64("average_tps", summary.AverageTPS),
		slog.Bool("stopped_early", summary.StoppedEarly),
	)

	if err := a.archiveSummary(ctx, deps, summary); err != nil {
		logger.ErrorContext(ctx, "archive run summary failed", slog.String("error", err.Error()))
	}

	if cfg.Run.KeepAlive {
		logger.InfoContext(ctx, "keep_alive enabled, parking until shutdown signal")
		<-ctx.Done()
	}

	return nil
}

// SeedMode derives the sender and receiver account sets and has the
// seeder send one funding transfer from the faucet to each, a one-shot
// bootstrap step ahead of a run. Existing balances are not checked.
func (a *App) SeedMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	chain, err := domain.ParseChain(cfg.Run.Chain)
	if err != nil {
		return fmt.Errorf("app: seed mode: %w", err)
	}
	if cfg.Seeder.FaucetSeed == "" {
		return fmt.Errorf("app: seed mode: seeder.faucet_seed must be set")
	}

	workers := cfg.Workers()
	senderKeys, err := accounts.DeriveKeys(chain, cfg.Run.SenderSeed, workers)
	if err != nil {
		return fmt.Errorf("app: derive sender accounts: %w", err)
	}
	receiverKeys, err := accounts.DeriveKeys(chain, cfg.Run.ReceiverSeed, workers)
	if err != nil {
		return fmt.Errorf("app: derive receiver accounts: %w", err)
	}

	faucetKeys, err := accounts.DeriveKeys(chain, cfg.Seeder.FaucetSeed, 1)
	if err != nil {
		return fmt.Errorf("app: derive faucet account: %w", err)
	}
	faucet := faucetKeys[0].Signer

	builder := txbuilder.NewBuilder(txbuilder.Config{
		Chain:          chain,
		TransferAmount: cfg.Builder.TransferAmount,
	})

	s := seeder.New(deps.Node, builder, faucet, a.logger)

	accountIDs := make([]domain.AccountId, 0, len(senderKeys)+len(receiverKeys))
	for _, kp := range senderKeys {
		accountIDs = append(accountIDs, kp.AccountId)
	}
	for _, kp := range receiverKeys {
		accountIDs = append(accountIDs, kp.AccountId)
	}

	if err := s.EnsureFunded(ctx, accountIDs, cfg.Seeder.MinBalance); err != nil {
		return fmt.Errorf("app: seed mode: %w", err)
	}

	a.logger.InfoContext(ctx, "seeding complete", slog.Int("accounts", len(accountIDs)))
	return nil
}

// workerCount resolves the run's sender count: explicit config sizing
// wins; otherwise, when an upstream chain-spec generator's pre-funding
// sidecar is available, the tps/batch-derived count is capped at the
// number of funded sender/receiver pairs it lists; accounts beyond the
// funded set could never pass the chain's existential-deposit checks.
func (a *App) workerCount() (int, error) {
	cfg := a.cfg
	workers := cfg.Workers()
	if workers <= 0 {
		return 0, fmt.Errorf("computed worker count is %d", workers)
	}

	if cfg.Run.TotalSenders == 0 && cfg.Accounts.SidecarPath != "" {
		funded, err := archive.ReadFundedAccounts(cfg.Accounts.SidecarPath)
		if err != nil {
			return 0, fmt.Errorf("read pre-funding sidecar: %w", err)
		}
		// The sidecar lists senders and receivers interleaved; each
		// worker needs one of each.
		pairs := len(funded) / 2
		if pairs > 0 && pairs < workers {
			a.logger.Info("capping workers to pre-funded account pairs",
				slog.Int("derived", workers),
				slog.Int("funded_pairs", pairs),
			)
			workers = pairs
		}
	}
	return workers, nil
}

// orderSide maps the configured marketplace side string onto the
// builder's OrderSide; anything but "bid" is an ask.
func orderSide(side string) txbuilder.OrderSide {
	if side == "bid" {
		return txbuilder.OrderSideBid
	}
	return txbuilder.OrderSideAsk
}

// buildFn returns the worker pool's BuildFn for the configured
// transaction kind, cycling through recipients round-robin per sender
// tick. The cursor is atomic because Pool.Tick invokes the BuildFn from
// one goroutine per sender concurrently.
func buildFn(builder *txbuilder.Builder, txKind string, batch int, recipients []domain.AccountId, side txbuilder.OrderSide) worker.BuildFn {
	var next atomic.Uint64
	pick := func() domain.AccountId {
		return recipients[int((next.Add(1)-1)%uint64(len(recipients)))]
	}

	switch txKind {
	case "marketplace":
		return func(sender *worker.Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
			// One order per (sender, nonce): the item id and the dedup
			// nonce string both track the sender's nonce sequence, and
			// the order price falls back to the configured transfer
			// amount inside the builder.
			order := txbuilder.MarketplaceOrder{
				Side:       side,
				Collection: 1,
				Item:       uint32(nonce),
				NonceStr:   fmt.Sprintf("%d-%d", sender.ID, nonce),
			}
			return builder.BuildMarketplaceOrder(sender.Signer, nonce, order, txbuilder.ExecutionAllowCreation)
		}
	default:
		if batch > 1 {
			return func(sender *worker.Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
				batchRecipients := make([]domain.AccountId, batch)
				for i := range batchRecipients {
					batchRecipients[i] = pick()
				}
				return builder.BuildBatchTransfer(sender.Signer, nonce, batchRecipients)
			}
		}
		return func(sender *worker.Sender, nonce domain.Nonce) (domain.TransactionPayload, error) {
			return builder.BuildSingleTransfer(sender.Signer, nonce, pick())
		}
	}
}

// bootstrapSenders derives each sender's starting nonce, staggering the
// fetches: sender i waits
// (n-i)*rampSlotMs before fetching its initial nonce, so the node's
// connection isn't hit with every sender's request at once.
func bootstrapSenders(ctx context.Context, node nodeClient, keys []domain.KeyPair, rampSlotMs int) ([]*worker.Sender, error) {
	senders := make([]*worker.Sender, len(keys))
	g, gctx := errgroup.WithContext(ctx)

	for i, kp := range keys {
		i, kp := i, kp
		g.Go(func() error {
			wait := time.Duration(len(keys)-i) * time.Duration(rampSlotMs) * time.Millisecond
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-time.After(wait):
			}

			nonce, err := node.AccountNonce(gctx, kp.AccountId)
			if err != nil {
				return fmt.Errorf("fetch nonce for sender %d: %w", kp.Index, err)
			}
			senders[i] = worker.NewSender(kp.Index, kp, nonce)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return senders, nil
}

// nftFlowTimeout bounds how long one sender waits for a create/mint
// confirmation event before giving up on that stage.
const nftFlowTimeout = 30 * time.Second

// runNftFlow drives the NFT mint/transfer flow: each sender creates a
// collection, mints one item into it once the chain
// confirms the collection exists, then transfers that item to a
// recipient once the chain confirms the mint: three sequential
// extrinsics per sender, each gated on the previous one's confirmation
// event rather than fired blind. It runs the Supervisor's measurement
// loop (decoding blocks, feeding samples, evaluating stop conditions)
// concurrently with the per-sender flows, and stops the measurement
// loop once every sender's flow has finished.
func runNftFlow(ctx context.Context, sup *supervisor.Supervisor, node nodeClient, builder *txbuilder.Builder, senders []*worker.Sender, recipients []domain.AccountId, logger *slog.Logger) (domain.RunSummary, error) {
	flowCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dec := sup.Decoder()

	var summary domain.RunSummary
	var measureErr error
	flowsDone := make(chan struct{})

	go func() {
		summary, measureErr = sup.RunMeasureOnly(flowCtx)
		close(flowsDone)
	}()

	g, gctx := errgroup.WithContext(flowCtx)
	for i, s := range senders {
		s := s
		recipient := recipients[i%len(recipients)]
		g.Go(func() error {
			return runNftSenderFlow(gctx, dec, node, builder, s, recipient, logger)
		})
	}
	flowErr := g.Wait()
	cancel() // stop the measurement loop now that submission is done

	<-flowsDone
	if flowErr != nil {
		return summary, fmt.Errorf("app: nft flow: %w", flowErr)
	}
	if measureErr != nil {
		return summary, fmt.Errorf("app: nft flow: %w", measureErr)
	}
	return summary, nil
}

// runNftSenderFlow drives one sender through the three NFT stages,
// registering interest in the confirming event before submitting each
// stage so a fast block producer can never deliver the event before the
// flow starts listening for it.
func runNftSenderFlow(ctx context.Context, dec *decoder.Decoder, node nodeClient, builder *txbuilder.Builder, s *worker.Sender, recipient domain.AccountId, logger *slog.Logger) error {
	createdCh := dec.AwaitNftCreated(s.AccountId())
	createTx, err := builder.BuildNftTransfer(s.Signer, s.NextNonce(), txbuilder.NftStageCreate, 0, nil)
	if err != nil {
		return fmt.Errorf("build nft create: %w", err)
	}
	if _, err := node.SubmitExtrinsic(ctx, createTx.Encoded); err != nil {
		return fmt.Errorf("submit nft create: %w", err)
	}

	var collectionID uint32
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(nftFlowTimeout):
		return fmt.Errorf("timed out waiting for Nfts.Created for sender %d", s.ID)
	case created := <-createdCh:
		collectionID = created.CollectionID
	}

	issuedCh := dec.AwaitNftIssued(collectionID)
	mintTx, err := builder.BuildNftTransfer(s.Signer, s.NextNonce(), txbuilder.NftStageMint, collectionID, nil)
	if err != nil {
		return fmt.Errorf("build nft mint: %w", err)
	}
	if _, err := node.SubmitExtrinsic(ctx, mintTx.Encoded); err != nil {
		return fmt.Errorf("submit nft mint: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(nftFlowTimeout):
		return fmt.Errorf("timed out waiting for Nfts.Issued for sender %d", s.ID)
	case <-issuedCh:
	}

	transferTx, err := builder.BuildNftTransfer(s.Signer, s.NextNonce(), txbuilder.NftStageTransfer, collectionID, recipient)
	if err != nil {
		return fmt.Errorf("build nft transfer: %w", err)
	}
	if _, err := node.SubmitExtrinsic(ctx, transferTx.Encoded); err != nil {
		return fmt.Errorf("submit nft transfer: %w", err)
	}

	logger.DebugContext(ctx, "nft flow complete",
		slog.Int("sender_id", s.ID),
		slog.Uint64("collection_id", uint64(collectionID)),
	)
	return nil
}

// nodeClient is the minimal capability runNftFlow and bootstrapSenders
// need, satisfied by nodeclient.NodeClient; spelled out locally so this
// file doesn't need to import nodeclient just for the interface name.
type nodeClient interface {
	AccountNonce(ctx context.Context, account domain.AccountId) (domain.Nonce, error)
	SubmitExtrinsic(ctx context.Context, encoded []byte) ([32]byte, error)
}

// drainChannelSink consumes the live-display channel sink so it never
// fills; the CLI has no interactive display surface in this binary, so
// this simply logs at debug level.
func drainChannelSink(s *sink.ChannelSink, logger *slog.Logger) {
	for sample := range s.Samples() {
		logger.Debug("sample",
			slog.Uint64("block", sample.BlockNumber),
			slog.Float64("window_tps", sample.WindowTPS),
		)
	}
}

func (a *App) archiveSummary(ctx context.Context, deps *Dependencies, summary domain.RunSummary) error {
	if path := a.cfg.Run.SidecarPath; path != "" {
		if err := archive.WriteRunSummary(path, summary); err != nil {
			return err
		}
		if deps.S3Client != nil {
			uploader := archive.NewSidecarUploader(deps.S3Client)
			if err := uploader.Upload(ctx, path, summary.RunID+".json"); err != nil {
				return err
			}
		}
	}

	if deps.RunStore != nil {
		if err := deps.RunStore.Insert(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}
