package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/paritytech/stps-go/internal/blob/s3"
	"github.com/paritytech/stps-go/internal/cache/redis"
	"github.com/paritytech/stps-go/internal/config"
	"github.com/paritytech/stps-go/internal/nodeclient"
	"github.com/paritytech/stps-go/internal/store/postgres"
)

// Dependencies bundles every dependency the run/seed modes need: the
// node client (required) and the optional sinks/archivers, each nil
// when its config section is disabled.
type Dependencies struct {
	Node nodeclient.NodeClient

	RedisSink *redis.SampleStream
	RunStore  *postgres.RunStore
	S3Client  *s3blob.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	node, err := connectWithRetry(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: node client: %w", err)
	}
	deps.Node = node
	closers = append(closers, func() { _ = node.Close() })

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.RedisSink = redis.NewSampleStream(redisClient, cfg.Redis.Stream)
	}

	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.RunStore = postgres.NewRunStore(pgClient.Pool())
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.S3Client = s3Client
	}

	return deps, cleanup, nil
}

// connectWithRetry dials the node client up to cfg.Node.ConnectRetries
// times with a cfg.Node.ConnectRetryDelay pause between attempts; a
// node still unreachable after the last attempt is fatal.
func connectWithRetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (nodeclient.NodeClient, error) {
	client := nodeclient.NewWSClient(cfg.Node.URL)

	attempts := cfg.Node.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.Node.ConnectRetryDelay.Duration
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Node.ConnectTimeout.Duration)
		err := client.Dial(dialCtx)
		cancel()
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.WarnContext(ctx, "node connect attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("connect: exhausted %d attempts: %w", attempts, lastErr)
}
