// Package config defines the top-level configuration for a load-test run
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by STPS_* environment variables.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Run      RunConfig      `toml:"run"`
	Accounts AccountsConfig `toml:"accounts"`
	Builder  BuilderConfig  `toml:"builder"`
	Decoder  DecoderConfig  `toml:"decoder"`
	Seeder   SeederConfig   `toml:"seeder"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// NodeConfig holds the chain node connection parameters.
type NodeConfig struct {
	URL               string   `toml:"url"`
	ConnectTimeout    duration `toml:"connect_timeout"`
	RequestTimeout    duration `toml:"request_timeout"`
	SubscribeBuffer   int      `toml:"subscribe_buffer"` // bytes, minimum 4 MiB
	MaxConcurrentReqs int      `toml:"max_concurrent_requests"`
	TCPNoDelay        bool     `toml:"tcp_no_delay"`
	PingInterval      duration `toml:"ping_interval"`
	ConnectRetries    int      `toml:"connect_retries"` // bounded startup retry, default 10 attempts x 1s
	ConnectRetryDelay duration `toml:"connect_retry_delay"`
}

// RunConfig holds the parameters of one load-test run.
type RunConfig struct {
	Chain              string   `toml:"chain"`   // "polkadot" or "ethereum"
	TPSTarget          int      `toml:"tps"`     // required, target TPS
	TotalSenders       int      `toml:"total_senders"` // 0 -> derive from tps/batch
	Batch              int      `toml:"batch"`   // 1 = single transfers
	SenderSeed         string   `toml:"sender_seed"`
	ReceiverSeed       string   `toml:"receiver_seed"`
	Duration           duration `toml:"duration"`            // 0 = no duration limit (wall_clock_cap, early-stop, expected_total still apply)
	WallClockCap       duration `toml:"wall_clock_cap"`      // default 5m
	ExpectedTotal      uint64   `toml:"expected_total"`      // 0 = unbounded run
	KeepAlive          bool     `toml:"keep_alive"`          // park after the run stops
	RampSlotMs         int      `toml:"ramp_slot_ms"`        // default 10
	RetryThrottleMs    int      `toml:"retry_throttle_ms"`   // default 10
	BacklogThreshold   uint64   `toml:"backlog_threshold"`   // default 100000
	TxKind             string   `toml:"tx_kind"`             // "transfer", "nft", "marketplace"
	MarketplaceSide    string   `toml:"marketplace_side"`    // "ask" or "bid", marketplace kind only
	SidecarPath        string   `toml:"sidecar_path"`        // optional persisted JSON sidecar
}

// AccountsConfig controls account derivation and optional sidecar-driven
// sizing.
type AccountsConfig struct {
	SidecarPath string `toml:"sidecar_path"` // JSON [address,balance] list; used for n_accounts when Run.TotalSenders is 0
}

// BuilderConfig holds transaction-builder parameters; the transfer
// amount is configurable, not hardcoded.
type BuilderConfig struct {
	TransferAmount uint64 `toml:"transfer_amount"`

	// FeeSignerSeed derives the designated fee signer whose off-chain
	// signature marketplace orders carry. Only used when tx_kind is
	// "marketplace".
	FeeSignerSeed string `toml:"fee_signer_seed"`
}

// DecoderConfig holds measurement-engine tuning.
type DecoderConfig struct {
	WindowSize         int     `toml:"window_size"`           // default 12
	EarlyStopFraction  float64 `toml:"early_stop_fraction"`   // default 0.25; stop once window TPS < tps_target*this
	DefaultBlockTimeMs uint64  `toml:"default_block_time_ms"` // default 6000, used on the first block
}

// SeederConfig controls the optional one-shot pre-funding step.
type SeederConfig struct {
	Enabled    bool   `toml:"enabled"`
	FaucetSeed string `toml:"faucet_seed"`
	MinBalance uint64 `toml:"min_balance"`
}

// RedisConfig holds connection parameters for the optional Redis sample
// sink.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Stream     string `toml:"stream"`
}

// PostgresConfig holds connection parameters for the optional run
// archiver.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the
// optional sidecar uploader.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the system's operational
// defaults; a loaded TOML file and STPS_* overrides are merged on top.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			URL:               "ws://127.0.0.1:9944",
			ConnectTimeout:    duration{10 * time.Second},
			RequestTimeout:    duration{time.Hour},
			SubscribeBuffer:   4 * 1024 * 1024,
			MaxConcurrentReqs: 1_000_000,
			TCPNoDelay:        true,
			PingInterval:      duration{30 * time.Second},
			ConnectRetries:    10,
			ConnectRetryDelay: duration{time.Second},
		},
		Run: RunConfig{
			Chain:            "polkadot",
			Batch:            1,
			SenderSeed:       "//Sender",
			ReceiverSeed:     "//Receiver",
			WallClockCap:     duration{5 * time.Minute},
			RampSlotMs:       10,
			RetryThrottleMs:  10,
			BacklogThreshold: 100_000,
			TxKind:           "transfer",
			MarketplaceSide:  "ask",
		},
		Builder: BuilderConfig{
			TransferAmount: 1,
			FeeSignerSeed:  "//FeeSigner",
		},
		Decoder: DecoderConfig{
			WindowSize:         12,
			EarlyStopFraction:  0.25,
			DefaultBlockTimeMs: 6000,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Stream:     "stps:samples",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "stps",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "stps-runs",
			ForcePathStyle: true,
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":  true, // bootstrap, derive accounts, load-test, measure
	"seed": true, // one-shot pre-funding only
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"error": true, "warn": true, "info": true, "debug": true, "trace": true,
}

var validChains = map[string]bool{
	"polkadot": true, "ethereum": true,
}

var validTxKinds = map[string]bool{
	"transfer": true, "nft": true, "marketplace": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found. Configuration
// errors are fatal at start and never retried.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, seed)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: error, warn, info, debug, trace)", c.LogLevel))
	}

	if c.Node.URL == "" {
		errs = append(errs, "node: url must not be empty")
	}
	if c.Node.SubscribeBuffer < 4*1024*1024 {
		errs = append(errs, "node: subscribe_buffer must be >= 4 MiB")
	}
	if c.Node.MaxConcurrentReqs < 1 {
		errs = append(errs, "node: max_concurrent_requests must be >= 1")
	}

	if !validChains[strings.ToLower(c.Run.Chain)] {
		errs = append(errs, fmt.Sprintf("run: unknown chain %q (valid: polkadot, ethereum)", c.Run.Chain))
	}
	if !validTxKinds[strings.ToLower(c.Run.TxKind)] {
		errs = append(errs, fmt.Sprintf("run: unknown tx_kind %q (valid: transfer, nft, marketplace)", c.Run.TxKind))
	}
	if c.Run.TPSTarget <= 0 {
		errs = append(errs, "run: tps must be > 0")
	}
	if c.Run.Batch < 1 {
		errs = append(errs, "run: batch must be >= 1")
	}
	// A batch larger than the target rate can never be scheduled.
	if c.Run.Batch > 1 && c.Run.TPSTarget < c.Run.Batch {
		errs = append(errs, fmt.Sprintf("run: tps (%d) must be >= batch (%d)", c.Run.TPSTarget, c.Run.Batch))
	}
	if c.Run.SenderSeed == "" {
		errs = append(errs, "run: sender_seed must not be empty")
	}
	if c.Run.ReceiverSeed == "" {
		errs = append(errs, "run: receiver_seed must not be empty")
	}
	if c.Run.SenderSeed == c.Run.ReceiverSeed {
		errs = append(errs, "run: sender_seed and receiver_seed must differ")
	}
	if c.Run.RampSlotMs < 0 {
		errs = append(errs, "run: ramp_slot_ms must be >= 0")
	}
	if c.Run.RetryThrottleMs < 0 {
		errs = append(errs, "run: retry_throttle_ms must be >= 0")
	}
	if c.Run.BacklogThreshold == 0 {
		errs = append(errs, "run: backlog_threshold must be > 0")
	}

	if c.Builder.TransferAmount == 0 {
		errs = append(errs, "builder: transfer_amount must be > 0")
	}

	if strings.ToLower(c.Run.TxKind) == "marketplace" {
		if c.Run.MarketplaceSide != "ask" && c.Run.MarketplaceSide != "bid" {
			errs = append(errs, fmt.Sprintf("run: unknown marketplace_side %q (valid: ask, bid)", c.Run.MarketplaceSide))
		}
		if c.Builder.FeeSignerSeed == "" {
			errs = append(errs, "builder: fee_signer_seed must be set for the marketplace kind")
		}
		if c.Builder.FeeSignerSeed == c.Run.SenderSeed || c.Builder.FeeSignerSeed == c.Run.ReceiverSeed {
			errs = append(errs, "builder: fee_signer_seed must differ from sender and receiver seeds")
		}
	}

	if c.Decoder.WindowSize < 1 {
		errs = append(errs, "decoder: window_size must be >= 1")
	}
	if c.Decoder.EarlyStopFraction <= 0 || c.Decoder.EarlyStopFraction >= 1 {
		errs = append(errs, "decoder: early_stop_fraction must be in (0, 1)")
	}
	if c.Decoder.DefaultBlockTimeMs == 0 {
		errs = append(errs, "decoder: default_block_time_ms must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.Stream == "" {
			errs = append(errs, "redis: stream must not be empty when enabled")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Seeder.Enabled && c.Seeder.FaucetSeed == "" {
		errs = append(errs, "seeder: faucet_seed must be set when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Workers reports the number of sender workers the run should launch:
// TotalSenders if explicitly set, else tps/batch when batching, else
// tps.
func (c *Config) Workers() int {
	if c.Run.TotalSenders > 0 {
		return c.Run.TotalSenders
	}
	if c.Run.Batch > 1 {
		return c.Run.TPSTarget / c.Run.Batch
	}
	return c.Run.TPSTarget
}
