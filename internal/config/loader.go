package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STPS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing): local
	// development secrets such as seed phrases and node URLs.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STPS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// -- Node --
	setStr(&cfg.Node.URL, "STPS_NODE_URL")
	setDuration(&cfg.Node.ConnectTimeout, "STPS_NODE_CONNECT_TIMEOUT")
	setDuration(&cfg.Node.RequestTimeout, "STPS_NODE_REQUEST_TIMEOUT")
	setInt(&cfg.Node.SubscribeBuffer, "STPS_NODE_SUBSCRIBE_BUFFER")
	setInt(&cfg.Node.MaxConcurrentReqs, "STPS_NODE_MAX_CONCURRENT_REQUESTS")
	setBool(&cfg.Node.TCPNoDelay, "STPS_NODE_TCP_NODELAY")
	setDuration(&cfg.Node.PingInterval, "STPS_NODE_PING_INTERVAL")
	setInt(&cfg.Node.ConnectRetries, "STPS_NODE_CONNECT_RETRIES")
	setDuration(&cfg.Node.ConnectRetryDelay, "STPS_NODE_CONNECT_RETRY_DELAY")

	// -- Run --
	setStr(&cfg.Run.Chain, "STPS_RUN_CHAIN")
	setInt(&cfg.Run.TPSTarget, "STPS_RUN_TPS")
	setInt(&cfg.Run.TotalSenders, "STPS_RUN_TOTAL_SENDERS")
	setInt(&cfg.Run.Batch, "STPS_RUN_BATCH")
	setStr(&cfg.Run.SenderSeed, "STPS_RUN_SENDER_SEED")
	setStr(&cfg.Run.ReceiverSeed, "STPS_RUN_RECEIVER_SEED")
	setDuration(&cfg.Run.Duration, "STPS_RUN_DURATION")
	setDuration(&cfg.Run.WallClockCap, "STPS_RUN_WALL_CLOCK_CAP")
	setUint64(&cfg.Run.ExpectedTotal, "STPS_RUN_EXPECTED_TOTAL")
	setBool(&cfg.Run.KeepAlive, "STPS_RUN_KEEP_ALIVE")
	setInt(&cfg.Run.RampSlotMs, "STPS_RUN_RAMP_SLOT_MS")
	setInt(&cfg.Run.RetryThrottleMs, "STPS_RUN_RETRY_THROTTLE_MS")
	setUint64(&cfg.Run.BacklogThreshold, "STPS_RUN_BACKLOG_THRESHOLD")
	setStr(&cfg.Run.TxKind, "STPS_RUN_TX_KIND")
	setStr(&cfg.Run.MarketplaceSide, "STPS_RUN_MARKETPLACE_SIDE")
	setStr(&cfg.Run.SidecarPath, "STPS_RUN_SIDECAR_PATH")

	// -- Accounts --
	setStr(&cfg.Accounts.SidecarPath, "STPS_ACCOUNTS_SIDECAR_PATH")

	// -- Builder --
	setUint64(&cfg.Builder.TransferAmount, "STPS_BUILDER_TRANSFER_AMOUNT")
	setStr(&cfg.Builder.FeeSignerSeed, "STPS_BUILDER_FEE_SIGNER_SEED")

	// -- Decoder --
	setInt(&cfg.Decoder.WindowSize, "STPS_DECODER_WINDOW_SIZE")
	setFloat64(&cfg.Decoder.EarlyStopFraction, "STPS_DECODER_EARLY_STOP_FRACTION")
	setUint64(&cfg.Decoder.DefaultBlockTimeMs, "STPS_DECODER_DEFAULT_BLOCK_TIME_MS")

	// -- Seeder --
	setBool(&cfg.Seeder.Enabled, "STPS_SEEDER_ENABLED")
	setStr(&cfg.Seeder.FaucetSeed, "STPS_SEEDER_FAUCET_SEED")
	setUint64(&cfg.Seeder.MinBalance, "STPS_SEEDER_MIN_BALANCE")

	// -- Redis --
	setBool(&cfg.Redis.Enabled, "STPS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STPS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STPS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STPS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STPS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STPS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STPS_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Stream, "STPS_REDIS_STREAM")

	// -- Postgres --
	setBool(&cfg.Postgres.Enabled, "STPS_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "STPS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "STPS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STPS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STPS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STPS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STPS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STPS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STPS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STPS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STPS_POSTGRES_RUN_MIGRATIONS")

	// -- S3 --
	setBool(&cfg.S3.Enabled, "STPS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STPS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STPS_S3_REGION")
	setStr(&cfg.S3.Bucket, "STPS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STPS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STPS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STPS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STPS_S3_FORCE_PATH_STYLE")

	// -- Top-level --
	setStr(&cfg.Mode, "STPS_MODE")
	setStr(&cfg.LogLevel, "STPS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
