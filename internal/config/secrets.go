package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging or
// printing the active configuration so seed phrases and credentials are
// never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Run = cfg.Run
	redact(&out.Run.SenderSeed)
	redact(&out.Run.ReceiverSeed)

	out.Builder = cfg.Builder
	redact(&out.Builder.FeeSignerSeed)

	out.Seeder = cfg.Seeder
	redact(&out.Seeder.FaucetSeed)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
