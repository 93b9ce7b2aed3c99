package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesTomlOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
mode = "run"
log_level = "debug"

[run]
chain = "ethereum"
tps = 500
sender_seed = "//Sender"
receiver_seed = "//Receiver"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.Chain != "ethereum" {
		t.Fatalf("Run.Chain = %q, want ethereum", cfg.Run.Chain)
	}
	if cfg.Run.TPSTarget != 500 {
		t.Fatalf("Run.TPSTarget = %d, want 500", cfg.Run.TPSTarget)
	}
	// Defaults not overridden by the file must survive the merge.
	if cfg.Node.URL != "ws://127.0.0.1:9944" {
		t.Fatalf("Node.URL = %q, want default", cfg.Node.URL)
	}
}

func TestApplyEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("STPS_RUN_CHAIN", "ethereum")
	t.Setenv("STPS_RUN_TPS", "321")
	t.Setenv("STPS_REDIS_ENABLED", "true")

	cfg := Defaults()
	cfg.Run.Chain = "polkadot"
	applyEnvOverrides(&cfg)

	if cfg.Run.Chain != "ethereum" {
		t.Fatalf("Run.Chain = %q, want ethereum (env override)", cfg.Run.Chain)
	}
	if cfg.Run.TPSTarget != 321 {
		t.Fatalf("Run.TPSTarget = %d, want 321", cfg.Run.TPSTarget)
	}
	if !cfg.Redis.Enabled {
		t.Fatal("Redis.Enabled should be true from env override")
	}
}

func TestApplyEnvOverridesIgnoreEmptyValues(t *testing.T) {
	cfg := Defaults()
	cfg.Run.Chain = "polkadot"
	applyEnvOverrides(&cfg)
	if cfg.Run.Chain != "polkadot" {
		t.Fatalf("Run.Chain = %q, want unchanged default", cfg.Run.Chain)
	}
}
