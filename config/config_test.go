package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8545" {
		t.Fatalf("default listen address: %q", cfg.ListenAddress)
	}
	if cfg.DataDir != "./crowdvault-data" {
		t.Fatalf("default data dir: %q", cfg.DataDir)
	}
	if cfg.Env != "local" {
		t.Fatalf("default env: %q", cfg.Env)
	}
	if cfg.DefaultDisputeSeconds != 3*24*60*60 {
		t.Fatalf("default dispute seconds: %d", cfg.DefaultDisputeSeconds)
	}
	if cfg.RefundDisputeGate {
		t.Fatalf("refund dispute gate should default to off")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file should exist: %v", err)
	}

	// The generated file round-trips.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := "ListenAddress = \":9000\"\nRefundDisputeGate = true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("explicit listen address lost: %q", cfg.ListenAddress)
	}
	if !cfg.RefundDisputeGate {
		t.Fatalf("explicit refund gate lost")
	}
	if cfg.DataDir != "./crowdvault-data" || cfg.RateLimitBurst != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"negative dispute seconds", "DefaultDisputeSeconds = -1\n"},
		{"negative rate limit", "RateLimitPerMinute = -5.0\n"},
		{"malformed toml", "ListenAddress = [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.contents), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
