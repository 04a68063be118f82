package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon's service configuration. The dispute window itself
// lives in chain state (the SystemConfig record); DefaultDisputeSeconds only
// seeds InitiateContract when bootstrapping a fresh store.
type Config struct {
	ListenAddress         string  `toml:"ListenAddress"`
	DataDir               string  `toml:"DataDir"`
	Env                   string  `toml:"Env"`
	DefaultDisputeSeconds int64   `toml:"DefaultDisputeSeconds"`
	RefundDisputeGate     bool    `toml:"RefundDisputeGate"`
	RateLimitPerMinute    float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst        int     `toml:"RateLimitBurst"`
	WebhookURL            string  `toml:"WebhookURL"`
	WebhookSecret         string  `toml:"WebhookSecret"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./crowdvault-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.DefaultDisputeSeconds == 0 {
		cfg.DefaultDisputeSeconds = 3 * 24 * 60 * 60
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 600
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
}

func validate(cfg *Config) error {
	if cfg.DefaultDisputeSeconds < 0 {
		return fmt.Errorf("config: DefaultDisputeSeconds must be non-negative")
	}
	if cfg.RateLimitPerMinute < 0 || cfg.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limit settings must be non-negative")
	}
	if strings.TrimSpace(cfg.WebhookURL) != "" && strings.TrimSpace(cfg.WebhookSecret) == "" {
		return fmt.Errorf("config: WebhookSecret is required when WebhookURL is set")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
