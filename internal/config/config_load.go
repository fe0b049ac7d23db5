package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults: a local gateway and a
// single primary agent so a bare `clawdash watch` does something useful.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL: "ws://127.0.0.1:18790/ws",
		},
		Agents: []AgentSpec{
			{ID: "main", DisplayName: "Main", Primary: true},
		},
		Feed: FeedConfig{
			MaxEntries:   100,
			MinTextRunes: 3,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)

	if cfg.Gateway.URL == "" {
		return nil, fmt.Errorf("config: gateway.url is required")
	}
	if cfg.Feed.MaxEntries <= 0 {
		cfg.Feed.MaxEntries = 100
	}
	if cfg.Feed.MinTextRunes <= 0 {
		cfg.Feed.MinTextRunes = 3
	}
	return cfg, nil
}

// applyEnv overlays environment variables. The token is env-only so it never
// round-trips through a config file on disk.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CLAWDASH_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("CLAWDASH_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
}
