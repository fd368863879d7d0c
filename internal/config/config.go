// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	Version string `toml:"version"`

	// Server configuration
	Server ServerConfig `toml:"server"`

	// Generation backend configuration
	Backend BackendConfig `toml:"backend"`

	// Streaming tunables
	Stream StreamConfig `toml:"stream"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// Personas participating in every group turn
	Personas []model.Persona `toml:"personas"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the host:port the server binds to.
	ListenAddr string `toml:"listen_addr"`
	// RateLimitPerSec caps requests per second per server instance.
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	// RateLimitBurst is the rate limiter burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`
}

// BackendConfig contains generation backend configuration.
type BackendConfig struct {
	// URL is the base URL of an OpenAI-compatible completions API.
	URL string `toml:"url"`
	// APIKey authenticates against the backend. Empty for local backends.
	APIKey string `toml:"api_key"`
	// Model is the default model; personas may override it.
	Model string `toml:"model"`
}

// StreamConfig contains incremental-delivery tunables.
type StreamConfig struct {
	// PieceSize is the rune count per streamed piece.
	PieceSize int `toml:"piece_size"`
	// PaceDelayMs is the pause between pieces, in milliseconds.
	PaceDelayMs int `toml:"pace_delay_ms"`
	// LivenessIntervalSecs is the client watchdog check interval.
	LivenessIntervalSecs int `toml:"liveness_interval_secs"`
}

// PaceDelay returns the pacing delay as a duration.
func (s StreamConfig) PaceDelay() time.Duration {
	return time.Duration(s.PaceDelayMs) * time.Millisecond
}

// LivenessInterval returns the watchdog interval as a duration.
func (s StreamConfig) LivenessInterval() time.Duration {
	return time.Duration(s.LivenessIntervalSecs) * time.Second
}

// StorageConfig contains durable store configuration.
type StorageConfig struct {
	// DBPath is the SQLite database path. Empty means ~/.parley/parley.db.
	DBPath string `toml:"db_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration with two stock
// personas, so a fresh install has a working group chat.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8989",
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
		},
		Backend: BackendConfig{
			URL:   "http://localhost:11434/v1",
			Model: "llama3.1:8b",
		},
		Stream: StreamConfig{
			PieceSize:            24,
			PaceDelayMs:          30,
			LivenessIntervalSecs: 30,
		},
		Storage: StorageConfig{},
		Personas: []model.Persona{
			{
				ID:           "analyst",
				Name:         "Analyst",
				SystemPrompt: "You are a careful analyst. Answer concisely with evidence.",
			},
			{
				ID:           "skeptic",
				Name:         "Skeptic",
				SystemPrompt: "You challenge assumptions and point out weaknesses in answers.",
			},
		},
	}
}

// DefaultPath returns the default config file path (~/.parley/config.toml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".parley", "config.toml")
}

// DefaultDBPath returns the default store path (~/.parley/parley.db).
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.db"
	}
	return filepath.Join(home, ".parley", "parley.db")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies PARLEY_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("PARLEY_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("PARLEY_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("PARLEY_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("PARLEY_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend.url must not be empty")
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr must not be empty")
	}
	if c.Stream.PieceSize < 1 {
		return fmt.Errorf("stream.piece_size must be >= 1, got %d", c.Stream.PieceSize)
	}
	if c.Stream.PaceDelayMs < 0 {
		return fmt.Errorf("stream.pace_delay_ms must be >= 0, got %d", c.Stream.PaceDelayMs)
	}
	if len(c.Personas) == 0 {
		return errors.New("at least one persona must be configured")
	}

	seen := make(map[string]bool, len(c.Personas))
	for i := range c.Personas {
		p := &c.Personas[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("persona %d: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate persona id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// DBPath returns the effective store path.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return DefaultDBPath()
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path atomically with owner-only
// permissions (the backend API key lives in this file).
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
