// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// UpstreamConfig contains the chat completions provider configuration.
type UpstreamConfig struct {
	// URL is the full chat completions endpoint.
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	// WallTimeout bounds a whole upstream exchange; IdleTimeout bounds the
	// gap between upstream reads.
	WallTimeout time.Duration `yaml:"wall_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// StrictDecode aborts a stream on the first malformed upstream chunk.
	StrictDecode bool `yaml:"strict_decode"`
}

// StorageConfig contains the context store configuration.
type StorageConfig struct {
	// DatabaseURL selects the backend by scheme: "sqlite://", "postgres://"
	// or "memory://".
	DatabaseURL string `yaml:"database_url"`
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Load loads configuration from a YAML file, then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration built from environment variables and
// defaults alone.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = "http://localhost:11434/v1/chat/completions"
	}
	if cfg.Upstream.WallTimeout == 0 {
		cfg.Upstream.WallTimeout = 600 * time.Second
	}
	if cfg.Upstream.IdleTimeout == 0 {
		cfg.Upstream.IdleTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = "sqlite://ors_proxy.db?mode=rwc"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
