// Package config loads the settlement layer configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies the settlement instance and its privileged
// accounts.
type InstanceConfig struct {
	ID                   string   `yaml:"id" env:"INSTANCE_ID"`
	Treasury             string   `yaml:"treasury" env:"TREASURY_ADDRESS"`
	StakeRegistry        string   `yaml:"stake_registry" env:"STAKE_REGISTRY_ADDRESS"`
	Admin                string   `yaml:"admin" env:"ADMIN_ADDRESS"`
	BaseReward           int64    `yaml:"base_reward" env:"BASE_REWARD"`
	EraThreshold         int64    `yaml:"era_threshold" env:"ERA_THRESHOLD"`
	ProposalDelaySeconds int64    `yaml:"proposal_delay_seconds" env:"PROPOSAL_DELAY_SECONDS"`
	AllowedAssets        []string `yaml:"allowed_assets"`
}

// ProposalDelay returns the reward-proposal delay as a duration.
func (c InstanceConfig) ProposalDelay() time.Duration {
	return time.Duration(c.ProposalDelaySeconds) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string `yaml:"addr" env:"SERVER_ADDR"`
	RequestsPerSecond int    `yaml:"requests_per_second" env:"SERVER_RPS"`
	Burst             int    `yaml:"burst" env:"SERVER_BURST"`
}

// DatabaseConfig configures persistence. An empty DSN selects the in-memory
// store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

// LoggingConfig configures the shared logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("instance.id is required")
	}
	if c.Instance.BaseReward <= 0 {
		return fmt.Errorf("instance.base_reward must be positive")
	}
	if c.Instance.EraThreshold <= 0 {
		return fmt.Errorf("instance.era_threshold must be positive")
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestsPerSecond <= 0 {
		c.Server.RequestsPerSecond = 50
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = c.Server.RequestsPerSecond * 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}
