// Package config provides configuration management for lightup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// LightupDir is the lightup configuration directory
	LightupDir = ".lightup"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AuthToken, when set, requires a Bearer token on every API call.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// DatabaseConfig holds the sqlite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig holds the agent runtime settings.
type AgentConfig struct {
	// RuntimeURL is the base URL of the agent runtime HTTP API.
	RuntimeURL string `yaml:"runtime_url"`

	// Concurrency seeds the ai_concurrency setting on first run. The
	// runtime value lives in the database and can be changed via the API.
	Concurrency int `yaml:"concurrency"`

	// QueueInterval is how often the dispatch queue looks for queued cards.
	QueueInterval time.Duration `yaml:"queue_interval"`
}

// GitConfig holds the git and pull-request tooling settings.
type GitConfig struct {
	// PRTool is the CLI used to open pull requests (default: gh).
	PRTool string `yaml:"pr_tool"`
}

// Config represents the lightup configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Agent    AgentConfig    `yaml:"agent"`
	Git      GitConfig      `yaml:"git"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(LightupDir, "lightup.db"),
		},
		Agent: AgentConfig{
			RuntimeURL:    "http://127.0.0.1:4096",
			Concurrency:   1,
			QueueInterval: 3 * time.Second,
		},
		Git: GitConfig{
			PRTool: "gh",
		},
		LogLevel: "info",
	}
}

// Load loads the config from the default location.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(LightupDir, ConfigFileName))
}

// LoadFrom loads the config from a specific path. A missing file yields
// the defaults; environment variables override either way.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a specific path, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Agent.RuntimeURL == "" {
		return fmt.Errorf("agent runtime_url is required")
	}
	if c.Agent.Concurrency < 1 {
		return fmt.Errorf("agent concurrency must be at least 1, got %d", c.Agent.Concurrency)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
